package servable

import (
	"context"
	"errors"
	"fmt"
	"os"
)

var ErrArtifactMissing = errors.New("servable: artifact path does not exist")

// Loader brings a servable's artifact in and out of memory.
type Loader interface {
	Load(ctx context.Context, id ID, artifactPath string) error
	Unload(ctx context.Context, id ID) error
}

// NoopLoader accepts every artifact without touching it.
type NoopLoader struct{}

func (NoopLoader) Load(context.Context, ID, string) error { return nil }
func (NoopLoader) Unload(context.Context, ID) error       { return nil }

// StatLoader accepts an artifact only if its path exists on the local filesystem.
type StatLoader struct{}

func (StatLoader) Load(ctx context.Context, id ID, artifactPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(artifactPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s (%s)", ErrArtifactMissing, artifactPath, id)
		}
		return fmt.Errorf("stat artifact %s: %w", artifactPath, err)
	}
	return nil
}

func (StatLoader) Unload(context.Context, ID) error { return nil }

// LoaderByName resolves the configured loader name.
func LoaderByName(name string) (Loader, error) {
	switch name {
	case "", "noop":
		return NoopLoader{}, nil
	case "stat":
		return StatLoader{}, nil
	default:
		return nil, fmt.Errorf("servable: unknown loader %q", name)
	}
}
