package discovery

import "github.com/kimbyungsang/cranberries/internal/coord"

// AspiredModelsNode is the base-relative root of the aspired namespace.
const AspiredModelsNode = "aspired-models"

// AspiredVersion is one version a model should serve, with the artifact path
// read from its node.
type AspiredVersion struct {
	Model        string
	Version      int64
	ArtifactPath string
}

// Callback receives the complete current list for a model. Each call replaces
// the previous list for that model.
type Callback func(model string, versions []AspiredVersion)

type Options struct {
	// PinArtifactPaths keeps the first path seen for a (model, version) until
	// that version leaves the emitted list. When false a changed path is
	// emitted with a warning.
	PinArtifactPaths bool
}

// Coordinator is the part of coord.Client the engine reads through.
type Coordinator interface {
	Exists(path string, w *coord.Watcher) (bool, error)
	Get(path string, w *coord.Watcher) ([]byte, error)
	Children(path string, w *coord.Watcher) ([]string, error)
	SetSessionWatcher(w *coord.Watcher)
}

var _ Coordinator = (*coord.Client)(nil)
