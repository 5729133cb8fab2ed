package coord

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-zookeeper/zk"
)

var (
	ErrNotFound   = errors.New("coord: node not found")
	ErrNodeExists = errors.New("coord: node already exists")
	ErrTransient  = errors.New("coord: transient connectivity error")
	ErrConnect    = errors.New("coord: unable to create zookeeper session")
	ErrNoHosts    = errors.New("coord: no zookeeper hosts configured")
)

// Kind classifies the outcome of one coordination call.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindNodeExists
	KindTransient
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindNodeExists:
		return "node_exists"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is the failed result of one call against a base-relative path.
type Error struct {
	Op   string
	Path string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("coord: %s %q (%s): %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrNodeExists:
		return e.Kind == KindNodeExists
	case ErrTransient:
		return e.Kind == KindTransient
	}
	return false
}

// KindOf reports the classification of err. A nil error has kind 0.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return classify(err)
}

func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

func IsNodeExists(err error) bool {
	return KindOf(err) == KindNodeExists
}

func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, zk.ErrNoNode):
		return KindNotFound
	case errors.Is(err, zk.ErrNodeExists):
		return KindNodeExists
	case errors.Is(err, zk.ErrConnectionClosed),
		errors.Is(err, zk.ErrSessionExpired),
		errors.Is(err, zk.ErrSessionMoved),
		errors.Is(err, zk.ErrClosing),
		errors.Is(err, zk.ErrNoServer),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	default:
		return KindFatal
	}
}
