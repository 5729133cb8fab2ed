package coord

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-zookeeper/zk"
	"github.com/kimbyungsang/cranberries/internal/testutil/testlog"
)

func TestErrorMatchesSentinels(t *testing.T) {
	testlog.Start(t)
	err := fmt.Errorf("read model: %w", &Error{Op: "children", Path: "aspired-models/m", Kind: KindNotFound, Err: zk.ErrNoNode})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound match: %v", err)
	}
	if !errors.Is(err, zk.ErrNoNode) {
		t.Fatalf("expected wrapped zk error to remain visible: %v", err)
	}
	if errors.Is(err, ErrTransient) {
		t.Fatalf("not-found error must not match ErrTransient")
	}
	if !IsNotFound(err) || IsTransient(err) || IsNodeExists(err) {
		t.Fatalf("unexpected helper classification for %v", err)
	}
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Path != "aspired-models/m" {
		t.Fatalf("expected *Error with relative path, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		err  error
		kind Kind
	}{
		{err: zk.ErrNoNode, kind: KindNotFound},
		{err: zk.ErrNodeExists, kind: KindNodeExists},
		{err: zk.ErrConnectionClosed, kind: KindTransient},
		{err: zk.ErrSessionExpired, kind: KindTransient},
		{err: errors.New("boom"), kind: KindFatal},
	}
	for _, tc := range tests {
		if got := KindOf(tc.err); got != tc.kind {
			t.Fatalf("KindOf(%v) = %s, want %s", tc.err, got, tc.kind)
		}
	}
	if KindOf(nil) != 0 {
		t.Fatalf("nil error should have zero kind")
	}
}
