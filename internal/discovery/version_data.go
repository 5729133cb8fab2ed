package discovery

import (
	"github.com/kimbyungsang/cranberries/internal/coord"
	"github.com/kimbyungsang/cranberries/internal/observability"
)

// onVersionDataEvent re-runs level 2 for the model owning the changed version.
func (e *Engine) onVersionDataEvent(ev coord.Event) {
	if ev.IsSession() {
		return
	}
	observability.RecordReconcile("version_data")
	modelPath, ok := coord.Parent(ev.Path)
	if !ok {
		e.log.Warn().Str("path", ev.Path).Msg("version event without model path")
		return
	}
	e.reloadModelVersions(coord.LastSegment(modelPath))
}
