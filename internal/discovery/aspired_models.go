package discovery

import (
	"github.com/go-zookeeper/zk"
	"github.com/kimbyungsang/cranberries/internal/coord"
	"github.com/kimbyungsang/cranberries/internal/observability"
)

// onAspiredModelsEvent handles root watch fires and every session transition.
func (e *Engine) onAspiredModelsEvent(ev coord.Event) {
	if !e.started() {
		return
	}
	if ev.IsSession() && ev.State == zk.StateHasSession {
		// Watches may not have survived the session change; re-walk every model.
		e.forgetAll()
	}
	e.reloadAspiredModels()
}

func (e *Engine) reloadAspiredModels() {
	if !e.enterRoot() {
		return
	}
	for {
		e.aspiredModelsPass()
		if !e.repeatRoot() {
			return
		}
	}
}

func (e *Engine) aspiredModelsPass() {
	observability.RecordReconcile("aspired_models")

	ok, err := e.client.Exists(AspiredModelsNode, e.aspiredModels)
	if err != nil {
		e.log.Warn().Err(err).Str("path", AspiredModelsNode).Msg("aspired models existence check failed")
		return
	}
	if !ok {
		e.log.Warn().Str("path", AspiredModelsNode).Msg("aspired models node does not exist")
		return
	}

	models, err := e.client.Children(AspiredModelsNode, e.aspiredModels)
	if err != nil {
		if coord.IsNotFound(err) {
			return
		}
		e.log.Warn().Err(err).Str("path", AspiredModelsNode).Msg("aspired models listing failed")
		return
	}
	e.log.Info().Int("models", len(models)).Msg("reloaded aspired models")

	for _, model := range e.track(models) {
		e.reloadModelVersions(model)
	}
}
