package discovery

import (
	"sort"
	"strconv"

	"github.com/kimbyungsang/cranberries/internal/coord"
	"github.com/kimbyungsang/cranberries/internal/observability"
)

func (e *Engine) onModelVersionsEvent(ev coord.Event) {
	if ev.IsSession() {
		return
	}
	e.reloadModelVersions(coord.LastSegment(ev.Path))
}

// reloadModelVersions reads one model's versions and emits the full list.
func (e *Engine) reloadModelVersions(model string) {
	if !e.enterModel(model) {
		return
	}
	for {
		e.modelVersionsPass(model)
		if !e.repeatModel(model) {
			return
		}
	}
}

func (e *Engine) modelVersionsPass(model string) {
	observability.RecordReconcile("model_versions")
	modelPath := coord.Join(AspiredModelsNode, model)

	children, err := e.client.Children(modelPath, e.modelVersions)
	if err != nil {
		// No watch was armed, so the model leaves the monitored set.
		e.forget(model)
		if coord.IsNotFound(err) {
			e.log.Debug().Str("model", model).Msg("model removed, no longer monitored")
			// An empty list tells the consumer to unload whatever it still serves.
			e.emit(model, nil)
			e.pins.dropModel(model)
			// A level-1 pass that read the model before this removal skipped it as
			// monitored; list the root again so a recreated model is picked up.
			e.reloadAspiredModels()
			return
		}
		e.log.Warn().Err(err).Str("model", model).Msg("model versions listing failed")
		return
	}

	versions := make([]AspiredVersion, 0, len(children))
	for _, child := range children {
		version, err := strconv.ParseInt(child, 10, 64)
		if err != nil || version < 0 {
			observability.RecordSkippedVersion("invalid_name")
			e.log.Warn().Str("model", model).Str("child", child).Msg("ignoring invalid version name")
			continue
		}
		data, err := e.client.Get(coord.Join(modelPath, child), e.versionData)
		if err != nil {
			observability.RecordSkippedVersion("read_error")
			if coord.IsNotFound(err) {
				e.log.Debug().Str("model", model).Int64("version", version).Msg("version removed during read")
			} else {
				e.log.Warn().Err(err).Str("model", model).Int64("version", version).Msg("version data read failed")
			}
			continue
		}
		if len(data) == 0 {
			observability.RecordSkippedVersion("empty_data")
			e.log.Info().Str("model", model).Int64("version", version).Msg("version path is empty")
			continue
		}
		e.log.Debug().Str("model", model).Int64("version", version).Str("artifact_path", string(data)).Msg("version located")
		versions = append(versions, AspiredVersion{Model: model, Version: version, ArtifactPath: string(data)})
	}
	sort.SliceStable(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	e.emit(model, versions)
}
