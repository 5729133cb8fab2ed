package discovery

import (
	"sync"

	"github.com/rs/zerolog"
)

type pinKey struct {
	model   string
	version int64
}

// pathPins remembers the artifact path first seen for each emitted version.
type pathPins struct {
	mu    sync.Mutex
	paths map[pinKey]string
}

func newPathPins() *pathPins {
	return &pathPins{paths: make(map[pinKey]string)}
}

// apply checks versions against remembered paths. With pin set a changed path
// is replaced by the remembered one; otherwise the new path wins and is
// remembered. Versions of model absent from the list are forgotten.
func (p *pathPins) apply(model string, versions []AspiredVersion, pin bool, log zerolog.Logger) []AspiredVersion {
	p.mu.Lock()
	defer p.mu.Unlock()

	present := make(map[int64]struct{}, len(versions))
	for i := range versions {
		v := &versions[i]
		key := pinKey{model: model, version: v.Version}
		present[v.Version] = struct{}{}
		prev, ok := p.paths[key]
		if !ok || prev == v.ArtifactPath {
			p.paths[key] = v.ArtifactPath
			continue
		}
		if pin {
			log.Warn().Str("model", model).Int64("version", v.Version).
				Str("pinned", prev).Str("observed", v.ArtifactPath).
				Msg("artifact path changed, keeping pinned path")
			v.ArtifactPath = prev
			continue
		}
		log.Warn().Str("model", model).Int64("version", v.Version).
			Str("previous", prev).Str("observed", v.ArtifactPath).
			Msg("artifact path changed")
		p.paths[key] = v.ArtifactPath
	}
	for key := range p.paths {
		if key.model != model {
			continue
		}
		if _, ok := present[key.version]; !ok {
			delete(p.paths, key)
		}
	}
	return versions
}

func (p *pathPins) dropModel(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key := range p.paths {
		if key.model == model {
			delete(p.paths, key)
		}
	}
}
