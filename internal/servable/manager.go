package servable

import (
	"context"
	"sort"
	"sync"

	"github.com/kimbyungsang/cranberries/internal/discovery"
	"github.com/kimbyungsang/cranberries/internal/logging"
	"github.com/rs/zerolog"
)

type entry struct {
	state        State
	artifactPath string
	err          error
	// retry marks a failed load for another attempt on the next diff.
	retry bool
}

// Manager keeps the latest aspired list per model and drives servables
// toward it, publishing every state transition on the bus.
type Manager struct {
	loader Loader
	bus    *Bus[Event]
	log    zerolog.Logger

	mu      sync.Mutex
	aspired map[string][]discovery.AspiredVersion
	loaded  map[ID]*entry
	wake    chan struct{}
}

func NewManager(loader Loader, bus *Bus[Event]) *Manager {
	if loader == nil {
		loader = NoopLoader{}
	}
	return &Manager{
		loader:  loader,
		bus:     bus,
		log:     logging.Component("servable.Manager"),
		aspired: make(map[string][]discovery.AspiredVersion),
		loaded:  make(map[ID]*entry),
		wake:    make(chan struct{}, 1),
	}
}

// SetAspiredVersions replaces the aspired list for model. It matches
// discovery.Callback and never blocks on loading.
func (m *Manager) SetAspiredVersions(model string, versions []discovery.AspiredVersion) {
	m.mu.Lock()
	if len(versions) == 0 {
		delete(m.aspired, model)
	} else {
		m.aspired[model] = append([]discovery.AspiredVersion(nil), versions...)
	}
	for id, e := range m.loaded {
		if id.Name == model && e.state == StateEnd && e.err != nil {
			e.retry = true
		}
	}
	m.mu.Unlock()

	m.log.Debug().Str("model", model).Int("versions", len(versions)).Msg("aspired versions updated")
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run reconciles whenever the aspired set changes, until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.wake:
			m.Reconcile(ctx)
		}
	}
}

// Reconcile loads aspired servables that are not loaded and unloads loaded
// ones that are no longer aspired.
func (m *Manager) Reconcile(ctx context.Context) {
	toLoad, toUnload := m.diff()
	for _, id := range toUnload {
		m.unload(ctx, id)
	}
	for _, av := range toLoad {
		m.load(ctx, av)
	}
}

func (m *Manager) diff() ([]discovery.AspiredVersion, []ID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[ID]discovery.AspiredVersion)
	for _, versions := range m.aspired {
		for _, av := range versions {
			want[ID{Name: av.Model, Version: av.Version}] = av
		}
	}

	var toLoad []discovery.AspiredVersion
	for id, av := range want {
		e, ok := m.loaded[id]
		switch {
		case !ok:
			toLoad = append(toLoad, av)
		case e.state == StateEnd && (e.retry || e.artifactPath != av.ArtifactPath):
			// Failed load with a fresh emission or a new artifact path.
			delete(m.loaded, id)
			toLoad = append(toLoad, av)
		}
	}
	var toUnload []ID
	for id, e := range m.loaded {
		if _, ok := want[id]; ok {
			continue
		}
		switch e.state {
		case StateAvailable:
			toUnload = append(toUnload, id)
		case StateEnd:
			// Failed load that is no longer aspired.
			delete(m.loaded, id)
		}
	}
	sort.Slice(toLoad, func(i, j int) bool {
		if toLoad[i].Model != toLoad[j].Model {
			return toLoad[i].Model < toLoad[j].Model
		}
		return toLoad[i].Version < toLoad[j].Version
	})
	sort.Slice(toUnload, func(i, j int) bool { return toUnload[i].String() < toUnload[j].String() })
	return toLoad, toUnload
}

func (m *Manager) load(ctx context.Context, av discovery.AspiredVersion) {
	id := ID{Name: av.Model, Version: av.Version}
	m.transition(id, StateStart, av.ArtifactPath, nil)
	m.transition(id, StateLoading, av.ArtifactPath, nil)

	if err := m.loader.Load(ctx, id, av.ArtifactPath); err != nil {
		m.log.Warn().Err(err).Str("servable", id.String()).Str("artifact_path", av.ArtifactPath).Msg("load failed")
		m.transition(id, StateEnd, av.ArtifactPath, err)
		return
	}
	m.log.Info().Str("servable", id.String()).Str("artifact_path", av.ArtifactPath).Msg("servable available")
	m.transition(id, StateAvailable, av.ArtifactPath, nil)
}

func (m *Manager) unload(ctx context.Context, id ID) {
	m.transition(id, StateUnloading, "", nil)
	if err := m.loader.Unload(ctx, id); err != nil {
		m.log.Warn().Err(err).Str("servable", id.String()).Msg("unload failed")
	}
	m.log.Info().Str("servable", id.String()).Msg("servable unloaded")
	m.transition(id, StateEnd, "", nil)
}

// transition records state for id and publishes it. End removes the record
// unless a load error needs to stay visible in snapshots.
func (m *Manager) transition(id ID, state State, artifactPath string, err error) {
	m.mu.Lock()
	e, ok := m.loaded[id]
	if !ok {
		e = &entry{}
		m.loaded[id] = e
	}
	e.state = state
	if artifactPath != "" {
		e.artifactPath = artifactPath
	}
	e.err = err
	e.retry = false
	if state == StateEnd && err == nil {
		delete(m.loaded, id)
	}
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(Event{ID: id, State: state})
	}
}

// Snapshot lists every tracked servable ordered by model then version.
func (m *Manager) Snapshot() []Status {
	m.mu.Lock()
	out := make([]Status, 0, len(m.loaded))
	for id, e := range m.loaded {
		st := Status{
			ID:           id,
			Model:        id.Name,
			Version:      id.Version,
			State:        e.state.String(),
			ArtifactPath: e.artifactPath,
		}
		if e.err != nil {
			st.Error = e.err.Error()
		}
		out = append(out, st)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Model != out[j].Model {
			return out[i].Model < out[j].Model
		}
		return out[i].Version < out[j].Version
	})
	return out
}
