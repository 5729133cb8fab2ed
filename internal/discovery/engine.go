package discovery

import (
	"sort"
	"sync"

	"github.com/kimbyungsang/cranberries/internal/coord"
	"github.com/kimbyungsang/cranberries/internal/logging"
	"github.com/kimbyungsang/cranberries/internal/observability"
	"github.com/rs/zerolog"
)

const (
	aspiredModelsWatcherName = "aspired-models"
	modelVersionsWatcherName = "model-versions"
	versionDataWatcherName   = "version-data"
)

// runState coalesces triggers for one reconciliation target. A trigger that
// arrives while a pass is running makes the running pass go around once more.
type runState struct {
	running bool
	again   bool
}

// Engine reconciles the aspired-models subtree into Callback invocations.
type Engine struct {
	client Coordinator
	opts   Options
	log    zerolog.Logger

	aspiredModels *coord.Watcher
	modelVersions *coord.Watcher
	versionData   *coord.Watcher

	pins *pathPins

	mu        sync.Mutex
	monitored map[string]struct{}
	callback  Callback
	rootRun   runState
	modelRuns map[string]*runState
}

// NewEngine binds an engine to client and installs its session watcher.
// Nothing is read until Start.
func NewEngine(client Coordinator, opts Options) *Engine {
	e := &Engine{
		client:    client,
		opts:      opts,
		log:       logging.Component("discovery.Engine"),
		pins:      newPathPins(),
		monitored: make(map[string]struct{}),
		modelRuns: make(map[string]*runState),
	}
	e.aspiredModels = coord.NewWatcher(aspiredModelsWatcherName, e.onAspiredModelsEvent)
	e.modelVersions = coord.NewWatcher(modelVersionsWatcherName, e.onModelVersionsEvent)
	e.versionData = coord.NewWatcher(versionDataWatcherName, e.onVersionDataEvent)
	client.SetSessionWatcher(e.aspiredModels)
	return e
}

// Start registers the consumer and runs the first level-1 pass. Every model
// found is re-read, including ones seen before the consumer was set.
func (e *Engine) Start(cb Callback) {
	e.mu.Lock()
	e.callback = cb
	e.monitored = make(map[string]struct{})
	e.mu.Unlock()
	e.reloadAspiredModels()
}

// Reload runs a level-1 pass on demand. If one is already running it is
// repeated instead.
func (e *Engine) Reload() {
	e.reloadAspiredModels()
}

// Monitored returns the tracked model names in sorted order.
func (e *Engine) Monitored() []string {
	e.mu.Lock()
	out := make([]string, 0, len(e.monitored))
	for name := range e.monitored {
		out = append(out, name)
	}
	e.mu.Unlock()
	sort.Strings(out)
	return out
}

func (e *Engine) started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.callback != nil
}

// track adds the names not yet monitored and returns them.
func (e *Engine) track(names []string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var added []string
	for _, name := range names {
		if _, ok := e.monitored[name]; ok {
			continue
		}
		e.monitored[name] = struct{}{}
		added = append(added, name)
	}
	return added
}

func (e *Engine) forget(model string) {
	e.mu.Lock()
	delete(e.monitored, model)
	e.mu.Unlock()
}

func (e *Engine) forgetAll() {
	e.mu.Lock()
	e.monitored = make(map[string]struct{})
	e.mu.Unlock()
}

// enterRoot reports whether the caller owns the level-1 pass.
func (e *Engine) enterRoot() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return enter(&e.rootRun)
}

func (e *Engine) repeatRoot() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return repeat(&e.rootRun)
}

// enterModel reports whether the caller owns the level-2 pass for model.
func (e *Engine) enterModel(model string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.modelRuns[model]
	if !ok {
		run = &runState{}
		e.modelRuns[model] = run
	}
	return enter(run)
}

func (e *Engine) repeatModel(model string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	run := e.modelRuns[model]
	if repeat(run) {
		return true
	}
	delete(e.modelRuns, model)
	return false
}

func enter(run *runState) bool {
	if run.running {
		run.again = true
		return false
	}
	run.running = true
	return true
}

func repeat(run *runState) bool {
	if run.again {
		run.again = false
		return true
	}
	run.running = false
	return false
}

// emit hands a model's full list to the consumer. The lock is not held while
// the consumer runs.
func (e *Engine) emit(model string, versions []AspiredVersion) {
	e.mu.Lock()
	cb := e.callback
	e.mu.Unlock()
	if cb == nil {
		return
	}

	versions = e.pins.apply(model, versions, e.opts.PinArtifactPaths, e.log)
	observability.SetEmittedVersions(model, len(versions))
	e.log.Info().Str("model", model).Int("versions", len(versions)).Msg("aspiring versions")
	cb(model, versions)
}
