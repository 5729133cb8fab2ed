package discovery

import (
	"fmt"
	"math/rand"
	"reflect"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/kimbyungsang/cranberries/internal/coord"
	"github.com/kimbyungsang/cranberries/internal/coord/coordtest"
	"github.com/kimbyungsang/cranberries/internal/testutil/testlog"
)

const (
	testBase = "/serving"
	rootPath = testBase + "/" + AspiredModelsNode
)

type feed struct {
	mu     sync.Mutex
	latest map[string][]AspiredVersion
	calls  map[string]int
}

func newFeed() *feed {
	return &feed{latest: make(map[string][]AspiredVersion), calls: make(map[string]int)}
}

func (f *feed) callback(model string, versions []AspiredVersion) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest[model] = append([]AspiredVersion(nil), versions...)
	f.calls[model]++
}

func (f *feed) list(model string) []AspiredVersion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest[model]
}

func (f *feed) count(model string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[model]
}

type harness struct {
	t      *testing.T
	srv    *coordtest.Server
	client *coord.Client
	engine *Engine
	feed   *feed
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	srv, client := coordtest.NewClient(t, testBase)
	return &harness{
		t:      t,
		srv:    srv,
		client: client,
		engine: NewEngine(client, opts),
		feed:   newFeed(),
	}
}

func (h *harness) start() {
	h.t.Helper()
	h.engine.Start(h.feed.callback)
	h.settle()
}

func (h *harness) settle() {
	h.t.Helper()
	coordtest.Settle(h.t, h.srv, h.client)
}

func (h *harness) expect(model string, want ...AspiredVersion) {
	h.t.Helper()
	got := h.feed.list(model)
	if len(want) == 0 && len(got) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		h.t.Fatalf("unexpected list for %s: got %+v want %+v", model, got, want)
	}
}

func av(model string, version int64, path string) AspiredVersion {
	return AspiredVersion{Model: model, Version: version, ArtifactPath: path}
}

func TestScenarioCreateFirstVersion(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})
	h.srv.Put(rootPath, "")
	h.start()

	h.srv.Put(rootPath+"/modelA/1", "/storage/a/1")
	h.settle()

	h.expect("modelA", av("modelA", 1, "/storage/a/1"))
}

func TestScenarioEmptyDataThenFilled(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})
	h.srv.Put(rootPath+"/modelA/1", "/storage/a/1")
	h.start()
	h.expect("modelA", av("modelA", 1, "/storage/a/1"))

	before := h.feed.count("modelA")
	h.srv.Put(rootPath+"/modelA/2", "")
	h.settle()
	if h.feed.count("modelA") <= before {
		t.Fatalf("expected a new emission after version 2 was created")
	}
	h.expect("modelA", av("modelA", 1, "/storage/a/1"))

	h.srv.SetData(rootPath+"/modelA/2", "/storage/a/2")
	h.settle()
	h.expect("modelA", av("modelA", 1, "/storage/a/1"), av("modelA", 2, "/storage/a/2"))
}

func TestScenarioRootDeletedAndRecreated(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})
	h.srv.Put(rootPath+"/modelA/1", "/storage/a/1")
	h.srv.Put(rootPath+"/modelA/2", "/storage/a/2")
	h.srv.Put(rootPath+"/modelB/7", "/storage/b/7")
	h.start()
	wantA := []AspiredVersion{av("modelA", 1, "/storage/a/1"), av("modelA", 2, "/storage/a/2")}
	wantB := []AspiredVersion{av("modelB", 7, "/storage/b/7")}
	h.expect("modelA", wantA...)
	h.expect("modelB", wantB...)

	h.srv.Remove(rootPath)
	h.settle()
	if got := h.engine.Monitored(); len(got) != 0 {
		t.Fatalf("expected no monitored models after root removal, got %v", got)
	}

	h.srv.Put(rootPath+"/modelA/1", "/storage/a/1")
	h.srv.Put(rootPath+"/modelA/2", "/storage/a/2")
	h.srv.Put(rootPath+"/modelB/7", "/storage/b/7")
	h.settle()

	h.expect("modelA", wantA...)
	h.expect("modelB", wantB...)
	if got := h.engine.Monitored(); !reflect.DeepEqual(got, []string{"modelA", "modelB"}) {
		t.Fatalf("unexpected monitored set: %v", got)
	}
}

func TestStartWithoutRootWaitsForCreation(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})
	h.start()
	if got := h.engine.Monitored(); len(got) != 0 {
		t.Fatalf("expected nothing monitored, got %v", got)
	}

	h.srv.Put(rootPath+"/m/3", "/storage/m/3")
	h.settle()
	h.expect("m", av("m", 3, "/storage/m/3"))
}

func TestReloadWithUnchangedTreeIsIdempotent(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})
	h.srv.Put(rootPath+"/m/1", "/storage/m/1")
	h.srv.Put(rootPath+"/m/2", "/storage/m/2")
	h.start()
	first := h.feed.list("m")

	for i := 0; i < 3; i++ {
		h.engine.reloadModelVersions("m")
	}
	h.settle()
	if !reflect.DeepEqual(h.feed.list("m"), first) {
		t.Fatalf("list changed without tree changes: %+v vs %+v", h.feed.list("m"), first)
	}

	reads := h.srv.Reads(rootPath + "/m")
	h.engine.Reload()
	h.settle()
	if got := h.srv.Reads(rootPath + "/m"); got != reads {
		t.Fatalf("monitored model should not be re-read from level 1, reads %d -> %d", reads, got)
	}
}

func TestInvalidVersionNamesAreSkipped(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})
	for _, name := range []string{"abc", "-1", "1.5", "0x10", "99999999999999999999", " 4", "v2"} {
		h.srv.Put(rootPath+"/m/"+name, "/storage/bad")
	}
	h.srv.Put(rootPath+"/m/0", "/storage/m/0")
	h.srv.Put(rootPath+"/m/12", "/storage/m/12")
	h.start()

	h.expect("m", av("m", 0, "/storage/m/0"), av("m", 12, "/storage/m/12"))
}

func TestVersionsAreSortedNumerically(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})
	h.srv.Put(rootPath+"/m/10", "/p/10")
	h.srv.Put(rootPath+"/m/9", "/p/9")
	h.srv.Put(rootPath+"/m/100", "/p/100")
	h.start()

	h.expect("m", av("m", 9, "/p/9"), av("m", 10, "/p/10"), av("m", 100, "/p/100"))
}

func TestVersionRemovalShrinksList(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})
	h.srv.Put(rootPath+"/m/1", "/p/1")
	h.srv.Put(rootPath+"/m/2", "/p/2")
	h.start()

	h.srv.Remove(rootPath + "/m/1")
	h.settle()
	h.expect("m", av("m", 2, "/p/2"))

	h.srv.Remove(rootPath + "/m/2")
	h.settle()
	if got := h.feed.list("m"); len(got) != 0 {
		t.Fatalf("expected empty list, got %+v", got)
	}
}

func TestModelRemovalStopsReads(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})
	h.srv.Put(rootPath+"/m/1", "/p/1")
	h.srv.Put(rootPath+"/other/1", "/q/1")
	h.start()

	h.srv.Remove(rootPath + "/m")
	h.settle()
	if got := h.engine.Monitored(); !reflect.DeepEqual(got, []string{"other"}) {
		t.Fatalf("unexpected monitored set: %v", got)
	}
	// The removal itself is announced as an empty list.
	h.expect("m")
	h.expect("other", av("other", 1, "/q/1"))

	modelReads := h.srv.Reads(rootPath + "/m")
	versionReads := h.srv.Reads(rootPath + "/m/1")
	h.srv.Put(rootPath+"/other/2", "/q/2")
	h.engine.Reload()
	h.settle()
	if h.srv.Reads(rootPath+"/m") != modelReads || h.srv.Reads(rootPath+"/m/1") != versionReads {
		t.Fatalf("removed model was read again")
	}
	if h.srv.Watches(rootPath+"/m/1") != 0 {
		t.Fatalf("removed version should hold no watches")
	}

	h.srv.Put(rootPath+"/m/5", "/p/5")
	h.settle()
	h.expect("m", av("m", 5, "/p/5"))
}

func TestEveryMonitoredModelHoldsAWatch(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})
	h.srv.Put(rootPath+"/a/1", "/p/a")
	h.srv.Put(rootPath+"/b/1", "/p/b")
	h.srv.Put(rootPath+"/c", "")
	h.start()

	for _, model := range h.engine.Monitored() {
		if h.srv.Watches(rootPath+"/"+model) == 0 {
			t.Fatalf("monitored model %s has no pending watch", model)
		}
	}
	h.srv.Put(rootPath+"/c/4", "/p/c")
	h.settle()
	h.expect("c", av("c", 4, "/p/c"))
}

func TestStaleWatchAfterDeleteRecreate(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})
	h.srv.Put(rootPath+"/m/1", "/p/1")
	h.start()

	h.srv.Remove(rootPath + "/m/1")
	h.srv.Put(rootPath+"/m/1", "/p/1")
	h.settle()
	h.expect("m", av("m", 1, "/p/1"))

	h.srv.Remove(rootPath + "/m")
	h.srv.Put(rootPath+"/m/1", "/p/1b")
	h.settle()
	h.expect("m", av("m", 1, "/p/1b"))
}

func TestSessionExpiryRecoversWatches(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})
	h.srv.Put(rootPath+"/m/1", "/p/1")
	h.srv.Put(rootPath+"/n/1", "/q/1")
	h.start()

	h.srv.ExpireSession()
	h.settle()
	if got := h.engine.Monitored(); !reflect.DeepEqual(got, []string{"m", "n"}) {
		t.Fatalf("unexpected monitored set after expiry: %v", got)
	}

	h.srv.Put(rootPath+"/m/2", "/p/2")
	h.srv.SetData(rootPath+"/n/1", "/q/1b")
	h.srv.Put(rootPath+"/o/1", "/r/1")
	h.settle()
	h.expect("m", av("m", 1, "/p/1"), av("m", 2, "/p/2"))
	h.expect("n", av("n", 1, "/q/1b"))
	h.expect("o", av("o", 1, "/r/1"))
}

func TestDisconnectReconnectRereadsTree(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})
	h.srv.Put(rootPath+"/m/1", "/p/1")
	h.start()

	h.srv.Disconnect()
	h.settle()
	h.srv.Reconnect()
	h.settle()

	h.srv.Put(rootPath+"/m/2", "/p/2")
	h.settle()
	h.expect("m", av("m", 1, "/p/1"), av("m", 2, "/p/2"))
}

func TestChangedArtifactPathIsEmittedByDefault(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})
	h.srv.Put(rootPath+"/m/1", "/p/1")
	h.start()

	h.srv.SetData(rootPath+"/m/1", "/p/1-moved")
	h.settle()
	h.expect("m", av("m", 1, "/p/1-moved"))
}

func TestPinnedArtifactPathSurvivesChange(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{PinArtifactPaths: true})
	h.srv.Put(rootPath+"/m/1", "/p/1")
	h.start()

	h.srv.SetData(rootPath+"/m/1", "/p/1-moved")
	h.settle()
	h.expect("m", av("m", 1, "/p/1"))

	h.srv.Remove(rootPath + "/m/1")
	h.settle()
	h.srv.Put(rootPath+"/m/1", "/p/1-new")
	h.settle()
	h.expect("m", av("m", 1, "/p/1-new"))
}

func TestEventsBeforeStartAreIgnored(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})
	h.srv.Put(rootPath+"/m/1", "/p/1")
	h.srv.Disconnect()
	h.srv.Reconnect()
	h.settle()
	if got := h.engine.Monitored(); len(got) != 0 {
		t.Fatalf("engine should not track models before Start, got %v", got)
	}
	h.start()
	h.expect("m", av("m", 1, "/p/1"))
}

func TestTriggersDuringAPassAreCoalesced(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})
	h.srv.Put(rootPath+"/m/1", "/p/1")

	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	var mu sync.Mutex
	active, peak, calls := 0, 0, 0
	cb := func(model string, versions []AspiredVersion) {
		mu.Lock()
		active++
		calls++
		if active > peak {
			peak = active
		}
		first := calls == 1
		mu.Unlock()
		entered <- struct{}{}
		if first {
			<-release
		}
		h.feed.callback(model, versions)
		mu.Lock()
		active--
		mu.Unlock()
	}

	started := make(chan struct{})
	go func() {
		h.engine.Start(cb)
		close(started)
	}()
	<-entered

	// Both fire while the first pass is stuck in the consumer.
	h.srv.SetData(rootPath+"/m/1", "/p/1b")
	h.srv.Put(rootPath+"/m/2", "/p/2")
	h.settle()
	mu.Lock()
	if calls != 1 {
		mu.Unlock()
		t.Fatalf("a second pass ran while the first was in progress: %d calls", calls)
	}
	mu.Unlock()

	close(release)
	<-started
	h.settle()

	h.expect("m", av("m", 1, "/p/1b"), av("m", 2, "/p/2"))
	mu.Lock()
	defer mu.Unlock()
	if peak != 1 {
		t.Fatalf("passes for one model overlapped: peak %d", peak)
	}
	if calls != 2 {
		t.Fatalf("expected the queued triggers to collapse into one repeat, got %d calls", calls)
	}
}

// treeList derives the list a model should be aspiring from the fake tree.
func treeList(t *testing.T, srv *coordtest.Server, model string) []AspiredVersion {
	t.Helper()
	children, _, err := srv.Children(rootPath + "/" + model)
	if err != nil {
		t.Fatalf("list %s: %v", model, err)
	}
	var out []AspiredVersion
	for _, child := range children {
		version, err := strconv.ParseInt(child, 10, 64)
		if err != nil || version < 0 {
			continue
		}
		data, _, err := srv.Get(rootPath + "/" + model + "/" + child)
		if err != nil || len(data) == 0 {
			continue
		}
		out = append(out, av(model, version, string(data)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func TestConcurrentMutationsConverge(t *testing.T) {
	testlog.Start(t)
	models := []string{"a", "b", "c", "d"}

	for seed := int64(1); seed <= 8; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			h := newHarness(t, Options{})
			h.srv.Put(rootPath+"/a/1", "/p/a/1")
			h.srv.Put(rootPath+"/b/1", "/p/b/1")
			h.start()

			var wg sync.WaitGroup
			for worker := 0; worker < 4; worker++ {
				wg.Add(1)
				go func(rng *rand.Rand, expire bool) {
					defer wg.Done()
					for op := 0; op < 60; op++ {
						model := models[rng.Intn(len(models))]
						version := strconv.Itoa(rng.Intn(4))
						node := rootPath + "/" + model + "/" + version
						switch n := rng.Intn(10); {
						case n < 4:
							h.srv.Put(node, fmt.Sprintf("/p/%s/%s/%d", model, version, op))
						case n == 4:
							h.srv.Put(node, "")
						case n == 5:
							h.srv.SetData(node, fmt.Sprintf("/q/%s/%s/%d", model, version, op))
						case n == 6:
							h.srv.Remove(node)
						case n == 7:
							h.srv.Remove(rootPath + "/" + model)
						case n == 8:
							h.srv.Put(rootPath+"/"+model+"/bad", "/ignored")
						default:
							if expire && rng.Intn(3) == 0 {
								h.srv.ExpireSession()
							} else {
								h.engine.Reload()
							}
						}
					}
				}(rand.New(rand.NewSource(seed*100+int64(worker))), worker == 0)
			}
			wg.Wait()
			h.settle()

			existing, _, err := h.srv.Children(rootPath)
			if err != nil {
				t.Fatalf("list root: %v", err)
			}
			for _, model := range existing {
				want := treeList(t, h.srv, model)
				h.expect(model, want...)
			}
			if got := h.engine.Monitored(); (len(got) != 0 || len(existing) != 0) && !reflect.DeepEqual(got, existing) {
				t.Fatalf("monitored %v does not match tree %v", got, existing)
			}
		})
	}
}
