package coord

import (
	"github.com/go-zookeeper/zk"
	"github.com/kimbyungsang/cranberries/internal/observability"
)

// Event is one notification delivered to a Watcher. Session events have an empty Path.
type Event struct {
	Type  zk.EventType
	State zk.State
	Path  string
	Err   error
}

// IsSession reports whether the event describes the session rather than a node.
func (e Event) IsSession() bool {
	return e.Type == zk.EventSession
}

// Watcher is a named callback. The name scopes duplicate-registration collapsing,
// so one Watcher value should always perform the same work for a given path.
type Watcher struct {
	Name   string
	Notify func(Event)
}

func NewWatcher(name string, notify func(Event)) *Watcher {
	return &Watcher{Name: name, Notify: notify}
}

type watchKind int

const (
	watchExists watchKind = iota
	watchData
	watchChildren
)

type watchKey struct {
	kind  watchKind
	path  string
	owner string
}

type watchEntry struct {
	token   uint64
	watcher *Watcher
}

// arm records a pending one-shot registration and starts waiting on its channel.
func (c *Client) arm(kind watchKind, rel string, w *Watcher, ch <-chan zk.Event) {
	key := watchKey{kind: kind, path: rel, owner: w.Name}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.nextToken++
	token := c.nextToken
	c.watches[key] = watchEntry{token: token, watcher: w}
	c.mu.Unlock()

	go c.await(key, token, ch)
}

func (c *Client) await(key watchKey, token uint64, ch <-chan zk.Event) {
	select {
	case raw, ok := <-ch:
		if !ok {
			c.forget(key, token)
			c.dispatched.Add(1)
			return
		}
		c.dispatch(key, token, raw)
	case <-c.done:
		c.forget(key, token)
	}
}

// dispatch consumes the registration for key and runs its callback when token is current.
func (c *Client) dispatch(key watchKey, token uint64, raw zk.Event) {
	defer c.dispatched.Add(1)

	c.mu.Lock()
	entry, ok := c.watches[key]
	if !ok || entry.token != token || c.closed {
		c.mu.Unlock()
		return
	}
	delete(c.watches, key)
	c.mu.Unlock()

	ev := c.toEvent(raw)
	if ev.Path == "" {
		ev.Path = key.path
	}
	observability.RecordWatchEvent(raw.Type.String())
	c.log.Debug().
		Str("watcher", key.owner).
		Str("path", ev.Path).
		Str("type", raw.Type.String()).
		Msg("watch fired")
	entry.watcher.Notify(ev)
}

func (c *Client) forget(key watchKey, token uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.watches[key]; ok && entry.token == token {
		delete(c.watches, key)
	}
}

// watchSession forwards session-state transitions to the session watcher.
func (c *Client) watchSession(events <-chan zk.Event) {
	for {
		select {
		case raw, ok := <-events:
			if !ok {
				return
			}
			c.dispatchSession(raw)
		case <-c.done:
			return
		}
	}
}

func (c *Client) dispatchSession(raw zk.Event) {
	defer c.dispatched.Add(1)

	c.mu.Lock()
	w := c.session
	closed := c.closed
	c.mu.Unlock()

	observability.RecordWatchEvent(raw.Type.String())
	c.log.Info().Str("state", raw.State.String()).Msg("session event")
	if w == nil || closed {
		return
	}
	w.Notify(Event{Type: raw.Type, State: raw.State, Err: raw.Err})
}

func (c *Client) toEvent(raw zk.Event) Event {
	return Event{
		Type:  raw.Type,
		State: raw.State,
		Path:  relative(c.base, raw.Path),
		Err:   raw.Err,
	}
}

// PendingWatches returns the number of armed registrations not yet fired.
func (c *Client) PendingWatches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.watches)
}

// Dispatched counts notifications fully handled, including collapsed duplicates.
func (c *Client) Dispatched() uint64 {
	return c.dispatched.Load()
}
