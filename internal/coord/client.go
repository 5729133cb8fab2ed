package coord

import (
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-zookeeper/zk"
	"github.com/kimbyungsang/cranberries/internal/logging"
	"github.com/kimbyungsang/cranberries/internal/observability"
	"github.com/rs/zerolog"
)

// Client wraps one ZooKeeper session rooted at a base path.
type Client struct {
	conn Conn
	base string
	log  zerolog.Logger

	mu        sync.Mutex
	watches   map[watchKey]watchEntry
	nextToken uint64
	session   *Watcher
	closed    bool

	// stripes serialize watched reads per registration key so that token
	// order matches the order in which the reads reached the server.
	stripes [64]sync.Mutex

	done       chan struct{}
	closeOnce  sync.Once
	dispatched atomic.Uint64
}

// New builds a client over conn. events is the session event stream returned
// alongside conn; it may be nil when the caller has no session events.
func New(conn Conn, events <-chan zk.Event, basePath string) *Client {
	c := &Client{
		conn:    conn,
		base:    normalizeBase(basePath),
		log:     logging.Component("coord.Client"),
		watches: make(map[watchKey]watchEntry),
		done:    make(chan struct{}),
	}
	if events != nil {
		go c.watchSession(events)
	}
	return c
}

// Base returns the normalized base path with its trailing slash.
func (c *Client) Base() string {
	return c.base
}

func (c *Client) State() zk.State {
	return c.conn.State()
}

// SetSessionWatcher installs the single watcher receiving session transitions.
func (c *Client) SetSessionWatcher(w *Watcher) {
	c.mu.Lock()
	c.session = w
	c.mu.Unlock()
}

// Exists reports whether path is present. A missing node is (false, nil);
// with a watcher the watch is armed either way and fires on creation.
// An error means no watch was armed.
func (c *Client) Exists(path string, w *Watcher) (bool, error) {
	abs := absolute(c.base, path)
	if w == nil {
		ok, _, err := c.conn.Exists(abs)
		if err != nil {
			return false, c.fail("exists", path, err)
		}
		return ok, nil
	}
	mu := c.stripe(watchKey{kind: watchExists, path: path, owner: w.Name})
	mu.Lock()
	defer mu.Unlock()
	ok, _, ch, err := c.conn.ExistsW(abs)
	if err != nil {
		return false, c.fail("exists", path, err)
	}
	c.arm(watchExists, path, w, ch)
	return ok, nil
}

func (c *Client) Get(path string, w *Watcher) ([]byte, error) {
	abs := absolute(c.base, path)
	if w == nil {
		data, _, err := c.conn.Get(abs)
		if err != nil {
			return nil, c.fail("get", path, err)
		}
		return data, nil
	}
	mu := c.stripe(watchKey{kind: watchData, path: path, owner: w.Name})
	mu.Lock()
	defer mu.Unlock()
	data, _, ch, err := c.conn.GetW(abs)
	if err != nil {
		return nil, c.fail("get", path, err)
	}
	c.arm(watchData, path, w, ch)
	return data, nil
}

func (c *Client) Children(path string, w *Watcher) ([]string, error) {
	abs := absolute(c.base, path)
	if w == nil {
		children, _, err := c.conn.Children(abs)
		if err != nil {
			return nil, c.fail("children", path, err)
		}
		return children, nil
	}
	mu := c.stripe(watchKey{kind: watchChildren, path: path, owner: w.Name})
	mu.Lock()
	defer mu.Unlock()
	children, _, ch, err := c.conn.ChildrenW(abs)
	if err != nil {
		return nil, c.fail("children", path, err)
	}
	c.arm(watchChildren, path, w, ch)
	return children, nil
}

// Create writes a new node with open ACLs. Ephemeral nodes vanish with the session.
func (c *Client) Create(path string, data []byte, ephemeral bool) error {
	var flags int32
	if ephemeral {
		flags = zk.FlagEphemeral
	}
	if _, err := c.conn.Create(absolute(c.base, path), data, flags, zk.WorldACL(zk.PermAll)); err != nil {
		return c.fail("create", path, err)
	}
	return nil
}

// Set overwrites node data regardless of its version.
func (c *Client) Set(path string, data []byte) error {
	if _, err := c.conn.Set(absolute(c.base, path), data, -1); err != nil {
		return c.fail("set", path, err)
	}
	return nil
}

// Delete removes a node regardless of its version.
func (c *Client) Delete(path string) error {
	if err := c.conn.Delete(absolute(c.base, path), -1); err != nil {
		return c.fail("delete", path, err)
	}
	return nil
}

// EnforcePath creates every segment of base/path from the root down, leaf included.
// Segments that already exist are fine.
func (c *Client) EnforcePath(path string) error {
	full := absolute(c.base, path)
	acl := zk.WorldACL(zk.PermAll)
	cur := ""
	for _, seg := range splitSegments(full) {
		cur += "/" + seg
		if _, err := c.conn.Create(cur, nil, 0, acl); err != nil {
			if classify(err) == KindNodeExists {
				continue
			}
			return c.fail("enforce_path", relative(c.base, cur), err)
		}
	}
	return nil
}

// Close ends the session. Pending registrations are dropped and late
// notifications are discarded.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.watches = make(map[watchKey]watchEntry)
		c.session = nil
		c.mu.Unlock()
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) fail(op, path string, err error) error {
	kind := classify(err)
	observability.RecordCoordError(op, kind.String())
	if kind == KindTransient {
		c.log.Debug().Str("op", op).Str("path", path).Err(err).Msg("transient coordination failure")
	}
	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}

func (c *Client) stripe(key watchKey) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.path))
	_, _ = h.Write([]byte{0, byte(key.kind), 0})
	_, _ = h.Write([]byte(key.owner))
	return &c.stripes[h.Sum32()%uint32(len(c.stripes))]
}

func splitSegments(full string) []string {
	var segs []string
	for _, seg := range strings.Split(full, "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	return segs
}
