// Package coordtest provides an in-memory ZooKeeper tree for tests.
//
// Server implements coord.Conn with the parts of ZooKeeper semantics the
// discovery cascade relies on: one-shot watches, ephemeral nodes, session
// disconnect/expiry, and per-path read counts. Every notification it sends
// is counted so tests can wait until the client has drained them (Settle).
package coordtest

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-zookeeper/zk"
	"github.com/kimbyungsang/cranberries/internal/coord"
)

type watchType int

const (
	watchExist watchType = iota
	watchData
	watchChild
)

type slot struct {
	path string
	kind watchType
}

type node struct {
	data      []byte
	ephemeral bool
}

type Server struct {
	mu        sync.Mutex
	nodes     map[string]*node
	watches   map[slot][]chan zk.Event
	reads     map[string]int
	events    chan zk.Event
	connected bool
	closed    bool

	delivered atomic.Uint64
}

var _ coord.Conn = (*Server)(nil)

func NewServer() *Server {
	return &Server{
		nodes:     map[string]*node{"/": {}},
		watches:   make(map[slot][]chan zk.Event),
		reads:     make(map[string]int),
		events:    make(chan zk.Event, 64),
		connected: true,
	}
}

// Events is the session event stream to hand to coord.New.
func (s *Server) Events() <-chan zk.Event {
	return s.events
}

// Delivered counts watch and session notifications sent so far.
func (s *Server) Delivered() uint64 {
	return s.delivered.Load()
}

// Reads returns how many reads (exists, get, children) hit the absolute path.
func (s *Server) Reads(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads[path]
}

// Watches returns the number of pending one-shot registrations on path.
func (s *Server) Watches(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, chans := range s.watches {
		if k.path == path {
			n += len(chans)
		}
	}
	return n
}

func (s *Server) State() zk.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return zk.StateDisconnected
	case s.connected:
		return zk.StateHasSession
	default:
		return zk.StateDisconnected
	}
}

func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.watches = make(map[slot][]chan zk.Event)
}

func (s *Server) Exists(path string) (bool, *zk.Stat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return false, nil, err
	}
	s.reads[path]++
	n, ok := s.nodes[path]
	if !ok {
		return false, nil, nil
	}
	return true, s.stat(path, n), nil
}

func (s *Server) ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return false, nil, nil, err
	}
	s.reads[path]++
	n, ok := s.nodes[path]
	if !ok {
		return false, nil, s.addWatch(path, watchExist), nil
	}
	return true, s.stat(path, n), s.addWatch(path, watchData), nil
}

func (s *Server) Get(path string) ([]byte, *zk.Stat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return nil, nil, err
	}
	s.reads[path]++
	n, ok := s.nodes[path]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return clone(n.data), s.stat(path, n), nil
}

func (s *Server) GetW(path string) ([]byte, *zk.Stat, <-chan zk.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return nil, nil, nil, err
	}
	s.reads[path]++
	n, ok := s.nodes[path]
	if !ok {
		return nil, nil, nil, zk.ErrNoNode
	}
	return clone(n.data), s.stat(path, n), s.addWatch(path, watchData), nil
}

func (s *Server) Children(path string) ([]string, *zk.Stat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return nil, nil, err
	}
	s.reads[path]++
	n, ok := s.nodes[path]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return s.childrenOf(path), s.stat(path, n), nil
}

func (s *Server) ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return nil, nil, nil, err
	}
	s.reads[path]++
	n, ok := s.nodes[path]
	if !ok {
		return nil, nil, nil, zk.ErrNoNode
	}
	return s.childrenOf(path), s.stat(path, n), s.addWatch(path, watchChild), nil
}

func (s *Server) Create(path string, data []byte, flags int32, _ []zk.ACL) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return "", err
	}
	if err := s.create(path, data, flags&zk.FlagEphemeral != 0); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Server) Set(path string, data []byte, _ int32) (*zk.Stat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	n, ok := s.nodes[path]
	if !ok {
		return nil, zk.ErrNoNode
	}
	s.set(path, n, data)
	return s.stat(path, n), nil
}

func (s *Server) Delete(path string, _ int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	if _, ok := s.nodes[path]; !ok {
		return zk.ErrNoNode
	}
	if len(s.childrenOf(path)) > 0 {
		return zk.ErrNotEmpty
	}
	s.remove(path)
	return nil
}

// Put creates or overwrites path, creating missing ancestors with empty data.
func (s *Server) Put(path string, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, anc := range ancestors(path) {
		if _, ok := s.nodes[anc]; !ok {
			_ = s.create(anc, nil, false)
		}
	}
	if n, ok := s.nodes[path]; ok {
		s.set(path, n, []byte(data))
		return
	}
	_ = s.create(path, []byte(data), false)
}

// SetData overwrites an existing node. Missing nodes are ignored.
func (s *Server) SetData(path string, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[path]; ok {
		s.set(path, n, []byte(data))
	}
}

// Remove deletes path and its subtree, deepest nodes first.
func (s *Server) Remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeTree(path)
}

// Data returns the current contents of path.
func (s *Server) Data(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[path]
	if !ok {
		return "", false
	}
	return string(n.data), true
}

// IsEphemeral reports whether path exists and was created ephemeral.
func (s *Server) IsEphemeral(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[path]
	return ok && n.ephemeral
}

// Disconnect drops the connection without losing the session.
// Calls fail with zk.ErrConnectionClosed until Reconnect.
func (s *Server) Disconnect() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.sendSession(zk.StateDisconnected, nil)
}

func (s *Server) Reconnect() {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.sendSession(zk.StateHasSession, nil)
}

// ExpireSession invalidates every pending watch, drops ephemeral nodes
// without notifying, and establishes a fresh session.
func (s *Server) ExpireSession() {
	s.mu.Lock()
	for k, chans := range s.watches {
		for _, ch := range chans {
			s.deliver(ch, zk.Event{
				Type:  zk.EventNotWatching,
				State: zk.StateDisconnected,
				Path:  k.path,
				Err:   zk.ErrSessionExpired,
			})
		}
	}
	s.watches = make(map[slot][]chan zk.Event)
	for p, n := range s.nodes {
		if n.ephemeral {
			delete(s.nodes, p)
		}
	}
	s.connected = true
	s.mu.Unlock()

	s.sendSession(zk.StateExpired, zk.ErrSessionExpired)
	s.sendSession(zk.StateHasSession, nil)
}

func (s *Server) sendSession(state zk.State, err error) {
	s.delivered.Add(1)
	s.events <- zk.Event{Type: zk.EventSession, State: state, Err: err}
}

func (s *Server) usable() error {
	if s.closed {
		return zk.ErrClosing
	}
	if !s.connected {
		return zk.ErrConnectionClosed
	}
	return nil
}

func (s *Server) create(path string, data []byte, ephemeral bool) error {
	if _, ok := s.nodes[path]; ok {
		return zk.ErrNodeExists
	}
	parent := parentOf(path)
	if _, ok := s.nodes[parent]; !ok {
		return zk.ErrNoNode
	}
	s.nodes[path] = &node{data: clone(data), ephemeral: ephemeral}
	s.fire(path, zk.EventNodeCreated, watchExist)
	s.fire(parent, zk.EventNodeChildrenChanged, watchChild)
	return nil
}

func (s *Server) set(path string, n *node, data []byte) {
	n.data = clone(data)
	s.fire(path, zk.EventNodeDataChanged, watchExist, watchData)
}

func (s *Server) remove(path string) {
	delete(s.nodes, path)
	s.fire(path, zk.EventNodeDeleted, watchExist, watchData, watchChild)
	s.fire(parentOf(path), zk.EventNodeChildrenChanged, watchChild)
}

func (s *Server) removeTree(path string) {
	if _, ok := s.nodes[path]; !ok {
		return
	}
	for _, child := range s.childrenOf(path) {
		s.removeTree(join(path, child))
	}
	s.remove(path)
}

// fire consumes every watch of the given kinds on path.
func (s *Server) fire(path string, typ zk.EventType, kinds ...watchType) {
	for _, kind := range kinds {
		key := slot{path: path, kind: kind}
		chans := s.watches[key]
		delete(s.watches, key)
		for _, ch := range chans {
			s.deliver(ch, zk.Event{Type: typ, State: zk.StateConnected, Path: path})
		}
	}
}

func (s *Server) deliver(ch chan zk.Event, ev zk.Event) {
	s.delivered.Add(1)
	ch <- ev
}

func (s *Server) addWatch(path string, kind watchType) <-chan zk.Event {
	ch := make(chan zk.Event, 1)
	key := slot{path: path, kind: kind}
	s.watches[key] = append(s.watches[key], ch)
	return ch
}

func (s *Server) childrenOf(path string) []string {
	var out []string
	for p := range s.nodes {
		if p == "/" || parentOf(p) != path {
			continue
		}
		out = append(out, p[strings.LastIndexByte(p, '/')+1:])
	}
	sort.Strings(out)
	return out
}

func (s *Server) stat(path string, n *node) *zk.Stat {
	st := &zk.Stat{
		DataLength:  int32(len(n.data)),
		NumChildren: int32(len(s.childrenOf(path))),
	}
	if n.ephemeral {
		st.EphemeralOwner = 1
	}
	return st
}

func parentOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func ancestors(path string) []string {
	var out []string
	for p := parentOf(path); p != "/"; p = parentOf(p) {
		out = append([]string{p}, out...)
	}
	return out
}

func join(parent, child string) string {
	if parent == "/" {
		return "/" + child
	}
	return parent + "/" + child
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
