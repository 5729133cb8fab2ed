package coord

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/kimbyungsang/cranberries/internal/logging"
)

const DefaultSessionTimeout = 2 * time.Second

// Conn is the subset of *zk.Conn the client drives. coordtest.Server implements it in memory.
type Conn interface {
	Exists(path string) (bool, *zk.Stat, error)
	ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error)
	Get(path string) ([]byte, *zk.Stat, error)
	GetW(path string) ([]byte, *zk.Stat, <-chan zk.Event, error)
	Children(path string) ([]string, *zk.Stat, error)
	ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Set(path string, data []byte, version int32) (*zk.Stat, error)
	Delete(path string, version int32) error
	State() zk.State
	Close()
}

var _ Conn = (*zk.Conn)(nil)

type Config struct {
	// Hosts is a comma-separated host:port list.
	Hosts          string
	SessionTimeout time.Duration
	BasePath       string
}

// ParseHosts splits a comma-separated host list, dropping blanks.
func ParseHosts(raw string) ([]string, error) {
	var hosts []string
	for _, h := range strings.Split(raw, ",") {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		hosts = append(hosts, h)
	}
	if len(hosts) == 0 {
		return nil, ErrNoHosts
	}
	return hosts, nil
}

// Connect opens a ZooKeeper session. A session that later drops is not an
// error here; individual calls report transient failures instead.
func Connect(cfg Config) (*Client, error) {
	hosts, err := ParseHosts(cfg.Hosts)
	if err != nil {
		return nil, err
	}
	timeout := cfg.SessionTimeout
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	conn, events, err := zk.Connect(hosts, timeout, zk.WithLogger(logging.NewZKLogger()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	return New(conn, events, cfg.BasePath), nil
}
