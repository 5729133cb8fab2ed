package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	EnvZookeeperHosts = "CRANBERRIES_ZOOKEEPER_HOSTS"
	EnvZookeeperBase  = "CRANBERRIES_ZOOKEEPER_BASE"

	DefaultZookeeperHosts = "localhost:2181"
	DefaultSessionTimeout = 2 * time.Second
	DefaultAdminAddr      = "127.0.0.1:8501"
	DefaultLoader         = "noop"
)

var ErrInvalidConfig = errors.New("config: invalid")

// Config is the resolved daemon configuration.
type Config struct {
	ZookeeperHosts   string
	ZookeeperBase    string
	SessionTimeout   time.Duration
	AdminAddr        string
	AdminCORSOrigins []string
	PinArtifactPaths bool
	ReportState      bool
	Loader           string
}

// fileConfig mirrors the TOML keys. Durations stay strings so they can be
// written as "2s" in templates.
type fileConfig struct {
	ZookeeperHosts            string   `toml:"zookeeper_hosts"`
	ZookeeperBase             string   `toml:"zookeeper_base"`
	ZookeeperSessionTimeout   string   `toml:"zookeeper_session_timeout"`
	ZookeeperSessionTimeoutMS int64    `toml:"zookeeper_session_timeout_ms,omitempty"`
	AdminAddr                 string   `toml:"admin_addr"`
	AdminCORSOrigins          []string `toml:"admin_cors_origins"`
	PinArtifactPaths          bool     `toml:"pin_artifact_paths"`
	ReportState               bool     `toml:"report_state"`
	Loader                    string   `toml:"loader"`
}

func Default() Config {
	return Config{
		ZookeeperHosts:   DefaultZookeeperHosts,
		SessionTimeout:   DefaultSessionTimeout,
		AdminAddr:        DefaultAdminAddr,
		AdminCORSOrigins: []string{},
		ReportState:      true,
		Loader:           DefaultLoader,
	}
}

// Load reads path over the defaults, applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalidConfig, undecoded[0].String(), path)
	}

	if meta.IsDefined("zookeeper_hosts") {
		cfg.ZookeeperHosts = strings.TrimSpace(raw.ZookeeperHosts)
	}
	if meta.IsDefined("zookeeper_base") {
		cfg.ZookeeperBase = strings.TrimSpace(raw.ZookeeperBase)
	}
	if meta.IsDefined("zookeeper_session_timeout") && meta.IsDefined("zookeeper_session_timeout_ms") {
		return Config{}, fmt.Errorf("%w: zookeeper_session_timeout and zookeeper_session_timeout_ms are both set in %s", ErrInvalidConfig, path)
	}
	if meta.IsDefined("zookeeper_session_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ZookeeperSessionTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("%w: parse zookeeper_session_timeout: %v", ErrInvalidConfig, err)
		}
		cfg.SessionTimeout = d
	}
	if meta.IsDefined("zookeeper_session_timeout_ms") {
		cfg.SessionTimeout = time.Duration(raw.ZookeeperSessionTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_cors_origins") {
		cfg.AdminCORSOrigins = normalizeList(raw.AdminCORSOrigins)
	}
	if meta.IsDefined("pin_artifact_paths") {
		cfg.PinArtifactPaths = raw.PinArtifactPaths
	}
	if meta.IsDefined("report_state") {
		cfg.ReportState = raw.ReportState
	}
	if meta.IsDefined("loader") {
		cfg.Loader = strings.ToLower(strings.TrimSpace(raw.Loader))
	}

	applyEnvOverrides(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvZookeeperHosts)); v != "" {
		cfg.ZookeeperHosts = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvZookeeperBase)); v != "" {
		cfg.ZookeeperBase = v
	}
}

func Validate(cfg Config) error {
	if strings.Trim(strings.TrimSpace(cfg.ZookeeperHosts), ",") == "" {
		return fmt.Errorf("%w: zookeeper_hosts is required", ErrInvalidConfig)
	}
	for _, host := range strings.Split(cfg.ZookeeperHosts, ",") {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		if !strings.Contains(host, ":") {
			return fmt.Errorf("%w: zookeeper_hosts entry %q must be host:port", ErrInvalidConfig, host)
		}
	}
	if strings.TrimSpace(cfg.ZookeeperBase) == "" {
		return fmt.Errorf("%w: zookeeper_base is required", ErrInvalidConfig)
	}
	if cfg.SessionTimeout <= 0 {
		return fmt.Errorf("%w: zookeeper_session_timeout must be positive", ErrInvalidConfig)
	}
	switch cfg.Loader {
	case "noop", "stat":
	default:
		return fmt.Errorf("%w: loader must be noop or stat, got %q", ErrInvalidConfig, cfg.Loader)
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
