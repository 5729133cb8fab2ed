package config

import (
	"github.com/kimbyungsang/cranberries/internal/coord"
	"github.com/kimbyungsang/cranberries/internal/discovery"
)

func (c Config) Coord() coord.Config {
	return coord.Config{
		Hosts:          c.ZookeeperHosts,
		SessionTimeout: c.SessionTimeout,
		BasePath:       c.ZookeeperBase,
	}
}

func (c Config) Discovery() discovery.Options {
	return discovery.Options{PinArtifactPaths: c.PinArtifactPaths}
}
