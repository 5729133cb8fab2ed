package config

import (
	"fmt"
	"os"

	gotoml "github.com/pelletier/go-toml/v2"
)

const templateHeader = `# cranberries daemon configuration.
# zookeeper_base is required; every other key falls back to its default.
`

// Template renders the default configuration with base filled in.
func Template(base string) (string, error) {
	def := Default()
	raw := fileConfig{
		ZookeeperHosts:          def.ZookeeperHosts,
		ZookeeperBase:           base,
		ZookeeperSessionTimeout: def.SessionTimeout.String(),
		AdminAddr:               def.AdminAddr,
		AdminCORSOrigins:        []string{"http://localhost:3000"},
		PinArtifactPaths:        def.PinArtifactPaths,
		ReportState:             def.ReportState,
		Loader:                  def.Loader,
	}
	data, err := gotoml.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return templateHeader + string(data), nil
}

func WriteTemplate(path, base string, overwrite bool) error {
	template, err := Template(base)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
