package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the subset of the workspace config.yaml the core reads
// directly, bypassing the viper singleton. Direct reads matter when checking
// another workspace's configuration, or before the resolver is initialized.
type LocalConfig struct {
	IssuePrefix     string   `yaml:"issue-prefix"`
	OrphanHandling  string   `yaml:"orphan_handling"`
	AllowedPrefixes []string `yaml:"allowed_prefixes"`
	CustomStatuses  []string `yaml:"custom-statuses"`
	CustomTypes     []string `yaml:"custom-types"`
}

// LoadLocalConfig reads config.yaml from the workspace directory.
// A missing or malformed file yields an empty config, never an error:
// the yaml surface is advisory and the store's config table is authoritative.
func LoadLocalConfig(workspaceDir string) *LocalConfig {
	cfg := &LocalConfig{}

	data, err := os.ReadFile(filepath.Join(workspaceDir, "config.yaml")) // #nosec G304 - fixed name in workspace
	if err != nil {
		return cfg
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return &LocalConfig{}
	}

	return cfg
}
