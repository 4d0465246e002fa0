// Package configfile reads and writes the workspace descriptor metadata.json,
// which names the database and mirror files within the workspace directory.
package configfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const ConfigFileName = "metadata.json"

type Config struct {
	Database    string `json:"database"`
	JSONLExport string `json:"jsonl_export,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Database:    "beads.db",
		JSONLExport: "issues.jsonl",
	}
}

func ConfigPath(workspaceDir string) string {
	return filepath.Join(workspaceDir, ConfigFileName)
}

// Load reads the workspace descriptor. A missing file returns (nil, nil);
// callers fall back to DefaultConfig.
func Load(workspaceDir string) (*Config, error) {
	data, err := os.ReadFile(ConfigPath(workspaceDir)) // #nosec G304 - fixed name in workspace
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Save(workspaceDir string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(ConfigPath(workspaceDir), data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

func (c *Config) DatabasePath(workspaceDir string) string {
	if c.Database == "" {
		return filepath.Join(workspaceDir, "beads.db")
	}
	return filepath.Join(workspaceDir, c.Database)
}

func (c *Config) JSONLPath(workspaceDir string) string {
	if c.JSONLExport == "" {
		return filepath.Join(workspaceDir, "issues.jsonl")
	}
	return filepath.Join(workspaceDir, c.JSONLExport)
}
