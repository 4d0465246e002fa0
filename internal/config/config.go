// Package config resolves environment-carried configuration for the core.
//
// Resolution order: BEADS_-prefixed environment variables, then the
// workspace config.yaml, then defaults. The viper instance is scoped to this
// package; callers read through typed accessors.
package config

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/juanlu12332/beads/internal/idgen"
)

// Keys the core consumes. Everything else in config.yaml belongs to the
// surrounding tooling and passes through untouched.
const (
	KeyWorkspaceDir      = "workspace_dir"
	KeyMaxCollisionProb  = "max_collision_prob"
	KeyMinHashLength     = "min_hash_length"
	KeyMaxHashLength     = "max_hash_length"
	KeyHierarchyMaxDepth = "hierarchy_max_depth"
	KeyOrphanHandling    = "orphan_handling"
	KeyAllowedPrefixes   = "allowed_prefixes"
)

var (
	v    *viper.Viper
	once sync.Once
)

func instance() *viper.Viper {
	once.Do(func() {
		v = viper.New()
		v.SetEnvPrefix("BEADS")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		v.AutomaticEnv()

		v.SetDefault(KeyMaxCollisionProb, idgen.DefaultMaxCollisionProb)
		v.SetDefault(KeyMinHashLength, idgen.DefaultMinLength)
		v.SetDefault(KeyMaxHashLength, idgen.DefaultMaxLength)
		v.SetDefault(KeyHierarchyMaxDepth, idgen.DefaultHierarchyMaxDepth)
		v.SetDefault(KeyOrphanHandling, "allow")
	})
	return v
}

// LoadWorkspaceFile merges the workspace config.yaml into the resolver.
// Missing files are fine; malformed ones are reported.
func LoadWorkspaceFile(workspaceDir string) error {
	cfg := instance()
	cfg.SetConfigFile(filepath.Join(workspaceDir, "config.yaml"))
	cfg.SetConfigType("yaml")
	if err := cfg.MergeInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); notFound {
			return nil
		}
		if strings.Contains(err.Error(), "no such file") {
			return nil
		}
		return err
	}
	return nil
}

// WorkspaceDir returns the configured workspace directory, empty when unset.
func WorkspaceDir() string {
	return instance().GetString(KeyWorkspaceDir)
}

// MaxCollisionProb returns the ID-length collision probability bound.
func MaxCollisionProb() float64 {
	p := instance().GetFloat64(KeyMaxCollisionProb)
	if p <= 0 || p >= 1 {
		return idgen.DefaultMaxCollisionProb
	}
	return p
}

// MinHashLength returns the minimum hash portion width.
func MinHashLength() int {
	n := instance().GetInt(KeyMinHashLength)
	if n <= 0 {
		return idgen.DefaultMinLength
	}
	return n
}

// MaxHashLength returns the maximum hash portion width.
func MaxHashLength() int {
	n := instance().GetInt(KeyMaxHashLength)
	if n < MinHashLength() {
		return idgen.DefaultMaxLength
	}
	return n
}

// HierarchyMaxDepth returns the dot-separated child nesting limit.
func HierarchyMaxDepth() int {
	n := instance().GetInt(KeyHierarchyMaxDepth)
	if n <= 0 {
		return idgen.DefaultHierarchyMaxDepth
	}
	return n
}

// OrphanHandling returns the configured orphan policy name.
func OrphanHandling() string {
	return instance().GetString(KeyOrphanHandling)
}

// AllowedPrefixes returns extra prefixes accepted on import besides the
// workspace's own.
func AllowedPrefixes() []string {
	raw := instance().GetString(KeyAllowedPrefixes)
	if raw == "" {
		return instance().GetStringSlice(KeyAllowedPrefixes)
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// GetString exposes raw key access for the surrounding tooling.
func GetString(key string) string {
	return instance().GetString(key)
}

// Set overrides a key for the process lifetime (tests, embedding callers).
func Set(key string, value interface{}) {
	instance().Set(key, value)
}
