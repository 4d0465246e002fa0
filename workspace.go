package beads

import (
	"context"
	"fmt"
	"strconv"

	"github.com/juanlu12332/beads/internal/config"
	"github.com/juanlu12332/beads/internal/configfile"
	"github.com/juanlu12332/beads/internal/export"
	"github.com/juanlu12332/beads/internal/importer"
	"github.com/juanlu12332/beads/internal/storage/sqlite"
	"github.com/juanlu12332/beads/internal/telemetry"
	"github.com/juanlu12332/beads/internal/utils"
)

// Workspace is the unit of isolation: a directory holding the relational
// store (beads.db), the textual mirror (issues.jsonl), and the sync lock.
type Workspace struct {
	Dir string
	// Storage is the operation surface, telemetry-wrapped when enabled.
	Storage Storage

	store     *sqlite.Store
	jsonlPath string
}

// OpenWorkspace opens the workspace at dir: reads the metadata.json
// descriptor (falling back to defaults), merges the workspace config.yaml
// and BEADS_ environment into the resolver, opens the store, and seeds the
// store's configuration from the environment-carried knobs. The issue prefix
// is inferred on cold start — config.yaml first, then the mirror's unique
// common prefix, then the directory name.
func OpenWorkspace(ctx context.Context, dir string) (*Workspace, error) {
	if err := config.LoadWorkspaceFile(dir); err != nil {
		return nil, fmt.Errorf("failed to load workspace config: %w", err)
	}

	cfg, err := configfile.Load(dir)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = configfile.DefaultConfig()
	}

	store, err := sqlite.New(ctx, cfg.DatabasePath(dir))
	if err != nil {
		return nil, err
	}

	jsonlPath := cfg.JSONLPath(dir)
	if err := utils.ValidateWorkspacePath(dir, jsonlPath); err != nil {
		_ = store.Close()
		return nil, err
	}

	if err := seedStoreConfig(ctx, store, dir, jsonlPath); err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Workspace{
		Dir:       dir,
		Storage:   telemetry.WrapStorage(store),
		store:     store,
		jsonlPath: jsonlPath,
	}, nil
}

// seedStoreConfig writes environment-carried knobs into the store's config
// table so the engine reads one authoritative source. Existing values win;
// seeding only fills gaps.
func seedStoreConfig(ctx context.Context, store *sqlite.Store, dir, jsonlPath string) error {
	setIfUnset := func(key, value string) error {
		if value == "" {
			return nil
		}
		existing, err := store.GetConfig(ctx, key)
		if err != nil {
			return err
		}
		if existing != "" {
			return nil
		}
		return store.SetConfig(ctx, key, value)
	}

	if err := setIfUnset("id.min_length", strconv.Itoa(config.MinHashLength())); err != nil {
		return err
	}
	if err := setIfUnset("id.max_length", strconv.Itoa(config.MaxHashLength())); err != nil {
		return err
	}
	if err := setIfUnset("id.max_collision_prob", strconv.FormatFloat(config.MaxCollisionProb(), 'f', -1, 64)); err != nil {
		return err
	}
	if err := setIfUnset("import.orphan_handling", config.OrphanHandling()); err != nil {
		return err
	}

	local := config.LoadLocalConfig(dir)
	prefix := local.IssuePrefix
	if prefix == "" {
		inferred, err := export.InferPrefix(ctx, store, jsonlPath, dir)
		if err == nil {
			prefix = inferred
		}
	}
	return setIfUnset("issue_prefix", prefix)
}

// JSONLPath returns the workspace's validated mirror path.
func (w *Workspace) JSONLPath() string {
	return w.jsonlPath
}

// Export writes the mirror. Incremental by default; see ExportOptions.
// Before an incremental run the integrity guard checks for out-of-band
// mirror mutation and escalates to a full export when the baseline is gone.
func (w *Workspace) Export(ctx context.Context, opts ExportOptions) (*ExportResult, error) {
	if !opts.Full {
		needFull, err := export.EnsureIntegrity(ctx, w.store, w.jsonlPath)
		if err != nil {
			return nil, err
		}
		opts.Full = needFull
	}

	exp, err := export.New(w.store, w.Dir, w.jsonlPath)
	if err != nil {
		return nil, err
	}
	return exp.Export(ctx, opts)
}

// Import applies the mirror to the store under the sync lock.
func (w *Workspace) Import(ctx context.Context, opts ImportOptions) (*ImportResult, error) {
	return importer.ImportFile(ctx, w.store, w.Dir, w.jsonlPath, opts)
}

// MirrorStale reports whether the mirror changed since the last sync point.
// The caller decides when to invoke Import; the core starts no watchers.
func (w *Workspace) MirrorStale(ctx context.Context) (bool, error) {
	return export.MirrorStale(ctx, w.store, w.jsonlPath)
}

// ResolveID resolves a possibly partial issue ID, falling back to the
// last-touched cache when input is empty.
func (w *Workspace) ResolveID(ctx context.Context, input string) (string, error) {
	if input == "" {
		if last := utils.GetLastTouchedID(w.Dir); last != "" {
			input = last
		}
	}
	id, err := utils.ResolvePartialID(ctx, w.Storage, input)
	if err != nil {
		return "", err
	}
	utils.SetLastTouchedID(w.Dir, id)
	return id, nil
}

// Close closes the underlying store.
func (w *Workspace) Close() error {
	return w.store.Close()
}
