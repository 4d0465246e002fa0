// Package sqlite implements the storage interface using SQLite.
package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	// Import SQLite driver
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"
	"golang.org/x/sync/singleflight"

	"github.com/juanlu12332/beads/internal/storage"
)

// Verify Store implements storage.Storage at compile time
var _ storage.Storage = (*Store)(nil)

// Store implements the Storage interface using SQLite
type Store struct {
	db     *sql.DB
	dbPath string
	closed atomic.Bool // Tracks whether Close() has been called

	// reconnectMu applies a readers-writer discipline around the connection:
	// operations acquire a read grant, internal reconnection/migration logic
	// acquires an exclusive grant. No operation executes across a reconnect.
	reconnectMu sync.RWMutex

	// rebuildGroup coalesces concurrent blocked-cache rebuild requests issued
	// outside a mutation transaction, so N callers share one rebuild.
	rebuildGroup singleflight.Group

	// external resolves external:<project>:<capability> sentinels.
	// Nil leaves sentinels unresolved: tree leaves read as open and ready
	// work ignores sentinel edges.
	external storage.ExternalResolver
}

// setupWASMCache configures WASM compilation caching to reduce SQLite startup
// time. The ncruces driver JIT-compiles its embedded SQLite on first use
// (~220ms); a filesystem cache brings subsequent runs to ~20ms. Falls back to
// an in-memory cache if the cache directory cannot be created.
func setupWASMCache() string {
	cacheDir := ""
	if userCache, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(userCache, "beads", "wasm")
	}

	var cache wazero.CompilationCache
	if cacheDir != "" {
		if c, err := wazero.NewCompilationCacheWithDir(cacheDir); err == nil {
			cache = c
		}
	}

	if cache == nil {
		cache = wazero.NewCompilationCache()
		cacheDir = ""
	}

	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)

	return cacheDir
}

func init() {
	_ = setupWASMCache()
}

// openPragmas are appended to every file connection string: foreign keys on,
// 30s busy timeout, NORMAL synchronous, 64 MiB page cache, memory temp store.
const openPragmas = "_pragma=foreign_keys(ON)" +
	"&_pragma=busy_timeout(30000)" +
	"&_pragma=synchronous(NORMAL)" +
	"&_pragma=cache_size(-65536)" +
	"&_pragma=temp_store(MEMORY)" +
	"&_time_format=sqlite"

// New creates a new SQLite storage backend
func New(ctx context.Context, path string) (*Store, error) {
	// Build connection string with proper URI syntax.
	// For :memory: databases, use shared cache so multiple connections see the
	// same data. WAL mode doesn't work with shared in-memory databases, so
	// they stay on DELETE journaling.
	var connStr string
	if path == ":memory:" {
		connStr = "file:memdb?mode=memory&cache=shared&_pragma=journal_mode(DELETE)&" + openPragmas
	} else if strings.HasPrefix(path, "file:") {
		connStr = path
		if !strings.Contains(path, "_pragma=foreign_keys") {
			connStr += "&" + openPragmas
		}
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		connStr = "file:" + path + "?" + openPragmas
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// In-memory databases are isolated per connection by default; force a
	// single connection so every query sees the same data.
	isInMemory := path == ":memory:" ||
		(strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory"))
	if isInMemory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		// WAL supports 1 writer + N readers; bound the pool to prevent
		// goroutine pile-up on write lock contention.
		maxConns := runtime.NumCPU() + 1
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(0) // SQLite doesn't need connection recycling
	}

	// Enable WAL for file-based databases. If the filesystem rejects WAL
	// (some network mounts), fall back to rollback journaling.
	if !isInMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			if _, err := db.Exec("PRAGMA journal_mode=DELETE"); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to set journal mode: %w", err)
			}
		}
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Run all migrations
	if err := RunMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Every store carries a stable workspace identity; it salts hash ID
	// generation so identical titles in different workspaces diverge.
	if err := ensureWorkspaceID(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Convert to absolute path for consistency (but keep :memory: as-is)
	absPath := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		absPath, err = filepath.Abs(path)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
	}

	return &Store{
		db:     db,
		dbPath: absPath,
	}, nil
}

// ensureWorkspaceID writes a random workspace_id into metadata on first open.
func ensureWorkspaceID(db *sql.DB) error {
	var existing string
	err := db.QueryRow(`SELECT value FROM metadata WHERE key = 'workspace_id'`).Scan(&existing)
	if err == nil && existing != "" {
		return nil
	}
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read workspace_id: %w", err)
	}

	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("failed to generate workspace_id: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO metadata (key, value) VALUES ('workspace_id', ?)
		ON CONFLICT (key) DO NOTHING
	`, hex.EncodeToString(buf))
	return err
}

// Close closes the database connection.
// It checkpoints the WAL to ensure all writes are flushed to the main
// database file; without this, writes may be stranded in the WAL and lost
// between short-lived invocations.
func (s *Store) Close() error {
	s.closed.Store(true)
	s.reconnectMu.Lock()
	defer s.reconnectMu.Unlock()
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// Path returns the absolute path to the database file
func (s *Store) Path() string {
	return s.dbPath
}

// IsClosed returns true if Close() has been called on this storage
func (s *Store) IsClosed() bool {
	return s.closed.Load()
}

// SetExternalResolver installs the resolver used for external dependency
// sentinels. Pass nil to leave sentinels unresolved.
func (s *Store) SetExternalResolver(r storage.ExternalResolver) {
	s.external = r
}

// CheckpointWAL checkpoints the WAL file to flush changes to the main database
// file. Makes the database safe for backup/copy operations and reduces the
// WAL file size after large imports.
func (s *Store) CheckpointWAL(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(FULL)")
	return err
}

// UnderlyingDB returns the underlying *sql.DB connection for extensions.
// The Store owns the connection lifecycle: do not Close it, change pool
// settings, or alter PRAGMAs.
func (s *Store) UnderlyingDB() *sql.DB {
	return s.db
}
