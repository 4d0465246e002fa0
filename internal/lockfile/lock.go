// Package lockfile provides the cross-process advisory lock that serializes
// mirror synchronization. Import and full export hold the lock for the whole
// atomic sequence (snapshot → write temp → rename → metadata update).
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// SyncLockName is the fixed lock file name within the workspace directory.
const SyncLockName = ".sync.lock"

// ErrLockBusy is returned by non-blocking acquisition when another process
// holds the lock.
var ErrLockBusy = errors.New("sync lock held by another process")

// SyncLock is a cross-process advisory lock backed by flock (or the platform
// equivalent) on <workspace>/.sync.lock.
type SyncLock struct {
	path string
	file *os.File
}

// NewSyncLock builds the lock for a workspace directory without acquiring it.
func NewSyncLock(workspaceDir string) *SyncLock {
	return &SyncLock{path: filepath.Join(workspaceDir, SyncLockName)}
}

// Acquire takes the exclusive lock, blocking until it is available.
func (l *SyncLock) Acquire() error {
	return l.acquire(true)
}

// TryAcquire takes the exclusive lock without blocking.
// Returns ErrLockBusy when another process holds it.
func (l *SyncLock) TryAcquire() error {
	return l.acquire(false)
}

func (l *SyncLock) acquire(block bool) error {
	if l.file != nil {
		return nil // already held
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600) // #nosec G304 - fixed name in workspace
	if err != nil {
		return fmt.Errorf("failed to open sync lock %s: %w", l.path, err)
	}

	if block {
		err = flockExclusiveBlocking(f)
	} else {
		err = flockExclusiveNonBlocking(f)
	}
	if err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLockBusy) {
			return ErrLockBusy
		}
		return fmt.Errorf("failed to lock %s: %w", l.path, err)
	}

	l.file = f
	return nil
}

// Release drops the lock. Safe to call when not held.
func (l *SyncLock) Release() error {
	if l.file == nil {
		return nil
	}
	err := flockUnlock(l.file)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return err
	}
	return closeErr
}
