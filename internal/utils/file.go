package utils

import (
	"fmt"
	"os"
	"runtime"
	"time"
)

// RenameWithRetry performs an atomic file rename with retry logic for Windows.
// On Windows, renames can fail with "Access is denied" while another process
// holds a handle on the target file; retries with exponential backoff absorb
// the transient lock. On other platforms the first error is final.
func RenameWithRetry(oldPath, newPath string, maxRetries int, initialDelay time.Duration) error {
	var lastErr error
	delay := initialDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := os.Rename(oldPath, newPath)
		if err == nil {
			return nil
		}
		lastErr = err

		// On non-Windows, don't retry - the error is likely permanent
		if runtime.GOOS != "windows" {
			break
		}

		// Don't sleep after the last attempt
		if attempt < maxRetries {
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("rename failed after %d attempt(s): %w", maxRetries+1, lastErr)
}

// DefaultRenameRetry calls RenameWithRetry with sensible defaults for Windows:
// 3 retries with 100ms initial delay (100ms, 200ms, 400ms = 700ms max wait)
func DefaultRenameRetry(oldPath, newPath string) error {
	return RenameWithRetry(oldPath, newPath, 3, 100*time.Millisecond)
}
