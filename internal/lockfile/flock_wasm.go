//go:build js && wasm

package lockfile

import "os"

// WASM doesn't support file locking and is single-process anyway;
// all lock operations are no-ops.

func flockExclusiveNonBlocking(f *os.File) error { return nil }

func flockExclusiveBlocking(f *os.File) error { return nil }

func flockUnlock(f *os.File) error { return nil }
