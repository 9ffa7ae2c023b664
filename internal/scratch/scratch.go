// Package scratch allocates run-private temporary directories for fetched
// external artifacts.
//
// Allocated directories are never reused across runs and are not cleaned up
// on exit: on a disposable CI runner the OS owns their lifecycle. Long-lived
// callers use Release for scoped cleanup.
package scratch

import (
	"fmt"
	"os"

	"stagehand/internal/logging"
)

// Allocator creates scratch directories under a fixed base path.
type Allocator struct {
	// Base is the parent directory for scratch dirs. Empty means the system
	// temp directory.
	Base string
}

// Allocate atomically creates a uniquely named scratch directory. The random
// suffix guarantees no collision with concurrent invocations. Fails when the
// base path is not writable.
func (a Allocator) Allocate() (string, error) {
	dir, err := os.MkdirTemp(a.Base, "stagehand-*")
	if err != nil {
		return "", fmt.Errorf("create scratch directory: %w", err)
	}
	logging.BootDebug("Scratch directory: %s", dir)
	return dir, nil
}

// Release removes a previously allocated directory and everything in it.
func (a Allocator) Release(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}
