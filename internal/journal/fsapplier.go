package journal

import (
	"fmt"
	"os"
	"strings"

	"github.com/natefinch/atomic"
)

// FSApplier is the production [FileApplier]: it restores backed-up bytes to
// disk atomically via natefinch/atomic rather than pkg/fsx.AtomicWriter, so
// that a rollback/undo/redo mid-write can never leave a half-restored file
// on disk next to the broker's own in-flight writes.
type FSApplier struct{}

// NewFSApplier creates an FSApplier.
func NewFSApplier() *FSApplier { return &FSApplier{} }

// WriteBytes atomically (over)writes path with content.
func (FSApplier) WriteBytes(path string, content []byte) error {
	if err := atomic.WriteFile(path, strings.NewReader(string(content))); err != nil {
		return fmt.Errorf("journal: writing %q: %w", path, err)
	}

	return nil
}

// ReadBytes reads path's current content.
func (FSApplier) ReadBytes(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("journal: reading %q: %w", path, err)
	}

	return data, nil
}

// Delete removes path.
func (FSApplier) Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("journal: deleting %q: %w", path, err)
	}

	return nil
}

// Rename moves from to to.
func (FSApplier) Rename(from, to string) error {
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("journal: renaming %q to %q: %w", from, to, err)
	}

	return nil
}
