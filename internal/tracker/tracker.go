// Package tracker implements the ExternalChangeTracker: the broker's
// last-known view of each file it has touched, used to detect edits made
// outside the broker between a read and a subsequent write (spec.md §4.E).
//
// Grounded on the teacher's internal/ticket/cache.go staleness-detection
// idea — compare a cached digest to the current on-disk state before
// trusting cached data — reimplemented as a pure in-memory map instead of
// the teacher's mmap'd binary cache file, since spec.md §1/§3 rule out any
// persistence across process restarts.
package tracker

import (
	"sync"

	"github.com/agentfs/broker/pkg/codec"
	"github.com/agentfs/broker/pkg/sandbox"
)

// FileSnapshot is the broker's last-known state of a file, per spec.md §4.E.
type FileSnapshot struct {
	Path      sandbox.SafePath
	Content   []byte
	CRC32C    uint32
	Encoding  codec.Encoding
	LineCount uint32
	TakenAt   int64
}

// Result is the outcome of [Tracker.Check].
type Result int

const (
	// NoChange: a snapshot exists and its CRC matches current.
	NoChange Result = iota
	// FirstRead: no snapshot exists yet for this path.
	FirstRead
	// External: a snapshot exists and its CRC differs from current.
	External
)

func (r Result) String() string {
	switch r {
	case NoChange:
		return "NoChange"
	case FirstRead:
		return "FirstRead"
	case External:
		return "External"
	default:
		return "Unknown"
	}
}

// Tracker holds one [FileSnapshot] per path.
//
// Guarded by its own mutex per spec.md §5 ("ExternalChangeTracker... each
// guarded by its own lock").
type Tracker struct {
	mu        sync.Mutex
	snapshots map[string]FileSnapshot
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{snapshots: make(map[string]FileSnapshot)}
}

// Check reports whether currentCRC diverges from the stored snapshot for
// path, without mutating the tracker's state — the caller decides whether
// to call Update, per spec.md §4.E ("The snapshot is not updated by check").
func (t *Tracker) Check(path sandbox.SafePath, currentCRC uint32) (Result, *FileSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap, ok := t.snapshots[path.String()]
	if !ok {
		return FirstRead, nil
	}

	if snap.CRC32C != currentCRC {
		prev := snap
		return External, &prev
	}

	return NoChange, nil
}

// Update replaces the snapshot for path unconditionally.
func (t *Tracker) Update(snap FileSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snapshots[snap.Path.String()] = snap
}

// Register inserts snap only if no snapshot exists yet for its path.
func (t *Tracker) Register(snap FileSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.snapshots[snap.Path.String()]; !ok {
		t.snapshots[snap.Path.String()] = snap
	}
}

// Get returns the current snapshot for path, if any.
func (t *Tracker) Get(path sandbox.SafePath) (FileSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap, ok := t.snapshots[path.String()]

	return snap, ok
}

// Drop removes the snapshot for path, e.g. on delete (spec.md §3's
// "dropped when file is deleted" lifecycle rule).
func (t *Tracker) Drop(path sandbox.SafePath) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.snapshots, path.String())
}

// Migrate moves the snapshot stored under oldPath (if any) to newPath, so a
// move/rename preserves token-visibility for the destination path per
// spec.md §10 scenario 6 ("the tracker's snapshot key was migrated").
func (t *Tracker) Migrate(oldPath, newPath sandbox.SafePath) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap, ok := t.snapshots[oldPath.String()]
	if !ok {
		return
	}

	delete(t.snapshots, oldPath.String())
	snap.Path = newPath
	t.snapshots[newPath.String()] = snap
}
