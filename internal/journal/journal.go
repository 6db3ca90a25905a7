// Package journal implements the TransactionJournal: nested, in-memory
// transactions with undo/redo stacks and named checkpoints, backing every
// mutating broker operation so it can be rolled back or undone (spec.md
// §4.F).
//
// Grounded on the teacher's internal/store/tx.go + wal.go commit-sequence
// idiom: buffer ops in a transaction object, encode/checksum them, treat a
// single step as the commit point, then apply effects. Changed for spec.md
// §1/§3 ("no persistence across restarts"): there is no WAL file and no
// SQLite index to update — a transaction's entries live purely in memory,
// and "commit" means pushing onto an in-process undo stack rather than
// fsyncing a log. Nesting, undo/redo stacks, and named checkpoints have no
// teacher analog (the teacher's Tx is flat and non-nestable); they are new
// code following the teacher's same buffer-then-apply shape.
package journal

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/agentfs/broker/pkg/digest"
)

// EntryKind identifies what a journal [Entry] records.
type EntryKind int

const (
	EntryFileMutation EntryKind = iota
	EntryFileCreate
	EntryFileDelete
	EntryFileRename
	EntryExternalChange
)

func (k EntryKind) String() string {
	switch k {
	case EntryFileMutation:
		return "FileMutation"
	case EntryFileCreate:
		return "FileCreate"
	case EntryFileDelete:
		return "FileDelete"
	case EntryFileRename:
		return "FileRename"
	case EntryExternalChange:
		return "ExternalChange"
	default:
		return "Unknown"
	}
}

// Entry is one recorded change within a transaction.
type Entry struct {
	Kind        EntryKind
	Path        string
	ToPath      string // only for EntryFileRename
	Description string

	BeforeBytes []byte
	BeforeCRC   uint32
	AfterBytes  []byte // filled in at commit time for EntryFileMutation and EntryExternalChange
	AfterCRC    uint32
	haveAfter   bool
}

// LineDelta is the number of lines added (positive) or removed (negative)
// by this entry, used by JournalText/HistoryOf. Returns 0 if before/after
// content isn't available for this entry kind.
func (e Entry) LineDelta() int {
	before := countLines(e.BeforeBytes)

	switch e.Kind {
	case EntryFileMutation:
		if !e.haveAfter {
			return 0
		}

		return countLines(e.AfterBytes) - before
	case EntryFileCreate:
		return countLines(e.AfterBytes)
	case EntryFileDelete:
		return -before
	default:
		return 0
	}
}

func countLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}

	n := strings.Count(string(content), "\n")
	if content[len(content)-1] != '\n' {
		n++
	}

	return n
}

// FileApplier is the minimal filesystem seam the journal needs to apply a
// rollback/undo/redo: write raw bytes, delete a path, or rename a path.
// Encoding and atomicity are the implementation's concern ([FSApplier] in
// this package, which internal/broker uses, writes through natefinch/atomic);
// the journal only ever moves raw bytes captured by Backup/RecordDelete.
type FileApplier interface {
	WriteBytes(path string, content []byte) error
	ReadBytes(path string) ([]byte, error)
	Delete(path string) error
	Rename(from, to string) error
}

// state is a Transaction's position in the spec.md §4.F state machine.
type state int

const (
	stateActive state = iota
	stateCommitted
	stateRolledBack
)

// ErrNotActive is returned by Transaction methods called after commit or
// rollback.
var ErrNotActive = errors.New("journal: transaction is not active")

// Transaction buffers entries until Commit or Rollback. Begin may nest: a
// transaction started while another is open becomes that transaction's
// child, and its entries fold into the parent on commit instead of
// becoming independently undoable (spec.md §4.F).
type Transaction struct {
	j      *Journal
	id     string
	desc   string
	instr  string
	parent *Transaction

	entries  []*Entry
	backedUp map[string]*Entry // path -> its pending FileMutation entry, for "backup only once per path per txn"

	st state
}

// ID returns the transaction's UUIDv7-derived identifier.
func (t *Transaction) ID() string { return t.id }

// Description returns the description Begin was called with.
func (t *Transaction) Description() string { return t.desc }

func (t *Transaction) requireActive(op string) error {
	if t.st != stateActive {
		return fmt.Errorf("journal: %s: %w", op, ErrNotActive)
	}

	return nil
}

// Backup captures content/crc as the pre-mutation state for path, once per
// (transaction, path) pair — a second Backup call for the same path within
// the same transaction is a no-op, per spec.md §4.F.
func (t *Transaction) Backup(path string, content []byte) error {
	if err := t.requireActive("backup"); err != nil {
		return err
	}

	if _, ok := t.backedUp[path]; ok {
		return nil
	}

	e := &Entry{
		Kind:        EntryFileMutation,
		Path:        path,
		BeforeBytes: content,
		BeforeCRC:   digest.Bytes(content),
	}

	t.entries = append(t.entries, e)
	t.backedUp[path] = e

	return nil
}

// RecordCreate notes that path was newly created (content is its written
// content, used for JournalText/HistoryOf line deltas).
func (t *Transaction) RecordCreate(path string, content []byte, description string) error {
	if err := t.requireActive("record_create"); err != nil {
		return err
	}

	t.entries = append(t.entries, &Entry{
		Kind:        EntryFileCreate,
		Path:        path,
		AfterBytes:  content,
		AfterCRC:    digest.Bytes(content),
		haveAfter:   true,
		Description: description,
	})

	return nil
}

// RecordDelete notes that path was deleted, carrying its pre-delete bytes
// so rollback/undo can recreate it.
func (t *Transaction) RecordDelete(path string, beforeBytes []byte, description string) error {
	if err := t.requireActive("record_delete"); err != nil {
		return err
	}

	t.entries = append(t.entries, &Entry{
		Kind:        EntryFileDelete,
		Path:        path,
		BeforeBytes: beforeBytes,
		BeforeCRC:   digest.Bytes(beforeBytes),
		Description: description,
	})

	return nil
}

// RecordRename notes that from was renamed to to.
func (t *Transaction) RecordRename(from, to, description string) error {
	if err := t.requireActive("record_rename"); err != nil {
		return err
	}

	t.entries = append(t.entries, &Entry{
		Kind:        EntryFileRename,
		Path:        from,
		ToPath:      to,
		Description: description,
	})

	return nil
}

// RecordExternalChange appends an ExternalChange entry to the active
// transaction, or opens and immediately commits a singleton transaction if
// none is open, per spec.md §4.F, so undo can always recover the
// pre-external state.
func (j *Journal) RecordExternalChange(path string, beforeBytes []byte, beforeCRC, afterCRC uint32, description string) error {
	j.mu.Lock()
	active := j.innermostLocked()
	j.mu.Unlock()

	entry := &Entry{
		Kind:        EntryExternalChange,
		Path:        path,
		BeforeBytes: beforeBytes,
		BeforeCRC:   beforeCRC,
		AfterCRC:    afterCRC,
		haveAfter:   true,
		Description: description,
	}

	if active != nil {
		if err := active.requireActive("record_external_change"); err != nil {
			return err
		}

		active.entries = append(active.entries, entry)

		return nil
	}

	singleton, err := j.Begin("external change: "+path, "")
	if err != nil {
		return fmt.Errorf("journal: record_external_change: %w", err)
	}

	singleton.entries = append(singleton.entries, entry)

	return singleton.Commit()
}

// Commit closes the transaction. A nested transaction's entries fold into
// its parent, which stays active. A root transaction's entries (with
// after-snapshots captured for every pending FileMutation and
// ExternalChange) are pushed onto the undo stack and the redo stack is
// cleared.
func (t *Transaction) Commit() error {
	if err := t.requireActive("commit"); err != nil {
		return err
	}

	t.j.mu.Lock()
	defer t.j.mu.Unlock()

	if len(t.j.open) == 0 || t.j.open[len(t.j.open)-1] != t {
		return fmt.Errorf("journal: commit: %w: not the innermost open transaction", ErrNotActive)
	}

	t.j.open = t.j.open[:len(t.j.open)-1]
	t.st = stateCommitted

	if t.parent != nil {
		t.parent.entries = append(t.parent.entries, t.entries...)
		for path, e := range t.backedUp {
			if _, already := t.parent.backedUp[path]; !already {
				t.parent.backedUp[path] = e
			}
		}

		return nil
	}

	for _, e := range t.entries {
		if e.Kind == EntryExternalChange && e.AfterBytes == nil {
			// The externally changed content is what is on disk now; an
			// unreadable path leaves AfterBytes empty.
			if after, err := t.j.applier.ReadBytes(e.Path); err == nil {
				e.AfterBytes = after
			}
		}

		if e.Kind == EntryFileMutation && !e.haveAfter {
			after, err := t.j.applier.ReadBytes(e.Path)
			if err != nil {
				return fmt.Errorf("journal: commit: capturing after-state of %q: %w", e.Path, err)
			}

			e.AfterBytes = after
			e.AfterCRC = digest.Bytes(after)
			e.haveAfter = true
		}
	}

	t.j.undoStack = append(t.j.undoStack, t)
	t.j.redoStack = nil

	return nil
}

// Rollback undoes this transaction's entries in reverse using their
// backups. If nested, the parent transaction remains active and
// unaffected.
func (t *Transaction) Rollback() error {
	if err := t.requireActive("rollback"); err != nil {
		return err
	}

	t.j.mu.Lock()
	if len(t.j.open) == 0 || t.j.open[len(t.j.open)-1] != t {
		t.j.mu.Unlock()
		return fmt.Errorf("journal: rollback: %w: not the innermost open transaction", ErrNotActive)
	}

	t.j.open = t.j.open[:len(t.j.open)-1]
	t.st = stateRolledBack
	t.j.mu.Unlock()

	return t.j.applyInverse(t.entries)
}

// Journal owns the open-transaction stack plus the undo/redo history of
// committed root transactions.
type Journal struct {
	mu          sync.Mutex
	applier     FileApplier
	open        []*Transaction
	undoStack   []*Transaction
	redoStack   []*Transaction
	checkpoints map[string]int
}

// New creates a Journal that applies rollback/undo/redo through applier.
func New(applier FileApplier) *Journal {
	return &Journal{applier: applier, checkpoints: make(map[string]int)}
}

func (j *Journal) innermostLocked() *Transaction {
	if len(j.open) == 0 {
		return nil
	}

	return j.open[len(j.open)-1]
}

// Begin starts a new transaction, nested inside whatever transaction is
// currently innermost, if any.
func (j *Journal) Begin(description, instruction string) (*Transaction, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("journal: begin: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	t := &Transaction{
		j:        j,
		id:       id.String(),
		desc:     description,
		instr:    instruction,
		parent:   j.innermostLocked(),
		backedUp: make(map[string]*Entry),
	}

	j.open = append(j.open, t)

	return t, nil
}

// applyInverse undoes entries in reverse order, the shared logic behind
// Rollback and Undo.
func (j *Journal) applyInverse(entries []*Entry) error {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]

		var err error

		switch e.Kind {
		case EntryFileMutation, EntryExternalChange:
			err = j.applier.WriteBytes(e.Path, e.BeforeBytes)
		case EntryFileCreate:
			err = j.applier.Delete(e.Path)
		case EntryFileDelete:
			err = j.applier.WriteBytes(e.Path, e.BeforeBytes)
		case EntryFileRename:
			err = j.applier.Rename(e.ToPath, e.Path)
		}

		if err != nil {
			return fmt.Errorf("journal: undoing %s on %q: %w", e.Kind, e.Path, err)
		}
	}

	return nil
}

// applyForward re-applies entries in original order, the shared logic
// behind Redo.
func (j *Journal) applyForward(entries []*Entry) error {
	for _, e := range entries {
		var err error

		switch e.Kind {
		case EntryFileMutation, EntryExternalChange:
			err = j.applier.WriteBytes(e.Path, e.AfterBytes)
		case EntryFileCreate:
			err = j.applier.WriteBytes(e.Path, e.AfterBytes)
		case EntryFileDelete:
			err = j.applier.Delete(e.Path)
		case EntryFileRename:
			err = j.applier.Rename(e.Path, e.ToPath)
		}

		if err != nil {
			return fmt.Errorf("journal: redoing %s on %q: %w", e.Kind, e.Path, err)
		}
	}

	return nil
}

// ErrNothingToUndo / ErrNothingToRedo report an empty stack.
var (
	ErrNothingToUndo = errors.New("journal: nothing to undo")
	ErrNothingToRedo = errors.New("journal: nothing to redo")
)

// Undo pops the most recent committed root transaction, reverse-applies
// its entries, and pushes it onto the redo stack.
func (j *Journal) Undo() (*Transaction, error) {
	j.mu.Lock()
	if len(j.undoStack) == 0 {
		j.mu.Unlock()
		return nil, ErrNothingToUndo
	}

	t := j.undoStack[len(j.undoStack)-1]
	j.undoStack = j.undoStack[:len(j.undoStack)-1]
	j.mu.Unlock()

	if err := j.applyInverse(t.entries); err != nil {
		return nil, err
	}

	j.mu.Lock()
	j.redoStack = append(j.redoStack, t)
	j.mu.Unlock()

	return t, nil
}

// Redo pops the most recently undone transaction, re-applies it, and
// pushes it back onto the undo stack.
func (j *Journal) Redo() (*Transaction, error) {
	j.mu.Lock()
	if len(j.redoStack) == 0 {
		j.mu.Unlock()
		return nil, ErrNothingToRedo
	}

	t := j.redoStack[len(j.redoStack)-1]
	j.redoStack = j.redoStack[:len(j.redoStack)-1]
	j.mu.Unlock()

	if err := j.applyForward(t.entries); err != nil {
		return nil, err
	}

	j.mu.Lock()
	j.undoStack = append(j.undoStack, t)
	j.mu.Unlock()

	return t, nil
}

// Checkpoint records name as an alias for the current undo-stack depth, so
// RollbackTo(name) can later undo every transaction committed since.
func (j *Journal) Checkpoint(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.checkpoints[name] = len(j.undoStack)
}

// ErrUnknownCheckpoint is returned by RollbackTo for an unregistered name.
var ErrUnknownCheckpoint = errors.New("journal: unknown checkpoint")

// RollbackTo undoes every transaction committed after name's checkpoint,
// returning them in the order they were undone (most recent first).
func (j *Journal) RollbackTo(name string) ([]*Transaction, error) {
	j.mu.Lock()
	depth, ok := j.checkpoints[name]
	j.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCheckpoint, name)
	}

	var undone []*Transaction

	for {
		j.mu.Lock()
		current := len(j.undoStack)
		j.mu.Unlock()

		if current <= depth {
			break
		}

		t, err := j.Undo()
		if err != nil {
			return undone, err
		}

		undone = append(undone, t)
	}

	return undone, nil
}

// JournalText renders a human-readable listing of every committed root
// transaction: its description, each entry's line delta, and "[EXTERNAL]"
// markers on externally-detected changes.
func (j *Journal) JournalText() string {
	j.mu.Lock()
	defer j.mu.Unlock()

	var b strings.Builder

	for _, t := range j.undoStack {
		fmt.Fprintf(&b, "%s: %s\n", t.id, t.desc)

		for _, e := range t.entries {
			marker := ""
			if e.Kind == EntryExternalChange {
				marker = " [EXTERNAL]"
			}

			fmt.Fprintf(&b, "  %s %s (%+d lines)%s\n", e.Kind, e.Path, e.LineDelta(), marker)
		}
	}

	return b.String()
}

// HistoryOf returns per-entry descriptions and line deltas for path across
// every committed root transaction, including external changes.
func (j *Journal) HistoryOf(path string) []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []string

	for _, t := range j.undoStack {
		for _, e := range t.entries {
			if e.Path != path && e.ToPath != path {
				continue
			}

			desc := e.Description
			if desc == "" {
				desc = t.desc
			}

			marker := ""
			if e.Kind == EntryExternalChange {
				marker = " [external]"
			}

			out = append(out, fmt.Sprintf("%s: %s (%+d lines)%s", e.Kind, desc, e.LineDelta(), marker))
		}
	}

	return out
}
