package journal_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/agentfs/broker/internal/journal"
)

// memApplier is an in-memory [journal.FileApplier] for tests, so rollback
// and redo behavior can be asserted without touching disk.
type memApplier struct {
	files map[string][]byte
}

func newMemApplier() *memApplier {
	return &memApplier{files: make(map[string][]byte)}
}

func (m *memApplier) WriteBytes(path string, content []byte) error {
	cp := append([]byte(nil), content...)
	m.files[path] = cp

	return nil
}

func (m *memApplier) ReadBytes(path string) ([]byte, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, errors.New("not found")
	}

	return data, nil
}

func (m *memApplier) Delete(path string) error {
	delete(m.files, path)
	return nil
}

func (m *memApplier) Rename(from, to string) error {
	data, ok := m.files[from]
	if !ok {
		return errors.New("not found")
	}

	delete(m.files, from)
	m.files[to] = data

	return nil
}

func TestCommit_PushesOntoUndoStack(t *testing.T) {
	t.Parallel()

	app := newMemApplier()
	j := journal.New(app)

	app.files["a.txt"] = []byte("Safe")

	txn, err := j.Begin("edit a.txt", "")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if err := txn.Backup("a.txt", []byte("Safe")); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	app.files["a.txt"] = []byte("Broken")

	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, err := j.Undo(); err != nil {
		t.Fatalf("Undo: %v", err)
	}

	if string(app.files["a.txt"]) != "Safe" {
		t.Fatalf("after undo, a.txt=%q, want %q", app.files["a.txt"], "Safe")
	}
}

func TestRedo_ReappliesAfterState(t *testing.T) {
	t.Parallel()

	app := newMemApplier()
	j := journal.New(app)

	app.files["a.txt"] = []byte("Safe")

	txn, _ := j.Begin("edit", "")
	_ = txn.Backup("a.txt", []byte("Safe"))
	app.files["a.txt"] = []byte("Broken")
	_ = txn.Commit()

	_, err := j.Undo()
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}

	_, err = j.Redo()
	if err != nil {
		t.Fatalf("Redo: %v", err)
	}

	if string(app.files["a.txt"]) != "Broken" {
		t.Fatalf("after redo, a.txt=%q, want %q", app.files["a.txt"], "Broken")
	}
}

func TestNewRootCommit_ClearsRedoStack(t *testing.T) {
	t.Parallel()

	app := newMemApplier()
	j := journal.New(app)

	app.files["a.txt"] = []byte("v1")
	txn1, _ := j.Begin("edit1", "")
	_ = txn1.Backup("a.txt", []byte("v1"))
	app.files["a.txt"] = []byte("v2")
	_ = txn1.Commit()

	_, err := j.Undo()
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}

	txn2, _ := j.Begin("edit2", "")
	_ = txn2.Backup("a.txt", []byte("v1"))
	app.files["a.txt"] = []byte("v3")
	_ = txn2.Commit()

	_, err = j.Redo()
	if !errors.Is(err, journal.ErrNothingToRedo) {
		t.Fatalf("err=%v, want ErrNothingToRedo (new root commit must clear redo stack)", err)
	}
}

func TestRollback_OnlyUndoesThisTransaction(t *testing.T) {
	t.Parallel()

	app := newMemApplier()
	j := journal.New(app)

	app.files["x.txt"] = []byte("Safe")
	app.files["y.txt"] = []byte("Danger")

	txn, _ := j.Begin("batch", "")
	_ = txn.Backup("x.txt", []byte("Safe"))
	app.files["x.txt"] = []byte("Broken")

	if err := txn.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if string(app.files["x.txt"]) != "Safe" {
		t.Fatalf("x.txt=%q, want %q after rollback", app.files["x.txt"], "Safe")
	}

	if string(app.files["y.txt"]) != "Danger" {
		t.Fatalf("y.txt=%q, want %q (untouched)", app.files["y.txt"], "Danger")
	}
}

func TestNestedCommit_FoldsIntoParent(t *testing.T) {
	t.Parallel()

	app := newMemApplier()
	j := journal.New(app)

	app.files["a.txt"] = []byte("v1")

	parent, _ := j.Begin("outer", "")
	child, _ := j.Begin("inner", "")

	_ = child.Backup("a.txt", []byte("v1"))
	app.files["a.txt"] = []byte("v2")

	if err := child.Commit(); err != nil {
		t.Fatalf("child Commit: %v", err)
	}

	if err := parent.Commit(); err != nil {
		t.Fatalf("parent Commit: %v", err)
	}

	if _, err := j.Undo(); err != nil {
		t.Fatalf("Undo: %v", err)
	}

	if string(app.files["a.txt"]) != "v1" {
		t.Fatalf("a.txt=%q, want v1 after undoing the parent", app.files["a.txt"])
	}
}

func TestCheckpointAndRollbackTo(t *testing.T) {
	t.Parallel()

	app := newMemApplier()
	j := journal.New(app)

	app.files["a.txt"] = []byte("v0")

	j.Checkpoint("start")

	for i, v := range []string{"v1", "v2", "v3"} {
		before := app.files["a.txt"]
		txn, _ := j.Begin("step", "")
		_ = txn.Backup("a.txt", before)
		app.files["a.txt"] = []byte(v)

		if err := txn.Commit(); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}

	undone, err := j.RollbackTo("start")
	if err != nil {
		t.Fatalf("RollbackTo: %v", err)
	}

	if len(undone) != 3 {
		t.Fatalf("undone=%d, want 3", len(undone))
	}

	if string(app.files["a.txt"]) != "v0" {
		t.Fatalf("a.txt=%q, want v0 after RollbackTo(start)", app.files["a.txt"])
	}
}

func TestRecordExternalChange_WithoutOpenTransactionCommitsSingleton(t *testing.T) {
	t.Parallel()

	app := newMemApplier()
	j := journal.New(app)

	err := j.RecordExternalChange("a.txt", []byte("old"), 1, 2, "detected external edit")
	if err != nil {
		t.Fatalf("RecordExternalChange: %v", err)
	}

	hist := j.HistoryOf("a.txt")
	if len(hist) != 1 {
		t.Fatalf("HistoryOf returned %d entries, want 1: %v", len(hist), hist)
	}
}

func TestHistoryOf_TracksRenamedPath(t *testing.T) {
	t.Parallel()

	app := newMemApplier()
	j := journal.New(app)

	app.files["m.txt"] = []byte("hi")

	txn, _ := j.Begin("move", "")
	_ = txn.RecordRename("m.txt", "sub/n.txt", "moved to sub/")
	_ = txn.Commit()

	hist := j.HistoryOf("sub/n.txt")
	if len(hist) != 1 {
		t.Fatalf("HistoryOf(sub/n.txt)=%v, want 1 entry", hist)
	}
}

func TestJournalText_MarksExternalChanges(t *testing.T) {
	t.Parallel()

	app := newMemApplier()
	j := journal.New(app)

	_ = j.RecordExternalChange("a.txt", []byte("old"), 1, 2, "detected")

	text := j.JournalText()
	if !strings.Contains(text, "[EXTERNAL]") {
		t.Fatalf("JournalText()=%q, want it to contain [EXTERNAL]", text)
	}
}
