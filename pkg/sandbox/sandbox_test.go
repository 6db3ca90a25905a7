package sandbox_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentfs/broker/pkg/fsx"
	"github.com/agentfs/broker/pkg/sandbox"
)

func newSandbox(t *testing.T, root string) *sandbox.Sandbox {
	t.Helper()

	sb, err := sandbox.New(fsx.NewReal(), []string{root})
	if err != nil {
		t.Fatalf("sandbox.New: %v", err)
	}

	return sb
}

func TestSanitize_AcceptsPathInsideRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	sb := newSandbox(t, root)

	got, err := sb.Sanitize("a.txt", true)
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}

	want, _ := filepath.Abs(filepath.Join(root, "a.txt"))
	if got.String() != want {
		t.Fatalf("got=%q, want=%q", got.String(), want)
	}
}

func TestSanitize_RejectsDotDotEscape(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	sb := newSandbox(t, root)

	_, err := sb.Sanitize("../../etc/passwd", false)
	if err == nil {
		t.Fatalf("want error for path escaping root, got nil")
	}
}

func TestSanitize_RejectsAbsolutePathOutsideRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	sb := newSandbox(t, root)

	_, err := sb.Sanitize(string(os.PathSeparator)+"etc"+string(os.PathSeparator)+"passwd", false)
	if err == nil {
		t.Fatalf("want error for absolute path outside root, got nil")
	}
}

func TestSanitize_RejectsProtectedSegment(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".git", "objects"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	sb := newSandbox(t, root)

	_, err := sb.Sanitize(filepath.Join(".git", "objects"), false)
	if err == nil {
		t.Fatalf("want error for protected .git path, got nil")
	}
}

func TestSanitize_RejectsBuildDirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	sb := newSandbox(t, root)

	_, err := sb.Sanitize(filepath.Join("build", "out.bin"), false)
	if err == nil {
		t.Fatalf("want error for protected build/ path, got nil")
	}
}

func TestSanitize_NotFoundWhenMustExist(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	sb := newSandbox(t, root)

	_, err := sb.Sanitize("missing.txt", true)
	if err == nil {
		t.Fatalf("want ErrNotFound, got nil")
	}
}

func TestSanitize_AllowsNotFoundForCreate(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	sb := newSandbox(t, root)

	got, err := sb.Sanitize("new-file.txt", false)
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}

	if filepath.Dir(got.String()) != mustAbs(t, root) {
		t.Fatalf("resolved dir=%q, want=%q", filepath.Dir(got.String()), root)
	}
}

func TestSanitize_PicksRootWhereFileExists(t *testing.T) {
	t.Parallel()

	rootA := t.TempDir()
	rootB := t.TempDir()

	if err := os.WriteFile(filepath.Join(rootB, "shared.txt"), []byte("b"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	sb, err := sandbox.New(fsx.NewReal(), []string{rootA, rootB})
	if err != nil {
		t.Fatalf("sandbox.New: %v", err)
	}

	got, err := sb.Sanitize("shared.txt", true)
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}

	if got.Root() != sandbox.ProjectRoot(mustAbs(t, rootB)) {
		t.Fatalf("root=%q, want=%q", got.Root(), rootB)
	}
}

func TestCheckFileSize_FailsAboveLimit(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := filepath.Join(root, "big.txt")
	if err := os.WriteFile(path, make([]byte, 100), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	sb := newSandbox(t, root)

	sp, err := sb.Sanitize("big.txt", true)
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}

	err = sb.CheckFileSize(sp, 10)
	if err == nil {
		t.Fatalf("want ErrTooLarge, got nil")
	}
}

func TestIsDirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	sb := newSandbox(t, root)

	sp, err := sb.Sanitize("sub", true)
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}

	isDir, err := sb.IsDirectory(sp)
	if err != nil {
		t.Fatalf("IsDirectory: %v", err)
	}

	if !isDir {
		t.Fatalf("IsDirectory=false, want true")
	}
}

func mustAbs(t *testing.T, p string) string {
	t.Helper()

	abs, err := filepath.Abs(p)
	if err != nil {
		t.Fatalf("filepath.Abs: %v", err)
	}

	return filepath.Clean(abs)
}
