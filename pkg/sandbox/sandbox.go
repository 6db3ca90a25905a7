// Package sandbox resolves caller-supplied paths to an absolute, normalized
// path proven to live inside one of the broker's configured project roots
// and outside the protected set.
//
// Every broker operation resolves caller-supplied paths through
// [Sandbox.Sanitize], and the tracker is keyed by [SafePath] — once
// constructed, callers may assume the path is safe. This is
// the single choke point spec.md §4.A calls for: "a single choke-point makes
// security review tractable."
//
// Grounded on the teacher's path-handling idiom (filepath.Clean/Join,
// sentinel errors wrapped with %w, e.g. internal/store/path.go) — the
// teacher has no root-containment sandbox of its own (a single-root ticket
// directory needs none), so the containment check itself is new code
// following that same idiom.
package sandbox

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/agentfs/broker/pkg/fsx"
)

// Sentinel errors for the PathError taxonomy (spec.md §7).
var (
	// ErrOutsideRoot indicates the resolved path does not live under any
	// configured project root.
	ErrOutsideRoot = errors.New("path is outside all project roots")

	// ErrProtected indicates the path (or an ancestor segment) is in the
	// protected set: .git, .nts, build-system directories, or the root's
	// own wrapper/build scripts.
	ErrProtected = errors.New("path is protected")

	// ErrNotFound indicates must_exist was requested and the path is absent.
	ErrNotFound = errors.New("path not found")

	// ErrIsDirectory indicates an operation that requires a file received a
	// directory.
	ErrIsDirectory = errors.New("path is a directory")

	// ErrTooLarge indicates the file exceeds the configured size limit.
	// Re-exported from pkg/fsx so callers only need to import one package
	// for PathError-kind matching.
	ErrTooLarge = fsx.ErrTooLarge
)

// DefaultSizeLimit is the default per-file size cap (10 MiB), per spec.md §4.A.
const DefaultSizeLimit = 10 * 1024 * 1024

// defaultProtectedNames are path segments (matched case-sensitively against
// any path component) that sanitize always rejects, regardless of root
// configuration.
var defaultProtectedNames = map[string]bool{
	".git":         true,
	".nts":         true,
	"build":        true,
	"target":       true,
	"node_modules": true,
	".gradle":      true,
}

// defaultProtectedFiles are additional root-level wrapper/build-script
// filenames rejected per spec.md §4.A ("the root's own build script and
// wrapper scripts").
var defaultProtectedFiles = map[string]bool{
	"gradlew":     true,
	"gradlew.bat": true,
	"mvnw":        true,
	"mvnw.cmd":    true,
	"Makefile":    true,
}

// ProjectRoot is an absolute, canonical directory that is the outermost
// boundary of all broker operations against it.
type ProjectRoot string

// SafePath is an absolute, canonical path proven to be inside some
// [ProjectRoot] and not in the protected set. The zero value is not a valid
// SafePath; only [Sandbox.Sanitize] constructs one.
type SafePath struct {
	abs  string
	root ProjectRoot
}

// String returns the absolute, canonical path.
func (p SafePath) String() string { return p.abs }

// Root returns the project root this path was resolved against.
func (p SafePath) Root() ProjectRoot { return p.root }

// RelPath returns the path relative to its root, using forward slashes
// regardless of OS, for stable display and glob matching.
func (p SafePath) RelPath() string {
	rel, err := filepath.Rel(string(p.root), p.abs)
	if err != nil {
		return p.abs
	}

	return filepath.ToSlash(rel)
}

// IsZero reports whether p is the unconstructed zero value.
func (p SafePath) IsZero() bool { return p.abs == "" }

// Sandbox resolves and authorizes paths against a fixed, immutable set of
// project roots.
type Sandbox struct {
	fs             fsx.FS
	roots          []ProjectRoot
	protectedNames map[string]bool
	protectedFiles map[string]bool
	defaultSizeCap int64
}

// Option configures a [Sandbox].
type Option func(*Sandbox)

// WithExtraProtectedNames adds additional protected path-segment names on
// top of the defaults (.git, .nts, build, target, node_modules, .gradle).
func WithExtraProtectedNames(names ...string) Option {
	return func(s *Sandbox) {
		for _, n := range names {
			s.protectedNames[n] = true
		}
	}
}

// WithDefaultSizeLimit overrides [DefaultSizeLimit].
func WithDefaultSizeLimit(limit int64) Option {
	return func(s *Sandbox) { s.defaultSizeCap = limit }
}

// New creates a Sandbox over the given project roots. Roots are canonicalized
// (made absolute, symlinks-cleaned via filepath.Clean — not EvalSymlinks,
// since project roots are trusted and may legitimately be symlinked sources)
// at construction time; the resulting set is immutable for the Sandbox's
// lifetime, per spec.md §3 ("Set of roots is immutable after process start").
//
// The first root is the primary root, used when sanitize can't determine
// which root a not-yet-existing path belongs to.
func New(fs fsx.FS, roots []string, opts ...Option) (*Sandbox, error) {
	if len(roots) == 0 {
		return nil, errors.New("sandbox: at least one project root is required")
	}

	s := &Sandbox{
		fs:             fs,
		protectedNames: cloneBoolSet(defaultProtectedNames),
		protectedFiles: cloneBoolSet(defaultProtectedFiles),
		defaultSizeCap: DefaultSizeLimit,
	}

	for _, opt := range opts {
		opt(s)
	}

	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("sandbox: resolving root %q: %w", r, err)
		}

		s.roots = append(s.roots, ProjectRoot(filepath.Clean(abs)))
	}

	return s, nil
}

func cloneBoolSet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

// PrimaryRoot returns the first configured root.
func (s *Sandbox) PrimaryRoot() ProjectRoot { return s.roots[0] }

// Roots returns the configured roots in order.
func (s *Sandbox) Roots() []ProjectRoot {
	out := make([]ProjectRoot, len(s.roots))
	copy(out, s.roots)

	return out
}

// Sanitize resolves userPath to a [SafePath].
//
// Resolution: userPath is tried relative to each configured root in order;
// the first root under which the resolved path exists wins. If it exists
// under none of them, it is resolved relative to the primary root (so that
// new files can be created). The result is cleaned (collapsing "."/".."),
// then the canonical result must be a descendant of some root and must not
// contain a protected segment.
//
// If mustExist is true, a path absent everywhere fails with [ErrNotFound].
func (s *Sandbox) Sanitize(userPath string, mustExist bool) (SafePath, error) {
	if userPath == "" {
		return SafePath{}, fmt.Errorf("sandbox: %w: path is empty", ErrNotFound)
	}

	if strings.Contains(filepath.Clean(userPath), "..") {
		return SafePath{}, fmt.Errorf("sandbox: %w: %q contains a parent-directory segment after normalization", ErrProtected, userPath)
	}

	root, abs := s.resolveRoot(userPath)

	abs = filepath.Clean(abs)

	if !isDescendant(string(root), abs) {
		return SafePath{}, fmt.Errorf("sandbox: %w: %q resolves to %q, outside %q", ErrOutsideRoot, userPath, abs, root)
	}

	if seg, bad := s.findProtectedSegment(string(root), abs); bad {
		return SafePath{}, fmt.Errorf("sandbox: %w: %q contains protected segment %q", ErrProtected, userPath, seg)
	}

	exists, err := s.fs.Exists(abs)
	if err != nil {
		return SafePath{}, fmt.Errorf("sandbox: checking existence of %q: %w", abs, err)
	}

	if mustExist && !exists {
		return SafePath{}, fmt.Errorf("sandbox: %w: %q", ErrNotFound, userPath)
	}

	return SafePath{abs: abs, root: root}, nil
}

// resolveRoot picks the root to resolve userPath against: the first root
// under which it currently exists, or the primary root otherwise.
func (s *Sandbox) resolveRoot(userPath string) (ProjectRoot, string) {
	if filepath.IsAbs(userPath) {
		// An absolute path is resolved as-is; the root is whichever
		// configured root contains it (checked by the caller via
		// isDescendant), defaulting to primary for error messages.
		for _, r := range s.roots {
			if isDescendant(string(r), filepath.Clean(userPath)) {
				return r, userPath
			}
		}

		return s.roots[0], userPath
	}

	for _, r := range s.roots {
		candidate := filepath.Join(string(r), userPath)

		exists, err := s.fs.Exists(candidate)
		if err == nil && exists {
			return r, candidate
		}
	}

	return s.roots[0], filepath.Join(string(s.roots[0]), userPath)
}

// isDescendant reports whether abs is root itself or a descendant of root.
func isDescendant(root, abs string) bool {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}

	if rel == "." {
		return true
	}

	return !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".."
}

// findProtectedSegment reports whether any path segment between root and abs
// (inclusive of the final segment) is protected.
func (s *Sandbox) findProtectedSegment(root, abs string) (string, bool) {
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." {
		return "", false
	}

	segments := strings.Split(filepath.ToSlash(rel), "/")
	for _, seg := range segments {
		if s.protectedNames[seg] || s.protectedFiles[seg] {
			return seg, true
		}
	}

	return "", false
}

// CheckFileSize fails with [ErrTooLarge] if path exceeds limit bytes.
// Use limit <= 0 to apply [Sandbox]'s configured default.
func (s *Sandbox) CheckFileSize(path SafePath, limit int64) error {
	if limit <= 0 {
		limit = s.defaultSizeCap
	}

	info, err := s.fs.Stat(path.abs)
	if err != nil {
		return fmt.Errorf("sandbox: stat %q: %w", path.abs, err)
	}

	if info.Size() > limit {
		return fmt.Errorf("sandbox: %w: %q is %d bytes, limit is %d", ErrTooLarge, path.abs, info.Size(), limit)
	}

	return nil
}

// IsDirectory reports whether path currently names a directory.
func (s *Sandbox) IsDirectory(path SafePath) (bool, error) {
	info, err := s.fs.Stat(path.abs)
	if err != nil {
		return false, fmt.Errorf("sandbox: stat %q: %w", path.abs, err)
	}

	return info.IsDir(), nil
}

// Exists reports whether path currently exists.
func (s *Sandbox) Exists(path SafePath) (bool, error) {
	exists, err := s.fs.Exists(path.abs)
	if err != nil {
		return false, fmt.Errorf("sandbox: exists %q: %w", path.abs, err)
	}

	return exists, nil
}

// RequireFile fails with [ErrIsDirectory] if path names a directory.
func (s *Sandbox) RequireFile(path SafePath) error {
	isDir, err := s.IsDirectory(path)
	if err != nil {
		return err
	}

	if isDir {
		return fmt.Errorf("sandbox: %w: %q", ErrIsDirectory, path.abs)
	}

	return nil
}
