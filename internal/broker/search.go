// This file covers Search (spec.md §4.H.4): list, find, grep, structure.
//
// Grounded on the teacher's internal/ticket.buildCacheParallel (an
// os.ReadDir scan filtered to relevant entries, one result per file) for
// list/find/structure's walk-and-filter shape, generalized from a single
// flat directory to a recursive project tree with gitignore-style
// exclusion. grep's bounded parallel fan-out is grounded on
// golang.org/x/sync/errgroup, the corpus's standard worker-pool idiom.
// find's glob matching is grounded on bmatcuk/doublestar/v4, which the
// corpus uses wherever "**"-capable glob semantics are needed.
package broker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"golang.org/x/sync/errgroup"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/agentfs/broker/internal/brokererr"
	"github.com/agentfs/broker/pkg/codec"
	"github.com/agentfs/broker/pkg/sandbox"
)

// autoIgnoreNames mirrors pkg/sandbox's protected directory names; list()
// hides these by default per spec.md §4.H.4.
var autoIgnoreNames = map[string]bool{
	"build":        true,
	".gradle":      true,
	"node_modules": true,
	"target":       true,
	".git":         true,
	".nts":         true,
}

// defaultGrepMaxMatches is the per-file match cap grep applies unless the
// caller overrides it, per spec.md §4.H.4.
const defaultGrepMaxMatches = 50

// grepFanOut bounds how many files grep scans concurrently.
const grepFanOut = 8

// ListRequest is the input to [Context.List].
type ListRequest struct {
	Path           string
	Depth          int // 0 means unlimited
	AutoIgnore     bool
	IgnorePatterns []string
}

// ListEntry is one rendered line of a [Context.List] response.
type ListEntry struct {
	Path       string
	Depth      int
	IsDir      bool
	Read       bool
	Matches    int
	HasMatches bool
}

// ListResponse is the output of [Context.List].
type ListResponse struct {
	Entries      []ListEntry
	RenderedText string
}

// List implements spec.md §4.H.4's list().
func (c *Context) List(req ListRequest) (ListResponse, error) {
	root, err := c.Sandbox.Sanitize(req.Path, true)
	if err != nil {
		return ListResponse{}, translatePathErr(err, req.Path)
	}

	matcher, err := compileIgnore(req.IgnorePatterns)
	if err != nil {
		return ListResponse{}, brokererr.New(brokererr.HostError, req.Path, err.Error())
	}

	var entries []ListEntry

	err = c.walk(root.String(), 0, req.Depth, func(path string, depth int, isDir bool) error {
		rel, relErr := filepath.Rel(root.String(), path)
		if relErr != nil {
			rel = path
		}

		rel = filepath.ToSlash(rel)

		if req.AutoIgnore && hasAutoIgnoredSegment(rel) {
			if isDir {
				return errSkipDir
			}

			return nil
		}

		if matcher != nil && rel != "." && matcher.MatchesPath(rel) {
			if isDir {
				return errSkipDir
			}

			return nil
		}

		if rel == "." {
			return nil
		}

		entry := ListEntry{Path: rel, Depth: depth, IsDir: isDir}

		if !isDir {
			if safe, sErr := c.Sandbox.Sanitize(rel, true); sErr == nil {
				if _, ok := c.Tracker.Get(safe); ok {
					entry.Read = true
				}
			}

			if n, ok := c.grepCache.lookup(rel); ok {
				entry.Matches = n
				entry.HasMatches = true
			}
		}

		entries = append(entries, entry)

		return nil
	})
	if err != nil {
		return ListResponse{}, brokererr.Wrap(brokererr.HostError, req.Path, err)
	}

	return ListResponse{Entries: entries, RenderedText: renderList(entries)}, nil
}

func renderList(entries []ListEntry) string {
	var b strings.Builder

	for _, e := range entries {
		b.WriteString(strings.Repeat("  ", e.Depth))

		if e.IsDir {
			fmt.Fprintf(&b, "[DIR] %s\n", e.Path)
			continue
		}

		fmt.Fprintf(&b, "[FILE] %s", e.Path)

		if e.Read {
			b.WriteString(" [READ]")
		}

		if e.HasMatches {
			fmt.Fprintf(&b, " [MATCHES: %d]", e.Matches)
		}

		b.WriteString("\n")
	}

	return b.String()
}

func hasAutoIgnoredSegment(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if autoIgnoreNames[seg] {
			return true
		}
	}

	return false
}

func compileIgnore(patterns []string) (*ignore.GitIgnore, error) {
	if len(patterns) == 0 {
		return nil, nil //nolint:nilnil
	}

	return ignore.CompileIgnoreLines(patterns...)
}

// errSkipDir is a sentinel walkFunc error meaning "don't descend into this
// directory", consumed only by [Context.walk].
var errSkipDir = fmt.Errorf("broker: skip directory")

// walk visits root and its descendants in deterministic (sorted) order,
// calling fn(path, depth, isDir) for each, stopping descent below maxDepth
// (0 means unlimited) or when fn returns [errSkipDir] for a directory.
func (c *Context) walk(root string, depth, maxDepth int, fn func(path string, depth int, isDir bool) error) error {
	info, err := c.FS.Stat(root)
	if err != nil {
		return err
	}

	if err := fn(root, depth, info.IsDir()); err != nil {
		if err == errSkipDir { //nolint:errorlint
			return nil
		}

		return err
	}

	if !info.IsDir() {
		return nil
	}

	if maxDepth > 0 && depth >= maxDepth {
		return nil
	}

	children, err := c.FS.ReadDir(root)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(children))
	for _, ch := range children {
		names = append(names, ch.Name())
	}

	sort.Strings(names)

	for _, name := range names {
		if err := c.walk(filepath.Join(root, name), depth+1, maxDepth, fn); err != nil {
			return err
		}
	}

	return nil
}

// FindRequest is the input to [Context.Find].
type FindRequest struct {
	Root        string
	GlobPattern string
}

// Find implements spec.md §4.H.4's find().
func (c *Context) Find(req FindRequest) ([]string, error) {
	root, err := c.Sandbox.Sanitize(req.Root, true)
	if err != nil {
		return nil, translatePathErr(err, req.Root)
	}

	var matches []string

	walkErr := c.walk(root.String(), 0, 0, func(path string, depth int, isDir bool) error {
		rel, relErr := filepath.Rel(root.String(), path)
		if relErr != nil {
			rel = path
		}

		rel = filepath.ToSlash(rel)

		if isDir {
			if rel != "." && isProtectedSegmentName(filepath.Base(rel)) {
				return errSkipDir
			}

			return nil
		}

		ok, mErr := doublestar.Match(req.GlobPattern, rel)
		if mErr != nil {
			return mErr
		}

		if ok {
			matches = append(matches, rel)
		}

		return nil
	})
	if walkErr != nil {
		return nil, brokererr.Wrap(brokererr.HostError, req.Root, walkErr)
	}

	sort.Strings(matches)

	return matches, nil
}

func isProtectedSegmentName(name string) bool {
	return autoIgnoreNames[name]
}

// GrepRequest is the input to [Context.Grep].
type GrepRequest struct {
	Path          string // file or directory root
	Query         string
	Regex         bool
	CaseSensitive bool
	Before        int
	After         int
	Include       []string // glob patterns; empty means "all"
	Exclude       []string

	MaxMatchesPerFile int // 0 means [defaultGrepMaxMatches]
}

// GrepMatch is one located occurrence within a file.
type GrepMatch struct {
	Line    uint32
	Text    string
	Before  []string
	After   []string
}

// GrepFileResult is every match found in one file, plus its true total
// match count (which may exceed len(Matches) if the per-file cap truncated
// it).
type GrepFileResult struct {
	Path       string
	Matches    []GrepMatch
	TotalCount int
	Truncated  bool
}

// Grep implements spec.md §4.H.4's grep().
func (c *Context) Grep(ctx context.Context, req GrepRequest) ([]GrepFileResult, error) {
	root, err := c.Sandbox.Sanitize(req.Path, true)
	if err != nil {
		return nil, translatePathErr(err, req.Path)
	}

	files, err := c.grepCandidateFiles(root, req)
	if err != nil {
		return nil, err
	}

	matcher, err := c.compileMatcher(req)
	if err != nil {
		return nil, brokererr.New(brokererr.HostError, req.Path, err.Error())
	}

	maxMatches := req.MaxMatchesPerFile
	if maxMatches <= 0 {
		maxMatches = defaultGrepMaxMatches
	}

	results := make([]GrepFileResult, len(files))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(grepFanOut)

	for i, relPath := range files {
		i, relPath := i, relPath

		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
			}

			res, grepErr := c.grepFile(root, relPath, matcher, req.Before, req.After, maxMatches)
			if grepErr != nil {
				return grepErr
			}

			results[i] = res

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, brokererr.Wrap(brokererr.HostError, req.Path, err)
	}

	out := make([]GrepFileResult, 0, len(results))

	for _, r := range results {
		if r.TotalCount == 0 {
			continue
		}

		c.grepCache.record(r.Path, r.TotalCount)
		out = append(out, r)
	}

	return out, nil
}

func (c *Context) grepCandidateFiles(root sandbox.SafePath, req GrepRequest) ([]string, error) {
	var files []string

	err := c.walk(root.String(), 0, 0, func(path string, _ int, isDir bool) error {
		rel, relErr := filepath.Rel(root.String(), path)
		if relErr != nil {
			rel = path
		}

		rel = filepath.ToSlash(rel)

		if isDir {
			if rel != "." && isProtectedSegmentName(filepath.Base(rel)) {
				return errSkipDir
			}

			return nil
		}

		if !globMatchesAny(req.Include, rel, true) {
			return nil
		}

		if globMatchesAny(req.Exclude, rel, false) {
			return nil
		}

		files = append(files, rel)

		return nil
	})
	if err != nil {
		return nil, brokererr.Wrap(brokererr.HostError, req.Path, err)
	}

	sort.Strings(files)

	return files, nil
}

// globMatchesAny reports whether rel matches any pattern in patterns. An
// empty pattern list returns defaultForEmpty (true for include sets, since
// "no include filter" means "match everything"; false for exclude sets).
func globMatchesAny(patterns []string, rel string, defaultForEmpty bool) bool {
	if len(patterns) == 0 {
		return defaultForEmpty
	}

	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}

	return false
}

func (c *Context) compileMatcher(req GrepRequest) (func(string) []matchSpan, error) {
	if req.Regex {
		flags := ""
		if !req.CaseSensitive {
			flags = "(?i)"
		}

		re, err := regexp.Compile(flags + req.Query)
		if err != nil {
			return nil, fmt.Errorf("grep: compiling pattern %q: %w", req.Query, err)
		}

		return func(line string) []matchSpan {
			locs := re.FindAllStringIndex(line, -1)
			if locs == nil {
				return nil
			}

			spans := make([]matchSpan, len(locs))
			for i, l := range locs {
				spans[i] = matchSpan{l[0], l[1]}
			}

			return spans
		}, nil
	}

	needle := req.Query
	if !req.CaseSensitive {
		needle = strings.ToLower(needle)
	}

	return func(line string) []matchSpan {
		hay := line
		if !req.CaseSensitive {
			hay = strings.ToLower(hay)
		}

		var spans []matchSpan

		start := 0
		for {
			idx := strings.Index(hay[start:], needle)
			if idx < 0 {
				break
			}

			abs := start + idx
			spans = append(spans, matchSpan{abs, abs + len(needle)})
			start = abs + len(needle)

			if len(needle) == 0 {
				break
			}
		}

		return spans
	}, nil
}

type matchSpan struct{ start, end int }

func (c *Context) grepFile(root sandbox.SafePath, relPath string, matcher func(string) []matchSpan, before, after, maxMatches int) (GrepFileResult, error) {
	absPath := filepath.Join(root.String(), filepath.FromSlash(relPath))

	info, err := c.FS.Stat(absPath)
	if err != nil {
		return GrepFileResult{Path: relPath}, err
	}

	if info.Size() > c.Config.SandboxSizeLimit() {
		return GrepFileResult{Path: relPath}, nil
	}

	raw, err := c.FS.ReadFile(absPath)
	if err != nil {
		return GrepFileResult{Path: relPath}, err
	}

	if codec.IsBinary(raw) {
		return GrepFileResult{Path: relPath}, nil
	}

	lines := strings.Split(string(bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))), "\n")

	var matches []GrepMatch

	total := 0

	for i, line := range lines {
		spans := matcher(line)
		if len(spans) == 0 {
			continue
		}

		total++

		if len(matches) >= maxMatches {
			continue
		}

		matches = append(matches, GrepMatch{
			Line:   uint32(i + 1), //nolint:gosec
			Text:   line,
			Before: contextLines(lines, i, -before),
			After:  contextLines(lines, i, after),
		})
	}

	return GrepFileResult{
		Path:       relPath,
		Matches:    matches,
		TotalCount: total,
		Truncated:  total > len(matches),
	}, nil
}

// contextLines returns up to abs(n) lines of context around index idx: n<0
// looks backward (before), n>0 looks forward (after).
func contextLines(lines []string, idx, n int) []string {
	if n == 0 {
		return nil
	}

	if n < 0 {
		start := idx + n
		if start < 0 {
			start = 0
		}

		return append([]string(nil), lines[start:idx]...)
	}

	end := idx + 1 + n
	if end > len(lines) {
		end = len(lines)
	}

	return append([]string(nil), lines[idx+1:end]...)
}

// StructureRequest is the input to [Context.Structure].
type StructureRequest struct {
	Path string
}

// Structure implements spec.md §4.H.4's structure(): an ASCII box-drawing
// tree.
func (c *Context) Structure(req StructureRequest) (string, error) {
	root, err := c.Sandbox.Sanitize(req.Path, true)
	if err != nil {
		return "", translatePathErr(err, req.Path)
	}

	info, err := c.FS.Stat(root.String())
	if err != nil {
		return "", brokererr.Wrap(brokererr.HostError, req.Path, err)
	}

	var b strings.Builder

	b.WriteString(filepath.Base(root.String()))
	b.WriteString("\n")

	if info.IsDir() {
		if err := c.renderStructure(&b, root.String(), ""); err != nil {
			return "", brokererr.Wrap(brokererr.HostError, req.Path, err)
		}
	}

	return b.String(), nil
}

func (c *Context) renderStructure(b *strings.Builder, dir, prefix string) error {
	children, err := c.FS.ReadDir(dir)
	if err != nil {
		return err
	}

	var visible []os.DirEntry

	for _, ch := range children {
		if autoIgnoreNames[ch.Name()] {
			continue
		}

		visible = append(visible, ch)
	}

	for i, ch := range visible {
		last := i == len(visible)-1

		connector := "├── "
		nextPrefix := prefix + "│   "

		if last {
			connector = "└── "
			nextPrefix = prefix + "    "
		}

		b.WriteString(prefix)
		b.WriteString(connector)
		b.WriteString(ch.Name())
		b.WriteString("\n")

		if ch.IsDir() {
			if err := c.renderStructure(b, filepath.Join(dir, ch.Name()), nextPrefix); err != nil {
				return err
			}
		}
	}

	return nil
}
