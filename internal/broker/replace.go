// This file covers ProjectReplace (spec.md §4.H.5): a regex or literal
// global substitution across every matching file under a root, committed
// as one transaction.
//
// Grounded on Edit's write-through path (backup → mutate → atomic write →
// re-register tracker/symbols), generalized from token-gated single-file
// edits to an include/exclude-filtered sweep with no token requirement —
// the caller names a root and a pattern, not a pre-read line range.
package broker

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/agentfs/broker/internal/brokererr"
	"github.com/agentfs/broker/internal/journal"
	"github.com/agentfs/broker/pkg/codec"
	"github.com/agentfs/broker/pkg/digest"
	"github.com/agentfs/broker/pkg/fsx"
	"github.com/agentfs/broker/pkg/sandbox"
)

// ProjectReplaceRequest is the input to [Context.ProjectReplace].
type ProjectReplaceRequest struct {
	Root  string
	Query string
	With  string

	Regex         bool
	CaseSensitive bool

	Include []string
	Exclude []string

	Description string
}

// FileReplaceResult is one file's outcome within a [ProjectReplaceResponse].
type FileReplaceResult struct {
	Path         string
	Replacements int
	CRC32C       uint32
	LineCount    uint32
}

// ProjectReplaceResponse is the output of [Context.ProjectReplace].
type ProjectReplaceResponse struct {
	Files []FileReplaceResult
}

// ProjectReplace implements spec.md §4.H.5.
func (c *Context) ProjectReplace(ctx context.Context, req ProjectReplaceRequest) (ProjectReplaceResponse, error) {
	desc := req.Description
	if desc == "" {
		desc = fmt.Sprintf("project replace %q -> %q under %s", req.Query, req.With, req.Root)
	}

	txn, err := c.Journal.Begin(desc, "")
	if err != nil {
		return ProjectReplaceResponse{}, brokererr.Wrap(brokererr.HostError, req.Root, err)
	}

	resp, err := c.doProjectReplace(ctx, txn, req)
	if err != nil {
		if rbErr := txn.Rollback(); rbErr != nil {
			return ProjectReplaceResponse{}, brokererr.Wrap(brokererr.RollbackPartial, req.Root, err)
		}

		return ProjectReplaceResponse{}, err
	}

	if err := txn.Commit(); err != nil {
		return ProjectReplaceResponse{}, brokererr.Wrap(brokererr.HostError, req.Root, err)
	}

	return resp, nil
}

// doProjectReplace runs a project-wide substitution within an
// already-open transaction, letting [Context.RunBatch] fold a
// project_replace step into a larger batch transaction.
func (c *Context) doProjectReplace(ctx context.Context, txn *journal.Transaction, req ProjectReplaceRequest) (ProjectReplaceResponse, error) {
	root, err := c.Sandbox.Sanitize(req.Root, true)
	if err != nil {
		return ProjectReplaceResponse{}, translatePathErr(err, req.Root)
	}

	re, err := compileReplacePattern(req)
	if err != nil {
		return ProjectReplaceResponse{}, brokererr.New(brokererr.HostError, req.Root, err.Error())
	}

	var candidates []string

	walkErr := c.walk(root.String(), 0, 0, func(path string, _ int, isDir bool) error {
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

		if !globMatchesAny(req.Include, rel, true) || globMatchesAny(req.Exclude, rel, false) {
			return nil
		}

		candidates = append(candidates, rel)

		return nil
	})
	if walkErr != nil {
		return ProjectReplaceResponse{}, brokererr.Wrap(brokererr.HostError, req.Root, walkErr)
	}

	var results []FileReplaceResult

	for _, rel := range candidates {
		result, n, applyErr := c.replaceInFile(ctx, txn, root, rel, re, req.With)
		if applyErr != nil {
			return ProjectReplaceResponse{}, applyErr
		}

		if n > 0 {
			results = append(results, result)
		}
	}

	return ProjectReplaceResponse{Files: results}, nil
}

func compileReplacePattern(req ProjectReplaceRequest) (*regexp.Regexp, error) {
	pattern := req.Query
	if !req.Regex {
		pattern = regexp.QuoteMeta(pattern)
	}

	flags := ""
	if !req.CaseSensitive {
		flags = "(?i)"
	}

	return regexp.Compile(flags + pattern)
}

// replaceInFile applies re/with to one file, returning its result and the
// number of replacements made (0 means no match — the caller skips it from
// the response, and no write occurs).
func (c *Context) replaceInFile(
	ctx context.Context,
	txn *journal.Transaction,
	root sandbox.SafePath,
	rel string,
	re *regexp.Regexp,
	with string,
) (FileReplaceResult, int, error) {
	safe, err := c.Sandbox.Sanitize(filepath.Join(root.String(), filepath.FromSlash(rel)), true)
	if err != nil {
		return FileReplaceResult{}, 0, translatePathErr(err, rel)
	}

	if err := c.Sandbox.RequireFile(safe); err != nil {
		return FileReplaceResult{}, 0, translatePathErr(err, rel)
	}

	handle, err := c.Locks.Acquire(ctx, safe.String(), c.lockTimeout())
	if err != nil {
		return FileReplaceResult{}, 0, brokererr.Wrap(brokererr.FileLockedByAnotherOp, rel, err)
	}
	defer handle.Release()

	raw, err := fsx.ReadFileLimited(c.FS, safe.String(), c.Config.SandboxSizeLimit())
	if err != nil {
		return FileReplaceResult{}, 0, brokererr.Wrap(brokererr.HostError, rel, err)
	}

	if codec.IsBinary(raw) {
		return FileReplaceResult{}, 0, nil
	}

	text, enc, err := c.Codec.DecodeText(raw)
	if err != nil {
		return FileReplaceResult{}, 0, brokererr.Wrap(brokererr.Unmappable, rel, err)
	}

	matchCount := len(re.FindAllStringIndex(text, -1))
	if matchCount == 0 {
		return FileReplaceResult{}, 0, nil
	}

	newText := re.ReplaceAllString(text, with)

	if err := txn.Backup(safe.String(), raw); err != nil {
		return FileReplaceResult{}, 0, brokererr.Wrap(brokererr.HostError, rel, err)
	}

	if err := c.Codec.WriteText(c.Writer, safe.String(), newText, enc); err != nil {
		return FileReplaceResult{}, 0, brokererr.Wrap(brokererr.Unmappable, rel, err)
	}

	newRaw, err := c.Codec.EncodeText(newText, enc)
	if err != nil {
		return FileReplaceResult{}, 0, brokererr.Wrap(brokererr.Unmappable, rel, err)
	}

	newCRC := digest.Bytes(newRaw)
	fl := SplitLines(newText)

	c.Tracker.Update(newSnapshot(safe, newRaw, newCRC, enc, fl.Count()))
	c.Symbols.Drop(safe.String())

	return FileReplaceResult{
		Path:         safe.RelPath(),
		Replacements: matchCount,
		CRC32C:       newCRC,
		LineCount:    fl.Count(),
	}, matchCount, nil
}
