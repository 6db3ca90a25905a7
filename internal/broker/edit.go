// This file covers Edit (spec.md §4.H.2).
//
// Grounded on the teacher's internal/ticket write-through path
// (internal/ticket/cache_write_through.go: validate → backup → write →
// refresh cache) generalized from "replace the whole markdown body" to
// line-ranged, multi-operation, multi-file edits gated by a token.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/agentfs/broker/internal/brokererr"
	"github.com/agentfs/broker/internal/journal"
	"github.com/agentfs/broker/pkg/codec"
	"github.com/agentfs/broker/pkg/digest"
	"github.com/agentfs/broker/pkg/fsx"
	"github.com/agentfs/broker/pkg/tokens"
)

// EditOpKind names one line-range mutation within a file.
type EditOpKind string

const (
	OpReplace     EditOpKind = "replace"
	OpDelete      EditOpKind = "delete"
	OpInsertAfter EditOpKind = "insert_after"
	OpInsertBefore EditOpKind = "insert_before"
)

// EditOp is one operation within a [FileEdit]. Start/End apply to
// replace/delete; Line applies to insert_after/insert_before.
type EditOp struct {
	Kind    EditOpKind
	Start   uint32
	End     uint32
	Line    uint32
	Content string
}

// FileEdit is every mutation requested against one file in a single
// [EditRequest], gated by one access token covering their union range.
type FileEdit struct {
	Path           string
	AccessToken    string
	Operations     []EditOp
	ExpectedContent *string
	Encoding       *codec.Encoding
}

// EditRequest is the input to [Context.Edit]. A single-replacement call
// and a single-file batch are both expressed as one FileEdit; a
// multi-file batch supplies more than one.
type EditRequest struct {
	Description string
	Edits       []FileEdit
}

// FileEditResult is one file's outcome within an [EditResponse].
type FileEditResult struct {
	Path      string
	CRC32C    uint32
	LineCount uint32
	Tokens    []IssuedRange
}

// EditResponse is the output of [Context.Edit].
type EditResponse struct {
	Files []FileEditResult
}

// Edit implements spec.md §4.H.2.
func (c *Context) Edit(ctx context.Context, req EditRequest) (EditResponse, error) {
	if len(req.Edits) == 0 {
		return EditResponse{}, brokererr.New(brokererr.LineOutOfRange, "", "edit request has no files")
	}

	desc := req.Description
	if desc == "" {
		desc = fmt.Sprintf("edit %d file(s)", len(req.Edits))
	}

	txn, err := c.Journal.Begin(desc, "")
	if err != nil {
		return EditResponse{}, brokererr.Wrap(brokererr.HostError, "", err)
	}

	resp, err := c.applyEdits(ctx, txn, req.Edits)
	if err != nil {
		if rbErr := txn.Rollback(); rbErr != nil {
			return EditResponse{}, brokererr.Wrap(brokererr.RollbackPartial, "", errors.Join(err, rbErr))
		}

		return EditResponse{}, err
	}

	if err := txn.Commit(); err != nil {
		return EditResponse{}, brokererr.Wrap(brokererr.HostError, "", err)
	}

	return resp, nil
}

func (c *Context) applyEdits(ctx context.Context, txn *journal.Transaction, edits []FileEdit) (EditResponse, error) {
	resp := EditResponse{Files: make([]FileEditResult, 0, len(edits))}

	for _, fe := range edits {
		result, err := c.applyFileEdit(ctx, txn, fe)
		if err != nil {
			return EditResponse{}, err
		}

		resp.Files = append(resp.Files, result)
	}

	return resp, nil
}

func (c *Context) applyFileEdit(ctx context.Context, txn *journal.Transaction, fe FileEdit) (FileEditResult, error) {
	safe, err := c.Sandbox.Sanitize(fe.Path, true)
	if err != nil {
		return FileEditResult{}, translatePathErr(err, fe.Path)
	}

	if err := c.Sandbox.RequireFile(safe); err != nil {
		return FileEditResult{}, translatePathErr(err, fe.Path)
	}

	handle, err := c.Locks.Acquire(ctx, safe.String(), c.lockTimeout())
	if err != nil {
		return FileEditResult{}, brokererr.Wrap(brokererr.FileLockedByAnotherOp, fe.Path, err)
	}
	defer handle.Release()

	raw, err := fsx.ReadFileLimited(c.FS, safe.String(), c.Config.SandboxSizeLimit())
	if err != nil {
		return FileEditResult{}, brokererr.Wrap(brokererr.NotFound, fe.Path, err)
	}

	text, enc, err := c.Codec.DecodeText(raw)
	if err != nil {
		return FileEditResult{}, brokererr.Wrap(brokererr.Unmappable, fe.Path, err)
	}

	if fe.Encoding != nil {
		enc = *fe.Encoding
	}

	fl := SplitLines(text)
	lineCount := fl.Count()

	t, err := c.Tokens.Decode(fe.AccessToken, safe.String())
	if err != nil {
		if errors.Is(err, tokens.ErrPathMismatch) {
			return FileEditResult{}, brokererr.Wrap(brokererr.PathMismatch, fe.Path, err)
		}

		return FileEditResult{}, brokererr.Wrap(brokererr.MalformedToken, fe.Path, err)
	}

	union, ok := unionRange(fe.Operations)
	if !ok {
		return FileEditResult{}, brokererr.New(brokererr.LineOutOfRange, fe.Path, "edit has no operations")
	}

	if !tokens.Covers(t, union.Start, union.End) {
		return FileEditResult{}, brokererr.New(brokererr.TokenDoesNotCover, fe.Path,
			fmt.Sprintf("token covers %d-%d, edit touches %d-%d", t.StartLine, t.EndLine, union.Start, union.End))
	}

	tokenRangeContent := fl.Range(t.StartLine, t.EndLine)
	if staleErr := tokens.Validate(t, tokenRangeContent, lineCount); staleErr != nil {
		var se *tokens.StaleError
		if errors.As(staleErr, &se) {
			return FileEditResult{}, brokererr.New(brokererr.StaleToken, fe.Path, string(se.Reason))
		}

		return FileEditResult{}, brokererr.Wrap(brokererr.StaleToken, fe.Path, staleErr)
	}

	if fe.ExpectedContent != nil {
		actual := fl.Range(union.Start, union.End)
		if normalizeForFuzzyMatch(joinForCompare(actual)) != normalizeForFuzzyMatch(*fe.ExpectedContent) {
			return FileEditResult{}, brokererr.New(brokererr.ExpectedMismatch, fe.Path, joinForCompare(actual))
		}
	}

	if err := txn.Backup(safe.String(), raw); err != nil {
		return FileEditResult{}, brokererr.Wrap(brokererr.HostError, fe.Path, err)
	}

	issued, err := applyOps(&fl, fe.Operations)
	if err != nil {
		return FileEditResult{}, brokererr.Wrap(brokererr.LineOutOfRange, fe.Path, err)
	}

	newText := fl.Join()

	if err := c.Codec.WriteText(c.Writer, safe.String(), newText, enc); err != nil {
		return FileEditResult{}, brokererr.Wrap(brokererr.Unmappable, fe.Path, err)
	}

	newRaw, err := c.Codec.EncodeText(newText, enc)
	if err != nil {
		return FileEditResult{}, brokererr.Wrap(brokererr.Unmappable, fe.Path, err)
	}

	newCRC := digest.Bytes(newRaw)
	newLineCount := fl.Count()

	ranges := make([]IssuedRange, 0, len(issued))

	for _, r := range issued {
		clamped := clampRange(r.Start, r.End, newLineCount)
		content := fl.Range(clamped.Start, clamped.End)
		newTok := c.Tokens.Issue(safe.String(), clamped.Start, clamped.End, content, newLineCount)

		ranges = append(ranges, IssuedRange{
			Start: clamped.Start,
			End:   clamped.End,
			Token: c.Tokens.Encode(newTok),
		})
	}

	c.Tracker.Update(newSnapshot(safe, newRaw, newCRC, enc, newLineCount))
	c.Symbols.Drop(safe.String())

	return FileEditResult{Path: safe.RelPath(), CRC32C: newCRC, LineCount: newLineCount, Tokens: ranges}, nil
}

func joinForCompare(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}

		out += l
	}

	return out
}

// unionRange returns the smallest range covering every op's affected
// lines, used to validate the caller's single access token.
func unionRange(ops []EditOp) (LineRange, bool) {
	if len(ops) == 0 {
		return LineRange{}, false
	}

	var start, end uint32

	first := true

	for _, op := range ops {
		var s, e uint32

		switch op.Kind {
		case OpReplace, OpDelete:
			s, e = op.Start, op.End
		case OpInsertAfter, OpInsertBefore:
			s, e = op.Line, op.Line
		}

		if first {
			start, end, first = s, e, false
			continue
		}

		if s < start {
			start = s
		}

		if e > end {
			end = e
		}
	}

	return LineRange{start, end}, true
}

// pendingRange tracks one op's resulting line range as later (lower
// line-number) ops are applied and may shift it.
type pendingRange struct {
	start, end uint32
}

// applyOps mutates fl in place per spec.md §4.H.2's algorithm: operations
// are sorted by position descending so earlier (in processing order)
// edits never shift the indices later edits still need to apply at, then
// applied; each op's resulting range is tracked and adjusted forward as
// subsequent (lower-positioned) ops shift it.
func applyOps(fl *FileLines, ops []EditOp) ([]LineRange, error) {
	sorted := append([]EditOp(nil), ops...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return opPosition(sorted[i]) > opPosition(sorted[j])
	})

	pending := make([]*pendingRange, len(sorted))

	for i, op := range sorted {
		pos := opPosition(op)

		before := uint32(len(fl.Lines)) //nolint:gosec

		var result pendingRange

		switch op.Kind {
		case OpReplace:
			if op.Start == 0 || op.Start > op.End || op.End > before {
				return nil, fmt.Errorf("replace: line range %d-%d out of bounds (file has %d lines)", op.Start, op.End, before)
			}

			newLines := splitContentLines(op.Content)
			fl.Lines = spliceLines(fl.Lines, op.Start-1, op.End, newLines)
			result = pendingRange{op.Start, op.Start + uint32(len(newLines)) - 1} //nolint:gosec

			if len(newLines) == 0 {
				result = pendingRange{op.Start, op.Start - 1}
			}

		case OpDelete:
			if op.Start == 0 || op.Start > op.End || op.End > before {
				return nil, fmt.Errorf("delete: line range %d-%d out of bounds (file has %d lines)", op.Start, op.End, before)
			}

			fl.Lines = spliceLines(fl.Lines, op.Start-1, op.End, nil)
			result = pendingRange{op.Start, op.Start - 1}

		case OpInsertAfter:
			if op.Line > before {
				return nil, fmt.Errorf("insert_after: line %d out of bounds (file has %d lines)", op.Line, before)
			}

			newLines := splitContentLines(op.Content)
			fl.Lines = spliceLines(fl.Lines, op.Line, op.Line, newLines)
			result = pendingRange{op.Line + 1, op.Line + uint32(len(newLines))} //nolint:gosec

		case OpInsertBefore:
			if op.Line == 0 || op.Line > before+1 {
				return nil, fmt.Errorf("insert_before: line %d out of bounds (file has %d lines)", op.Line, before)
			}

			newLines := splitContentLines(op.Content)
			fl.Lines = spliceLines(fl.Lines, op.Line-1, op.Line-1, newLines)
			result = pendingRange{op.Line, op.Line + uint32(len(newLines)) - 1} //nolint:gosec

		default:
			return nil, fmt.Errorf("unknown edit operation %q", op.Kind)
		}

		after := uint32(len(fl.Lines)) //nolint:gosec
		delta := int64(after) - int64(before)

		for _, p := range pending {
			if p != nil && p.start >= pos {
				p.start = addDelta(p.start, delta)
				p.end = addDelta(p.end, delta)
			}
		}

		pending[i] = &result
	}

	out := make([]LineRange, len(sorted))
	for i, p := range pending {
		out[i] = LineRange{p.start, p.end}
	}

	return out, nil
}

func addDelta(v uint32, delta int64) uint32 {
	r := int64(v) + delta
	if r < 0 {
		return 0
	}

	return uint32(r) //nolint:gosec
}

func opPosition(op EditOp) uint32 {
	switch op.Kind {
	case OpReplace, OpDelete:
		return op.Start
	default:
		return op.Line
	}
}

// splitContentLines splits replacement content into lines; an empty
// string produces zero lines (a pure deletion via replace).
func splitContentLines(content string) []string {
	if content == "" {
		return nil
	}

	fl := SplitLines(content)

	return fl.Lines
}

// spliceLines replaces lines[start:end] (0-based, end exclusive) with
// replacement.
func spliceLines(lines []string, start, end uint32, replacement []string) []string {
	out := make([]string, 0, len(lines)-int(end-start)+len(replacement))
	out = append(out, lines[:start]...)
	out = append(out, replacement...)
	out = append(out, lines[end:]...)

	return out
}

