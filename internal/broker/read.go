// Operations (spec.md §4.H) are implemented as methods on [Context]; this
// file covers Read (§4.H.1).
//
// Grounded on the teacher's internal/ticket.Show/cache.go read path
// (sandbox → decode → compare-to-cache → return), generalized from a
// whole-ticket read to a line-ranged, token-issuing read.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agentfs/broker/internal/brokererr"
	"github.com/agentfs/broker/internal/diag"
	"github.com/agentfs/broker/internal/symbols"
	"github.com/agentfs/broker/internal/tracker"
	"github.com/agentfs/broker/pkg/codec"
	"github.com/agentfs/broker/pkg/digest"
	"github.com/agentfs/broker/pkg/fsx"
	"github.com/agentfs/broker/pkg/sandbox"
	"github.com/agentfs/broker/pkg/tokens"
)

// LineRange is a 1-based, inclusive line range.
type LineRange struct {
	Start uint32
	End   uint32
}

// ReadSelector names exactly one way to pick the lines a Read returns,
// per spec.md §4.H.1 ("exactly one access selector must be supplied").
type ReadSelector struct {
	Line *uint32

	StartLine *uint32
	EndLine   *uint32

	Ranges []LineRange

	ContextPattern string
	ContextRange   uint32

	Symbol     string
	SymbolKind symbols.SymbolKind // optional; zero value means "any kind"
}

// ReadRequest is the input to [Context.Read].
type ReadRequest struct {
	Path     string
	Selector ReadSelector

	// Token, if non-empty, is checked for coverage before any new token is
	// issued: a valid, covering token makes the read return Unchanged.
	Token string
	Force bool

	ForcedEncoding *codec.Encoding
}

// IssuedRange is one returned, tokenized line range.
type IssuedRange struct {
	Start   uint32
	End     uint32
	Token   string
	Content string // numbered, display-ready text
}

// ReadResponse is the output of [Context.Read].
type ReadResponse struct {
	Unchanged    bool
	Path         string
	Encoding     string
	CRC32C       uint32
	LineCount    uint32
	Ranges       []IssuedRange
	Diagnostics  []diag.Event
	RenderedText string // the full text-channel response, per spec.md §6
}

// Read implements spec.md §4.H.1.
func (c *Context) Read(ctx context.Context, req ReadRequest) (ReadResponse, error) {
	safe, err := c.Sandbox.Sanitize(req.Path, true)
	if err != nil {
		return ReadResponse{}, translatePathErr(err, req.Path)
	}

	if err := c.Sandbox.RequireFile(safe); err != nil {
		return ReadResponse{}, translatePathErr(err, req.Path)
	}

	if err := c.Sandbox.CheckFileSize(safe, 0); err != nil {
		return ReadResponse{}, translatePathErr(err, req.Path)
	}

	handle, err := c.Locks.Acquire(ctx, safe.String(), c.lockTimeout())
	if err != nil {
		return ReadResponse{}, brokererr.Wrap(brokererr.FileLockedByAnotherOp, req.Path, err)
	}
	defer handle.Release()

	raw, err := fsx.ReadFileLimited(c.FS, safe.String(), c.Config.SandboxSizeLimit())
	if err != nil {
		return ReadResponse{}, brokererr.Wrap(brokererr.NotFound, req.Path, err)
	}

	if codec.IsBinary(raw) {
		return ReadResponse{}, brokererr.New(brokererr.Binary, req.Path, "file content is binary")
	}

	text, enc, err := c.Codec.DecodeText(raw)
	if err != nil {
		return ReadResponse{}, brokererr.Wrap(brokererr.Unmappable, req.Path, err)
	}

	if req.ForcedEncoding != nil {
		enc = *req.ForcedEncoding
	}

	fl := SplitLines(text)
	lineCount := fl.Count()
	crc := digest.Bytes(raw)

	var sink diag.Sink

	externalBanner := false

	result, prev := c.Tracker.Check(safe, crc)
	switch result {
	case tracker.External:
		sink.Warn("external change detected", "recorded in file history; treat this read as the new baseline")
		externalBanner = true

		if err := c.Journal.RecordExternalChange(safe.String(), prev.Content, prev.CRC32C, crc,
			fmt.Sprintf("external change to %s", safe.RelPath())); err != nil {
			return ReadResponse{}, brokererr.Wrap(brokererr.HostError, req.Path, err)
		}

		c.Tracker.Update(newSnapshot(safe, raw, crc, enc, lineCount))
	case tracker.FirstRead:
		c.Tracker.Register(newSnapshot(safe, raw, crc, enc, lineCount))
	case tracker.NoChange:
	}

	ranges, err := resolveSelector(req.Selector, fl, c.Symbols, safe.String(), text)
	if err != nil {
		return ReadResponse{}, err
	}

	if req.Token != "" && !req.Force && len(ranges) == 1 {
		if resp, ok := c.tryUnchanged(safe, req.Token, ranges[0], fl, lineCount, crc, externalBanner, &sink); ok {
			return resp, nil
		}
	}

	issued := make([]IssuedRange, 0, len(ranges))

	for _, r := range ranges {
		content := fl.Range(r.Start, r.End)
		tok := c.Tokens.Issue(safe.String(), r.Start, r.End, content, lineCount)
		encoded := c.Tokens.Encode(tok)

		issued = append(issued, IssuedRange{
			Start:   r.Start,
			End:     r.End,
			Token:   encoded,
			Content: NumberedLines(content, r.Start),
		})
	}

	return buildReadResponse(safe.RelPath(), enc, crc, lineCount, issued, sink, externalBanner), nil
}

func newSnapshot(path sandbox.SafePath, raw []byte, crc uint32, enc codec.Encoding, lineCount uint32) tracker.FileSnapshot {
	return tracker.FileSnapshot{
		Path:      path,
		Content:   append([]byte(nil), raw...),
		CRC32C:    crc,
		Encoding:  enc,
		LineCount: lineCount,
		TakenAt:   time.Now().UnixNano(),
	}
}

// tryUnchanged returns (response, true) when providedToken validates and
// covers r, per spec.md §4.H.1 step 6.
func (c *Context) tryUnchanged(
	safe sandbox.SafePath,
	providedToken string,
	r LineRange,
	fl FileLines,
	lineCount uint32,
	crc uint32,
	externalBanner bool,
	sink *diag.Sink,
) (ReadResponse, bool) {
	t, err := c.Tokens.Decode(providedToken, safe.String())
	if err != nil {
		return ReadResponse{}, false
	}

	if !tokens.Covers(t, r.Start, r.End) {
		return ReadResponse{}, false
	}

	content := fl.Range(t.StartLine, t.EndLine)
	if tokens.Validate(t, content, lineCount) != nil {
		return ReadResponse{}, false
	}

	if externalBanner {
		sink.Warn("external change detected before unchanged reuse", "the reused token still matches current content")
	}

	body := UnchangedHeader(t.StartLine, t.EndLine, lineCount, crc) + "\n" + TokenLine(providedToken)

	return ReadResponse{
		Unchanged: true,
		Path:      safe.RelPath(),
		CRC32C:    crc,
		LineCount: lineCount,
		Ranges: []IssuedRange{{
			Start: t.StartLine,
			End:   t.EndLine,
			Token: providedToken,
		}},
		Diagnostics:  sink.Events(),
		RenderedText: body,
	}, true
}

func buildReadResponse(
	relPath string,
	enc codec.Encoding,
	crc uint32,
	lineCount uint32,
	ranges []IssuedRange,
	sink diag.Sink,
	externalBanner bool,
) ReadResponse {
	var b strings.Builder

	if externalBanner {
		b.WriteString(ExternalChangeBanner)
		b.WriteString("\n")
	}

	for i, r := range ranges {
		if i > 0 {
			b.WriteString("\n")
		}

		b.WriteString(FileHeader(relPath, r.Start, r.End, lineCount, enc.String(), crc))
		b.WriteString("\n")
		b.WriteString(AccessLine(r.Start, r.End, r.Token))
		b.WriteString("\n")
		b.WriteString(r.Content)
	}

	return ReadResponse{
		Path:         relPath,
		Encoding:     enc.String(),
		CRC32C:       crc,
		LineCount:    lineCount,
		Ranges:       ranges,
		Diagnostics:  sink.Events(),
		RenderedText: b.String(),
	}
}

// resolveSelector picks the effective ranges per spec.md §4.H.1 step 5.
func resolveSelector(
	sel ReadSelector,
	fl FileLines,
	provider *symbols.Cache,
	path string,
	text string,
) ([]LineRange, error) {
	n := fl.Count()

	switch {
	case sel.Line != nil:
		return []LineRange{clampRange(*sel.Line, *sel.Line, n)}, nil

	case sel.StartLine != nil && sel.EndLine != nil:
		return []LineRange{clampRange(*sel.StartLine, *sel.EndLine, n)}, nil

	case len(sel.Ranges) > 0:
		out := make([]LineRange, 0, len(sel.Ranges))
		for _, r := range sel.Ranges {
			out = append(out, clampRange(r.Start, r.End, n))
		}

		return out, nil

	case sel.ContextPattern != "":
		idx := -1

		for i, l := range fl.Lines {
			if strings.Contains(l, sel.ContextPattern) {
				idx = i
				break
			}
		}

		if idx < 0 {
			return nil, brokererr.New(brokererr.PatternNotFound, path, sel.ContextPattern)
		}

		lineNo := uint32(idx + 1) //nolint:gosec
		start := uint32(1)

		if lineNo > sel.ContextRange {
			start = lineNo - sel.ContextRange
		}

		end := lineNo + sel.ContextRange

		return []LineRange{clampRange(start, end, n)}, nil

	case sel.Symbol != "":
		lang := provider.DetectLanguage(path)

		ast, err := provider.Parse(path, text, lang)
		if err != nil {
			return nil, brokererr.Wrap(brokererr.SymbolNotFound, path, err)
		}

		syms, err := provider.ExtractSymbols(ast)
		if err != nil {
			return nil, brokererr.Wrap(brokererr.SymbolNotFound, path, err)
		}

		best, ok := pickSymbol(syms, sel.Symbol, sel.SymbolKind)
		if !ok {
			return nil, brokererr.New(brokererr.SymbolNotFound, path, sel.Symbol)
		}

		return []LineRange{clampRange(best.Location.StartLine, best.Location.EndLine, n)}, nil

	default:
		return nil, brokererr.New(brokererr.MustSpecifyRange, path, "read requires line, start_line/end_line, ranges, context_pattern, or symbol")
	}
}

// pickSymbol returns the symbol named name, preferring the most-specific
// kind on a name collision, per spec.md §4.H.1.
func pickSymbol(syms []symbols.SymbolInfo, name string, kind symbols.SymbolKind) (symbols.SymbolInfo, bool) {
	var candidates []symbols.SymbolInfo

	for _, s := range syms {
		if s.Name != name {
			continue
		}

		if kind != "" && s.Kind != kind {
			continue
		}

		candidates = append(candidates, s)
	}

	if len(candidates) == 0 {
		return symbols.SymbolInfo{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return symbols.Specificity(candidates[i].Kind) < symbols.Specificity(candidates[j].Kind)
	})

	return candidates[0], true
}

// clampRange enforces 1 ≤ start ≤ end ≤ total, clamping end down to total
// and start up to 1, per spec.md §4.D's edge cases. A zero-line file
// always yields {0, 0}.
func clampRange(start, end, total uint32) LineRange {
	if total == 0 {
		return LineRange{0, 0}
	}

	if start < 1 {
		start = 1
	}

	if end > total {
		end = total
	}

	if start > end {
		start = end
	}

	return LineRange{start, end}
}

// translatePathErr maps a pkg/sandbox error to the broker's uniform
// [brokererr.Error] taxonomy.
func translatePathErr(err error, path string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sandbox.ErrOutsideRoot):
		return brokererr.Wrap(brokererr.OutsideRoot, path, err)
	case errors.Is(err, sandbox.ErrProtected):
		return brokererr.Wrap(brokererr.Protected, path, err)
	case errors.Is(err, sandbox.ErrNotFound):
		return brokererr.Wrap(brokererr.NotFound, path, err)
	case errors.Is(err, sandbox.ErrIsDirectory):
		return brokererr.Wrap(brokererr.IsDirectory, path, err)
	case errors.Is(err, sandbox.ErrTooLarge):
		return brokererr.Wrap(brokererr.TooLarge, path, err)
	default:
		return brokererr.Wrap(brokererr.HostError, path, err)
	}
}
