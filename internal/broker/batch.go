// This file covers BatchOrchestrator (spec.md §4.I): an ordered list of
// operation calls dispatched inside one root transaction, with
// `{{<ref>.<field>}}` substitution of one step's outputs into a later
// step's string parameters.
//
// Grounded on the teacher's cmd/tk command dispatch table (a name ->
// handler map built once, looked up per invocation) generalized from a
// fixed CLI command set to a small in-process tool registry.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/agentfs/broker/internal/brokererr"
	"github.com/agentfs/broker/internal/journal"
	"github.com/agentfs/broker/pkg/codec"
)

// BatchStep is one call within a [BatchRequest]. ID, if set, names this
// step's outputs for later `{{id.field}}` references; otherwise the step
// is addressable as `{{step<i>.field}}` (1-based).
type BatchStep struct {
	ID     string
	Tool   string
	Params map[string]any
}

// BatchRequest is the input to [Context.RunBatch].
type BatchRequest struct {
	Description string
	Steps       []BatchStep
}

// BatchStepResult is one step's outcome within a [BatchResponse].
type BatchStepResult struct {
	Ref    string // id, or "step<i>" when no id was given
	Tool   string
	Output map[string]string
}

// BatchResponse is the output of [Context.RunBatch].
type BatchResponse struct {
	Steps []BatchStepResult
}

// batchHandler executes one step's tool within the batch's shared
// transaction, returning its outputs as a flat string map for later
// substitution.
type batchHandler func(ctx context.Context, c *Context, txn *journal.Transaction, params map[string]any) (map[string]string, error)

var batchTools = map[string]batchHandler{
	"read":            batchRead,
	"edit":            batchEdit,
	"create":          batchFileManage(ActionCreate),
	"move":            batchFileManage(ActionMove),
	"rename":          batchFileManage(ActionRename),
	"delete":          batchFileManage(ActionDelete),
	"project_replace": batchProjectReplace,
	"list":            batchList,
	"find":            batchFind,
	"grep":            batchGrep,
	"structure":       batchStructure,
}

// RunBatch implements spec.md §4.I.
func (c *Context) RunBatch(ctx context.Context, req BatchRequest) (BatchResponse, error) {
	if len(req.Steps) == 0 {
		return BatchResponse{}, brokererr.New(brokererr.HostError, "", "batch has no steps")
	}

	desc := req.Description
	if desc == "" {
		desc = fmt.Sprintf("batch of %d step(s)", len(req.Steps))
	}

	txn, err := c.Journal.Begin(desc, "")
	if err != nil {
		return BatchResponse{}, brokererr.Wrap(brokererr.HostError, "", err)
	}

	outputs := make(map[string]map[string]string, len(req.Steps))
	results := make([]BatchStepResult, 0, len(req.Steps))

	for i, step := range req.Steps {
		ref := step.ID
		if ref == "" {
			ref = fmt.Sprintf("step%d", i+1)
		}

		handler, ok := batchTools[step.Tool]
		if !ok {
			if rbErr := txn.Rollback(); rbErr != nil {
				return BatchResponse{}, brokererr.Wrap(brokererr.RollbackPartial, ref, rbErr)
			}

			return BatchResponse{}, brokererr.New(brokererr.HostError, ref,
				fmt.Sprintf("step %d (%s): unknown tool %q", i+1, ref, step.Tool))
		}

		resolved, err := substituteParams(step.Params, outputs)
		if err != nil {
			if rbErr := txn.Rollback(); rbErr != nil {
				return BatchResponse{}, brokererr.Wrap(brokererr.RollbackPartial, ref, rbErr)
			}

			return BatchResponse{}, brokererr.New(brokererr.HostError, ref,
				fmt.Sprintf("step %d (%s): %s", i+1, ref, err))
		}

		out, err := handler(ctx, c, txn, resolved)
		if err != nil {
			if rbErr := txn.Rollback(); rbErr != nil {
				return BatchResponse{}, brokererr.Wrap(brokererr.RollbackPartial, ref, errors.Join(err, rbErr))
			}

			return BatchResponse{}, wrapStepError(i, ref, step.Tool, err)
		}

		outputs[ref] = out
		results = append(results, BatchStepResult{Ref: ref, Tool: step.Tool, Output: out})
	}

	if err := txn.Commit(); err != nil {
		return BatchResponse{}, brokererr.Wrap(brokererr.HostError, "", err)
	}

	return BatchResponse{Steps: results}, nil
}

// wrapStepError annotates err with its step's position while preserving
// the original [brokererr.Kind], so a caller checking brokererr.Of(err,
// brokererr.ExpectedMismatch) still sees the real failure kind rather
// than a generic one step dispatch introduced.
func wrapStepError(i int, ref, tool string, err error) error {
	var be *brokererr.Error
	if errors.As(err, &be) {
		detail := fmt.Sprintf("step %d (%s, %s)", i+1, ref, tool)
		if be.Detail != "" {
			detail += ": " + be.Detail
		}

		return &brokererr.Error{Kind: be.Kind, Path: be.Path, Detail: detail, Err: be.Err}
	}

	return brokererr.New(brokererr.HostError, ref, fmt.Sprintf("step %d (%s, %s) failed: %s", i+1, ref, tool, err))
}

// substituteParams resolves `{{ref.field}}` occurrences in every
// top-level string parameter. Substitution is a single pass over
// already-produced step outputs: the result is not re-scanned for
// further references, and nested maps/slices are passed through
// unexamined, per spec.md §4.I.
func substituteParams(params map[string]any, outputs map[string]map[string]string) (map[string]any, error) {
	resolved := make(map[string]any, len(params))

	for k, v := range params {
		s, ok := v.(string)
		if !ok {
			resolved[k] = v
			continue
		}

		out, err := substituteString(s, outputs)
		if err != nil {
			return nil, err
		}

		resolved[k] = out
	}

	return resolved, nil
}

func substituteString(s string, outputs map[string]map[string]string) (string, error) {
	var b strings.Builder

	rest := s

	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			break
		}

		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			b.WriteString(rest)
			break
		}

		end += start

		b.WriteString(rest[:start])

		ref := strings.TrimSpace(rest[start+2 : end])

		dot := strings.LastIndex(ref, ".")
		if dot < 0 {
			return "", fmt.Errorf("malformed reference %q: expected <ref>.<field>", ref)
		}

		stepRef, field := ref[:dot], ref[dot+1:]

		fields, ok := outputs[stepRef]
		if !ok {
			return "", fmt.Errorf("unknown step reference %q", stepRef)
		}

		val, ok := fields[field]
		if !ok {
			return "", fmt.Errorf("step %q has no output field %q", stepRef, field)
		}

		b.WriteString(val)

		rest = rest[end+2:]
	}

	return b.String(), nil
}

// -- param extraction helpers --

func paramStr(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}

	return ""
}

func paramStrPtr(params map[string]any, key string) *string {
	if v, ok := params[key].(string); ok {
		return &v
	}

	return nil
}

func paramBool(params map[string]any, key string) bool {
	v, _ := params[key].(bool)
	return v
}

func paramInt(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func paramUint32(params map[string]any, key string) uint32 {
	n := paramInt(params, key)
	if n < 0 {
		return 0
	}

	return uint32(n) //nolint:gosec
}

func paramStrSlice(params map[string]any, key string) []string {
	raw, ok := params[key].([]any)
	if !ok {
		if s, ok := params[key].([]string); ok {
			return s
		}

		return nil
	}

	out := make([]string, 0, len(raw))

	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}

	return out
}

func paramChecksumPtr(params map[string]any, key string) *uint32 {
	switch v := params[key].(type) {
	case string:
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil
		}

		r := uint32(n)

		return &r
	case float64:
		r := uint32(v)

		return &r
	default:
		return nil
	}
}

// -- tool handlers --

func batchRead(ctx context.Context, c *Context, _ *journal.Transaction, params map[string]any) (map[string]string, error) {
	req := ReadRequest{
		Path:  paramStr(params, "path"),
		Token: paramStr(params, "access_token"),
		Force: paramBool(params, "force"),
	}

	if line := paramInt(params, "line"); line != 0 {
		l := paramUint32(params, "line")
		req.Selector.Line = &l
	}

	if params["start_line"] != nil {
		s := paramUint32(params, "start_line")
		req.Selector.StartLine = &s
	}

	if params["end_line"] != nil {
		e := paramUint32(params, "end_line")
		req.Selector.EndLine = &e
	}

	req.Selector.ContextPattern = paramStr(params, "context_pattern")
	req.Selector.ContextRange = paramUint32(params, "context_range")
	req.Selector.Symbol = paramStr(params, "symbol")

	resp, err := c.Read(ctx, req)
	if err != nil {
		return nil, err
	}

	out := map[string]string{
		"path":       resp.Path,
		"crc32c":     fmt.Sprint(resp.CRC32C),
		"line_count": fmt.Sprint(resp.LineCount),
	}

	if len(resp.Ranges) > 0 {
		out["token"] = resp.Ranges[0].Token
	}

	return out, nil
}

func batchEdit(ctx context.Context, c *Context, txn *journal.Transaction, params map[string]any) (map[string]string, error) {
	fe := FileEdit{
		Path:            paramStr(params, "path"),
		AccessToken:     paramStr(params, "access_token"),
		ExpectedContent: paramStrPtr(params, "expected_content"),
	}

	if encStr := paramStr(params, "encoding"); encStr != "" {
		enc := codec.Encoding(encStr)
		fe.Encoding = &enc
	}

	opsRaw, _ := params["operations"].([]any)
	if opsRaw == nil {
		// single-replacement shorthand per spec.md §4.H.2
		fe.Operations = []EditOp{{
			Kind:    OpReplace,
			Start:   paramUint32(params, "start_line"),
			End:     paramUint32(params, "end_line"),
			Content: paramStr(params, "content"),
		}}
	} else {
		for _, raw := range opsRaw {
			opMap, ok := raw.(map[string]any)
			if !ok {
				continue
			}

			fe.Operations = append(fe.Operations, EditOp{
				Kind:    EditOpKind(paramStr(opMap, "kind")),
				Start:   paramUint32(opMap, "start"),
				End:     paramUint32(opMap, "end"),
				Line:    paramUint32(opMap, "line"),
				Content: paramStr(opMap, "content"),
			})
		}
	}

	result, err := c.applyFileEdit(ctx, txn, fe)
	if err != nil {
		return nil, err
	}

	out := map[string]string{
		"path":       result.Path,
		"crc32c":     fmt.Sprint(result.CRC32C),
		"line_count": fmt.Sprint(result.LineCount),
	}

	if len(result.Tokens) > 0 {
		out["token"] = result.Tokens[0].Token
	}

	return out, nil
}

func batchFileManage(action FileManageAction) batchHandler {
	return func(ctx context.Context, c *Context, txn *journal.Transaction, params map[string]any) (map[string]string, error) {
		req := FileManageRequest{
			Action:           action,
			Path:             paramStr(params, "path"),
			To:               paramStr(params, "to"),
			Content:          paramStr(params, "content"),
			ExpectedChecksum: paramChecksumPtr(params, "expected_checksum"),
		}

		if encStr := paramStr(params, "encoding"); encStr != "" {
			enc := codec.Encoding(encStr)
			req.Encoding = &enc
		}

		resp, err := c.dispatchFileManage(ctx, txn, req)
		if err != nil {
			return nil, err
		}

		return map[string]string{
			"path":       resp.Path,
			"crc32c":     fmt.Sprint(resp.CRC32C),
			"line_count": fmt.Sprint(resp.LineCount),
		}, nil
	}
}

func batchProjectReplace(ctx context.Context, c *Context, txn *journal.Transaction, params map[string]any) (map[string]string, error) {
	req := ProjectReplaceRequest{
		Root:          paramStr(params, "root"),
		Query:         paramStr(params, "query"),
		With:          paramStr(params, "with"),
		Regex:         paramBool(params, "regex"),
		CaseSensitive: paramBool(params, "case_sensitive"),
		Include:       paramStrSlice(params, "include"),
		Exclude:       paramStrSlice(params, "exclude"),
	}

	resp, err := c.doProjectReplace(ctx, txn, req)
	if err != nil {
		return nil, err
	}

	out := map[string]string{"files_changed": fmt.Sprint(len(resp.Files))}

	if len(resp.Files) > 0 {
		out["path"] = resp.Files[0].Path
		out["crc32c"] = fmt.Sprint(resp.Files[0].CRC32C)
		out["line_count"] = fmt.Sprint(resp.Files[0].LineCount)
	}

	return out, nil
}

func batchList(_ context.Context, c *Context, _ *journal.Transaction, params map[string]any) (map[string]string, error) {
	req := ListRequest{
		Path:           paramStr(params, "path"),
		Depth:          paramInt(params, "depth"),
		AutoIgnore:     paramBool(params, "auto_ignore"),
		IgnorePatterns: paramStrSlice(params, "ignore_patterns"),
	}

	resp, err := c.List(req)
	if err != nil {
		return nil, err
	}

	return map[string]string{"count": fmt.Sprint(len(resp.Entries))}, nil
}

func batchFind(_ context.Context, c *Context, _ *journal.Transaction, params map[string]any) (map[string]string, error) {
	req := FindRequest{
		Root:        paramStr(params, "root"),
		GlobPattern: paramStr(params, "glob_pattern"),
	}

	matches, err := c.Find(req)
	if err != nil {
		return nil, err
	}

	out := map[string]string{"count": fmt.Sprint(len(matches))}
	if len(matches) > 0 {
		out["path"] = matches[0]
	}

	return out, nil
}

func batchGrep(ctx context.Context, c *Context, _ *journal.Transaction, params map[string]any) (map[string]string, error) {
	req := GrepRequest{
		Path:          paramStr(params, "path"),
		Query:         paramStr(params, "query"),
		Regex:         paramBool(params, "regex"),
		CaseSensitive: paramBool(params, "case_sensitive"),
		Before:        paramInt(params, "before"),
		After:         paramInt(params, "after"),
		Include:       paramStrSlice(params, "include"),
		Exclude:       paramStrSlice(params, "exclude"),
	}

	results, err := c.Grep(ctx, req)
	if err != nil {
		return nil, err
	}

	out := map[string]string{"count": fmt.Sprint(len(results))}
	if len(results) > 0 {
		out["path"] = results[0].Path
	}

	return out, nil
}

func batchStructure(_ context.Context, c *Context, _ *journal.Transaction, params map[string]any) (map[string]string, error) {
	text, err := c.Structure(StructureRequest{Path: paramStr(params, "path")})
	if err != nil {
		return nil, err
	}

	return map[string]string{"rendered_text": text}, nil
}
