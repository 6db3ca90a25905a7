package broker_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfs/broker/internal/broker"
	"github.com/agentfs/broker/internal/brokererr"
)

func TestRunBatch_ReadThenEditChainsTokenAcrossSteps(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.txt", "one\ntwo\nthree\n")
	c := newTestContext(t, root)

	resp, err := c.RunBatch(context.Background(), broker.BatchRequest{
		Steps: []broker.BatchStep{
			{
				ID:   "r1",
				Tool: "read",
				Params: map[string]any{
					"path":       "a.txt",
					"start_line": 2,
					"end_line":   2,
				},
			},
			{
				ID:   "e1",
				Tool: "edit",
				Params: map[string]any{
					"path":         "a.txt",
					"access_token": "{{r1.token}}",
					"start_line":   2,
					"end_line":     2,
					"content":      "TWO",
				},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Steps, 2)

	assert.Equal(t, "one\nTWO\nthree\n", readFile(t, filepath.Join(root, "a.txt")))
}

func TestRunBatch_RollsBackAllStepsWhenOneFails(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "x.txt", "Safe\n")
	writeFile(t, root, "y.txt", "Danger\n")
	c := newTestContext(t, root)
	ctx := context.Background()

	tokX, err := c.Read(ctx, broker.ReadRequest{Path: "x.txt", Selector: broker.ReadSelector{StartLine: u32(1), EndLine: u32(1)}})
	require.NoError(t, err)

	tokY, err := c.Read(ctx, broker.ReadRequest{Path: "y.txt", Selector: broker.ReadSelector{StartLine: u32(1), EndLine: u32(1)}})
	require.NoError(t, err)

	_, err = c.RunBatch(ctx, broker.BatchRequest{
		Steps: []broker.BatchStep{
			{
				Tool: "edit",
				Params: map[string]any{
					"path":         "x.txt",
					"access_token": tokX.Ranges[0].Token,
					"start_line":   1,
					"end_line":     1,
					"content":      "Broken",
				},
			},
			{
				Tool: "edit",
				Params: map[string]any{
					"path":             "y.txt",
					"access_token":     tokY.Ranges[0].Token,
					"start_line":       1,
					"end_line":         1,
					"content":          "Whatever",
					"expected_content": "WRONG",
				},
			},
		},
	})
	assert.True(t, brokererr.Of(err, brokererr.ExpectedMismatch), "err=%v, want ExpectedMismatch from step 2", err)

	assert.Equal(t, "Safe\n", readFile(t, filepath.Join(root, "x.txt")), "step 1 must roll back")
	assert.Equal(t, "Danger\n", readFile(t, filepath.Join(root, "y.txt")), "untouched")
}

func TestRunBatch_UnknownToolFailsAndRollsBack(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.txt", "content\n")
	c := newTestContext(t, root)

	_, err := c.RunBatch(context.Background(), broker.BatchRequest{
		Steps: []broker.BatchStep{
			{Tool: "not_a_real_tool", Params: map[string]any{"path": "a.txt"}},
		},
	})

	assert.True(t, brokererr.Of(err, brokererr.HostError), "err=%v, want HostError", err)
}

func TestRunBatch_UnknownReferenceFailsBeforeDispatch(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.txt", "content\n")
	c := newTestContext(t, root)

	_, err := c.RunBatch(context.Background(), broker.BatchRequest{
		Steps: []broker.BatchStep{
			{
				Tool: "edit",
				Params: map[string]any{
					"path":         "a.txt",
					"access_token": "{{nonexistent.token}}",
					"start_line":   1,
					"end_line":     1,
					"content":      "X",
				},
			},
		},
	})
	require.Error(t, err, "want error for unknown step reference")
}

func TestRunBatch_CreateStepWritesFileAndReportsPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	c := newTestContext(t, root)

	resp, err := c.RunBatch(context.Background(), broker.BatchRequest{
		Steps: []broker.BatchStep{
			{
				ID:   "created",
				Tool: "create",
				Params: map[string]any{
					"path":    "fresh.txt",
					"content": "hi\n",
				},
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "fresh.txt", resp.Steps[0].Output["path"])
	assert.Equal(t, "hi\n", readFile(t, filepath.Join(root, "fresh.txt")))
}
