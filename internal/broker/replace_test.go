package broker_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfs/broker/internal/broker"
)

func TestProjectReplace_SubstitutesAcrossMatchingFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello world\n")
	writeFile(t, root, "b.txt", "hello there\n")
	writeFile(t, root, "c.md", "hello docs\n")
	c := newTestContext(t, root)

	resp, err := c.ProjectReplace(context.Background(), broker.ProjectReplaceRequest{
		Root:    ".",
		Query:   "hello",
		With:    "goodbye",
		Include: []string{"*.txt"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Files, 2)

	assert.Equal(t, "goodbye world\n", readFile(t, filepath.Join(root, "a.txt")))
	assert.Equal(t, "goodbye there\n", readFile(t, filepath.Join(root, "b.txt")))
	assert.Equal(t, "hello docs\n", readFile(t, filepath.Join(root, "c.md")), "excluded by include filter")
}

func TestProjectReplace_RegexSubstitution(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.txt", "version 1.2.3 released\n")
	c := newTestContext(t, root)

	resp, err := c.ProjectReplace(context.Background(), broker.ProjectReplaceRequest{
		Root:  ".",
		Query: `\d+\.\d+\.\d+`,
		With:  "X.Y.Z",
		Regex: true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Files, 1)

	assert.Equal(t, "version X.Y.Z released\n", readFile(t, filepath.Join(root, "a.txt")))
}

func TestProjectReplace_NoMatchesLeavesFilesUntouched(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.txt", "nothing to see here\n")
	c := newTestContext(t, root)

	resp, err := c.ProjectReplace(context.Background(), broker.ProjectReplaceRequest{
		Root:  ".",
		Query: "absent",
		With:  "replacement",
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Files)
}
