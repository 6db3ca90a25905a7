package broker_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfs/broker/internal/broker"
	"github.com/agentfs/broker/internal/brokererr"
	"github.com/agentfs/broker/pkg/digest"
)

func TestFileManage_Create_WritesNewFileUnderNewSubdirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	c := newTestContext(t, root)

	resp, err := c.FileManage(context.Background(), broker.FileManageRequest{
		Action:  broker.ActionCreate,
		Path:    "a/b/new.txt",
		Content: "hello\nworld\n",
	})
	require.NoError(t, err)

	assert.Equal(t, "hello\nworld\n", readFile(t, filepath.Join(root, "a/b/new.txt")))
	assert.Equal(t, uint32(2), resp.LineCount)
}

func TestFileManage_Create_OverwriteWithoutChecksumFailsMustReadFirst(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "existing.txt", "old\n")
	c := newTestContext(t, root)

	_, err := c.FileManage(context.Background(), broker.FileManageRequest{
		Action:  broker.ActionCreate,
		Path:    "existing.txt",
		Content: "new\n",
	})
	assert.True(t, brokererr.Of(err, brokererr.MustReadFirst), "err=%v, want MustReadFirst", err)
	assert.Equal(t, "old\n", readFile(t, filepath.Join(root, "existing.txt")), "must not overwrite")
}

func TestFileManage_Create_OverwriteWithWrongChecksumFailsExpectedMismatch(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "existing.txt", "old\n")
	c := newTestContext(t, root)

	wrong := uint32(0)

	_, err := c.FileManage(context.Background(), broker.FileManageRequest{
		Action:           broker.ActionCreate,
		Path:             "existing.txt",
		Content:          "new\n",
		ExpectedChecksum: &wrong,
	})
	assert.True(t, brokererr.Of(err, brokererr.ExpectedMismatch), "err=%v, want ExpectedMismatch", err)
}

func TestFileManage_Create_OverwriteWithMatchingChecksumSucceeds(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := writeFile(t, root, "existing.txt", "old\n")
	c := newTestContext(t, root)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	crc := digest.Bytes(raw)

	resp, err := c.FileManage(context.Background(), broker.FileManageRequest{
		Action:           broker.ActionCreate,
		Path:             "existing.txt",
		Content:          "new\n",
		ExpectedChecksum: &crc,
	})
	require.NoError(t, err)

	assert.Equal(t, "new\n", readFile(t, path))
	assert.NotEqual(t, crc, resp.CRC32C, "CRC32C unchanged after overwrite")
}

func TestFileManage_Move_PreservesTrackerKnowledgeOfDestination(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "from.txt", "content\n")
	c := newTestContext(t, root)
	ctx := context.Background()

	_, err := c.Read(ctx, broker.ReadRequest{Path: "from.txt", Selector: broker.ReadSelector{StartLine: u32(1), EndLine: u32(1)}})
	require.NoError(t, err)

	_, err = c.FileManage(ctx, broker.FileManageRequest{
		Action: broker.ActionMove,
		Path:   "from.txt",
		To:     "to.txt",
	})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, "from.txt"))
	assert.True(t, os.IsNotExist(err), "from.txt still exists: %v", err)

	list, err := c.List(broker.ListRequest{Path: "."})
	require.NoError(t, err)

	var toEntry *broker.ListEntry

	for i := range list.Entries {
		if list.Entries[i].Path == "to.txt" {
			toEntry = &list.Entries[i]
		}
	}

	require.NotNil(t, toEntry, "to.txt missing from List output: %+v", list.Entries)
	assert.True(t, toEntry.Read, "to.txt not marked [READ] after move carried tracker state from from.txt")
}

func TestFileManage_Delete_RemovesFileAndTrackerEntry(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "gone.txt", "bye\n")
	c := newTestContext(t, root)

	_, err := c.FileManage(context.Background(), broker.FileManageRequest{
		Action: broker.ActionDelete,
		Path:   "gone.txt",
	})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, "gone.txt"))
	assert.True(t, os.IsNotExist(err), "gone.txt still exists: %v", err)
}

func TestFileManage_Delete_NonExistentPathFailsNotFound(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	c := newTestContext(t, root)

	_, err := c.FileManage(context.Background(), broker.FileManageRequest{
		Action: broker.ActionDelete,
		Path:   "missing.txt",
	})
	assert.True(t, brokererr.Of(err, brokererr.NotFound), "err=%v, want NotFound", err)
}
