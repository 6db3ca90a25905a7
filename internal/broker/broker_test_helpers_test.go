package broker_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentfs/broker/internal/broker"
	"github.com/agentfs/broker/internal/config"
	"github.com/agentfs/broker/pkg/fsx"
)

// newTestContext wires a [broker.Context] over the real filesystem rooted
// at a fresh t.TempDir(), mirroring pkg/sandbox's test helper.
func newTestContext(t *testing.T, root string) *broker.Context {
	t.Helper()

	c, err := broker.NewWithFS(config.BrokerConfig{Roots: []string{root}}, fsx.NewReal())
	require.NoError(t, err)

	return c
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()

	path := filepath.Join(root, rel)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(b)
}

func u32(v uint32) *uint32 { return &v }
