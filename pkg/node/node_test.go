package node

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cypherpepe/prism/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		ProverEnabled:      true,
		BatcherEnabled:     true,
		WebserverEnabled:   false,
		SigningKeyPath:     filepath.Join(dir, "signing_key.hex"),
		StartHeight:        1,
		PersistenceBackend: config.PersistenceEmbedded,
		DataDir:            dir,
		DABackend:          config.DAMemory,
	}
}

func TestNewWiresEmbeddedMemoryNode(t *testing.T) {
	n, err := New(testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, n.Batcher())
	require.NotNil(t, n.Metrics())
	require.NotNil(t, n.finalizer)
}

// TestRunExitsOnContextCancel confirms the orchestrator's first-task-exits
// shutdown model: when the context is canceled while the sync engine's DA
// subscription has produced no height, Run returns an error without
// hanging.
func TestRunExitsOnContextCancel(t *testing.T) {
	n, err := New(testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err = n.Run(ctx)
	require.Error(t, err)
}
