package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadPipelineConfigSubstitutesEnvVars(t *testing.T) {
	t.Setenv("PRISM_MAX_BATCH_SIZE", "32")

	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	yaml := `
environment: testnet
sync:
  start_height: 10
batch:
  max_batch_size: ${PRISM_MAX_BATCH_SIZE}
da:
  poll_interval: 3s
  submit_retries: ${PRISM_SUBMIT_RETRIES:-5}
  submit_backoff: 1s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadPipelineConfig(path)
	require.NoError(t, err)
	require.Equal(t, uint64(10), cfg.Sync.StartHeight)
	require.Equal(t, 32, cfg.Batch.MaxBatchSize)
	require.Equal(t, 5, cfg.DA.SubmitRetries)
	require.NoError(t, cfg.ValidateForEnvironment())
}

func TestPipelineConfigApplyToOverridesDefaults(t *testing.T) {
	base, err := Load()
	require.NoError(t, err)

	pipeline := &PipelineConfig{
		Sync:  SyncSettings{StartHeight: 42},
		Batch: BatchSettings{MaxBatchSize: 16},
		DA:    DASettings{SubmitRetries: 5, SubmitBackoff: Duration(3 * time.Second)},
	}
	pipeline.ApplyTo(base)

	require.Equal(t, uint64(42), base.StartHeight)
	require.Equal(t, 16, base.BatchMaxSize)
	require.Equal(t, 5, base.DASubmitRetries)
	require.Equal(t, 3*time.Second, base.DASubmitBackoff)
}

func TestPipelineConfigRejectsZeroBatchSize(t *testing.T) {
	cfg := &PipelineConfig{Batch: BatchSettings{MaxBatchSize: 0}}
	require.Error(t, cfg.ValidateForEnvironment())
}
