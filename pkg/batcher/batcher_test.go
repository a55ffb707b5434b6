package batcher

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cypherpepe/prism/pkg/da/memory"
	"github.com/cypherpepe/prism/pkg/keys"
	"github.com/cypherpepe/prism/pkg/operation"
	"github.com/cypherpepe/prism/pkg/storage/kvdb"
	"github.com/cypherpepe/prism/pkg/tree"
)

var errFlaky = errors.New("flaky submit failure")

// flakySubmitAdapter wraps a memory.Adapter and fails the first
// failUntilAttempt calls to SubmitOperations, for exercising the
// batcher's submit-retry loop.
type flakySubmitAdapter struct {
	*memory.Adapter
	mu               sync.Mutex
	attempts         int
	failUntilAttempt int
	submittedBatches [][]operation.Operation
}

func (f *flakySubmitAdapter) SubmitOperations(ctx context.Context, ops []operation.Operation) (uint64, error) {
	f.mu.Lock()
	f.attempts++
	attempt := f.attempts
	f.mu.Unlock()

	if attempt <= f.failUntilAttempt {
		return 0, errFlaky
	}
	f.mu.Lock()
	f.submittedBatches = append(f.submittedBatches, ops)
	f.mu.Unlock()
	return f.Adapter.SubmitOperations(ctx, ops)
}

func newTestTree(t *testing.T) *tree.Tree {
	t.Helper()
	db, err := kvdb.Open("test", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	tr, err := tree.NewTree(db)
	require.NoError(t, err)
	return tr
}

// TestValidatorRejectsUnknownID implements SPEC_FULL.md scenario S4.
func TestValidatorRejectsUnknownID(t *testing.T) {
	tr := newTestTree(t)
	b := New(Config{Tree: tr, DA: memory.New(), Enabled: true})

	sk, err := keys.GenerateEd25519()
	require.NoError(t, err)
	vk := sk.VerifyingKey()

	op := operation.Operation{Kind: operation.KindAddKey, ID: "bob", NewKey: &vk, SignedBy: &vk}
	payload, err := addKeySigningPayload(op)
	require.NoError(t, err)
	sig, err := sk.Sign(payload)
	require.NoError(t, err)
	op.Signature = &sig

	err = b.ValidateAndQueue(op)
	require.ErrorIs(t, err, ErrHashchainNotFound)

	b.mu.Lock()
	require.Empty(t, b.pending)
	b.mu.Unlock()
}

func TestDisabledBatcherRejectsEverything(t *testing.T) {
	tr := newTestTree(t)
	b := New(Config{Tree: tr, DA: memory.New(), Enabled: false})

	err := b.ValidateAndQueue(operation.Operation{Kind: operation.KindRegisterService, ID: "svc"})
	require.ErrorIs(t, err, ErrDisabled)
}

// TestBufferContention implements SPEC_FULL.md scenario S6: 1000
// concurrent validator pushes interleaved with 50 drains must never lose
// or duplicate an operation.
func TestBufferContention(t *testing.T) {
	tr := newTestTree(t)
	b := New(Config{Tree: tr, DA: memory.New(), Enabled: true})

	const pushes = 1000
	const drains = 50

	var wg sync.WaitGroup
	wg.Add(pushes + drains)

	var mu sync.Mutex
	var allDrained []operation.Operation

	for i := 0; i < pushes; i++ {
		i := i
		go func() {
			defer wg.Done()
			_ = b.ValidateAndQueue(operation.Operation{Kind: operation.KindRegisterService, ID: svcID(i)})
		}()
	}
	for i := 0; i < drains; i++ {
		go func() {
			defer wg.Done()
			drained := b.drain()
			if len(drained) == 0 {
				return
			}
			mu.Lock()
			allDrained = append(allDrained, drained...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Whatever is left in the buffer after all goroutines finish was
	// never drained; fold it in.
	allDrained = append(allDrained, b.drain()...)

	require.Len(t, allDrained, pushes)
	seen := make(map[string]bool, pushes)
	for _, op := range allDrained {
		require.False(t, seen[op.ID], "duplicate operation for id %q", op.ID)
		seen[op.ID] = true
	}
}

func svcID(i int) string {
	return "svc-" + strconv.Itoa(i)
}

func addKeySigningPayload(op operation.Operation) ([]byte, error) {
	op.Signature = nil
	return json.Marshal(op)
}

// TestSubmitPendingRetriesBeforeSucceeding exercises the DA.SubmitRetries/
// SubmitBackoff wiring: a submission that fails twice succeeds on its
// third attempt, within the configured retry bound.
func TestSubmitPendingRetriesBeforeSucceeding(t *testing.T) {
	tr := newTestTree(t)
	fake := &flakySubmitAdapter{Adapter: memory.New(), failUntilAttempt: 2}
	b := New(Config{
		Tree:          tr,
		DA:            fake,
		Enabled:       true,
		Metrics:       nil,
		SubmitRetries: 3,
		SubmitBackoff: time.Millisecond,
	})

	require.NoError(t, b.ValidateAndQueue(operation.Operation{Kind: operation.KindRegisterService, ID: "svc-1"}))
	b.submitPending(t.Context())

	require.Len(t, fake.submittedBatches, 1)
	require.Equal(t, 3, fake.attempts)
}

// TestSubmitPendingDropsAfterExhaustingRetries confirms a chunk is logged
// and dropped — not retried forever — once SubmitRetries is exhausted.
func TestSubmitPendingDropsAfterExhaustingRetries(t *testing.T) {
	tr := newTestTree(t)
	fake := &flakySubmitAdapter{Adapter: memory.New(), failUntilAttempt: 100}
	b := New(Config{
		Tree:          tr,
		DA:            fake,
		Enabled:       true,
		SubmitRetries: 2,
		SubmitBackoff: time.Millisecond,
	})

	require.NoError(t, b.ValidateAndQueue(operation.Operation{Kind: operation.KindRegisterService, ID: "svc-1"}))
	b.submitPending(t.Context())

	require.Empty(t, fake.submittedBatches)
	require.Equal(t, 2, fake.attempts)
}

// TestSubmitPendingChunksByMaxBatchSize confirms MaxBatchSize splits a
// larger pending buffer into sequential DA submissions.
func TestSubmitPendingChunksByMaxBatchSize(t *testing.T) {
	tr := newTestTree(t)
	fake := &flakySubmitAdapter{Adapter: memory.New()}
	b := New(Config{
		Tree:         tr,
		DA:           fake,
		Enabled:      true,
		MaxBatchSize: 2,
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, b.ValidateAndQueue(operation.Operation{Kind: operation.KindRegisterService, ID: svcID(i)}))
	}
	b.submitPending(t.Context())

	require.Len(t, fake.submittedBatches, 3) // 2 + 2 + 1
	var total int
	for _, chunk := range fake.submittedBatches {
		require.LessOrEqual(t, len(chunk), 2)
		total += len(chunk)
	}
	require.Equal(t, 5, total)
}
