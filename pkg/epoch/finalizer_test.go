package epoch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cypherpepe/prism/pkg/da"
	"github.com/cypherpepe/prism/pkg/da/memory"
	"github.com/cypherpepe/prism/pkg/keys"
	"github.com/cypherpepe/prism/pkg/operation"
	"github.com/cypherpepe/prism/pkg/storage"
	"github.com/cypherpepe/prism/pkg/storage/kvdb"
	"github.com/cypherpepe/prism/pkg/tree"
)

var errFlakySubmit = errors.New("flaky finalized-epoch submit failure")

// flakyEpochAdapter wraps a memory.Adapter and fails the first
// failUntilAttempt calls to SubmitFinalizedEpoch, for exercising the
// finalizer's submit-retry loop.
type flakyEpochAdapter struct {
	*memory.Adapter
	mu               sync.Mutex
	attempts         int
	failUntilAttempt int
}

func (f *flakyEpochAdapter) SubmitFinalizedEpoch(ctx context.Context, ep *da.FinalizedEpoch) error {
	f.mu.Lock()
	f.attempts++
	attempt := f.attempts
	f.mu.Unlock()

	if attempt <= f.failUntilAttempt {
		return errFlakySubmit
	}
	return f.Adapter.SubmitFinalizedEpoch(ctx, ep)
}

func newFinalizer(t *testing.T) (*Finalizer, *memory.Adapter, keys.SigningKey) {
	t.Helper()

	db, err := kvdb.Open("test", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tr, err := tree.NewTree(db)
	require.NoError(t, err)

	store := storage.NewStore(db)
	adapter := memory.New()

	sk, err := keys.GenerateEd25519()
	require.NoError(t, err)

	f := New(Config{Tree: tr, Store: store, DA: adapter, SigningKey: sk})
	require.NoError(t, f.Setup())

	return f, adapter, sk
}

func registerServiceOp(id string, sk keys.SigningKey) operation.Operation {
	vk := sk.VerifyingKey()
	return operation.Operation{Kind: operation.KindRegisterService, ID: id, NewKey: &vk}
}

// TestFinalizeEpochRoundTrip checks FinalizeEpoch applies operations,
// submits a signed FinalizedEpoch to DA, and persists the next epoch's
// commitment and counter.
func TestFinalizeEpochRoundTrip(t *testing.T) {
	f, adapter, sk := newFinalizer(t)
	ctx := context.Background()

	ops := []operation.Operation{registerServiceOp("svc-a", sk), registerServiceOp("svc-b", sk)}
	require.NoError(t, f.FinalizeEpoch(ctx, 0, ops))

	epoch, err := f.store.GetEpoch()
	require.NoError(t, err)
	require.Equal(t, uint64(1), epoch)

	commitment, err := f.store.GetCommitment(1)
	require.NoError(t, err)
	require.Equal(t, f.tree.Commitment(), commitment)

	submitted, err := adapter.GetFinalizedEpoch(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, submitted)
	require.Equal(t, uint64(0), submitted.Height)
	require.Equal(t, commitment, submitted.CurrentCommitment)
	require.NoError(t, submitted.VerifySignature(sk.VerifyingKey()))
}

// TestFinalizedEpochSignatureRejectsTampering implements the epoch
// soundness property from SPEC_FULL.md §8: mutating any field of a
// produced FinalizedEpoch must invalidate its signature.
func TestFinalizedEpochSignatureRejectsTampering(t *testing.T) {
	f, adapter, sk := newFinalizer(t)
	ctx := context.Background()

	ops := []operation.Operation{registerServiceOp("svc-a", sk)}
	require.NoError(t, f.FinalizeEpoch(ctx, 0, ops))

	submitted, err := adapter.GetFinalizedEpoch(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, submitted.VerifySignature(sk.VerifyingKey()))

	tampered := *submitted
	tampered.CurrentCommitment[0] ^= 0xFF
	require.Error(t, tampered.VerifySignature(sk.VerifyingKey()))

	tampered = *submitted
	tampered.Height++
	require.Error(t, tampered.VerifySignature(sk.VerifyingKey()))

	otherSK, err := keys.GenerateEd25519()
	require.NoError(t, err)
	require.Error(t, submitted.VerifySignature(otherSK.VerifyingKey()))
}

// TestFinalizeEpochRejectsOversizedBatch checks the circuit's fixed arity
// is enforced before any proving work is attempted.
func TestFinalizeEpochRejectsOversizedBatch(t *testing.T) {
	f, _, sk := newFinalizer(t)
	ctx := context.Background()

	ops := make([]operation.Operation, MaxBatchOperations+1)
	for i := range ops {
		ops[i] = registerServiceOp("svc", sk)
	}

	err := f.FinalizeEpoch(ctx, 0, ops)
	require.ErrorIs(t, err, ErrBatchTooLarge)
}

// TestFinalizeEpochRetriesSubmitBeforeSucceeding exercises the
// DA.SubmitRetries/SubmitBackoff wiring on the epoch-submission path: a
// submission that fails once succeeds on its second attempt.
func TestFinalizeEpochRetriesSubmitBeforeSucceeding(t *testing.T) {
	db, err := kvdb.Open("test", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	tr, err := tree.NewTree(db)
	require.NoError(t, err)
	store := storage.NewStore(db)
	sk, err := keys.GenerateEd25519()
	require.NoError(t, err)

	fake := &flakyEpochAdapter{Adapter: memory.New(), failUntilAttempt: 1}
	f := New(Config{
		Tree:          tr,
		Store:         store,
		DA:            fake,
		SigningKey:    sk,
		SubmitRetries: 2,
		SubmitBackoff: time.Millisecond,
	})
	require.NoError(t, f.Setup())

	ops := []operation.Operation{registerServiceOp("svc-a", sk)}
	require.NoError(t, f.FinalizeEpoch(context.Background(), 0, ops))
	require.Equal(t, 2, fake.attempts)
}

// TestFinalizeEpochFailsAfterExhaustingRetries confirms a persistently
// failing DA submission is surfaced as an error, not retried forever.
func TestFinalizeEpochFailsAfterExhaustingRetries(t *testing.T) {
	db, err := kvdb.Open("test", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	tr, err := tree.NewTree(db)
	require.NoError(t, err)
	store := storage.NewStore(db)
	sk, err := keys.GenerateEd25519()
	require.NoError(t, err)

	fake := &flakyEpochAdapter{Adapter: memory.New(), failUntilAttempt: 100}
	f := New(Config{
		Tree:          tr,
		Store:         store,
		DA:            fake,
		SigningKey:    sk,
		SubmitRetries: 2,
		SubmitBackoff: time.Millisecond,
	})
	require.NoError(t, f.Setup())

	ops := []operation.Operation{registerServiceOp("svc-a", sk)}
	err = f.FinalizeEpoch(context.Background(), 0, ops)
	require.Error(t, err)
	require.Equal(t, 2, fake.attempts)
}
