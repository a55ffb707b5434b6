package epoch

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/cypherpepe/prism/pkg/da"
	"github.com/cypherpepe/prism/pkg/digest"
	"github.com/cypherpepe/prism/pkg/keys"
	"github.com/cypherpepe/prism/pkg/metrics"
	"github.com/cypherpepe/prism/pkg/operation"
	"github.com/cypherpepe/prism/pkg/storage"
	"github.com/cypherpepe/prism/pkg/tree"
)

// curve is the scalar field the batch circuit is compiled over, matching
// the teacher's bls_zkp.BLSZKProver's choice of BN254.
var curve = ecc.BN254.ScalarField()

// Finalizer implements the C8 epoch finalizer: it applies drained
// operations to the tree, proves the resulting commitment transition with
// a Groth16 circuit, signs the result and submits it to DA, following the
// teacher's BLSZKProver's mutex-guarded compile-once-then-prove-many
// lifecycle.
type Finalizer struct {
	mu sync.RWMutex

	tree       *tree.Tree
	store      *storage.Store
	da         da.Adapter
	signingKey keys.SigningKey
	metrics    *metrics.Registry
	logger     *log.Logger

	submitRetries int
	submitBackoff time.Duration

	cs          constraint.ConstraintSystem
	pk          groth16.ProvingKey
	vk          groth16.VerifyingKey
	initialized bool
}

// Config configures a new Finalizer.
type Config struct {
	Tree       *tree.Tree
	Store      *storage.Store
	DA         da.Adapter
	SigningKey keys.SigningKey
	Metrics    *metrics.Registry
	Logger     *log.Logger

	// SubmitRetries is the number of attempts made to submit a finalized
	// epoch to DA before giving up. Zero/negative is treated as 1 (no
	// retry).
	SubmitRetries int
	// SubmitBackoff is slept between retry attempts.
	SubmitBackoff time.Duration
}

// New constructs a Finalizer from cfg. Call Setup before FinalizeEpoch.
func New(cfg Config) *Finalizer {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[epoch] ", log.LstdFlags)
	}
	submitRetries := cfg.SubmitRetries
	if submitRetries <= 0 {
		submitRetries = 1
	}
	return &Finalizer{
		tree:          cfg.Tree,
		store:         cfg.Store,
		da:            cfg.DA,
		signingKey:    cfg.SigningKey,
		metrics:       cfg.Metrics,
		logger:        logger,
		submitRetries: submitRetries,
		submitBackoff: cfg.SubmitBackoff,
	}
}

// Setup compiles the batch circuit and runs the Groth16 trusted setup.
// This is a one-time, potentially multi-second operation; call it once at
// node startup before the sync engine begins invoking FinalizeEpoch.
func (f *Finalizer) Setup() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.initialized {
		return nil
	}

	var circuit BatchCircuit
	cs, err := frontend.Compile(curve, r1cs.NewBuilder, &circuit)
	if err != nil {
		return fmt.Errorf("epoch: compile circuit: %w", err)
	}

	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return fmt.Errorf("epoch: groth16 setup: %w", err)
	}

	f.cs, f.pk, f.vk = cs, pk, vk
	f.initialized = true
	return nil
}

// FinalizeEpoch implements sync.Finalizer: it is invoked by the sync
// engine, while the node is prover-enabled and live, with the operations
// drained from its buffer (everything read from DA since the last epoch).
func (f *Finalizer) FinalizeEpoch(ctx context.Context, epochHeight uint64, ops []operation.Operation) error {
	if len(ops) > MaxBatchOperations {
		return fmt.Errorf("%w: %d operations, max %d", ErrBatchTooLarge, len(ops), MaxBatchOperations)
	}

	prev := f.tree.Commitment()

	var steps []rootTransition
	for _, op := range ops {
		proof, err := f.tree.ProcessOperation(op)
		if err != nil {
			f.logger.Printf("skipping operation %s/%s during epoch %d finalization: %v", op.Kind, op.ID, epochHeight, err)
			f.metrics.IncOperationsSkipped()
			continue
		}
		steps = append(steps, rootTransition{prev: proof.PrevRoot, next: proof.NewRoot})
	}

	newCommitment := f.tree.Commitment()

	start := time.Now()
	proofBytes, err := f.generateProof(prev, newCommitment, steps)
	f.metrics.ObserveProofDuration(time.Since(start))
	if err != nil {
		return fmt.Errorf("epoch: generate proof: %w", err)
	}

	if err := f.verifyProofLocally(proofBytes, prev, newCommitment, len(steps)); err != nil {
		return fmt.Errorf("%w: %v", ErrProofVerificationFailed, err)
	}

	finalized := &da.FinalizedEpoch{
		Height:            epochHeight,
		PrevCommitment:    prev,
		CurrentCommitment: newCommitment,
		Proof:             proofBytes,
	}
	if err := finalized.Sign(f.signingKey); err != nil {
		return fmt.Errorf("epoch: sign finalized epoch: %w", err)
	}

	if err := f.submitWithRetry(ctx, finalized); err != nil {
		return fmt.Errorf("epoch: submit finalized epoch: %w", err)
	}

	if err := f.store.SetCommitment(epochHeight+1, newCommitment); err != nil {
		return fmt.Errorf("epoch: persist commitment %d: %w", epochHeight+1, err)
	}
	if err := f.store.SetEpoch(epochHeight + 1); err != nil {
		return fmt.Errorf("epoch: persist epoch %d: %w", epochHeight+1, err)
	}
	f.metrics.SetEpochHeight(epochHeight + 1)

	return nil
}

// submitWithRetry calls DA.SubmitFinalizedEpoch, making at most
// f.submitRetries attempts in total with f.submitBackoff between attempts.
func (f *Finalizer) submitWithRetry(ctx context.Context, finalized *da.FinalizedEpoch) error {
	var lastErr error
	for attempt := 0; attempt < f.submitRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.submitBackoff):
			}
		}
		err := f.da.SubmitFinalizedEpoch(ctx, finalized)
		if err == nil {
			return nil
		}
		lastErr = err
		f.logger.Printf("submit finalized epoch attempt %d/%d failed: %v", attempt+1, f.submitRetries, err)
	}
	return lastErr
}

// rootTransition records one applied operation's Merkle-proof root pair,
// from which the circuit's telescoping step delta is derived.
type rootTransition struct {
	prev digest.Digest
	next digest.Digest
}

func bigFromDigest(d digest.Digest) *big.Int {
	return new(big.Int).SetBytes(d.Bytes())
}

// fieldDelta computes (next - prev) mod the circuit's scalar field, so
// that folding it additively onto prev's accumulator reproduces next.
func fieldDelta(t rootTransition) *big.Int {
	delta := new(big.Int).Sub(bigFromDigest(t.next), bigFromDigest(t.prev))
	return delta.Mod(delta, curve)
}

func (f *Finalizer) buildAssignment(prev, newCommitment digest.Digest, steps []rootTransition) *BatchCircuit {
	var stepVars [MaxBatchOperations]frontend.Variable
	for i := range stepVars {
		if i < len(steps) {
			stepVars[i] = fieldDelta(steps[i])
		} else {
			stepVars[i] = 0
		}
	}
	return &BatchCircuit{
		PrevCommitment:  bigFromDigest(prev),
		NewCommitment:   bigFromDigest(newCommitment),
		OperationCount:  len(steps),
		StepCommitments: stepVars,
	}
}

func (f *Finalizer) generateProof(prev, newCommitment digest.Digest, steps []rootTransition) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.initialized {
		return nil, ErrNotInitialized
	}

	assignment := f.buildAssignment(prev, newCommitment, steps)
	witnessData, err := frontend.NewWitness(assignment, curve)
	if err != nil {
		return nil, fmt.Errorf("create witness: %w", err)
	}

	proof, err := groth16.Prove(f.cs, f.pk, witnessData)
	if err != nil {
		return nil, fmt.Errorf("prove: %w", err)
	}

	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize proof: %w", err)
	}
	return buf.Bytes(), nil
}

func (f *Finalizer) verifyProofLocally(proofBytes []byte, prev, newCommitment digest.Digest, operationCount int) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.initialized {
		return ErrNotInitialized
	}

	assignment := &BatchCircuit{
		PrevCommitment: bigFromDigest(prev),
		NewCommitment:  bigFromDigest(newCommitment),
		OperationCount: operationCount,
	}
	publicWitness, err := frontend.NewWitness(assignment, curve, frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("create public witness: %w", err)
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return fmt.Errorf("decode proof: %w", err)
	}

	if err := groth16.Verify(proof, f.vk, publicWitness); err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	return nil
}
