package epoch

import "errors"

// ErrNotInitialized is returned by generateProof/verifyProofLocally (and so
// wrapped by FinalizeEpoch) before Setup has run.
var ErrNotInitialized = errors.New("epoch: finalizer circuit not set up")

// ErrBatchTooLarge is returned by FinalizeEpoch, before any operation is
// applied, when it is given more operations than the circuit's fixed arity
// can attest to.
var ErrBatchTooLarge = errors.New("epoch: batch exceeds MaxBatchOperations")

// ErrProofVerificationFailed is returned by FinalizeEpoch when the local
// defence-in-depth verification of a freshly generated proof fails.
var ErrProofVerificationFailed = errors.New("epoch: local proof verification failed")
