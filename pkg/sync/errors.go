package sync

import "errors"

// ErrSubscriptionClosed is returned by Run when the DA height subscription
// channel closes, which the adapter does only when this subscriber has
// lagged past its buffer.
var ErrSubscriptionClosed = errors.New("sync: DA height subscription closed")

// ErrNonSequentialHeight is returned by Run when a live height arrives out
// of order.
var ErrNonSequentialHeight = errors.New("sync: non-sequential DA height in live mode")

// ErrConsensusMismatch is returned by processHeight when a finalized
// epoch's commitments do not match locally persisted or recomputed state.
var ErrConsensusMismatch = errors.New("sync: consensus mismatch against finalized epoch")
