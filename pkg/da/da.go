// Package da defines the data-availability adapter contract (C4) consumed
// by the sync engine, batcher and epoch finalizer, plus the wire types
// that cross it: operation batches and finalized epochs.
package da

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cypherpepe/prism/pkg/digest"
	"github.com/cypherpepe/prism/pkg/keys"
	"github.com/cypherpepe/prism/pkg/operation"
)

// Adapter is the capability set the core depends on to read and write the
// DA layer. Two implementations satisfy it: pkg/da/memory (tests, local
// dev) and pkg/da/firestore (production).
type Adapter interface {
	// Start performs idempotent initialization (e.g. opening a client,
	// starting the polling loop that feeds SubscribeToHeights).
	Start(ctx context.Context) error

	// SubscribeToHeights returns a channel broadcasting every newly
	// observed DA height exactly once, in ascending order, to this
	// subscriber. A subscriber that falls behind observes the channel
	// close instead of silently skipping heights.
	SubscribeToHeights() <-chan uint64

	// GetOperations returns the operations blob at height h, or an empty
	// slice if none was published there.
	GetOperations(ctx context.Context, h uint64) ([]operation.Operation, error)

	// GetFinalizedEpoch returns the finalized epoch published at height
	// h, or nil if none was published there.
	GetFinalizedEpoch(ctx context.Context, h uint64) (*FinalizedEpoch, error)

	// SubmitOperations publishes ops as a new blob and returns the height
	// it landed at.
	SubmitOperations(ctx context.Context, ops []operation.Operation) (uint64, error)

	// SubmitFinalizedEpoch publishes ep as a new blob.
	SubmitFinalizedEpoch(ctx context.Context, ep *FinalizedEpoch) error
}

// FinalizedEpoch is a signed, zk-proof-sealed checkpoint of the
// authenticated state tree.
type FinalizedEpoch struct {
	Height            uint64          `json:"height"`
	PrevCommitment    digest.Digest   `json:"prev_commitment"`
	CurrentCommitment digest.Digest   `json:"current_commitment"`
	Proof             []byte          `json:"proof"`
	Signature         *keys.Signature `json:"signature,omitempty"`
}

// SigningPayload returns the canonical bytes signed over: the record with
// Signature elided.
func (ep FinalizedEpoch) SigningPayload() ([]byte, error) {
	clone := ep
	clone.Signature = nil
	b, err := json.Marshal(clone)
	if err != nil {
		return nil, fmt.Errorf("da: marshal finalized epoch: %w", err)
	}
	return b, nil
}

// Sign computes ep's signing payload and signs it with sk, attaching the
// result.
func (ep *FinalizedEpoch) Sign(sk keys.SigningKey) error {
	payload, err := ep.SigningPayload()
	if err != nil {
		return err
	}
	sig, err := sk.Sign(payload)
	if err != nil {
		return fmt.Errorf("da: sign finalized epoch: %w", err)
	}
	ep.Signature = &sig
	return nil
}

// VerifySignature checks ep.Signature against vk over ep's signing
// payload. Returns an error if ep is unsigned.
func (ep FinalizedEpoch) VerifySignature(vk keys.VerifyingKey) error {
	if ep.Signature == nil {
		return fmt.Errorf("da: finalized epoch at height %d is unsigned", ep.Height)
	}
	payload, err := ep.SigningPayload()
	if err != nil {
		return err
	}
	return vk.Verify(payload, *ep.Signature)
}
