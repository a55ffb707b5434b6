// Package batcher implements the pending-operation buffer (C7): client
// operations are validated and queued here, then drained and submitted
// to the DA layer once per newly observed DA height.
package batcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/cypherpepe/prism/pkg/da"
	"github.com/cypherpepe/prism/pkg/metrics"
	"github.com/cypherpepe/prism/pkg/operation"
	"github.com/cypherpepe/prism/pkg/tree"
)

// Batcher owns the pending-operation buffer shared between the external
// API (via ValidateAndQueue) and the DA-submission loop (via Run).
type Batcher struct {
	mu      sync.Mutex
	pending []operation.Operation

	tree    *tree.Tree
	da      da.Adapter
	enabled bool
	metrics *metrics.Registry
	logger  *log.Logger

	maxBatchSize  int // 0 means submit the whole drained buffer in one call
	submitRetries int
	submitBackoff time.Duration
}

// Config configures a new Batcher.
type Config struct {
	Tree    *tree.Tree
	DA      da.Adapter
	Enabled bool
	Metrics *metrics.Registry
	Logger  *log.Logger

	// MaxBatchSize caps how many operations are submitted to DA in a
	// single call; a larger drained buffer is split into sequential
	// chunks. Zero means no cap.
	MaxBatchSize int
	// SubmitRetries is the number of attempts made per chunk before it is
	// logged and dropped. Zero/negative is treated as 1 (no retry).
	SubmitRetries int
	// SubmitBackoff is slept between retry attempts.
	SubmitBackoff time.Duration
}

// New constructs a Batcher from cfg.
func New(cfg Config) *Batcher {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[batcher] ", log.LstdFlags)
	}
	submitRetries := cfg.SubmitRetries
	if submitRetries <= 0 {
		submitRetries = 1
	}
	return &Batcher{
		tree:          cfg.Tree,
		da:            cfg.DA,
		enabled:       cfg.Enabled,
		metrics:       cfg.Metrics,
		logger:        logger,
		maxBatchSize:  cfg.MaxBatchSize,
		submitRetries: submitRetries,
		submitBackoff: cfg.SubmitBackoff,
	}
}

// ValidateAndQueue implements SPEC_FULL.md §4.3's validate_and_queue_update:
// it rejects a disabled batcher, performs structural validation, and for
// operations that require an existing hashchain, dry-runs the operation
// against a clone of the current hashchain so authorization failures
// never touch the tree. On success op is appended to the pending buffer.
func (b *Batcher) ValidateAndQueue(op operation.Operation) error {
	if !b.enabled {
		return ErrDisabled
	}
	if err := op.Validate(); err != nil {
		return err
	}

	if op.RequiresExistingHashchain() {
		found, hc, _, err := b.tree.Get(op.ID)
		if err != nil {
			return fmt.Errorf("batcher: lookup hashchain %q: %w", op.ID, err)
		}
		if !found {
			return fmt.Errorf("%w: %q", ErrHashchainNotFound, op.ID)
		}
		if err := hc.Clone().PerformOperation(op); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.pending = append(b.pending, op)
	b.mu.Unlock()
	return nil
}

// drain atomically takes the entire pending buffer, leaving an empty
// buffer behind.
func (b *Batcher) drain() []operation.Operation {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	drained := b.pending
	b.pending = nil
	return drained
}

// Run subscribes to DA heights and, on each new height, drains the
// pending buffer and submits it to DA, making at most SubmitRetries
// attempts per chunk with SubmitBackoff between attempts. A chunk that
// still fails after the last attempt is logged and dropped, per SPEC_FULL.md
// §4.5/§7.
func (b *Batcher) Run(ctx context.Context) error {
	heights := b.da.SubscribeToHeights()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-heights:
			if !ok {
				return fmt.Errorf("batcher: DA height subscription closed")
			}
			b.submitPending(ctx)
		}
	}
}

func (b *Batcher) submitPending(ctx context.Context) {
	ops := b.drain()
	if len(ops) == 0 {
		return
	}
	for _, chunk := range chunkOperations(ops, b.maxBatchSize) {
		landed, err := b.submitWithRetry(ctx, chunk)
		if err != nil {
			b.logger.Printf("failed to submit %d operations after %d attempt(s): %v", len(chunk), b.submitRetries, err)
			continue
		}
		b.metrics.ObserveBatchSize(len(chunk))
		b.logger.Printf("submitted %d operations at DA height %d", len(chunk), landed)
	}
}

// submitWithRetry calls DA.SubmitOperations, making at most b.submitRetries
// attempts in total with b.submitBackoff between attempts.
func (b *Batcher) submitWithRetry(ctx context.Context, ops []operation.Operation) (uint64, error) {
	var lastErr error
	for attempt := 0; attempt < b.submitRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(b.submitBackoff):
			}
		}
		landed, err := b.da.SubmitOperations(ctx, ops)
		if err == nil {
			return landed, nil
		}
		lastErr = err
		b.logger.Printf("submit attempt %d/%d failed: %v", attempt+1, b.submitRetries, err)
	}
	return 0, lastErr
}

// chunkOperations splits ops into sequential slices of at most max
// operations each. max <= 0 means no cap (ops is returned whole).
func chunkOperations(ops []operation.Operation, max int) [][]operation.Operation {
	if max <= 0 || len(ops) <= max {
		return [][]operation.Operation{ops}
	}
	chunks := make([][]operation.Operation, 0, (len(ops)+max-1)/max)
	for len(ops) > 0 {
		n := max
		if n > len(ops) {
			n = len(ops)
		}
		chunks = append(chunks, ops[:n])
		ops = ops[n:]
	}
	return chunks
}
