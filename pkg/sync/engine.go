// Package sync implements the sync engine (C6): historical catch-up
// followed by live tailing of the DA layer, deterministic replay of
// operations into the state tree, and commitment verification against
// finalized epochs published by the prover.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/cypherpepe/prism/pkg/da"
	"github.com/cypherpepe/prism/pkg/metrics"
	"github.com/cypherpepe/prism/pkg/operation"
	"github.com/cypherpepe/prism/pkg/storage"
	"github.com/cypherpepe/prism/pkg/tree"
)

// Finalizer is the capability the sync engine invokes, when prover-enabled
// and live, to seal a new epoch from the operations drained at a height.
// pkg/epoch.Finalizer implements it.
type Finalizer interface {
	FinalizeEpoch(ctx context.Context, epochHeight uint64, ops []operation.Operation) error
}

// Engine runs the C6 state machine described in SPEC_FULL.md §4.2: Init,
// then Historical catch-up up to the first height received on the DA
// subscription, then Live tailing. Engine is not safe for concurrent use of Run from more
// than one goroutine; only Run's own goroutine ever touches buf.
type Engine struct {
	store     *storage.Store
	tree      *tree.Tree
	da        da.Adapter
	finalizer Finalizer // nil on non-prover nodes
	metrics   *metrics.Registry
	logger    *log.Logger

	startHeight uint64
	buf         []operation.Operation
}

// Config configures a new Engine.
type Config struct {
	Store       *storage.Store
	Tree        *tree.Tree
	DA          da.Adapter
	Finalizer   Finalizer // nil disables epoch finalization on this node
	Metrics     *metrics.Registry
	StartHeight uint64
	Logger      *log.Logger
}

// New constructs an Engine from cfg.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[sync] ", log.LstdFlags)
	}
	return &Engine{
		store:       cfg.Store,
		tree:        cfg.Tree,
		da:          cfg.DA,
		finalizer:   cfg.Finalizer,
		metrics:     cfg.Metrics,
		logger:      logger,
		startHeight: cfg.StartHeight,
	}
}

// Run executes the state machine until ctx is cancelled or a fatal error
// occurs, per the error taxonomy in SPEC_FULL.md §7: transient DA errors,
// consensus mismatches, finalizer errors and persistence failures all
// return here and are treated as fatal by the orchestrator. The signature
// and zk proof of a finalized epoch read from DA are not verified here;
// only its height and commitments are checked.
func (e *Engine) Run(ctx context.Context) error {
	lastSynced, err := e.store.GetLastSyncedHeight()
	if errors.Is(err, storage.ErrNotFound) {
		if e.startHeight == 0 {
			lastSynced = 0
		} else {
			lastSynced = e.startHeight - 1
		}
	} else if err != nil {
		return fmt.Errorf("sync: load last synced height: %w", err)
	}

	heightsCh := e.da.SubscribeToHeights()

	var endHeight uint64
	select {
	case <-ctx.Done():
		return ctx.Err()
	case h, ok := <-heightsCh:
		if !ok {
			return ErrSubscriptionClosed
		}
		endHeight = h
	}

	current := lastSynced + 1
	for current <= endHeight {
		if err := e.processHeight(ctx, current, false); err != nil {
			return err
		}
		current++
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case h, ok := <-heightsCh:
			if !ok {
				return ErrSubscriptionClosed
			}
			if h != current {
				return fmt.Errorf("%w: expected %d, got %d", ErrNonSequentialHeight, current, h)
			}
			if err := e.processHeight(ctx, current, true); err != nil {
				return err
			}
			current++
		}
	}
}

// processHeight implements SPEC_FULL.md §4.2's process_da_height.
func (e *Engine) processHeight(ctx context.Context, h uint64, isLive bool) error {
	epoch, err := e.store.GetEpoch()
	if err != nil {
		return fmt.Errorf("sync: load epoch: %w", err)
	}

	ops, err := e.da.GetOperations(ctx, h)
	if err != nil {
		return fmt.Errorf("sync: get operations at height %d: %w", h, err)
	}

	finalized, err := e.da.GetFinalizedEpoch(ctx, h)
	if err != nil {
		return fmt.Errorf("sync: get finalized epoch at height %d: %w", h, err)
	}

	switch {
	case finalized != nil && finalized.Height < epoch:
		// Already applied by a prover node producing its own epochs.
	case finalized != nil:
		if err := e.applyFinalizedEpoch(epoch, finalized); err != nil {
			return err
		}
	case isLive && len(e.buf) > 0 && e.finalizer != nil:
		drained := e.buf
		e.buf = nil
		if err := e.finalizer.FinalizeEpoch(ctx, epoch, drained); err != nil {
			return fmt.Errorf("sync: epoch finalizer: %w", err)
		}
	}

	e.buf = append(e.buf, ops...)

	if err := e.store.SetLastSyncedHeight(h); err != nil {
		return fmt.Errorf("sync: persist last synced height: %w", err)
	}
	e.metrics.SetSyncHeight(h)

	return nil
}

func (e *Engine) applyFinalizedEpoch(epoch uint64, ep *da.FinalizedEpoch) error {
	if ep.Height != epoch {
		return fmt.Errorf("%w: finalized epoch height %d, local epoch %d", ErrConsensusMismatch, ep.Height, epoch)
	}

	persisted, err := e.store.GetCommitment(epoch)
	if errors.Is(err, storage.ErrNotFound) {
		if epoch != 0 {
			return fmt.Errorf("sync: no persisted commitment for epoch %d", epoch)
		}
		persisted = e.tree.EmptyRoot()
	} else if err != nil {
		return fmt.Errorf("sync: load commitment for epoch %d: %w", epoch, err)
	}

	if persisted != ep.PrevCommitment {
		return fmt.Errorf("%w: epoch %d prev_commitment %s != persisted %s", ErrConsensusMismatch, epoch, ep.PrevCommitment, persisted)
	}

	drained := e.buf
	e.buf = nil
	for _, op := range drained {
		if _, err := e.tree.ProcessOperation(op); err != nil {
			e.logger.Printf("skipping operation %s/%s during epoch %d replay: %v", op.Kind, op.ID, epoch, err)
			e.metrics.IncOperationsSkipped()
			continue
		}
	}

	if got := e.tree.Commitment(); got != ep.CurrentCommitment {
		return fmt.Errorf("%w: epoch %d current_commitment %s != recomputed %s", ErrConsensusMismatch, epoch, ep.CurrentCommitment, got)
	}

	if err := e.store.SetCommitment(epoch+1, e.tree.Commitment()); err != nil {
		return fmt.Errorf("sync: persist commitment for epoch %d: %w", epoch+1, err)
	}
	if err := e.store.SetEpoch(epoch + 1); err != nil {
		return fmt.Errorf("sync: persist epoch %d: %w", epoch+1, err)
	}
	e.metrics.SetEpochHeight(epoch + 1)

	return nil
}
