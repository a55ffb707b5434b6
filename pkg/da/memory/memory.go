// Package memory is an in-memory DA adapter for tests and local
// development: it totally orders submitted blobs into heights starting
// at 1 and broadcasts new heights to subscribers, following the
// teacher's batch.Scheduler run-loop/broadcast idiom.
package memory

import (
	"context"
	"log"
	"sync"

	"github.com/cypherpepe/prism/pkg/da"
	"github.com/cypherpepe/prism/pkg/operation"
)

type height struct {
	operations []operation.Operation
	epoch      *da.FinalizedEpoch
}

// Adapter is a single-process DA layer backed by an in-memory slice of
// heights, with broadcast-based height subscription. It implements
// da.Adapter.
type Adapter struct {
	mu          sync.Mutex
	heights     []height // index 0 is height 1
	subscribers []chan uint64

	logger *log.Logger
}

// New creates an empty in-memory DA adapter.
func New() *Adapter {
	return &Adapter{logger: log.New(log.Writer(), "[DA-memory] ", log.LstdFlags)}
}

// Start is a no-op; the adapter requires no external initialization.
func (a *Adapter) Start(ctx context.Context) error {
	return nil
}

// SubscribeToHeights registers a new broadcast receiver. The channel is
// buffered so a momentarily slow subscriber does not stall submitters;
// persistent lag closes the channel instead of dropping heights silently.
//
// The buffer is sized to the existing backlog plus headroom: the replay
// loop below runs with a.mu held, so a send that blocked here would hang
// every other method on this adapter, not just this subscriber. Sizing
// the channel to fit the whole backlog up front keeps the replay
// non-blocking; broadcast's select/default still protects against a
// subscriber that falls behind afterward.
func (a *Adapter) SubscribeToHeights() <-chan uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch := make(chan uint64, len(a.heights)+64)
	for h := range a.heights {
		ch <- uint64(h + 1)
	}
	a.subscribers = append(a.subscribers, ch)
	return ch
}

func (a *Adapter) broadcast(h uint64) {
	live := a.subscribers[:0]
	for _, sub := range a.subscribers {
		select {
		case sub <- h:
			live = append(live, sub)
		default:
			a.logger.Printf("subscriber lagging at height %d, closing", h)
			close(sub)
		}
	}
	a.subscribers = live
}

// GetOperations implements da.Adapter.
func (a *Adapter) GetOperations(ctx context.Context, h uint64) ([]operation.Operation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if h == 0 || h > uint64(len(a.heights)) {
		return nil, nil
	}
	return append([]operation.Operation(nil), a.heights[h-1].operations...), nil
}

// GetFinalizedEpoch implements da.Adapter.
func (a *Adapter) GetFinalizedEpoch(ctx context.Context, h uint64) (*da.FinalizedEpoch, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if h == 0 || h > uint64(len(a.heights)) {
		return nil, nil
	}
	return a.heights[h-1].epoch, nil
}

// SubmitOperations implements da.Adapter.
func (a *Adapter) SubmitOperations(ctx context.Context, ops []operation.Operation) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.heights = append(a.heights, height{operations: append([]operation.Operation(nil), ops...)})
	h := uint64(len(a.heights))
	a.broadcast(h)
	return h, nil
}

// SubmitFinalizedEpoch implements da.Adapter. It posts ep at a new height
// with no accompanying operations.
func (a *Adapter) SubmitFinalizedEpoch(ctx context.Context, ep *da.FinalizedEpoch) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.heights = append(a.heights, height{epoch: ep})
	h := uint64(len(a.heights))
	a.broadcast(h)
	return nil
}

// SubmitHeight publishes ops and ep together at one new height; useful
// for test fixtures that need operations and the epoch covering them to
// land at the same height (per SPEC_FULL.md scenario S1).
func (a *Adapter) SubmitHeight(ops []operation.Operation, ep *da.FinalizedEpoch) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.heights = append(a.heights, height{operations: append([]operation.Operation(nil), ops...), epoch: ep})
	h := uint64(len(a.heights))
	a.broadcast(h)
	return h
}
