package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cypherpepe/prism/pkg/operation"
)

func TestSubscribeToHeightsReplaysLargeBacklogWithoutBlocking(t *testing.T) {
	a := New()

	const backlog = 200 // well beyond the old fixed 64-slot buffer
	for i := 0; i < backlog; i++ {
		_, err := a.SubmitOperations(t.Context(), nil)
		require.NoError(t, err)
	}

	done := make(chan <-chan uint64, 1)
	go func() { done <- a.SubscribeToHeights() }()

	select {
	case ch := <-done:
		for want := uint64(1); want <= backlog; want++ {
			select {
			case got := <-ch:
				require.Equal(t, want, got)
			default:
				t.Fatalf("replay stopped short at height %d", want)
			}
		}
	case <-time.After(time.Second):
		t.Fatal("SubscribeToHeights deadlocked replaying a backlog larger than the old fixed buffer")
	}
}

func TestSubscribeToHeightsSeesSubsequentBroadcasts(t *testing.T) {
	a := New()
	ch := a.SubscribeToHeights()

	h, err := a.SubmitOperations(t.Context(), []operation.Operation{{ID: "acct-1"}})
	require.NoError(t, err)
	require.Equal(t, uint64(1), h)

	select {
	case got := <-ch:
		require.Equal(t, uint64(1), got)
	case <-time.After(time.Second):
		t.Fatal("did not observe broadcast height")
	}
}
