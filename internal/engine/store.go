package engine

import (
	"context"

	"github.com/egorovli/ekonsulat-engine/pkg/types"
)

// Store is the single owner of engine state. Exactly one goroutine ever
// calls Run; every other goroutine communicates with it only through
// Dispatch and Snapshot, which is what makes every mutation serialized.
//
// Store's own lifetime (governed by the ctx passed to Run) is intentionally
// decoupled from the loops' HTTP/sleep cancellation context: on success the
// booking loop cancels the loops' context first and the Coordinator joins
// both loops, while the Store keeps running until Coordinator.Close, so the
// booking loop's final ReservationSuccess dispatch is always accepted even
// though the loops' own context is already cancelled.
type Store struct {
	state       *state
	actions     chan actionRequest
	snapshotReq chan chan types.Snapshot
	subscribe   chan func(types.Snapshot)
	subscribers []func(types.Snapshot)
}

type actionRequest struct {
	action Action
	done   chan struct{}
}

// NewStore creates a Store for one run, identified by runID (used to stamp
// log/metric correlation, not part of the state machine itself).
func NewStore(runID string) *Store {
	return &Store{
		state:       newState(runID),
		actions:     make(chan actionRequest),
		snapshotReq: make(chan chan types.Snapshot),
		subscribe:   make(chan func(types.Snapshot)),
	}
}

// Run is the serialized writer loop. The caller must start it before any
// Dispatch/Snapshot/Subscribe call and must keep it running until after
// both loops have returned.
func (st *Store) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-st.actions:
			req.action.apply(st.state)
			close(req.done)
			snap := st.state.snapshot()
			for _, fn := range st.subscribers {
				fn(snap)
			}
		case out := <-st.snapshotReq:
			out <- st.state.snapshot()
		case fn := <-st.subscribe:
			st.subscribers = append(st.subscribers, fn)
		}
	}
}

// Dispatch applies one action and blocks until the writer goroutine has
// applied it. It assumes Run is alive; callers must not outlive the Store.
func (st *Store) Dispatch(a Action) {
	done := make(chan struct{})
	st.actions <- actionRequest{action: a, done: done}
	<-done
}

// Snapshot returns an immutable copy of the current state.
func (st *Store) Snapshot() types.Snapshot {
	out := make(chan types.Snapshot, 1)
	st.snapshotReq <- out
	return <-out
}

// Subscribe registers fn to be called with a fresh snapshot after every
// applied action. fn must not block; it runs on the writer goroutine.
func (st *Store) Subscribe(fn func(types.Snapshot)) {
	st.subscribe <- fn
}
