package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/egorovli/ekonsulat-engine/internal/utils"
	"github.com/egorovli/ekonsulat-engine/pkg/types"
)

// Loop is anything the Coordinator can start and join.
type Loop interface {
	Run(ctx context.Context)
}

// Coordinator starts and stops the search and booking loops, gates on the
// params->searching transition, and ensures at-most-one winner.
//
// The Store's writer goroutine runs on its own lifetime, started at
// construction and stopped by Close, independent of the loops'
// cancellation context. That is what lets the booking loop's final
// ReservationSuccess dispatch land even though cancelAll has already torn
// down the loops' HTTP/sleep context by the time it is sent.
type Coordinator struct {
	store *Store
	log   utils.Logger

	storeCtx  context.Context
	stopStore context.CancelFunc
	cancelAll context.CancelFunc
}

// NewCoordinator wires a Store and starts its writer goroutine immediately,
// so Subscribe/Snapshot are usable before Start is ever called — a caller
// may register subscribers as soon as the run is configured, not only once
// it is running.
func NewCoordinator(store *Store, log utils.Logger) *Coordinator {
	storeCtx, stopStore := context.WithCancel(context.Background())
	c := &Coordinator{
		store:     store,
		log:       log,
		storeCtx:  storeCtx,
		stopStore: stopStore,
	}
	go store.Run(storeCtx)
	return c
}

// Start dispatches SET_PARAMS and START_SEARCH, then runs search and
// booking under one errgroup bound to a child of ctx. Start blocks until
// both loops return (on success, on rate_limit_hard, or on ctx cancellation).
func (c *Coordinator) Start(ctx context.Context, params types.Params, search, booking Loop) {
	c.store.Dispatch(SetParams{Params: params})
	c.store.Dispatch(StartSearch{})

	loopCtx, cancelAll := context.WithCancel(ctx)
	c.cancelAll = cancelAll
	defer cancelAll()

	// Whichever loop returns first (success, rate_limit_hard, cancellation)
	// cancels the shared context so the other loop returns too.
	group, gctx := errgroup.WithContext(loopCtx)
	group.Go(func() error {
		defer cancelAll()
		search.Run(gctx)
		return nil
	})
	group.Go(func() error {
		defer cancelAll()
		booking.Run(gctx)
		return nil
	})

	_ = group.Wait()
	c.log.Info("both loops returned")
}

// Stop requests both loops to return promptly, as if the operator had
// cancelled the run.
func (c *Coordinator) Stop() {
	if c.cancelAll != nil {
		c.cancelAll()
	}
}

// Close stops the Store's writer goroutine. Call only after Start has
// returned; a Coordinator must not be reused afterwards.
func (c *Coordinator) Close() {
	c.stopStore()
}

// Snapshot exposes the read-only state for UI/CLI collaborators, the pull
// form of the subscribe boundary.
func (c *Coordinator) Snapshot() types.Snapshot {
	return c.store.Snapshot()
}

// Subscribe exposes the push form of the same boundary: fn is called with
// a fresh snapshot after every applied action.
func (c *Coordinator) Subscribe(fn func(types.Snapshot)) {
	c.store.Subscribe(fn)
}
