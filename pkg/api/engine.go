// Package api is the public facade collaborators (a CLI, a future UI)
// drive: configure once, start, stop, subscribe to snapshots. It owns the
// wiring between internal/konsulat, internal/captcha and internal/engine,
// none of which collaborators need to see directly.
package api

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/egorovli/ekonsulat-engine/internal/captcha"
	"github.com/egorovli/ekonsulat-engine/internal/classify"
	"github.com/egorovli/ekonsulat-engine/internal/config"
	"github.com/egorovli/ekonsulat-engine/internal/engine"
	"github.com/egorovli/ekonsulat-engine/internal/konsulat"
	"github.com/egorovli/ekonsulat-engine/internal/utils"
	"github.com/egorovli/ekonsulat-engine/pkg/types"
)

// Solver is re-exported so collaborators never need to import
// internal/captcha directly to satisfy it.
type Solver = captcha.Solver

// Snapshot is re-exported for the same reason.
type Snapshot = types.Snapshot

// Engine is the single entry point collaborators use.
type Engine struct {
	params config.Params
	client *konsulat.Client
	solver Solver
	log    utils.Logger

	store *engine.Store
	coord *engine.Coordinator
}

// New constructs an Engine. solver is the external CAPTCHA-solving
// collaborator; its internals are out of scope here.
func New(solver Solver, log utils.Logger) *Engine {
	if log == nil {
		log = utils.NewLogger()
	}
	return &Engine{solver: solver, log: log}
}

// Configure validates the run parameters and wires the Store/Coordinator.
// Must be called once, before Start. Subscribe and Snapshot are usable
// immediately after Configure returns — a caller does not need to wait for
// Start to register a subscriber, so no snapshot is ever missed.
func (e *Engine) Configure(p config.Params) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	client, err := konsulat.New(p.BaseURL, p.UserAgent, p.Origin)
	if err != nil {
		return fmt.Errorf("build api client: %w", err)
	}
	e.params = p
	e.client = client

	runID := uuid.NewString()
	e.store = engine.NewStore(runID)
	e.coord = engine.NewCoordinator(e.store, e.log)
	return nil
}

// Start runs the engine until it reaches phase=success or ctx is
// cancelled. It blocks for the lifetime of the run; callers typically call
// it from its own goroutine and observe progress via Subscribe.
func (e *Engine) Start(ctx context.Context) error {
	if e.client == nil || e.coord == nil {
		return fmt.Errorf("Configure must be called before Start")
	}

	pipeline := captcha.New(e.client, e.solver, e.log)
	backoff := e.params.BackoffConstants()
	rng := classify.NewRand(1)

	loopCtx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	search := engine.NewSearchLoop(e.store, pipeline, e.client, konsulat.ClassifyErr, backoff, rng, e.params.LocationID, e.params.PartySize, e.log)
	booking := engine.NewBookingLoop(e.store, e.client, e.client, konsulat.ClassifyErr, backoff, cancelAll, e.params.LocationID, e.params.LanguageVersionID, e.params.PartySize, e.log)

	e.coord.Start(loopCtx, e.params.ToEngineParams(), search, booking)
	return nil
}

// Stop requests the engine to return promptly without a reservation.
func (e *Engine) Stop() {
	if e.coord != nil {
		e.coord.Stop()
	}
}

// Subscribe registers fn to receive a fresh Snapshot after every applied
// action. May be called any time after Configure — the Coordinator (and
// its Store) exist from Configure onward, before Start is ever called.
func (e *Engine) Subscribe(fn func(Snapshot)) {
	if e.coord != nil {
		e.coord.Subscribe(fn)
	}
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() Snapshot {
	if e.coord == nil {
		return Snapshot{}
	}
	return e.coord.Snapshot()
}

// ListCountries fetches the consulate directory once, for resolving
// display details for a reservation's consulate after success.
func (e *Engine) ListCountries(ctx context.Context) ([]types.Country, error) {
	if e.client == nil {
		return nil, fmt.Errorf("Configure must be called before ListCountries")
	}
	return e.client.ListCountries(ctx)
}
