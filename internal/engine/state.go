// Package engine owns the dual search/booking loops and the single shared
// state they coordinate through. All state mutation is expressed as a
// closed set of Action values applied by one writer goroutine (Store.Run);
// every other goroutine only dispatches actions or reads snapshots.
package engine

import (
	"time"

	"github.com/egorovli/ekonsulat-engine/pkg/types"
)

// state is the mutable aggregate. It is never exposed directly outside this
// package; callers only ever see a types.Snapshot copy.
type state struct {
	runID       string
	phase       types.Phase
	params      *types.Params
	search      types.SearchState
	reservation types.ReservationState
	stats       types.Stats
}

func newState(runID string) *state {
	return &state{
		runID: runID,
		phase: types.PhaseParams,
		stats: types.Stats{ErrorCountsByClass: make(map[string]int)},
	}
}

func (s *state) snapshot() types.Snapshot {
	search := s.search
	search.Slots = append([]types.Slot(nil), s.search.Slots...)
	search.Errors = append([]types.ErrorLogEntry(nil), s.search.Errors...)

	reservation := s.reservation
	reservation.Errors = append([]types.ErrorLogEntry(nil), s.reservation.Errors...)

	stats := s.stats
	stats.ErrorCountsByClass = make(map[string]int, len(s.stats.ErrorCountsByClass))
	for k, v := range s.stats.ErrorCountsByClass {
		stats.ErrorCountsByClass[k] = v
	}

	var params *types.Params
	if s.params != nil {
		p := *s.params
		params = &p
	}

	return types.Snapshot{
		RunID:       s.runID,
		Phase:       s.phase,
		Params:      params,
		Search:      search,
		Reservation: reservation,
		Stats:       stats,
	}
}

// Action is a named, serialized mutation to the engine state. The apply
// method is unexported so the action taxonomy stays closed to this
// package, the way internal/classify.Class is closed.
type Action interface {
	apply(*state)
}

// SetParams stores the fixed run configuration. Precondition: phase=params.
type SetParams struct{ Params types.Params }

func (a SetParams) apply(s *state) {
	if s.phase != types.PhaseParams {
		return
	}
	p := a.Params
	s.params = &p
}

// StartSearch transitions params -> searching and clears prior search state.
type StartSearch struct{}

func (StartSearch) apply(s *state) {
	if s.params == nil || s.phase == types.PhaseSuccess {
		return
	}
	s.phase = types.PhaseSearching
	s.search.Slots = nil
	s.search.Token = ""
	s.search.Result = nil
	s.search.Errors = nil
	s.search.IsRunning = true
	if s.stats.StartTime.IsZero() {
		s.stats.StartTime = time.Now()
	}
}

// IncrementSearchAttempt records one more search-loop iteration.
type IncrementSearchAttempt struct{}

func (IncrementSearchAttempt) apply(s *state) {
	if s.phase == types.PhaseSuccess {
		return
	}
	s.search.Attempts++
	s.search.LastAttempt = time.Now()
}

// UpdateSearch publishes a fresh (slots, token) pair. If the token changed
// or the slot list shrank past the current reservation index, the index is
// reset to 0; otherwise it is left in range.
type UpdateSearch struct{ Result types.CheckSlotsResult }

func (a UpdateSearch) apply(s *state) {
	if s.phase == types.PhaseSuccess {
		return
	}
	tokenChanged := s.search.Token != a.Result.Token
	result := a.Result
	s.search.Slots = result.Slots
	s.search.Token = result.Token
	s.search.Result = &result

	if tokenChanged || s.reservation.CurrentSlotIndex+1 > len(result.Slots) {
		s.reservation.CurrentSlotIndex = 0
	}
}

// LogSearchError appends to the search error log and, for captcha
// failures, bumps the captcha-failure stat.
type LogSearchError struct{ Entry types.ErrorLogEntry }

func (a LogSearchError) apply(s *state) {
	a.Entry.CorrelationID = s.runID
	s.search.Errors = append(s.search.Errors, a.Entry)
	s.stats.ErrorCountsByClass[a.Entry.Class]++
	if a.Entry.Class == "captcha" {
		s.stats.CaptchaFailures++
	}
}

// RecordCaptchaSuccess is a stats-only action: captcha success count and
// average solve duration are tracked the same way any other mutation is.
type RecordCaptchaSuccess struct{ Duration time.Duration }

func (a RecordCaptchaSuccess) apply(s *state) {
	s.stats.CaptchaAttempts++
	s.stats.CaptchaSuccesses++
	s.stats.CaptchaSolveTotal += a.Duration
}

// SetConsulateDetails records the resolved display details for the
// target consulate, fetched once on the first searching->booking
// transition. Idempotent: once set, later calls are ignored.
type SetConsulateDetails struct{ Details types.ConsulateDetails }

func (a SetConsulateDetails) apply(s *state) {
	if s.reservation.ConsulateDetails != nil {
		return
	}
	d := a.Details
	s.reservation.ConsulateDetails = &d
}

// StartReservation transitions searching -> booking. Precondition:
// phase=searching and at least one slot is present.
type StartReservation struct{}

func (StartReservation) apply(s *state) {
	if s.phase != types.PhaseSearching || len(s.search.Slots) == 0 {
		return
	}
	s.phase = types.PhaseBooking
	s.reservation.Attempts = 0
	s.reservation.CurrentSlotIndex = 0
	s.reservation.Errors = nil
	s.reservation.IsRunning = true
}

// IncrementReservationAttempt records one more booking-loop iteration.
type IncrementReservationAttempt struct{}

func (IncrementReservationAttempt) apply(s *state) {
	if s.phase != types.PhaseBooking {
		return
	}
	s.reservation.Attempts++
}

// TryNextSlot advances the booking loop's cursor, wrapping modulo the
// current slot count.
type TryNextSlot struct{}

func (TryNextSlot) apply(s *state) {
	if s.phase != types.PhaseBooking || len(s.search.Slots) == 0 {
		return
	}
	s.reservation.CurrentSlotIndex = (s.reservation.CurrentSlotIndex + 1) % len(s.search.Slots)
}

// LogReservationError appends to the reservation error log.
type LogReservationError struct{ Entry types.ErrorLogEntry }

func (a LogReservationError) apply(s *state) {
	a.Entry.CorrelationID = s.runID
	s.reservation.Errors = append(s.reservation.Errors, a.Entry)
	s.stats.ErrorCountsByClass[a.Entry.Class]++
}

// ReservationSuccess is the only transition into success. It is idempotent:
// once phase is already success, further attempts are silently ignored.
type ReservationSuccess struct{ Result types.ReservationResult }

func (a ReservationSuccess) apply(s *state) {
	if s.phase == types.PhaseSuccess {
		return
	}
	result := a.Result
	s.reservation.Result = &result
	s.phase = types.PhaseSuccess
	s.search.IsRunning = false
	s.reservation.IsRunning = false
}

// StopAll halts both loops without changing phase.
type StopAll struct{}

func (StopAll) apply(s *state) {
	s.search.IsRunning = false
	s.reservation.IsRunning = false
}
