package engine

import (
	"testing"

	"github.com/egorovli/ekonsulat-engine/pkg/types"
)

func apply(actions ...Action) *state {
	s := newState("test-run")
	for _, a := range actions {
		a.apply(s)
	}
	return s
}

func TestPhaseMonotonicity(t *testing.T) {
	s := apply(
		SetParams{Params: types.Params{LocationID: "191", PartySize: 1}},
		StartSearch{},
	)
	if s.phase != types.PhaseSearching {
		t.Fatalf("phase = %v, want searching", s.phase)
	}
}

func TestReservationSuccessIsIdempotent(t *testing.T) {
	s := apply(
		SetParams{Params: types.Params{LocationID: "191", PartySize: 1}},
		StartSearch{},
		UpdateSearch{Result: types.CheckSlotsResult{Slots: []types.Slot{{Date: "2026-01-12"}}, Token: "T1"}},
		StartReservation{},
		ReservationSuccess{Result: types.ReservationResult{PrimaryTicket: types.ReservationTicket{TicketID: "A"}}},
	)
	if s.phase != types.PhaseSuccess {
		t.Fatalf("phase = %v, want success", s.phase)
	}

	// A second success attempt must be a no-op.
	ReservationSuccess{Result: types.ReservationResult{PrimaryTicket: types.ReservationTicket{TicketID: "B"}}}.apply(s)
	if s.reservation.Result.PrimaryTicket.TicketID != "A" {
		t.Fatalf("second RESERVATION_SUCCESS overwrote the first winner: %q", s.reservation.Result.PrimaryTicket.TicketID)
	}
}

func TestUpdateSearchResetsIndexOnTokenChange(t *testing.T) {
	s := apply(
		SetParams{Params: types.Params{LocationID: "191", PartySize: 1}},
		StartSearch{},
		UpdateSearch{Result: types.CheckSlotsResult{Slots: []types.Slot{{Date: "D1"}, {Date: "D2"}}, Token: "T1"}},
		StartReservation{},
		TryNextSlot{},
	)
	if s.reservation.CurrentSlotIndex != 1 {
		t.Fatalf("index = %d, want 1", s.reservation.CurrentSlotIndex)
	}

	UpdateSearch{Result: types.CheckSlotsResult{Slots: []types.Slot{{Date: "D1"}, {Date: "D2"}, {Date: "D3"}}, Token: "T2"}}.apply(s)
	if s.reservation.CurrentSlotIndex != 0 {
		t.Fatalf("index after token change = %d, want 0", s.reservation.CurrentSlotIndex)
	}
}

func TestUpdateSearchResetsIndexWhenSlotsShrinkPastIt(t *testing.T) {
	s := apply(
		SetParams{Params: types.Params{LocationID: "191", PartySize: 1}},
		StartSearch{},
		UpdateSearch{Result: types.CheckSlotsResult{Slots: []types.Slot{{Date: "D1"}, {Date: "D2"}, {Date: "D3"}}, Token: "T1"}},
		StartReservation{},
		TryNextSlot{},
		TryNextSlot{},
	)
	if s.reservation.CurrentSlotIndex != 2 {
		t.Fatalf("index = %d, want 2", s.reservation.CurrentSlotIndex)
	}

	UpdateSearch{Result: types.CheckSlotsResult{Slots: []types.Slot{{Date: "D1"}}, Token: "T1"}}.apply(s)
	if s.reservation.CurrentSlotIndex != 0 {
		t.Fatalf("index after shrink = %d, want reset to 0", s.reservation.CurrentSlotIndex)
	}
}

func TestTryNextSlotWrapsModuloSlotCount(t *testing.T) {
	s := apply(
		SetParams{Params: types.Params{LocationID: "191", PartySize: 1}},
		StartSearch{},
		UpdateSearch{Result: types.CheckSlotsResult{Slots: []types.Slot{{Date: "D1"}, {Date: "D2"}}, Token: "T1"}},
		StartReservation{},
		TryNextSlot{},
		TryNextSlot{},
	)
	if s.reservation.CurrentSlotIndex != 0 {
		t.Fatalf("index after wrap = %d, want 0", s.reservation.CurrentSlotIndex)
	}
}

func TestStopAllDoesNotChangePhase(t *testing.T) {
	s := apply(
		SetParams{Params: types.Params{LocationID: "191", PartySize: 1}},
		StartSearch{},
		StopAll{},
	)
	if s.phase != types.PhaseSearching {
		t.Fatalf("phase changed by StopAll: %v", s.phase)
	}
	if s.search.IsRunning {
		t.Fatal("search.IsRunning should be false after StopAll")
	}
}

func TestLogSearchErrorTracksCaptchaFailureStat(t *testing.T) {
	s := apply(
		LogSearchError{Entry: types.ErrorLogEntry{Class: "captcha"}},
		LogSearchError{Entry: types.ErrorLogEntry{Class: "captcha"}},
		LogSearchError{Entry: types.ErrorLogEntry{Class: "network"}},
	)
	if s.stats.CaptchaFailures != 2 {
		t.Fatalf("CaptchaFailures = %d, want 2", s.stats.CaptchaFailures)
	}
	if s.stats.ErrorCountsByClass["network"] != 1 {
		t.Fatalf("network error count = %d, want 1", s.stats.ErrorCountsByClass["network"])
	}
}
