package konsulat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckSlots_FallsBackToInputTokenWhenResponseTokenEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(checkSlotsResponse{
			TabelaDni: []string{"2026-01-12", "2026-01-13"},
			Token:     "",
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL, "test-agent", srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := c.CheckSlots(context.Background(), "191", 1, "T-INPUT")
	if err != nil {
		t.Fatalf("CheckSlots: %v", err)
	}
	if res.Token != "T-INPUT" {
		t.Fatalf("Token = %q, want fallback to input token", res.Token)
	}
	if len(res.Slots) != 2 || res.Slots[0].Date != "2026-01-12" {
		t.Fatalf("unexpected slots: %+v", res.Slots)
	}
}

func TestCreateReservation_NullTicketClassifiesAsSlotUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(createReservationResponse{Bilet: nil})
	}))
	defer srv.Close()

	c, _ := New(srv.URL, "test-agent", srv.URL)
	_, err := c.CreateReservation(context.Background(), "2026-01-12", "191", "T1", "2", 1, false)
	if err == nil {
		t.Fatal("expected error on null ticket")
	}

	in := Classify(err)
	if in.HTTPStatus != 200 {
		t.Fatalf("expected status 200 preserved, got %d", in.HTTPStatus)
	}
}

func TestCreateReservation_RejectsInvalidDate(t *testing.T) {
	c, _ := New("http://example.invalid", "ua", "http://example.invalid")
	_, err := c.CreateReservation(context.Background(), "not-a-date", "191", "T1", "2", 1, false)
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestDoJSON_NonTwoXXCarriesUpstreamReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"reason":"LIMIT_Z_JEDNEGO_IP_PRZEKROCZONY"}`))
	}))
	defer srv.Close()

	c, _ := New(srv.URL, "ua", srv.URL)
	_, err := c.CheckSlots(context.Background(), "191", 1, "T1")
	if err == nil {
		t.Fatal("expected error")
	}
	in := Classify(err)
	if in.HTTPStatus != 400 {
		t.Fatalf("HTTPStatus = %d, want 400", in.HTTPStatus)
	}
}
