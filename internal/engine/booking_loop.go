package engine

import (
	"context"
	"time"

	"github.com/egorovli/ekonsulat-engine/internal/classify"
	"github.com/egorovli/ekonsulat-engine/internal/utils"
	"github.com/egorovli/ekonsulat-engine/pkg/types"
)

// Reserver is the subset of internal/konsulat.Client the booking loop drives.
type Reserver interface {
	CreateReservation(ctx context.Context, date, locationID, verifiedToken, languageVersionID string, partySize int, onlyChildren bool) (types.ReservationResult, error)
}

// ConsulateResolver is the subset of internal/konsulat.Client the booking
// loop drives to resolve display details for the target consulate.
type ConsulateResolver interface {
	ListCountries(ctx context.Context) ([]types.Country, error)
}

// BookingLoop consumes dates the search loop publishes and races to
// reserve one, rotating to the next date whenever the current one is
// already taken.
type BookingLoop struct {
	store      *Store
	client     Reserver
	consulates ConsulateResolver
	classify   ErrClassifier
	backoff    classify.Constants
	cancelAll  context.CancelFunc

	locationID        string
	languageVersionID string
	partySize         int
	log               utils.Logger
	consulateFetched  bool
}

// NewBookingLoop wires the collaborators the booking loop needs. consulates
// may be nil, in which case the consulate-details lookup is skipped.
// cancelAll is invoked the instant a reservation succeeds, before
// RESERVATION_SUCCESS is dispatched, so no concurrent in-flight checkSlots
// can overwrite search.slots after success.
func NewBookingLoop(store *Store, client Reserver, consulates ConsulateResolver, classifier ErrClassifier, backoff classify.Constants, cancelAll context.CancelFunc, locationID, languageVersionID string, partySize int, log utils.Logger) *BookingLoop {
	return &BookingLoop{
		store:             store,
		client:            client,
		consulates:        consulates,
		classify:          classifier,
		backoff:           backoff,
		cancelAll:         cancelAll,
		locationID:        locationID,
		languageVersionID: languageVersionID,
		partySize:         partySize,
		log:               log.WithField("loop", "booking"),
	}
}

// Run executes the loop until ctx is cancelled or phase reaches success.
func (l *BookingLoop) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		snap := l.store.Snapshot()
		if snap.Phase == types.PhaseSuccess {
			return
		}

		if len(snap.Search.Slots) == 0 {
			sleep(ctx, l.backoff.SlotSwitchDelay)
			continue
		}

		if snap.Phase == types.PhaseSearching {
			l.ensureConsulateDetails(ctx)
			l.store.Dispatch(StartReservation{})
			snap = l.store.Snapshot()
		}

		idx := snap.Reservation.CurrentSlotIndex
		if idx >= len(snap.Search.Slots) {
			sleep(ctx, l.backoff.SlotSwitchDelay)
			continue
		}
		slot := snap.Search.Slots[idx]
		token := snap.Search.Token

		l.store.Dispatch(IncrementReservationAttempt{})

		result, err := l.client.CreateReservation(ctx, slot.Date, l.locationID, token, l.languageVersionID, l.partySize, false)
		if err != nil {
			c := l.classify(err)
			l.store.Dispatch(LogReservationError{Entry: types.ErrorLogEntry{
				Timestamp:      time.Now(),
				Class:          string(c.Class),
				RawMessage:     err.Error(),
				UpstreamReason: c.UpstreamReason,
				Context:        map[string]interface{}{"date": slot.Date},
			}})

			if c.Class == classify.RateLimitHard {
				l.log.Errorf("hard rate limit hit, stopping: %v", err)
				l.store.Dispatch(StopAll{})
				return
			}
			if c.Class == classify.SlotUnavailable {
				l.store.Dispatch(TryNextSlot{})
				sleep(ctx, classify.BookingErrorDelay(l.backoff, classify.SlotUnavailable))
				continue
			}
			sleep(ctx, classify.BookingErrorDelay(l.backoff, c.Class))
			continue
		}

		// Stop first, then latch success: a concurrent search iteration
		// must not be able to publish over the winning result.
		l.cancelAll()
		l.store.Dispatch(ReservationSuccess{Result: result})
		return
	}
}

// ensureConsulateDetails fetches the consulate directory once and resolves
// the entry matching locationID, for display once a reservation succeeds.
// A lookup failure is logged and otherwise ignored: it never blocks the
// reservation attempt itself.
func (l *BookingLoop) ensureConsulateDetails(ctx context.Context) {
	if l.consulateFetched || l.consulates == nil {
		return
	}
	l.consulateFetched = true

	countries, err := l.consulates.ListCountries(ctx)
	if err != nil {
		l.log.Warnf("fetch consulate details: %v", err)
		return
	}
	for _, country := range countries {
		for _, consulate := range country.Consulates {
			if consulate.ID == l.locationID {
				l.store.Dispatch(SetConsulateDetails{Details: types.ConsulateDetails{
					CountryName:   country.Name,
					ConsulateName: consulate.Name,
					ConsulateID:   consulate.ID,
				}})
				return
			}
		}
	}
}
