package engine

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/egorovli/ekonsulat-engine/internal/captcha"
	"github.com/egorovli/ekonsulat-engine/internal/classify"
	"github.com/egorovli/ekonsulat-engine/internal/utils"
	"github.com/egorovli/ekonsulat-engine/pkg/types"
)

// CaptchaSolver is the subset of internal/captcha.Pipeline the search loop
// drives.
type CaptchaSolver interface {
	SolveVerified(ctx context.Context) (captcha.VerifiedToken, error)
}

// SlotChecker is the subset of internal/konsulat.Client the search loop
// drives.
type SlotChecker interface {
	CheckSlots(ctx context.Context, locationID string, partySize int, verifiedToken string) (types.CheckSlotsResult, error)
}

// ErrClassifier adapts a transport-specific error into a classify.Classification.
// Injected so this package never imports internal/konsulat directly.
type ErrClassifier func(error) classify.Classification

// SearchLoop repeatedly solves a fresh CAPTCHA, polls for open dates, and
// publishes the result, backing off on every kind of failure differently.
type SearchLoop struct {
	store       *Store
	solver      CaptchaSolver
	client      SlotChecker
	classify    ErrClassifier
	backoff     classify.Constants
	rand        classify.Rand
	pollLimiter *rate.Limiter
	locationID  string
	partySize   int
	log         utils.Logger
}

// NewSearchLoop wires the collaborators the search loop needs. pollLimiter
// caps the loop's iteration rate independently of the jittered backoff
// below, so a CAPTCHA solver that suddenly gets fast again can't turn into
// a burst of polls against the upstream.
func NewSearchLoop(store *Store, solver CaptchaSolver, client SlotChecker, classifier ErrClassifier, backoff classify.Constants, rng classify.Rand, locationID string, partySize int, log utils.Logger) *SearchLoop {
	return &SearchLoop{
		store:       store,
		solver:      solver,
		client:      client,
		classify:    classifier,
		backoff:     backoff,
		rand:        rng,
		pollLimiter: rate.NewLimiter(rate.Every(backoff.Base), 1),
		locationID:  locationID,
		partySize:   partySize,
		log:         log.WithField("loop", "search"),
	}
}

// Run executes the loop until ctx is cancelled or phase reaches success,
// stopping the whole engine the moment it hits a hard rate limit.
func (l *SearchLoop) Run(ctx context.Context) {
	consecutiveCaptchaFailures := 0

	for {
		if ctx.Err() != nil {
			return
		}
		if l.store.Snapshot().Phase == types.PhaseSuccess {
			return
		}
		if err := l.pollLimiter.Wait(ctx); err != nil {
			return
		}

		l.store.Dispatch(IncrementSearchAttempt{})

		token, err := l.solver.SolveVerified(ctx)
		if err != nil {
			if l.handleErr(ctx, err, &consecutiveCaptchaFailures) {
				return
			}
			continue
		}
		l.store.Dispatch(RecordCaptchaSuccess{Duration: token.Duration})
		consecutiveCaptchaFailures = 0

		result, err := l.client.CheckSlots(ctx, l.locationID, l.partySize, token.Token)
		if err != nil {
			if l.handleErr(ctx, err, &consecutiveCaptchaFailures) {
				return
			}
			continue
		}

		if l.store.Snapshot().Phase == types.PhaseSuccess {
			return
		}
		if result.Token == "" {
			result.Token = token.Token
		}
		l.store.Dispatch(UpdateSearch{Result: result})

		sleep(ctx, classify.SearchPollDelay(l.backoff, l.rand))
	}
}

// handleErr classifies err, logs it, and returns true when the caller must
// stop the loop entirely (rate_limit_hard, or success already latched).
func (l *SearchLoop) handleErr(ctx context.Context, err error, consecutiveCaptchaFailures *int) bool {
	if l.store.Snapshot().Phase == types.PhaseSuccess {
		return true
	}

	c := l.classify(err)
	l.store.Dispatch(LogSearchError{Entry: types.ErrorLogEntry{
		Timestamp:      time.Now(),
		Class:          string(c.Class),
		RawMessage:     err.Error(),
		UpstreamReason: c.UpstreamReason,
	}})

	if c.Class == classify.RateLimitHard {
		l.log.Errorf("hard rate limit hit, stopping: %v", err)
		l.store.Dispatch(StopAll{})
		return true
	}

	if c.Class == classify.Captcha {
		*consecutiveCaptchaFailures++
	} else if c.Class == classify.RateLimitSoft || c.Class == classify.Network || c.Class == classify.Timeout {
		*consecutiveCaptchaFailures = 0
	}

	sleep(ctx, classify.SearchErrorDelay(l.backoff, c.Class, *consecutiveCaptchaFailures, l.rand))
	return false
}

// sleep waits for d or returns early if ctx is cancelled, so a cancelled
// run never waits out a long backoff before exiting.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
