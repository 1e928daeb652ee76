package classify

import (
	"math/rand"
	"time"
)

// Constants holds the configurable backoff inputs. Defaults below are the
// contract repeatability tests assert against; operators may override any
// of them via internal/config.Params.
type Constants struct {
	Base            time.Duration // steady-state poll pacing base
	Jitter          time.Duration
	SoftBase        time.Duration
	CaptchaBase     time.Duration
	CaptchaMult     float64
	CaptchaMax      time.Duration
	SlotSwitchDelay time.Duration
	RetryDelay      time.Duration
}

// DefaultConstants returns the tuned backoff formula parameters.
func DefaultConstants() Constants {
	return Constants{
		Base:            500 * time.Millisecond,
		Jitter:          1000 * time.Millisecond,
		SoftBase:        3000 * time.Millisecond,
		CaptchaBase:     2500 * time.Millisecond,
		CaptchaMult:     1.6,
		CaptchaMax:      12000 * time.Millisecond,
		SlotSwitchDelay: 100 * time.Millisecond,
		RetryDelay:      200 * time.Millisecond,
	}
}

// Rand is the jitter source. NewRand builds a seeded one; callers, tests and
// production alike, pass it in explicitly.
type Rand interface {
	Float64() float64
}

type lockedRand struct{ r *rand.Rand }

func (l lockedRand) Float64() float64 { return l.r.Float64() }

// NewRand returns a Rand seeded from the given value, for reproducible tests.
func NewRand(seed int64) Rand {
	return lockedRand{r: rand.New(rand.NewSource(seed))}
}

func jitter(c Constants, r Rand, max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(r.Float64() * float64(max))
}

// SearchPollDelay is the pacing delay between successful search polls.
func SearchPollDelay(c Constants, r Rand) time.Duration {
	return c.Base + jitter(c, r, c.Jitter)
}

// SearchErrorDelay returns the next delay after a failed search iteration.
// consecutiveCaptchaFailures is the running count after this failure has
// already been folded in by the caller (see engine.SearchLoop).
func SearchErrorDelay(c Constants, class Class, consecutiveCaptchaFailures int, r Rand) time.Duration {
	switch class {
	case RateLimitSoft:
		return c.SoftBase + jitter(c, r, 2*c.Jitter)
	case Captcha:
		k := consecutiveCaptchaFailures
		if k < 1 {
			k = 1
		}
		delay := float64(c.CaptchaBase) * pow(c.CaptchaMult, k-1)
		if delay > float64(c.CaptchaMax) {
			delay = float64(c.CaptchaMax)
		}
		return time.Duration(delay) + jitter(c, r, c.Jitter)
	case Network, Timeout:
		return 2*c.Base + jitter(c, r, c.Jitter)
	default:
		return 2*c.Base + jitter(c, r, c.Jitter)
	}
}

// BookingErrorDelay returns the next delay after a failed reservation
// attempt. rate_limit_hard has no delay: the caller must STOP instead.
func BookingErrorDelay(c Constants, class Class) time.Duration {
	switch class {
	case SlotUnavailable:
		return c.SlotSwitchDelay
	default:
		return c.RetryDelay
	}
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
