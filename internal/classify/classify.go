// Package classify maps engine failures onto the closed error taxonomy the
// rest of the engine schedules backoff and control flow around. Classify
// is a pure function: no I/O, no panics, total over its input domain.
package classify

import (
	"context"
	"errors"
	"strings"
)

// Class is one of the eight tags the engine ever reasons about.
type Class string

const (
	RateLimitHard   Class = "rate_limit_hard"
	RateLimitSoft   Class = "rate_limit_soft"
	Captcha         Class = "captcha"
	SlotUnavailable Class = "slot_unavailable"
	API             Class = "api"
	Timeout         Class = "timeout"
	Network         Class = "network"
	Unknown         Class = "unknown"
)

// Known upstream reason codes, referenced by rule and by tests.
const (
	ReasonHardLimit    = "LIMIT_Z_JEDNEGO_IP_PRZEKROCZONY"
	ReasonNoSlots      = "BRAK_WOLNYCH_TERMINOW"
	ReasonInvalidToken = "NIEPRAWIDLOWY_TOKEN"
	ReasonSlotTaken    = "TERMIN_ZAJETY"
)

var knownAPIReasons = map[string]bool{
	ReasonNoSlots:      true,
	ReasonInvalidToken: true,
	ReasonSlotTaken:    true,
}

// Classification is the result of Classify: a class plus, where the
// upstream supplied one, the raw reason code.
type Classification struct {
	Class          Class
	UpstreamReason string
}

// Input carries everything Classify needs about one failed call. Not every
// field is populated for every failure: an HTTPStatus of 0 means "no HTTP
// response was received" (transport-level failure).
type Input struct {
	Err            error
	HTTPStatus     int
	UpstreamReason string
	Body           string
	// Endpoint distinguishes the CAPTCHA-verify 403 rule from a generic
	// 403 elsewhere in the API surface.
	Endpoint string
}

// EndpointCaptchaVerify tags an Input as having come from the CAPTCHA verify
// call, so a 403 from it is classified rate_limit_soft rather than api.
const EndpointCaptchaVerify = "captcha_verify"

// NullTicket marks a successful HTTP 200 createReservation response whose
// ticketId was absent — rule 1, the only place a 2xx response still yields
// a failure classification.
type NullTicket struct{}

func (NullTicket) Error() string { return "reservation response carried no ticketId" }

// Classify is total: every input, however malformed, yields a Classification.
// Rules below apply in order; the first match wins.
func Classify(in Input) Classification {
	// Rule 1: domain-level slot-unavailable signal.
	if in.Err != nil {
		var nt NullTicket
		if errors.As(in.Err, &nt) {
			return Classification{Class: SlotUnavailable}
		}
	}

	reason := in.UpstreamReason
	if reason == "" {
		reason = extractReason(in.Body)
	}

	// Rule 2: hard rate limit, identified by reason regardless of status.
	if reason == ReasonHardLimit {
		return Classification{Class: RateLimitHard, UpstreamReason: reason}
	}

	// Rule 3: soft rate limit via 429 or a "too many requests" message.
	if in.HTTPStatus == 429 || containsFold(in.Body, "too many requests") || containsFold(errString(in.Err), "too many requests") {
		return Classification{Class: RateLimitSoft, UpstreamReason: reason}
	}

	// Rule 4: known structured 4xx reasons.
	if reason != "" && knownAPIReasons[reason] && in.HTTPStatus >= 400 && in.HTTPStatus < 500 {
		return Classification{Class: API, UpstreamReason: reason}
	}

	// Rule 5: CAPTCHA-verify 403 is a throttle, not an auth failure.
	if in.Endpoint == EndpointCaptchaVerify && in.HTTPStatus == 403 {
		return Classification{Class: RateLimitSoft, UpstreamReason: reason}
	}

	// Rule 6: anything mentioning captcha.
	if containsFold(in.Body, "captcha") || containsFold(errString(in.Err), "captcha") {
		return Classification{Class: Captcha, UpstreamReason: reason}
	}

	// Rule 7: timeout / cancellation.
	if isTimeoutOrCancel(in.Err) {
		return Classification{Class: Timeout, UpstreamReason: reason}
	}

	// Rule 8: generic network/transport failure.
	if in.HTTPStatus == 0 && in.Err != nil {
		return Classification{Class: Network, UpstreamReason: reason}
	}

	// Rule 9: any remaining HTTP failure status.
	if in.HTTPStatus >= 400 {
		return Classification{Class: API, UpstreamReason: reason}
	}

	// Rule 10: fall-closed default. An unrecognised failure must never
	// silently behave like a success or enable unbounded retries.
	return Classification{Class: Unknown, UpstreamReason: reason}
}

func isTimeoutOrCancel(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	type timeouter interface{ Timeout() bool }
	var t timeouter
	if errors.As(err, &t) && t.Timeout() {
		return true
	}
	msg := err.Error()
	return containsFold(msg, "timeout") || containsFold(msg, "deadline exceeded") || containsFold(msg, "context canceled")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func containsFold(haystack, needle string) bool {
	if haystack == "" || needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// extractReason does a best-effort scrape of a `"reason":"..."` or
// `"kod":"..."` field out of a raw JSON body when the caller didn't already
// decode one. It never fails; an unmatched body yields "".
func extractReason(body string) string {
	for _, key := range []string{`"reason":"`, `"kod":"`, `"blad":"`} {
		if idx := strings.Index(body, key); idx >= 0 {
			rest := body[idx+len(key):]
			if end := strings.IndexByte(rest, '"'); end >= 0 {
				return rest[:end]
			}
		}
	}
	return ""
}
