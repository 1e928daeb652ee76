package classify

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClassify_AllRulesInOrder(t *testing.T) {
	cases := []struct {
		name string
		in   Input
		want Class
	}{
		{
			name: "null ticket is slot unavailable",
			in:   Input{Err: NullTicket{}},
			want: SlotUnavailable,
		},
		{
			name: "hard rate limit reason wins over everything else",
			in:   Input{HTTPStatus: 400, UpstreamReason: ReasonHardLimit},
			want: RateLimitHard,
		},
		{
			name: "429 status is soft rate limit",
			in:   Input{HTTPStatus: 429},
			want: RateLimitSoft,
		},
		{
			name: "too many requests message is soft rate limit",
			in:   Input{HTTPStatus: 500, Body: `{"msg":"Too Many Requests"}`},
			want: RateLimitSoft,
		},
		{
			name: "known api reason preserved",
			in:   Input{HTTPStatus: 400, UpstreamReason: ReasonInvalidToken},
			want: API,
		},
		{
			name: "known api reason slot taken",
			in:   Input{HTTPStatus: 409, UpstreamReason: ReasonSlotTaken},
			want: API,
		},
		{
			name: "captcha verify 403 is soft rate limit",
			in:   Input{HTTPStatus: 403, Endpoint: EndpointCaptchaVerify},
			want: RateLimitSoft,
		},
		{
			name: "generic 403 elsewhere is plain api",
			in:   Input{HTTPStatus: 403},
			want: API,
		},
		{
			name: "captcha message",
			in:   Input{Body: "invalid captcha code"},
			want: Captcha,
		},
		{
			name: "context deadline is timeout",
			in:   Input{Err: context.DeadlineExceeded},
			want: Timeout,
		},
		{
			name: "context cancel is timeout",
			in:   Input{Err: context.Canceled},
			want: Timeout,
		},
		{
			name: "transport failure with no status is network",
			in:   Input{Err: errors.New("dial tcp: connection refused")},
			want: Network,
		},
		{
			name: "unrecognised 5xx is api",
			in:   Input{HTTPStatus: 503},
			want: API,
		},
		{
			name: "unrecognised everything falls to unknown",
			in:   Input{},
			want: Unknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.in)
			if got.Class != tc.want {
				t.Fatalf("Classify(%+v) = %q, want %q", tc.in, got.Class, tc.want)
			}
		})
	}
}

func TestClassify_PreservesUpstreamReason(t *testing.T) {
	got := Classify(Input{HTTPStatus: 400, UpstreamReason: ReasonInvalidToken})
	if got.UpstreamReason != ReasonInvalidToken {
		t.Fatalf("UpstreamReason = %q, want %q", got.UpstreamReason, ReasonInvalidToken)
	}
}

func TestClassify_ExtractsReasonFromBody(t *testing.T) {
	got := Classify(Input{HTTPStatus: 400, Body: `{"reason":"LIMIT_Z_JEDNEGO_IP_PRZEKROCZONY"}`})
	if got.Class != RateLimitHard {
		t.Fatalf("Class = %q, want rate_limit_hard", got.Class)
	}
}

func TestClassify_TotalityNeverPanics(t *testing.T) {
	inputs := []Input{
		{},
		{Err: nil, HTTPStatus: -1},
		{Err: errors.New("")},
		{Body: "\x00\xff garbage"},
	}
	for _, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("Classify panicked on %+v: %v", in, r)
				}
			}()
			_ = Classify(in)
		}()
	}
}

func TestBackoff_CaptchaIsMonotonicAndBounded(t *testing.T) {
	c := DefaultConstants()
	r := NewRand(1)
	var prev time.Duration
	for k := 1; k <= 5; k++ {
		d := SearchErrorDelay(c, Captcha, k, r)
		if d < prev {
			t.Fatalf("captcha backoff not non-decreasing at k=%d: %v < %v", k, d, prev)
		}
		if d > c.CaptchaMax+c.Jitter {
			t.Fatalf("captcha backoff exceeds CAP_MAX+JITTER at k=%d: %v", k, d)
		}
		prev = d
	}
}

func TestBackoff_SoftRateLimitAtLeastBase(t *testing.T) {
	c := DefaultConstants()
	r := NewRand(2)
	d := SearchErrorDelay(c, RateLimitSoft, 0, r)
	if d < c.SoftBase {
		t.Fatalf("soft rate limit delay %v below SOFT_BASE %v", d, c.SoftBase)
	}
}

func TestBackoff_BookingSlotUnavailableIsShort(t *testing.T) {
	c := DefaultConstants()
	d := BookingErrorDelay(c, SlotUnavailable)
	if d != c.SlotSwitchDelay {
		t.Fatalf("slot_unavailable delay = %v, want %v", d, c.SlotSwitchDelay)
	}
}
