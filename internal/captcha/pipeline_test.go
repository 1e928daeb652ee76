package captcha

import (
	"context"
	"errors"
	"testing"

	"github.com/egorovli/ekonsulat-engine/internal/utils"
)

type fakeRequester struct {
	challenge   ImageChallenge
	requestErr  error
	verifyOK    bool
	verifyToken string
	verifyErr   error
	requests    int
	verifies    int
}

func (f *fakeRequester) RequestCaptcha(ctx context.Context) (ImageChallenge, error) {
	f.requests++
	if f.requestErr != nil {
		return ImageChallenge{}, f.requestErr
	}
	return f.challenge, nil
}

func (f *fakeRequester) VerifyCaptcha(ctx context.Context, imageToken, code string) (bool, string, error) {
	f.verifies++
	if f.verifyErr != nil {
		return false, "", f.verifyErr
	}
	return f.verifyOK, f.verifyToken, nil
}

type fakeSolver struct {
	answer string
	err    error
}

func (f fakeSolver) Solve(ctx context.Context, image []byte, expectedLength int) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func TestPipeline_SolveVerified_Success(t *testing.T) {
	req := &fakeRequester{
		challenge:   ImageChallenge{ImageToken: "img1", Image: []byte{1, 2, 3}, ExpectedLength: 4},
		verifyOK:    true,
		verifyToken: "T1",
	}
	p := New(req, fakeSolver{answer: "ABCD"}, utils.NewLogger())

	got, err := p.SolveVerified(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Token != "T1" {
		t.Fatalf("Token = %q, want T1", got.Token)
	}
	if req.requests != 1 || req.verifies != 1 {
		t.Fatalf("expected exactly one request and one verify, got %d/%d", req.requests, req.verifies)
	}
}

func TestPipeline_SolveVerified_RejectedIsCaptchaError(t *testing.T) {
	req := &fakeRequester{verifyOK: false}
	p := New(req, fakeSolver{answer: "WRONG"}, utils.NewLogger())

	_, err := p.SolveVerified(context.Background())
	if err == nil {
		t.Fatal("expected an error on rejection")
	}
	if !errors.Is(err, errRejected) {
		t.Fatalf("expected the captcha rejection error, got %v", err)
	}
}

func TestPipeline_SolveVerified_CancellationPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := &fakeRequester{}
	p := New(req, fakeSolver{}, utils.NewLogger())

	_, err := p.SolveVerified(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if req.requests != 0 {
		t.Fatalf("expected no HTTP activity after cancellation, got %d requests", req.requests)
	}
}

func TestPipeline_SolveVerified_NeverCachesTokens(t *testing.T) {
	req := &fakeRequester{verifyOK: true, verifyToken: "T1"}
	p := New(req, fakeSolver{answer: "ABCD"}, utils.NewLogger())

	first, _ := p.SolveVerified(context.Background())
	req.verifyToken = "T2"
	second, _ := p.SolveVerified(context.Background())

	if first.Token == second.Token {
		t.Fatalf("expected distinct tokens across calls, got %q twice", first.Token)
	}
	if req.requests != 2 {
		t.Fatalf("expected a fresh fetch per call, got %d", req.requests)
	}
}
