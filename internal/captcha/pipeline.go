// Package captcha implements the CAPTCHA fetch/solve/verify pipeline. The
// external solver is defined at the interface level only; its internals
// (image model, training, etc.) live outside this repository.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/egorovli/ekonsulat-engine/internal/utils"
)

// errRejected is returned when the verify endpoint answers {ok:false}. Its
// message deliberately contains "captcha" so internal/classify's rule 6
// maps it onto the captcha class without either package importing the
// other's error types.
var errRejected = errors.New("captcha solution rejected by verify endpoint")

// ImageChallenge is one freshly issued CAPTCHA image.
type ImageChallenge struct {
	ImageToken     string
	Image          []byte
	ExpectedLength int
}

// Requester is the subset of the API client the pipeline drives. Kept as
// an interface so pipeline tests never need a real HTTP client.
type Requester interface {
	RequestCaptcha(ctx context.Context) (ImageChallenge, error)
	VerifyCaptcha(ctx context.Context, imageToken, code string) (ok bool, token string, err error)
}

// Solver answers one CAPTCHA image with a string of the expected length.
// Wall-clock latency is observable but not bounded by the pipeline; the
// caller's backoff absorbs slow solves.
type Solver interface {
	Solve(ctx context.Context, image []byte, expectedLength int) (string, error)
}

// VerifiedToken is the short-lived, single-use token returned on success,
// plus the time the full pipeline took, used for stats.
type VerifiedToken struct {
	Token    string
	Duration time.Duration
}

// Pipeline wires a Requester and a Solver together. It is stateless between
// calls: every VerifiedToken it returns is fresh and is never cached.
type Pipeline struct {
	client Requester
	solver Solver
	log    utils.Logger
}

func New(client Requester, solver Solver, log utils.Logger) *Pipeline {
	if log == nil {
		log = utils.NewLogger()
	}
	return &Pipeline{client: client, solver: solver, log: log}
}

// SolveVerified runs fetch -> solve -> verify once and returns a fresh
// verified token, or the classifier-visible error from whichever step
// failed. It honours cancellation at every step.
func (p *Pipeline) SolveVerified(ctx context.Context) (VerifiedToken, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return VerifiedToken{}, err
	}

	challenge, err := p.client.RequestCaptcha(ctx)
	if err != nil {
		return VerifiedToken{}, fmt.Errorf("request captcha: %w", err)
	}

	code, err := p.solver.Solve(ctx, challenge.Image, challenge.ExpectedLength)
	if err != nil {
		return VerifiedToken{}, fmt.Errorf("solve captcha: %w", err)
	}

	ok, token, err := p.client.VerifyCaptcha(ctx, challenge.ImageToken, code)
	if err != nil {
		return VerifiedToken{}, fmt.Errorf("verify captcha: %w", err)
	}
	if !ok || token == "" {
		return VerifiedToken{}, errRejected
	}

	p.log.Debugf("captcha verified in %s", time.Since(start))
	return VerifiedToken{Token: token, Duration: time.Since(start)}, nil
}
