package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/egorovli/ekonsulat-engine/internal/config"
)

const (
	twoCaptchaSubmitURL = "https://api.2captcha.com/in.php"
	twoCaptchaResultURL = "https://api.2captcha.com/res.php"
	pollInterval        = 5 * time.Second
	pollTimeout         = 2 * time.Minute
)

// twoCaptchaSolver answers image CAPTCHAs via the 2captcha in.php/res.php
// pair, submitting the image as base64 the way the "method=base64" image
// task does. It is the only concrete captcha.Solver this repository ships;
// anything else is left to a collaborator supplying their own.
type twoCaptchaSolver struct {
	apiKey string
	client *http.Client
}

func buildSolver(p config.SolverParams) (twoCaptchaSolver, error) {
	if p.Provider != "" && p.Provider != "2captcha" {
		return twoCaptchaSolver{}, fmt.Errorf("unsupported solver provider %q (only \"2captcha\" is wired)", p.Provider)
	}
	if p.APIKey == "" {
		return twoCaptchaSolver{}, fmt.Errorf("solver.apiKey is required")
	}
	return twoCaptchaSolver{apiKey: p.APIKey, client: &http.Client{Timeout: 30 * time.Second}}, nil
}

func (s twoCaptchaSolver) Solve(ctx context.Context, image []byte, expectedLength int) (string, error) {
	taskID, err := s.submit(ctx, image, expectedLength)
	if err != nil {
		return "", fmt.Errorf("submit captcha: %w", err)
	}

	deadline := time.Now().Add(pollTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return "", fmt.Errorf("timed out waiting for captcha solution")
			}
			text, ready, err := s.poll(ctx, taskID)
			if err != nil {
				return "", err
			}
			if ready {
				return text, nil
			}
		}
	}
}

type twoCaptchaResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

func (s twoCaptchaSolver) submit(ctx context.Context, image []byte, expectedLength int) (string, error) {
	form := url.Values{
		"key":    {s.apiKey},
		"method": {"base64"},
		"body":   {base64.StdEncoding.EncodeToString(image)},
		"json":   {"1"},
	}
	if expectedLength > 0 {
		form.Set("minLen", fmt.Sprintf("%d", expectedLength))
		form.Set("maxLen", fmt.Sprintf("%d", expectedLength))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, twoCaptchaSubmitURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var parsed twoCaptchaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if parsed.Status != 1 {
		return "", fmt.Errorf("2captcha rejected submission: %s", parsed.Request)
	}
	return parsed.Request, nil
}

func (s twoCaptchaSolver) poll(ctx context.Context, taskID string) (text string, ready bool, err error) {
	u := fmt.Sprintf("%s?key=%s&action=get&id=%s&json=1", twoCaptchaResultURL, s.apiKey, taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", false, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, err
	}

	var parsed twoCaptchaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false, fmt.Errorf("decode poll response: %w", err)
	}

	switch {
	case parsed.Status == 1:
		return parsed.Request, true, nil
	case parsed.Request == "CAPCHA_NOT_READY":
		return "", false, nil
	default:
		return "", false, fmt.Errorf("2captcha solve failed: %s", parsed.Request)
	}
}
