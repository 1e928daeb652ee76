// Package config loads and validates the engine's run parameters. There is
// no field-extraction schema, no pagination, and no hot-reload: the run is
// parameterized once at startup, so this package keeps only what that call
// needs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/egorovli/ekonsulat-engine/internal/classify"
	"github.com/egorovli/ekonsulat-engine/pkg/types"
)

// Params is the full on-disk configuration for one run: the operator tuple
// plus the network/backoff knobs an operator may want to override.
type Params struct {
	LocationID        string `yaml:"locationId"`
	PartySize         int    `yaml:"partySize"`
	ConsulateName     string `yaml:"consulateName,omitempty"`
	CountryName       string `yaml:"countryName,omitempty"`
	LanguageVersionID string `yaml:"languageVersionId,omitempty"`

	BaseURL   string `yaml:"baseUrl,omitempty"`
	UserAgent string `yaml:"userAgent,omitempty"`
	Origin    string `yaml:"origin,omitempty"`

	Backoff BackoffParams `yaml:"backoff,omitempty"`

	Solver SolverParams `yaml:"solver,omitempty"`
}

// BackoffParams mirrors classify.Constants as YAML-friendly durations. A
// zero value for any field means "use the default".
type BackoffParams struct {
	Base            time.Duration `yaml:"base,omitempty"`
	Jitter          time.Duration `yaml:"jitter,omitempty"`
	SoftBase        time.Duration `yaml:"softBase,omitempty"`
	CaptchaBase     time.Duration `yaml:"captchaBase,omitempty"`
	CaptchaMult     float64       `yaml:"captchaMult,omitempty"`
	CaptchaMax      time.Duration `yaml:"captchaMax,omitempty"`
	SlotSwitchDelay time.Duration `yaml:"slotSwitchDelay,omitempty"`
	RetryDelay      time.Duration `yaml:"retryDelay,omitempty"`
}

// SolverParams configures the external CAPTCHA-solving collaborator. The
// solver's own internals are out of scope; this only carries what's needed
// to reach it (provider name, API key), consumed by cmd/ekonsulat.
type SolverParams struct {
	Provider string `yaml:"provider,omitempty"`
	APIKey   string `yaml:"apiKey,omitempty"`
}

const (
	defaultBaseURL   = "https://secure.e-konsulat.gov.pl"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// Default returns a Params with every field an operator would otherwise
// have to supply set to a sane value, except locationId, which has no sane
// default. partySize defaults to 1.
func Default() Params {
	return Params{
		BaseURL:   defaultBaseURL,
		UserAgent: defaultUserAgent,
		Origin:    defaultBaseURL,
		PartySize: 1,
		Backoff:   BackoffParams{},
	}
}

// Load reads and validates a Params file from disk.
func Load(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("read params file: %w", err)
	}
	return LoadBytes(data)
}

// LoadBytes parses and validates Params from an in-memory YAML document.
func LoadBytes(data []byte) (Params, error) {
	p := Default()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Params{}, fmt.Errorf("parse params yaml: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate checks the fields the engine cannot run without: the arguments
// checkSlots and createReservation require on every call.
func (p Params) Validate() error {
	if p.LocationID == "" {
		return fmt.Errorf("locationId is required")
	}
	if p.PartySize <= 0 {
		return fmt.Errorf("partySize must be positive, got %d", p.PartySize)
	}
	if p.BaseURL == "" {
		return fmt.Errorf("baseUrl is required")
	}
	return nil
}

// ToEngineParams projects the loaded configuration onto the subset
// internal/engine's SET_PARAMS action cares about.
func (p Params) ToEngineParams() types.Params {
	return types.Params{
		LocationID:        p.LocationID,
		PartySize:         p.PartySize,
		ConsulateName:     p.ConsulateName,
		CountryName:       p.CountryName,
		LanguageVersionID: p.LanguageVersionID,
	}
}

// BackoffConstants overlays any non-zero BackoffParams fields onto
// classify.DefaultConstants().
func (p Params) BackoffConstants() classify.Constants {
	c := classify.DefaultConstants()
	b := p.Backoff
	if b.Base > 0 {
		c.Base = b.Base
	}
	if b.Jitter > 0 {
		c.Jitter = b.Jitter
	}
	if b.SoftBase > 0 {
		c.SoftBase = b.SoftBase
	}
	if b.CaptchaBase > 0 {
		c.CaptchaBase = b.CaptchaBase
	}
	if b.CaptchaMult > 0 {
		c.CaptchaMult = b.CaptchaMult
	}
	if b.CaptchaMax > 0 {
		c.CaptchaMax = b.CaptchaMax
	}
	if b.SlotSwitchDelay > 0 {
		c.SlotSwitchDelay = b.SlotSwitchDelay
	}
	if b.RetryDelay > 0 {
		c.RetryDelay = b.RetryDelay
	}
	return c
}

// GenerateTemplate renders an example Params document operators can copy
// and fill in. The output is plain YAML without comments.
func GenerateTemplate() ([]byte, error) {
	p := Default()
	p.LocationID = "191"
	p.PartySize = 1
	p.ConsulateName = "Konsulat RP w Londynie"
	p.CountryName = "Wielka Brytania"
	p.LanguageVersionID = "2"
	p.Solver.Provider = "2captcha"
	p.Solver.APIKey = "replace-me"

	out, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// Builder is a fluent setter for Params, for callers assembling
// configuration programmatically instead of from a file.
type Builder struct{ p Params }

// NewBuilder starts from Default().
func NewBuilder() *Builder {
	b := &Builder{p: Default()}
	return b
}

func (b *Builder) WithLocation(locationID string) *Builder {
	b.p.LocationID = locationID
	return b
}

func (b *Builder) WithPartySize(n int) *Builder {
	b.p.PartySize = n
	return b
}

func (b *Builder) WithDisplayNames(consulate, country string) *Builder {
	b.p.ConsulateName = consulate
	b.p.CountryName = country
	return b
}

func (b *Builder) WithSolver(provider, apiKey string) *Builder {
	b.p.Solver = SolverParams{Provider: provider, APIKey: apiKey}
	return b
}

func (b *Builder) WithBaseURL(url string) *Builder {
	b.p.BaseURL = url
	b.p.Origin = url
	return b
}

// Build validates and returns the assembled Params.
func (b *Builder) Build() (Params, error) {
	if err := b.p.Validate(); err != nil {
		return Params{}, err
	}
	return b.p, nil
}
