// Package konsulat is a typed wrapper over the five upstream e-konsulat
// endpoints. It never interprets domain semantics beyond decoding JSON
// into pkg/types values and classifying failures; business logic belongs
// to internal/engine.
package konsulat

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"regexp"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/egorovli/ekonsulat-engine/internal/captcha"
	"github.com/egorovli/ekonsulat-engine/internal/classify"
	"github.com/egorovli/ekonsulat-engine/pkg/types"
)

const defaultTimeout = 30 * time.Second

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Client is stateless beyond its shared *http.Client and is safe for
// concurrent use by both the search and booking loops at once.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	origin     string
	timeout    time.Duration
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithTimeout overrides the default 30-second per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New builds a Client sharing one cookie-aware http.Client across every
// call, since the upstream ties CAPTCHA verification to a session cookie
// the way a real browser would carry one.
func New(baseURL, userAgent, origin string, opts ...Option) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	c := &Client{
		httpClient: &http.Client{Jar: jar},
		baseURL:    baseURL,
		userAgent:  userAgent,
		origin:     origin,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Origin", c.origin)
	req.Header.Set("Referer", c.origin+"/")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// doJSON issues one request and decodes a JSON body, classifying any
// non-2xx response or transport error along the way. endpoint is used only
// to tag the CAPTCHA-verify special case, where a 403 means "throttled",
// not "rejected".
func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}, endpoint string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return classifiedErrNew(0, "", endpoint, fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return classifiedErrNew(0, "", endpoint, err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return classifiedErrNew(0, "", endpoint, ctx.Err())
		}
		return classifiedErrNew(0, "", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifiedErrNew(resp.StatusCode, string(respBody), endpoint, fmt.Errorf("upstream status %d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return classifiedErrNew(resp.StatusCode, string(respBody), endpoint, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// classifiedErr wraps a failure with the fields internal/classify.Classify
// needs, so every caller of this client sees errors it can classify without
// re-parsing HTTP responses itself.
type classifiedErr struct {
	status   int
	body     string
	endpoint string
	cause    error
}

func (e *classifiedErr) Error() string { return e.cause.Error() }
func (e *classifiedErr) Unwrap() error { return e.cause }

func classifiedErrNew(status int, body, endpoint string, cause error) error {
	return &classifiedErr{status: status, body: body, endpoint: endpoint, cause: cause}
}

// Classify adapts a classifiedErr (or any other error this client
// produces) into a classify.Input ready for classify.Classify.
func Classify(err error) classify.Input {
	var ce *classifiedErr
	if errors.As(err, &ce) {
		return classify.Input{Err: ce.cause, HTTPStatus: ce.status, Body: ce.body, Endpoint: ce.endpoint}
	}
	return classify.Input{Err: err}
}

// ClassifyErr is the ready-to-inject classify.Classification adapter the
// engine loops take as their ErrClassifier.
func ClassifyErr(err error) classify.Classification {
	if err == nil {
		return classify.Classification{}
	}
	return classify.Classify(Classify(err))
}

type captchaImageResponse struct {
	ID          string `json:"id"`
	IloscZnakow int    `json:"iloscZnakow"`
	Image       string `json:"image"`
}

// RequestCaptcha satisfies captcha.Requester.
func (c *Client) RequestCaptcha(ctx context.Context) (captcha.ImageChallenge, error) {
	var resp captchaImageResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/u-captcha/generuj",
		map[string]int{"imageWidth": 200, "imageHeight": 70}, &resp, "")
	if err != nil {
		return captcha.ImageChallenge{}, err
	}
	image, decErr := base64.StdEncoding.DecodeString(resp.Image)
	if decErr != nil {
		return captcha.ImageChallenge{}, classifiedErrNew(0, "", "", fmt.Errorf("decode captcha image: %w", decErr))
	}
	return captcha.ImageChallenge{ImageToken: resp.ID, Image: image, ExpectedLength: resp.IloscZnakow}, nil
}

type captchaVerifyResponse struct {
	OK    bool   `json:"ok"`
	Token string `json:"token"`
}

// VerifyCaptcha satisfies captcha.Requester.
func (c *Client) VerifyCaptcha(ctx context.Context, imageToken, code string) (bool, string, error) {
	var resp captchaVerifyResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/u-captcha/sprawdz",
		map[string]string{"kod": code, "token": imageToken}, &resp, classify.EndpointCaptchaVerify)
	if err != nil {
		return false, "", err
	}
	return resp.OK, resp.Token, nil
}

type checkSlotsRequest struct {
	CaptchaToken string `json:"captchaToken"`
}

type checkSlotsResponse struct {
	TabelaDni   []string `json:"tabelaDni"`
	Token       string   `json:"token"`
	IDPlacowki  string   `json:"idPlacowki"`
	RodzajUslugi string  `json:"rodzajUslugi"`
}

// CheckSlots polls for available appointment dates at locationID for
// partySize applicants, presenting verifiedToken as proof-of-humanity.
func (c *Client) CheckSlots(ctx context.Context, locationID string, partySize int, verifiedToken string) (types.CheckSlotsResult, error) {
	if locationID == "" || partySize <= 0 || verifiedToken == "" {
		return types.CheckSlotsResult{}, classifiedErrNew(0, "", "", fmt.Errorf("invalid checkSlots arguments"))
	}

	var resp checkSlotsResponse
	path := fmt.Sprintf("/api/rezerwacja-wizyt-wizowych/terminy/%s/%d", locationID, partySize)
	err := c.doJSON(ctx, http.MethodPost, path, checkSlotsRequest{CaptchaToken: verifiedToken}, &resp, "")
	if err != nil {
		return types.CheckSlotsResult{}, err
	}

	token := resp.Token
	if token == "" {
		// Upstream sometimes omits a rotated token; reuse the one we sent.
		token = verifiedToken
	}

	slots := make([]types.Slot, 0, len(resp.TabelaDni))
	for _, date := range resp.TabelaDni {
		slots = append(slots, types.Slot{Date: date})
	}

	return types.CheckSlotsResult{
		Slots:       slots,
		Token:       token,
		ConsulateID: resp.IDPlacowki,
		ServiceType: resp.RodzajUslugi,
		LocationID:  locationID,
	}, nil
}

type createReservationRequest struct {
	Data              string `json:"data"`
	IDLokalizacji     string `json:"id_lokalizacji"`
	IDWersjiJezykowej string `json:"id_wersji_jezykowej"`
	Token             string `json:"token"`
	LiczbaOsob        int    `json:"liczba_osob"`
	TylkoDzieci       bool   `json:"tylko_dzieci"`
}

type ticketResponse struct {
	TicketID           *string `json:"ticketId"`
	Date               string  `json:"date"`
	Time               string  `json:"time"`
	IsChildApplication bool    `json:"isChildApplication"`
}

type createReservationResponse struct {
	Bilet        *ticketResponse  `json:"bilet"`
	ListaBiletow []ticketResponse `json:"listaBiletow"`
}

// CreateReservation races to reserve one date. onlyChildren is always
// false in this engine; the upstream field exists for a child-only
// appointment category this engine doesn't target.
func (c *Client) CreateReservation(ctx context.Context, date, locationID, verifiedToken, languageVersionID string, partySize int, onlyChildren bool) (types.ReservationResult, error) {
	if !dateRe.MatchString(date) {
		return types.ReservationResult{}, classifiedErrNew(0, "", "", fmt.Errorf("invalid date %q", date))
	}
	if partySize <= 0 || verifiedToken == "" || locationID == "" {
		return types.ReservationResult{}, classifiedErrNew(0, "", "", fmt.Errorf("invalid createReservation arguments"))
	}

	var resp createReservationResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/rezerwacja-wizyt-wizowych/rezerwacje", createReservationRequest{
		Data:              date,
		IDLokalizacji:     locationID,
		IDWersjiJezykowej: languageVersionID,
		Token:             verifiedToken,
		LiczbaOsob:        partySize,
		TylkoDzieci:       onlyChildren,
	}, &resp, "")
	if err != nil {
		return types.ReservationResult{}, err
	}

	if resp.Bilet == nil || resp.Bilet.TicketID == nil || *resp.Bilet.TicketID == "" {
		return types.ReservationResult{}, classifiedErrNew(200, "", "", classify.NullTicket{})
	}

	primary := toTicket(*resp.Bilet)
	tickets := make([]types.ReservationTicket, 0, len(resp.ListaBiletow))
	for _, t := range resp.ListaBiletow {
		tickets = append(tickets, toTicket(t))
	}

	return types.ReservationResult{
		PrimaryTicket:      primary,
		Tickets:            tickets,
		IsChildApplication: resp.Bilet.IsChildApplication,
	}, nil
}

func toTicket(t ticketResponse) types.ReservationTicket {
	id := ""
	if t.TicketID != nil {
		id = *t.TicketID
	}
	return types.ReservationTicket{TicketID: id, Date: t.Date, Time: t.Time, IsChildApplication: t.IsChildApplication}
}

// ListCountries fetches the consulate directory. The booking loop calls it
// once per run, on the first searching->booking transition, to resolve
// display details for a UI.
func (c *Client) ListCountries(ctx context.Context) ([]types.Country, error) {
	var resp []types.Country
	err := c.doJSON(ctx, http.MethodGet, "/api/konfiguracja/placowki/placowki-w-krajach/2", nil, &resp, "")
	if err != nil {
		return nil, err
	}
	return resp, nil
}
