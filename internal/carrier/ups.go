package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"shipping-assistant/internal/domain"
)

const (
	// UPSMockPrefix marks sandbox test numbers that never reach the network.
	UPSMockPrefix = "1ZCIETST"

	upsMockStatus      = "This is a test UPS tracking number. No real data is available."
	upsDefaultBaseURL  = "https://wwwcie.ups.com"
	upsTokenPath       = "/security/v1/oauth/token"
	upsTrackPath       = "/api/track/v1/details"
	upsDefaultSource   = "tracking-assistant"
	upsUnknownErrorMsg = "Unknown UPS error"
)

type upsTrackRequest struct {
	TrackingNumber []string `json:"trackingNumber"`
}

type upsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// upsEnvelope picks out the two places UPS reports errors. Fields are kept
// raw so an unexpected shape never turns a readable body into a parse error.
type upsEnvelope struct {
	Errors   json.RawMessage `json:"errors"`
	Response json.RawMessage `json:"response"`
}

type upsNested struct {
	Errors json.RawMessage `json:"errors"`
}

// decodeUPSEnvelope reads the error fields from a valid JSON body. Bodies
// that are not objects carry no envelope.
func decodeUPSEnvelope(raw []byte) upsEnvelope {
	var env upsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return upsEnvelope{}
	}
	return env
}

func (e upsEnvelope) nestedErrors() json.RawMessage {
	if len(e.Response) == 0 {
		return nil
	}
	var n upsNested
	if err := json.Unmarshal(e.Response, &n); err != nil {
		return nil
	}
	return n.Errors
}

// failed reports whether either error field holds a truthy value. A present
// list, even an empty one, marks the response as failed.
func (e upsEnvelope) failed() bool {
	return truthy(e.Errors) || truthy(e.nestedErrors())
}

func (e upsEnvelope) firstMessage() string {
	if msg := firstErrorMessage(e.Errors); msg != "" {
		return msg
	}
	if msg := firstErrorMessage(e.nestedErrors()); msg != "" {
		return msg
	}
	return upsUnknownErrorMsg
}

func firstErrorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var list []upsError
	if err := json.Unmarshal(raw, &list); err != nil || len(list) == 0 {
		return ""
	}
	return list[0].Message
}

func truthy(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "false", "0", `""`:
		return false
	}
	return true
}

// UPS tracks shipments through the UPS OAuth + JSON tracking API.
type UPS struct {
	baseURL        string
	httpClient     *http.Client
	transactionSrc string
	reuseToken     bool
	newTransID     func() string
	oauth          clientcredentials.Config

	sourceOnce sync.Once
	source     oauth2.TokenSource
}

type UPSOption func(*UPS)

func WithUPSBaseURL(baseURL string) UPSOption {
	return func(u *UPS) {
		u.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithUPSHTTPClient(httpClient *http.Client) UPSOption {
	return func(u *UPS) {
		u.httpClient = httpClient
	}
}

// WithTokenReuse keeps the OAuth token between calls until it expires.
// By default every Track call requests a fresh token.
func WithTokenReuse(reuse bool) UPSOption {
	return func(u *UPS) {
		u.reuseToken = reuse
	}
}

func WithTransactionSource(src string) UPSOption {
	return func(u *UPS) {
		u.transactionSrc = strings.TrimSpace(src)
	}
}

// NewUPS creates a UPS tracker using OAuth client credentials.
func NewUPS(clientID, clientSecret string, opts ...UPSOption) (*UPS, error) {
	if strings.TrimSpace(clientID) == "" || strings.TrimSpace(clientSecret) == "" {
		return nil, errors.New("carrier: UPS client credentials must not be empty")
	}
	u := &UPS{
		baseURL:        upsDefaultBaseURL,
		httpClient:     defaultHTTPClient(),
		transactionSrc: upsDefaultSource,
		newTransID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.baseURL == "" {
		u.baseURL = upsDefaultBaseURL
	}
	if u.httpClient == nil {
		u.httpClient = defaultHTTPClient()
	}
	u.oauth = clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     u.baseURL + upsTokenPath,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	return u, nil
}

func (u *UPS) Carrier() domain.Carrier { return domain.CarrierUPS }

// Track returns the UPS tracking details for trackingNumber. Numbers with the
// mock prefix return a synthetic result without any network call.
func (u *UPS) Track(ctx context.Context, trackingNumber string) (domain.TrackingResult, error) {
	if strings.HasPrefix(trackingNumber, UPSMockPrefix) {
		return domain.TrackingResult{
			Carrier:        domain.CarrierUPS,
			TrackingNumber: trackingNumber,
			IsMock:         true,
			Status:         upsMockStatus,
		}, nil
	}

	tok, err := u.token(ctx)
	if err != nil {
		return domain.TrackingResult{}, &Error{Carrier: domain.CarrierUPS, Kind: KindToken, Message: "failed to fetch UPS token", Err: err}
	}

	body, err := json.Marshal(upsTrackRequest{TrackingNumber: []string{trackingNumber}})
	if err != nil {
		return domain.TrackingResult{}, &Error{Carrier: domain.CarrierUPS, Kind: KindTransport, Message: "marshal request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+upsTrackPath, bytes.NewReader(body))
	if err != nil {
		return domain.TrackingResult{}, &Error{Carrier: domain.CarrierUPS, Kind: KindTransport, Message: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("transId", u.newTransID())
	req.Header.Set("transactionSrc", u.transactionSrc)

	res, err := u.httpClient.Do(req)
	if err != nil {
		return domain.TrackingResult{}, &Error{Carrier: domain.CarrierUPS, Kind: KindTransport, Message: "request failed", Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := readBody(res)
	if err != nil {
		return domain.TrackingResult{}, &Error{Carrier: domain.CarrierUPS, Kind: KindTransport, StatusCode: res.StatusCode, Message: "read response body", Err: err}
	}

	if !json.Valid(raw) {
		return domain.TrackingResult{}, &Error{
			Carrier:    domain.CarrierUPS,
			Kind:       KindParse,
			StatusCode: res.StatusCode,
			Excerpt:    excerpt(raw),
			Err:        errors.New("invalid JSON"),
		}
	}
	env := decodeUPSEnvelope(raw)
	if res.StatusCode < 200 || res.StatusCode >= 300 || env.failed() {
		return domain.TrackingResult{}, &Error{
			Carrier:    domain.CarrierUPS,
			Kind:       KindAPI,
			StatusCode: res.StatusCode,
			Message:    env.firstMessage(),
		}
	}

	return domain.TrackingResult{
		Carrier:        domain.CarrierUPS,
		TrackingNumber: trackingNumber,
		Raw:            json.RawMessage(raw),
	}, nil
}

func (u *UPS) token(ctx context.Context) (*oauth2.Token, error) {
	if !u.reuseToken {
		return u.oauth.Token(context.WithValue(ctx, oauth2.HTTPClient, u.httpClient))
	}
	u.sourceOnce.Do(func() {
		// The reusable source outlives any single request context.
		base := context.WithValue(context.Background(), oauth2.HTTPClient, u.httpClient)
		u.source = oauth2.ReuseTokenSource(nil, u.oauth.TokenSource(base))
	})
	return u.source.Token()
}
