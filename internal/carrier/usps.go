package carrier

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"shipping-assistant/internal/domain"
)

const (
	uspsDefaultEndpoint  = "https://secure.shippingapis.com/ShippingAPI.dll"
	uspsAPIName          = "TrackV2"
	uspsUnknownErrorMsg  = "Unknown USPS error."
	uspsNoSummaryMessage = "No summary available."
)

type uspsTrackRequest struct {
	XMLName xml.Name    `xml:"TrackFieldRequest"`
	UserID  string      `xml:"USERID,attr"`
	TrackID uspsTrackID `xml:"TrackID"`
}

type uspsTrackID struct {
	ID string `xml:"ID,attr"`
}

type uspsTrackResponse struct {
	TrackInfo []uspsTrackInfo `xml:"TrackInfo"`
}

type uspsTrackInfo struct {
	ID      string     `xml:"ID,attr"`
	Summary *string    `xml:"TrackSummary"`
	Details []string   `xml:"TrackDetail"`
	Error   *uspsError `xml:"Error"`
}

type uspsError struct {
	Number      string `xml:"Number"`
	Description string `xml:"Description"`
}

// USPS tracks shipments through the USPS Web Tools XML API.
type USPS struct {
	endpoint   string
	userID     string
	httpClient *http.Client
}

type USPSOption func(*USPS)

func WithUSPSEndpoint(endpoint string) USPSOption {
	return func(u *USPS) {
		u.endpoint = strings.TrimSpace(endpoint)
	}
}

func WithUSPSHTTPClient(httpClient *http.Client) USPSOption {
	return func(u *USPS) {
		u.httpClient = httpClient
	}
}

// NewUSPS creates a USPS tracker for the given Web Tools user id.
func NewUSPS(userID string, opts ...USPSOption) (*USPS, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("carrier: USPS user id must not be empty")
	}
	u := &USPS{
		endpoint:   uspsDefaultEndpoint,
		userID:     userID,
		httpClient: defaultHTTPClient(),
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.endpoint == "" {
		u.endpoint = uspsDefaultEndpoint
	}
	if u.httpClient == nil {
		u.httpClient = defaultHTTPClient()
	}
	return u, nil
}

func (u *USPS) Carrier() domain.Carrier { return domain.CarrierUSPS }

// Track returns the USPS summary and history lines for trackingNumber. History
// keeps the order USPS returned.
func (u *USPS) Track(ctx context.Context, trackingNumber string) (domain.TrackingResult, error) {
	reqURL, err := u.requestURL(trackingNumber)
	if err != nil {
		return domain.TrackingResult{}, &Error{Carrier: domain.CarrierUSPS, Kind: KindTransport, Message: "build request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return domain.TrackingResult{}, &Error{Carrier: domain.CarrierUSPS, Kind: KindTransport, Message: "create request", Err: err}
	}

	res, err := u.httpClient.Do(req)
	if err != nil {
		return domain.TrackingResult{}, &Error{Carrier: domain.CarrierUSPS, Kind: KindTransport, Message: "request failed", Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := readBody(res)
	if err != nil {
		return domain.TrackingResult{}, &Error{Carrier: domain.CarrierUSPS, Kind: KindTransport, StatusCode: res.StatusCode, Message: "read response body", Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return domain.TrackingResult{}, &Error{
			Carrier:    domain.CarrierUSPS,
			Kind:       KindAPI,
			StatusCode: res.StatusCode,
			Message:    fmt.Sprintf("tracking failed: %s", excerpt(raw)),
		}
	}

	var parsed uspsTrackResponse
	if err := xml.Unmarshal(raw, &parsed); err != nil {
		return domain.TrackingResult{}, &Error{
			Carrier:    domain.CarrierUSPS,
			Kind:       KindParse,
			StatusCode: res.StatusCode,
			Excerpt:    excerpt(raw),
			Err:        fmt.Errorf("decode XML: %w", err),
		}
	}

	if len(parsed.TrackInfo) == 0 || parsed.TrackInfo[0].Error != nil {
		msg := uspsUnknownErrorMsg
		if len(parsed.TrackInfo) > 0 {
			if desc := strings.TrimSpace(parsed.TrackInfo[0].Error.Description); desc != "" {
				msg = desc
			}
		}
		return domain.TrackingResult{}, &Error{Carrier: domain.CarrierUSPS, Kind: KindAPI, StatusCode: res.StatusCode, Message: msg}
	}

	info := parsed.TrackInfo[0]
	summary := uspsNoSummaryMessage
	if info.Summary != nil && strings.TrimSpace(*info.Summary) != "" {
		summary = *info.Summary
	}
	history := info.Details
	if history == nil {
		history = []string{}
	}
	return domain.TrackingResult{
		Carrier:        domain.CarrierUSPS,
		TrackingNumber: trackingNumber,
		Summary:        summary,
		History:        history,
	}, nil
}

func (u *USPS) requestURL(trackingNumber string) (string, error) {
	xmlReq, err := xml.Marshal(uspsTrackRequest{
		UserID:  u.userID,
		TrackID: uspsTrackID{ID: trackingNumber},
	})
	if err != nil {
		return "", fmt.Errorf("marshal XML: %w", err)
	}
	q := url.Values{}
	q.Set("API", uspsAPIName)
	q.Set("XML", string(xmlReq))
	return u.endpoint + "?" + q.Encode(), nil
}
