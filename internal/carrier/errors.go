package carrier

import (
	"fmt"

	"shipping-assistant/internal/domain"
)

// ErrorKind classifies a carrier failure.
type ErrorKind string

const (
	KindToken     ErrorKind = "TOKEN_ERROR"
	KindParse     ErrorKind = "PARSE_ERROR"
	KindAPI       ErrorKind = "API_ERROR"
	KindTransport ErrorKind = "TRANSPORT_ERROR"
)

// excerptLimit bounds the raw response text kept on parse failures.
const excerptLimit = 200

// Error is returned by every Tracker for any failure.
type Error struct {
	Carrier    domain.Carrier
	Kind       ErrorKind
	StatusCode int
	Message    string
	Excerpt    string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case KindAPI:
		if e.StatusCode != 0 {
			return fmt.Sprintf("%s: API error: %d - %s", e.Carrier, e.StatusCode, e.Message)
		}
		return fmt.Sprintf("%s: API error: %s", e.Carrier, e.Message)
	case KindParse:
		return fmt.Sprintf("%s: could not parse response: %v. Raw: %s", e.Carrier, e.Err, e.Excerpt)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %s: %v", e.Carrier, e.Kind, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s: %s", e.Carrier, e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func excerpt(raw []byte) string {
	if len(raw) > excerptLimit {
		raw = raw[:excerptLimit]
	}
	return string(raw)
}
