// Package carrier wraps the UPS and USPS tracking APIs behind one Tracker
// interface. Both adapters map their native failures onto *Error.
package carrier

import (
	"context"
	"io"
	"net/http"
	"time"

	"shipping-assistant/internal/domain"
)

// Tracker looks up a tracking number with a single carrier.
type Tracker interface {
	Carrier() domain.Carrier
	Track(ctx context.Context, trackingNumber string) (domain.TrackingResult, error)
}

// maxBodyBytes caps how much of a carrier response is read into memory.
const maxBodyBytes = 1 << 20

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func readBody(res *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
}
