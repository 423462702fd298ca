package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"shipping-assistant/internal/domain"
)

const (
	upsReplyHeader   = "Here's your UPS tracking info:\n\n"
	uspsSummaryLabel = "USPS Tracking Summary:"
	uspsHistoryLabel = "Tracking History:"
)

// upsMockDocument is the body shown for sandbox numbers in place of carrier JSON.
type upsMockDocument struct {
	Mock           bool   `json:"mock"`
	Status         string `json:"status"`
	TrackingNumber string `json:"trackingNumber"`
}

func formatTracking(res domain.TrackingResult) (string, error) {
	switch res.Carrier {
	case domain.CarrierUPS:
		doc, err := upsDocument(res)
		if err != nil {
			return "", err
		}
		return upsReplyHeader + doc, nil
	case domain.CarrierUSPS:
		return fmt.Sprintf("%s\n%s\n\n%s\n%s",
			uspsSummaryLabel, res.Summary,
			uspsHistoryLabel, strings.Join(res.History, "\n"),
		), nil
	default:
		return "", fmt.Errorf("usecase: unsupported carrier %q", res.Carrier)
	}
}

// upsDocument renders the carrier JSON, or the mock document, with
// two-space indentation.
func upsDocument(res domain.TrackingResult) (string, error) {
	if res.IsMock {
		b, err := json.MarshalIndent(upsMockDocument{
			Mock:           true,
			Status:         res.Status,
			TrackingNumber: res.TrackingNumber,
		}, "", "  ")
		if err != nil {
			return "", fmt.Errorf("usecase: marshal mock document: %w", err)
		}
		return string(b), nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, res.Raw, "", "  "); err != nil {
		return "", fmt.Errorf("usecase: indent UPS document: %w", err)
	}
	return buf.String(), nil
}
