package domain

import "encoding/json"

// Carrier identifies a shipment-tracking provider.
type Carrier string

const (
	CarrierUPS  Carrier = "UPS"
	CarrierUSPS Carrier = "USPS"
)

// TrackingQuery is a tracking number recognised in a user message.
type TrackingQuery struct {
	Carrier        Carrier
	TrackingNumber string
}

// TrackingResult is the carrier-agnostic tracking response. UPS results carry
// the carrier JSON in Raw; USPS results carry Summary and History.
type TrackingResult struct {
	Carrier        Carrier         `json:"carrier"`
	TrackingNumber string          `json:"trackingNumber"`
	IsMock         bool            `json:"mock"`
	Status         string          `json:"status,omitempty"`
	Summary        string          `json:"summary,omitempty"`
	History        []string        `json:"history,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}
