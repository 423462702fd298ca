// Package classifier decides whether a user message is a tracking lookup or a
// general question for the assistant.
package classifier

import (
	"regexp"

	"shipping-assistant/internal/domain"
)

type RouteKind int

const (
	RouteConversational RouteKind = iota
	RouteTrack
)

func (k RouteKind) String() string {
	if k == RouteTrack {
		return "track"
	}
	return "conversational"
}

// Route is the classification result. Query is set only for RouteTrack.
type Route struct {
	Kind  RouteKind
	Query domain.TrackingQuery
}

var (
	upsPattern  = regexp.MustCompile(`1Z[0-9A-Z]{16}`)
	uspsPattern = regexp.MustCompile(`\b(?:94|92|93|95|96|97|98|420)[0-9]{16,34}\b`)
)

// Classify applies the carrier patterns in priority order. The first pattern
// that matches anywhere in text wins, so a UPS number shadows any USPS number
// in the same message.
func Classify(text string) Route {
	if m := upsPattern.FindString(text); m != "" {
		return track(domain.CarrierUPS, m)
	}
	if m := uspsPattern.FindString(text); m != "" {
		return track(domain.CarrierUSPS, m)
	}
	return Route{Kind: RouteConversational}
}

func track(c domain.Carrier, number string) Route {
	return Route{
		Kind:  RouteTrack,
		Query: domain.TrackingQuery{Carrier: c, TrackingNumber: number},
	}
}
