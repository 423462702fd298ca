package classifier

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"shipping-assistant/internal/domain"
)

func TestProperty_UPSTakesPriority(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ups := "1Z" + rapid.StringMatching(`[0-9A-Z]{16}`).Draw(rt, "upsSuffix")
		prefix := rapid.SampledFrom([]string{"94", "92", "93", "95", "96", "97", "98", "420"}).Draw(rt, "uspsPrefix")
		usps := prefix + rapid.StringMatching(`[0-9]{16,34}`).Draw(rt, "uspsDigits")
		lead := rapid.StringMatching(`[a-z ]{0,20}`).Draw(rt, "lead")
		uspsFirst := rapid.Bool().Draw(rt, "uspsFirst")

		text := lead + " " + ups + " " + usps
		if uspsFirst {
			text = lead + " " + usps + " " + ups
		}

		r := Classify(text)
		require.Equal(t, RouteTrack, r.Kind)
		require.Equal(t, domain.CarrierUPS, r.Query.Carrier)
		require.Equal(t, ups, r.Query.TrackingNumber)
	})
}

func TestProperty_USPSWhenNoUPS(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		prefix := rapid.SampledFrom([]string{"94", "92", "93", "95", "96", "97", "98", "420"}).Draw(rt, "uspsPrefix")
		usps := prefix + rapid.StringMatching(`[0-9]{16,34}`).Draw(rt, "uspsDigits")
		lead := rapid.StringMatching(`[a-z ]{0,20}`).Draw(rt, "lead")

		r := Classify(lead + " " + usps + ".")
		require.Equal(t, RouteTrack, r.Kind)
		require.Equal(t, domain.CarrierUSPS, r.Query.Carrier)
		require.Equal(t, usps, r.Query.TrackingNumber)
	})
}

func TestProperty_NoCarrierShapesIsConversational(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		text := rapid.StringMatching(`[a-zA-Z ,.?!]{0,200}`).Draw(rt, "text")
		require.Equal(t, RouteConversational, Classify(text).Kind)
	})
}

func TestProperty_Deterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		text := rapid.String().Draw(rt, "text")
		require.Equal(t, Classify(text), Classify(text))
	})
}
