package carrier

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shipping-assistant/internal/domain"
)

func newTestUSPS(t *testing.T, handler http.HandlerFunc) *USPS {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	u, err := NewUSPS("USER42", WithUSPSEndpoint(srv.URL+"/ShippingAPI.dll"), WithUSPSHTTPClient(&http.Client{Timeout: 2 * time.Second}))
	require.NoError(t, err)
	return u
}

func xmlReply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func requireUSPSError(t *testing.T, err error, kind ErrorKind) *Error {
	t.Helper()
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, domain.CarrierUSPS, cerr.Carrier)
	require.Equal(t, kind, cerr.Kind)
	return cerr
}

func TestNewUSPS_RequiresUserID(t *testing.T) {
	_, err := NewUSPS("  ")
	require.Error(t, err)
}

func TestUSPSTrack_BuildsXMLQuery(t *testing.T) {
	var gotAPI, gotXML, gotMethod string
	u := newTestUSPS(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAPI = r.URL.Query().Get("API")
		gotXML = r.URL.Query().Get("XML")
		xmlReply(http.StatusOK, `<TrackResponse><TrackInfo ID="9400111899223197428490"><TrackSummary>Delivered</TrackSummary></TrackInfo></TrackResponse>`)(w, r)
	})

	_, err := u.Track(context.Background(), "9400111899223197428490")
	require.NoError(t, err)
	require.Equal(t, http.MethodGet, gotMethod)
	require.Equal(t, "TrackV2", gotAPI)

	var req uspsTrackRequest
	require.NoError(t, xml.Unmarshal([]byte(gotXML), &req))
	require.Equal(t, "USER42", req.UserID)
	require.Equal(t, "9400111899223197428490", req.TrackID.ID)
}

func TestUSPSTrack_HappyPathKeepsHistoryOrder(t *testing.T) {
	body := `<?xml version="1.0" encoding="UTF-8"?>
<TrackResponse>
  <TrackInfo ID="9400111899223197428490">
    <TrackSummary>Your item was delivered at 12:55 pm on June 1.</TrackSummary>
    <TrackDetail>May 31 out for delivery</TrackDetail>
    <TrackDetail>May 29 arrived at facility</TrackDetail>
    <TrackDetail>May 30 departed facility</TrackDetail>
  </TrackInfo>
</TrackResponse>`
	u := newTestUSPS(t, xmlReply(http.StatusOK, body))

	res, err := u.Track(context.Background(), "9400111899223197428490")
	require.NoError(t, err)
	require.Equal(t, domain.CarrierUSPS, res.Carrier)
	require.False(t, res.IsMock)
	require.Equal(t, "Your item was delivered at 12:55 pm on June 1.", res.Summary)
	require.Equal(t, []string{"May 31 out for delivery", "May 29 arrived at facility", "May 30 departed facility"}, res.History)
}

func TestUSPSTrack_MissingSummary(t *testing.T) {
	u := newTestUSPS(t, xmlReply(http.StatusOK, `<TrackResponse><TrackInfo ID="1"></TrackInfo></TrackResponse>`))

	res, err := u.Track(context.Background(), "9400111899223197428490")
	require.NoError(t, err)
	require.Equal(t, uspsNoSummaryMessage, res.Summary)
	require.Empty(t, res.History)
}

func TestUSPSTrack_BlankSummary(t *testing.T) {
	u := newTestUSPS(t, xmlReply(http.StatusOK, `<TrackResponse><TrackInfo ID="1"><TrackSummary>  </TrackSummary></TrackInfo></TrackResponse>`))

	res, err := u.Track(context.Background(), "9400111899223197428490")
	require.NoError(t, err)
	require.Equal(t, uspsNoSummaryMessage, res.Summary)
}

func TestUSPSTrack_EmbeddedErrorDescription(t *testing.T) {
	body := `<TrackResponse><TrackInfo ID="9400111899223197428490"><Error><Number>-2147219283</Number><Description>A status update is not yet available on your package.</Description></Error></TrackInfo></TrackResponse>`
	u := newTestUSPS(t, xmlReply(http.StatusOK, body))

	_, err := u.Track(context.Background(), "9400111899223197428490")
	cerr := requireUSPSError(t, err, KindAPI)
	require.Equal(t, "A status update is not yet available on your package.", cerr.Message)
}

func TestUSPSTrack_EmbeddedErrorWithoutDescription(t *testing.T) {
	u := newTestUSPS(t, xmlReply(http.StatusOK, `<TrackResponse><TrackInfo><Error><Number>1</Number></Error></TrackInfo></TrackResponse>`))

	_, err := u.Track(context.Background(), "9400111899223197428490")
	cerr := requireUSPSError(t, err, KindAPI)
	require.Equal(t, uspsUnknownErrorMsg, cerr.Message)
}

func TestUSPSTrack_MissingTrackInfo(t *testing.T) {
	u := newTestUSPS(t, xmlReply(http.StatusOK, `<TrackResponse></TrackResponse>`))

	_, err := u.Track(context.Background(), "9400111899223197428490")
	cerr := requireUSPSError(t, err, KindAPI)
	require.Equal(t, uspsUnknownErrorMsg, cerr.Message)
}

func TestUSPSTrack_MalformedXML(t *testing.T) {
	u := newTestUSPS(t, xmlReply(http.StatusOK, `<TrackResponse><TrackInfo>`))

	_, err := u.Track(context.Background(), "9400111899223197428490")
	cerr := requireUSPSError(t, err, KindParse)
	require.Equal(t, `<TrackResponse><TrackInfo>`, cerr.Excerpt)
}

func TestUSPSTrack_HTTPError(t *testing.T) {
	u := newTestUSPS(t, xmlReply(http.StatusServiceUnavailable, `maintenance`))

	_, err := u.Track(context.Background(), "9400111899223197428490")
	cerr := requireUSPSError(t, err, KindAPI)
	require.Equal(t, http.StatusServiceUnavailable, cerr.StatusCode)
	require.Contains(t, cerr.Message, "maintenance")
}
