package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"shipping-assistant/internal/assistant"
	"shipping-assistant/internal/carrier"
	"shipping-assistant/internal/classifier"
	"shipping-assistant/internal/domain"
)

const (
	defaultMaxMessage = 2000
	noThreadID        = "N/A"
)

// Tracker looks up one carrier. *carrier.UPS and *carrier.USPS satisfy it.
type Tracker interface {
	Carrier() domain.Carrier
	Track(ctx context.Context, trackingNumber string) (domain.TrackingResult, error)
}

// Runner drives one assistant turn. *assistant.Driver satisfies it.
type Runner interface {
	Run(ctx context.Context, threadID, message string) (assistant.Result, error)
}

type TurnWriter interface {
	AppendTurn(ctx context.Context, turn domain.Turn) error
	SearchTurns(ctx context.Context, query string) ([]domain.Turn, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type TurnService struct {
	trackers    map[domain.Carrier]Tracker
	runner      Runner
	log         TurnWriter
	maxMessage  int
	turnTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

type TurnInput struct {
	Message  string
	ThreadID string
}

type TurnOutput struct {
	Reply    string
	ThreadID string
}

type Option func(*TurnService)

// WithMaxMessageLength caps the message length in characters.
func WithMaxMessageLength(n int) Option {
	return func(s *TurnService) {
		if n > 0 {
			s.maxMessage = n
		}
	}
}

// WithTurnTimeout bounds a whole assistant turn, polling included. Zero
// leaves the caller's deadline in charge.
func WithTurnTimeout(d time.Duration) Option {
	return func(s *TurnService) {
		s.turnTimeout = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *TurnService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *TurnService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewTurnService(trackers []Tracker, runner Runner, log TurnWriter, opts ...Option) (*TurnService, error) {
	if runner == nil {
		return nil, errors.New("usecase: runner must not be nil")
	}
	if log == nil {
		return nil, errors.New("usecase: turn log must not be nil")
	}
	byCarrier := make(map[domain.Carrier]Tracker, len(trackers))
	for _, t := range trackers {
		if t == nil {
			return nil, errors.New("usecase: tracker must not be nil")
		}
		byCarrier[t.Carrier()] = t
	}
	for _, c := range []domain.Carrier{domain.CarrierUPS, domain.CarrierUSPS} {
		if _, ok := byCarrier[c]; !ok {
			return nil, errors.New("usecase: missing tracker for " + string(c))
		}
	}
	s := &TurnService{
		trackers:   byCarrier,
		runner:     runner,
		log:        log,
		maxMessage: defaultMaxMessage,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// HandleTurn resolves one user message into a reply. Tracking lookups are
// answered directly and not logged; everything else goes to the assistant
// and the completed exchange is appended to the turn log.
func (s *TurnService) HandleTurn(ctx context.Context, in TurnInput) (TurnOutput, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return TurnOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(message) > s.maxMessage {
		return TurnOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	threadID := strings.TrimSpace(in.ThreadID)

	route := classifier.Classify(message)
	if route.Kind == classifier.RouteTrack {
		return s.track(ctx, route.Query, threadID)
	}

	if s.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.turnTimeout)
		defer cancel()
	}
	res, err := s.runner.Run(ctx, threadID, message)
	if err != nil {
		return TurnOutput{}, runError(err)
	}

	turn := domain.Turn{
		ThreadID:       res.ThreadID,
		UserMessage:    message,
		AssistantReply: res.Reply,
		CreatedAt:      s.now().UTC(),
	}
	// The turn is logged with a fresh context so a run that used most of the
	// deadline still gets persisted.
	if err := s.log.AppendTurn(context.WithoutCancel(ctx), turn); err != nil {
		return TurnOutput{}, newError(ErrorInternal, "turn_log_write_error", err)
	}
	s.logger.InfoContext(ctx, "turn completed",
		slog.String("thread_id", res.ThreadID),
		slog.String("run_id", res.RunID),
		slog.Int("polls", res.Polls),
	)
	return TurnOutput{Reply: res.Reply, ThreadID: res.ThreadID}, nil
}

func (s *TurnService) track(ctx context.Context, q domain.TrackingQuery, threadID string) (TurnOutput, error) {
	s.logger.InfoContext(ctx, "tracking number detected",
		slog.String("carrier", string(q.Carrier)),
		slog.String("tracking_number", q.TrackingNumber),
	)
	res, err := s.trackers[q.Carrier].Track(ctx, q.TrackingNumber)
	if err != nil {
		return TurnOutput{}, carrierError(err)
	}
	reply, err := formatTracking(res)
	if err != nil {
		return TurnOutput{}, newError(ErrorInternal, "format_tracking_error", err)
	}
	if threadID == "" {
		threadID = noThreadID
	}
	return TurnOutput{Reply: reply, ThreadID: threadID}, nil
}

// TrackUPS looks up a UPS number directly, bypassing classification.
func (s *TurnService) TrackUPS(ctx context.Context, trackingNumber string) (domain.TrackingResult, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return domain.TrackingResult{}, newError(ErrorInvalidInput, "empty_tracking_number", nil)
	}
	res, err := s.trackers[domain.CarrierUPS].Track(ctx, trackingNumber)
	if err != nil {
		return domain.TrackingResult{}, carrierError(err)
	}
	return res, nil
}

// SearchTurns returns logged turns whose message or reply contains query,
// newest first.
func (s *TurnService) SearchTurns(ctx context.Context, query string) ([]domain.Turn, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, newError(ErrorInvalidInput, "missing_search_query", nil)
	}
	turns, err := s.log.SearchTurns(ctx, query)
	if err != nil {
		return nil, newError(ErrorInternal, "turn_log_search_error", err)
	}
	return turns, nil
}

func carrierError(err error) *Error {
	var ce *carrier.Error
	if errors.As(err, &ce) {
		return newError(ErrorCarrier, strings.ToLower(string(ce.Carrier)+"_"+string(ce.Kind)), err)
	}
	return newError(ErrorCarrier, "carrier_error", err)
}

func runError(err error) *Error {
	var re *assistant.RunError
	if errors.As(err, &re) {
		if re.Kind == assistant.RunTimeout {
			return newError(ErrorRunTimeout, "run_timeout", err)
		}
		return newError(ErrorRunFailed, "run_failed", err)
	}
	if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
		return newError(ErrorUpstream, "openai_rate_limited", err)
	}
	return newError(ErrorUpstream, "openai_error", err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
