package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"shipping-assistant/internal/domain"
	"shipping-assistant/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	apiPrefix         = "/api"
	chatPath          = "/chat"
	trackPathPrefix   = "/test-track/"
	searchPath        = "/chat-logs/search"
	errNotFound       = "NOT_FOUND"
)

// UseCase is the service surface the handler exposes over HTTP.
type UseCase interface {
	HandleTurn(ctx context.Context, in usecase.TurnInput) (usecase.TurnOutput, error)
	TrackUPS(ctx context.Context, trackingNumber string) (domain.TrackingResult, error)
	SearchTurns(ctx context.Context, query string) ([]domain.Turn, error)
}

type Handler struct {
	uc            UseCase
	allowedOrigin string
	logger        *slog.Logger
}

type Option func(*Handler)

// WithAllowedOrigin sets the Access-Control-Allow-Origin value. Empty
// disables CORS headers.
func WithAllowedOrigin(origin string) Option {
	return func(h *Handler) {
		h.allowedOrigin = strings.TrimSpace(origin)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHandler(uc UseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{uc: uc, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type chatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"threadId"`
}

type chatResponse struct {
	Response string `json:"response"`
	ThreadID string `json:"threadId"`
}

type turnRow struct {
	ThreadID       string    `json:"thread_id"`
	UserMessage    string    `json:"user_message"`
	AssistantReply string    `json:"assistant_reply"`
	CreatedAt      time.Time `json:"created_at"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Handle routes an API Gateway proxy request.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := headerValue(req.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}
	logger := h.logger.With(slog.String("correlation_id", corrID))
	logger.InfoContext(ctx, "request received", slog.String("method", req.HTTPMethod), slog.String("path", req.Path))

	path := strings.TrimPrefix(strings.TrimRight(req.Path, "/"), apiPrefix)
	var resp events.APIGatewayProxyResponse
	switch {
	case req.HTTPMethod == http.MethodOptions:
		resp = events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}
	case req.HTTPMethod == http.MethodPost && path == chatPath:
		resp = h.chat(ctx, logger, req)
	case req.HTTPMethod == http.MethodGet && strings.HasPrefix(path, trackPathPrefix):
		number := req.PathParameters["number"]
		if number == "" {
			number = strings.TrimPrefix(path, trackPathPrefix)
		}
		resp = h.track(ctx, logger, number)
	case req.HTTPMethod == http.MethodGet && path == searchPath:
		resp = h.search(ctx, logger, req.QueryStringParameters["q"])
	default:
		resp = jsonResponse(http.StatusNotFound, errorResponse{Error: "not found", Code: errNotFound})
	}

	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[correlationHeader] = corrID
	if h.allowedOrigin != "" {
		resp.Headers["Access-Control-Allow-Origin"] = h.allowedOrigin
		resp.Headers["Access-Control-Allow-Headers"] = "Content-Type," + correlationHeader
		resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,OPTIONS"
	}
	return resp, nil
}

func (h *Handler) chat(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	body, err := requestBody(req)
	if err != nil {
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: string(usecase.ErrorInvalidInput)})
	}
	var in chatRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: string(usecase.ErrorInvalidInput)})
	}

	out, err := h.uc.HandleTurn(ctx, usecase.TurnInput{Message: in.Message, ThreadID: in.ThreadID})
	if err != nil {
		return errorResult(ctx, logger, "chat", "Something went wrong: ", err)
	}
	return jsonResponse(http.StatusOK, chatResponse{Response: out.Reply, ThreadID: out.ThreadID})
}

func (h *Handler) track(ctx context.Context, logger *slog.Logger, number string) events.APIGatewayProxyResponse {
	res, err := h.uc.TrackUPS(ctx, number)
	if err != nil {
		return errorResult(ctx, logger, "test-track", "UPS tracking failed: ", err)
	}
	return jsonResponse(http.StatusOK, res)
}

func (h *Handler) search(ctx context.Context, logger *slog.Logger, query string) events.APIGatewayProxyResponse {
	if strings.TrimSpace(query) == "" {
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: "Missing search query", Code: string(usecase.ErrorInvalidInput)})
	}
	turns, err := h.uc.SearchTurns(ctx, query)
	if err != nil {
		logger.ErrorContext(ctx, "search failed", slog.Any("err", err))
		status, code := statusFor(err)
		return jsonResponse(status, errorResponse{Error: "Query failed", Code: code})
	}
	rows := make([]turnRow, 0, len(turns))
	for _, t := range turns {
		rows = append(rows, turnRow{ThreadID: t.ThreadID, UserMessage: t.UserMessage, AssistantReply: t.AssistantReply, CreatedAt: t.CreatedAt})
	}
	return jsonResponse(http.StatusOK, rows)
}

func errorResult(ctx context.Context, logger *slog.Logger, route, prefix string, err error) events.APIGatewayProxyResponse {
	status, code := statusFor(err)
	detail := err.Error()
	var ue *usecase.Error
	if errors.As(err, &ue) {
		detail = ue.Detail()
		logger.ErrorContext(ctx, "request failed",
			slog.String("route", route),
			slog.String("code", string(ue.Code)),
			slog.String("reason", ue.Reason),
			slog.Any("err", ue.Err),
		)
	} else {
		logger.ErrorContext(ctx, "request failed", slog.String("route", route), slog.Any("err", err))
	}
	if status == http.StatusBadRequest {
		return jsonResponse(status, errorResponse{Error: detail, Code: code})
	}
	return jsonResponse(status, errorResponse{Error: prefix + detail, Code: code})
}

func statusFor(err error) (int, string) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		return http.StatusInternalServerError, string(usecase.ErrorInternal)
	}
	if ue.Code == usecase.ErrorInvalidInput {
		return http.StatusBadRequest, string(ue.Code)
	}
	return http.StatusInternalServerError, string(ue.Code)
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	return base64.StdEncoding.DecodeString(req.Body)
}

// headerValue looks a header up case-insensitively; API Gateway passes
// headers through as the client sent them.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"failed to encode response","code":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}
