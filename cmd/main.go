package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"shipping-assistant/handler"
	"shipping-assistant/internal/assistant"
	"shipping-assistant/internal/carrier"
	"shipping-assistant/internal/integrations/openai"
	"shipping-assistant/internal/integrations/paramstore"
	"shipping-assistant/internal/repository"
	"shipping-assistant/internal/usecase"
)

// upsCredentials is the JSON shape stored in SSM for the UPS OAuth client.
type upsCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	paramPrefix := strings.TrimRight(mustEnv("PARAM_PREFIX"), "/")
	logStore := envString("LOG_STORE", "postgres")
	pollInterval := time.Duration(envInt("POLL_INTERVAL_MS", 500)) * time.Millisecond
	maxPolls := envInt("MAX_POLLS", 120)
	turnTimeout := time.Duration(envInt("TURN_TIMEOUT_SECONDS", 0)) * time.Second
	maxMessageLen := envInt("MAX_MESSAGE_LENGTH", 2000)
	upsTokenReuse := envBool("UPS_TOKEN_REUSE", false)
	allowedOrigin := os.Getenv("ALLOWED_ORIGIN")

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Secrets ----
	params, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	assistantIDParam := paramPrefix + "/config/assistant_id"
	uspsUserParam := paramPrefix + "/usps-user-id"
	values, err := params.GetParameters(ctx, assistantIDParam, uspsUserParam)
	if err != nil {
		slog.Error("failed to load parameters", "err", err)
		os.Exit(1)
	}
	var upsCreds upsCredentials
	if err := params.GetJSON(ctx, paramPrefix+"/ups-credentials", &upsCreds); err != nil {
		slog.Error("failed to load UPS credentials", "err", err)
		os.Exit(1)
	}

	// ---- Turn log ----
	turnLog, closeLog := openTurnLog(ctx, cfg, logStore)

	// ---- Clients ----
	var openaiOpts []openai.Option
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		openaiOpts = append(openaiOpts, openai.WithBaseURL(v))
	}
	openaiClient, err := openai.NewClient(params, paramPrefix, openaiOpts...)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	upsOpts := []carrier.UPSOption{carrier.WithTokenReuse(upsTokenReuse)}
	if v := os.Getenv("UPS_BASE_URL"); v != "" {
		upsOpts = append(upsOpts, carrier.WithUPSBaseURL(v))
	}
	ups, err := carrier.NewUPS(upsCreds.ClientID, upsCreds.ClientSecret, upsOpts...)
	if err != nil {
		slog.Error("failed to create UPS tracker", "err", err)
		os.Exit(1)
	}
	var uspsOpts []carrier.USPSOption
	if v := os.Getenv("USPS_ENDPOINT"); v != "" {
		uspsOpts = append(uspsOpts, carrier.WithUSPSEndpoint(v))
	}
	usps, err := carrier.NewUSPS(values[uspsUserParam], uspsOpts...)
	if err != nil {
		slog.Error("failed to create USPS tracker", "err", err)
		os.Exit(1)
	}

	// ---- Assistant ----
	tools, err := assistant.NewLogTools(turnLog)
	if err != nil {
		slog.Error("failed to create log tools", "err", err)
		os.Exit(1)
	}
	dispatcher, err := assistant.NewDispatcher(tools)
	if err != nil {
		slog.Error("failed to create tool dispatcher", "err", err)
		os.Exit(1)
	}
	driver, err := assistant.NewDriver(openaiClient, dispatcher, assistant.Config{
		AssistantID:  values[assistantIDParam],
		PollInterval: pollInterval,
		MaxPolls:     maxPolls,
	}, logger)
	if err != nil {
		slog.Error("failed to create run driver", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	turnService, err := usecase.NewTurnService(
		[]usecase.Tracker{ups, usps},
		driver,
		turnLog,
		usecase.WithMaxMessageLength(maxMessageLen),
		usecase.WithTurnTimeout(turnTimeout),
		usecase.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to create turn service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(turnService, handler.WithAllowedOrigin(allowedOrigin), handler.WithLogger(logger))
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.StartWithOptions(h.Handle, lambda.WithEnableSIGTERM(closeLog))
}

// openTurnLog builds the configured turn log backend. The returned func
// releases its resources on shutdown.
func openTurnLog(ctx context.Context, cfg aws.Config, kind string) (repository.TurnLog, func()) {
	switch kind {
	case "postgres":
		pg, err := repository.OpenPostgres(ctx, mustEnv("DATABASE_URL"), repository.PoolConfig{
			MaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 4),
			MaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxIdleTime: 5 * time.Minute,
		})
		if err != nil {
			slog.Error("failed to open postgres", "err", err)
			os.Exit(1)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("failed to ensure schema", "err", err)
			os.Exit(1)
		}
		return pg, func() {
			if err := pg.Close(); err != nil {
				slog.Error("failed to close postgres", "err", err)
			}
		}
	case "dynamodb":
		store, err := repository.NewDynamo(awsdynamodb.NewFromConfig(cfg), mustEnv("STATE_TABLE"))
		if err != nil {
			slog.Error("failed to create state client", "err", err)
			os.Exit(1)
		}
		return store, func() {}
	default:
		slog.Error("unsupported LOG_STORE", "value", kind)
		os.Exit(1)
		return nil, nil
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
