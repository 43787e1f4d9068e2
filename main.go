// Command backend is the main entrypoint for the battery-gate admission API.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Wires the quota ledger, room policy store, and admission controller.
//   - Starts the chat command listener and exposes the HTTP API with
//     /ticket, /battle-assist, /rooms, /healthz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/onnwee/battery-gate/backend/admission"
	"github.com/onnwee/battery-gate/backend/agent"
	"github.com/onnwee/battery-gate/backend/chat"
	"github.com/onnwee/battery-gate/backend/config"
	"github.com/onnwee/battery-gate/backend/db"
	"github.com/onnwee/battery-gate/backend/policy"
	"github.com/onnwee/battery-gate/backend/quota"
	"github.com/onnwee/battery-gate/backend/server"
	"github.com/onnwee/battery-gate/backend/telemetry"
	"github.com/onnwee/battery-gate/backend/usagesink"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("battery-gate", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Room policy store: seeded from Postgres, persisted wholesale on mutation.
	policies, err := policy.NewStore(ctx,
		policy.Defaults{MaxHourly: cfg.MaxHourlyBatteryPerRoom, MaxDaily: cfg.MaxDailyBattery},
		&policy.PGStore{DB: database})
	if err != nil {
		slog.Error("failed to load room policies", slog.Any("err", err))
		os.Exit(1)
	}

	// Quota ledger with daily snapshots going to both the log and Postgres.
	ledger := quota.NewLedger(usagesink.MultiSink{
		usagesink.LogSink{},
		&usagesink.PGSink{DB: database},
	})

	ctrl := admission.New(policies, ledger, cfg.ResetHour)

	// Dispatch agent client (disabled when AGENT_BASE_URL is unset).
	ag := agent.New(cfg.AgentBaseURL, cfg.GiftID, cfg.AgentTokenURL, cfg.AgentClientID, cfg.AgentClientSecret)
	if !ag.Enabled() {
		slog.Info("dispatch agent disabled (AGENT_BASE_URL not set); decisions will not be acted on")
	}

	// Chat command listener
	if err := cfg.ValidateChatReady(); err == nil {
		go chat.StartCommandListener(ctx, ctrl, ag, cfg.ChatChannel)
	} else {
		slog.Info("chat command listener disabled", slog.Any("reason", err))
	}

	// HTTP server
	handlers := server.NewHandlers(ctrl, ag, database, cfg.BattleAssistToken)
	go func() {
		if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()
	slog.Info("battery-gate started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Int("max_hourly", cfg.MaxHourlyBatteryPerRoom),
		slog.Int("max_daily", cfg.MaxDailyBattery),
		slog.Int("reset_hour", cfg.ResetHour))

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
