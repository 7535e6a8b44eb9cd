package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/samber/do/v2"
	slogmulti "github.com/samber/slog-multi"

	"github.com/creatorpulse/patreon-notify/internal/di"
	healthService "github.com/creatorpulse/patreon-notify/internal/modules/health/service"
	monitorService "github.com/creatorpulse/patreon-notify/internal/modules/monitor/service"
	"github.com/creatorpulse/patreon-notify/internal/shared/config"
	apperrors "github.com/creatorpulse/patreon-notify/internal/shared/errors"
	httpServer "github.com/creatorpulse/patreon-notify/internal/transport/http"
	"github.com/creatorpulse/patreon-notify/internal/transport/patreon"
)

const cookieHelp = "Export your Patreon cookies from a logged-in browser session " +
	"(using a cookie-export extension) and save them as JSON at the configured path."

func main() {
	os.Exit(run())
}

func run() int {
	setupLogging(slog.LevelInfo)

	injector, err := di.Setup()
	if err != nil {
		slog.Error("Failed to setup dependency injection", "error", err)
		return 1
	}
	defer func() {
		if err := di.Shutdown(injector); err != nil {
			slog.Error("Error during shutdown", "error", err)
		}
	}()

	cfg, err := do.Invoke[*config.Config](injector)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}
	setupLogging(parseLevel(cfg.LogLevel))

	slog.Info("Patreon notification monitor starting",
		"interval", cfg.Interval().String(),
		"channels", len(cfg.NotifyURLs))

	// The session provider performs the authentication handshake
	session, err := do.Invoke[*patreon.Session](injector)
	if err != nil {
		return reportAuthFailure(injector, cfg, err)
	}
	recordAuthSuccess(injector)

	if user := session.User(); user != nil {
		slog.Info("Authenticated with Patreon",
			"user", user.Name,
			"email", user.Email,
			"pledges", user.PledgeCount)
	}

	monitor, err := do.Invoke[*monitorService.Service](injector)
	if err != nil {
		slog.Error("Failed to initialize monitor", "error", err)
		return 1
	}

	if cfg.HTTPPort != "" {
		server := do.MustInvoke[*httpServer.Server](injector)
		go func() {
			if err := server.Start(); err != nil {
				slog.Error("Feed server stopped", "error", err)
			}
		}()
	}

	if cfg.CheckInterval == 0 {
		monitor.RunOnce(context.Background())
		return 0
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	monitor.Run(ctx)

	slog.Info("Shutting down")
	if ctx.Err() != nil {
		// Conventional exit status for an interrupted process
		return 130
	}
	return 0
}

func reportAuthFailure(injector do.Injector, cfg *config.Config, err error) int {
	switch {
	case errors.Is(err, apperrors.ErrCookiesNotFound):
		slog.Error("No cookie file found", "path", cfg.CookiesPath())
		slog.Info(cookieHelp)
	case errors.Is(err, apperrors.ErrCredentialExpired):
		slog.Error("Patreon cookies have expired")
		slog.Info(cookieHelp)
		if health, invokeErr := invokeHealth(injector); invokeErr == nil {
			health.RecordCookieExpired(err)
		}
		return 1
	default:
		if cfg.ShowFullErrors {
			slog.Error("Authentication failed", "error", err)
		} else {
			slog.Error("Authentication failed", "error", shortError(err))
		}
	}

	if health, invokeErr := invokeHealth(injector); invokeErr == nil {
		health.RecordAuthFailure(err)
	}
	return 1
}

func recordAuthSuccess(injector do.Injector) {
	if health, err := invokeHealth(injector); err == nil {
		health.RecordAuthSuccess()
	}
}

func invokeHealth(injector do.Injector) (*healthService.Service, error) {
	return do.Invoke[*healthService.Service](injector)
}

func setupLogging(level slog.Level) {
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	jsonHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	})

	logger := slog.New(slogmulti.Fanout(textHandler, jsonHandler))
	slog.SetDefault(logger)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// shortError keeps startup output readable; the full chain is available
// with show_full_errors.
func shortError(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i > 0 {
		return msg[:i]
	}
	return msg
}
