// Package di wires the application services together.
package di

import (
	"log/slog"
	"net/http"

	"github.com/samber/do/v2"
	"github.com/samber/oops"

	dispatchService "github.com/creatorpulse/patreon-notify/internal/modules/dispatch/service"
	feedRepo "github.com/creatorpulse/patreon-notify/internal/modules/feed/repository"
	feedService "github.com/creatorpulse/patreon-notify/internal/modules/feed/service"
	filterService "github.com/creatorpulse/patreon-notify/internal/modules/filter/service"
	healthService "github.com/creatorpulse/patreon-notify/internal/modules/health/service"
	monitorService "github.com/creatorpulse/patreon-notify/internal/modules/monitor/service"
	stateRepo "github.com/creatorpulse/patreon-notify/internal/modules/state/repository"
	"github.com/creatorpulse/patreon-notify/internal/shared/config"
	httpServer "github.com/creatorpulse/patreon-notify/internal/transport/http"
	"github.com/creatorpulse/patreon-notify/internal/transport/patreon"
)

// Named services for the two dispatch managers.
const (
	ServiceNotifyManager = "notify-manager"
	ServiceAlertManager  = "alert-manager"
)

// Setup initializes the dependency injection container.
func Setup() (do.Injector, error) {
	injector := do.New()

	// Register Config
	do.Provide(injector, func(i do.Injector) (*config.Config, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, oops.With("context", "failed to load config").Wrap(err)
		}
		return cfg, nil
	})

	// Register State Repository
	do.Provide(injector, func(i do.Injector) (stateRepo.Repository, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo, err := stateRepo.NewFileStorage(cfg.StateFile, cfg.Retention())
		if err != nil {
			return nil, oops.With("state_file", cfg.StateFile, "context", "failed to initialize state repository").Wrap(err)
		}
		return repo, nil
	})

	// Register Post Archive Repository
	do.Provide(injector, func(i do.Injector) (feedRepo.Repository, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo, err := feedRepo.NewFileStorage(cfg.StoragePath)
		if err != nil {
			return nil, oops.With("storage_path", cfg.StoragePath, "context", "failed to initialize post archive").Wrap(err)
		}
		return repo, nil
	})

	// Register Notification Dispatch Manager
	do.ProvideNamed(injector, ServiceNotifyManager, func(i do.Injector) (*dispatchService.Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		m, err := dispatchService.NewManager(cfg.NotifyURLs, &http.Client{Timeout: cfg.Timeout()})
		if err != nil {
			return nil, oops.With("context", "failed to build notification channels").Wrap(err)
		}
		return m, nil
	})

	// Register Health Alert Manager
	do.ProvideNamed(injector, ServiceAlertManager, func(i do.Injector) (*dispatchService.Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		m, err := dispatchService.NewManager(cfg.AlertURLs(), &http.Client{Timeout: cfg.Timeout()})
		if err != nil {
			return nil, oops.With("context", "failed to build health alert channels").Wrap(err)
		}
		return m, nil
	})

	// Register Health Service
	do.Provide(injector, func(i do.Injector) (*healthService.Service, error) {
		cfg := do.MustInvoke[*config.Config](i)
		alerts := do.MustInvokeNamed[*dispatchService.Manager](i, ServiceAlertManager)
		return healthService.New(cfg, alerts), nil
	})

	// Register Filter Service
	do.Provide(injector, func(i do.Injector) (*filterService.Service, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return filterService.New(cfg), nil
	})

	// Register Parser
	do.Provide(injector, func(i do.Injector) (*feedService.Parser, error) {
		return feedService.NewParser(), nil
	})

	// Register Patreon Session (performs the authentication handshake)
	do.Provide(injector, func(i do.Injector) (*patreon.Session, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return patreon.NewSession(cfg)
	})

	// Register Patreon Stream Client
	do.Provide(injector, func(i do.Injector) (*patreon.Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		session := do.MustInvoke[*patreon.Session](i)
		return patreon.NewClient(session, cfg), nil
	})

	// Register Feed Service
	do.Provide(injector, func(i do.Injector) (*feedService.Service, error) {
		repo := do.MustInvoke[feedRepo.Repository](i)
		return feedService.New(repo), nil
	})

	// Register Monitor
	do.Provide(injector, func(i do.Injector) (*monitorService.Service, error) {
		cfg := do.MustInvoke[*config.Config](i)
		client := do.MustInvoke[*patreon.Client](i)
		parser := do.MustInvoke[*feedService.Parser](i)
		filters := do.MustInvoke[*filterService.Service](i)
		store := do.MustInvoke[stateRepo.Repository](i)
		notifier := do.MustInvokeNamed[*dispatchService.Manager](i, ServiceNotifyManager)
		health := do.MustInvoke[*healthService.Service](i)
		archive := do.MustInvoke[feedRepo.Repository](i)

		m := monitorService.New(cfg, client, parser, filters, store, notifier, health, archive)
		m.SetLogger(slog.Default())
		return m, nil
	})

	// Register HTTP Server
	do.Provide(injector, func(i do.Injector) (*httpServer.Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		feeds := do.MustInvoke[*feedService.Service](i)
		server := httpServer.New(cfg, feeds)
		server.SetLogger(slog.Default())
		return server, nil
	})

	return injector, nil
}

// Shutdown gracefully shuts down all services.
func Shutdown(injector do.Injector) error {
	report := injector.Shutdown()
	if report != nil && !report.Succeed {
		return report
	}
	return nil
}
