// Package service runs the poll loop: fetch the stream, parse, filter, and
// dispatch what survives.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	dispatchDomain "github.com/creatorpulse/patreon-notify/internal/modules/dispatch/domain"
	feedDomain "github.com/creatorpulse/patreon-notify/internal/modules/feed/domain"
	feedService "github.com/creatorpulse/patreon-notify/internal/modules/feed/service"
	filterService "github.com/creatorpulse/patreon-notify/internal/modules/filter/service"
	"github.com/creatorpulse/patreon-notify/internal/shared/config"
	apperrors "github.com/creatorpulse/patreon-notify/internal/shared/errors"
)

// Fetcher retrieves the raw notification stream; satisfied by the Patreon
// client.
type Fetcher interface {
	FetchStream(ctx context.Context) (*feedDomain.StreamResponse, error)
}

// Store is the seen-state persistence the loop de-duplicates against.
type Store interface {
	IsSeen(id string) bool
	MarkSeen(id string)
	Count() int
}

// Notifier delivers notifications; satisfied by the dispatch manager.
type Notifier interface {
	Dispatch(ctx context.Context, title, message string, meta dispatchDomain.Metadata) error
}

// Health receives the loop's failure and success signals.
type Health interface {
	RecordAPISuccess()
	RecordAPIFailure(err error)
	RecordNotificationSuccess()
	RecordNotificationFailure(err error)
	RecordCookieExpired(err error)
}

// Archiver stores dispatched posts for the RSS feed. Optional.
type Archiver interface {
	SavePost(post *feedDomain.ParsedNotification) error
}

// Service drives the monitoring cycle. The entity index persists across
// cycles so creators stay resolvable even when a later fetch omits them.
type Service struct {
	cfg      *config.Config
	fetcher  Fetcher
	parser   *feedService.Parser
	filters  *filterService.Service
	store    Store
	notifier Notifier
	health   Health
	archive  Archiver
	index    *feedDomain.EntityIndex
	logger   *slog.Logger
}

// New creates the monitor. The archive may be nil when no RSS feed is served.
func New(
	cfg *config.Config,
	fetcher Fetcher,
	parser *feedService.Parser,
	filters *filterService.Service,
	store Store,
	notifier Notifier,
	health Health,
	archive Archiver,
) *Service {
	return &Service{
		cfg:      cfg,
		fetcher:  fetcher,
		parser:   parser,
		filters:  filters,
		store:    store,
		notifier: notifier,
		health:   health,
		archive:  archive,
		index:    feedDomain.NewEntityIndex(),
		logger:   slog.Default(),
	}
}

// SetLogger sets the logger.
func (s *Service) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// RunOnce executes a single monitoring cycle and returns the number of
// notifications dispatched. A fetch failure is routed to health and yields
// zero items; it is not returned as an error so the loop keeps running.
func (s *Service) RunOnce(ctx context.Context) int {
	stream, err := s.fetcher.FetchStream(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrCredentialExpired) {
			s.logger.Error("Patreon session no longer authenticates", "error", err)
			s.health.RecordCookieExpired(err)
		} else {
			s.logger.Error("Failed to fetch notification stream", "error", err)
			s.health.RecordAPIFailure(err)
		}
		return 0
	}
	s.health.RecordAPISuccess()

	s.index.Update(stream.Included)

	dispatched := 0
	for _, item := range stream.Data {
		if s.store.IsSeen(item.ID) {
			continue
		}

		notification := s.parser.Parse(item, s.index)

		if s.cfg.OnlyNewPosts && !notification.IsNewPost {
			s.store.MarkSeen(notification.ID)
			continue
		}

		if pass, stage := s.filters.Apply(notification); !pass {
			s.logger.Debug("Notification filtered out",
				"id", notification.ID,
				"creator", notification.Creator,
				"stage", string(stage))
			s.store.MarkSeen(notification.ID)
			continue
		}

		if err := s.send(ctx, notification); err != nil {
			s.logger.Error("Failed to deliver notification",
				"id", notification.ID, "error", err)
			s.health.RecordNotificationFailure(err)
			// Left unseen so the next cycle retries it
			continue
		}
		s.health.RecordNotificationSuccess()

		if s.archive != nil {
			if err := s.archive.SavePost(&notification); err != nil {
				s.logger.Warn("Failed to archive post", "id", notification.ID, "error", err)
			}
		}

		s.store.MarkSeen(notification.ID)
		dispatched++
	}

	s.logger.Info("Check complete",
		"items", len(stream.Data),
		"dispatched", dispatched,
		"seen_total", s.store.Count())
	return dispatched
}

// Run polls on the configured interval until the context is cancelled. The
// first check happens immediately.
func (s *Service) Run(ctx context.Context) {
	interval := s.cfg.Interval()
	s.logger.Info("Monitor started", "interval", interval.String())

	s.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Monitor stopping")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *Service) send(ctx context.Context, n feedDomain.ParsedNotification) error {
	title := "New Patreon Post: " + n.Creator

	message := n.Subject
	if message == "" {
		message = n.Body
	}
	if runes := []rune(message); len(runes) > 200 {
		message = string(runes[:197]) + "..."
	}

	return s.notifier.Dispatch(ctx, title, message, dispatchDomain.Metadata{
		Creator:   n.Creator,
		URL:       n.URL,
		Thumbnail: n.Thumbnail,
		CreatedAt: n.CreatedAt,
	})
}
