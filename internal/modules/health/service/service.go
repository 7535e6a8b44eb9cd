// Package service tracks consecutive failures per category and raises
// alerts through the dispatch channels once a threshold is crossed.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	dispatchDomain "github.com/creatorpulse/patreon-notify/internal/modules/dispatch/domain"
	"github.com/creatorpulse/patreon-notify/internal/shared/config"
)

// Category identifies one monitored failure class.
type Category string

// Monitored categories.
const (
	CategoryAuth         Category = "auth"
	CategoryAPI          Category = "api"
	CategoryNotification Category = "notification"
	CategoryCookie       Category = "cookie_expiration"
)

// Alerter delivers health alerts; satisfied by the dispatch manager.
type Alerter interface {
	Dispatch(ctx context.Context, title, message string, meta dispatchDomain.Metadata) error
}

// Service counts consecutive failures per category. A success signal resets
// its counter; reaching the configured threshold raises an alert, after
// which the counter keeps climbing and re-alerting is suppressed only by
// the per-category cooldown. Cookie expiration bypasses the threshold and
// alerts on every occurrence, gated by its own longer cooldown.
type Service struct {
	cfg     *config.Config
	alerter Alerter
	now     func() time.Time

	counters  map[Category]int
	lastAlert map[Category]time.Time
}

// New creates a health monitor sending alerts through the given alerter.
func New(cfg *config.Config, alerter Alerter) *Service {
	return &Service{
		cfg:       cfg,
		alerter:   alerter,
		now:       time.Now,
		counters:  make(map[Category]int),
		lastAlert: make(map[Category]time.Time),
	}
}

// RecordAuthSuccess resets the auth failure counter.
func (s *Service) RecordAuthSuccess() {
	s.counters[CategoryAuth] = 0
}

// RecordAuthFailure counts an authentication failure.
func (s *Service) RecordAuthFailure(err error) {
	if !s.cfg.Health.Enabled || !s.cfg.Health.AlertOnAuthFailure {
		return
	}

	s.counters[CategoryAuth]++
	if s.counters[CategoryAuth] >= s.cfg.Health.MaxConsecutiveFailures {
		s.alert(CategoryAuth, "Authentication Failure", fmt.Sprintf(
			"Failed to authenticate with Patreon after %d attempts.\n\n"+
				"Error: %v\n\n"+
				"Action required: check your cookie file and ensure it's up to date.",
			s.counters[CategoryAuth], err))
	}
}

// RecordAPISuccess resets the api failure counter.
func (s *Service) RecordAPISuccess() {
	s.counters[CategoryAPI] = 0
}

// RecordAPIFailure counts an upstream fetch failure.
func (s *Service) RecordAPIFailure(err error) {
	if !s.cfg.Health.Enabled || !s.cfg.Health.AlertOnAPIErrors {
		return
	}

	s.counters[CategoryAPI]++
	if s.counters[CategoryAPI] >= s.cfg.Health.MaxConsecutiveFailures {
		s.alert(CategoryAPI, "API Error", fmt.Sprintf(
			"Failed to fetch notifications from Patreon after %d attempts.\n\n"+
				"Error: %v\n\n"+
				"This may be a temporary issue. If it persists, check Patreon's status.",
			s.counters[CategoryAPI], err))
	}
}

// RecordNotificationSuccess resets the notification failure counter.
func (s *Service) RecordNotificationSuccess() {
	s.counters[CategoryNotification] = 0
}

// RecordNotificationFailure counts a delivery failure.
func (s *Service) RecordNotificationFailure(err error) {
	if !s.cfg.Health.Enabled || !s.cfg.Health.AlertOnNotificationErrors {
		return
	}

	s.counters[CategoryNotification]++
	if s.counters[CategoryNotification] >= s.cfg.Health.MaxConsecutiveFailures {
		s.alert(CategoryNotification, "Notification Delivery Failure", fmt.Sprintf(
			"Failed to send notifications after %d attempts.\n\n"+
				"Error: %v\n\n"+
				"Check your notification channel configuration.",
			s.counters[CategoryNotification], err))
	}
}

// RecordCookieExpired alerts immediately on expired credentials, gated only
// by the cookie cooldown.
func (s *Service) RecordCookieExpired(err error) {
	if !s.cfg.Health.Enabled {
		return
	}

	s.counters[CategoryCookie]++
	s.alertWithCooldown(CategoryCookie, s.cfg.Health.CookieAlertCooldown(),
		"Patreon Cookies Expired", fmt.Sprintf(
			"The Patreon session cookies no longer authenticate.\n\n"+
				"Error: %v\n\n"+
				"Action required: log into Patreon in your browser and export fresh cookies.",
			err))
}

// Failures returns the current consecutive failure count for a category.
func (s *Service) Failures(category Category) int {
	return s.counters[category]
}

func (s *Service) alert(category Category, title, message string) {
	s.alertWithCooldown(category, s.cfg.Health.AlertCooldown(), title, message)
}

func (s *Service) alertWithCooldown(category Category, cooldown time.Duration, title, message string) {
	now := s.now()
	if last, ok := s.lastAlert[category]; ok && now.Sub(last) < cooldown {
		return
	}

	if s.alerter == nil {
		slog.Warn("HEALTH ALERT (no alert channels configured)", "title", title, "message", message)
		return
	}

	err := s.alerter.Dispatch(context.Background(), "🚨 Patreon Monitor: "+title, message, dispatchDomain.Metadata{})
	if err != nil {
		slog.Error("Failed to send health alert", "category", category, "error", err)
		return
	}

	s.lastAlert[category] = now
	slog.Warn("Health alert sent", "category", category, "title", title)
}
