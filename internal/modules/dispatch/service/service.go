// Package service fans notifications out to the configured delivery
// channels.
package service

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"
	"golang.org/x/time/rate"

	"github.com/creatorpulse/patreon-notify/internal/modules/dispatch/domain"
	apperrors "github.com/creatorpulse/patreon-notify/internal/shared/errors"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Channel is one outbound notification destination.
type Channel interface {
	// Name identifies the channel in logs.
	Name() string
	// Send delivers one notification.
	Send(ctx context.Context, title, message string, meta domain.Metadata) error
}

type limitedChannel struct {
	channel Channel
	limiter *rate.Limiter
}

// Manager fans a notification out to every configured channel. A channel
// failure is logged and does not prevent the remaining channels from being
// attempted.
type Manager struct {
	channels []limitedChannel
}

// NewManager builds the channel set from apprise-style URIs:
//
//	tgram://<bot_token>/<chat_id>
//	discord://<webhook_id>/<webhook_token>
//	slack://<token_a>/<token_b>/<token_c>
//	https://... (generic JSON webhook)
//
// Unknown schemes are rejected.
func NewManager(urls []string, httpc HTTPClient) (*Manager, error) {
	m := &Manager{}

	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		channel, err := buildChannel(raw, httpc)
		if err != nil {
			return nil, err
		}

		m.channels = append(m.channels, limitedChannel{
			channel: channel,
			// One message per second per destination keeps every
			// supported service inside its limits
			limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		})
	}

	return m, nil
}

func buildChannel(raw string, httpc HTTPClient) (Channel, error) {
	// Bot tokens contain colons, which net/url rejects as a malformed
	// port, so the scheme split is done by hand.
	scheme, rest, found := strings.Cut(raw, "://")
	if !found {
		return nil, oops.With("notify_url", redact(raw)).Errorf("notify URL has no scheme")
	}

	switch scheme {
	case domain.SchemeTelegram:
		return newTelegramChannel(rest)
	case domain.SchemeDiscord:
		return newDiscordChannel(rest, httpc)
	case domain.SchemeSlack:
		return newSlackChannel(rest, httpc)
	case domain.SchemeHTTP, domain.SchemeHTTPS:
		return newWebhookChannel(raw, httpc), nil
	default:
		return nil, oops.With("scheme", scheme).Wrap(apperrors.ErrUnsupportedChannel)
	}
}

// Size returns the number of configured channels.
func (m *Manager) Size() int {
	return len(m.channels)
}

// Dispatch sends the notification to every channel. Per-channel failures
// are logged; an error is returned only when every channel failed, so the
// caller's failure bookkeeping reflects a total delivery outage rather than
// one flaky destination.
func (m *Manager) Dispatch(ctx context.Context, title, message string, meta domain.Metadata) error {
	if len(m.channels) == 0 {
		return nil
	}

	failed := 0
	for _, lc := range m.channels {
		if err := lc.limiter.Wait(ctx); err != nil {
			return oops.With("context", "rate limit wait interrupted").Wrap(err)
		}

		if err := lc.channel.Send(ctx, title, message, meta); err != nil {
			slog.Error("Failed to send notification", "channel", lc.channel.Name(), "error", err)
			failed++
			continue
		}
		slog.Debug("Notification sent", "channel", lc.channel.Name())
	}

	if failed == len(m.channels) {
		return oops.With("channels", failed).Errorf("all notification channels failed")
	}
	return nil
}

// redact strips userinfo and path secrets from a channel URL for logging.
func redact(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		return raw[:i+3] + "..."
	}
	return "..."
}
