package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/time/rate"

	"github.com/creatorpulse/patreon-notify/internal/modules/dispatch/domain"
	apperrors "github.com/creatorpulse/patreon-notify/internal/shared/errors"
)

type mockTransport struct {
	statusCode int
	err        error
	requests   []*http.Request
	bodies     []string
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	m.requests = append(m.requests, req)
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		m.bodies = append(m.bodies, string(data))
	}
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString("")),
	}, nil
}

type fakeChannel struct {
	name  string
	err   error
	sends int
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, _, _ string, _ domain.Metadata) error {
	f.sends++
	return f.err
}

func managerOf(channels ...Channel) *Manager {
	m := &Manager{}
	for _, ch := range channels {
		m.channels = append(m.channels, limitedChannel{
			channel: ch,
			limiter: rate.NewLimiter(rate.Inf, 1),
		})
	}
	return m
}

func TestNewManagerSchemes(t *testing.T) {
	tests := []struct {
		name     string
		urls     []string
		wantSize int
		wantErr  error
	}{
		{
			name:     "all supported schemes",
			urls:     []string{"tgram://12345:token/6789", "discord://id/token", "slack://a/b/c", "https://example.com/hook"},
			wantSize: 4,
		},
		{
			name:     "blank entries skipped",
			urls:     []string{"", "  ", "https://example.com/hook"},
			wantSize: 1,
		},
		{
			name:    "unknown scheme rejected",
			urls:    []string{"gopher://nope"},
			wantErr: apperrors.ErrUnsupportedChannel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager(tt.urls, &mockTransport{statusCode: 200})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewManager() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewManager() error = %v", err)
			}
			if m.Size() != tt.wantSize {
				t.Errorf("Size() = %d, want %d", m.Size(), tt.wantSize)
			}
		})
	}
}

func TestNewManagerMalformedURLs(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{name: "tgram without chat id", url: "tgram://12345:token"},
		{name: "discord without token", url: "discord://only-id"},
		{name: "slack with too few tokens", url: "slack://a/b"},
		{name: "no scheme at all", url: "example.com/hook"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewManager([]string{tt.url}, &mockTransport{statusCode: 200}); err == nil {
				t.Error("NewManager() should reject malformed URL")
			}
		})
	}
}

func TestDispatchContinuesPastFailures(t *testing.T) {
	failing := &fakeChannel{name: "failing", err: errors.New("boom")}
	working := &fakeChannel{name: "working"}
	m := managerOf(failing, working)

	err := m.Dispatch(context.Background(), "title", "message", domain.Metadata{})
	if err != nil {
		t.Fatalf("Dispatch() error = %v, want nil when one channel succeeds", err)
	}
	if failing.sends != 1 || working.sends != 1 {
		t.Errorf("sends = (%d, %d), want both channels attempted", failing.sends, working.sends)
	}
}

func TestDispatchReportsTotalOutage(t *testing.T) {
	a := &fakeChannel{name: "a", err: errors.New("down")}
	b := &fakeChannel{name: "b", err: errors.New("down")}
	m := managerOf(a, b)

	if err := m.Dispatch(context.Background(), "title", "message", domain.Metadata{}); err == nil {
		t.Error("Dispatch() should fail when every channel fails")
	}
}

func TestDispatchWithNoChannels(t *testing.T) {
	m := &Manager{}
	if err := m.Dispatch(context.Background(), "title", "message", domain.Metadata{}); err != nil {
		t.Errorf("Dispatch() on empty manager = %v, want nil", err)
	}
}

func TestDiscordChannelPayload(t *testing.T) {
	transport := &mockTransport{statusCode: 204}
	ch, err := newDiscordChannel("id123/tokenabc", transport)
	if err != nil {
		t.Fatalf("newDiscordChannel: %v", err)
	}

	meta := domain.Metadata{
		Creator:   "Alice",
		URL:       "https://www.patreon.com/posts/p1",
		Thumbnail: "https://cdn.example.com/t.jpg",
	}
	if err := ch.Send(context.Background(), "New Post", "hello", meta); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got := transport.requests[0].URL.String(); got != "https://discord.com/api/webhooks/id123/tokenabc" {
		t.Errorf("endpoint = %q", got)
	}

	var payload struct {
		Embeds []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			URL         string `json:"url"`
		} `json:"embeds"`
	}
	if err := json.Unmarshal([]byte(transport.bodies[0]), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(payload.Embeds) != 1 || payload.Embeds[0].Title != "New Post" {
		t.Errorf("unexpected embed payload: %+v", payload)
	}
}

func TestWebhookChannelPayload(t *testing.T) {
	transport := &mockTransport{statusCode: 200}
	ch := newWebhookChannel("https://example.com/hook", transport)

	meta := domain.Metadata{Creator: "Alice", CreatedAt: "2024-01-01T00:00:00Z"}
	if err := ch.Send(context.Background(), "New Post", "hello", meta); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var got webhookPayload
	if err := json.Unmarshal([]byte(transport.bodies[0]), &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	want := webhookPayload{
		Title:     "New Post",
		Message:   "hello",
		Creator:   "Alice",
		CreatedAt: "2024-01-01T00:00:00Z",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestWebhookChannelErrorStatus(t *testing.T) {
	ch := newWebhookChannel("https://example.com/hook", &mockTransport{statusCode: 500})
	if err := ch.Send(context.Background(), "t", "m", domain.Metadata{}); err == nil {
		t.Error("Send() should fail on a 5xx response")
	}
}

func TestSlackChannelEndpoint(t *testing.T) {
	transport := &mockTransport{statusCode: 200}
	ch, err := newSlackChannel("TA/TB/TC", transport)
	if err != nil {
		t.Fatalf("newSlackChannel: %v", err)
	}
	if err := ch.Send(context.Background(), "t", "m", domain.Metadata{URL: "https://x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := transport.requests[0].URL.String(); got != "https://hooks.slack.com/services/TA/TB/TC" {
		t.Errorf("endpoint = %q", got)
	}
}

func TestDispatchRespectsContext(t *testing.T) {
	slow := &fakeChannel{name: "slow"}
	m := &Manager{channels: []limitedChannel{{
		channel: slow,
		// Empty bucket forces Wait to block until the deadline
		limiter: rate.NewLimiter(rate.Every(time.Hour), 1),
	}}}
	m.channels[0].limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := m.Dispatch(ctx, "t", "m", domain.Metadata{}); err == nil {
		t.Error("Dispatch() should surface a cancelled rate-limit wait")
	}
}
