package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"

	"github.com/creatorpulse/patreon-notify/internal/modules/dispatch/domain"
)

// postJSON sends a JSON document and treats any non-2xx status as failure.
func postJSON(ctx context.Context, httpc HTTPClient, endpoint string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return oops.With("context", "marshaling webhook payload").Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return oops.With("context", "creating webhook request").Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpc.Do(req)
	if err != nil {
		return oops.Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return oops.With("status", resp.StatusCode).Errorf("webhook answered %d", resp.StatusCode)
	}
	return nil
}

// discordChannel posts an embed to a Discord webhook.
type discordChannel struct {
	endpoint string
	httpc    HTTPClient
}

func newDiscordChannel(rest string, httpc HTTPClient) (Channel, error) {
	id, token, found := strings.Cut(rest, "/")
	if !found || id == "" || token == "" {
		return nil, oops.Errorf("discord URL must be discord://<webhook_id>/<webhook_token>")
	}
	return &discordChannel{
		endpoint: fmt.Sprintf("https://discord.com/api/webhooks/%s/%s", id, token),
		httpc:    httpc,
	}, nil
}

func (c *discordChannel) Name() string {
	return "discord"
}

func (c *discordChannel) Send(ctx context.Context, title, message string, meta domain.Metadata) error {
	embed := map[string]interface{}{
		"title":       title,
		"description": message,
	}
	if meta.URL != "" {
		embed["url"] = meta.URL
	}
	if meta.Thumbnail != "" {
		embed["image"] = map[string]string{"url": meta.Thumbnail}
	}
	if meta.Creator != "" {
		embed["author"] = map[string]string{"name": meta.Creator}
	}

	payload := map[string]interface{}{
		"embeds": []interface{}{embed},
	}
	return postJSON(ctx, c.httpc, c.endpoint, payload)
}

// slackChannel posts to a Slack incoming webhook.
type slackChannel struct {
	endpoint string
	httpc    HTTPClient
}

func newSlackChannel(rest string, httpc HTTPClient) (Channel, error) {
	parts := strings.Split(rest, "/")
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, oops.Errorf("slack URL must be slack://<token_a>/<token_b>/<token_c>")
	}
	return &slackChannel{
		endpoint: fmt.Sprintf("https://hooks.slack.com/services/%s/%s/%s", parts[0], parts[1], parts[2]),
		httpc:    httpc,
	}, nil
}

func (c *slackChannel) Name() string {
	return "slack"
}

func (c *slackChannel) Send(ctx context.Context, title, message string, meta domain.Metadata) error {
	text := fmt.Sprintf("*%s*\n%s", title, message)
	if meta.URL != "" {
		text += "\n" + meta.URL
	}
	return postJSON(ctx, c.httpc, c.endpoint, map[string]string{"text": text})
}

// webhookChannel posts the full notification as JSON to an arbitrary
// HTTP(S) endpoint.
type webhookChannel struct {
	endpoint string
	httpc    HTTPClient
}

func newWebhookChannel(endpoint string, httpc HTTPClient) Channel {
	return &webhookChannel{endpoint: endpoint, httpc: httpc}
}

func (c *webhookChannel) Name() string {
	return "webhook"
}

type webhookPayload struct {
	Title     string `json:"title"`
	Message   string `json:"message"`
	Creator   string `json:"creator,omitempty"`
	URL       string `json:"url,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

func (c *webhookChannel) Send(ctx context.Context, title, message string, meta domain.Metadata) error {
	return postJSON(ctx, c.httpc, c.endpoint, webhookPayload{
		Title:     title,
		Message:   message,
		Creator:   meta.Creator,
		URL:       meta.URL,
		Thumbnail: meta.Thumbnail,
		CreatedAt: meta.CreatedAt,
	})
}
