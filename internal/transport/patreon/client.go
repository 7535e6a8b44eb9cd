package patreon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/samber/oops"

	"github.com/creatorpulse/patreon-notify/internal/modules/feed/domain"
	"github.com/creatorpulse/patreon-notify/internal/shared/config"
	apperrors "github.com/creatorpulse/patreon-notify/internal/shared/errors"
)

// HTTPClient abstracts the HTTP transport for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches the notification stream on behalf of a session.
type Client struct {
	httpc          HTTPClient
	csrf           string
	userAgent      string
	acceptLanguage string
}

// NewClient builds a stream client bound to an authenticated session.
func NewClient(session *Session, cfg *config.Config) *Client {
	return &Client{
		httpc:          session.client,
		csrf:           session.csrf,
		userAgent:      cfg.UserAgent,
		acceptLanguage: cfg.AcceptLanguage,
	}
}

// FetchStream retrieves the raw notification stream with user and campaign
// entities included. Expired credentials surface as ErrCredentialExpired.
func (c *Client) FetchStream(ctx context.Context) (*domain.StreamResponse, error) {
	params := url.Values{}
	params.Set("json-api-version", "1.0")
	params.Set("include", "user,campaign")

	endpoint := baseURL + "/api/stream?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, oops.Wrap(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-csrf-signature", c.csrf)
	req.Header.Set("Referer", baseURL+"/notifications")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", c.acceptLanguage)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, oops.With("context", "fetching notification stream").Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, oops.With("status", resp.StatusCode).Wrap(apperrors.ErrCredentialExpired)
	case resp.StatusCode != http.StatusOK:
		return nil, oops.With("status", resp.StatusCode).Errorf("stream endpoint answered %d", resp.StatusCode)
	}

	var stream domain.StreamResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10*1024*1024)).Decode(&stream); err != nil {
		return nil, oops.With("context", "decoding notification stream").Wrap(err)
	}
	return &stream, nil
}
