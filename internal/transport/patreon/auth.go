// Package patreon implements the authenticated upstream collaborator: a
// cookie-based session and the stream API client.
package patreon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"regexp"

	"github.com/samber/lo"
	"github.com/samber/oops"

	"github.com/creatorpulse/patreon-notify/internal/shared/config"
	apperrors "github.com/creatorpulse/patreon-notify/internal/shared/errors"
)

const baseURL = "https://www.patreon.com"

// The csrf signature is embedded in the bootstrap script of any
// logged-in page.
var csrfPattern = regexp.MustCompile(`csrf_?[sS]ignature["']?\s*[:=]\s*["']([^"']+)["']`)

// UserInfo describes the authenticated member, shown in the startup banner.
type UserInfo struct {
	Name        string
	Email       string
	PledgeCount int
}

// exportedCookie matches the JSON format browser cookie-export extensions
// produce.
type exportedCookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

// Session is an authenticated Patreon HTTP session with its csrf token.
type Session struct {
	client *http.Client
	cfg    *config.Config
	csrf   string
	user   *UserInfo
}

// NewSession loads the exported cookies, performs the authentication
// handshake, and returns a ready-to-use session. A missing cookie file
// yields ErrCookiesNotFound; a 401/403 during the handshake yields
// ErrCredentialExpired.
func NewSession(cfg *config.Config) (*Session, error) {
	cookies, err := loadCookies(cfg.CookiesPath())
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, oops.With("context", "creating cookie jar").Wrap(err)
	}

	site, err := url.Parse(baseURL)
	if err != nil {
		return nil, oops.Wrap(err)
	}
	jar.SetCookies(site, cookies)

	s := &Session{
		client: &http.Client{Jar: jar, Timeout: cfg.Timeout()},
		cfg:    cfg,
	}

	if err := s.handshake(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

func loadCookies(path string) ([]*http.Cookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, oops.With("cookies_path", path).Wrap(apperrors.ErrCookiesNotFound)
		}
		return nil, oops.With("cookies_path", path).Wrap(err)
	}

	var exported []exportedCookie
	if err := json.Unmarshal(data, &exported); err != nil {
		return nil, oops.With("cookies_path", path, "context", "cookies file is not a JSON cookie export").Wrap(err)
	}

	cookies := lo.FilterMap(exported, func(c exportedCookie, _ int) (*http.Cookie, bool) {
		if c.Name == "" {
			return nil, false
		}
		return &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		}, true
	})

	if len(cookies) == 0 {
		return nil, oops.With("cookies_path", path).Wrap(apperrors.ErrAuthFailed)
	}
	return cookies, nil
}

// handshake scrapes the csrf signature from the logged-in home page and
// verifies the session against the current-user endpoint.
func (s *Session) handshake(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/home", nil)
	if err != nil {
		return oops.Wrap(err)
	}
	s.setBrowserHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return oops.With("context", "fetching home page").Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return oops.With("status", resp.StatusCode).Wrap(apperrors.ErrCredentialExpired)
	}
	if resp.StatusCode != http.StatusOK {
		return oops.With("status", resp.StatusCode).Wrap(apperrors.ErrAuthFailed)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return oops.With("context", "reading home page").Wrap(err)
	}

	match := csrfPattern.FindSubmatch(body)
	if match == nil {
		// No csrf token on the page means we got the logged-out variant
		return oops.With("context", "no csrf signature on home page").Wrap(apperrors.ErrCredentialExpired)
	}
	s.csrf = string(match[1])

	user, err := s.fetchCurrentUser(ctx)
	if err != nil {
		return err
	}
	s.user = user

	return nil
}

func (s *Session) fetchCurrentUser(ctx context.Context) (*UserInfo, error) {
	endpoint := baseURL + "/api/current_user?include=pledges&json-api-version=1.0"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, oops.Wrap(err)
	}
	s.setBrowserHeaders(req)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-csrf-signature", s.csrf)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, oops.With("context", "fetching current user").Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, oops.With("status", resp.StatusCode).Wrap(apperrors.ErrCredentialExpired)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, oops.With("status", resp.StatusCode).Wrap(apperrors.ErrAuthFailed)
	}

	var payload struct {
		Data struct {
			Attributes struct {
				FullName string `json:"full_name"`
				Email    string `json:"email"`
			} `json:"attributes"`
			Relationships struct {
				Pledges struct {
					Data []struct {
						ID string `json:"id"`
					} `json:"data"`
				} `json:"pledges"`
			} `json:"relationships"`
		} `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 5*1024*1024)).Decode(&payload); err != nil {
		return nil, oops.With("context", "decoding current user").Wrap(err)
	}

	return &UserInfo{
		Name:        payload.Data.Attributes.FullName,
		Email:       payload.Data.Attributes.Email,
		PledgeCount: len(payload.Data.Relationships.Pledges.Data),
	}, nil
}

func (s *Session) setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept-Language", s.cfg.AcceptLanguage)
}

// User returns the authenticated member's profile.
func (s *Session) User() *UserInfo {
	return s.user
}

// CSRF returns the scraped csrf signature.
func (s *Session) CSRF() string {
	return s.csrf
}
