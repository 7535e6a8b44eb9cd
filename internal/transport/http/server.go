package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	sloghttp "github.com/samber/slog-http"

	feedService "github.com/creatorpulse/patreon-notify/internal/modules/feed/service"
	"github.com/creatorpulse/patreon-notify/internal/shared/config"
)

// Server exposes the RSS feed of dispatched posts.
type Server struct {
	cfg         *config.Config
	feedService *feedService.Service
	logger      *slog.Logger
}

// New creates a new HTTP server.
func New(cfg *config.Config, feedService *feedService.Service) *Server {
	return &Server{
		cfg:         cfg,
		feedService: feedService,
		logger:      slog.Default(),
	}
}

// SetLogger sets the logger.
func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /feed.xml", s.handleFeed)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	addr := fmt.Sprintf(":%s", s.cfg.HTTPPort)
	s.logger.Info("Feed server starting", "addr", addr)

	handler := sloghttp.Recovery(mux)
	handler = sloghttp.New(s.logger)(handler)

	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	baseURL := fmt.Sprintf("%s://%s", getScheme(r), r.Host)

	feed, err := s.feedService.GenerateFeed(baseURL)
	if err != nil {
		s.logger.Error("Error generating feed", "error", err)
		http.Error(w, "Failed to generate feed", http.StatusInternalServerError)
		return
	}

	rss, err := feed.ToRss()
	if err != nil {
		s.logger.Error("Error converting feed to RSS", "error", err)
		http.Error(w, "Failed to generate RSS", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(rss))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	html := `<!DOCTYPE html>
<html>
<head>
    <title>Patreon Notify</title>
    <style>
        body { font-family: Arial, sans-serif; max-width: 800px; margin: 50px auto; padding: 20px; }
        h1 { color: #333; }
        .info { background: #f5f5f5; padding: 15px; border-radius: 5px; margin: 20px 0; }
        code { background: #e8e8e8; padding: 2px 6px; border-radius: 3px; }
    </style>
</head>
<body>
    <h1>Patreon Notify</h1>
    <div class="info">
        <p>This service republishes filtered Patreon notifications.</p>
        <p>The RSS feed is available at: <code>/feed.xml</code></p>
    </div>
    <p><a href="/health">Health Check</a></p>
</body>
</html>`
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(html))
}

func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
