package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"recink/internal/blobstore"
	"recink/internal/config"
	"recink/internal/store"
)

const (
	allowRemoteEnvKey = "RECINK_ALLOW_REMOTE"
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 60 * time.Second
	idleTimeout       = 60 * time.Second
)

// Server wraps HTTP handlers for the recink API.
type Server struct {
	addr       string
	store      store.IngestStore
	blobs      blobstore.BlobStore
	service    *IngestService
	logger     *slog.Logger
	apiKey     string
	apiKeyHash string
	uploads    config.UploadConfig
}

// New creates a new server instance.
func New(addr string, ingestStore store.IngestStore, blobs blobstore.BlobStore, cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	uploads := config.Default().Uploads
	apiKey := ""
	apiKeyHash := ""
	if cfg != nil {
		uploads = cfg.Uploads
		apiKey = strings.TrimSpace(cfg.APIKey)
		apiKeyHash = strings.TrimSpace(cfg.APIKeyHash)
	}

	return &Server{
		addr:       addr,
		store:      ingestStore,
		blobs:      blobs,
		service:    NewIngestService(ingestStore, blobs, uploads),
		logger:     logger,
		apiKey:     apiKey,
		apiKeyHash: apiKeyHash,
		uploads:    uploads,
	}
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.withRequestLogging(s.routes())
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.log().Info("starting server", "addr", s.addr)
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	return server.ListenAndServe()
}

// ListenAddr converts a base API URL into a listen address.
func ListenAddr(apiURL string) (string, error) {
	if apiURL == "" {
		return "", fmt.Errorf("api url is required")
	}
	if u, err := url.Parse(apiURL); err == nil && u.Host != "" {
		host := u.Hostname()
		if !isAllowedListenHost(host) {
			return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
		}
		return u.Host, nil
	}

	host, _, err := net.SplitHostPort(apiURL)
	if err == nil && !isAllowedListenHost(host) {
		return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
	}

	return apiURL, nil
}

func isAllowedListenHost(host string) bool {
	if host == "" {
		return true
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv(allowRemoteEnvKey)), "true") {
		return true
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
}
