// Package ingest implements the device-facing HTTP server: chunk uploads,
// health and metrics, and the reconstructed-artifact event feed.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/restitch/restitch/internal/chunk"
	"github.com/restitch/restitch/internal/config"
	"github.com/restitch/restitch/internal/metrics"
	"github.com/restitch/restitch/internal/tracing"
	"github.com/restitch/restitch/pkg/proto"
)

// deviceKey is the request-context key carrying the JWT-authenticated device.
type deviceKey struct{}

// Server is the upload ingest server. Devices POST chunk messages to it and
// observers follow reconstructed artifacts over the websocket event feed.
type Server struct {
	cfg       *config.Config
	mux       *http.ServeMux
	processor *chunk.Processor
	feed      *eventFeed
	version   string

	httpSrv *http.Server
}

// NewServer assembles the ingest server around a chunk processor.
func NewServer(cfg *config.Config, processor *chunk.Processor) *Server {
	srv := &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		processor: processor,
		feed:      newEventFeed(),
	}
	srv.setupRoutes()
	return srv
}

// SetVersion sets the version reported by the health endpoint.
func (s *Server) SetVersion(version string) {
	s.version = version
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.HandleFunc("/debug/trace", s.handleTrace)
	s.mux.HandleFunc("/api/v1/chunks", s.withAuth(s.handleChunks))
	s.mux.HandleFunc("/api/v1/events", s.withAuth(s.handleEvents))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// withAuth guards a handler with bearer authentication. Static-token and JWT
// modes are mutually exclusive; with neither configured, requests pass
// through. Errors stay plain text, matching the device protocol.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.AuthToken == "" && s.cfg.JWTSecret == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		// Expect "Bearer <token>"
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "invalid authorization header", http.StatusUnauthorized)
			return
		}

		if s.cfg.AuthToken != "" {
			if parts[1] != s.cfg.AuthToken {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next(w, r)
			return
		}

		claims, err := s.validateToken(parts[1])
		if err != nil {
			log.Debug().Err(err).Msg("device token rejected")
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), deviceKey{}, claims.Subject)))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

// handleTrace returns a runtime trace snapshot compatible with
// `go tool trace`.
func (s *Server) handleTrace(w http.ResponseWriter, _ *http.Request) {
	if !tracing.Enabled() {
		http.Error(w, "tracing not enabled (use --enable-tracing flag)", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename=trace.out")

	if err := tracing.Snapshot(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// handleChunks ingests one chunk message. The device protocol is coarse on
// purpose: 200 with an empty body acknowledges the chunk, and any failure is
// a 500 whose plain-text body carries the reason, so senders can re-deliver
// on anything but 200.
func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	logger := log.With().Str("invocation", uuid.New().String()).Logger()

	// Limit request body size to prevent DoS
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes())

	var msg proto.ChunkMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn().Str("remote", r.RemoteAddr).Msg("chunk message over body limit")
			http.Error(w, "request body too large", http.StatusInternalServerError)
			return
		}
		logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("undecodable chunk message")
		http.Error(w, "decode request body: "+err.Error(), http.StatusInternalServerError)
		return
	}

	// In JWT mode a token only speaks for its own device.
	if device, ok := r.Context().Value(deviceKey{}).(string); ok && device != msg.DeviceID {
		logger.Warn().Str("device", msg.DeviceID).Str("subject", device).Msg("device token subject mismatch")
		http.Error(w, "token not valid for device", http.StatusForbidden)
		return
	}

	if err := s.processor.Process(msg); err != nil {
		logger.Warn().Err(err).
			Str("device", msg.DeviceID).
			Str("message", msg.Properties.ID).
			Msg("chunk processing failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// PublishArtifact forwards a reconstruction event to the websocket feed. It
// is wired in as the processor's OnArtifact callback.
func (s *Server) PublishArtifact(evt proto.ArtifactEvent) {
	s.feed.Publish(evt)
}

// ListenAndServe starts the ingest server and blocks until Shutdown.
func (s *Server) ListenAndServe() error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("listen", s.cfg.Listen).Msg("starting ingest server")
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and disconnects event subscribers.
func (s *Server) Shutdown() error {
	if s.httpSrv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.httpSrv.Shutdown(ctx)
	s.feed.closeAll()
	return err
}
