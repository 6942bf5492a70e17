// Package httpapi exposes the pipeline to external schedulers: an
// authenticated trigger that runs one pass and returns its summary, and a
// liveness endpoint. The shared-secret check runs before any page fetch.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ipuwatch/internal/storage"
	"ipuwatch/internal/watch"
	"ipuwatch/pkg/logx"
)

// dedupRetention is how long an idempotency token suppresses re-runs.
// External cron services retry aggressively on slow responses; an hour
// comfortably covers their retry windows.
const dedupRetention = time.Hour

type Config struct {
	Addr         string
	APIKey       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// PassTimeout bounds the triggered pass.
	PassTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		// The pass itself can take a while; the write timeout must outlast it.
		c.WriteTimeout = 3 * time.Minute
	}
	if c.PassTimeout <= 0 {
		c.PassTimeout = 2 * time.Minute
	}
	return c
}

// PassRunner runs one detection pass. Implemented by watch.Service.
type PassRunner interface {
	RunPass(ctx context.Context) watch.PassReport
}

type Server struct {
	cfg    Config
	runner PassRunner
	store  storage.Store
	log    logx.Logger
	srv    *http.Server
}

func New(cfg Config, runner PassRunner, store storage.Store, log logx.Logger) *Server {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, runner: runner, store: store, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.With(s.requireAPIKey).Post("/v1/check", s.handleCheck)

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start runs the listener in the background and reports fatal serve errors
// through errCh.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errCh <- err:
			default:
			}
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// requireAPIKey rejects requests lacking the shared secret, before any
// work happens. The key rides in X-API-Key or the "key" query parameter
// (some cron services can only set URLs, not headers).
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := strings.TrimSpace(s.cfg.APIKey)
		if want == "" {
			s.log.Warn("check rejected: no api key configured")
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		got := r.Header.Get("X-API-Key")
		if got == "" {
			got = r.URL.Query().Get("key")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

type checkResponse struct {
	Success bool `json:"success"`
	// Duplicate is true when an idempotency token suppressed the run.
	Duplicate bool             `json:"duplicate,omitempty"`
	Report    watch.PassReport `json:"report"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	// Optional idempotency: an external trigger retrying the same delivery
	// re-sends the same token and must not cause a duplicate pass.
	token := strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
	if token != "" {
		seen, err := s.store.SeenDedup(r.Context(), dedupToken(token), time.Now())
		if err != nil {
			s.log.Warn("dedup lookup failed", logx.Err(err))
		} else if seen {
			s.log.Info("check suppressed by idempotency token")
			respondJSON(w, http.StatusOK, checkResponse{Success: true, Duplicate: true})
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.PassTimeout)
	defer cancel()
	report := s.runner.RunPass(ctx)

	if token != "" {
		// A client that gave up mid-pass has already canceled r.Context();
		// the token must still be recorded or its retry re-runs the pass.
		if err := s.store.PutDedup(context.WithoutCancel(r.Context()), dedupToken(token), time.Now().Add(dedupRetention)); err != nil {
			s.log.Warn("dedup store failed", logx.Err(err))
		}
	}

	respondJSON(w, http.StatusOK, checkResponse{Success: true, Report: report})
}

func dedupToken(token string) string { return "check:" + token }

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
