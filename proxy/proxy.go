// Package proxy serves the two JSON-RPC endpoints the transaction layer talks
// to and attaches upstream credentials server-side, so browsers and other
// untrusted clients never hold bundler or paymaster secrets.
//
// Routes:
//
//	POST /api/bundler     protocol bundler (zd_* helper methods)
//	POST /api/paymaster   general bundler and ERC-7677 paymaster
//	GET  /healthz         upstream configuration status
//	GET  /metrics         Prometheus metrics
//
// An upstream without credentials answers 503 with
// {"error":{"message":"<name> upstream not configured"}}. Clients classify it
// as sponsorship unavailable on the paymaster route and as bundler
// unavailable on the bundler route.
package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tidwall/gjson"
)

// Route paths.
const (
	BundlerPath   = "/api/bundler"
	PaymasterPath = "/api/paymaster"
	HealthPath    = "/healthz"
	MetricsPath   = "/metrics"
)

// Defaults.
const (
	DefaultMaxBodyBytes = 1 << 20
	DefaultTimeout      = 30 * time.Second
	DefaultRatePerSec   = 10
	DefaultBurst        = 20
	DefaultIdleClient   = 10 * time.Minute
)

// Config describes the two upstreams and the request limits.
type Config struct {
	// Bundler receives requests posted to /api/bundler.
	Bundler Upstream

	// Paymaster receives requests posted to /api/paymaster.
	Paymaster Upstream

	// RatePerSecond and Burst bound requests per client address. Zero disables limiting.
	RatePerSecond float64
	Burst         int

	// MaxBodyBytes caps request bodies. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// Server forwards JSON-RPC requests to the configured upstreams.
type Server struct {
	bundler   Upstream
	paymaster Upstream

	client       *http.Client
	limiter      *RateLimiter
	metrics      *Metrics
	logger       *slog.Logger
	maxBodyBytes int64
}

// Option configures a Server.
type Option func(*Server) error

// WithHTTPClient sets the client used for upstream requests.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Server) error {
		if client == nil {
			return errors.New("proxy: nil http client")
		}
		s.client = client
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithMetrics shares a Metrics instance, e.g. across several servers.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) error {
		s.metrics = m
		return nil
	}
}

// New builds a Server. Upstreams may be left unconfigured; their routes then answer 503.
func New(cfg Config, opts ...Option) (*Server, error) {
	if cfg.Bundler.Name == "" {
		cfg.Bundler.Name = "bundler"
	}
	if cfg.Paymaster.Name == "" {
		cfg.Paymaster.Name = "paymaster"
	}
	for _, up := range []Upstream{cfg.Bundler, cfg.Paymaster} {
		if err := up.validate(); err != nil {
			return nil, err
		}
	}

	s := &Server{
		bundler:      cfg.Bundler,
		paymaster:    cfg.Paymaster,
		client:       &http.Client{Timeout: DefaultTimeout},
		logger:       slog.Default(),
		maxBodyBytes: cfg.MaxBodyBytes,
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = DefaultMaxBodyBytes
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}

	if cfg.RatePerSecond > 0 {
		s.limiter = NewRateLimiter(cfg.RatePerSecond, cfg.Burst, DefaultIdleClient)
		s.limiter.onLimit = func(key string, r *http.Request) {
			s.metrics.rateLimited.Inc()
			s.logger.Warn("rate limit exceeded", "client", key, "path", r.URL.Path)
		}
	}

	for _, up := range []Upstream{s.bundler, s.paymaster} {
		if !up.Configured() {
			s.logger.Warn("upstream not configured", "upstream", up.Name)
		}
	}
	return s, nil
}

// Limiter returns the per-client rate limiter, or nil when limiting is off.
func (s *Server) Limiter() *RateLimiter {
	return s.limiter
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Routes returns a chi router with all proxy routes.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get(HealthPath, s.HealthHandler().ServeHTTP)
	r.Method(http.MethodGet, MetricsPath, s.metrics.Handler())

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Handler)
		}
		r.Post(BundlerPath, s.BundlerHandler().ServeHTTP)
		r.Post(PaymasterPath, s.PaymasterHandler().ServeHTTP)
	})
	return r
}

// BundlerHandler forwards to the protocol bundler upstream.
func (s *Server) BundlerHandler() http.Handler {
	return s.forward(s.bundler)
}

// PaymasterHandler forwards to the general bundler and paymaster upstream.
func (s *Server) PaymasterHandler() http.Handler {
	return s.forward(s.paymaster)
}

// HealthHandler reports which upstreams are configured. It never calls them.
func (s *Server) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"status": "ok",
			"upstreams": map[string]bool{
				s.bundler.Name:   s.bundler.Configured(),
				s.paymaster.Name: s.paymaster.Configured(),
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})
}

func (s *Server) forward(up Upstream) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !up.Configured() {
			s.metrics.observe(up.Name, http.StatusServiceUnavailable, time.Time{})
			writeError(w, http.StatusServiceUnavailable, up.Name+" upstream not configured")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.metrics.observe(up.Name, http.StatusRequestEntityTooLarge, time.Time{})
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			s.metrics.observe(up.Name, http.StatusBadRequest, time.Time{})
			writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		if !gjson.ValidBytes(body) {
			s.metrics.observe(up.Name, http.StatusBadRequest, time.Time{})
			writeError(w, http.StatusBadRequest, "request body is not valid JSON")
			return
		}

		req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, up.URL, bytes.NewReader(body))
		if err != nil {
			s.metrics.observe(up.Name, http.StatusInternalServerError, time.Time{})
			writeError(w, http.StatusInternalServerError, "failed to build upstream request")
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if err := up.authorize(req); err != nil {
			s.logger.Error("failed to authorize upstream request", "upstream", up.Name, "error", err)
			s.metrics.observe(up.Name, http.StatusInternalServerError, time.Time{})
			writeError(w, http.StatusInternalServerError, up.Name+" upstream credentials invalid")
			return
		}

		start := time.Now()
		s.metrics.inFlight.Inc()
		resp, err := s.client.Do(req)
		s.metrics.inFlight.Dec()
		if err != nil {
			s.logger.Warn("upstream request failed", "upstream", up.Name, "method", rpcMethod(body), "error", err)
			s.metrics.observe(up.Name, http.StatusBadGateway, start)
			writeError(w, http.StatusBadGateway, up.Name+" upstream unreachable")
			return
		}
		defer resp.Body.Close()

		s.metrics.observe(up.Name, resp.StatusCode, start)
		s.logger.Debug("forwarded request", "upstream", up.Name, "method", rpcMethod(body), "status", resp.StatusCode, "duration", time.Since(start))

		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			s.logger.Warn("failed to copy upstream response", "upstream", up.Name, "error", err)
		}
	})
}

// rpcMethod labels a request body for logs: the method name, or "batch".
func rpcMethod(body []byte) string {
	parsed := gjson.ParseBytes(body)
	if parsed.IsArray() {
		return fmt.Sprintf("batch(%d)", len(parsed.Array()))
	}
	return parsed.Get("method").String()
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody(message))
}

func errorBody(message string) map[string]any {
	return map[string]any{"error": map[string]string{"message": message}}
}
