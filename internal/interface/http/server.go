// Package http exposes the scoring engine over a JSON REST API: awarding
// points, reading student progress and the leaderboard, plus health and
// Prometheus endpoints.
package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/alem-hub/scoring-engine/internal/application/command"
	"github.com/alem-hub/scoring-engine/internal/application/query"
	"github.com/alem-hub/scoring-engine/internal/infrastructure/metrics"
	"github.com/alem-hub/scoring-engine/internal/interface/http/handlers"
	"github.com/alem-hub/scoring-engine/pkg/logger"
)

type Config struct {
	Host string
	Port int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	// MaxBodyBytes caps request bodies; 0 disables the cap.
	MaxBodyBytes int64
	// RequestTimeout bounds every handler's context; 0 disables it.
	RequestTimeout time.Duration

	// AllowedOrigins enables CORS for these origins. Empty disables CORS.
	AllowedOrigins []string
	EnableMetrics  bool
	// RateLimitPerMinute is per client IP; 0 disables limiting.
	RateLimitPerMinute int
}

func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        time.Minute,
		MaxHeaderBytes:     1 << 20,
		MaxBodyBytes:       64 << 10,
		RequestTimeout:     10 * time.Second,
		AllowedOrigins:     []string{"*"},
		EnableMetrics:      true,
		RateLimitPerMinute: 600,
	}
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Dependencies are the application handlers and infrastructure the routes
// call into. Nil handlers make their routes answer 503.
type Dependencies struct {
	AwardPoints *command.AwardPointsHandler
	Leaderboard *query.GetLeaderboardHandler
	Progress    *query.GetStudentProgressHandler

	HealthChecker handlers.HealthChecker
	Metrics       *metrics.Collector
	Logger        *logger.Logger
	Tracer        trace.Tracer

	// Version is reported by / and the health endpoints.
	Version string
}

type Server struct {
	config      Config
	deps        Dependencies
	logger      *logger.Logger
	tracer      trace.Tracer
	rateLimiter *clientLimiter

	handler    http.Handler
	httpServer *http.Server

	mu        sync.Mutex
	startedAt time.Time // zero while not serving
}

func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("github.com/alem-hub/scoring-engine/internal/interface/http")
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := &Server{
		config: config,
		deps:   deps,
		logger: deps.Logger.With(logger.Component("http")),
		tracer: deps.Tracer,
	}
	if config.RateLimitPerMinute > 0 {
		s.rateLimiter = newClientLimiter(config.RateLimitPerMinute, time.Minute)
	}

	s.handler = s.middleware(s.routes())
	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.handler,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s
}

// Handler returns the router with every middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /live", s.handleLive)

	mux.HandleFunc("POST /api/v1/students/{id}/awards", s.handleAwardPoints)
	mux.HandleFunc("GET /api/v1/students/{id}/progress", s.handleGetStudentProgress)
	mux.HandleFunc("GET /api/v1/leaderboard", s.handleGetLeaderboard)

	if s.config.EnableMetrics && s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}
	return mux
}

// middleware wraps the mux, outermost first. instrument sits directly on the
// mux so that r.Pattern is set when it reads it.
func (s *Server) middleware(mux http.Handler) http.Handler {
	var cors, limit handlers.Middleware
	if len(s.config.AllowedOrigins) > 0 {
		cors = s.corsMiddleware()
	}
	if s.rateLimiter != nil {
		limit = s.rateLimitMiddleware
	}
	return handlers.Wrap(mux,
		s.recoveryMiddleware,
		s.requestIDMiddleware,
		cors,
		limit,
		handlers.SecureHeaders,
		handlers.BodyLimit(s.config.MaxBodyBytes, func(w http.ResponseWriter, _ *http.Request) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
		}),
		handlers.Deadline(s.config.RequestTimeout),
		s.instrumentMiddleware,
	)
}

var errAlreadyRunning = errors.New("http server already running")

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if !s.startedAt.IsZero() {
		s.mu.Unlock()
		return errAlreadyRunning
	}
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartAsync runs Start in a goroutine. The channel yields Start's error, if
// any, and is then closed.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.Start(); err != nil {
			errCh <- err
		}
	}()
	return errCh
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	running := !s.startedAt.IsZero()
	s.startedAt = time.Time{}
	s.mu.Unlock()
	if !running {
		return nil
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Uptime is zero when the server is not serving.
func (s *Server) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}
