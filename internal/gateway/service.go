// Package gateway exposes the ledger engine over HTTP. It provides JWT caller
// identification, per-identity rate limiting, CORS and security headers, and
// the health and metrics endpoints.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/medrex/medchain/pkg/config"
	"github.com/medrex/medchain/pkg/logger"
	"github.com/medrex/medchain/pkg/monitoring"
	"github.com/medrex/medchain/pkg/types"
)

// Ledger is the engine surface the HTTP API drives
type Ledger interface {
	RegisterUser(ctx context.Context, callerID, name string, role types.Role) error
	GetUserInfo(ctx context.Context, userID string) (types.User, error)
	CreateRecord(ctx context.Context, callerID string, req types.CreateRecordRequest) (uint64, error)
	GetRecord(ctx context.Context, callerID string, recordID uint64) (*types.MedicalRecord, error)
	GetPatientRecordIDs(ctx context.Context, patientID string) ([]uint64, error)
	GetDoctorAccessibleRecords(ctx context.Context, callerID, doctorID string) ([]uint64, error)
	GrantAccessStatus(ctx context.Context, callerID, doctorID string, duration time.Duration, purpose string) (types.AccessStatus, error)
	RevokeAccess(ctx context.Context, callerID, doctorID string) error
	CheckAccess(ctx context.Context, patientID, doctorID string) (types.AccessStatus, error)
	GetAuditTrail(ctx context.Context, actorID string) ([]types.AuditEntry, error)
	GetAuditTrailPage(ctx context.Context, actorID string, offset, limit int) (types.AuditPage, error)
	ToggleEmergencyMode(ctx context.Context, callerID string) (bool, error)
	GetStats(ctx context.Context) (types.Stats, error)
}

// Config holds the gateway configuration
type Config struct {
	Addr         string
	JWTSecret    string
	JWTIssuer    string
	JWTAudience  string
	RateLimited  bool
	RateLimit    int
	RatePeriod   time.Duration
	RateBurst    int
	RateCleanup  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MetricsPath  string
	HealthPath   string
}

// ConfigFrom derives the gateway settings from the application config
func ConfigFrom(cfg *config.Config) *Config {
	return &Config{
		Addr:         cfg.Server.Address(),
		JWTSecret:    cfg.JWT.SecretKey,
		JWTIssuer:    cfg.JWT.Issuer,
		JWTAudience:  cfg.JWT.Audience,
		RateLimited:  cfg.RateLimit.Enabled,
		RateLimit:    cfg.RateLimit.RequestsPerMin,
		RatePeriod:   time.Minute,
		RateBurst:    cfg.RateLimit.BurstSize,
		RateCleanup:  time.Duration(cfg.RateLimit.CleanupInterval) * time.Second,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		MetricsPath:  cfg.Monitoring.MetricsPath,
		HealthPath:   cfg.Monitoring.HealthPath,
	}
}

// Service implements the HTTP API
type Service struct {
	router         *mux.Router
	server         *http.Server
	ledger         Ledger
	tokenValidator *TokenValidator
	rateLimiter    *RateLimiter
	metrics        *monitoring.MetricsCollector
	tracing        *monitoring.TracingManager
	health         *monitoring.HealthManager
	logger         *logger.Logger
	config         *Config
	startTime      time.Time
}

// Option configures a Service
type Option func(*Service)

// WithMetrics exposes the collector on the metrics path and records requests
func WithMetrics(m *monitoring.MetricsCollector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracing starts a span per request
func WithTracing(t *monitoring.TracingManager) Option {
	return func(s *Service) { s.tracing = t }
}

// WithHealth serves the manager's report on the health path
func WithHealth(h *monitoring.HealthManager) Option {
	return func(s *Service) { s.health = h }
}

// NewService creates the HTTP API over a ledger engine
func NewService(cfg *Config, engine Ledger, log *logger.Logger, opts ...Option) *Service {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/health"
	}

	s := &Service{
		router:         mux.NewRouter(),
		ledger:         engine,
		tokenValidator: NewTokenValidator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience),
		logger:         log,
		config:         cfg,
		startTime:      time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.RateLimited && cfg.RateLimit > 0 {
		s.rateLimiter = NewRateLimiter(cfg.RateLimit, cfg.RatePeriod, cfg.RateBurst)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root handler, for tests and embedding
func (s *Service) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called
func (s *Service) Start() error {
	if s.rateLimiter != nil && s.config.RateCleanup > 0 {
		s.rateLimiter.StartCleanup(s.config.RateCleanup)
	}
	s.logger.WithComponent("gateway").WithField("addr", s.server.Addr).Info("Starting HTTP API")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests
func (s *Service) Stop(ctx context.Context) error {
	s.logger.WithComponent("gateway").Info("Stopping HTTP API")
	if s.rateLimiter != nil {
		s.rateLimiter.StopCleanup()
	}
	return s.server.Shutdown(ctx)
}

// setupRoutes sets up the routing
func (s *Service) setupRoutes() {
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.securityHeadersMiddleware)
	if s.metrics != nil || s.tracing != nil {
		s.router.Use(monitoring.NewMonitoringMiddleware(s.metrics, s.tracing, s.logger).HTTPMiddleware)
	} else {
		s.router.Use(s.loggingMiddleware)
	}

	s.router.Methods(http.MethodOptions).HandlerFunc(s.handlePreflight)
	s.router.HandleFunc(s.config.HealthPath, s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle(s.config.MetricsPath, s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/users", s.handleRegisterUser).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}", s.handleGetUser).Methods(http.MethodGet)

	api.HandleFunc("/records", s.handleCreateRecord).Methods(http.MethodPost)
	api.HandleFunc("/records/{id}", s.handleGetRecord).Methods(http.MethodGet)
	api.HandleFunc("/patients/{id}/records", s.handlePatientRecords).Methods(http.MethodGet)
	api.HandleFunc("/doctors/{id}/records", s.handleDoctorRecords).Methods(http.MethodGet)

	api.HandleFunc("/grants", s.handleGrantAccess).Methods(http.MethodPost)
	api.HandleFunc("/grants/{doctorId}", s.handleRevokeAccess).Methods(http.MethodDelete)
	api.HandleFunc("/grants/{patientId}/{doctorId}", s.handleCheckAccess).Methods(http.MethodGet)

	api.HandleFunc("/audit/{actorId}", s.handleAuditTrail).Methods(http.MethodGet)

	api.HandleFunc("/emergency/toggle", s.handleToggleEmergency).Methods(http.MethodPost)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
}
