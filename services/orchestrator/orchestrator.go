// Copyright (C) 2025 Neurowatch AI (engineering@neurowatch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles the Neurowatch clinical monitoring service.
//
// This package contains the main Service type that coordinates all
// components of the service: HTTP routing, the patient registry, the
// vector index, LLM generation, risk classification, monitoring session
// storage, retention cleanup, and observability infrastructure.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 12210}
//	svc, err := orchestrator.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
// Configuration is normally populated from environment variables by
// cmd/orchestrator; see that command's documentation for the variable
// names.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/NeurowatchAI/Neurowatch/services/llm"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/observability"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/retention"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/routes"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/services"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/store"
	"github.com/NeurowatchAI/Neurowatch/services/triage"
	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// serviceName identifies this service in traces and middleware.
const serviceName = "neurowatch-orchestrator"

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the orchestrator service.
//
// # Description
//
// Service abstracts the orchestrator lifecycle, enabling testing and
// alternative implementations. The interface follows the minimal surface
// area principle - only essential lifecycle methods are exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
//
// # Assumptions
//
//   - Service is fully initialized before Run() is called
//   - Run() is called at most once per Service instance
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	//
	// # Outputs
	//
	//   - error: Non-nil if the server fails to start or encounters a
	//     fatal error
	Run() error

	// Router returns the underlying Gin engine for testing.
	//
	// # Outputs
	//
	//   - *gin.Engine: The configured router with all routes registered
	//
	// # Assumptions
	//
	//   - Caller will not modify the router
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration options.
//
// # Description
//
// Config centralizes all configuration for the orchestrator service.
// Values can be populated from environment variables (see cmd/orchestrator),
// config files, or programmatically for testing.
//
// # Required Fields
//
//   - WeaviateURL: The service refuses to start without its vector index;
//     every core operation is gated on indexed report passages.
//
// # Optional Fields
//
// Everything else has a default applied by New().
//
// # Examples
//
//	// Minimal config
//	cfg := Config{WeaviateURL: "http://localhost:8080"}
//
//	// Full configuration
//	cfg := Config{
//	    Port:             12210,
//	    LLMBackend:       "groq",
//	    WeaviateURL:      "http://localhost:8080",
//	    PatientDBPath:    "neurowatch.db",
//	    SessionStore:     "badger",
//	    SessionStorePath: "neurowatch-sessions",
//	    RetentionEnabled: true,
//	    OTelEndpoint:     "localhost:4317",
//	    EnableMetrics:    true,
//	}
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: empty (Gin falls back to its own GIN_MODE handling)
	GinMode string

	// LLMBackend specifies the generation provider.
	// Valid values: "groq", "openai", "ollama"
	// Default: "groq"
	LLMBackend string

	// WeaviateURL is the vector index service URL. Required.
	// Example: "http://localhost:8080"
	WeaviateURL string

	// SharedIndexClass is the class holding the shared clinical corpus.
	// Default: "SharedClinical"
	SharedIndexClass string

	// PatientIndexPrefix is the class-name prefix for per-patient report
	// indices. Default: "Patient"
	PatientIndexPrefix string

	// PatientDBPath is the sqlite path for the patient registry.
	// Default: "neurowatch.db"
	PatientDBPath string

	// SessionStore selects the monitoring session repository.
	// Valid values: "memory", "badger"
	// Default: "memory"
	SessionStore string

	// SessionStorePath is the badger directory when SessionStore is
	// "badger". Default: "neurowatch-sessions"
	SessionStorePath string

	// MaxQuestions is the default question budget for monitoring sessions
	// that do not request one. Clamped into the hard interview bounds.
	// Default: 6
	MaxQuestions int

	// RetentionEnabled turns on the background session sweeper. Off by
	// default: without it, sessions live for the duration of the process.
	RetentionEnabled bool

	// RetentionInterval is how often the sweeper runs. Default: 1 hour
	RetentionInterval time.Duration

	// SessionMaxAge is how long a completed session survives before the
	// sweeper removes it. Default: 24 hours
	SessionMaxAge time.Duration

	// RetentionLogPath is the path to the retention audit log file.
	// Default: "neurowatch-retention.log"
	RetentionLogPath string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "localhost:4317"
	OTelEndpoint string

	// EnableMetrics exposes the Prometheus /metrics endpoint. The zero
	// value disables it; cmd/orchestrator resolves the documented
	// default (enabled) from the environment.
	EnableMetrics bool
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Description
//
// service is the main implementation that coordinates:
//   - HTTP routing via Gin
//   - Patient registry (sqlite via gorm)
//   - Vector index client (Weaviate)
//   - LLM client management
//   - Risk classification with keyword fallback
//   - Monitoring session storage (memory or badger)
//   - Optional retention sweeper with audit trail
//   - OpenTelemetry tracing and Prometheus metrics
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config         Config
	router         *gin.Engine
	registry       *store.SQLStore
	weaviateClient *weaviate.Client
	llmClient      llm.LLMClient
	sessions       services.SessionRepository

	gate    services.ReportGate
	chat    *services.ChatRAGService
	manager *services.MonitoringSessionManager
	daily   *services.DailyQuestionService

	retentionScheduler *retention.Scheduler
	retentionAudit     retention.AuditLog
	tracerCleanup      func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new orchestrator Service with the given configuration.
//
// # Description
//
// New initializes all orchestrator components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics
//  4. Opens the patient registry database
//  5. Creates the Weaviate client and ensures the shared schema
//  6. Creates the LLM client based on backend type
//  7. Opens the monitoring session repository
//  8. Wires the domain services (gate, retrieval, classifier, chat,
//     monitoring, daily questions)
//  9. Starts the retention sweeper when enabled
//  10. Sets up HTTP routes
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults, except
//     WeaviateURL which is required.
//
// # Outputs
//
//   - Service: Ready-to-run orchestrator service
//   - error: Non-nil if initialization fails
//
// # Examples
//
//	cfg := Config{WeaviateURL: "http://localhost:8080", LLMBackend: "groq"}
//	svc, err := New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
// # Limitations
//
//   - LLM client creation fails if the provider credentials are missing
//   - Weaviate must be reachable for the schema check
//
// # Assumptions
//
//   - Environment variables are set for the chosen LLM provider
//   - Network is available for external service connections
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if s.config.EnableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics")
	}

	if err := s.initRegistry(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open patient registry: %w", err)
	}

	if err := s.initWeaviate(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}

	if err := s.initLLMClient(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	if err := s.initSessions(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	if err := s.initDomainServices(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to wire domain services: %w", err)
	}

	if s.config.RetentionEnabled {
		if err := s.initRetention(); err != nil {
			slog.Warn("Retention scheduler initialization failed",
				"error", err)
			// Not fatal - sessions simply outlive their window
		}
	}

	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
//
// # Description
//
// Starts the Gin HTTP server on the configured port. This method blocks
// until the server stops due to error or shutdown signal. Cleanup of the
// retention scheduler, audit log, stores, and tracer is automatic on
// return.
//
// # Outputs
//
//   - error: Non-nil if the server fails to start or encounters a fatal
//     error
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting orchestrator server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
//
// # Description
//
// Applies defaults for any zero-valued configuration fields. WeaviateURL
// deliberately has no default; its absence is caught by initWeaviate.
// EnableMetrics is left untouched so the zero value keeps metrics off for
// programmatic callers; cmd/orchestrator resolves the env default.
//
// # Inputs
//
//   - cfg: User-provided configuration
//
// # Outputs
//
//   - Config: Configuration with defaults applied
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "groq"
	}
	if cfg.SharedIndexClass == "" {
		cfg.SharedIndexClass = datatypes.SharedClinicalClass
	}
	if cfg.PatientIndexPrefix == "" {
		cfg.PatientIndexPrefix = datatypes.DefaultPatientClassPrefix
	}
	if cfg.PatientDBPath == "" {
		cfg.PatientDBPath = "neurowatch.db"
	}
	if cfg.SessionStore == "" {
		cfg.SessionStore = "memory"
	}
	if cfg.SessionStorePath == "" {
		cfg.SessionStorePath = "neurowatch-sessions"
	}
	if cfg.MaxQuestions == 0 {
		cfg.MaxQuestions = services.MaxQuestionsBound
	}
	if cfg.RetentionInterval == 0 {
		cfg.RetentionInterval = 1 * time.Hour
	}
	if cfg.SessionMaxAge == 0 {
		cfg.SessionMaxAge = 24 * time.Hour
	}
	if cfg.RetentionLogPath == "" {
		cfg.RetentionLogPath = "neurowatch-retention.log"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "localhost:4317"
	}
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up the OTLP trace exporter to send spans to the configured
// collector.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
//
// # Limitations
//
//   - Uses insecure gRPC connection (appropriate for internal networks)
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initRegistry opens the patient registry database.
func (s *service) initRegistry() error {
	registry, err := store.Open(s.config.PatientDBPath)
	if err != nil {
		return err
	}
	s.registry = registry
	slog.Info("Patient registry opened", "path", s.config.PatientDBPath)
	return nil
}

// initWeaviate initializes the Weaviate vector index client.
//
// # Description
//
// Creates a Weaviate client from WeaviateURL and ensures the shared
// clinical class exists. Unlike optional integrations, the vector index
// is load-bearing here: the report gate, retrieval, and therefore every
// chat and monitoring operation depend on it, so a missing or invalid
// URL fails construction instead of degrading.
//
// # Outputs
//
//   - error: Non-nil if the URL is missing/invalid or client creation
//     fails
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	if weaviateURL == "" {
		return fmt.Errorf("WEAVIATE_SERVICE_URL is required: the report gate and retrieval cannot run without the vector index")
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	clientConf := weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	}

	s.weaviateClient, err = weaviate.NewClient(clientConf)
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	datatypes.EnsureWeaviateSchema(s.weaviateClient)
	slog.Info("Weaviate client initialized", "url", weaviateURL)

	return nil
}

// initLLMClient initializes the generation provider client.
//
// # Description
//
// Creates the appropriate LLM client based on the configured backend
// type.
//
// # Outputs
//
//   - error: Non-nil if LLM client creation fails
//
// # Assumptions
//
//   - Required environment variables are set for the chosen provider
func (s *service) initLLMClient() error {
	var err error

	switch s.config.LLMBackend {
	case "groq":
		s.llmClient, err = llm.NewGroqClient()
		slog.Info("Using Groq LLM backend")
	case "openai":
		s.llmClient, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	case "ollama":
		s.llmClient, err = llm.NewOllamaClient()
		slog.Info("Using Ollama LLM backend")
	default:
		slog.Warn("Unknown LLM backend, defaulting to groq", "backend", s.config.LLMBackend)
		s.llmClient, err = llm.NewGroqClient()
	}

	return err
}

// initSessions opens the monitoring session repository.
//
// # Description
//
// Selects the session repository implementation. The in-memory store is
// the default and keeps sessions for the process lifetime; badger persists
// them across restarts and is required for the retention sweeper to be
// useful beyond a single run.
func (s *service) initSessions() error {
	switch s.config.SessionStore {
	case "memory":
		s.sessions = services.NewMemorySessionRepository()
		slog.Info("Using in-memory session store")
	case "badger":
		repo, err := services.OpenBadgerSessionRepository(s.config.SessionStorePath, slog.Default())
		if err != nil {
			return err
		}
		s.sessions = repo
		slog.Info("Using badger session store", "path", s.config.SessionStorePath)
	default:
		slog.Warn("Unknown session store, defaulting to memory", "store", s.config.SessionStore)
		s.sessions = services.NewMemorySessionRepository()
	}
	return nil
}

// initDomainServices wires the clinical services around the shared clients.
//
// # Description
//
// Builds the dependency graph: triage engine -> risk classifier; embedder
// -> retrieval gateway; report gate; then the chat, monitoring, and daily
// question services on top.
func (s *service) initDomainServices() error {
	triageEngine, err := triage.NewEngine()
	if err != nil {
		return fmt.Errorf("failed to load triage rules: %w", err)
	}

	classifier := services.NewRiskClassifier(s.llmClient, triageEngine)
	embedder := services.NewServiceEmbedder()
	retrievalGW := services.NewRetrievalGateway(s.weaviateClient, embedder,
		s.config.SharedIndexClass, s.config.PatientIndexPrefix)

	s.gate = services.NewReportGate(s.weaviateClient, s.config.PatientIndexPrefix)
	s.chat = services.NewChatRAGService(s.registry, s.gate, retrievalGW, s.llmClient, classifier)
	s.manager = services.NewMonitoringSessionManager(s.registry, s.gate, retrievalGW,
		s.sessions, s.llmClient, classifier, s.config.MaxQuestions)
	s.daily = services.NewDailyQuestionService(s.registry, s.llmClient)

	return nil
}

// initRetention starts the background session retention sweeper.
//
// # Description
//
// Creates the audit log, sweeper, and scheduler, then starts the
// scheduler. A failed audit log is downgraded to a warning so the sweeper
// still runs; slog captures deletions either way, just without the
// tamper-evident chain.
//
// # Outputs
//
//   - error: Non-nil if the scheduler fails to start
//
// # Assumptions
//
//   - RetentionEnabled is true (checked by caller)
func (s *service) initRetention() error {
	audit, err := retention.NewAuditLog(s.config.RetentionLogPath)
	if err != nil {
		slog.Warn("Failed to create retention audit log, continuing without audit trail",
			"log_path", s.config.RetentionLogPath,
			"error", err)
	} else {
		s.retentionAudit = audit
	}

	sweeper := retention.NewSweeper(s.sessions, s.retentionAudit,
		retention.NewSystemClock(), s.config.SessionMaxAge)

	scheduler := retention.NewScheduler(sweeper, s.retentionAudit, retention.SchedulerConfig{
		Interval: s.config.RetentionInterval,
	})

	if err := scheduler.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start retention scheduler: %w", err)
	}
	s.retentionScheduler = scheduler

	slog.Info("Session retention sweeper started",
		"interval", s.config.RetentionInterval.String(),
		"max_age", s.config.SessionMaxAge.String(),
		"log_path", s.config.RetentionLogPath,
	)

	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
//
// # Assumptions
//
//   - All dependencies (registry, gate, services) are initialized
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(serviceName))

	routes.SetupRoutes(s.router, s.registry, s.gate, s.chat, s.manager, s.daily,
		s.config.EnableMetrics)
}

// cleanup releases all resources held by the service.
//
// # Description
//
// Called when Run() exits or on initialization failure. Stops the
// retention scheduler, closes the audit log, session store, and registry,
// and shuts down the tracer.
func (s *service) cleanup() {
	if s.retentionScheduler != nil {
		if err := s.retentionScheduler.Stop(); err != nil {
			slog.Warn("Retention scheduler stop error", "error", err)
		}
	}

	if s.retentionAudit != nil {
		if err := s.retentionAudit.Close(); err != nil {
			slog.Warn("Retention audit log close error", "error", err)
		}
	}

	if closer, ok := s.sessions.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			slog.Warn("Session store close error", "error", err)
		}
	}

	if s.registry != nil {
		if err := s.registry.Close(); err != nil {
			slog.Warn("Patient registry close error", "error", err)
		}
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
