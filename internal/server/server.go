package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jdauth/apiserver/config"
	"github.com/jdauth/apiserver/internal/alerts"
	"github.com/jdauth/apiserver/internal/archive"
	"github.com/jdauth/apiserver/internal/db"
	"github.com/jdauth/apiserver/internal/handlers"
	"github.com/jdauth/apiserver/internal/security"
	"github.com/jdauth/apiserver/internal/services"
	"github.com/jdauth/apiserver/internal/store"
)

// Server wraps the HTTP server, router and shared resources.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	alerts     alerts.Backend
	limiters   *security.LimiterSet
	tracker    *security.LoginTracker
	sweepEvery time.Duration
	sweepStop  chan struct{}
	logger     *slog.Logger
}

// New constructs a fully wired Server from config.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	auditRepo := store.NewAuditRepository(dbConn)

	alertBackend, err := newAlertBackend(ctx, cfg.Alerts)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	var publisher *alerts.Publisher
	if alertBackend != nil {
		publisher = alerts.NewPublisher(alertBackend, cfg.Alerts.Channel)
	}

	archiver, err := newArchiver(ctx, cfg.Archive)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	hasher := security.NewHasher(cfg.Auth.BcryptCost)
	tracker := security.NewLoginTracker(cfg.Lockout.MaxAttempts, cfg.Lockout.Duration)

	limiters := security.NewLimiterSet(security.NewRateLimiter(cfg.RateLimit.DefaultMax, cfg.RateLimit.DefaultWindow))
	adminLimiter := security.NewRateLimiter(cfg.RateLimit.AdminMax, cfg.RateLimit.AdminWindow)
	limiters.Register("/api/admin", adminLimiter)
	limiters.Register("/api/users", adminLimiter)
	limiters.Register("/api/auth", security.NewRateLimiter(cfg.RateLimit.AuthMax, cfg.RateLimit.AuthWindow))

	auditService := services.NewAuditService(auditRepo, publisher, logger)
	userService := services.NewUserService(userRepo, hasher)
	tokenService := services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, userRepo)
	authService := services.NewAuthService(userRepo, hasher, tracker, tokenService, auditService)
	analyticsService := services.NewAnalyticsService(userRepo)

	adminHandler := handlers.NewAdminHandler(userService, auditService, archiver, logger)
	dashboardHandler := handlers.NewDashboardHandler(analyticsService, auditService)

	requireAuth := handlers.RequireAuth(tokenService)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/api", func(r chi.Router) {
		r.Use(handlers.RateLimit(limiters, auditService))

		r.Route("/auth", func(r chi.Router) {
			handlers.AuthRouter(r, userService, authService, tokenService)
		})
		r.Route("/user", func(r chi.Router) {
			r.Use(requireAuth)
			handlers.UserRouter(r, userService, auditService)
		})
		r.With(requireAuth, handlers.RequireAdmin).Get("/users", adminHandler.ListUsers)
		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAuth, handlers.RequireAdmin)
			handlers.AdminUserRouter(r, adminHandler)
			handlers.DashboardRouter(r, dashboardHandler)
		})
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		alerts:     alertBackend,
		limiters:   limiters,
		tracker:    tracker,
		sweepEvery: cfg.RateLimit.SweepInterval,
		sweepStop:  make(chan struct{}),
		logger:     logger,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server and the background sweep of idle limiter and
// lockout entries.
func (s *Server) Start() error {
	if s.sweepEvery > 0 {
		go s.sweepLoop()
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	close(s.sweepStop)
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.alerts != nil {
		_ = s.alerts.Close()
	}
	return s.httpServer.Close()
}

func (s *Server) sweepLoop() {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			removed := s.limiters.Sweep() + s.tracker.Sweep()
			if removed > 0 {
				s.logger.Debug("swept idle security entries", "removed", removed)
			}
		case <-s.sweepStop:
			return
		}
	}
}

func newAlertBackend(ctx context.Context, cfg config.AlertsConfig) (alerts.Backend, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "rabbitmq":
		return alerts.NewRabbitMQClient(cfg.RabbitMQ)
	case "pubsub":
		return alerts.NewPubSubClient(ctx, cfg.PubSub)
	default:
		return nil, fmt.Errorf("unknown alerts backend %q", cfg.Backend)
	}
}

func newArchiver(ctx context.Context, cfg config.ArchiveConfig) (*archive.Archiver, error) {
	var backend archive.ObjectStore
	var err error
	switch cfg.Backend {
	case "":
		return nil, nil
	case "minio":
		backend, err = archive.NewMinioStore(cfg.Minio)
	case "gcs":
		backend, err = archive.NewGCSStore(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	archiver := archive.NewArchiver(backend)
	if err := archiver.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return archiver, nil
}
