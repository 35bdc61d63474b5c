package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/posternhq/postern/internal/auth"
	"github.com/posternhq/postern/internal/background"
	"github.com/posternhq/postern/internal/config"
	"github.com/posternhq/postern/internal/database"
	"github.com/posternhq/postern/internal/handlers"
	middlewareCustom "github.com/posternhq/postern/internal/middleware"
	"github.com/posternhq/postern/internal/repositories"
	"github.com/posternhq/postern/internal/routes"
	"github.com/posternhq/postern/internal/services"
	pkglogger "github.com/posternhq/postern/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	domainRepo := repositories.NewDomainRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)

	// Cleanup manager keeps the attempt store bounded
	cleanupManager := background.NewCleanupManager(attemptRepo, logger, cfg.RateLimit.CleanupInterval)

	// Security services
	auditLogger := pkglogger.NewAuditLogger(logger)

	deviceCookies := auth.NewDeviceCookieManager(cfg.Session.DeviceCookieSecret)

	limiter := services.NewLimiter(attemptRepo, services.LimiterConfig{
		MaxAttemptsPerUser: cfg.RateLimit.MaxAttemptsPerUser,
		MaxAttemptsPerIP:   cfg.RateLimit.MaxAttemptsPerIP,
		Window:             cfg.RateLimit.Window,
	}, deviceCookies, logger)

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   100,
		RandomDelayMs: 50,
	})

	directory := services.NewDirectory(userRepo, domainRepo, timingDelay, logger)

	// Federation client (no-op when OIDC_ENABLED=false)
	oidcCtx, oidcCancel := context.WithTimeout(context.Background(), 10*time.Second)
	federation, err := auth.NewOIDCClient(oidcCtx, &cfg.OIDC, logger)
	oidcCancel()
	if err != nil {
		logger.Error("failed to initialize federation client", slog.Any("error", err))
		os.Exit(1)
	}

	sessionManager := auth.NewSessionManager(auth.SessionOptions{
		AuthKey:       cfg.Session.AuthKey,
		EncryptionKey: cfg.Session.EncryptionKey,
		Secure:        cfg.Session.SecureCookies,
	})

	// Welcome mailer for proxy-provisioned accounts
	var mailer services.WelcomeMailer
	if cfg.Email.Enabled {
		sesMailer, err := services.NewAWSSESEmailService(cfg.Email.AWSRegion, cfg.Email.FromAddress, cfg.Email.SiteName, logger)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
		mailer = sesMailer
	} else {
		mailer = services.NewNoopMailer(logger)
	}

	ssoHandler := handlers.NewSSOHandler(
		limiter,
		directory,
		federation,
		sessionManager,
		mailer,
		auditLogger,
		logger,
		handlers.SSOConfig{
			WebAdminURL:     cfg.Server.WebAdminURL,
			WebWebmailURL:   cfg.Server.WebWebmailURL,
			AdminEnabled:    cfg.Server.AdminEnabled,
			WebmailEnabled:  cfg.Server.WebmailEnabled,
			SecureCookies:   cfg.Session.SecureCookies,
			LoginPath:       "/sso/login",
			ProxyAllowList:  cfg.Proxy.AllowList,
			ProxyHeader:     cfg.Proxy.TrustHeader,
			ProxyAutoCreate: cfg.Proxy.AutoCreate,
		},
	)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, ssoHandler, sessionManager, routes.CSRFConfig{
		Key:    cfg.Session.CSRFKey,
		Secure: cfg.Session.SecureCookies,
	})

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.HealthCheck(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
