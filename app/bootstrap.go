package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"newsdesk/internal/analytics"
	"newsdesk/internal/audit"
	"newsdesk/internal/auth"
	"newsdesk/internal/db"
	"newsdesk/internal/maintenance"
	"newsdesk/internal/media"
	"newsdesk/internal/observability"
	"newsdesk/internal/post"
	"newsdesk/internal/throttle"
)

const startupTimeout = 30 * time.Second

type Options struct {
	LoadDotEnv bool
	// RunMigrations overrides RUN_MIGRATIONS_ON_STARTUP when set.
	RunMigrations *bool
}

type Runtime struct {
	Config    Config
	Handler   http.Handler
	Publisher *post.Publisher
	Logger    *observability.Logger
	Close     func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if options.RunMigrations != nil {
		cfg.RunMigrations = *options.RunMigrations
	}

	logger, err := observability.NewLogger(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if err := observability.InitSentry(observability.SentryOptions{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Env,
		Release:     cfg.SentryRelease,
	}); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	database.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	database.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	database.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.DB.ConnMaxIdleTime)

	var redisClose func() error
	closeAll := func() error {
		if redisClose != nil {
			_ = redisClose()
		}
		observability.FlushSentry()
		_ = logger.Sync()
		return database.Close()
	}
	fail := func(err error) (*Runtime, error) {
		_ = closeAll()
		return nil, err
	}

	if cfg.RunMigrations {
		applied, err := db.RunMigrations(ctx, database)
		if err != nil {
			return fail(fmt.Errorf("run migrations: %w", err))
		}
		if len(applied) > 0 {
			logger.Info("migrations_applied", map[string]any{"versions": applied})
		}
	}

	metrics := observability.NewMetrics()

	authRepo := auth.NewRepository(database)
	auditRepo := audit.NewRepository(database)
	authService, err := newAuthService(cfg, authRepo, auditRepo, logger, metrics)
	if err != nil {
		return fail(err)
	}

	created, err := authService.BootstrapAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		return fail(fmt.Errorf("bootstrap admin: %w", err))
	}
	if created {
		logger.Info("bootstrap_admin_created", map[string]any{"email": observability.MaskEmail(cfg.AdminEmail)})
	}

	authHandler := auth.NewHandler(authService, auth.CookieConfigFor(cfg.Production(), cfg.RefreshCookiePath, cfg.RefreshCookieSameSite))
	authHandler.ExposeResetTokens(cfg.ResetTokenInResponse)
	loginLimiter := auth.NewLoginRateLimiter(authRepo, cfg.LoginRateLimitMax, cfg.LoginRateLimitWindow, logger, metrics)

	redisClient, err := newRedisClient(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	var views throttle.Limiter = throttle.NewMemory(cfg.ViewThrottle, cfg.ViewThrottleMaxEntries)
	var requestWindow throttle.Window = throttle.NewMemoryWindow(0)
	if redisClient != nil {
		redisClose = redisClient.Close
		views = throttle.NewRedis(redisClient, cfg.ViewThrottle, "newsdesk:view:")
		requestWindow = throttle.NewRedisWindow(redisClient, "newsdesk:api:")
	}
	// Refresh is exempt from the general budget.
	apiLimiter := throttle.NewRateLimiter(requestWindow, cfg.APIRateLimitMax, cfg.APIRateLimitWindow, logger).Skip("/auth/refresh")

	analyticsRepo := analytics.NewRepository(database)
	postRepo := post.NewRepository(database)
	postHandler := post.NewHandler(postRepo, analyticsRepo, views, auditRepo, logger, metrics)
	publisher := post.NewPublisher(postRepo, cfg.PublishInterval, logger)

	var uploader media.Uploader
	if cfg.CloudinaryURL != "" {
		cloudinaryClient, err := media.NewCloudinary(cfg.CloudinaryURL, cfg.CloudinaryFolder)
		if err != nil {
			return fail(fmt.Errorf("init cloudinary: %w", err))
		}
		uploader = cloudinaryClient
	} else {
		logger.Warn("media_uploader_disabled", map[string]any{"reason": "CLOUDINARY_URL is not set"})
	}
	mediaHandler := media.NewHandler(uploader, media.NewRepository(database), auditRepo, logger)

	summaryHandler := analytics.NewHandler(analyticsRepo)
	notificationHandler := audit.NewHandler(auditRepo)
	maintenanceHandler := maintenance.NewHandler(authRepo, publisher, logger, cfg.CronSecret, maintenance.CleanupPolicy{
		RevokedRetention: cfg.SessionRetention,
		SessionMaxAge:    cfg.RefreshTokenTTL,
		IPLimitRetention: cfg.IPLimitRetention,
		BatchSize:        cfg.CleanupBatchSize,
	})

	admin := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(authService, h)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /auth/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("POST /auth/refresh", authHandler.Refresh)
	mux.HandleFunc("POST /auth/logout", authHandler.Logout)
	mux.HandleFunc("POST /auth/request-password-reset", authHandler.RequestPasswordReset)
	mux.HandleFunc("POST /auth/reset-password", authHandler.ResetPassword)
	mux.Handle("GET /auth/me", admin(authHandler.Me))

	mux.Handle("GET /admin/posts", admin(postHandler.ListAdmin))
	mux.Handle("POST /admin/posts", admin(postHandler.Create))
	mux.Handle("PUT /admin/posts/{id}", admin(postHandler.Update))
	mux.Handle("DELETE /admin/posts/{id}", admin(postHandler.Delete))
	mux.Handle("POST /admin/uploads", admin(mediaHandler.Upload))
	mux.Handle("GET /admin/media", admin(mediaHandler.List))
	mux.Handle("GET /admin/summary", admin(summaryHandler.Summary))
	mux.Handle("GET /admin/notifications", admin(notificationHandler.Notifications))

	mux.HandleFunc("GET /posts", postHandler.ListPublic)
	mux.HandleFunc("GET /posts/{slug}", postHandler.GetBySlug)

	mux.HandleFunc("GET /internal/maintenance/cleanup", maintenanceHandler.Cleanup)
	mux.HandleFunc("POST /internal/maintenance/cleanup", maintenanceHandler.Cleanup)
	mux.HandleFunc("GET /internal/maintenance/publish", maintenanceHandler.Publish)
	mux.HandleFunc("POST /internal/maintenance/publish", maintenanceHandler.Publish)

	mux.HandleFunc("GET /health", healthHandler(database))
	mux.Handle("GET /metrics", metrics.Handler())

	var handler http.Handler = apiLimiter.Middleware(mux)
	handler = corsMiddleware(cfg.CORSAllowedOrigins)(handler)
	handler = securityHeaders(cfg.Production(), handler)
	handler = observability.RequestLoggingMiddleware(logger, metrics, handler)
	handler = observability.RecoverMiddleware(logger, handler)

	return &Runtime{
		Config:    cfg,
		Handler:   handler,
		Publisher: publisher,
		Logger:    logger,
		Close:     closeAll,
	}, nil
}

func newAuthService(cfg Config, store *auth.Repository, recorder audit.Recorder, logger *observability.Logger, metrics *observability.Metrics) (*auth.Service, error) {
	previous, err := auth.ParseSigningKeys(cfg.JWTPreviousKeys)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenConfig{
		Active:     auth.SigningKey{ID: cfg.JWTKeyID, Secret: []byte(cfg.JWTSecret)},
		Previous:   previous,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})
	if err != nil {
		return nil, err
	}
	hasher, err := auth.NewPasswordHasher(cfg.PasswordHashCost)
	if err != nil {
		return nil, err
	}

	service := auth.NewService(store, hasher, tokens)
	service.WithSecurityConfig(auth.SecurityConfig{
		Lockout:        auth.LockoutPolicy{Threshold: cfg.LoginMaxAttempts, Duration: cfg.LoginLockDuration},
		ResetTokenTTL:  cfg.ResetTokenTTL,
		StorageTimeout: cfg.StorageTimeout,
	})
	service.WithObservability(logger, metrics)
	service.WithAuditRecorder(recorder)
	service.WithResetNotifier(auth.NewLogResetNotifier(logger))
	return service, nil
}

// newRedisClient returns nil without REDIS_URL. Throttles then stay per process.
func newRedisClient(ctx context.Context, cfg Config, logger *observability.Logger) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}

	client, err := throttle.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis_unreachable", map[string]any{"error": err.Error()})
	}
	return client, nil
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
