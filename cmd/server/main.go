package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/willemschots/dreambig/assets"
	"github.com/willemschots/dreambig/internal"
	"github.com/willemschots/dreambig/internal/auth"
	"github.com/willemschots/dreambig/internal/auth/accesstoken"
	authdb "github.com/willemschots/dreambig/internal/auth/db"
	"github.com/willemschots/dreambig/internal/csrf"
	"github.com/willemschots/dreambig/internal/db"
	"github.com/willemschots/dreambig/internal/db/migrate"
	"github.com/willemschots/dreambig/internal/email"
	"github.com/willemschots/dreambig/internal/email/postmark"
	"github.com/willemschots/dreambig/internal/email/view"
	"github.com/willemschots/dreambig/internal/krypto"
	"github.com/willemschots/dreambig/internal/ratelimit"
	"github.com/willemschots/dreambig/internal/web"
	"github.com/willemschots/dreambig/migrations"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Stderr))
}

func run(ctx context.Context, w io.Writer) int {
	logger := slog.New(slog.NewTextHandler(w, nil))

	cfg, err := configFromEnv()
	if err != nil {
		logger.Error("failed to get config from environment", "error", err)
		return 1
	}

	sqlDB, err := db.OpenSQLite(cfg.db.file, true)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return 1
	}

	defer func() {
		err := sqlDB.Close()
		if err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	if cfg.db.migrate {
		err = migrateDB(ctx, logger, sqlDB)
		if err != nil {
			logger.Error("failed to migrate database", "error", err)
			return 1
		}
	}

	encryptor, err := krypto.NewEncryptor(cfg.db.encryptionKeys)
	if err != nil {
		logger.Error("failed to create encryptor", "error", err)
		return 1
	}

	store := authdb.New(sqlDB, encryptor, cfg.db.blindIndexSalt)

	renderer := view.NewFSRenderer(assets.EmailFS)
	err = renderer.Preload(auth.TemplateWelcome, auth.TemplateVerification, auth.TemplateReset)
	if err != nil {
		logger.Error("failed to load email templates", "error", err)
		return 1
	}

	emailService := email.NewService(
		renderer,
		emailSender(cfg.email, logger),
		cfg.email.from,
		cfg.email.baseURL.String(),
	)

	notifier := auth.NewNotifier(emailService, func(err error) {
		var apiErr *postmark.APIError
		if errors.As(err, &apiErr) && apiErr.Undeliverable() {
			logger.Warn("email recipient is undeliverable", "error", err)
			return
		}
		logger.Error("background task failed", "error", err)
	}, cfg.auth.workerTimeout)

	verifications := auth.NewVerificationManager(store, cfg.security.secretKey, notifier, cfg.auth.verification)
	resets := auth.NewResetManager(store, cfg.security.secretKey, notifier, cfg.auth.reset)

	authService, err := auth.NewService(store, notifier, verifications)
	if err != nil {
		logger.Error("failed to create auth service", "error", err)
		return 1
	}

	// Wait for the background tasks before the database is closed.
	defer authService.Wait()

	limiter, backend, closeRedis, err := newLimiter(ctx, cfg.rateLimit, logger)
	if err != nil {
		logger.Error("failed to create rate limiter", "error", err)
		return 1
	}
	defer closeRedis()

	csrfCfg := csrf.DefaultConfig()
	csrfCfg.Expiry = cfg.security.csrfExpiry
	csrfCfg.Secure = cfg.http.server.SecureCookie

	serverCfg := cfg.http.server
	serverCfg.SessionMaxAge = cfg.security.csrfExpiry

	handler := web.NewServer(&web.ServerDeps{
		Logger:         logger,
		AuthService:    authService,
		Resets:         resets,
		Verifications:  verifications,
		AccessTokens:   accesstoken.NewIssuer(cfg.security.jwtKey, cfg.security.accessExpiry),
		CSRF:           csrf.NewManager(cfg.security.secretKey, csrfCfg),
		Limiter:        limiter,
		LimiterBackend: backend,
	}, serverCfg)

	srv := &http.Server{
		Addr:         cfg.http.addr,
		ReadTimeout:  cfg.http.readTimeout,
		WriteTimeout: cfg.http.writeTimeout,
		IdleTimeout:  cfg.http.idleTimeout,
		Handler:      handler,
	}

	// We need to run these tasks concurrently:
	// - Listen and serving of the HTTP server.
	// - Waiting for a signal to stop the server.
	// - Periodically removing expired reset and verification metadata.
	// - Sweeping idle keys from the memory rate limiter, if it's used.

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server",
			"addr", cfg.http.addr,
			"version", internal.Version(),
			"buildRevision", internal.BuildRevision,
			"buildRevisionTime", internal.BuildRevisionTime,
			"buildLocalModified", internal.BuildLocalModified,
		)
		// ListenAndServe always returns a non-nil error,
		// g will cancel gCtx when an error is returned, so
		// this will also stop the other goroutines.
		return srv.ListenAndServe()
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("stopping http server")

		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.http.shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutCtx)
	})

	g.Go(func() error {
		return cleanupExpired(gCtx, logger, cfg.auth.cleanupInterval, resets, verifications)
	})

	if mem, ok := limiter.(*ratelimit.Memory); ok {
		g.Go(func() error {
			return mem.RunJanitor(gCtx, cfg.http.server.DefaultWindow)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server stopped with error", "error", err)
		return 1
	}

	logger.Info("http server stopped successfully")

	return 0
}

func migrateDB(ctx context.Context, logger *slog.Logger, sqlDB *sql.DB) error {
	logger.Info("attempting to migrate database")

	meta := migrate.Metadata{
		AppVersion: internal.Version(),
		Timestamp:  time.Now(),
	}

	ran, err := migrate.RunFS(ctx, sqlDB, migrations.FS, meta)
	if err != nil {
		return err
	}

	for _, m := range ran {
		logger.Info("migration ran", "sequence", m.Sequence, "filename", m.Filename)
	}

	return nil
}

func emailSender(cfg emailConfig, logger *slog.Logger) email.Sender {
	if cfg.driver == emailDriverPostmark {
		client := &http.Client{Timeout: 10 * time.Second}
		return postmark.NewSender(client, cfg.postmark)
	}

	return email.NewLogSender(logger)
}

// newLimiter selects the rate limiter backend. The returned func closes
// the redis client, if one was created.
func newLimiter(ctx context.Context, cfg rateLimitConfig, logger *slog.Logger) (ratelimit.Limiter, ratelimit.Backend, func(), error) {
	if cfg.strategy == ratelimit.StrategyMemory {
		l, backend, err := ratelimit.Probe(ctx, cfg.strategy, nil, cfg.probeTimeout, logger)
		return l, backend, func() {}, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.redisAddr,
		Password: string(cfg.redisPassword.SecretValue()),
		DB:       cfg.redisDB,
	})

	closeFunc := func() {
		err := client.Close()
		if err != nil {
			logger.Error("failed to close redis client", "error", err)
		}
	}

	l, backend, err := ratelimit.Probe(ctx, cfg.strategy, client, cfg.probeTimeout, logger)
	if err != nil {
		closeFunc()
		return nil, "", nil, err
	}

	if backend != ratelimit.BackendRedis {
		closeFunc()
		closeFunc = func() {}
	}

	return l, backend, closeFunc, nil
}

func cleanupExpired(ctx context.Context, logger *slog.Logger, every time.Duration, resets *auth.ResetManager, verifications *auth.VerificationManager) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			nResets, err := resets.CleanupExpired(ctx)
			if err != nil {
				logger.Error("failed to clean up expired password resets", "error", err)
			}

			nVerifications, err := verifications.CleanupExpired(ctx)
			if err != nil {
				logger.Error("failed to clean up expired email verifications", "error", err)
			}

			if nResets > 0 || nVerifications > 0 {
				logger.Info("cleaned up expired tokens", "resets", nResets, "verifications", nVerifications)
			}
		}
	}
}
