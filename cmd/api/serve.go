package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/BradenHooton/sessionguard/internal/auth"
	"github.com/BradenHooton/sessionguard/internal/background"
	"github.com/BradenHooton/sessionguard/internal/database"
	"github.com/BradenHooton/sessionguard/internal/handlers"
	"github.com/BradenHooton/sessionguard/internal/metrics"
	"github.com/BradenHooton/sessionguard/internal/models"
	"github.com/BradenHooton/sessionguard/internal/routes"
	"github.com/BradenHooton/sessionguard/internal/services"
	pkgauth "github.com/BradenHooton/sessionguard/pkg/auth"
	pkghttp "github.com/BradenHooton/sessionguard/pkg/http"
	pkglogger "github.com/BradenHooton/sessionguard/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API together with the periodic cleanup of expired
sessions, reset tokens and old login attempts.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), autoMigrate)
		},
	}

	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", true, "apply pending migrations before serving")
	return cmd
}

func runServe(parent context.Context, autoMigrate bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg, logger := a.cfg, a.logger
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	if autoMigrate {
		if err := database.MigrateUp(ctx, cfg.Database.DSN()); err != nil {
			return oops.Code("MIGRATION_FAILED").Wrap(err)
		}
	}

	bootstrapCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = ensureAdminUser(bootstrapCtx, a.users, a.hasher, os.Getenv("ADMIN_EMAIL"), os.Getenv("ADMIN_PASSWORD"), logger)
	cancel()
	if err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}

	ipConfig, err := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}

	notifier, err := newResetNotifier(ctx, a)
	if err != nil {
		return err
	}

	timing := pkgauth.NewTimingDelay(pkgauth.TimingConfig{
		Floor:  cfg.Auth.TimingFloor,
		Jitter: cfg.Auth.TimingJitter,
	})
	cookies := auth.CookieConfig{Secure: cfg.Server.IsProduction(), MaxAge: cfg.Auth.SessionTTL}

	router := routes.NewRouter(routes.Dependencies{
		Auth:           handlers.NewAuthHandler(a.auth, a.sessions, cookies, ipConfig, timing, logger),
		Reset:          handlers.NewPasswordResetHandler(a.resets, notifier, timing, logger),
		Admin:          handlers.NewAdminHandler(a.auth, logger),
		Gateway:        auth.NewGateway(a.sessions, cookies, logger),
		Health:         handlers.Health(a.db, logger),
		Metrics:        metrics.Handler(a.registry),
		IPConfig:       ipConfig,
		LoginRateLimit: cfg.Auth.LoginRateLimit,
		ResetRateLimit: cfg.Auth.ResetRateLimit,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Env:            cfg.Server.Env,
		Logger:         logger,
	})

	scheduler := background.NewScheduler(ctx, a.metrics, logger)
	for _, job := range a.cleanupJobs() {
		scheduler.Every(cfg.Auth.CleanupInterval, job.name, job.run)
	}
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return oops.Code("SERVER_FAILED").Wrap(err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.Code("SHUTDOWN_FAILED").Wrap(err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

func newResetNotifier(ctx context.Context, a *app) (services.ResetNotifier, error) {
	email := a.cfg.Email
	switch email.Provider {
	case "ses":
		n, err := services.NewSESResetNotifier(ctx, email.AWSRegion, email.FromAddress, email.ResetURLBase, a.logger)
		if err != nil {
			return nil, oops.Code("EMAIL_INIT_FAILED").With("region", email.AWSRegion).Wrap(err)
		}
		return n, nil
	default:
		return services.NewLogResetNotifier(email.ResetURLBase, a.cfg.Server.Env, a.logger), nil
	}
}

// adminStore is the user access needed to bootstrap the first administrator
type adminStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
}

// ensureAdminUser creates the first admin user if an email and password are configured
func ensureAdminUser(ctx context.Context, users adminStore, hasher services.PasswordHasher, email, password string, logger *slog.Logger) error {
	if email == "" || password == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	email = services.NormalizeEmail(email)
	_, err := users.GetByEmail(ctx, email)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return oops.Code("ADMIN_LOOKUP_FAILED").Wrap(err)
	}

	if reasons := pkgauth.ValidatePassword(password); len(reasons) > 0 {
		return oops.Code("ADMIN_PASSWORD_WEAK").Errorf("ADMIN_PASSWORD rejected: %s", strings.Join(reasons, "; "))
	}

	hash, err := hasher.Hash(password)
	if err != nil {
		return oops.Code("ADMIN_HASH_FAILED").Wrap(err)
	}

	admin := &models.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Admin",
		Role:         "admin",
	}
	if err := users.Create(ctx, admin); err != nil {
		// Another instance won the race
		if errors.Is(err, models.ErrConflict) {
			return nil
		}
		return oops.Code("ADMIN_CREATE_FAILED").Wrap(err)
	}

	logger.Info("admin user created", slog.String("email", pkglogger.SanitizedEmail(email)))
	return nil
}
