package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/BradenHooton/sessionguard/internal/background"
	"github.com/BradenHooton/sessionguard/internal/config"
	"github.com/BradenHooton/sessionguard/internal/database"
	"github.com/BradenHooton/sessionguard/internal/metrics"
	"github.com/BradenHooton/sessionguard/internal/repositories"
	"github.com/BradenHooton/sessionguard/internal/services"
	pkgauth "github.com/BradenHooton/sessionguard/pkg/auth"
	pkglogger "github.com/BradenHooton/sessionguard/pkg/logger"
)

// app holds the components shared by every subcommand that touches the database
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *database.DB
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	audit    *pkglogger.AuditLogger
	hasher   *pkgauth.Hasher

	users    *repositories.UserRepository
	attempts *services.LoginAttemptService
	sessions *services.SessionService
	policy   *services.PasswordPolicyService
	resets   *services.PasswordResetService
	auth     *services.AuthService
}

// newLogger returns a JSON logger at the named level; unknown names mean info
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level)))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// newApp loads configuration, connects to Postgres and wires the services
func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("host", cfg.Database.Host).Wrap(err)
	}

	registry := metrics.NewRegistry()
	m := metrics.NewMetrics(registry)
	audit := pkglogger.NewAuditLogger(logger)
	hasher := pkgauth.NewHasher(cfg.Auth.BcryptCost)

	users := repositories.NewUserRepository(db.Pool)
	sessionRepo := repositories.NewSessionRepository(db.Pool)
	attemptRepo := repositories.NewLoginAttemptRepository(db.Pool)
	resetRepo := repositories.NewResetTokenRepository(db.Pool)
	historyRepo := repositories.NewPasswordHistoryRepository(db.Pool)

	attempts := services.NewLoginAttemptService(attemptRepo, users, services.LockoutConfig{
		Threshold:        cfg.Auth.LockoutThreshold,
		Duration:         cfg.Auth.LockoutDuration,
		AttemptRetention: cfg.Auth.LoginAttemptRetention,
	}, audit, m, logger)
	sessions := services.NewSessionService(sessionRepo, users, cfg.Auth.SessionTTL, m, logger)
	policy := services.NewPasswordPolicyService(historyRepo, users, hasher, cfg.Auth.PasswordHistorySize, logger)
	resets := services.NewPasswordResetService(resetRepo, users, policy, sessions, hasher, cfg.Auth.ResetTokenTTL, audit, m, logger)
	authSvc := services.NewAuthService(users, attempts, sessions, policy, hasher, audit, m, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		registry: registry,
		metrics:  m,
		audit:    audit,
		hasher:   hasher,
		users:    users,
		attempts: attempts,
		sessions: sessions,
		policy:   policy,
		resets:   resets,
		auth:     authSvc,
	}, nil
}

func (a *app) Close() {
	a.db.Close()
}

type cleanupJob struct {
	name string
	run  background.Job
}

// cleanupJobs lists the retention sweeps shared by serve and cleanup
func (a *app) cleanupJobs() []cleanupJob {
	return []cleanupJob{
		{name: "sessions", run: a.sessions.CleanupExpired},
		{name: "reset_tokens", run: a.resets.CleanupExpired},
		{name: "login_attempts", run: a.attempts.CleanupOldAttempts},
	}
}
