//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"

	"github.com/BradenHooton/sessionguard/internal/auth"
	"github.com/BradenHooton/sessionguard/internal/database"
	"github.com/BradenHooton/sessionguard/internal/handlers"
	"github.com/BradenHooton/sessionguard/internal/metrics"
	"github.com/BradenHooton/sessionguard/internal/models"
	"github.com/BradenHooton/sessionguard/internal/repositories"
	"github.com/BradenHooton/sessionguard/internal/routes"
	"github.com/BradenHooton/sessionguard/internal/services"
	pkgauth "github.com/BradenHooton/sessionguard/pkg/auth"
	pkglogger "github.com/BradenHooton/sessionguard/pkg/logger"
)

const (
	testThreshold = 5
	testUserAgent = "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0"
)

// capturingNotifier records reset requests instead of sending email
type capturingNotifier struct {
	mu   sync.Mutex
	sent []*models.ResetRequest
}

func (n *capturingNotifier) SendPasswordReset(ctx context.Context, req *models.ResetRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, req)
	return nil
}

func (n *capturingNotifier) last(t *testing.T) *models.ResetRequest {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent, "no reset link was sent")
	return n.sent[len(n.sent)-1]
}

// stack is a running API backed by a throwaway Postgres
type stack struct {
	pool     *pgxpool.Pool
	users    *repositories.UserRepository
	sessions *services.SessionService
	resets   *services.PasswordResetService
	hasher   *pkgauth.Hasher
	notifier *capturingNotifier
	server   *httptest.Server
}

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("sessionguard"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()
	dsn := startPostgres(t)

	require.NoError(t, database.MigrateUp(ctx, dsn))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	logger := slog.New(slog.DiscardHandler)
	m := metrics.NewMetrics(metrics.NewRegistry())
	audit := pkglogger.NewAuditLogger(logger)
	hasher := pkgauth.NewHasher(bcrypt.MinCost)

	users := repositories.NewUserRepository(pool)
	attempts := services.NewLoginAttemptService(
		repositories.NewLoginAttemptRepository(pool), users,
		services.LockoutConfig{Threshold: testThreshold, Duration: 30 * time.Minute, AttemptRetention: 24 * time.Hour},
		audit, m, logger)
	sessions := services.NewSessionService(repositories.NewSessionRepository(pool), users, 24*time.Hour, m, logger)
	policy := services.NewPasswordPolicyService(repositories.NewPasswordHistoryRepository(pool), users, hasher, 5, logger)
	resets := services.NewPasswordResetService(repositories.NewResetTokenRepository(pool), users, policy, sessions, hasher, time.Hour, audit, m, logger)
	authSvc := services.NewAuthService(users, attempts, sessions, policy, hasher, audit, m, logger)

	notifier := &capturingNotifier{}
	cookies := auth.CookieConfig{}
	router := routes.NewRouter(routes.Dependencies{
		Auth:           handlers.NewAuthHandler(authSvc, sessions, cookies, nil, nil, logger),
		Reset:          handlers.NewPasswordResetHandler(resets, notifier, nil, logger),
		Admin:          handlers.NewAdminHandler(authSvc, logger),
		Gateway:        auth.NewGateway(sessions, cookies, logger),
		Health:         handlers.Health(&database.DB{Pool: pool}, logger),
		LoginRateLimit: 1000,
		ResetRateLimit: 1000,
		Env:            "test",
		Logger:         logger,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &stack{
		pool:     pool,
		users:    users,
		sessions: sessions,
		resets:   resets,
		hasher:   hasher,
		notifier: notifier,
		server:   server,
	}
}

func (s *stack) seedUser(t *testing.T, email, password, role string) *models.User {
	t.Helper()
	hash, err := s.hasher.Hash(password)
	require.NoError(t, err)

	user := &models.User{Email: email, PasswordHash: hash, FirstName: "Ada", LastName: "Lovelace", Role: role}
	require.NoError(t, s.users.Create(context.Background(), user))
	return user
}

// browser is a cookie-carrying client with a fixed user agent
type browser struct {
	t         *testing.T
	base      string
	client    *http.Client
	userAgent string
}

func (s *stack) newBrowser(t *testing.T, userAgent string) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{t: t, base: s.server.URL, client: &http.Client{Jar: jar}, userAgent: userAgent}
}

func (b *browser) do(method, path string, body any) (*http.Response, []byte) {
	b.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(b.t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, b.base+path, reader)
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", b.userAgent)

	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return resp, raw
}

func (b *browser) login(email, password string) (*http.Response, []byte) {
	return b.do(http.MethodPost, "/auth/login", handlers.LoginRequest{Email: email, Password: password})
}

func (b *browser) status(method, path string) int {
	resp, _ := b.do(method, path, nil)
	return resp.StatusCode
}
