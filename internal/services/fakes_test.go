package services

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/BradenHooton/sessionguard/internal/metrics"
	"github.com/BradenHooton/sessionguard/internal/models"
	pkgauth "github.com/BradenHooton/sessionguard/pkg/auth"
	pkglogger "github.com/BradenHooton/sessionguard/pkg/logger"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memUsers keeps users in memory. UpdateLockoutState and UpdatePassword hold
// the store lock for the whole read-modify-write, like the row lock in SQL.
type memUsers struct {
	mu      sync.Mutex
	byID    map[string]*models.User
	history *memHistory
	failErr error
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[string]*models.User{}}
}

func (m *memUsers) put(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.byID[u.ID] = &cp
}

func (m *memUsers) get(id string) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}

func (m *memUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.failErr != nil {
		return nil, m.failErr
	}
	if u := m.get(id); u != nil {
		return u, nil
	}
	return nil, models.ErrNotFound
}

func (m *memUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.failErr != nil {
		return nil, m.failErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

// UpdatePassword appends the replaced hash to history before the write and
// leaves the user untouched when that fails, like the rolled back transaction.
func (m *memUsers) UpdatePassword(ctx context.Context, userID, newHash string, keepHistory int) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok {
		return models.ErrNotFound
	}
	if m.history != nil && u.PasswordHash != "" && keepHistory > 0 {
		entry := &models.PasswordHistoryEntry{UserID: userID, PasswordHash: u.PasswordHash, CreatedAt: time.Now()}
		if err := m.history.Append(ctx, entry, keepHistory); err != nil {
			return err
		}
	}
	u.PasswordHash = newHash
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	return nil
}

func (m *memUsers) UpdateLockoutState(ctx context.Context, userID string, fn func(*models.LockoutState) error) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok {
		return models.ErrNotFound
	}
	st := &models.LockoutState{UserID: u.ID, FailedLoginAttempts: u.FailedLoginAttempts, LockedUntil: u.LockedUntil}
	if err := fn(st); err != nil {
		return err
	}
	u.FailedLoginAttempts = st.FailedLoginAttempts
	u.LockedUntil = st.LockedUntil
	return nil
}

type memSessions struct {
	mu      sync.Mutex
	byHash  map[string]*models.Session
	failErr error
}

func newMemSessions() *memSessions {
	return &memSessions{byHash: map[string]*models.Session{}}
}

func (m *memSessions) Create(ctx context.Context, s *models.Session, replaceSameAgent bool) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if replaceSameAgent {
		for h, existing := range m.byHash {
			if existing.UserID == s.UserID && existing.UserAgent == s.UserAgent {
				delete(m.byHash, h)
			}
		}
	}
	if _, ok := m.byHash[s.TokenHash]; ok {
		return models.ErrDuplicateToken
	}
	s.ID = uuid.NewString()
	cp := *s
	cp.Token = ""
	m.byHash[s.TokenHash] = &cp
	return nil
}

func (m *memSessions) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	if m.failErr != nil {
		return nil, m.failErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byHash[tokenHash]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) UpdateExpiry(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byHash[tokenHash]
	if !ok {
		return models.ErrNotFound
	}
	s.ExpiresAt = expiresAt
	return nil
}

func (m *memSessions) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byHash, tokenHash)
	return nil
}

func (m *memSessions) DeleteByUser(ctx context.Context, userID, userAgent string) (int64, error) {
	if m.failErr != nil {
		return 0, m.failErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for h, s := range m.byHash {
		if s.UserID == userID && (userAgent == "" || s.UserAgent == userAgent) {
			delete(m.byHash, h)
			n++
		}
	}
	return n, nil
}

func (m *memSessions) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for h, s := range m.byHash {
		if s.ExpiresAt.Before(now) {
			delete(m.byHash, h)
			n++
		}
	}
	return n, nil
}

func (m *memSessions) countFor(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.byHash {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

type memAttempts struct {
	mu   sync.Mutex
	rows []models.LoginAttempt
}

func (m *memAttempts) Create(ctx context.Context, a *models.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.NewString()
	m.rows = append(m.rows, *a)
	return nil
}

func (m *memAttempts) CountFailuresSince(ctx context.Context, email string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.rows {
		if r.Email == email && !r.Successful && !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memAttempts) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	var n int64
	for _, r := range m.rows {
		if r.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.rows = kept
	return n, nil
}

func (m *memAttempts) all() []models.LoginAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.LoginAttempt(nil), m.rows...)
}

type memResetTokens struct {
	mu   sync.Mutex
	rows []*models.PasswordResetToken
}

func (m *memResetTokens) Issue(ctx context.Context, t *models.PasswordResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.UserID == t.UserID {
			r.Used = true
		}
	}
	t.ID = uuid.NewString()
	cp := *t
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memResetTokens) GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.TokenHash == tokenHash {
			cp := *r
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memResetTokens) MarkUsed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id {
			if r.Used {
				return models.ErrUsed
			}
			r.Used = true
			return nil
		}
	}
	return models.ErrNotFound
}

func (m *memResetTokens) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	var n int64
	for _, r := range m.rows {
		if r.ExpiresAt.Before(now) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.rows = kept
	return n, nil
}

func (m *memResetTokens) byHash(tokenHash string) *models.PasswordResetToken {
	t, _ := m.GetByTokenHash(context.Background(), tokenHash)
	return t
}

type memHistory struct {
	mu        sync.Mutex
	rows      map[string][]string // oldest first
	appendErr error
}

func newMemHistory() *memHistory {
	return &memHistory{rows: map[string][]string{}}
}

func (m *memHistory) ListRecent(ctx context.Context, userID string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.rows[userID]
	out := make([]string, 0, limit)
	for i := len(rows) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, rows[i])
	}
	return out, nil
}

func (m *memHistory) Append(ctx context.Context, e *models.PasswordHistoryEntry, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	rows := append(m.rows[e.UserID], e.PasswordHash)
	if len(rows) > keep {
		rows = rows[len(rows)-keep:]
	}
	m.rows[e.UserID] = rows
	return nil
}

func (m *memHistory) len(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows[userID])
}

// testEnv wires every service over the in-memory stores with a shared clock
type testEnv struct {
	clock    *fakeClock
	hasher   *pkgauth.Hasher
	metrics  *metrics.Metrics
	users    *memUsers
	sessions *memSessions
	attempts *memAttempts
	resets   *memResetTokens
	history  *memHistory

	lockout  *LoginAttemptService
	session  *SessionService
	policy   *PasswordPolicyService
	reset    *PasswordResetService
	authSvc  *AuthService
}

const (
	testSessionTTL  = 24 * time.Hour
	testLockoutTime = 30 * time.Minute
	testResetTTL    = time.Hour
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	audit := pkglogger.NewAuditLogger(logger)

	env := &testEnv{
		clock:    newFakeClock(),
		hasher:   pkgauth.NewHasher(bcrypt.MinCost),
		metrics:  metrics.NewMetrics(prometheus.NewRegistry()),
		users:    newMemUsers(),
		sessions: newMemSessions(),
		attempts: &memAttempts{},
		resets:   &memResetTokens{},
		history:  newMemHistory(),
	}
	env.users.history = env.history

	env.lockout = NewLoginAttemptService(env.attempts, env.users, LockoutConfig{
		Threshold:        5,
		Duration:         testLockoutTime,
		AttemptRetention: 90 * 24 * time.Hour,
	}, audit, env.metrics, logger)
	env.lockout.now = env.clock.Now

	env.session = NewSessionService(env.sessions, env.users, testSessionTTL, env.metrics, logger)
	env.session.now = env.clock.Now

	env.policy = NewPasswordPolicyService(env.history, env.users, env.hasher, 5, logger)
	env.policy.now = env.clock.Now

	env.reset = NewPasswordResetService(env.resets, env.users, env.policy, env.session, env.hasher, testResetTTL, audit, env.metrics, logger)
	env.reset.now = env.clock.Now

	env.authSvc = NewAuthService(env.users, env.lockout, env.session, env.policy, env.hasher, audit, env.metrics, logger)

	return env
}

func (e *testEnv) addUser(t *testing.T, email, password string) *models.User {
	t.Helper()
	hash, err := e.hasher.Hash(password)
	require.NoError(t, err)
	u := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Role:         "user",
		CreatedAt:    e.clock.Now(),
		UpdatedAt:    e.clock.Now(),
	}
	e.users.put(u)
	return u
}
