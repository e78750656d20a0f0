package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/sessionguard/internal/auth"
	"github.com/BradenHooton/sessionguard/internal/models"
	"github.com/BradenHooton/sessionguard/internal/services"
)

var discardLogger = slog.New(slog.DiscardHandler)

// MockAuthService implements handlers.AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc          func(ctx context.Context, in services.LoginInput) (*models.Session, error)
	LogoutFunc         func(ctx context.Context, session *models.Session) error
	LogoutAllFunc      func(ctx context.Context, userID string) (int64, error)
	ChangePasswordFunc func(ctx context.Context, in services.ChangePasswordInput) (*models.Session, error)
}

func (m *MockAuthService) Login(ctx context.Context, in services.LoginInput) (*models.Session, error) {
	return m.LoginFunc(ctx, in)
}

func (m *MockAuthService) Logout(ctx context.Context, session *models.Session) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, session)
}

func (m *MockAuthService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	if m.LogoutAllFunc == nil {
		return 0, nil
	}
	return m.LogoutAllFunc(ctx, userID)
}

func (m *MockAuthService) ChangePassword(ctx context.Context, in services.ChangePasswordInput) (*models.Session, error) {
	return m.ChangePasswordFunc(ctx, in)
}

// MockSessionRefresher implements handlers.SessionRefresher for testing
type MockSessionRefresher struct {
	RefreshSessionFunc func(ctx context.Context, token string) (*models.Session, error)
}

func (m *MockSessionRefresher) RefreshSession(ctx context.Context, token string) (*models.Session, error) {
	return m.RefreshSessionFunc(ctx, token)
}

// MockResetService implements handlers.PasswordResetServiceInterface for testing
type MockResetService struct {
	RequestResetFunc func(ctx context.Context, email string) (*models.ResetRequest, error)
	VerifyTokenFunc  func(ctx context.Context, token string) (*models.ResetIdentity, error)
	ConsumeResetFunc func(ctx context.Context, token, newPassword string) error
}

func (m *MockResetService) RequestReset(ctx context.Context, email string) (*models.ResetRequest, error) {
	return m.RequestResetFunc(ctx, email)
}

func (m *MockResetService) VerifyToken(ctx context.Context, token string) (*models.ResetIdentity, error) {
	return m.VerifyTokenFunc(ctx, token)
}

func (m *MockResetService) ConsumeReset(ctx context.Context, token, newPassword string) error {
	return m.ConsumeResetFunc(ctx, token, newPassword)
}

// recordingNotifier captures reset requests handed to the delivery layer
type recordingNotifier struct {
	sent []*models.ResetRequest
	err  error
}

func (n *recordingNotifier) SendPasswordReset(ctx context.Context, req *models.ResetRequest) error {
	n.sent = append(n.sent, req)
	return n.err
}

// MockUnlocker implements handlers.AccountUnlocker for testing
type MockUnlocker struct {
	UnlockFunc func(ctx context.Context, userID string) error
}

func (m *MockUnlocker) Unlock(ctx context.Context, userID string) error {
	return m.UnlockFunc(ctx, userID)
}

type stubHealth struct{ err error }

func (s stubHealth) HealthCheck(ctx context.Context) error { return s.err }

// newTestRequest creates an HTTP request with a JSON body
func newTestRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0")
	return req
}

func testSession(token string) *models.Session {
	return &models.Session{
		ID:        "sess-1",
		UserID:    "0f8fad5b-d9cb-469f-a165-70867728950e",
		Token:     token,
		ExpiresAt: time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC),
		User: &models.PublicUser{
			ID:        "0f8fad5b-d9cb-469f-a165-70867728950e",
			Email:     "ada@example.com",
			FirstName: "Ada",
			LastName:  "Lovelace",
			Role:      "user",
		},
	}
}

// withIdentity attaches the identity the gateway would resolve for session
func withIdentity(req *http.Request, session *models.Session) *http.Request {
	identity := &auth.Identity{
		UserID:    session.UserID,
		Email:     session.User.Email,
		FirstName: session.User.FirstName,
		LastName:  session.User.LastName,
		Role:      session.User.Role,
		Session:   session,
	}
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

// decodeJSON checks status and content type, then decodes the body into target
func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, target any) {
	t.Helper()
	assert.Equal(t, wantStatus, w.Code, "response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.NoError(t, json.NewDecoder(w.Body).Decode(target))
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie set", auth.SessionCookieName)
	return nil
}
