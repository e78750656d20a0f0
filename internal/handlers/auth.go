package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/sessionguard/internal/auth"
	"github.com/BradenHooton/sessionguard/internal/models"
	"github.com/BradenHooton/sessionguard/internal/services"
	pkgauth "github.com/BradenHooton/sessionguard/pkg/auth"
	pkghttp "github.com/BradenHooton/sessionguard/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, in services.LoginInput) (*models.Session, error)
	Logout(ctx context.Context, session *models.Session) error
	LogoutAll(ctx context.Context, userID string) (int64, error)
	ChangePassword(ctx context.Context, in services.ChangePasswordInput) (*models.Session, error)
}

// SessionRefresher extends a live session
type SessionRefresher interface {
	RefreshSession(ctx context.Context, token string) (*models.Session, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	sessions SessionRefresher
	cookies  auth.CookieConfig
	ipConfig *pkghttp.IPConfig
	timing   *pkgauth.TimingDelay
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(
	service AuthServiceInterface,
	sessions SessionRefresher,
	cookies auth.CookieConfig,
	ipConfig *pkghttp.IPConfig,
	timing *pkgauth.TimingDelay,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		service:  service,
		sessions: sessions,
		cookies:  cookies,
		ipConfig: ipConfig,
		timing:   timing,
		logger:   logger,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

// ChangePasswordRequest represents the request body for an authenticated password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=1024"`
	NewPassword     string `json:"new_password" validate:"required,max=1024"`
}

// SessionResponse is returned when a session cookie is issued
type SessionResponse struct {
	User      *models.PublicUser `json:"user"`
	ExpiresAt time.Time          `json:"expires_at"`
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, session *models.Session) {
	auth.SetSessionCookie(w, session.Token, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, SessionResponse{User: session.User, ExpiresAt: session.ExpiresAt})
}

// Login handles user login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} SessionResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req LoginRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	session, err := h.service.Login(r.Context(), services.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: pkghttp.UserAgent(r),
	})
	if err != nil {
		// Pad every failure so known and unknown accounts look alike
		h.timing.WaitFrom(r.Context(), start)
		h.writeLoginError(w, err)
		return
	}

	h.writeSession(w, session)
}

func (h *AuthHandler) writeLoginError(w http.ResponseWriter, err error) {
	var (
		credErr *models.CredentialsError
		lockErr *models.LockoutError
	)
	switch {
	case errors.As(err, &lockErr):
		until := lockErr.LockedUntil.UTC()
		pkghttp.WriteErrorResponse(w, http.StatusTooManyRequests, pkghttp.ErrorResponse{
			Error:       models.KindLocked.String(),
			Message:     "Too many failed login attempts. Please try again later.",
			LockedUntil: &until,
		})
	case errors.As(err, &credErr):
		pkghttp.WriteErrorResponse(w, http.StatusUnauthorized, pkghttp.ErrorResponse{
			Error:             models.KindInvalidCredentials.String(),
			Message:           "Invalid email or password",
			AttemptsRemaining: credErr.AttemptsRemaining,
		})
	default:
		h.logger.Error("login failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// Logout invalidates the caller's session and clears the cookie. It succeeds
// whether or not a session was attached.
// @Summary User logout
// @Success 204
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if identity := auth.IdentityFromContext(r.Context()); identity != nil {
		if err := h.service.Logout(r.Context(), identity.Session); err != nil {
			h.logger.Error("failed to invalidate session on logout",
				slog.String("user_id", identity.UserID),
				slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}
	}

	auth.ClearSessionCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll invalidates every session of the caller
// @Summary Logout from all devices
// @Success 204
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/logout-all [post]
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if _, err := h.service.LogoutAll(r.Context(), identity.UserID); err != nil {
		h.logger.Error("failed to invalidate sessions",
			slog.String("user_id", identity.UserID),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	auth.ClearSessionCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// Refresh extends the caller's session and re-issues the cookie
// @Summary Refresh session
// @Produce json
// @Success 200 {object} SessionResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	session, err := h.sessions.RefreshSession(r.Context(), identity.Session.Token)
	if err != nil {
		if models.KindOf(err) == models.KindSessionNotFound {
			auth.ClearSessionCookie(w, h.cookies)
			pkghttp.WriteUnauthorized(w, "Session expired")
			return
		}
		h.logger.Error("failed to refresh session", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	h.writeSession(w, session)
}

// Me returns the authenticated identity
// @Summary Current identity
// @Produce json
// @Success 200 {object} auth.Identity
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, identity)
}

// ChangePassword replaces the caller's password. All sessions are ended and a
// fresh one is issued for this client.
// @Summary Change password
// @Accept json
// @Param request body ChangePasswordRequest true "Change password request"
// @Produce json
// @Success 200 {object} SessionResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/change-password [post]
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ChangePasswordRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	session, err := h.service.ChangePassword(r.Context(), services.ChangePasswordInput{
		UserID:          identity.UserID,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		IPAddress:       pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:       pkghttp.UserAgent(r),
	})
	if err != nil {
		var policyErr *models.PasswordPolicyError
		switch {
		case errors.As(err, &policyErr):
			pkghttp.WriteErrorResponse(w, http.StatusBadRequest, pkghttp.ErrorResponse{
				Error:   models.KindOf(err).String(),
				Message: "New password does not meet the password policy",
				Errors:  policyErr.Reasons,
			})
		case models.KindOf(err) == models.KindInvalidCredentials:
			pkghttp.WriteError(w, http.StatusUnauthorized, models.KindInvalidCredentials.String(), "Current password is incorrect")
		default:
			h.logger.Error("failed to change password",
				slog.String("user_id", identity.UserID),
				slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	h.writeSession(w, session)
}
