package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/sessionguard/internal/models"
	"github.com/BradenHooton/sessionguard/internal/services"
	pkgauth "github.com/BradenHooton/sessionguard/pkg/auth"
	pkghttp "github.com/BradenHooton/sessionguard/pkg/http"
	pkglogger "github.com/BradenHooton/sessionguard/pkg/logger"
)

// PasswordResetServiceInterface defines the reset token lifecycle
type PasswordResetServiceInterface interface {
	RequestReset(ctx context.Context, email string) (*models.ResetRequest, error)
	VerifyToken(ctx context.Context, token string) (*models.ResetIdentity, error)
	ConsumeReset(ctx context.Context, token, newPassword string) error
}

// resetRequestedMessage is returned for every reset request, known email or not
const resetRequestedMessage = "If an account exists for that email, a password reset link has been sent."

// PasswordResetHandler handles the forgot-password flow
type PasswordResetHandler struct {
	service  PasswordResetServiceInterface
	notifier services.ResetNotifier
	timing   *pkgauth.TimingDelay
	logger   *slog.Logger
}

// NewPasswordResetHandler creates a new PasswordResetHandler
func NewPasswordResetHandler(
	service PasswordResetServiceInterface,
	notifier services.ResetNotifier,
	timing *pkgauth.TimingDelay,
	logger *slog.Logger,
) *PasswordResetHandler {
	return &PasswordResetHandler{
		service:  service,
		notifier: notifier,
		timing:   timing,
		logger:   logger,
	}
}

// ResetRequestBody is the body of POST /password-reset/request
type ResetRequestBody struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// ResetConfirmBody is the body of POST /password-reset/confirm
type ResetConfirmBody struct {
	Token       string `json:"token" validate:"required,hexadecimal,max=128"`
	NewPassword string `json:"new_password" validate:"required,max=1024"`
}

// MessageResponse carries a human-readable message
type MessageResponse struct {
	Message string `json:"message"`
}

// VerifyResetResponse reports whether a reset token can still be used
type VerifyResetResponse struct {
	Valid     bool   `json:"valid"`
	FirstName string `json:"first_name,omitempty"`
}

// ConfirmResetResponse reports the outcome of a reset
type ConfirmResetResponse struct {
	Success bool     `json:"success"`
	Errors  []string `json:"errors,omitempty"`
}

// Request starts a password reset
// @Summary Request password reset
// @Accept json
// @Param request body ResetRequestBody true "Reset request"
// @Produce json
// @Success 202 {object} MessageResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /password-reset/request [post]
func (h *PasswordResetHandler) Request(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req ResetRequestBody
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	reset, err := h.service.RequestReset(r.Context(), req.Email)
	switch {
	case err != nil:
		h.logger.Error("failed to issue reset token",
			slog.String("email", pkglogger.SanitizedEmail(req.Email)),
			slog.Any("error", err))
	case reset != nil:
		if err := h.notifier.SendPasswordReset(r.Context(), reset); err != nil {
			h.logger.Error("failed to deliver reset link",
				slog.String("user_id", reset.UserID),
				slog.Any("error", err))
		}
	}

	// Same body and similar latency whether or not the account exists
	h.timing.WaitFrom(r.Context(), start)
	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: resetRequestedMessage})
}

// Verify checks a reset token without consuming it
// @Summary Verify reset token
// @Param token query string true "Reset token"
// @Produce json
// @Success 200 {object} VerifyResetResponse
// @Router /password-reset/verify [get]
func (h *PasswordResetHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		pkghttp.WriteJSON(w, http.StatusOK, VerifyResetResponse{Valid: false})
		return
	}

	identity, err := h.service.VerifyToken(r.Context(), token)
	if err != nil {
		if models.KindOf(err) == models.KindTokenInvalid {
			pkghttp.WriteJSON(w, http.StatusOK, VerifyResetResponse{Valid: false})
			return
		}
		h.logger.Error("failed to verify reset token", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, VerifyResetResponse{Valid: true, FirstName: identity.FirstName})
}

// Confirm consumes a reset token and sets the new password
// @Summary Confirm password reset
// @Accept json
// @Param request body ResetConfirmBody true "Reset confirmation"
// @Produce json
// @Success 200 {object} ConfirmResetResponse
// @Failure 400 {object} ConfirmResetResponse
// @Router /password-reset/confirm [post]
func (h *PasswordResetHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ResetConfirmBody
	if err := decodeAndValidate(r, &req); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			pkghttp.WriteJSON(w, http.StatusBadRequest, ConfirmResetResponse{Errors: ve.Problems})
			return
		}
		pkghttp.WriteJSON(w, http.StatusBadRequest, ConfirmResetResponse{Errors: []string{err.Error()}})
		return
	}

	err := h.service.ConsumeReset(r.Context(), req.Token, req.NewPassword)
	if err == nil {
		pkghttp.WriteJSON(w, http.StatusOK, ConfirmResetResponse{Success: true})
		return
	}

	var policyErr *models.PasswordPolicyError
	switch {
	case errors.As(err, &policyErr):
		pkghttp.WriteJSON(w, http.StatusBadRequest, ConfirmResetResponse{Errors: policyErr.Reasons})
	case models.KindOf(err) == models.KindTokenInvalid:
		pkghttp.WriteJSON(w, http.StatusBadRequest, ConfirmResetResponse{Errors: []string{models.ErrTokenInvalid.Error()}})
	default:
		h.logger.Error("failed to reset password", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
