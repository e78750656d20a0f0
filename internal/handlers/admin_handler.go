package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/BradenHooton/sessionguard/internal/auth"
	"github.com/BradenHooton/sessionguard/internal/models"
	pkghttp "github.com/BradenHooton/sessionguard/pkg/http"
)

// AccountUnlocker lifts lockouts on behalf of an administrator
type AccountUnlocker interface {
	Unlock(ctx context.Context, userID string) error
}

// AdminHandler handles administrator account actions.
type AdminHandler struct {
	service AccountUnlocker
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service AccountUnlocker, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: service, logger: logger}
}

// UnlockUser handles POST /admin/users/{id}/unlock
// @Summary Unlock a user account
// @Param id path string true "User ID"
// @Success 204
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Router /admin/users/{id}/unlock [post]
func (h *AdminHandler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(userID); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid user ID")
		return
	}

	if err := h.service.Unlock(r.Context(), userID); err != nil {
		if models.KindOf(err) == models.KindNotFound {
			pkghttp.WriteNotFound(w, "User not found")
			return
		}
		h.logger.Error("failed to unlock account",
			slog.String("user_id", userID),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	var actor string
	if identity := auth.IdentityFromContext(r.Context()); identity != nil {
		actor = identity.UserID
	}
	h.logger.Info("account unlocked by administrator",
		slog.String("user_id", userID),
		slog.String("admin_id", actor))

	w.WriteHeader(http.StatusNoContent)
}
