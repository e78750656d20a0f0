package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/sessionguard/internal/handlers"
	"github.com/BradenHooton/sessionguard/internal/models"
)

const validResetToken = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func TestResetRequest_SameResponseForAnyEmail(t *testing.T) {
	known := &models.ResetRequest{Token: validResetToken, UserID: "u1", Email: "ada@example.com", FirstName: "Ada"}

	tests := []struct {
		name     string
		email    string
		result   *models.ResetRequest
		err      error
		wantSent int
	}{
		{name: "known email", email: "ada@example.com", result: known, wantSent: 1},
		{name: "unknown email", email: "nobody@example.com"},
		{name: "storage failure", email: "ada@example.com", err: models.StorageError("issue token", errors.New("disk full"))},
	}

	var bodies []string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockResetService{
				RequestResetFunc: func(ctx context.Context, email string) (*models.ResetRequest, error) {
					assert.Equal(t, tt.email, email)
					return tt.result, tt.err
				},
			}
			notifier := &recordingNotifier{}
			h := handlers.NewPasswordResetHandler(svc, notifier, nil, discardLogger)

			w := httptest.NewRecorder()
			h.Request(w, newTestRequest(t, http.MethodPost, "/password-reset/request", handlers.ResetRequestBody{Email: tt.email}))

			var resp handlers.MessageResponse
			decodeJSON(t, w, http.StatusAccepted, &resp)
			assert.NotEmpty(t, resp.Message)
			assert.Len(t, notifier.sent, tt.wantSent)
			bodies = append(bodies, resp.Message)
		})
	}

	require.Len(t, bodies, len(tests))
	for _, b := range bodies[1:] {
		assert.Equal(t, bodies[0], b)
	}
}

func TestResetRequest_DeliveryFailureIsHidden(t *testing.T) {
	svc := &MockResetService{
		RequestResetFunc: func(ctx context.Context, email string) (*models.ResetRequest, error) {
			return &models.ResetRequest{Token: validResetToken, UserID: "u1", Email: email}, nil
		},
	}
	notifier := &recordingNotifier{err: errors.New("ses throttled")}
	h := handlers.NewPasswordResetHandler(svc, notifier, nil, discardLogger)

	w := httptest.NewRecorder()
	h.Request(w, newTestRequest(t, http.MethodPost, "/password-reset/request", handlers.ResetRequestBody{Email: "ada@example.com"}))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.NotContains(t, w.Body.String(), "throttled")
}

func TestResetRequest_InvalidBody(t *testing.T) {
	h := handlers.NewPasswordResetHandler(&MockResetService{}, &recordingNotifier{}, nil, discardLogger)

	w := httptest.NewRecorder()
	h.Request(w, httptest.NewRequest(http.MethodPost, "/password-reset/request", strings.NewReader(`{"email":"nope"}`)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResetVerify(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		identity   *models.ResetIdentity
		err        error
		wantStatus int
		want       handlers.VerifyResetResponse
	}{
		{
			name:       "valid",
			query:      "?token=" + validResetToken,
			identity:   &models.ResetIdentity{UserID: "u1", Email: "ada@example.com", FirstName: "Ada"},
			wantStatus: http.StatusOK,
			want:       handlers.VerifyResetResponse{Valid: true, FirstName: "Ada"},
		},
		{name: "invalid", query: "?token=" + validResetToken, err: models.ErrTokenInvalid, wantStatus: http.StatusOK},
		{name: "missing token", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockResetService{
				VerifyTokenFunc: func(ctx context.Context, token string) (*models.ResetIdentity, error) {
					assert.Equal(t, validResetToken, token)
					return tt.identity, tt.err
				},
			}
			h := handlers.NewPasswordResetHandler(svc, &recordingNotifier{}, nil, discardLogger)

			w := httptest.NewRecorder()
			h.Verify(w, httptest.NewRequest(http.MethodGet, "/password-reset/verify"+tt.query, nil))

			var resp handlers.VerifyResetResponse
			decodeJSON(t, w, tt.wantStatus, &resp)
			assert.Equal(t, tt.want, resp)
			assert.NotContains(t, w.Body.String(), "ada@example.com")
		})
	}
}

func TestResetVerify_StorageFailure(t *testing.T) {
	svc := &MockResetService{
		VerifyTokenFunc: func(ctx context.Context, token string) (*models.ResetIdentity, error) {
			return nil, models.StorageError("get reset token", errors.New("broken pipe"))
		},
	}
	h := handlers.NewPasswordResetHandler(svc, &recordingNotifier{}, nil, discardLogger)

	w := httptest.NewRecorder()
	h.Verify(w, httptest.NewRequest(http.MethodGet, "/password-reset/verify?token="+validResetToken, nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestResetConfirm(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		want       handlers.ConfirmResetResponse
	}{
		{name: "success", wantStatus: http.StatusOK, want: handlers.ConfirmResetResponse{Success: true}},
		{
			name: "weak password",
			err: &models.PasswordPolicyError{Reasons: []string{
				"Password must be at least 8 characters long",
				"Password must contain at least one number",
			}},
			wantStatus: http.StatusBadRequest,
			want: handlers.ConfirmResetResponse{Errors: []string{
				"Password must be at least 8 characters long",
				"Password must contain at least one number",
			}},
		},
		{
			name:       "invalid token",
			err:        models.ErrTokenInvalid,
			wantStatus: http.StatusBadRequest,
			want:       handlers.ConfirmResetResponse{Errors: []string{models.ErrTokenInvalid.Error()}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockResetService{
				ConsumeResetFunc: func(ctx context.Context, token, newPassword string) error {
					assert.Equal(t, validResetToken, token)
					assert.Equal(t, "Maple1Tree", newPassword)
					return tt.err
				},
			}
			h := handlers.NewPasswordResetHandler(svc, &recordingNotifier{}, nil, discardLogger)

			w := httptest.NewRecorder()
			h.Confirm(w, newTestRequest(t, http.MethodPost, "/password-reset/confirm", handlers.ResetConfirmBody{
				Token:       validResetToken,
				NewPassword: "Maple1Tree",
			}))

			var resp handlers.ConfirmResetResponse
			decodeJSON(t, w, tt.wantStatus, &resp)
			assert.Equal(t, tt.want, resp)
		})
	}
}

func TestResetConfirm_ValidationErrors(t *testing.T) {
	h := handlers.NewPasswordResetHandler(&MockResetService{}, &recordingNotifier{}, nil, discardLogger)

	w := httptest.NewRecorder()
	h.Confirm(w, httptest.NewRequest(http.MethodPost, "/password-reset/confirm", strings.NewReader(`{"token":"not hex!"}`)))

	var resp handlers.ConfirmResetResponse
	decodeJSON(t, w, http.StatusBadRequest, &resp)
	assert.False(t, resp.Success)
	require.Len(t, resp.Errors, 2)
	assert.Contains(t, resp.Errors[0], "token")
	assert.Contains(t, resp.Errors[1], "new_password")
}
