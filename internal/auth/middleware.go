package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/sessionguard/internal/models"
	pkghttp "github.com/BradenHooton/sessionguard/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const identityContextKey contextKey = "identity"

// Identity is the authenticated caller attached to the request context
type Identity struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`

	Session *models.Session `json:"-"`
}

// SessionValidator resolves a token to a live session
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*models.Session, error)
}

// Gateway turns the session cookie into an Identity for downstream handlers
type Gateway struct {
	sessions SessionValidator
	cookies  CookieConfig
	logger   *slog.Logger
}

func NewGateway(sessions SessionValidator, cookies CookieConfig, logger *slog.Logger) *Gateway {
	return &Gateway{sessions: sessions, cookies: cookies, logger: logger}
}

// resolve returns the identity for the request cookie. A nil identity with a
// nil error means the caller is simply not authenticated.
func (g *Gateway) resolve(r *http.Request) (*Identity, error) {
	session, err := g.sessions.ValidateSession(r.Context(), SessionToken(r))
	if err != nil {
		if models.KindOf(err) == models.KindSessionNotFound {
			return nil, nil
		}
		return nil, err
	}
	if session.User == nil {
		return nil, nil
	}

	return &Identity{
		UserID:    session.UserID,
		Email:     session.User.Email,
		FirstName: session.User.FirstName,
		LastName:  session.User.LastName,
		Role:      session.User.Role,
		Session:   session,
	}, nil
}

// Authenticate rejects requests without a valid session with 401 and clears
// the stale cookie. Storage failures are 503 and leave the cookie alone.
func (g *Gateway) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := g.resolve(r)
		if err != nil {
			g.logger.Error("session validation failed", slog.Any("error", err))
			pkghttp.WriteServiceUnavailable(w, "Unable to verify session")
			return
		}
		if identity == nil {
			ClearSessionCookie(w, g.cookies)
			pkghttp.WriteUnauthorized(w, "Authentication required")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// OptionalAuthenticate attaches an identity when one resolves and never rejects
func (g *Gateway) OptionalAuthenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := g.resolve(r)
		if err != nil {
			g.logger.Warn("optional session validation failed", slog.Any("error", err))
		}
		if identity != nil {
			r = r.WithContext(WithIdentity(r.Context(), identity))
		}
		next.ServeHTTP(w, r)
	})
}

// HasRole reports whether identity holds role
func HasRole(identity *Identity, role string) bool {
	return identity != nil && identity.Role == role
}

// RequireRole enforces role-based access. Must run after Authenticate.
func RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := IdentityFromContext(r.Context())
			if identity == nil {
				pkghttp.WriteUnauthorized(w, "Authentication required")
				return
			}
			if !HasRole(identity, role) {
				pkghttp.WriteForbidden(w, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithIdentity returns a context carrying identity
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext extracts the identity, or nil when unauthenticated
func IdentityFromContext(ctx context.Context) *Identity {
	identity, _ := ctx.Value(identityContextKey).(*Identity)
	return identity
}
