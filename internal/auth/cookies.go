package auth

import (
	"net/http"
	"time"
)

// SessionCookieName is the cookie carrying the session token
const SessionCookieName = "session_token"

// DefaultCookieMaxAge matches the default session lifetime
const DefaultCookieMaxAge = 24 * time.Hour

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	Domain string        // Empty string = current host only
	Secure bool          // HTTPS only; set in production
	MaxAge time.Duration // Zero uses DefaultCookieMaxAge
}

func (c CookieConfig) maxAgeSeconds() int {
	if c.MaxAge <= 0 {
		return int(DefaultCookieMaxAge / time.Second)
	}
	return int(c.MaxAge / time.Second)
}

// SetSessionCookie writes the session token as an HttpOnly, SameSite=Strict cookie
func SetSessionCookie(w http.ResponseWriter, token string, config CookieConfig) {
	maxAge := config.maxAgeSeconds()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   config.Domain,
		Expires:  time.Now().Add(time.Duration(maxAge) * time.Second),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookie expires the session cookie on the client
func ClearSessionCookie(w http.ResponseWriter, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   -1, // Negative MaxAge deletes the cookie
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// SessionToken returns the session token from the request cookie, or ""
func SessionToken(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
