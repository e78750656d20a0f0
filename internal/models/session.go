package models

import "time"

// Session is one active browser login. Only TokenHash is persisted; Token is
// populated when the session is created so the caller can set the cookie.
type Session struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Token     string      `json:"-"`
	TokenHash string      `json:"-"`
	UserAgent string      `json:"user_agent"`
	IPAddress *string     `json:"ip_address,omitempty"`
	ExpiresAt time.Time   `json:"expires_at"`
	CreatedAt time.Time   `json:"created_at"`
	User      *PublicUser `json:"user,omitempty"`
}

// IsExpiredAt reports whether the session is past its expiry at t
func (s *Session) IsExpiredAt(t time.Time) bool {
	return s.ExpiresAt.Before(t)
}
