package auth

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost = 12
	MinPasswordLen    = 8
	MaxPasswordBytes  = 72 // bcrypt ignores everything past 72 bytes
	MaxStrengthScore  = 4
)

// ErrEmptyPassword is returned when attempting to hash an empty password
var ErrEmptyPassword = errors.New("password cannot be empty")

// Common weak passwords to reject
var commonPasswords = map[string]bool{
	"password":     true,
	"password1":    true,
	"password123":  true,
	"password123!": true,
	"12345678":     true,
	"123456789":    true,
	"qwerty123":    true,
	"qwertyuiop":   true,
	"letmein1":     true,
	"welcome1":     true,
	"passw0rd":     true,
	"iloveyou1":    true,
	"sunshine1":    true,
	"princess1":    true,
	"football1":    true,
	"trustno1":     true,
	"changeme1":    true,
	"admin123":     true,
}

// Hasher hashes and compares passwords with bcrypt at a fixed cost
type Hasher struct {
	cost int
}

// NewHasher creates a Hasher. Costs outside bcrypt's range fall back to the default.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &Hasher{cost: cost}
}

// Hash produces a bcrypt hash of the password
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// Compare reports whether password matches hashedPassword. A malformed hash
// is treated as a mismatch.
func (h *Hasher) Compare(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}

// StrengthResult is the outcome of scoring a candidate password
type StrengthResult struct {
	Score   int      // 0..4
	Valid   bool     // length, upper, lower and digit all present
	Reasons []string // user-facing reasons for each missing requirement
}

// ScoreStrength awards one point each for length, uppercase, lowercase, digit
// and special character, capped at MaxStrengthScore. A special character is a
// bonus: it never stands in for a missing required class.
func ScoreStrength(password string) StrengthResult {
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r):
			hasSpecial = true
		}
	}
	longEnough := len([]rune(password)) >= MinPasswordLen

	result := StrengthResult{Reasons: make([]string, 0)}
	for _, ok := range []bool{longEnough, hasUpper, hasLower, hasDigit, hasSpecial} {
		if ok {
			result.Score++
		}
	}
	if result.Score > MaxStrengthScore {
		result.Score = MaxStrengthScore
	}

	if !longEnough {
		result.Reasons = append(result.Reasons, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if !hasUpper {
		result.Reasons = append(result.Reasons, "must contain at least one uppercase letter")
	}
	if !hasLower {
		result.Reasons = append(result.Reasons, "must contain at least one lowercase letter")
	}
	if !hasDigit {
		result.Reasons = append(result.Reasons, "must contain at least one digit")
	}

	result.Valid = longEnough && hasUpper && hasLower && hasDigit
	return result
}

// ValidatePassword applies the strength rules plus the checks bcrypt and the
// common-password list impose. It returns every reason that applies.
func ValidatePassword(password string) []string {
	reasons := ScoreStrength(password).Reasons

	if len(password) > MaxPasswordBytes {
		reasons = append(reasons, fmt.Sprintf("must be at most %d bytes", MaxPasswordBytes))
	}
	if commonPasswords[strings.ToLower(password)] {
		reasons = append(reasons, "is too common, please choose a more unique password")
	}

	return reasons
}
