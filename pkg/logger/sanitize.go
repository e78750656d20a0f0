package logger

import (
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"
)

const redacted = "[REDACTED]"

// credentialParams are query keys whose values grant or reveal account access
var credentialParams = map[string]struct{}{
	"token":            {},
	"session_token":    {},
	"password":         {},
	"current_password": {},
	"new_password":     {},
	"email":            {},
}

// SanitizedEmail keeps the first character of the local part and the TLD,
// e.g. "ada@example.com" becomes "a**@*******.com".
func SanitizedEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || strings.Contains(domain, "@") {
		return "[invalid-email]"
	}

	first, size := utf8.DecodeRuneInString(local)
	masked := string(first) + strings.Repeat("*", utf8.RuneCountInString(local[size:]))

	if dot := strings.LastIndexByte(domain, '.'); dot > 0 {
		host := strings.Map(func(r rune) rune {
			if r == '.' {
				return r
			}
			return '*'
		}, domain[:dot])
		domain = host + domain[dot:]
	}

	return masked + "@" + domain
}

// RedactedAttr hides value in production
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, redacted)
	}
	return slog.String(key, value)
}

// RedactQuery replaces the values of credential parameters in rawQuery and
// keeps everything else in its original order. A query whose keys cannot be
// decoded is redacted whole.
func RedactQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	pairs := strings.Split(rawQuery, "&")
	for i, pair := range pairs {
		key, _, hasValue := strings.Cut(pair, "=")
		name, err := url.QueryUnescape(key)
		if err != nil {
			return redacted
		}
		if _, ok := credentialParams[strings.ToLower(name)]; ok && hasValue {
			pairs[i] = key + "=" + redacted
		}
	}
	return strings.Join(pairs, "&")
}
