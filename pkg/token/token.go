package token

import (
	"time"
)

const redacted = "[REDACTED]"

// Token is an installation access token whose value is only reachable through
// Value; every formatting path renders it redacted
type Token struct {
	value     string
	expiresAt time.Time
}

// New creates a token expiring at expiresAt, zero meaning unknown
func New(value string, expiresAt time.Time) *Token {
	return &Token{value: value, expiresAt: expiresAt}
}

// Value returns the bearer credential
func (t *Token) Value() string {
	return t.value
}

// ExpiresAt returns the expiry reported by GitHub
func (t *Token) ExpiresAt() time.Time {
	return t.expiresAt
}

// ExpiresWithin reports whether the token expires within d of now, never true
// for an unknown expiry
func (t *Token) ExpiresWithin(now time.Time, d time.Duration) bool {
	if t.expiresAt.IsZero() {
		return false
	}
	return !now.Add(d).Before(t.expiresAt)
}

func (t *Token) String() string {
	return redacted
}

func (t *Token) GoString() string {
	return "token.Token{" + redacted + "}"
}

// MarshalLog implements logr.Marshaler
func (t *Token) MarshalLog() any {
	return redacted
}
