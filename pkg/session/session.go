package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/agrinova/authd/pkg/auth"
)

// Session is one authenticated session. A Session is never mutated after it
// is handed to a Store; replace it instead.
type Session struct {
	Principal    *auth.Principal `json:"principal"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time       `json:"expires_at"`
	IssuedAt     time.Time       `json:"issued_at"`
	Strategy     auth.Strategy   `json:"strategy"`
}

// New builds a session from a token set issued at now. The token set must
// carry a principal and an expiry after now.
func New(tokens *auth.TokenSet, strategy auth.Strategy, now time.Time) (*Session, error) {
	if tokens == nil {
		return nil, errors.New("token set is nil")
	}
	if tokens.Principal == nil {
		return nil, errors.New("token set has no principal")
	}
	if tokens.AccessToken == "" {
		return nil, errors.New("token set has no access token")
	}
	if !tokens.ExpiresAt.After(now) {
		return nil, fmt.Errorf("token set already expired at %s", tokens.ExpiresAt.Format(time.RFC3339))
	}
	return &Session{
		Principal:    tokens.Principal,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
		IssuedAt:     now,
		Strategy:     strategy,
	}, nil
}

// Expired reports whether the session is expired at now
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// TTL returns the time left at now, never negative
func (s *Session) TTL(now time.Time) time.Duration {
	if s.Expired(now) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

// PrincipalID returns the principal's ID or "" for a session without one
func (s *Session) PrincipalID() string {
	if s == nil || s.Principal == nil {
		return ""
	}
	return s.Principal.ID
}

// EventType names a cross-instance session event
type EventType string

// EventLogout is the only event type: a session was ended somewhere
const EventLogout EventType = "logout"

// Event is published on a Broadcaster when a store clears its session
type Event struct {
	Type   EventType `json:"type"`
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
}
