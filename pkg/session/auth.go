package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator exchanges a short-lived backend token for a usable session
// and tears it down again. It models the hosted auth SDK; the real token
// verification happens server-side.
type Authenticator interface {
	SignInWithToken(ctx context.Context, token string) (Session, error)
	SignOut(ctx context.Context) error
	Current() (Session, bool)
}

// TokenAuth is the client-local Authenticator: it reads the token's claims
// to learn the account id and expiry and holds the resulting session in
// memory. The signature is not checked here; the backend minted the token
// moments ago and remains the authority on its validity.
type TokenAuth struct {
	mu      sync.Mutex
	current *Session
}

// NewTokenAuth creates an empty TokenAuth
func NewTokenAuth() *TokenAuth {
	return &TokenAuth{}
}

// SignInWithToken establishes the session described by the token's claims.
func (a *TokenAuth) SignInWithToken(ctx context.Context, token string) (Session, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Session{}, fmt.Errorf("unreadable session token: %w", err)
	}

	uid, _ := claims["uid"].(string)
	if uid == "" {
		return Session{}, fmt.Errorf("session token carries no uid claim")
	}

	session := Session{UID: uid, Token: token}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		session.ExpiresAt = exp.Time
	}

	a.mu.Lock()
	a.current = &session
	a.mu.Unlock()

	slog.Info("Session established", "uid", uid, "expiresAt", session.ExpiresAt.Format(time.RFC3339))
	return session, nil
}

// SignOut discards the current session. Signing out twice is a no-op.
func (a *TokenAuth) SignOut(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil {
		slog.Info("Session discarded", "uid", a.current.UID)
		a.current = nil
	}
	return nil
}

// Current returns the established session, if any.
func (a *TokenAuth) Current() (Session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return Session{}, false
	}
	return *a.current, true
}
