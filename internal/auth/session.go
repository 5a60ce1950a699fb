package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTokenLifetime is how long a credential is trusted. Must stay below
// the provider's 120 minute token lifetime.
const DefaultTokenLifetime = 110 * time.Minute

// Authorizer obtains a new grant. *Flow implements it.
type Authorizer interface {
	Authorize(ctx context.Context) (*Grant, error)
}

// Credential is a bearer token and the instance it is valid for.
type Credential struct {
	AccessToken string
	InstanceURL string
	ExpiresAt   time.Time
	Identity    Identity
}

// Session holds at most one credential and re-authorizes when it expires.
// It is safe for concurrent use; concurrent callers share one authorization.
type Session struct {
	authorizer Authorizer
	lifetime   time.Duration
	now        func() time.Time

	mu   sync.Mutex
	cred *Credential
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithClock sets the time source used for expiry checks.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithLifetime overrides DefaultTokenLifetime.
func WithLifetime(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.lifetime = d
		}
	}
}

// NewSession returns an empty session backed by a.
func NewSession(a Authorizer, opts ...SessionOption) *Session {
	s := &Session{
		authorizer: a,
		lifetime:   DefaultTokenLifetime,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Token returns a valid access token and instance URL, authorizing first
// when no unexpired credential is held. Authorization errors are returned
// unchanged and leave the session empty.
func (s *Session) Token(ctx context.Context) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cred != nil && !s.now().After(s.cred.ExpiresAt) {
		return s.cred.AccessToken, s.cred.InstanceURL, nil
	}
	if s.cred != nil {
		slog.Info("credential expired, re-authorizing", "expired_at", s.cred.ExpiresAt)
	}
	s.cred = nil

	grant, err := s.authorizer.Authorize(ctx)
	if err != nil {
		return "", "", err
	}

	expiresAt := s.now().Add(s.lifetime)
	if !grant.Expiry.IsZero() && grant.Expiry.Before(expiresAt) {
		expiresAt = grant.Expiry
	}

	s.cred = &Credential{
		AccessToken: grant.AccessToken,
		InstanceURL: grant.InstanceURL,
		ExpiresAt:   expiresAt,
		Identity:    grant.Identity,
	}
	return s.cred.AccessToken, s.cred.InstanceURL, nil
}

// Current returns the held credential, if any, without authorizing.
func (s *Session) Current() (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cred == nil || s.now().After(s.cred.ExpiresAt) {
		return Credential{}, false
	}
	return *s.cred, true
}

// Invalidate discards the held credential so the next Token call runs a
// fresh authorization.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.cred = nil
	s.mu.Unlock()
}
