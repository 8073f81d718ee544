package auth

import (
	"context"
	"net/http"
	"strings"
)

// DevAuthenticator authenticates every request as the configured dev
// identity. An X-Dev-Subject header overrides the subject so multi-user
// flows can be exercised locally.
type DevAuthenticator struct {
	identity Identity
}

func NewDevAuthenticator(cfg Config) *DevAuthenticator {
	return &DevAuthenticator{
		identity: Identity{
			Subject: cfg.DevSubject,
			Email:   cfg.DevEmail,
		},
	}
}

func (a *DevAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	identity := a.identity
	if override := strings.TrimSpace(r.Header.Get("X-Dev-Subject")); override != "" {
		identity.Subject = override
	}
	return identity, nil
}
