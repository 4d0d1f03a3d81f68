package mcp

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingAuth = errors.New("missing authentication")
	ErrInvalidAuth = errors.New("invalid api key")
)

type Identity struct {
	Client string
}

type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

// TokenAuthenticator accepts a single shared bearer key. An empty key
// disables authentication.
type TokenAuthenticator struct {
	token string
}

func NewTokenAuthenticator(token string) Authenticator {
	return &TokenAuthenticator{token: strings.TrimSpace(token)}
}

func (a *TokenAuthenticator) Authenticate(_ context.Context, r *http.Request) (Identity, error) {
	if a.token == "" {
		return Identity{Client: "anonymous"}, nil
	}

	token := extractBearerToken(r)
	if token == "" {
		return Identity{}, ErrMissingAuth
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
		return Identity{}, ErrInvalidAuth
	}
	return Identity{Client: "api-key"}, nil
}

func extractBearerToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}
