package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"github.com/devpulse-io/devpulse/internal/store"
)

// ErrUnauthorized covers missing, invalid and expired credentials
// alike. Callers never learn which; the distinction is logged.
var ErrUnauthorized = errors.New("unauthorized")

// Principal is the authenticated user a request or subscription acts
// for. GitHubToken is present when the identity provider attached one.
type Principal struct {
	ID          string
	GitHubToken string
}

// Gate exchanges a bearer credential for a principal and a store handle
// scoped to that principal. Every operation in the gateway goes through
// Authorize first; there is no elevated or shared fallback.
type Gate struct {
	secret []byte
	jwks   *keyfunc.JWKS
	store  store.Store
}

// NewGate verifies HS256 tokens against a shared secret.
func NewGate(s store.Store, secret string) *Gate {
	return &Gate{secret: []byte(secret), store: s}
}

// NewGateWithJWKS verifies RS256 tokens against the identity provider's
// published key set.
func NewGateWithJWKS(s store.Store, jwksURL string) (*Gate, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval: time.Hour,
		RefreshErrorHandler: func(err error) {
			log.Printf("JWKS refresh failed: %v", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load JWKS from %s: %w", jwksURL, err)
	}
	return &Gate{jwks: jwks, store: s}, nil
}

// Authorize validates the Authorization header and returns the acting
// principal plus the scoped store handle. Any failure is
// ErrUnauthorized.
func (g *Gate) Authorize(ctx context.Context, authHeader string) (Principal, store.Scope, error) {
	tokenStr := Bearer(authHeader)
	if tokenStr == "" {
		return Principal{}, store.Scope{}, ErrUnauthorized
	}

	token, err := jwt.Parse(tokenStr, g.keyfunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			log.Printf("rejected expired token")
		} else {
			log.Printf("rejected invalid token: %v", err)
		}
		return Principal{}, store.Scope{}, ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Principal{}, store.Scope{}, ErrUnauthorized
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		log.Printf("rejected token without sub claim")
		return Principal{}, store.Scope{}, ErrUnauthorized
	}

	ghToken, _ := claims["github_token"].(string)

	p := Principal{ID: sub, GitHubToken: ghToken}
	return p, store.NewScope(g.store, sub), nil
}

func (g *Gate) keyfunc(token *jwt.Token) (interface{}, error) {
	if g.jwks != nil {
		return g.jwks.Keyfunc(token)
	}
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return g.secret, nil
}

// Bearer extracts the token from an Authorization header value.
func Bearer(h string) string {
	if h == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(h), "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
