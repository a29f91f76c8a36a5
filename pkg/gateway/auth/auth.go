// Package auth resolves the identity behind a chat connection. Bearer tokens
// are HS256 JWTs carrying the user id in the standard "sub" claim; connections
// without a valid token fall back to a fresh anonymous identity.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Identity is the resolved owner of a connection.
type Identity struct {
	UserID    string
	Anonymous bool
}

type ctxKeyIdentity struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return id, ok && id.UserID != ""
}

// Anonymous mints a throwaway identity. Each call is distinct, so two
// anonymous tabs never share a session.
func Anonymous() Identity {
	return Identity{UserID: "anon_" + uuid.NewString(), Anonymous: true}
}

// Verifier validates bearer tokens.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates an HS256 token and returns the identity from
// its subject claim.
func (v *Verifier) Verify(token string) (Identity, error) {
	if v == nil {
		return Identity{}, fmt.Errorf("token verification disabled")
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return Identity{}, fmt.Errorf("token has no subject")
	}
	return Identity{UserID: sub}, nil
}

// TokenFrom extracts a bearer token from the Authorization header, falling
// back to the "token" query parameter for browser WebSocket clients that
// cannot set headers.
func TokenFrom(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			token := strings.TrimSpace(parts[1])
			if token != "" {
				return token, true
			}
		}
		return "", false
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token, true
	}
	return "", false
}
