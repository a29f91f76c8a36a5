package auth

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret, subject string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestVerify_ValidToken(t *testing.T) {
	v := NewVerifier("secret")
	token := signToken(t, "secret", "user_42", time.Hour)

	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.UserID != "user_42" || id.Anonymous {
		t.Fatalf("identity=%+v", id)
	}
}

func TestVerify_Rejections(t *testing.T) {
	v := NewVerifier("secret")

	if _, err := v.Verify(signToken(t, "wrong", "user_42", time.Hour)); err == nil {
		t.Fatalf("accepted token with wrong secret")
	}
	if _, err := v.Verify(signToken(t, "secret", "user_42", -time.Hour)); err == nil {
		t.Fatalf("accepted expired token")
	}
	if _, err := v.Verify(signToken(t, "secret", "", time.Hour)); err == nil {
		t.Fatalf("accepted token without subject")
	}
	if _, err := v.Verify("not-a-token"); err == nil {
		t.Fatalf("accepted garbage token")
	}
}

func TestVerify_DisabledVerifier(t *testing.T) {
	var v *Verifier
	if _, err := v.Verify(signToken(t, "secret", "user_42", time.Hour)); err == nil {
		t.Fatalf("nil verifier accepted a token")
	}
	if NewVerifier("   ") != nil {
		t.Fatalf("blank secret should disable verification")
	}
}

func TestAnonymous_Distinct(t *testing.T) {
	a, b := Anonymous(), Anonymous()
	if !a.Anonymous || !b.Anonymous {
		t.Fatalf("anonymous flag not set")
	}
	if !strings.HasPrefix(a.UserID, "anon_") {
		t.Fatalf("user id=%q", a.UserID)
	}
	if a.UserID == b.UserID {
		t.Fatalf("two anonymous identities collided")
	}
}

func TestTokenFrom(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/chat", nil)
	r.Header.Set("Authorization", "Bearer abc123")
	if token, ok := TokenFrom(r); !ok || token != "abc123" {
		t.Fatalf("header token=%q ok=%v", token, ok)
	}

	r = httptest.NewRequest("GET", "/v1/chat?token=qrs789", nil)
	if token, ok := TokenFrom(r); !ok || token != "qrs789" {
		t.Fatalf("query token=%q ok=%v", token, ok)
	}

	// A malformed header wins over the query fallback: broken auth must not
	// silently downgrade.
	r = httptest.NewRequest("GET", "/v1/chat?token=qrs789", nil)
	r.Header.Set("Authorization", "Basic abc123")
	if _, ok := TokenFrom(r); ok {
		t.Fatalf("accepted non-bearer scheme")
	}

	r = httptest.NewRequest("GET", "/v1/chat", nil)
	if _, ok := TokenFrom(r); ok {
		t.Fatalf("token found on bare request")
	}
}
