package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestTokens(t *testing.T, secret string, now time.Time) *PairingTokens {
	t.Helper()
	tokens, err := NewPairingTokens(secret, time.Minute, time.Second)
	if err != nil {
		t.Fatalf("NewPairingTokens: %v", err)
	}
	tokens.WithClock(func() time.Time { return now })
	return tokens
}

func TestPairingTokenRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tokens := newTestTokens(t, "secret", now)

	token, expires, err := tokens.Issue("session-7")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !expires.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected expiry %v", expires)
	}
	claims, err := tokens.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "session-7" || claims.Audience != ControllerAudience || !claims.IssuedAt.Equal(now) {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestPairingTokenExpires(t *testing.T) {
	now := time.Unix(1700000000, 0)
	issuer := newTestTokens(t, "secret", now)
	token, _, err := issuer.Issue("session-7")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	later := newTestTokens(t, "secret", now.Add(2*time.Minute))
	if _, err := later.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestPairingTokenRejectsForeignSecretAndAudience(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tokens := newTestTokens(t, "secret", now)
	other := newTestTokens(t, "other-secret", now)

	foreign, _, err := other.Issue("session-7")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := tokens.Verify(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	game := makeToken(t, "secret", "session-7", "game", now.Add(time.Minute))
	if _, err := tokens.Verify(game); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected audience rejection, got %v", err)
	}
	if _, err := tokens.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestPairingTokensRequireSecret(t *testing.T) {
	if _, err := NewPairingTokens("  ", 0, 0); !errors.Is(err, ErrEmptySecret) {
		t.Fatalf("expected ErrEmptySecret, got %v", err)
	}
}

func makeToken(t *testing.T, secret, subject, audience string, expires time.Time) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := fmt.Sprintf(`{"sub":"%s","aud":"%s","exp":%d,"iat":%d}`, subject, audience, expires.Unix(), expires.Add(-time.Minute).Unix())
	signingInput := header + "." + base64.RawURLEncoding.EncodeToString([]byte(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
