// Package auth issues and verifies the compact HS256 tokens that pair a controller
// device with a game session.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ControllerAudience is the audience of pairing tokens.
const ControllerAudience = "controller"

// DefaultPairingTTL is how long a pairing token stays valid.
const DefaultPairingTTL = 10 * time.Minute

var (
	// ErrInvalidToken indicates the token failed signature checks or had malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
	// ErrEmptySecret rejects an unusable signing secret.
	ErrEmptySecret = errors.New("hmac secret must not be empty")
)

// TokenClaims is the payload of a pairing token. Subject carries the session id.
type TokenClaims struct {
	Subject   string
	Audience  string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

type tokenHeader struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
}

type tokenPayload struct {
	Subject  string `json:"sub"`
	Audience string `json:"aud"`
	Expires  int64  `json:"exp"`
	Issued   int64  `json:"iat"`
}

// PairingTokens signs and verifies controller pairing tokens with one shared secret.
type PairingTokens struct {
	secret []byte
	ttl    time.Duration
	leeway time.Duration
	now    func() time.Time
}

// NewPairingTokens builds an issuer/verifier. A non-positive ttl selects DefaultPairingTTL.
func NewPairingTokens(secret string, ttl, leeway time.Duration) (*PairingTokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		ttl = DefaultPairingTTL
	}
	if leeway < 0 {
		leeway = 0
	}
	return &PairingTokens{secret: []byte(secret), ttl: ttl, leeway: leeway, now: time.Now}, nil
}

// WithClock overrides the clock, enabling deterministic unit tests.
func (p *PairingTokens) WithClock(clock func() time.Time) {
	if clock != nil {
		p.now = clock
	}
}

// Issue returns a token that lets a controller pair with sessionID, and its expiry.
func (p *PairingTokens) Issue(sessionID string) (string, time.Time, error) {
	if p == nil || len(p.secret) == 0 {
		return "", time.Time{}, errors.New("pairing tokens not initialised")
	}
	if strings.TrimSpace(sessionID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: empty session id", ErrInvalidToken)
	}
	now := p.now()
	expires := now.Add(p.ttl)

	header, err := json.Marshal(tokenHeader{Algorithm: "HS256", Type: "JWT"})
	if err != nil {
		return "", time.Time{}, err
	}
	payload, err := json.Marshal(tokenPayload{
		Subject:  sessionID,
		Audience: ControllerAudience,
		Expires:  expires.Unix(),
		Issued:   now.Unix(),
	})
	if err != nil {
		return "", time.Time{}, err
	}
	signingInput := encodeSegment(header) + "." + encodeSegment(payload)
	return signingInput + "." + encodeSegment(p.sign([]byte(signingInput))), expires, nil
}

// Verify parses the token, checks signature, audience and expiry, and returns the claims.
func (p *PairingTokens) Verify(token string) (*TokenClaims, error) {
	if p == nil || len(p.secret) == 0 {
		return nil, errors.New("pairing tokens not initialised")
	}
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}

	//1.- Check the algorithm before trusting the signature.
	headerBytes, err := decodeSegment(parts[0])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var header tokenHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, ErrInvalidToken
	}
	if header.Algorithm != "HS256" {
		return nil, fmt.Errorf("%w: unexpected algorithm %q", ErrInvalidToken, header.Algorithm)
	}

	//2.- Compare signatures in constant time.
	signature, err := decodeSegment(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !hmac.Equal(signature, p.sign([]byte(parts[0]+"."+parts[1]))) {
		return nil, ErrInvalidToken
	}

	//3.- Validate the claims.
	payloadBytes, err := decodeSegment(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var payload tokenPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(payload.Subject) == "" || payload.Expires <= 0 {
		return nil, ErrInvalidToken
	}
	if payload.Audience != ControllerAudience {
		return nil, fmt.Errorf("%w: audience %q", ErrInvalidToken, payload.Audience)
	}
	expiresAt := time.Unix(payload.Expires, 0)
	if expiresAt.Add(p.leeway).Before(p.now()) {
		return nil, ErrExpiredToken
	}
	return &TokenClaims{
		Subject:   payload.Subject,
		Audience:  payload.Audience,
		ExpiresAt: expiresAt,
		IssuedAt:  time.Unix(payload.Issued, 0),
	}, nil
}

func (p *PairingTokens) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

func encodeSegment(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeSegment(segment string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(segment)
}
