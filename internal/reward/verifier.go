// Package reward provides Reward Grant Source adapters.
//
// The ad mediation layer signs a short-lived EdDSA JWT once the viewer has
// earned the reward. The server verifies that token before recording an ad
// unlock, so a client cannot unlock a story by claiming it watched an ad.
//
// Redeemed token ids are kept in memory unless Config.Redemptions names a
// shared store. Replicas behind one load balancer need the shared store, or a
// token can be redeemed once per replica.
package reward

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for a malformed or badly signed token.
	ErrInvalidToken = errors.New("reward token is invalid")

	// ErrExpiredToken is returned for a token past its exp.
	ErrExpiredToken = errors.New("reward token is expired")

	// ErrMismatch is returned when a claim does not match the request.
	ErrMismatch = errors.New("reward token mismatch")

	// ErrReplayed is returned when a token's jti was already redeemed.
	ErrReplayed = errors.New("reward token already redeemed")
)

// Config defines how reward tokens are verified.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time

	// Redemptions records redeemed token ids. Defaults to process memory.
	Redemptions RedemptionStore
}

// RedemptionStore remembers redeemed token ids until they expire.
type RedemptionStore interface {
	// ClaimUntil marks key redeemed until the given time. It reports false
	// if key was already redeemed.
	ClaimUntil(ctx context.Context, key string, until time.Time) (bool, error)
}

// Claims are the validated claims of a reward token.
type Claims struct {
	Issuer    string
	ExpiresAt time.Time
	JWTID     string
	UserID    string
	StoryID   string
}

type tokenClaims struct {
	jwt.RegisteredClaims
	UserID  string `json:"user_id"`
	StoryID string `json:"story_id"`
}

// Verifier validates reward tokens and remembers redeemed token ids until
// they expire.
type Verifier struct {
	cfg Config
}

// NewVerifier creates a Verifier. It fails if cfg is incomplete.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("reward verifier: issuer and audience are required")
	}
	if len(cfg.Key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("reward verifier: public key must be %d bytes", ed25519.PublicKeySize)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Redemptions == nil {
		cfg.Redemptions = newMemoryRedemptions(cfg.Now)
	}
	return &Verifier{cfg: cfg}, nil
}

// Verify checks token against the expected user and story and marks it
// redeemed.
func (v *Verifier) Verify(ctx context.Context, token, userID, storyID string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, fmt.Errorf("%w: token is required", ErrInvalidToken)
	}

	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return v.cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.Issuer != v.cfg.Issuer {
		return Claims{}, fmt.Errorf("%w: issuer", ErrMismatch)
	}
	if !audienceContains(parsed.Audience, v.cfg.Audience) {
		return Claims{}, fmt.Errorf("%w: audience", ErrMismatch)
	}
	if parsed.ID == "" {
		return Claims{}, fmt.Errorf("%w: jti is required", ErrInvalidToken)
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, fmt.Errorf("%w: exp is required", ErrInvalidToken)
	}

	now := v.cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Claims{}, ErrExpiredToken
	}
	if parsed.NotBefore != nil && now.Before(parsed.NotBefore.Time) {
		return Claims{}, fmt.Errorf("%w: not active yet", ErrInvalidToken)
	}
	if parsed.UserID == "" || parsed.UserID != userID {
		return Claims{}, fmt.Errorf("%w: user_id", ErrMismatch)
	}
	if parsed.StoryID == "" || parsed.StoryID != storyID {
		return Claims{}, fmt.Errorf("%w: story_id", ErrMismatch)
	}

	ok, err := v.cfg.Redemptions.ClaimUntil(ctx, redemptionKey(parsed.ID), exp)
	if err != nil {
		return Claims{}, fmt.Errorf("redeem reward token: %w", err)
	}
	if !ok {
		return Claims{}, ErrReplayed
	}

	return Claims{
		Issuer:    parsed.Issuer,
		ExpiresAt: exp,
		JWTID:     parsed.ID,
		UserID:    parsed.UserID,
		StoryID:   parsed.StoryID,
	}, nil
}

func redemptionKey(jti string) string {
	return "reward:" + jti
}

type memoryRedemptions struct {
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func newMemoryRedemptions(now func() time.Time) *memoryRedemptions {
	return &memoryRedemptions{now: now, seen: make(map[string]time.Time)}
}

func (m *memoryRedemptions) ClaimUntil(_ context.Context, key string, until time.Time) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, exp := range m.seen {
		if !exp.After(now) {
			delete(m.seen, k)
		}
	}
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = until
	return true, nil
}

// mapJWTError translates jwt library errors to reward errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return fmt.Errorf("%w: signature", ErrInvalidToken)
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return fmt.Errorf("%w: alg", ErrInvalidToken)
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}

func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

// ParsePublicKey decodes a base64 (raw or padded) ed25519 public key.
func ParsePublicKey(value string) (ed25519.PublicKey, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("empty public key")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err != nil {
		if decoded, err = base64.StdEncoding.DecodeString(value); err != nil {
			return nil, fmt.Errorf("decode public key: %w", err)
		}
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes", ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(decoded), nil
}
