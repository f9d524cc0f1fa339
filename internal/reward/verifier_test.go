package reward

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func newTestKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func newTestVerifier(t *testing.T, pub ed25519.PublicKey) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{
		Issuer:   "ads.example",
		Audience: "storygate",
		Key:      pub,
		Now:      func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return v
}

func sign(t *testing.T, priv ed25519.PrivateKey, mutate func(*tokenClaims)) string {
	t.Helper()
	c := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "ads.example",
			Audience:  jwt.ClaimStrings{"storygate"},
			ExpiresAt: jwt.NewNumericDate(testNow.Add(5 * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(testNow),
			ID:        "jti-1",
		},
		UserID:  "anon-1",
		StoryID: "story-2",
	}
	if mutate != nil {
		mutate(&c)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, c).SignedString(priv)
	require.NoError(t, err)
	return token
}

func TestVerify_Valid(t *testing.T) {
	pub, priv := newTestKey(t)
	v := newTestVerifier(t, pub)

	claims, err := v.Verify(context.Background(), sign(t, priv, nil), "anon-1", "story-2")
	require.NoError(t, err)
	assert.Equal(t, "jti-1", claims.JWTID)
	assert.Equal(t, "story-2", claims.StoryID)
	assert.Equal(t, testNow.Add(5*time.Minute), claims.ExpiresAt)
}

func TestVerify_Rejections(t *testing.T) {
	pub, priv := newTestKey(t)
	_, otherPriv := newTestKey(t)

	tests := []struct {
		name    string
		token   func() string
		storyID string
		want    error
	}{
		{"empty", func() string { return "" }, "story-2", ErrInvalidToken},
		{"garbage", func() string { return "not.a.jwt" }, "story-2", ErrInvalidToken},
		{"wrong key", func() string { return sign(t, otherPriv, nil) }, "story-2", ErrInvalidToken},
		{"wrong issuer", func() string {
			return sign(t, priv, func(c *tokenClaims) { c.Issuer = "evil" })
		}, "story-2", ErrMismatch},
		{"wrong audience", func() string {
			return sign(t, priv, func(c *tokenClaims) { c.Audience = jwt.ClaimStrings{"other"} })
		}, "story-2", ErrMismatch},
		{"expired", func() string {
			return sign(t, priv, func(c *tokenClaims) { c.ExpiresAt = jwt.NewNumericDate(testNow.Add(-time.Second)) })
		}, "story-2", ErrExpiredToken},
		{"missing exp", func() string {
			return sign(t, priv, func(c *tokenClaims) { c.ExpiresAt = nil })
		}, "story-2", ErrInvalidToken},
		{"missing jti", func() string {
			return sign(t, priv, func(c *tokenClaims) { c.ID = "" })
		}, "story-2", ErrInvalidToken},
		{"not yet active", func() string {
			return sign(t, priv, func(c *tokenClaims) { c.NotBefore = jwt.NewNumericDate(testNow.Add(time.Minute)) })
		}, "story-2", ErrInvalidToken},
		{"other story", func() string { return sign(t, priv, nil) }, "story-3", ErrMismatch},
		{"other user", func() string {
			return sign(t, priv, func(c *tokenClaims) { c.UserID = "anon-2" })
		}, "story-2", ErrMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVerifier(t, pub)
			_, err := v.Verify(context.Background(), tt.token(), "anon-1", tt.storyID)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestVerify_RejectsHMAC(t *testing.T) {
	pub, _ := newTestKey(t)
	v := newTestVerifier(t, pub)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iss": "ads.example"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), token, "anon-1", "story-2")
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestVerify_Replay(t *testing.T) {
	pub, priv := newTestKey(t)
	v := newTestVerifier(t, pub)
	token := sign(t, priv, nil)

	_, err := v.Verify(context.Background(), token, "anon-1", "story-2")
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), token, "anon-1", "story-2")
	assert.True(t, errors.Is(err, ErrReplayed))
}

// sharedRedemptions stands in for a store shared by several replicas.
type sharedRedemptions struct {
	mu    sync.Mutex
	until map[string]time.Time
	err   error
}

func (s *sharedRedemptions) ClaimUntil(_ context.Context, key string, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.until[key]; ok {
		return false, nil
	}
	s.until[key] = until
	return true, nil
}

func TestVerify_ReplayAcrossReplicas(t *testing.T) {
	pub, priv := newTestKey(t)
	shared := &sharedRedemptions{until: make(map[string]time.Time)}
	replica := func() *Verifier {
		v, err := NewVerifier(Config{
			Issuer:      "ads.example",
			Audience:    "storygate",
			Key:         pub,
			Now:         func() time.Time { return testNow },
			Redemptions: shared,
		})
		require.NoError(t, err)
		return v
	}
	a, b := replica(), replica()
	token := sign(t, priv, nil)

	_, err := a.Verify(context.Background(), token, "anon-1", "story-2")
	require.NoError(t, err)
	_, err = b.Verify(context.Background(), token, "anon-1", "story-2")
	assert.ErrorIs(t, err, ErrReplayed)

	assert.Equal(t, testNow.Add(5*time.Minute), shared.until["reward:jti-1"], "claim lasts until exp")
}

func TestVerify_RedemptionStoreFailure(t *testing.T) {
	pub, priv := newTestKey(t)
	v, err := NewVerifier(Config{
		Issuer:      "ads.example",
		Audience:    "storygate",
		Key:         pub,
		Now:         func() time.Time { return testNow },
		Redemptions: &sharedRedemptions{err: errors.New("redis down")},
	})
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), sign(t, priv, nil), "anon-1", "story-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.False(t, errors.Is(err, ErrReplayed))
}

func TestMemoryRedemptions_ForgetsExpired(t *testing.T) {
	now := testNow
	m := newMemoryRedemptions(func() time.Time { return now })
	ctx := context.Background()

	ok, err := m.ClaimUntil(ctx, "k", testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = m.ClaimUntil(ctx, "k", testNow.Add(time.Minute))
	assert.False(t, ok)

	now = testNow.Add(2 * time.Minute)
	ok, _ = m.ClaimUntil(ctx, "k", now.Add(time.Minute))
	assert.True(t, ok)
}

func TestNewVerifier_Incomplete(t *testing.T) {
	pub, _ := newTestKey(t)

	_, err := NewVerifier(Config{Audience: "a", Key: pub})
	assert.Error(t, err)
	_, err = NewVerifier(Config{Issuer: "i", Audience: "a", Key: pub[:10]})
	assert.Error(t, err)
}

func TestParsePublicKey(t *testing.T) {
	pub, _ := newTestKey(t)

	for _, enc := range []*base64.Encoding{base64.RawStdEncoding, base64.StdEncoding} {
		got, err := ParsePublicKey(enc.EncodeToString(pub))
		require.NoError(t, err)
		assert.Equal(t, pub, got)
	}

	_, err := ParsePublicKey("")
	assert.Error(t, err)
	_, err = ParsePublicKey(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func TestToken_RequestGrant(t *testing.T) {
	pub, priv := newTestKey(t)
	v := newTestVerifier(t, pub)
	ctx := context.Background()

	g, err := NewToken(v, sign(t, priv, nil)).RequestGrant(ctx, "anon-1", "story-2")
	require.NoError(t, err)
	assert.True(t, g.Earned)

	_, err = NewToken(v, "bogus").RequestGrant(ctx, "anon-1", "story-2")
	assert.Error(t, err)
}

func TestStatic(t *testing.T) {
	ctx := context.Background()

	g, err := Static{Result: ResultEarned}.RequestGrant(ctx, "u", "s")
	require.NoError(t, err)
	assert.True(t, g.Earned)

	g, err = Static{Result: ResultDeclined}.RequestGrant(ctx, "u", "s")
	require.NoError(t, err)
	assert.False(t, g.Earned)

	_, err = Static{Result: ResultError}.RequestGrant(ctx, "u", "s")
	assert.ErrorIs(t, err, ErrAdFailed)

	_, err = ParseResult("maybe")
	assert.Error(t, err)
	r, err := ParseResult("declined")
	require.NoError(t, err)
	assert.Equal(t, ResultDeclined, r)
}
