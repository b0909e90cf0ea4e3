package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unical-ir/ir-gateway/internal/platform/cache"
	"github.com/unical-ir/ir-gateway/internal/shared"
)

var testSubject = Subject{UserID: 7, Email: "a@x.com"}

func newTokenService(t *testing.T) (*TokenService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc, err := NewTokenService(TokenConfig{
		Secret:     "test-secret",
		Algorithm:  "HS256",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}, cache.NewRedisStore(client), nil)
	require.NoError(t, err)
	return svc, mr
}

func TestNewTokenServiceRejectsBadConfig(t *testing.T) {
	store, err := cache.NewMemoryStore(4)
	require.NoError(t, err)
	_, err = NewTokenService(TokenConfig{Secret: "s", Algorithm: "RS256", AccessTTL: time.Minute, RefreshTTL: time.Hour}, store, nil)
	assert.Error(t, err)
	_, err = NewTokenService(TokenConfig{Algorithm: "HS256", AccessTTL: time.Minute, RefreshTTL: time.Hour}, store, nil)
	assert.Error(t, err)
	_, err = NewTokenService(TokenConfig{Secret: "s", Algorithm: "HS256", RefreshTTL: time.Hour}, store, nil)
	assert.Error(t, err)
}

func TestIssueProducesExpectedClaims(t *testing.T) {
	svc, _ := newTokenService(t)

	token, issued, err := svc.Issue(testSubject, time.Minute, true)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.ID)

	raw := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, raw)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": float64(7), "email": "a@x.com"}, raw["user"])
	assert.Equal(t, true, raw["refresh"])
	assert.Equal(t, issued.ID, raw["jti"])
	assert.Contains(t, raw, "exp")

	decoded, err := svc.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, testSubject, decoded.User)
	assert.True(t, decoded.Refresh)
}

func TestDecodeExpiredToken(t *testing.T) {
	svc, _ := newTokenService(t)
	token, _, err := svc.Issue(testSubject, time.Minute, false)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = svc.Decode(token)
	assert.ErrorIs(t, err, shared.ErrTokenExpired)
}

func TestDecodeBadSignatureCountsAsExpired(t *testing.T) {
	svc, _ := newTokenService(t)
	other, _ := newTokenService(t)
	other.secret = []byte("another-secret")

	token, _, err := other.Issue(testSubject, time.Minute, false)
	require.NoError(t, err)
	_, err = svc.Decode(token)
	assert.ErrorIs(t, err, shared.ErrTokenExpired)
}

func TestDecodeMalformedToken(t *testing.T) {
	svc, _ := newTokenService(t)
	_, err := svc.Decode("not.a.jwt")
	assert.ErrorIs(t, err, shared.ErrInvalidToken)
	_, err = svc.Decode(strings.Repeat("x", 10))
	assert.ErrorIs(t, err, shared.ErrInvalidToken)
}

func TestAuthenticateEnforcesKind(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTokenService(t)
	pair, err := svc.IssuePair(testSubject)
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, pair.RefreshToken, AccessToken)
	assert.ErrorIs(t, err, shared.ErrInvalidToken)
	_, err = svc.Authenticate(ctx, pair.AccessToken, RefreshToken)
	assert.ErrorIs(t, err, shared.ErrInvalidToken)

	claims, err := svc.Authenticate(ctx, pair.AccessToken, AccessToken)
	require.NoError(t, err)
	assert.Equal(t, testSubject, claims.User)
}

func TestRevokedTokenIsInvalidBeforeExpiry(t *testing.T) {
	ctx := context.Background()
	svc, mr := newTokenService(t)
	token, claims, err := svc.Issue(testSubject, time.Hour, false)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, claims.ID))
	raw, err := mr.Get(claims.ID)
	require.NoError(t, err)
	assert.Equal(t, "", raw)
	assert.Equal(t, 24*time.Hour, mr.TTL(claims.ID))

	_, err = svc.Authenticate(ctx, token, AccessToken)
	assert.ErrorIs(t, err, shared.ErrInvalidToken)
}

func TestRefreshRotatesAndBlocksReplay(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTokenService(t)
	pair, err := svc.IssuePair(testSubject)
	require.NoError(t, err)

	next, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)
	assert.Equal(t, "bearer", next.TokenType)
	assert.EqualValues(t, 900, next.ExpiresIn)

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, shared.ErrInvalidToken)

	_, err = svc.Refresh(ctx, next.RefreshToken)
	assert.NoError(t, err)
}

func TestRefreshWithRevokedTokenFails(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTokenService(t)
	pair, err := svc.IssuePair(testSubject)
	require.NoError(t, err)
	claims, err := svc.Decode(pair.RefreshToken)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, claims.ID))
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, shared.ErrInvalidToken)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	svc, _ := newTokenService(t)
	pair, err := svc.IssuePair(testSubject)
	require.NoError(t, err)
	_, err = svc.Refresh(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, shared.ErrInvalidToken)
}

func TestRevocationSurvivesFullMemoryStore(t *testing.T) {
	ctx := context.Background()
	store, err := cache.NewPinnedMemoryStore(4)
	require.NoError(t, err)
	svc, err := NewTokenService(TokenConfig{
		Secret:     "test-secret",
		Algorithm:  "HS256",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}, store, nil)
	require.NoError(t, err)

	pair, err := svc.IssuePair(testSubject)
	require.NoError(t, err)
	next, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	for _, key := range []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com"} {
		_ = cache.SetJSON(ctx, store, key, map[string]string{"bearerToken": "B"}, time.Hour)
	}

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, shared.ErrInvalidToken)

	_, err = svc.Refresh(ctx, next.RefreshToken)
	require.ErrorIs(t, err, cache.ErrFull)
}
