package actor

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testVerifier() *Verifier {
	return NewVerifier("test-secret", "phk-test", "").WithClock(func() time.Time { return fixedNow })
}

func TestContextRoundTrip(t *testing.T) {
	ctx := WithActor(context.Background(), Actor{UserID: "user-1", Roles: []string{"coach"}})

	a, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "user-1", a.UserID)

	id := UserID(ctx)
	require.NotNil(t, id)
	assert.Equal(t, "user-1", *id)
}

func TestContextAnonymous(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
	assert.Nil(t, UserID(context.Background()))

	// An empty user id is not an actor.
	assert.Nil(t, UserID(WithActor(context.Background(), Actor{})))
}

func TestVerify_Valid(t *testing.T) {
	v := testVerifier()
	tok, err := v.Issue("user-123", []string{"admin"}, time.Hour)
	require.NoError(t, err)

	a, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-123", a.UserID)
	assert.Equal(t, []string{"admin"}, a.Roles)
}

func TestVerify_Expired(t *testing.T) {
	v := testVerifier()
	tok, err := v.Issue("user-123", nil, time.Minute)
	require.NoError(t, err)

	later := v.WithClock(func() time.Time { return fixedNow.Add(time.Hour) })
	_, err = later.Verify(tok)
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerify_WrongSecret(t *testing.T) {
	tok, err := testVerifier().Issue("user-123", nil, time.Hour)
	require.NoError(t, err)

	other := NewVerifier("other-secret", "phk-test", "").WithClock(func() time.Time { return fixedNow })
	_, err = other.Verify(tok)
	assert.ErrorIs(t, err, jwt.ErrSignatureInvalid)
}

func TestVerify_WrongIssuer(t *testing.T) {
	tok, err := NewVerifier("test-secret", "someone-else", "").
		WithClock(func() time.Time { return fixedNow }).
		Issue("user-123", nil, time.Hour)
	require.NoError(t, err)

	_, err = testVerifier().Verify(tok)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
}

func TestVerify_RejectsNoneAlgorithm(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-123",
		Issuer:    "phk-test",
		ExpiresAt: jwt.NewNumericDate(fixedNow.Add(time.Hour)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = testVerifier().Verify(tok)
	assert.Error(t, err)
}

func TestNewVerifier_EmptySecretDisables(t *testing.T) {
	assert.Nil(t, NewVerifier("", "", ""))
}

func TestFromRequest(t *testing.T) {
	v := testVerifier()
	tok, err := v.Issue("user-9", nil, time.Hour)
	require.NoError(t, err)

	t.Run("no header is anonymous", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		_, ok, err := v.FromRequest(r)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("valid token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", "Bearer "+tok)
		a, ok, err := v.FromRequest(r)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "user-9", a.UserID)
	})

	t.Run("malformed header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", "Token abc")
		_, _, err := v.FromRequest(r)
		assert.Error(t, err)
	})

	t.Run("garbage token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", "Bearer not-a-jwt")
		_, _, err := v.FromRequest(r)
		assert.Error(t, err)
	})

	t.Run("disabled verifier ignores tokens", func(t *testing.T) {
		var disabled *Verifier
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", "Bearer "+tok)
		_, ok, err := disabled.FromRequest(r)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
