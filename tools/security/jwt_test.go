package security

import (
	"context"
	"testing"
	"time"

	"PChat/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndAuthenticate(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	tok, exp, err := Generate(opts, "user-a", nil)
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	uid, err := NewAuthenticator(opts).Authenticate(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "user-a", uid)
}

func TestAuthenticateRejects(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	auth := NewAuthenticator(opts)

	_, err := auth.Authenticate(context.Background(), "")
	require.True(t, errors.Is(err, errs.ErrUnauthenticated))

	other, _, err := Generate(DefaultOptions([]byte("other")), "user-a", nil)
	require.NoError(t, err)
	_, err = auth.Authenticate(context.Background(), other)
	require.True(t, errors.Is(err, errs.ErrUnauthenticated))

	expired := opts
	expired.TTL = time.Nanosecond
	tok, _, err := Generate(expired, "user-a", nil)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	_, err = auth.Authenticate(context.Background(), tok)
	require.True(t, errors.Is(err, errs.ErrUnauthenticated))
}

func TestAuthenticateRequiresSubject(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	tok, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString(opts.Secret)
	require.NoError(t, err)

	_, err = NewAuthenticator(opts).Authenticate(context.Background(), tok)
	require.True(t, errors.Is(err, errs.ErrUnauthenticated))
}

func TestVerifyRejectsNoneAlg(t *testing.T) {
	tok, err := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.MapClaims{"sub": "x"}).
		SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = Verify(DefaultOptions([]byte("s")), tok)
	require.Error(t, err)
}

func TestHashTokenStable(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
}
