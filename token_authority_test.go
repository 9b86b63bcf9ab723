package gatekeeper_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gatekeeper "github.com/tanagerlabs/go-gatekeeper"
	"github.com/tanagerlabs/go-gatekeeper/store/memory"
)

func newAuthorityHarness(t *testing.T) (gatekeeper.StorageProvider, *gatekeeper.TokenAuthority) {
	t.Helper()

	store := memory.NewStore()
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.AddAccount(&gatekeeper.Account{
		ID:           1,
		Username:     testUsername,
		Name:         "Fox Mulder",
		PasswordHash: "irrelevant",
	}))

	authority := gatekeeper.NewTokenAuthority(store, gatekeeper.SimpleConfig{
		SigningKey: "test signing key",
		Issuer:     "gatekeeper-test",
	})
	return store, authority
}

func TestTokenRoundTrip(t *testing.T) {
	_, authority := newAuthorityHarness(t)

	expireTime := time.Now().Add(time.Hour)
	token, err := authority.CreateToken(1, expireTime)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	account, err := authority.Authenticate(token, testRemoteAddr, "test_method")
	require.NoError(t, err)
	assert.Equal(t, int64(1), account.ID)
	assert.Equal(t, testUsername, account.Username)
}

func TestTokenMissing(t *testing.T) {
	_, authority := newAuthorityHarness(t)

	_, err := authority.Authenticate("", testRemoteAddr, "test_method")
	require.Error(t, err)
	assert.True(t, errors.Is(err, gatekeeper.ErrTokenMissing))
	assert.Equal(t, gatekeeper.CodeTokenMissing, gatekeeper.TokenErrorCode(err))
}

func TestTokenExpired(t *testing.T) {
	_, authority := newAuthorityHarness(t)

	token, err := authority.CreateToken(1, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = authority.Authenticate(token, testRemoteAddr, "test_method")
	require.Error(t, err)
	assert.True(t, errors.Is(err, gatekeeper.ErrTokenExpired))
	assert.Equal(t, gatekeeper.CodeTokenExpired, gatekeeper.TokenErrorCode(err))
}

func TestTokenGarbage(t *testing.T) {
	_, authority := newAuthorityHarness(t)

	_, err := authority.Authenticate("not-a-token", testRemoteAddr, "test_method")
	require.Error(t, err)
	assert.True(t, errors.Is(err, gatekeeper.ErrTokenInvalid))
	assert.Equal(t, gatekeeper.CodeTokenInvalid, gatekeeper.TokenErrorCode(err))
}

func TestTokenSignedWithDifferentKey(t *testing.T) {
	store, _ := newAuthorityHarness(t)

	other := gatekeeper.NewTokenAuthority(store, gatekeeper.SimpleConfig{
		SigningKey: "a different signing key",
	})
	token, err := other.CreateToken(1, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, authority := newAuthorityHarness(t)
	_, err = authority.Authenticate(token, testRemoteAddr, "test_method")
	require.Error(t, err)
	assert.True(t, errors.Is(err, gatekeeper.ErrTokenInvalid))
}

func TestTokenForDeletedAccount(t *testing.T) {
	_, authority := newAuthorityHarness(t)

	// id 99 never existed; resolution failure surfaces as an internal error
	token, err := authority.CreateToken(99, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = authority.Authenticate(token, testRemoteAddr, "test_method")
	require.Error(t, err)
	assert.True(t, errors.Is(err, gatekeeper.ErrTokenInternal))
	assert.Equal(t, gatekeeper.CodeTokenInternal, gatekeeper.TokenErrorCode(err))
}

func TestTokenExpireTime(t *testing.T) {
	_, authority := newAuthorityHarness(t)

	expireTime := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	token, err := authority.CreateToken(1, expireTime)
	require.NoError(t, err)

	decoded, err := authority.ExpireTime(token)
	require.NoError(t, err)
	assert.True(t, expireTime.Equal(decoded))
}

func TestTokenExpireTimeGarbage(t *testing.T) {
	_, authority := newAuthorityHarness(t)

	_, err := authority.ExpireTime("not-a-token")
	assert.Error(t, err)
}

func TestTokensCarryUniqueIDs(t *testing.T) {
	_, authority := newAuthorityHarness(t)

	expireTime := time.Now().Add(time.Hour)
	first, err := authority.CreateToken(1, expireTime)
	require.NoError(t, err)
	second, err := authority.CreateToken(1, expireTime)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}
