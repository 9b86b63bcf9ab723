package gatekeeper_test

import (
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"

	gatekeeper "github.com/tanagerlabs/go-gatekeeper"
)

// Storage failures mid-pipeline must fold into the generic failure
// message; the caller never sees an error or a panic.

func storageBlewUp() error {
	return goerrors.New("storage blew up", goerrors.CategoryInternal)
}

func runAgainstMock(store *MockStore) gatekeeper.LoginResult {
	login := gatekeeper.NewLoginToSystem(store, gatekeeper.BcryptHasher{Cost: bcrypt.MinCost})
	return login.Run(gatekeeper.LoginRequest{
		Username:   testUsername,
		Password:   testPassword,
		RemoteAddr: testRemoteAddr,
	})
}

func TestLoginStorageFailureOnExistenceCheck(t *testing.T) {
	store := new(MockStore)
	store.On("ExistsUsername", testUsername).Return(false, storageBlewUp())

	result := runAgainstMock(store)

	assert.True(t, result.HasFailed)
	assert.Equal(t, "Login attempt failed.", result.Message)
	assert.Zero(t, result.AccountID)
	store.AssertExpectations(t)
}

func TestLoginStorageFailureOnAccountFetch(t *testing.T) {
	store := new(MockStore)
	store.On("ExistsUsername", testUsername).Return(true, nil)
	store.On("GetAccountByUsername", testUsername).Return(nil, storageBlewUp())

	result := runAgainstMock(store)

	assert.True(t, result.HasFailed)
	assert.Equal(t, "Login attempt failed.", result.Message)
	store.AssertExpectations(t)
}

func TestLoginStorageFailureOnRulesFetch(t *testing.T) {
	hasher := gatekeeper.BcryptHasher{Cost: bcrypt.MinCost}
	hash, err := hasher.Hash(testPassword)
	assert.NoError(t, err)

	store := new(MockStore)
	store.On("ExistsUsername", testUsername).Return(true, nil)
	store.On("GetAccountByUsername", testUsername).Return(&gatekeeper.Account{
		ID:           1,
		Username:     testUsername,
		Name:         "Fox Mulder",
		PasswordHash: hash,
		IsLocked:     true,
	}, nil)
	store.On("GetRules").Return(gatekeeper.Rules{}, storageBlewUp())

	result := runAgainstMock(store)

	assert.True(t, result.HasFailed)
	assert.Equal(t, "Login attempt failed.", result.Message)
	store.AssertExpectations(t)
}

func TestLoginStorageFailureOnSuccessCommit(t *testing.T) {
	hasher := gatekeeper.BcryptHasher{Cost: bcrypt.MinCost}
	hash, err := hasher.Hash(testPassword)
	assert.NoError(t, err)

	store := new(MockStore)
	store.On("ExistsUsername", testUsername).Return(true, nil)
	store.On("GetAccountByUsername", testUsername).Return(&gatekeeper.Account{
		ID:           1,
		Username:     testUsername,
		Name:         "Fox Mulder",
		PasswordHash: hash,
	}, nil)
	store.On("UpdateAccount", mock.Anything).Return(nil)
	store.On("GetNextAuditEntryID").Return(int64(1), nil)
	store.On("AddAuditEntry", mock.Anything).Return(nil)
	store.On("Commit").Return(storageBlewUp())

	// the credentials were right, but nothing was durably committed;
	// reporting success here would mint a token for an unrecorded login
	result := runAgainstMock(store)

	assert.True(t, result.HasFailed)
	assert.Equal(t, "Login attempt failed.", result.Message)
	assert.Zero(t, result.AccountID)
	store.AssertExpectations(t)
}

func TestLoginStorageFailureOnAuditAllocation(t *testing.T) {
	store := new(MockStore)
	store.On("ExistsUsername", testUsername).Return(false, nil)
	store.On("GetNextAuditEntryID").Return(int64(0), storageBlewUp())

	result := runAgainstMock(store)

	assert.True(t, result.HasFailed)
	assert.Equal(t, "Login attempt failed.", result.Message)
	store.AssertExpectations(t)
}

func TestLoginStorageFailureOnAccountUpdate(t *testing.T) {
	store := new(MockStore)
	store.On("ExistsUsername", testUsername).Return(true, nil)
	store.On("GetAccountByUsername", testUsername).Return(&gatekeeper.Account{
		ID:           1,
		Username:     testUsername,
		Name:         "Fox Mulder",
		PasswordHash: "does not match",
	}, nil)
	store.On("GetRules").Return(gatekeeper.DefaultRules(), nil)
	store.On("UpdateAccount", mock.Anything).Return(storageBlewUp())

	result := runAgainstMock(store)

	assert.True(t, result.HasFailed)
	assert.Equal(t, "Login attempt failed.", result.Message)
	store.AssertExpectations(t)
}
