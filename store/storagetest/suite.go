// Package storagetest holds the behavioral suite every StorageProvider
// implementation must pass. Adapter test packages call Run with a factory
// that builds a fresh, closed store.
package storagetest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gatekeeper "github.com/tanagerlabs/go-gatekeeper"
)

// Factory builds an empty, closed store for one test.
type Factory func(t *testing.T) gatekeeper.StorageProvider

// Run exercises the full storage contract against the factory's stores.
func Run(t *testing.T, factory Factory) {
	t.Run("lifecycle", func(t *testing.T) { runLifecycle(t, factory) })
	t.Run("next ids", func(t *testing.T) { runNextIDs(t, factory) })
	t.Run("accounts", func(t *testing.T) { runAccounts(t, factory) })
	t.Run("transactions", func(t *testing.T) { runTransactions(t, factory) })
	t.Run("audit log", func(t *testing.T) { runAuditLog(t, factory) })
	t.Run("rules", func(t *testing.T) { runRules(t, factory) })
}

func openStore(t *testing.T, factory Factory) gatekeeper.StorageProvider {
	t.Helper()
	store := factory(t)
	require.NoError(t, store.Open())
	t.Cleanup(func() {
		// tests that close the store themselves leave it closed
		_ = store.Close()
	})
	return store
}

func sampleAccount(id int64, username string) *gatekeeper.Account {
	return &gatekeeper.Account{
		ID:           id,
		Username:     username,
		Name:         "Fox Mulder",
		PasswordHash: "hash-" + username,
	}
}

func sampleAuditEntry(id int64, accountID *int64) *gatekeeper.AuditEntry {
	return &gatekeeper.AuditEntry{
		ID:         id,
		Time:       time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC),
		AccountID:  accountID,
		Tag:        gatekeeper.TagUserLogin,
		Text:       "sample audit text",
		UsecaseTag: gatekeeper.LoginUsecaseTag,
	}
}

func runLifecycle(t *testing.T, factory Factory) {
	t.Run("open on an open store fails", func(t *testing.T) {
		store := openStore(t, factory)
		err := store.Open()
		require.Error(t, err)
		assert.True(t, gatekeeper.IsStoreAlreadyOpen(err))
	})

	t.Run("close on a closed store fails", func(t *testing.T) {
		store := factory(t)
		err := store.Close()
		require.Error(t, err)
		assert.True(t, gatekeeper.IsStoreClosed(err))
	})

	t.Run("data access on a closed store fails", func(t *testing.T) {
		store := factory(t)

		_, err := store.GetAccountByUsername("fmulder")
		assert.True(t, gatekeeper.IsStoreClosed(err))

		_, err = store.GetNextAccountID()
		assert.True(t, gatekeeper.IsStoreClosed(err))

		err = store.AddAccount(sampleAccount(1, "fmulder"))
		assert.True(t, gatekeeper.IsStoreClosed(err))

		err = store.Commit()
		assert.True(t, gatekeeper.IsStoreClosed(err))

		err = store.Rollback()
		assert.True(t, gatekeeper.IsStoreClosed(err))

		_, err = store.GetRules()
		assert.True(t, gatekeeper.IsStoreClosed(err))
	})

	t.Run("store can reopen after close", func(t *testing.T) {
		store := factory(t)
		require.NoError(t, store.Open())
		require.NoError(t, store.Close())
		require.NoError(t, store.Open())
		require.NoError(t, store.Close())
	})
}

func runNextIDs(t *testing.T, factory Factory) {
	type nextID func(gatekeeper.StorageProvider) (int64, error)
	methods := map[string]nextID{
		"account":     func(s gatekeeper.StorageProvider) (int64, error) { return s.GetNextAccountID() },
		"audit entry": func(s gatekeeper.StorageProvider) (int64, error) { return s.GetNextAuditEntryID() },
	}

	for name, next := range methods {
		t.Run(name+" id is positive", func(t *testing.T) {
			store := openStore(t, factory)
			id, err := next(store)
			require.NoError(t, err)
			assert.Greater(t, id, int64(0))
		})

		t.Run(name+" id increments", func(t *testing.T) {
			store := openStore(t, factory)
			first, err := next(store)
			require.NoError(t, err)
			second, err := next(store)
			require.NoError(t, err)
			assert.Equal(t, first+1, second)
		})

		t.Run(name+" id does not roll back", func(t *testing.T) {
			store := openStore(t, factory)
			require.NoError(t, store.Commit())
			first, err := next(store)
			require.NoError(t, err)
			require.NoError(t, store.Rollback())
			second, err := next(store)
			require.NoError(t, err)
			assert.Greater(t, second, first)
		})
	}
}

// RunSequenceDurability exercises id allocation across two connections to
// the same database: an id burned by a rolled-back insert on one
// connection must never be reissued to a later one. Adapters whose
// backing is private to a single store (the in-memory one) have nothing
// to run here.
func RunSequenceDurability(t *testing.T, connect Factory) {
	t.Run("burned ids are not reissued to a later connection", func(t *testing.T) {
		first := connect(t)
		require.NoError(t, first.Open())
		burnedAccount, err := first.GetNextAccountID()
		require.NoError(t, err)
		burnedAudit, err := first.GetNextAuditEntryID()
		require.NoError(t, err)
		require.NoError(t, first.Rollback())
		require.NoError(t, first.Close())

		second := connect(t)
		require.NoError(t, second.Open())
		defer second.Close()

		nextAccount, err := second.GetNextAccountID()
		require.NoError(t, err)
		assert.Greater(t, nextAccount, burnedAccount)

		nextAudit, err := second.GetNextAuditEntryID()
		require.NoError(t, err)
		assert.Greater(t, nextAudit, burnedAudit)
	})
}

func runAccounts(t *testing.T, factory Factory) {
	t.Run("add then get by username and id", func(t *testing.T) {
		store := openStore(t, factory)
		account := sampleAccount(1, "fmulder")
		require.NoError(t, store.AddAccount(account))

		byUsername, err := store.GetAccountByUsername("fmulder")
		require.NoError(t, err)
		assert.Equal(t, account, byUsername)

		byID, err := store.GetAccountByID(1)
		require.NoError(t, err)
		assert.Equal(t, account, byID)
	})

	t.Run("get unknown username fails not found", func(t *testing.T) {
		store := openStore(t, factory)
		_, err := store.GetAccountByUsername("nobody")
		require.Error(t, err)
		assert.True(t, gatekeeper.IsNotFound(err))
	})

	t.Run("get unknown id fails not found", func(t *testing.T) {
		store := openStore(t, factory)
		_, err := store.GetAccountByID(99)
		require.Error(t, err)
		assert.True(t, gatekeeper.IsNotFound(err))
	})

	t.Run("add duplicate id fails conflict", func(t *testing.T) {
		store := openStore(t, factory)
		require.NoError(t, store.AddAccount(sampleAccount(1, "fmulder")))
		err := store.AddAccount(sampleAccount(1, "dscully"))
		require.Error(t, err)
		assert.True(t, gatekeeper.IsConflict(err))
	})

	t.Run("add duplicate username fails conflict", func(t *testing.T) {
		store := openStore(t, factory)
		require.NoError(t, store.AddAccount(sampleAccount(1, "fmulder")))
		err := store.AddAccount(sampleAccount(2, "fmulder"))
		require.Error(t, err)
		assert.True(t, gatekeeper.IsConflict(err))
	})

	t.Run("update persists changes", func(t *testing.T) {
		store := openStore(t, factory)
		account := sampleAccount(1, "fmulder")
		require.NoError(t, store.AddAccount(account))

		account.OngoingPasswordFailureCount = 2
		failureTime := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
		account.LastPasswordFailureTime = &failureTime
		require.NoError(t, store.UpdateAccount(account))

		stored, err := store.GetAccountByID(1)
		require.NoError(t, err)
		assert.Equal(t, 2, stored.OngoingPasswordFailureCount)
		require.NotNil(t, stored.LastPasswordFailureTime)
		assert.True(t, failureTime.Equal(*stored.LastPasswordFailureTime))
	})

	t.Run("update unknown account fails not found", func(t *testing.T) {
		store := openStore(t, factory)
		err := store.UpdateAccount(sampleAccount(42, "phantom"))
		require.Error(t, err)
		assert.True(t, gatekeeper.IsNotFound(err))
	})

	t.Run("getters return copies", func(t *testing.T) {
		store := openStore(t, factory)
		require.NoError(t, store.AddAccount(sampleAccount(1, "fmulder")))

		first, err := store.GetAccountByID(1)
		require.NoError(t, err)
		first.Username = "tampered"
		first.OngoingPasswordFailureCount = 99

		second, err := store.GetAccountByID(1)
		require.NoError(t, err)
		assert.Equal(t, "fmulder", second.Username)
		assert.Equal(t, 0, second.OngoingPasswordFailureCount)
	})

	t.Run("exists username", func(t *testing.T) {
		store := openStore(t, factory)
		exists, err := store.ExistsUsername("fmulder")
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, store.AddAccount(sampleAccount(1, "fmulder")))
		exists, err = store.ExistsUsername("fmulder")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("account count", func(t *testing.T) {
		store := openStore(t, factory)
		count, err := store.GetAccountCount()
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		require.NoError(t, store.AddAccount(sampleAccount(1, "fmulder")))
		require.NoError(t, store.AddAccount(sampleAccount(2, "dscully")))
		count, err = store.GetAccountCount()
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})
}

func runTransactions(t *testing.T, factory Factory) {
	t.Run("commit with nothing pending is a no-op", func(t *testing.T) {
		store := openStore(t, factory)
		require.NoError(t, store.Commit())
		require.NoError(t, store.Commit())
		require.NoError(t, store.Commit())
	})

	t.Run("rollback with nothing pending is a no-op", func(t *testing.T) {
		store := openStore(t, factory)
		require.NoError(t, store.Rollback())
		require.NoError(t, store.Rollback())
	})

	// rollback restores to the last commit, not to an arbitrary earlier
	// point: the in-memory adapter snapshots rather than journaling.
	t.Run("rollback discards uncommitted changes", func(t *testing.T) {
		store := openStore(t, factory)
		require.NoError(t, store.AddAccount(sampleAccount(1, "fmulder")))
		require.NoError(t, store.Rollback())

		_, err := store.GetAccountByID(1)
		assert.True(t, gatekeeper.IsNotFound(err))
	})

	t.Run("rollback keeps committed changes", func(t *testing.T) {
		store := openStore(t, factory)
		require.NoError(t, store.AddAccount(sampleAccount(1, "fmulder")))
		require.NoError(t, store.Commit())
		require.NoError(t, store.AddAccount(sampleAccount(2, "dscully")))
		require.NoError(t, store.Rollback())

		_, err := store.GetAccountByID(1)
		require.NoError(t, err)
		_, err = store.GetAccountByID(2)
		assert.True(t, gatekeeper.IsNotFound(err))
	})

	t.Run("close discards uncommitted changes", func(t *testing.T) {
		store := factory(t)
		require.NoError(t, store.Open())
		require.NoError(t, store.AddAccount(sampleAccount(1, "fmulder")))
		require.NoError(t, store.Close())

		require.NoError(t, store.Open())
		defer store.Close()
		_, err := store.GetAccountByID(1)
		assert.True(t, gatekeeper.IsNotFound(err))
	})
}

func runAuditLog(t *testing.T, factory Factory) {
	t.Run("add then get by id", func(t *testing.T) {
		store := openStore(t, factory)
		accountID := int64(1)
		require.NoError(t, store.AddAccount(sampleAccount(accountID, "fmulder")))
		entry := sampleAuditEntry(1, &accountID)
		require.NoError(t, store.AddAuditEntry(entry))

		stored, err := store.GetAuditEntryByID(1)
		require.NoError(t, err)
		assert.Equal(t, entry.Tag, stored.Tag)
		assert.Equal(t, entry.Text, stored.Text)
		assert.Equal(t, entry.UsecaseTag, stored.UsecaseTag)
		require.NotNil(t, stored.AccountID)
		assert.Equal(t, accountID, *stored.AccountID)
		assert.True(t, entry.Time.Equal(stored.Time))
	})

	t.Run("entry with nil account id round-trips", func(t *testing.T) {
		store := openStore(t, factory)
		entry := sampleAuditEntry(1, nil)
		entry.Tag = gatekeeper.TagUnknownUser
		require.NoError(t, store.AddAuditEntry(entry))

		stored, err := store.GetAuditEntryByID(1)
		require.NoError(t, err)
		assert.Nil(t, stored.AccountID)
	})

	t.Run("get unknown id fails not found", func(t *testing.T) {
		store := openStore(t, factory)
		_, err := store.GetAuditEntryByID(404)
		require.Error(t, err)
		assert.True(t, gatekeeper.IsNotFound(err))
		assert.False(t, gatekeeper.IsAuditLogEmpty(err))
	})

	t.Run("add duplicate id fails conflict", func(t *testing.T) {
		store := openStore(t, factory)
		require.NoError(t, store.AddAuditEntry(sampleAuditEntry(1, nil)))
		err := store.AddAuditEntry(sampleAuditEntry(1, nil))
		require.Error(t, err)
		assert.True(t, gatekeeper.IsConflict(err))
	})

	t.Run("last entry on an empty log fails distinctly", func(t *testing.T) {
		store := openStore(t, factory)
		_, err := store.GetLastAuditEntry()
		require.Error(t, err)
		assert.True(t, gatekeeper.IsAuditLogEmpty(err))
		assert.False(t, gatekeeper.IsNotFound(err))
	})

	t.Run("last entry is the highest id", func(t *testing.T) {
		store := openStore(t, factory)
		require.NoError(t, store.AddAuditEntry(sampleAuditEntry(1, nil)))
		second := sampleAuditEntry(2, nil)
		second.Text = "the newest entry"
		require.NoError(t, store.AddAuditEntry(second))

		last, err := store.GetLastAuditEntry()
		require.NoError(t, err)
		assert.Equal(t, int64(2), last.ID)
		assert.Equal(t, "the newest entry", last.Text)
	})
}

func runRules(t *testing.T, factory Factory) {
	t.Run("defaults apply when no record exists", func(t *testing.T) {
		store := openStore(t, factory)
		rules, err := store.GetRules()
		require.NoError(t, err)
		assert.Equal(t, gatekeeper.DefaultRules(), rules)
	})

	t.Run("save then get", func(t *testing.T) {
		store := openStore(t, factory)
		saved := gatekeeper.Rules{
			LoginFailThresholdCount: 5,
			LoginFailLockMinutes:    30,
		}
		require.NoError(t, store.SaveRules(saved))

		rules, err := store.GetRules()
		require.NoError(t, err)
		assert.Equal(t, saved, rules)
	})

	t.Run("save twice keeps the latest", func(t *testing.T) {
		store := openStore(t, factory)
		require.NoError(t, store.SaveRules(gatekeeper.Rules{
			LoginFailThresholdCount: 5,
			LoginFailLockMinutes:    30,
		}))
		require.NoError(t, store.SaveRules(gatekeeper.Rules{
			LoginFailThresholdCount: 7,
			LoginFailLockMinutes:    60,
		}))

		rules, err := store.GetRules()
		require.NoError(t, err)
		assert.Equal(t, 7, rules.LoginFailThresholdCount)
		assert.Equal(t, 60, rules.LoginFailLockMinutes)
	})

	t.Run("rollback restores committed rules", func(t *testing.T) {
		store := openStore(t, factory)
		require.NoError(t, store.SaveRules(gatekeeper.Rules{
			LoginFailThresholdCount: 5,
			LoginFailLockMinutes:    30,
		}))
		require.NoError(t, store.Commit())
		require.NoError(t, store.SaveRules(gatekeeper.Rules{
			LoginFailThresholdCount: 9,
			LoginFailLockMinutes:    90,
		}))
		require.NoError(t, store.Rollback())

		rules, err := store.GetRules()
		require.NoError(t, err)
		assert.Equal(t, 5, rules.LoginFailThresholdCount)
	})
}
