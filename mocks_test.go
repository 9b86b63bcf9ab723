package gatekeeper_test

import (
	"github.com/stretchr/testify/mock"

	gatekeeper "github.com/tanagerlabs/go-gatekeeper"
)

// MockStore implements gatekeeper.StorageProvider
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Open() error {
	return m.Called().Error(0)
}

func (m *MockStore) Close() error {
	return m.Called().Error(0)
}

func (m *MockStore) Commit() error {
	return m.Called().Error(0)
}

func (m *MockStore) Rollback() error {
	return m.Called().Error(0)
}

func (m *MockStore) GetNextAccountID() (int64, error) {
	args := m.Called()
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) GetNextAuditEntryID() (int64, error) {
	args := m.Called()
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) GetAccountByUsername(username string) (*gatekeeper.Account, error) {
	args := m.Called(username)
	if account := args.Get(0); account != nil {
		return account.(*gatekeeper.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) GetAccountByID(id int64) (*gatekeeper.Account, error) {
	args := m.Called(id)
	if account := args.Get(0); account != nil {
		return account.(*gatekeeper.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) AddAccount(account *gatekeeper.Account) error {
	return m.Called(account).Error(0)
}

func (m *MockStore) UpdateAccount(account *gatekeeper.Account) error {
	return m.Called(account).Error(0)
}

func (m *MockStore) ExistsUsername(username string) (bool, error) {
	args := m.Called(username)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) GetAccountCount() (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func (m *MockStore) AddAuditEntry(entry *gatekeeper.AuditEntry) error {
	return m.Called(entry).Error(0)
}

func (m *MockStore) GetAuditEntryByID(id int64) (*gatekeeper.AuditEntry, error) {
	args := m.Called(id)
	if entry := args.Get(0); entry != nil {
		return entry.(*gatekeeper.AuditEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) GetLastAuditEntry() (*gatekeeper.AuditEntry, error) {
	args := m.Called()
	if entry := args.Get(0); entry != nil {
		return entry.(*gatekeeper.AuditEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) GetRules() (gatekeeper.Rules, error) {
	args := m.Called()
	return args.Get(0).(gatekeeper.Rules), args.Error(1)
}

func (m *MockStore) SaveRules(rules gatekeeper.Rules) error {
	return m.Called(rules).Error(0)
}

var _ gatekeeper.StorageProvider = (*MockStore)(nil)
