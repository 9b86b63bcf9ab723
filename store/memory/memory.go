// Package memory is a lightweight in-memory StorageProvider. Transactions
// are implemented by snapshotting every table on Open/Commit and restoring
// the snapshot on Rollback, which satisfies the contract without a real
// write-ahead log. Intended for tests and development.
package memory

import (
	"fmt"

	gatekeeper "github.com/tanagerlabs/go-gatekeeper"
)

type tables struct {
	accounts     map[int64]*gatekeeper.Account
	auditEntries map[int64]*gatekeeper.AuditEntry
	rules        *gatekeeper.Rules
}

func newTables() tables {
	return tables{
		accounts:     make(map[int64]*gatekeeper.Account),
		auditEntries: make(map[int64]*gatekeeper.AuditEntry),
	}
}

func (t tables) copy() tables {
	dupe := newTables()
	for id, account := range t.accounts {
		dupe.accounts[id] = account.Copy()
	}
	for id, entry := range t.auditEntries {
		dupe.auditEntries[id] = entry.Copy()
	}
	if t.rules != nil {
		rules := *t.rules
		dupe.rules = &rules
	}
	return dupe
}

// Store implements gatekeeper.StorageProvider in memory.
type Store struct {
	isOpen bool
	live   tables
	saved  tables

	// id counters live outside the snapshot: ids burned by a rolled-back
	// insert are never reused.
	nextAccountID    int64
	nextAuditEntryID int64
}

var _ gatekeeper.StorageProvider = (*Store)(nil)

// NewStore returns an empty, closed store.
func NewStore() *Store {
	return &Store{
		live:             newTables(),
		nextAccountID:    1,
		nextAuditEntryID: 1,
	}
}

// guard blocks data access while the connection is closed.
func (s *Store) guard() error {
	if !s.isOpen {
		return gatekeeper.ErrStoreClosed
	}
	return nil
}

func (s *Store) Open() error {
	if s.isOpen {
		return gatekeeper.ErrStoreAlreadyOpen
	}
	s.isOpen = true
	s.saved = s.live.copy()
	return nil
}

func (s *Store) Close() error {
	if !s.isOpen {
		return gatekeeper.ErrStoreClosed
	}
	s.live = s.saved.copy()
	s.isOpen = false
	return nil
}

func (s *Store) Commit() error {
	if err := s.guard(); err != nil {
		return err
	}
	s.saved = s.live.copy()
	return nil
}

func (s *Store) Rollback() error {
	if err := s.guard(); err != nil {
		return err
	}
	s.live = s.saved.copy()
	return nil
}

func (s *Store) GetNextAccountID() (int64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	id := s.nextAccountID
	s.nextAccountID++
	return id, nil
}

func (s *Store) GetNextAuditEntryID() (int64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	id := s.nextAuditEntryID
	s.nextAuditEntryID++
	return id, nil
}

func (s *Store) GetAccountByUsername(username string) (*gatekeeper.Account, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	for _, account := range s.live.accounts {
		if account.Username == username {
			return account.Copy(), nil
		}
	}
	return nil, gatekeeper.NewNotFoundError(
		fmt.Sprintf("can not get account (username=%s): record does not exist", username),
		"username", username,
	)
}

func (s *Store) GetAccountByID(id int64) (*gatekeeper.Account, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	account, ok := s.live.accounts[id]
	if !ok {
		return nil, gatekeeper.NewNotFoundError(
			fmt.Sprintf("can not get account (id=%d): record does not exist", id),
			"id", id,
		)
	}
	return account.Copy(), nil
}

func (s *Store) AddAccount(account *gatekeeper.Account) error {
	if err := s.guard(); err != nil {
		return err
	}
	if _, exists := s.live.accounts[account.ID]; exists {
		return gatekeeper.NewConflictError(
			fmt.Sprintf("can not add account (id=%d, username=%s): record with this id already exists",
				account.ID, account.Username),
			"id", account.ID,
		)
	}
	for _, existing := range s.live.accounts {
		if existing.Username == account.Username {
			return gatekeeper.NewConflictError(
				fmt.Sprintf("can not add account (id=%d, username=%s): record with this username already exists",
					account.ID, account.Username),
				"username", account.Username,
			)
		}
	}
	s.live.accounts[account.ID] = account.Copy()
	return nil
}

func (s *Store) UpdateAccount(account *gatekeeper.Account) error {
	if err := s.guard(); err != nil {
		return err
	}
	if _, exists := s.live.accounts[account.ID]; !exists {
		return gatekeeper.NewNotFoundError(
			fmt.Sprintf("can not update account (id=%d): record does not exist", account.ID),
			"id", account.ID,
		)
	}
	s.live.accounts[account.ID] = account.Copy()
	return nil
}

func (s *Store) ExistsUsername(username string) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	for _, account := range s.live.accounts {
		if account.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetAccountCount() (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	return len(s.live.accounts), nil
}

func (s *Store) AddAuditEntry(entry *gatekeeper.AuditEntry) error {
	if err := s.guard(); err != nil {
		return err
	}
	if _, exists := s.live.auditEntries[entry.ID]; exists {
		return gatekeeper.NewConflictError(
			fmt.Sprintf("can not add audit entry (id=%d): record with this id already exists", entry.ID),
			"id", entry.ID,
		)
	}
	s.live.auditEntries[entry.ID] = entry.Copy()
	return nil
}

func (s *Store) GetAuditEntryByID(id int64) (*gatekeeper.AuditEntry, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	entry, ok := s.live.auditEntries[id]
	if !ok {
		return nil, gatekeeper.NewNotFoundError(
			fmt.Sprintf("can not get audit entry (id=%d): record does not exist", id),
			"id", id,
		)
	}
	return entry.Copy(), nil
}

func (s *Store) GetLastAuditEntry() (*gatekeeper.AuditEntry, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var last *gatekeeper.AuditEntry
	for _, entry := range s.live.auditEntries {
		if last == nil || entry.ID > last.ID {
			last = entry
		}
	}
	if last == nil {
		return nil, gatekeeper.ErrAuditLogEmpty
	}
	return last.Copy(), nil
}

func (s *Store) GetRules() (gatekeeper.Rules, error) {
	if err := s.guard(); err != nil {
		return gatekeeper.Rules{}, err
	}
	if s.live.rules == nil {
		return gatekeeper.DefaultRules(), nil
	}
	return *s.live.rules, nil
}

func (s *Store) SaveRules(rules gatekeeper.Rules) error {
	if err := s.guard(); err != nil {
		return err
	}
	s.live.rules = &rules
	return nil
}
