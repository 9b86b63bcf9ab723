// Package bundb is a SQL StorageProvider backed by bun over SQLite.
// A Store wraps one connection: Open begins a transaction, Commit and
// Rollback end it and immediately begin the next, so the connection always
// has an active transaction scope while open.
package bundb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	gatekeeper "github.com/tanagerlabs/go-gatekeeper"
)

const (
	seqAccount    = "account"
	seqAuditEntry = "audit_entry"
)

type accountRow struct {
	bun.BaseModel `bun:"table:accounts,alias:acct"`

	ID                          int64      `bun:"id,pk"`
	Username                    string     `bun:"username,notnull,unique"`
	Name                        string     `bun:"name,notnull"`
	PasswordHash                string     `bun:"password_hash,notnull"`
	NeedsPasswordChange         bool       `bun:"needs_password_change,notnull"`
	IsLocked                    bool       `bun:"is_locked,notnull"`
	IsDormant                   bool       `bun:"is_dormant,notnull"`
	OngoingPasswordFailureCount int        `bun:"ongoing_password_failure_count,notnull"`
	LastPasswordFailureTime     *time.Time `bun:"last_password_failure_time,nullzero"`
}

func (r *accountRow) toAccount() *gatekeeper.Account {
	account := &gatekeeper.Account{
		ID:                          r.ID,
		Username:                    r.Username,
		Name:                        r.Name,
		PasswordHash:                r.PasswordHash,
		NeedsPasswordChange:         r.NeedsPasswordChange,
		IsLocked:                    r.IsLocked,
		IsDormant:                   r.IsDormant,
		OngoingPasswordFailureCount: r.OngoingPasswordFailureCount,
	}
	if r.LastPasswordFailureTime != nil {
		t := r.LastPasswordFailureTime.UTC()
		account.LastPasswordFailureTime = &t
	}
	return account
}

func accountToRow(account *gatekeeper.Account) *accountRow {
	row := &accountRow{
		ID:                          account.ID,
		Username:                    account.Username,
		Name:                        account.Name,
		PasswordHash:                account.PasswordHash,
		NeedsPasswordChange:         account.NeedsPasswordChange,
		IsLocked:                    account.IsLocked,
		IsDormant:                   account.IsDormant,
		OngoingPasswordFailureCount: account.OngoingPasswordFailureCount,
	}
	if account.LastPasswordFailureTime != nil {
		t := account.LastPasswordFailureTime.UTC()
		row.LastPasswordFailureTime = &t
	}
	return row
}

type auditEntryRow struct {
	bun.BaseModel `bun:"table:audit_log,alias:alog"`

	ID         int64     `bun:"id,pk"`
	Time       time.Time `bun:"time,notnull"`
	AccountID  *int64    `bun:"account_id,nullzero"`
	Tag        string    `bun:"tag,notnull"`
	Text       string    `bun:"text,notnull"`
	UsecaseTag string    `bun:"usecase_tag,notnull"`
}

func (r *auditEntryRow) toAuditEntry() *gatekeeper.AuditEntry {
	entry := &gatekeeper.AuditEntry{
		ID:         r.ID,
		Time:       r.Time.UTC(),
		Tag:        gatekeeper.AuditTag(r.Tag),
		Text:       r.Text,
		UsecaseTag: r.UsecaseTag,
	}
	if r.AccountID != nil {
		id := *r.AccountID
		entry.AccountID = &id
	}
	return entry
}

func auditEntryToRow(entry *gatekeeper.AuditEntry) *auditEntryRow {
	row := &auditEntryRow{
		ID:         entry.ID,
		Time:       entry.Time.UTC(),
		Tag:        string(entry.Tag),
		Text:       entry.Text,
		UsecaseTag: entry.UsecaseTag,
	}
	if entry.AccountID != nil {
		id := *entry.AccountID
		row.AccountID = &id
	}
	return row
}

// rulesRow holds the singleton policy record.
type rulesRow struct {
	bun.BaseModel `bun:"table:rules,alias:rls"`

	ID                      int64 `bun:"id,pk"`
	LoginFailThresholdCount int   `bun:"login_fail_threshold_count,notnull"`
	LoginFailLockMinutes    int   `bun:"login_fail_lock_minutes,notnull"`
}

type sequenceRow struct {
	bun.BaseModel `bun:"table:sequences,alias:seq"`

	Name  string `bun:"name,pk"`
	Value int64  `bun:"value,notnull"`
}

// OpenDB opens a SQLite database through the bun shim driver. Use
// "file::memory:?cache=shared" for an in-memory database.
func OpenDB(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// CreateTables creates the backing tables when they do not exist yet.
// Production schema management stays outside this package; this exists for
// tests and development databases.
func CreateTables(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*accountRow)(nil),
		(*auditEntryRow)(nil),
		(*rulesRow)(nil),
		(*sequenceRow)(nil),
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	return nil
}

// Store implements gatekeeper.StorageProvider over bun.
type Store struct {
	ctx    context.Context
	db     *bun.DB
	tx     bun.Tx
	isOpen bool

	// seqFloor keeps allocation monotonic across rollbacks within this
	// connection. The sequences table lands the high-water mark at commit
	// time and, via persistSeqFloor, on rollback and close, so later
	// connections never reissue a burned id.
	seqFloor map[string]int64
}

var _ gatekeeper.StorageProvider = (*Store)(nil)

// NewStore binds a request-scoped store to the given database handle.
func NewStore(ctx context.Context, db *bun.DB) *Store {
	return &Store{
		ctx:      ctx,
		db:       db,
		seqFloor: make(map[string]int64),
	}
}

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
	tx, err := s.db.BeginTx(s.ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	s.tx = tx
	s.isOpen = true
	return nil
}

func (s *Store) Close() error {
	if !s.isOpen {
		return gatekeeper.ErrStoreClosed
	}
	// discard whatever was not committed
	_ = s.tx.Rollback()
	s.isOpen = false
	return s.persistSeqFloor()
}

func (s *Store) Commit() error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return s.begin()
}

func (s *Store) Rollback() error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	if err := s.persistSeqFloor(); err != nil {
		s.isOpen = false
		return err
	}
	return s.begin()
}

// persistSeqFloor lands the allocation high-water marks outside any
// transaction. It must run while no transaction is active on the
// connection; Rollback and Close call it right after ending theirs. This
// is what keeps ids burned by a rolled-back insert burned for every later
// connection, not just this one.
func (s *Store) persistSeqFloor() error {
	for name, value := range s.seqFloor {
		row := &sequenceRow{Name: name, Value: value}
		if _, err := s.db.NewInsert().
			Model(row).
			On("CONFLICT (name) DO UPDATE").
			Set("value = MAX(value, EXCLUDED.value)").
			Exec(s.ctx); err != nil {
			return fmt.Errorf("persist sequence %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) begin() error {
	tx, err := s.db.BeginTx(s.ctx, nil)
	if err != nil {
		s.isOpen = false
		return fmt.Errorf("begin transaction: %w", err)
	}
	s.tx = tx
	return nil
}

func (s *Store) GetNextAccountID() (int64, error) {
	return s.nextID(seqAccount)
}

func (s *Store) GetNextAuditEntryID() (int64, error) {
	return s.nextID(seqAuditEntry)
}

// nextID hands out the next value of a named sequence. The in-memory
// floor keeps allocation monotonic within this connection; the persisted
// row carries the mark to other connections, written here in-tx and
// re-landed by persistSeqFloor when the transaction does not survive.
func (s *Store) nextID(name string) (int64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}

	var persisted int64
	err := s.tx.NewSelect().
		Model((*sequenceRow)(nil)).
		Column("value").
		Where("name = ?", name).
		Scan(s.ctx, &persisted)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read sequence %s: %w", name, err)
	}

	id := persisted
	if floor := s.seqFloor[name]; floor > id {
		id = floor
	}
	id++
	s.seqFloor[name] = id

	row := &sequenceRow{Name: name, Value: id}
	if _, err := s.tx.NewInsert().
		Model(row).
		On("CONFLICT (name) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(s.ctx); err != nil {
		return 0, fmt.Errorf("advance sequence %s: %w", name, err)
	}

	return id, nil
}

func (s *Store) GetAccountByUsername(username string) (*gatekeeper.Account, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	row := &accountRow{}
	err := s.tx.NewSelect().Model(row).Where("username = ?", username).Scan(s.ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, gatekeeper.NewNotFoundError(
				fmt.Sprintf("can not get account (username=%s): record does not exist", username),
				"username", username,
			)
		}
		return nil, fmt.Errorf("select account by username: %w", err)
	}
	return row.toAccount(), nil
}

func (s *Store) GetAccountByID(id int64) (*gatekeeper.Account, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	row := &accountRow{}
	err := s.tx.NewSelect().Model(row).Where("id = ?", id).Scan(s.ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, gatekeeper.NewNotFoundError(
				fmt.Sprintf("can not get account (id=%d): record does not exist", id),
				"id", id,
			)
		}
		return nil, fmt.Errorf("select account by id: %w", err)
	}
	return row.toAccount(), nil
}

func (s *Store) AddAccount(account *gatekeeper.Account) error {
	if err := s.guard(); err != nil {
		return err
	}

	if exists, err := s.rowExists((*accountRow)(nil), "id = ?", account.ID); err != nil {
		return err
	} else if exists {
		return gatekeeper.NewConflictError(
			fmt.Sprintf("can not add account (id=%d, username=%s): record with this id already exists",
				account.ID, account.Username),
			"id", account.ID,
		)
	}
	if exists, err := s.rowExists((*accountRow)(nil), "username = ?", account.Username); err != nil {
		return err
	} else if exists {
		return gatekeeper.NewConflictError(
			fmt.Sprintf("can not add account (id=%d, username=%s): record with this username already exists",
				account.ID, account.Username),
			"username", account.Username,
		)
	}

	if _, err := s.tx.NewInsert().Model(accountToRow(account)).Exec(s.ctx); err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *Store) UpdateAccount(account *gatekeeper.Account) error {
	if err := s.guard(); err != nil {
		return err
	}
	res, err := s.tx.NewUpdate().
		Model(accountToRow(account)).
		WherePK().
		Exec(s.ctx)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return gatekeeper.NewNotFoundError(
			fmt.Sprintf("can not update account (id=%d): record does not exist", account.ID),
			"id", account.ID,
		)
	}
	return nil
}

func (s *Store) ExistsUsername(username string) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	return s.rowExists((*accountRow)(nil), "username = ?", username)
}

func (s *Store) GetAccountCount() (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	count, err := s.tx.NewSelect().Model((*accountRow)(nil)).Count(s.ctx)
	if err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return count, nil
}

func (s *Store) AddAuditEntry(entry *gatekeeper.AuditEntry) error {
	if err := s.guard(); err != nil {
		return err
	}
	if exists, err := s.rowExists((*auditEntryRow)(nil), "id = ?", entry.ID); err != nil {
		return err
	} else if exists {
		return gatekeeper.NewConflictError(
			fmt.Sprintf("can not add audit entry (id=%d): record with this id already exists", entry.ID),
			"id", entry.ID,
		)
	}
	if _, err := s.tx.NewInsert().Model(auditEntryToRow(entry)).Exec(s.ctx); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) GetAuditEntryByID(id int64) (*gatekeeper.AuditEntry, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	row := &auditEntryRow{}
	err := s.tx.NewSelect().Model(row).Where("id = ?", id).Scan(s.ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, gatekeeper.NewNotFoundError(
				fmt.Sprintf("can not get audit entry (id=%d): record does not exist", id),
				"id", id,
			)
		}
		return nil, fmt.Errorf("select audit entry: %w", err)
	}
	return row.toAuditEntry(), nil
}

func (s *Store) GetLastAuditEntry() (*gatekeeper.AuditEntry, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	row := &auditEntryRow{}
	err := s.tx.NewSelect().Model(row).OrderExpr("id DESC").Limit(1).Scan(s.ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, gatekeeper.ErrAuditLogEmpty
		}
		return nil, fmt.Errorf("select last audit entry: %w", err)
	}
	return row.toAuditEntry(), nil
}

func (s *Store) GetRules() (gatekeeper.Rules, error) {
	if err := s.guard(); err != nil {
		return gatekeeper.Rules{}, err
	}
	row := &rulesRow{}
	err := s.tx.NewSelect().Model(row).Where("id = 1").Scan(s.ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return gatekeeper.DefaultRules(), nil
		}
		return gatekeeper.Rules{}, fmt.Errorf("select rules: %w", err)
	}
	return gatekeeper.Rules{
		LoginFailThresholdCount: row.LoginFailThresholdCount,
		LoginFailLockMinutes:    row.LoginFailLockMinutes,
	}, nil
}

func (s *Store) SaveRules(rules gatekeeper.Rules) error {
	if err := s.guard(); err != nil {
		return err
	}
	row := &rulesRow{
		ID:                      1,
		LoginFailThresholdCount: rules.LoginFailThresholdCount,
		LoginFailLockMinutes:    rules.LoginFailLockMinutes,
	}
	if _, err := s.tx.NewInsert().
		Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("login_fail_threshold_count = EXCLUDED.login_fail_threshold_count").
		Set("login_fail_lock_minutes = EXCLUDED.login_fail_lock_minutes").
		Exec(s.ctx); err != nil {
		return fmt.Errorf("save rules: %w", err)
	}
	return nil
}

func (s *Store) rowExists(model any, where string, arg any) (bool, error) {
	exists, err := s.tx.NewSelect().Model(model).Where(where, arg).Exists(s.ctx)
	if err != nil {
		return false, fmt.Errorf("check row existence: %w", err)
	}
	return exists, nil
}
