package gatekeeper

// StorageProvider is the transactional contract the login pipeline and
// token authority are written against. A provider owns exactly one
// connection; callers create one per request.
//
// Lifecycle: Closed -> Open (Open fails when already open) -> Closed
// (Close fails when already closed). Every data method returns a
// STORE_CLOSED operation error outside Open. Within Open, Commit durably
// persists everything since the last commit/rollback/open and Rollback
// discards it; both are no-ops when nothing is pending.
//
// Identifier allocation is monotonic per entity and independent of
// rollback: an id burned by a rolled-back insert is never reused.
//
// Getters return copies, never internal references. Lookups that miss
// fail NotFound carrying the lookup key; GetLastAuditEntry on an empty
// log fails with a distinct empty-log error. Add methods fail Conflict
// when the id (or username) already exists.
type StorageProvider interface {
	Open() error
	Close() error
	Commit() error
	Rollback() error

	GetNextAccountID() (int64, error)
	GetNextAuditEntryID() (int64, error)

	GetAccountByUsername(username string) (*Account, error)
	GetAccountByID(id int64) (*Account, error)
	AddAccount(account *Account) error
	UpdateAccount(account *Account) error
	ExistsUsername(username string) (bool, error)
	GetAccountCount() (int, error)

	AddAuditEntry(entry *AuditEntry) error
	GetAuditEntryByID(id int64) (*AuditEntry, error)
	GetLastAuditEntry() (*AuditEntry, error)

	GetRules() (Rules, error)
	SaveRules(rules Rules) error
}
