// Package gatekeeper provides the authentication core of a small web
// application: a credential verification pipeline, bearer token issuance
// and validation, and the transactional storage contract both depend on.
//
// Login pipeline:
//   - LoginToSystem runs one login attempt through an ordered series of
//     checks (existence, dormancy, lockout, password, forced reset, and
//     the optional in-line password change). Every rejection is reported
//     through LoginResult with a caller-safe message; internals never leak
//     to the caller. Each security-relevant event is committed to the
//     audit log as it happens, so a later rollback cannot erase evidence.
//   - Accounts lock when consecutive password failures exceed the
//     persisted Rules threshold, and unlock lazily once the lock window
//     has elapsed.
//
// Tokens:
//   - TokenAuthority mints signed JWT credentials for successful logins
//     and resolves presented tokens back to accounts. Validation failures
//     map to stable numeric codes (CodeTokenMissing through
//     CodeTokenInternal) that TokenAPI mirrors on the wire.
//
// Storage:
//   - StorageProvider is a request-scoped transactional connection with
//     explicit Open, Commit, Rollback, and Close. Id sequences are
//     monotonic across rollbacks. store/memory backs tests, store/bundb
//     backs SQLite via Bun, and store/storagetest holds the behavioral
//     suite any new adapter must pass.
package gatekeeper
