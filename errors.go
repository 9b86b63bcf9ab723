package gatekeeper

import (
	goerrors "github.com/goliatone/go-errors"
)

// Text codes for storage lifecycle misuse and lookup failures. Lifecycle
// errors are programmer bugs and should fail loudly in tests.
const (
	TextCodeStoreClosed      = "STORE_CLOSED"
	TextCodeStoreAlreadyOpen = "STORE_ALREADY_OPEN"
	TextCodeStoreEmpty       = "STORE_EMPTY"
)

// Text codes for token authority failures.
const (
	TextCodeTokenMissing  = "TOKEN_MISSING"
	TextCodeTokenInvalid  = "TOKEN_INVALID"
	TextCodeTokenExpired  = "TOKEN_EXPIRED"
	TextCodeTokenInternal = "TOKEN_INTERNAL"
)

// Numeric API error codes surfaced by the token-checking middleware.
// These are stable and mirrored on the wire.
const (
	CodeTokenMissing  = 1
	CodeLoginRejected = 2
	CodeTokenInvalid  = 3
	CodeTokenExpired  = 4
	CodeTokenInternal = 5
)

// ErrStoreClosed is returned by storage methods invoked outside Open.
var ErrStoreClosed = goerrors.New("storage connection is closed", goerrors.CategoryOperation).
	WithTextCode(TextCodeStoreClosed)

// ErrStoreAlreadyOpen is returned when Open is called on an open connection.
var ErrStoreAlreadyOpen = goerrors.New("storage connection already open", goerrors.CategoryOperation).
	WithTextCode(TextCodeStoreAlreadyOpen)

// ErrAuditLogEmpty is returned by GetLastAuditEntry when no entry has ever
// been written. Distinct from a by-id NotFound.
var ErrAuditLogEmpty = goerrors.New("audit log is empty", goerrors.CategoryOperation).
	WithTextCode(TextCodeStoreEmpty)

// ErrTokenMissing is returned when no token was presented.
var ErrTokenMissing = goerrors.New("An authorization token is required.", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMissing).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenInvalid is returned on signature or format failures. The message
// deliberately does not say why verification failed.
var ErrTokenInvalid = goerrors.New("The provided authorization token is invalid.", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned for a well-signed token past its expiry.
var ErrTokenExpired = goerrors.New("The authorization token has expired.", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenInternal covers unexpected failures during validation, including
// a valid token whose account no longer exists.
var ErrTokenInternal = goerrors.New("An unexpected error occurred when processing the authorization token.", goerrors.CategoryInternal).
	WithTextCode(TextCodeTokenInternal)

// NewNotFoundError builds a NotFound error carrying the lookup key.
func NewNotFoundError(message string, key string, value any) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryNotFound).
		WithCode(goerrors.CodeNotFound).
		WithMetadata(map[string]any{key: value})
}

// NewConflictError builds a Conflict error for duplicate id/username inserts.
func NewConflictError(message string, key string, value any) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryConflict).
		WithCode(goerrors.CodeConflict).
		WithMetadata(map[string]any{key: value})
}

// NewValidationError builds a Validation error for a malformed field.
func NewValidationError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest)
}

// WrapValidation wraps a field-level validation failure.
func WrapValidation(err error, message string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryValidation, message).
		WithCode(goerrors.CodeBadRequest)
}

// IsNotFound reports whether err represents a failed lookup.
func IsNotFound(err error) bool {
	return goerrors.IsNotFound(err)
}

// IsStoreClosed reports whether err is the closed-connection guard error.
func IsStoreClosed(err error) bool {
	return hasTextCode(err, TextCodeStoreClosed)
}

// IsStoreAlreadyOpen reports whether err is the double-open guard error.
func IsStoreAlreadyOpen(err error) bool {
	return hasTextCode(err, TextCodeStoreAlreadyOpen)
}

// IsAuditLogEmpty reports whether err means the audit log has no entries.
func IsAuditLogEmpty(err error) bool {
	return hasTextCode(err, TextCodeStoreEmpty)
}

// IsConflict reports whether err represents a duplicate insert.
func IsConflict(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Category == goerrors.CategoryConflict
	}
	return false
}

// TokenErrorCode maps an authentication error to its stable numeric code.
// Returns 0 for nil and CodeTokenInternal for errors outside the token
// taxonomy.
func TokenErrorCode(err error) int {
	if err == nil {
		return 0
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return CodeTokenInternal
	}

	switch richErr.TextCode {
	case TextCodeTokenMissing:
		return CodeTokenMissing
	case TextCodeTokenInvalid:
		return CodeTokenInvalid
	case TextCodeTokenExpired:
		return CodeTokenExpired
	default:
		return CodeTokenInternal
	}
}

func hasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}
