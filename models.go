package gatekeeper

import (
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

// usernameFormat is the accepted account name shape: a lowercase letter
// followed by lowercase letters, digits, dots, or underscores.
var usernameFormat = regexp.MustCompile(`^[a-z][a-z0-9._]*$`)

// Account is the identity record the login pipeline reads and mutates.
// Records are created by an external registration flow and never deleted
// by this package.
type Account struct {
	ID                          int64      `json:"id,omitempty"`
	Username                    string     `json:"username,omitempty"`
	Name                        string     `json:"name,omitempty"`
	PasswordHash                string     `json:"-"`
	NeedsPasswordChange         bool       `json:"needs_password_change,omitempty"`
	IsLocked                    bool       `json:"is_locked,omitempty"`
	IsDormant                   bool       `json:"is_dormant,omitempty"`
	OngoingPasswordFailureCount int        `json:"ongoing_password_failure_count,omitempty"`
	LastPasswordFailureTime     *time.Time `json:"last_password_failure_time,omitempty"`
}

// Validate runs field validation rules. A locked account must carry the
// timestamp of the failure that caused the lock.
func (a Account) Validate() error {
	if err := validation.ValidateStruct(&a,
		validation.Field(
			&a.ID,
			validation.Required,
			validation.Min(int64(1)),
		),
		validation.Field(
			&a.Username,
			validation.Required,
			validation.Length(4, 50),
			validation.Match(usernameFormat),
		),
		validation.Field(
			&a.Name,
			validation.Required,
			validation.Length(1, 50),
		),
		validation.Field(
			&a.OngoingPasswordFailureCount,
			validation.Min(0),
		),
	); err != nil {
		return WrapValidation(err, "account failed validation")
	}

	if a.IsLocked && a.LastPasswordFailureTime == nil {
		return NewValidationError("locked account has no last password failure time")
	}

	return nil
}

// Copy returns a value copy of the account.
func (a *Account) Copy() *Account {
	dupe := *a
	if a.LastPasswordFailureTime != nil {
		t := *a.LastPasswordFailureTime
		dupe.LastPasswordFailureTime = &t
	}
	return &dupe
}

const (
	// DefaultLoginFailThresholdCount is the number of consecutive password
	// failures an account gets before it is locked.
	DefaultLoginFailThresholdCount = 3
	// DefaultLoginFailLockMinutes is how long a lock stays active.
	DefaultLoginFailLockMinutes = 15
)

// Rules is the persisted lockout policy. A store holds at most one record;
// when none exists the defaults apply.
type Rules struct {
	LoginFailThresholdCount int `json:"login_fail_threshold_count"`
	LoginFailLockMinutes    int `json:"login_fail_lock_minutes"`
}

// DefaultRules returns the stock policy.
func DefaultRules() Rules {
	return Rules{
		LoginFailThresholdCount: DefaultLoginFailThresholdCount,
		LoginFailLockMinutes:    DefaultLoginFailLockMinutes,
	}
}

// Validate runs field validation rules.
func (r Rules) Validate() error {
	if err := validation.ValidateStruct(&r,
		validation.Field(
			&r.LoginFailThresholdCount,
			validation.Required,
			validation.Min(1),
		),
		validation.Field(
			&r.LoginFailLockMinutes,
			validation.Required,
			validation.Min(1),
		),
	); err != nil {
		return WrapValidation(err, "rules failed validation")
	}
	return nil
}

// LockLength returns the lock duration the policy prescribes.
func (r Rules) LockLength() time.Duration {
	return time.Duration(r.LoginFailLockMinutes) * time.Minute
}

// AuditTag classifies a security-relevant event.
type AuditTag string

const (
	TagUnknownUser        AuditTag = "unknown_user"
	TagDormantUser        AuditTag = "dormant_user"
	TagLockedUser         AuditTag = "locked_user"
	TagWrongPassword      AuditTag = "wrong_password"
	TagMustChangePassword AuditTag = "must_change_password"
	TagUnfitPassword      AuditTag = "unfit_password"
	TagUserLogin          AuditTag = "user_login"
)

// IsValid reports whether the tag belongs to the closed enum.
func (t AuditTag) IsValid() bool {
	switch t {
	case TagUnknownUser, TagDormantUser, TagLockedUser, TagWrongPassword,
		TagMustChangePassword, TagUnfitPassword, TagUserLogin:
		return true
	}
	return false
}

// AuditEntry is an append-only record of a security-relevant event.
// AccountID is nil when the event concerns an unknown username.
type AuditEntry struct {
	ID         int64     `json:"id"`
	Time       time.Time `json:"time"`
	AccountID  *int64    `json:"account_id,omitempty"`
	Tag        AuditTag  `json:"tag"`
	Text       string    `json:"text"`
	UsecaseTag string    `json:"usecase_tag"`
}

// Validate runs field validation rules.
func (e AuditEntry) Validate() error {
	if err := validation.ValidateStruct(&e,
		validation.Field(
			&e.ID,
			validation.Required,
			validation.Min(int64(1)),
		),
		validation.Field(
			&e.Time,
			validation.Required,
		),
		validation.Field(
			&e.Text,
			validation.Required,
			validation.Length(1, 200),
		),
		validation.Field(
			&e.UsecaseTag,
			validation.Required,
			validation.Length(1, 50),
		),
	); err != nil {
		return WrapValidation(err, "audit entry failed validation")
	}

	if !e.Tag.IsValid() {
		return NewValidationError("audit entry has an unknown tag")
	}

	return nil
}

// Copy returns a value copy of the entry.
func (e *AuditEntry) Copy() *AuditEntry {
	dupe := *e
	if e.AccountID != nil {
		id := *e.AccountID
		dupe.AccountID = &id
	}
	return &dupe
}

// LoginResult is the outcome of one LoginToSystem run. It is never
// persisted; AccountID is zero unless the attempt succeeded.
type LoginResult struct {
	Message            string `json:"message"`
	HasFailed          bool   `json:"has_failed"`
	MustChangePassword bool   `json:"must_change_password"`
	AccountID          int64  `json:"account_id,omitempty"`
}
