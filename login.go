package gatekeeper

import (
	"fmt"
	"time"
)

// LoginUsecaseTag marks audit entries written by the login flow.
const LoginUsecaseTag = "login_to_system"

// LoginRequest carries one login attempt. NewPassword is empty when the
// caller is not changing the password.
type LoginRequest struct {
	Username    string
	Password    string
	NewPassword string
	RemoteAddr  string
}

// LoginToSystem runs the ordered login verification pipeline: existence,
// dormancy, lock, password, forced reset, and the optional password-change
// sub-flow. One instance serves one request; it owns no cross-request
// state.
type LoginToSystem struct {
	store   StorageProvider
	hasher  PasswordHasher
	checker PasswordChecker
	logger  Logger
	now     func() time.Time
}

// LoginOption customizes a LoginToSystem.
type LoginOption func(*LoginToSystem)

// WithLoginLogger sets the logger audit texts are echoed to.
func WithLoginLogger(logger Logger) LoginOption {
	return func(l *LoginToSystem) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLoginClock injects a custom clock (useful for lock expiry tests).
func WithLoginClock(clock func() time.Time) LoginOption {
	return func(l *LoginToSystem) {
		if clock != nil {
			l.now = clock
		}
	}
}

// WithPasswordChecker gates replacement passwords behind a strength check.
func WithPasswordChecker(checker PasswordChecker) LoginOption {
	return func(l *LoginToSystem) {
		l.checker = checker
	}
}

// NewLoginToSystem returns a pipeline bound to a request-scoped store.
func NewLoginToSystem(store StorageProvider, hasher PasswordHasher, opts ...LoginOption) *LoginToSystem {
	l := &LoginToSystem{
		store:  store,
		hasher: hasher,
		logger: defLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// loginFailure is the tagged outcome a pipeline stage returns to
// short-circuit the run. Stages never panic or raise across the
// orchestrator boundary.
type loginFailure struct {
	message            string
	mustChangePassword bool
}

func (f *loginFailure) result() LoginResult {
	return LoginResult{
		Message:            f.message,
		HasFailed:          true,
		MustChangePassword: f.mustChangePassword,
	}
}

func fail(message string) *loginFailure {
	return &loginFailure{message: message}
}

// Run executes one login attempt. It never returns an error; every
// failure path is captured in the result.
func (l *LoginToSystem) Run(req LoginRequest) LoginResult {
	if failure := l.verifyAccountExists(req); failure != nil {
		return failure.result()
	}

	account, err := l.store.GetAccountByUsername(req.Username)
	if err != nil {
		return l.systemFailure("get account", err)
	}

	if failure := l.verifyAccountActive(account, req); failure != nil {
		return failure.result()
	}
	if failure, err := l.verifyAccountUnlocked(account, req); err != nil {
		return l.systemFailure("check lock", err)
	} else if failure != nil {
		return failure.result()
	}
	if failure, err := l.verifyPasswordCorrect(account, req); err != nil {
		return l.systemFailure("check password", err)
	} else if failure != nil {
		return failure.result()
	}
	if failure := l.verifyPasswordResetSatisfied(account, req); failure != nil {
		return failure.result()
	}
	if req.NewPassword != "" {
		if failure := l.verifyNewPasswordDistinct(account, req); failure != nil {
			return failure.result()
		}
		if failure := l.verifyNewPasswordStrength(account, req); failure != nil {
			return failure.result()
		}
	}

	return l.finishSuccessfulLogin(account, req)
}

func (l *LoginToSystem) verifyAccountExists(req LoginRequest) *loginFailure {
	exists, err := l.store.ExistsUsername(req.Username)
	if err != nil {
		l.logger.Error("login pipeline could not check username existence: %v", err)
		return fail("Login attempt failed.")
	}
	if exists {
		return nil
	}

	text := fmt.Sprintf(
		"Unknown app user (username=%s) from %s attempted to login.",
		req.Username, req.RemoteAddr,
	)
	if err := l.recordAuditEntry(nil, TagUnknownUser, text); err != nil {
		return l.failForAuditError(err)
	}
	return fail("Login attempt failed.")
}

func (l *LoginToSystem) verifyAccountActive(account *Account, req LoginRequest) *loginFailure {
	if !account.IsDormant {
		return nil
	}

	text := fmt.Sprintf(
		"Dormant app user (username=%s) from %s attempted to login.",
		account.Username, req.RemoteAddr,
	)
	if err := l.recordAuditEntry(&account.ID, TagDormantUser, text); err != nil {
		return l.failForAuditError(err)
	}
	return fail("Login attempt failed. Your credentials are invalid.")
}

func (l *LoginToSystem) verifyAccountUnlocked(account *Account, req LoginRequest) (*loginFailure, error) {
	active, err := l.lockIsActive(account)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, nil
	}

	text := fmt.Sprintf(
		"Locked app user (username=%s) from %s attempted to login.",
		account.Username, req.RemoteAddr,
	)
	if err := l.recordAuditEntry(&account.ID, TagLockedUser, text); err != nil {
		return nil, err
	}
	return fail("Login attempt failed. Your account is locked."), nil
}

// lockIsActive treats an expired lock as no lock at all; the account is
// unlocked lazily on its next successful login, not by a sweeper.
func (l *LoginToSystem) lockIsActive(account *Account) (bool, error) {
	if !account.IsLocked {
		return false, nil
	}

	rules, err := l.store.GetRules()
	if err != nil {
		return false, err
	}

	if account.LastPasswordFailureTime == nil {
		return false, nil
	}

	lockExpireTime := account.LastPasswordFailureTime.Add(rules.LockLength())
	return l.now().Before(lockExpireTime), nil
}

func (l *LoginToSystem) verifyPasswordCorrect(account *Account, req LoginRequest) (*loginFailure, error) {
	if l.hasher.Matches(account.PasswordHash, req.Password) {
		return nil, nil
	}

	account.OngoingPasswordFailureCount++
	rules, err := l.store.GetRules()
	if err != nil {
		return nil, err
	}
	if account.OngoingPasswordFailureCount > rules.LoginFailThresholdCount {
		account.IsLocked = true
	}
	failureTime := l.now().UTC()
	account.LastPasswordFailureTime = &failureTime

	if err := l.store.UpdateAccount(account); err != nil {
		return nil, err
	}

	text := fmt.Sprintf(
		"App user (username=%s) from %s attempted to login with the wrong "+
			"password (ongoing_password_failure_count=%d).",
		account.Username, req.RemoteAddr, account.OngoingPasswordFailureCount,
	)
	if err := l.recordAuditEntry(&account.ID, TagWrongPassword, text); err != nil {
		return nil, err
	}
	return fail("Login attempt failed."), nil
}

func (l *LoginToSystem) verifyPasswordResetSatisfied(account *Account, req LoginRequest) *loginFailure {
	if !account.NeedsPasswordChange || req.NewPassword != "" {
		return nil
	}

	text := fmt.Sprintf(
		"App user (username=%s) with password marked for reset from %s "+
			"attempted to login without providing a new password.",
		account.Username, req.RemoteAddr,
	)
	if err := l.recordAuditEntry(&account.ID, TagMustChangePassword, text); err != nil {
		return l.failForAuditError(err)
	}
	failure := fail("Password marked for reset. Must supply a new password.")
	failure.mustChangePassword = true
	return failure
}

func (l *LoginToSystem) verifyNewPasswordDistinct(account *Account, req LoginRequest) *loginFailure {
	if req.NewPassword != req.Password {
		return nil
	}

	text := fmt.Sprintf(
		"App user (username=%s) from %s attempted to login with a password "+
			"change but the new password was the same as the current one.",
		account.Username, req.RemoteAddr,
	)
	if err := l.recordAuditEntry(&account.ID, TagUnfitPassword, text); err != nil {
		return l.failForAuditError(err)
	}
	return fail("Password change failed. New password can not be the same as the current one.")
}

func (l *LoginToSystem) verifyNewPasswordStrength(account *Account, req LoginRequest) *loginFailure {
	if l.checker == nil {
		return nil
	}
	if strength := l.checker.GetStrength(req.NewPassword); !strength.IsTooLow {
		return nil
	}

	text := fmt.Sprintf(
		"App user (username=%s) from %s attempted to login with a password "+
			"change but the new password was too weak.",
		account.Username, req.RemoteAddr,
	)
	if err := l.recordAuditEntry(&account.ID, TagUnfitPassword, text); err != nil {
		return l.failForAuditError(err)
	}
	return fail("Password change failed. The new password is too weak.")
}

func (l *LoginToSystem) finishSuccessfulLogin(account *Account, req LoginRequest) LoginResult {
	message := "Login successful."
	text := fmt.Sprintf(
		"App user (username=%s) from %s successfully logged in.",
		account.Username, req.RemoteAddr,
	)

	if req.NewPassword != "" {
		hash, err := l.hasher.Hash(req.NewPassword)
		if err != nil {
			return l.systemFailure("hash new password", err)
		}
		account.PasswordHash = hash
		account.NeedsPasswordChange = false
		const suffix = " Password successfully changed."
		message += suffix
		text += suffix
	}

	account.IsLocked = false
	account.OngoingPasswordFailureCount = 0
	if err := l.store.UpdateAccount(account); err != nil {
		return l.systemFailure("update account", err)
	}

	// the commit inside recordAuditEntry is what lands the account update;
	// a login is only successful once both are durable
	if err := l.recordAuditEntry(&account.ID, TagUserLogin, text); err != nil {
		return l.systemFailure("record login", err)
	}

	return LoginResult{
		Message:   message,
		HasFailed: false,
		AccountID: account.ID,
	}
}

// recordAuditEntry assigns the next audit id, appends the entry, echoes
// the text to the logger, and commits. Committing here makes every
// pipeline step atomic relative to itself: the account mutation a step
// staged lands together with its audit entry, or the whole step fails.
func (l *LoginToSystem) recordAuditEntry(accountID *int64, tag AuditTag, text string) error {
	id, err := l.store.GetNextAuditEntryID()
	if err != nil {
		return err
	}

	entry := &AuditEntry{
		ID:         id,
		Time:       l.now().UTC(),
		AccountID:  accountID,
		Tag:        tag,
		Text:       text,
		UsecaseTag: LoginUsecaseTag,
	}
	if err := l.store.AddAuditEntry(entry); err != nil {
		return err
	}

	l.logger.Info("%s", text)

	return l.store.Commit()
}

// failForAuditError is the stage-level twin of systemFailure: a failure
// that could not be audited degrades to the generic message.
func (l *LoginToSystem) failForAuditError(err error) *loginFailure {
	l.logger.Error("login pipeline could not record audit entry: %v", err)
	return fail("Login attempt failed.")
}

// systemFailure folds an unexpected storage or hasher error into the
// generic failure result; internals go to the log, never to the caller.
func (l *LoginToSystem) systemFailure(operation string, err error) LoginResult {
	l.logger.Error("login pipeline failed during %s: %v", operation, err)
	return LoginResult{
		Message:   "Login attempt failed.",
		HasFailed: true,
	}
}
