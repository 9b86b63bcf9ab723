package gatekeeper

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenClaims is the self-contained bearer credential payload. Nothing is
// kept server-side; a token proves a prior successful login until exp.
type TokenClaims struct {
	jwt.RegisteredClaims
	AccountID int64 `json:"account_id"`
}

// TokenAuthority mints bearer tokens from successful logins and resolves
// presented tokens back to accounts. One instance serves one request; it
// resolves accounts through the request's storage connection.
type TokenAuthority struct {
	store      StorageProvider
	signingKey []byte
	issuer     string
	logger     Logger
}

// AuthorityOption customizes a TokenAuthority.
type AuthorityOption func(*TokenAuthority)

// WithAuthorityLogger sets the logger denied validations are reported to.
func WithAuthorityLogger(logger Logger) AuthorityOption {
	return func(a *TokenAuthority) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewTokenAuthority returns an authority signing with the configured
// process secret.
func NewTokenAuthority(store StorageProvider, cfg Config, opts ...AuthorityOption) *TokenAuthority {
	a := &TokenAuthority{
		store:      store,
		signingKey: []byte(cfg.GetSigningKey()),
		issuer:     cfg.GetIssuer(),
		logger:     defLogger{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CreateToken produces a signed credential encoding the account id and an
// absolute expiry instant.
func (a *TokenAuthority) CreateToken(accountID int64, expireTime time.Time) (string, error) {
	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    a.issuer,
			Subject:   strconv.FormatInt(accountID, 10),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expireTime),
		},
		AccountID: accountID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token")
	}

	return signed, nil
}

// Authenticate decodes and verifies a presented token and resolves the
// encoded account. remoteAddr and operation only feed the denial log; the
// returned error never reveals why verification failed.
func (a *TokenAuthority) Authenticate(tokenString, remoteAddr, operation string) (*Account, error) {
	if tokenString == "" {
		a.logger.Info(
			"Method access denied from %s since no token provided (error_code=%d, method=%s).",
			remoteAddr, CodeTokenMissing, operation,
		)
		return nil, ErrTokenMissing
	}

	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.signingKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			expireTime, _ := a.ExpireTime(tokenString)
			a.logger.Info(
				"Method access denied from %s since the token has expired "+
					"(error_code=%d, method=%s, expire_time='%s').",
				remoteAddr, CodeTokenExpired, operation, expireTime,
			)
			return nil, ErrTokenExpired
		}
		a.logger.Info(
			"Method access denied from %s due to an invalid token (error_code=%d, method=%s). Reason: %s",
			remoteAddr, CodeTokenInvalid, operation, err,
		)
		return nil, ErrTokenInvalid
	}

	if !token.Valid {
		a.logger.Info(
			"Method access denied from %s due to an invalid token (error_code=%d, method=%s).",
			remoteAddr, CodeTokenInvalid, operation,
		)
		return nil, ErrTokenInvalid
	}

	account, err := a.store.GetAccountByID(claims.AccountID)
	if err != nil {
		a.logger.Info(
			"Method access denied from %s since an unexpected error occurred "+
				"while processing the token (error_code=%d, method=%s). Reason: %s",
			remoteAddr, CodeTokenInternal, operation, err,
		)
		return nil, ErrTokenInternal
	}

	return account, nil
}

// ExpireTime extracts the expiry instant without verifying the signature.
// Used for diagnostic logging of expired tokens.
func (a *TokenAuthority) ExpireTime(tokenString string) (time.Time, error) {
	claims := &TokenClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return time.Time{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to decode token payload")
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, goerrors.New("token carries no expiry", goerrors.CategoryBadInput)
	}
	return claims.ExpiresAt.Time, nil
}
