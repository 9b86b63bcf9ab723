package gatekeeper

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
)

// TokenRequest is the login payload of the get_token endpoint.
type TokenRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// Validate will run validation rules.
func (r TokenRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Username,
			validation.Required,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

// TokenResponse is the wire shape of both token endpoints. ErrorCode zero
// means success; the non-zero codes are stable (see the Code* constants).
type TokenResponse struct {
	ErrorCode  int    `json:"error_code"`
	Message    string `json:"message"`
	Token      string `json:"token,omitempty"`
	ExpireTime string `json:"expire_time,omitempty"`
}

// StoreFactory builds the request-scoped storage connection. Each inbound
// request gets its own provider; the API opens and closes it.
type StoreFactory func() StorageProvider

// TokenAPI wires the login pipeline and token authority into HTTP
// handlers.
type TokenAPI struct {
	cfg      Config
	hasher   PasswordHasher
	newStore StoreFactory
	logger   Logger
	checker  PasswordChecker
	now      func() time.Time
}

// TokenAPIOption customizes a TokenAPI.
type TokenAPIOption func(*TokenAPI)

// WithTokenAPILogger sets the logger handlers report to.
func WithTokenAPILogger(logger Logger) TokenAPIOption {
	return func(api *TokenAPI) {
		if logger != nil {
			api.logger = logger
		}
	}
}

// WithTokenAPIChecker gates password changes submitted during login.
func WithTokenAPIChecker(checker PasswordChecker) TokenAPIOption {
	return func(api *TokenAPI) {
		api.checker = checker
	}
}

// WithTokenAPIClock injects a custom clock.
func WithTokenAPIClock(clock func() time.Time) TokenAPIOption {
	return func(api *TokenAPI) {
		if clock != nil {
			api.now = clock
		}
	}
}

// NewTokenAPI returns the HTTP surface of the token authority.
func NewTokenAPI(cfg Config, hasher PasswordHasher, newStore StoreFactory, opts ...TokenAPIOption) *TokenAPI {
	api := &TokenAPI{
		cfg:      cfg,
		hasher:   hasher,
		newStore: newStore,
		logger:   defLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(api)
	}
	return api
}

// RegisterRoutes mounts the token endpoints under /api.
func (api *TokenAPI) RegisterRoutes(app *fiber.App) {
	group := app.Group("/api")
	group.Post("/get_token", api.GetToken)
	group.Post("/verify_token", api.TokenRequired, api.VerifyToken)
}

// GetToken runs the login pipeline and mints a token on success.
func (api *TokenAPI) GetToken(c *fiber.Ctx) error {
	payload := new(TokenRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.JSON(TokenResponse{
			ErrorCode: CodeLoginRejected,
			Message:   "Login attempt failed.",
		})
	}
	if err := payload.Validate(); err != nil {
		return c.JSON(TokenResponse{
			ErrorCode: CodeLoginRejected,
			Message:   "Login attempt failed.",
		})
	}

	store := api.newStore()
	if err := store.Open(); err != nil {
		api.logger.Error("get_token could not open storage: %v", err)
		return c.JSON(TokenResponse{
			ErrorCode: CodeLoginRejected,
			Message:   "Login attempt failed.",
		})
	}
	defer func() {
		if err := store.Close(); err != nil {
			api.logger.Error("get_token could not close storage: %v", err)
		}
	}()

	loginOpts := []LoginOption{
		WithLoginLogger(api.logger),
		WithLoginClock(api.now),
	}
	if api.checker != nil {
		loginOpts = append(loginOpts, WithPasswordChecker(api.checker))
	}

	login := NewLoginToSystem(store, api.hasher, loginOpts...)
	result := login.Run(LoginRequest{
		Username:   payload.Username,
		Password:   payload.Password,
		RemoteAddr: c.IP(),
	})
	if result.HasFailed {
		return c.JSON(TokenResponse{
			ErrorCode: CodeLoginRejected,
			Message:   result.Message,
		})
	}

	expireTime := api.now().UTC().Add(time.Duration(api.cfg.GetTokenExpiration()) * time.Hour)
	authority := NewTokenAuthority(store, api.cfg, WithAuthorityLogger(api.logger))
	token, err := authority.CreateToken(result.AccountID, expireTime)
	if err != nil {
		api.logger.Error("get_token could not create token: %v", err)
		return c.JSON(TokenResponse{
			ErrorCode: CodeTokenInternal,
			Message:   ErrTokenInternal.Message,
		})
	}

	return c.JSON(TokenResponse{
		ErrorCode:  0,
		Message:    result.Message,
		Token:      token,
		ExpireTime: expireTime.Format(time.RFC3339),
	})
}

// TokenRequired guards an endpoint behind a valid bearer token. The
// resolved account lands in the request locals under the configured
// context key.
func (api *TokenAPI) TokenRequired(c *fiber.Ctx) error {
	token := c.Get(api.cfg.GetTokenLookup())

	store := api.newStore()
	if err := store.Open(); err != nil {
		api.logger.Error("token check could not open storage: %v", err)
		return c.JSON(TokenResponse{
			ErrorCode: CodeTokenInternal,
			Message:   ErrTokenInternal.Message,
		})
	}
	defer func() {
		if err := store.Close(); err != nil {
			api.logger.Error("token check could not close storage: %v", err)
		}
	}()

	authority := NewTokenAuthority(store, api.cfg, WithAuthorityLogger(api.logger))
	account, err := authority.Authenticate(token, c.IP(), c.Route().Path)
	if err != nil {
		return c.JSON(TokenResponse{
			ErrorCode: TokenErrorCode(err),
			Message:   tokenErrorMessage(err),
		})
	}

	c.Locals(api.cfg.GetContextKey(), account)
	return c.Next()
}

// VerifyToken reports the account a valid token resolves to.
func (api *TokenAPI) VerifyToken(c *fiber.Ctx) error {
	account, ok := c.Locals(api.cfg.GetContextKey()).(*Account)
	if !ok {
		return c.JSON(TokenResponse{
			ErrorCode: CodeTokenInternal,
			Message:   ErrTokenInternal.Message,
		})
	}

	return c.JSON(TokenResponse{
		ErrorCode: 0,
		Message: fmt.Sprintf("valid token provided (account_id=%d, username=%s)",
			account.ID, account.Username),
	})
}

// AccountFromLocals pulls the authenticated account a TokenRequired
// middleware stored for the request.
func AccountFromLocals(c *fiber.Ctx, cfg Config) (*Account, bool) {
	account, ok := c.Locals(cfg.GetContextKey()).(*Account)
	return account, ok
}

func tokenErrorMessage(err error) string {
	switch TokenErrorCode(err) {
	case CodeTokenMissing:
		return ErrTokenMissing.Message
	case CodeTokenInvalid:
		return ErrTokenInvalid.Message
	case CodeTokenExpired:
		return ErrTokenExpired.Message
	default:
		return ErrTokenInternal.Message
	}
}
