package gatekeeper

import "fmt"

// Logger is the logging surface components accept. Lifecycle is request
// scoped; callers pass their own implementation or get defLogger.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds token authority options.
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetTokenExpiration() int
	GetTokenLookup() string
	GetContextKey() string
}

// SimpleConfig is a literal Config for callers that do not carry their own
// configuration layer.
type SimpleConfig struct {
	SigningKey      string
	Issuer          string
	TokenExpiration int
	TokenLookup     string
	ContextKey      string
}

var _ Config = SimpleConfig{}

func (c SimpleConfig) GetSigningKey() string { return c.SigningKey }

func (c SimpleConfig) GetIssuer() string { return c.Issuer }

// GetTokenExpiration returns the token lifetime in hours.
func (c SimpleConfig) GetTokenExpiration() int {
	if c.TokenExpiration == 0 {
		return 24
	}
	return c.TokenExpiration
}

// GetTokenLookup returns the name of the header carrying the bearer token.
func (c SimpleConfig) GetTokenLookup() string {
	if c.TokenLookup == "" {
		return "TOKEN"
	}
	return c.TokenLookup
}

func (c SimpleConfig) GetContextKey() string {
	if c.ContextKey == "" {
		return "account"
	}
	return c.ContextKey
}

// PasswordStrength is the pass/fail signal of a strength check.
type PasswordStrength struct {
	IsTooLow bool
}

// PasswordChecker scores candidate passwords. Scoring internals live
// outside this package; the login pipeline only consumes the verdict.
type PasswordChecker interface {
	GetStrength(password string) PasswordStrength
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] GATEKEEPER "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] GATEKEEPER "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] GATEKEEPER "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] GATEKEEPER "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
