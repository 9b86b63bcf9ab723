package gatekeeper

import (
	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

// minAcceptableScore is the zxcvbn score (0-4) below which a password is
// rejected as a replacement credential.
const minAcceptableScore = 2

// ZxcvbnChecker scores passwords with the zxcvbn estimator.
type ZxcvbnChecker struct {
	// UserInputs are extra tokens (username, display name) the estimator
	// penalizes when they appear in the password.
	UserInputs []string
}

var _ PasswordChecker = ZxcvbnChecker{}

// GetStrength reports whether the password scores below the acceptance
// threshold.
func (c ZxcvbnChecker) GetStrength(password string) PasswordStrength {
	result := zxcvbn.PasswordStrength(password, c.UserInputs)
	return PasswordStrength{
		IsTooLow: result.Score < minAcceptableScore,
	}
}
