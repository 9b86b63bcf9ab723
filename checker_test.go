package gatekeeper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZxcvbnCheckerRejectsWeakPasswords(t *testing.T) {
	checker := ZxcvbnChecker{}

	weak := []string{"password", "123456", "qwerty", "aaaa"}
	for _, password := range weak {
		assert.True(t, checker.GetStrength(password).IsTooLow, "%q should be too weak", password)
	}
}

func TestZxcvbnCheckerAcceptsStrongPasswords(t *testing.T) {
	checker := ZxcvbnChecker{}

	strong := []string{
		"correct horse battery staple",
		"vexing quartz owl 91 lantern",
	}
	for _, password := range strong {
		assert.False(t, checker.GetStrength(password).IsTooLow, "%q should be acceptable", password)
	}
}

func TestZxcvbnCheckerPenalizesUserInputs(t *testing.T) {
	checker := ZxcvbnChecker{UserInputs: []string{"wuncegawen", "Wunce Gawen"}}

	// the password is built from the account's own identifiers
	assert.True(t, checker.GetStrength("wuncegawen2024").IsTooLow)
}
