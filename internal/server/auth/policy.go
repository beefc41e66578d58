package auth

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/dmitrijs2005/recordguard/internal/common"
)

// DefaultMinPasswordLength is used when a policy is built with a
// non-positive length.
const DefaultMinPasswordLength = 8

const specialChars = "!@#$%^&*()_+-=[]{};':\"\\|,.<>/?"

// PasswordPolicy enforces password complexity: a minimum length plus at
// least one digit, one lower-case letter, one upper-case letter and one
// special character.
type PasswordPolicy struct {
	MinLength int
}

// NewPasswordPolicy builds a policy with the given minimum length.
func NewPasswordPolicy(minLength int) PasswordPolicy {
	if minLength <= 0 {
		minLength = DefaultMinPasswordLength
	}
	return PasswordPolicy{MinLength: minLength}
}

// Check returns a wrapped common.ErrInvalidInput describing the policy when
// password does not satisfy it.
func (p PasswordPolicy) Check(password string) error {
	var digit, lower, upper, special bool
	for _, r := range password {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case strings.ContainsRune(specialChars, r):
			special = true
		}
	}

	if len([]rune(password)) < p.MinLength || !digit || !lower || !upper || !special {
		return fmt.Errorf("%w: %s", common.ErrInvalidInput, p.Description())
	}
	return nil
}

// Description is the human readable policy text.
func (p PasswordPolicy) Description() string {
	return fmt.Sprintf("password must be at least %d characters long and contain a digit, an upper-case letter, a lower-case letter and a special character", p.MinLength)
}
