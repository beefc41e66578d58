package models

import "time"

// Account is the slice of a user account the security core reads and
// writes. Email and Phone hold plaintext in memory; repositories receive
// them already encrypted.
type Account struct {
	ID          string
	Username    string
	DisplayName string
	Credential  string
	Email       string
	Phone       string
	CreatedAt   time.Time
	Security    AccountSecurityState
}

// AccountSecurityState is the authentication state the access guard owns.
// Locked and PasswordChangeRequired are independent flags.
type AccountSecurityState struct {
	FailedAttempts         int
	Locked                 bool
	LockedAt               *time.Time
	LastPasswordChangeAt   *time.Time
	LastLoginAt            *time.Time
	PasswordChangeRequired bool
}
