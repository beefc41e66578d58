package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/recordguard/internal/common"
	"github.com/dmitrijs2005/recordguard/internal/cryptox"
)

const (
	// SaltLength is the number of random bytes generated per Encode call.
	SaltLength = 16

	credentialDelimiter = ":"
)

// PasswordEncoder produces and checks stored credentials of the form
//
//	base64(salt) ":" hex(SM3(base64(salt) || password))
//
// A fresh salt is drawn for every Encode call.
type PasswordEncoder struct {
	randBytes func(int) ([]byte, error)
}

// NewPasswordEncoder returns an encoder backed by the system CSPRNG.
func NewPasswordEncoder() *PasswordEncoder {
	return &PasswordEncoder{randBytes: common.GenerateRandByteArray}
}

// Encode hashes password with a new random salt.
func (e *PasswordEncoder) Encode(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password is empty", common.ErrInvalidInput)
	}

	salt, err := e.randBytes(SaltLength)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrCrypto, err)
	}
	encodedSalt := base64.StdEncoding.EncodeToString(salt)

	sum := cryptox.Hash([]byte(encodedSalt + password))
	return encodedSalt + credentialDelimiter + hex.EncodeToString(sum[:]), nil
}

// Matches reports whether password hashes to the stored credential.
// Empty arguments and malformed credentials never match; they are not errors
// so a corrupted row cannot turn into an authentication outage.
func (e *PasswordEncoder) Matches(password, stored string) bool {
	if password == "" || stored == "" {
		return false
	}

	parts := strings.Split(stored, credentialDelimiter)
	if len(parts) != 2 {
		return false
	}

	want, err := hex.DecodeString(parts[1])
	if err != nil || len(want) != cryptox.DigestSize {
		return false
	}

	got := cryptox.Hash([]byte(parts[0] + password))
	return subtle.ConstantTimeCompare(got[:], want) == 1
}
