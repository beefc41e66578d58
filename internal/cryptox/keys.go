package cryptox

import (
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/dmitrijs2005/recordguard/internal/common"
	"github.com/emmansun/gmsm/sm4"
)

// KeyMaterial holds the process-wide secrets used by the digest engine and
// the field cipher. It is built once at startup and never mutated; accessors
// hand out copies.
type KeyMaterial struct {
	digestKey []byte
	cipherKey []byte
	cipherIV  []byte
}

// NewKeyMaterial validates and copies the given secrets. The digest key must
// be non-empty; cipher key and IV must both be exactly one SM4 block long.
func NewKeyMaterial(digestKey, cipherKey, cipherIV []byte) (*KeyMaterial, error) {
	if len(digestKey) == 0 {
		return nil, fmt.Errorf("%w: digest key is empty", common.ErrInvalidInput)
	}
	if len(cipherKey) != sm4.BlockSize {
		return nil, fmt.Errorf("%w: cipher key must be %d bytes, got %d", common.ErrInvalidInput, sm4.BlockSize, len(cipherKey))
	}
	if len(cipherIV) != sm4.BlockSize {
		return nil, fmt.Errorf("%w: cipher iv must be %d bytes, got %d", common.ErrInvalidInput, sm4.BlockSize, len(cipherIV))
	}

	return &KeyMaterial{
		digestKey: append([]byte(nil), digestKey...),
		cipherKey: append([]byte(nil), cipherKey...),
		cipherIV:  append([]byte(nil), cipherIV...),
	}, nil
}

// ParseKey decodes a configured key string. A string of exactly 2*size hex
// characters is hex-decoded; anything else is taken as raw UTF-8 bytes.
func ParseKey(s string, size int) []byte {
	if len(s) == 2*size {
		if b, err := hex.DecodeString(s); err == nil {
			return b
		}
	}
	return []byte(s)
}

// DigestKey returns a copy of the keyed-hash key.
func (k *KeyMaterial) DigestKey() []byte { return append([]byte(nil), k.digestKey...) }

// CipherKey returns a copy of the field cipher key.
func (k *KeyMaterial) CipherKey() []byte { return append([]byte(nil), k.cipherKey...) }

// CipherIV returns a copy of the field cipher IV.
func (k *KeyMaterial) CipherIV() []byte { return append([]byte(nil), k.cipherIV...) }

// String keeps secrets out of fmt output.
func (k *KeyMaterial) String() string { return "KeyMaterial{redacted}" }

// LogValue keeps secrets out of structured logs.
func (k *KeyMaterial) LogValue() slog.Value { return slog.StringValue("redacted") }
