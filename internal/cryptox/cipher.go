package cryptox

import (
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/recordguard/internal/common"
	"github.com/emmansun/gmsm/padding"
	"github.com/emmansun/gmsm/sm4"
)

// BlockSize is the cipher block size; cipher keys and the IV have this length.
const BlockSize = sm4.BlockSize

// FieldCipher encrypts single text attributes (identity numbers, addresses,
// phone numbers) before they are persisted.
//
// It uses SM4 in CBC mode with PKCS#7 padding and one static key/IV pair for
// every field of every record, so equal plaintexts produce equal
// ciphertexts. Blank input is passed through untouched in both directions.
type FieldCipher struct {
	block cipher.Block
	iv    []byte
	pad   padding.Padding
}

// NewFieldCipher builds a cipher from the key material loaded at startup.
func NewFieldCipher(keys *KeyMaterial) (*FieldCipher, error) {
	block, err := sm4.NewCipher(keys.CipherKey())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCrypto, err)
	}
	return &FieldCipher{
		block: block,
		iv:    keys.CipherIV(),
		pad:   padding.NewPKCS7Padding(sm4.BlockSize),
	}, nil
}

// Encrypt returns base64(SM4-CBC(pkcs7(plaintext))).
func (c *FieldCipher) Encrypt(plaintext string) (string, error) {
	if isBlank(plaintext) {
		return plaintext, nil
	}

	padded := c.pad.Pad([]byte(plaintext))
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Malformed base64, a ragged ciphertext length or
// invalid padding (which is also what a wrong key looks like) yield
// common.ErrCrypto.
func (c *FieldCipher) Decrypt(ciphertext string) (string, error) {
	if isBlank(ciphertext) {
		return ciphertext, nil
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decode base64: %v", common.ErrCrypto, err)
	}
	if len(raw) == 0 || len(raw)%sm4.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d is not a multiple of %d", common.ErrCrypto, len(raw), sm4.BlockSize)
	}

	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(out, raw)

	plain, err := c.pad.Unpad(out)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrCrypto, err)
	}
	return string(plain), nil
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
