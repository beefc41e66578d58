// Package cryptox implements the cryptographic primitives of recordguard:
// the SM3 digest engine with its keyed-hash construction, and the SM4 field
// cipher that protects sensitive attributes at rest.
package cryptox

import (
	"encoding/hex"

	"github.com/emmansun/gmsm/sm3"
)

const (
	// DigestSize is the output length of Hash and KeyedHash in bytes.
	DigestSize = sm3.Size

	// digestBlockSize is the internal block size the keyed hash pads keys to.
	digestBlockSize = sm3.BlockSize

	innerPad = 0x36
	outerPad = 0x5c
)

// Hash returns the SM3 digest of data.
func Hash(data []byte) [DigestSize]byte {
	return sm3.Sum(data)
}

// KeyedHash computes the keyed digest of data:
//
//	Hash(opad || Hash(ipad || data))
//
// where the key is first reduced with Hash when it is longer than the block
// size, then zero-padded to the block size and XORed with 0x36 (ipad) and
// 0x5c (opad). The output is identical to HMAC-SM3 and is what ledger
// integrity tags are built from, so it must stay bit-for-bit stable.
func KeyedHash(data, key []byte) [DigestSize]byte {
	if len(key) > digestBlockSize {
		sum := Hash(key)
		key = sum[:]
	}

	var ipad, opad [digestBlockSize]byte
	copy(ipad[:], key)
	copy(opad[:], key)
	for i := range ipad {
		ipad[i] ^= innerPad
		opad[i] ^= outerPad
	}

	inner := make([]byte, 0, digestBlockSize+len(data))
	inner = append(inner, ipad[:]...)
	inner = append(inner, data...)
	innerSum := Hash(inner)

	outer := make([]byte, 0, digestBlockSize+DigestSize)
	outer = append(outer, opad[:]...)
	outer = append(outer, innerSum[:]...)

	return Hash(outer)
}

// KeyedHashHex is KeyedHash rendered as lower-case hex (2*DigestSize chars).
func KeyedHashHex(data, key []byte) string {
	sum := KeyedHash(data, key)
	return hex.EncodeToString(sum[:])
}
