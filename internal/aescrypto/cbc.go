// Package aescrypto implements the AES primitives the backup format relies
// on: CBC decryption with an implicit zero IV, RFC-3394 key wrap/unwrap,
// and PKCS#7 padding. None of these have a suitable third-party Go
// implementation that covers this exact combination (AES-CBC with a fixed
// zero IV, and generic-length RFC-3394 key wrap) — see DESIGN.md.
package aescrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// zeroIV is used for every CBC decryption in this format: the index
// database and every file payload have a unique per-file key, so a
// constant IV does not create a cross-file codebook.
var zeroIV = make([]byte, aes.BlockSize)

// DecryptCBC decrypts ciphertext with key (16 or 32 bytes) using AES-CBC
// and the all-zero IV. len(ciphertext) must be a multiple of the AES block
// size.
func DecryptCBC(ciphertext, key []byte) ([]byte, error) {
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("aescrypto: ciphertext length %d is not a multiple of the block size", len(ciphertext))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aescrypto: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, zeroIV).CryptBlocks(plaintext, ciphertext)
	return plaintext, nil
}

// EncryptCBC is the inverse of DecryptCBC; it exists for round-trip tests
// and for building encrypted payload fixtures in tests.
func EncryptCBC(plaintext, key []byte) ([]byte, error) {
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("aescrypto: plaintext length %d is not a multiple of the block size", len(plaintext))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aescrypto: %w", err)
	}
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, zeroIV).CryptBlocks(ciphertext, plaintext)
	return ciphertext, nil
}
