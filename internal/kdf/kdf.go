// Package kdf implements the two-stage passphrase-based key derivation
// described in spec Section 4.2. It is built on golang.org/x/crypto/pbkdf2,
// the ecosystem's PBKDF2 implementation, rather than a hand-rolled loop.
package kdf

import (
	"crypto/sha1"
	"crypto/sha256"
	"hash"

	"golang.org/x/crypto/pbkdf2"
)

// HashFamily selects the PRF used by the inner KDF stage. The keybag
// header carries an identifier for this; the widely-seen value selects
// SHA-256.
type HashFamily int

const (
	HashSHA256 HashFamily = iota
	HashSHA1
)

func (h HashFamily) newHash() func() hash.Hash {
	if h == HashSHA1 {
		return sha1.New
	}
	return sha256.New
}

const derivedKeyLen = 32

// DeriveOuterKEK runs both PBKDF2 stages and returns the 32-byte
// passphrase-derived key encryption key used to unwrap every class key.
//
//	dk1 = PBKDF2(HMAC-innerHash, passphrase, innerSalt, innerIterations, 32)
//	dk2 = PBKDF2(HMAC-SHA1,      dk1,        outerSalt, outerIterations, 32)
func DeriveOuterKEK(passphrase, innerSalt []byte, innerIterations int, innerHash HashFamily, outerSalt []byte, outerIterations int) []byte {
	dk1 := pbkdf2.Key(passphrase, innerSalt, innerIterations, derivedKeyLen, innerHash.newHash())
	dk2 := pbkdf2.Key(dk1, outerSalt, outerIterations, derivedKeyLen, sha1.New)
	for i := range dk1 {
		dk1[i] = 0
	}
	return dk2
}
