package aescrypto

import (
	"crypto/aes"
	"fmt"
)

// integrityCheckValue is the constant RFC 3394 uses to detect that an
// unwrap was performed under the right key: 0xA6A6A6A6A6A6A6A6.
var integrityCheckValue = [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// WrapKey wraps keyIn (a multiple of 8 bytes, at least 16) under kek (a
// 32-byte AES-256 key encryption key), per RFC 3394. It exists mainly so
// that tests can assert the wrap(unwrap(w)) = w round-trip invariant.
func WrapKey(kek, keyIn []byte) ([]byte, error) {
	if len(kek) != 32 {
		return nil, fmt.Errorf("aescrypto: KEK must be 32 bytes, got %d", len(kek))
	}
	if len(keyIn) < 16 || len(keyIn)%8 != 0 {
		return nil, fmt.Errorf("aescrypto: key to wrap must be a multiple of 8 bytes and at least 16, got %d", len(keyIn))
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("aescrypto: %w", err)
	}

	n := len(keyIn) / 8
	r := make([][8]byte, n)
	for i := 0; i < n; i++ {
		copy(r[i][:], keyIn[i*8:(i+1)*8])
	}
	a := integrityCheckValue

	var b [16]byte
	for j := 0; j <= 5; j++ {
		for i := 0; i < n; i++ {
			copy(b[0:8], a[:])
			copy(b[8:16], r[i][:])
			block.Encrypt(b[:], b[:])
			t := uint64(n*j + i + 1)
			for k := 0; k < 8; k++ {
				a[k] = b[k] ^ byte(t>>(56-8*k))
			}
			copy(r[i][:], b[8:16])
		}
	}

	out := make([]byte, 0, 8+len(keyIn))
	out = append(out, a[:]...)
	for i := 0; i < n; i++ {
		out = append(out, r[i][:]...)
	}
	return out, nil
}

// UnwrapKey unwraps wrapped (length 8*(n+1) for n >= 1) under kek, per
// RFC 3394, and checks the integrity check value. Returns the sentinel
// ErrIntegrityCheckFailed (below) when the check value does not match — the
// deterministic signal that either kek or wrapped is wrong.
func UnwrapKey(kek, wrapped []byte) ([]byte, error) {
	if len(kek) != 32 {
		return nil, fmt.Errorf("aescrypto: KEK must be 32 bytes, got %d", len(kek))
	}
	if len(wrapped) < 24 || len(wrapped)%8 != 0 {
		return nil, fmt.Errorf("aescrypto: wrapped key must be a multiple of 8 bytes and at least 24, got %d", len(wrapped))
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("aescrypto: %w", err)
	}

	n := len(wrapped)/8 - 1
	var a [8]byte
	copy(a[:], wrapped[0:8])
	r := make([][8]byte, n)
	for i := 0; i < n; i++ {
		copy(r[i][:], wrapped[(i+1)*8:(i+2)*8])
	}

	var b [16]byte
	for j := 5; j >= 0; j-- {
		for i := n - 1; i >= 0; i-- {
			t := uint64(n*j + i + 1)
			var axor [8]byte
			copy(axor[:], a[:])
			for k := 0; k < 8; k++ {
				axor[k] ^= byte(t >> (56 - 8*k))
			}
			copy(b[0:8], axor[:])
			copy(b[8:16], r[i][:])
			block.Decrypt(b[:], b[:])
			copy(a[:], b[0:8])
			copy(r[i][:], b[8:16])
		}
	}

	if a != integrityCheckValue {
		return nil, ErrIntegrityCheckFailed
	}

	out := make([]byte, 0, n*8)
	for i := 0; i < n; i++ {
		out = append(out, r[i][:]...)
	}
	return out, nil
}

// ErrIntegrityCheckFailed is returned by UnwrapKey when the RFC 3394
// integrity check value does not match after unwrapping — the deterministic
// signature of an unwrap under the wrong key.
var ErrIntegrityCheckFailed = fmt.Errorf("aescrypto: RFC 3394 integrity check failed")
