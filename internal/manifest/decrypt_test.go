package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loftwing/ibackupcrypt/internal/aescrypto"
	"github.com/loftwing/ibackupcrypt/internal/types"
)

// fakeUnwrapper returns a canned key regardless of the class requested, or
// the configured error.
type fakeUnwrapper struct {
	key []byte
	err error
}

func (f fakeUnwrapper) Unwrap(_ types.ClassID, _ []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.key, nil
}

func writeManifestKeyTop(classID int32, wrapped []byte) *TopLevel {
	key := make([]byte, 4+len(wrapped))
	key[0] = byte(classID)
	copy(key[4:], wrapped)
	return &TopLevel{BackupKeyBag: []byte("keybag"), ManifestKey: key}
}

func TestDecryptMissingManifestDB(t *testing.T) {
	dir := t.TempDir()
	top := writeManifestKeyTop(1, []byte("wrappedkeybytes"))

	_, err := Decrypt(dir, top, fakeUnwrapper{key: make([]byte, 32)})
	if err == nil {
		t.Fatal("expected error when Manifest.db is missing")
	}
}

func TestDecryptUnwrapFailure(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Manifest.db"), make([]byte, 16), 0o600); err != nil {
		t.Fatal(err)
	}
	top := writeManifestKeyTop(1, []byte("wrappedkeybytes"))

	_, err := Decrypt(dir, top, fakeUnwrapper{err: aescrypto.ErrIntegrityCheckFailed})
	if err == nil {
		t.Fatal("expected error when the manifest key fails to unwrap")
	}
}

func TestDecryptRejectsNonDatabasePlaintext(t *testing.T) {
	dir := t.TempDir()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	plaintext := []byte("this is sixteen!this is not sql!") // 32 bytes, two AES blocks, not a SQLite file
	ciphertext, err := aescrypto.EncryptCBC(plaintext, key)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Manifest.db"), ciphertext, 0o600); err != nil {
		t.Fatal(err)
	}

	top := writeManifestKeyTop(1, []byte("wrappedkeybytes"))
	_, err = Decrypt(dir, top, fakeUnwrapper{key: key})
	if err == nil {
		t.Fatal("expected error for a decrypted payload that is not a valid SQLite database")
	}
}

func TestDecryptRejectsTruncatedCiphertext(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Manifest.db"), []byte("not-block-aligned"), 0o600); err != nil {
		t.Fatal(err)
	}
	top := writeManifestKeyTop(1, []byte("wrappedkeybytes"))

	_, err := Decrypt(dir, top, fakeUnwrapper{key: make([]byte, 32)})
	if err == nil {
		t.Fatal("expected error for ciphertext that is not a multiple of the AES block size")
	}
}
