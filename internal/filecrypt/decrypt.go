// Package filecrypt decrypts a single backed-up file's payload: locate it
// on disk by fileID, unwrap its key, AES-CBC decrypt, and PKCS#7 unpad.
// Reference: spec Section 4.7.
package filecrypt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loftwing/ibackupcrypt/internal/aescrypto"
	"github.com/loftwing/ibackupcrypt/internal/fileentry"
	"github.com/loftwing/ibackupcrypt/internal/types"
)

// ErrNoPlaintext signals a fileentry.Entry with no EncryptionKey: a
// directory or other payload-less item. Not a failure — callers should
// treat it as "nothing to extract", not propagate it as an error.
var ErrNoPlaintext = errors.New("filecrypt: entry has no plaintext payload")

// ErrPayloadMissing signals that the on-disk payload for fileID does not
// exist at its expected sharded path.
var ErrPayloadMissing = errors.New("filecrypt: payload file does not exist")

// Unwrapper is the subset of *keybag.Keybag the file decryptor needs.
type Unwrapper interface {
	Unwrap(classID types.ClassID, wrappedKey []byte) ([]byte, error)
}

// PayloadPath returns the sharded on-disk location of fileID's payload:
// <backupDir>/<fileID[0:2]>/<fileID>.
func PayloadPath(backupDir, fileID string) (string, error) {
	if len(fileID) < 2 {
		return "", fmt.Errorf("filecrypt: fileID %q is too short to shard", fileID)
	}
	return filepath.Join(backupDir, fileID[:2], fileID), nil
}

// Decrypt returns the plaintext payload for fileID, or ErrNoPlaintext if
// entry has no wrapped key, or ErrPayloadMissing if the sharded path does
// not exist.
func Decrypt(backupDir, fileID string, entry *fileentry.Entry, kb Unwrapper) ([]byte, error) {
	if !entry.HasKey() {
		return nil, ErrNoPlaintext
	}

	path, err := PayloadPath(backupDir, fileID)
	if err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPayloadMissing, path)
		}
		return nil, fmt.Errorf("filecrypt: reading %s: %w", path, err)
	}

	fileKey, err := kb.Unwrap(entry.ProtectionClass, entry.WrappedKey)
	if err != nil {
		return nil, fmt.Errorf("filecrypt: unwrapping key for %s under class %s: %w", fileID, entry.ProtectionClass, err)
	}
	defer zero(fileKey)

	decrypted, err := aescrypto.DecryptCBC(payload, fileKey)
	if err != nil {
		return nil, fmt.Errorf("filecrypt: decrypting %s: %w", fileID, err)
	}

	plaintext, err := aescrypto.UnpadPKCS7(decrypted)
	if err != nil {
		return nil, fmt.Errorf("filecrypt: unpadding %s: %w", fileID, err)
	}
	return plaintext, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
