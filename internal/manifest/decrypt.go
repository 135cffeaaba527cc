package manifest

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/glebarez/go-sqlite"
	"github.com/loftwing/ibackupcrypt/internal/aescrypto"
	"github.com/loftwing/ibackupcrypt/internal/types"
)

// Unwrapper is the subset of *keybag.Keybag the manifest decryptor needs.
// Declared as an interface so manifest tests can unlock a synthetic keybag
// without pulling in disk I/O.
type Unwrapper interface {
	Unwrap(classID types.ClassID, wrappedKey []byte) ([]byte, error)
}

// Index is the decrypted, opened Manifest.db. It owns the temporary
// plaintext file and the *sql.DB handle for the session's lifetime.
type Index struct {
	DB       *sql.DB
	TempPath string
}

// Decrypt reads Manifest.db from backupDir, unwraps the manifest key from
// top under kb, AES-CBC decrypts the database (no unpadding — the trailing
// block is meaningful SQLite bytes, not a padding block), materialises it
// to a temporary file, and opens + validates it.
func Decrypt(backupDir string, top *TopLevel, kb Unwrapper) (*Index, error) {
	dbPath := filepath.Join(backupDir, "Manifest.db")
	encrypted, err := os.ReadFile(dbPath)
	if err != nil {
		return nil, fmt.Errorf("manifest: reading %s: %w", dbPath, err)
	}

	classID, wrappedKey := top.ManifestKeyParts()
	manifestKey, err := kb.Unwrap(classID, wrappedKey)
	if err != nil {
		return nil, fmt.Errorf("manifest: unwrapping manifest key under class %s: %w", classID, err)
	}
	defer zero(manifestKey)

	plaintext, err := aescrypto.DecryptCBC(encrypted, manifestKey)
	if err != nil {
		return nil, fmt.Errorf("manifest: decrypting %s: %w", dbPath, err)
	}

	tempFile, err := os.CreateTemp("", "ibackupcrypt-manifest-*.db")
	if err != nil {
		return nil, fmt.Errorf("manifest: creating temporary file: %w", err)
	}
	tempPath := tempFile.Name()
	if _, err := tempFile.Write(plaintext); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return nil, fmt.Errorf("manifest: writing temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("manifest: closing temporary file: %w", err)
	}

	db, err := sql.Open("sqlite", tempPath)
	if err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("manifest: opening decrypted index: %w", err)
	}

	var fileCount int
	if err := db.QueryRow(`SELECT count(*) FROM Files`).Scan(&fileCount); err != nil {
		db.Close()
		os.Remove(tempPath)
		return nil, fmt.Errorf("manifest: decrypted index is not a valid database or lacks a Files table: %w", err)
	}
	if fileCount == 0 {
		db.Close()
		os.Remove(tempPath)
		return nil, fmt.Errorf("manifest: decrypted index's Files table is empty")
	}

	return &Index{DB: db, TempPath: tempPath}, nil
}

// Close closes the database connection and removes the temporary
// plaintext file. It always attempts both, even if the first fails.
func (idx *Index) Close() error {
	var dbErr error
	if idx.DB != nil {
		dbErr = idx.DB.Close()
	}
	rmErr := os.Remove(idx.TempPath)
	if rmErr != nil && !os.IsNotExist(rmErr) {
		if dbErr != nil {
			return fmt.Errorf("closing db: %w; removing temp file: %v", dbErr, rmErr)
		}
		return fmt.Errorf("removing temp file %s: %w", idx.TempPath, rmErr)
	}
	return dbErr
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
