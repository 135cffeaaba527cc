package ibackupcrypt

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/glebarez/go-sqlite"
	"github.com/loftwing/ibackupcrypt/internal/aescrypto"
	"github.com/loftwing/ibackupcrypt/internal/kdf"
	"github.com/loftwing/ibackupcrypt/internal/keybag"
	"github.com/loftwing/ibackupcrypt/internal/manifest"
	"howett.net/plist"
)

// tlvBuilder mirrors internal/keybag's test helper; duplicated here since
// it builds fixtures for this package's own tests.
type tlvBuilder struct {
	buf bytes.Buffer
}

func (b *tlvBuilder) put(tag string, value []byte) *tlvBuilder {
	b.buf.WriteString(tag)
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(value)))
	b.buf.Write(lenBytes[:])
	b.buf.Write(value)
	return b
}

func (b *tlvBuilder) putU32(tag string, v uint32) *tlvBuilder {
	var value [4]byte
	binary.BigEndian.PutUint32(value[:], v)
	return b.put(tag, value[:])
}

const (
	fixtureOuterIter = 1000
	fixtureInnerIter = 1
)

var (
	fixtureOuterSalt = []byte("0123456789abcdef")
	fixtureInnerSalt = []byte("fedcba9876543210")
)

// buildKeybagBlob builds a one-class keybag (classID 1) wrapping classKey
// under passphrase, in the same TLV layout as internal/keybag's own
// fixtures but without their HMCK field, per-class leading UUIDs and
// corrupt second class.
func buildKeybagBlob(t *testing.T, passphrase, classKey []byte) []byte {
	t.Helper()
	kek := kdf.DeriveOuterKEK(passphrase, fixtureInnerSalt, fixtureInnerIter, kdf.HashSHA256, fixtureOuterSalt, fixtureOuterIter)
	wpky, err := aescrypto.WrapKey(kek, classKey)
	if err != nil {
		t.Fatal(err)
	}

	b := &tlvBuilder{}
	b.putU32("VERS", 2)
	b.putU32("TYPE", 0)
	b.put("UUID", bytes.Repeat([]byte{0xAB}, 16))
	b.putU32("WRAP", 2)
	b.put("SALT", fixtureOuterSalt)
	b.putU32("ITER", fixtureOuterIter)
	b.put("DPSL", fixtureInnerSalt)
	b.putU32("DPIC", fixtureInnerIter)
	b.putU32("DPWT", 0)

	b.putU32("CLAS", 1)
	b.putU32("WRAP", 2)
	b.putU32("KTYP", 0)
	b.put("WPKY", wpky)
	return b.buf.Bytes()
}

func writeManifestPlist(t *testing.T, dir string, keybagBlob []byte, manifestClassID int32, wrappedManifestKey []byte) {
	t.Helper()
	key := make([]byte, 4+len(wrappedManifestKey))
	binary.LittleEndian.PutUint32(key[:4], uint32(manifestClassID))
	copy(key[4:], wrappedManifestKey)

	data, err := plist.Marshal(struct {
		BackupKeyBag []byte `plist:"BackupKeyBag"`
		ManifestKey  []byte `plist:"ManifestKey"`
	}{
		BackupKeyBag: keybagBlob,
		ManifestKey:  key,
	}, plist.BinaryFormat)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Manifest.plist"), data, 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestEnsureUnlockedCorrectPassphrase(t *testing.T) {
	dir := t.TempDir()
	passphrase := []byte("correct horse battery staple")
	classKey := bytes.Repeat([]byte{0x11}, 32)
	kb := buildKeybagBlob(t, passphrase, classKey)
	writeManifestPlist(t, dir, kb, 1, bytes.Repeat([]byte{0x01}, 24))

	s := Open(dir, passphrase)
	if err := s.EnsureUnlocked(); err != nil {
		t.Fatalf("EnsureUnlocked: %v", err)
	}
	if len(s.passphrase) != 0 {
		t.Fatal("expected the passphrase field to be cleared after unlock")
	}
	if err := s.EnsureUnlocked(); err != nil {
		t.Fatalf("second EnsureUnlocked call: %v", err)
	}
}

func TestEnsureUnlockedWrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	classKey := bytes.Repeat([]byte{0x22}, 32)
	kb := buildKeybagBlob(t, []byte("right-passphrase"), classKey)
	writeManifestPlist(t, dir, kb, 1, bytes.Repeat([]byte{0x01}, 24))

	s := Open(dir, []byte("wrong-passphrase"))
	err := s.EnsureUnlocked()
	if err == nil {
		t.Fatal("expected an error for the wrong passphrase")
	}
	var typed *Error
	if !errors.As(err, &typed) || typed.Kind != ErrIncorrectPassphrase {
		t.Fatalf("expected ErrIncorrectPassphrase, got %v", err)
	}
}

func TestEnsureUnlockedMissingManifestPlist(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, []byte("whatever"))
	err := s.EnsureUnlocked()
	var typed *Error
	if !errors.As(err, &typed) || typed.Kind != ErrManifestPlistMissing {
		t.Fatalf("expected ErrManifestPlistMissing, got %v", err)
	}
}

// newUnlockedSession builds a session whose keybag is already unlocked
// with a known class-1 key, and whose index points at an in-memory SQLite
// database opened through the real driver. This exercises Lookup,
// LookupLike, ExtractBytes, FilesUnderDirectory, and Close without needing
// to round-trip a real encrypted Manifest.db from disk (internal/manifest's
// own tests cover only its failure paths).
func newUnlockedSession(t *testing.T, backupDir string, classKey []byte) (*Session, *sql.DB) {
	t.Helper()
	passphrase := []byte("fixture-passphrase")
	blob := buildKeybagBlob(t, passphrase, classKey)
	kb, err := keybag.Parse(blob)
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := kb.Unlock(passphrase); err != nil || !ok {
		t.Fatalf("Unlock: ok=%v err=%v", ok, err)
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE Files (fileID TEXT, domain TEXT, relativePath TEXT, flags INTEGER, file BLOB)`); err != nil {
		t.Fatal(err)
	}

	s := &Session{backupDir: backupDir, state: stateManifestOpen, kb: kb, idx: &manifest.Index{DB: db}}
	return s, db
}

// keyedArchiveEntry builds a file-entry blob in the same shape a genuine
// backup uses: EncryptionKey resolves to an NSMutableData object, which
// decodes as a dictionary carrying the payload under "NS.data".
func keyedArchiveEntry(t *testing.T, classID int32, wrappedKey []byte) []byte {
	t.Helper()
	objects := []interface{}{"$null"}
	fields := map[string]interface{}{"ProtectionClass": int64(classID)}
	if wrappedKey != nil {
		tagged := append([]byte{0, 0, 0, 0}, wrappedKey...)
		objects = append(objects, map[string]interface{}{"NS.data": tagged})
		fields["EncryptionKey"] = plist.UID(1)
	}
	objects = append(objects, fields)
	rootIdx := len(objects) - 1

	data, err := plist.Marshal(struct {
		Top     map[string]plist.UID `plist:"$top"`
		Objects []interface{}        `plist:"$objects"`
	}{
		Top:     map[string]plist.UID{"root": plist.UID(rootIdx)},
		Objects: objects,
	}, plist.BinaryFormat)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func insertFileRow(t *testing.T, db *sql.DB, fileID, domain, relPath string, flags int, entryBlob []byte) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO Files (fileID, domain, relativePath, flags, file) VALUES (?, ?, ?, ?, ?)`,
		fileID, domain, relPath, flags, entryBlob)
	if err != nil {
		t.Fatal(err)
	}
}

func writeEncryptedPayload(t *testing.T, backupDir, fileID string, key, plaintext []byte) {
	t.Helper()
	padded := aescrypto.PadPKCS7(plaintext, 16)
	ciphertext, err := aescrypto.EncryptCBC(padded, key)
	if err != nil {
		t.Fatal(err)
	}
	shardDir := filepath.Join(backupDir, fileID[:2])
	if err := os.MkdirAll(shardDir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(shardDir, fileID), ciphertext, 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLookupAndExtractBytesHappyPath(t *testing.T) {
	backupDir := t.TempDir()
	classKey := bytes.Repeat([]byte{0x33}, 32)
	s, db := newUnlockedSession(t, backupDir, classKey)
	defer db.Close()

	fileKey := bytes.Repeat([]byte{0x44}, 32)
	wrappedFileKey, err := aescrypto.WrapKey(classKey, fileKey)
	if err != nil {
		t.Fatal(err)
	}
	fileID := "aabbccddeeff00112233445566778899aabbccdd"
	entry := keyedArchiveEntry(t, 1, wrappedFileKey)
	insertFileRow(t, db, fileID, "AppDomain", "r", 1, entry)

	plaintext := []byte("012345678901234567890123456789012345678901234567") // 48 bytes
	writeEncryptedPayload(t, backupDir, fileID, fileKey, plaintext)

	gotFileID, gotEntry, err := s.Lookup("r")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if gotFileID != fileID {
		t.Fatalf("fileID = %q, want %q", gotFileID, fileID)
	}
	if !gotEntry.HasKey() {
		t.Fatal("expected entry to have a key")
	}

	got, err := s.ExtractBytes("r")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("plaintext = %q, want %q", got, plaintext)
	}

	// Idempotent.
	got2, err := s.ExtractBytes("r")
	if err != nil || !bytes.Equal(got2, got) {
		t.Fatalf("second ExtractBytes call not idempotent: got=%q err=%v", got2, err)
	}
}

func TestLookupIgnoresNonUnitFlags(t *testing.T) {
	backupDir := t.TempDir()
	classKey := bytes.Repeat([]byte{0x55}, 32)
	s, db := newUnlockedSession(t, backupDir, classKey)
	defer db.Close()

	entry := keyedArchiveEntry(t, 1, nil)
	insertFileRow(t, db, "fileid1", "AppDomain", "some/path", 0, entry)

	_, _, err := s.Lookup("some/path")
	var typed *Error
	if !errors.As(err, &typed) || typed.Kind != ErrNotFound {
		t.Fatalf("expected ErrNotFound for flags != 1, got %v", err)
	}
}

func TestExtractBytesDirectoryEntryReturnsNoPlaintext(t *testing.T) {
	backupDir := t.TempDir()
	classKey := bytes.Repeat([]byte{0x66}, 32)
	s, db := newUnlockedSession(t, backupDir, classKey)
	defer db.Close()

	entry := keyedArchiveEntry(t, 1, nil)
	insertFileRow(t, db, "dirfileid", "AppDomain", "Some/Dir", 1, entry)

	_, err := s.ExtractBytes("Some/Dir")
	if !errors.Is(err, ErrNoPlaintext) {
		t.Fatalf("expected ErrNoPlaintext, got %v", err)
	}
}

func TestExtractBytesPayloadMissing(t *testing.T) {
	backupDir := t.TempDir()
	classKey := bytes.Repeat([]byte{0x77}, 32)
	s, db := newUnlockedSession(t, backupDir, classKey)
	defer db.Close()

	fileKey := bytes.Repeat([]byte{0x88}, 32)
	wrappedFileKey, err := aescrypto.WrapKey(classKey, fileKey)
	if err != nil {
		t.Fatal(err)
	}
	entry := keyedArchiveEntry(t, 1, wrappedFileKey)
	insertFileRow(t, db, "missingpayloadfileid00", "AppDomain", "gone", 1, entry)
	// Deliberately do not write the payload file.

	_, err = s.ExtractBytes("gone")
	var typed *Error
	if !errors.As(err, &typed) || typed.Kind != ErrPayloadMissing {
		t.Fatalf("expected ErrPayloadMissing, got %v", err)
	}
}

func TestLookupLikeOrderedBatch(t *testing.T) {
	backupDir := t.TempDir()
	classKey := bytes.Repeat([]byte{0x99}, 32)
	s, db := newUnlockedSession(t, backupDir, classKey)
	defer db.Close()

	entry := keyedArchiveEntry(t, 1, nil)
	insertFileRow(t, db, "f1", "B", "Media/b.jpg", 1, entry)
	insertFileRow(t, db, "f2", "A", "Media/a.jpg", 1, entry)
	insertFileRow(t, db, "f3", "A", "Media/c.jpg", 1, entry)
	insertFileRow(t, db, "f4", "A", "Other/d.png", 1, entry)

	matches, err := s.LookupLike("Media/%.jpg")
	if err != nil {
		t.Fatalf("LookupLike: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("got %d matches, want 3", len(matches))
	}
	// Ordered by (domain, relativePath): A/Media/a.jpg, A/Media/c.jpg, B/Media/b.jpg.
	wantOrder := []string{"f2", "f3", "f1"}
	for i, want := range wantOrder {
		if matches[i].FileID != want {
			t.Fatalf("match %d = %q, want %q", i, matches[i].FileID, want)
		}
	}
}

func TestFilesUnderDirectoryByDomain(t *testing.T) {
	backupDir := t.TempDir()
	classKey := bytes.Repeat([]byte{0xAA}, 32)
	s, db := newUnlockedSession(t, backupDir, classKey)
	defer db.Close()

	entry := keyedArchiveEntry(t, 1, nil)
	insertFileRow(t, db, "f1", "HomeDomain", "x", 1, entry)
	insertFileRow(t, db, "f2", "HomeDomain", "y", 1, entry)
	insertFileRow(t, db, "f3", "OtherDomain", "z", 1, entry)

	ids, err := s.FilesUnderDirectory("HomeDomain/")
	if err != nil {
		t.Fatalf("FilesUnderDirectory: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d fileIDs, want 2", len(ids))
	}
}

func TestCloseIsIdempotentAndClearsPassphrase(t *testing.T) {
	backupDir := t.TempDir()
	classKey := bytes.Repeat([]byte{0xBB}, 32)
	s, db := newUnlockedSession(t, backupDir, classKey)
	_ = db
	s.passphrase = []byte("leftover-passphrase")

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.passphrase != nil {
		t.Fatal("expected Close to clear the passphrase field")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
