// Package ibackupcrypt decrypts an encrypted mobile-device backup: unlock
// its keybag with a passphrase, decrypt its SQLite index, and extract
// individual file payloads by relative path. Reference: spec Sections 3-8.
package ibackupcrypt

import (
	"database/sql"
	"errors"
	"path/filepath"

	"github.com/loftwing/ibackupcrypt/internal/aescrypto"
	"github.com/loftwing/ibackupcrypt/internal/fileentry"
	"github.com/loftwing/ibackupcrypt/internal/filecrypt"
	"github.com/loftwing/ibackupcrypt/internal/keybag"
	"github.com/loftwing/ibackupcrypt/internal/manifest"
)

// sessionState is the Created -> Unlocked -> ManifestOpen -> Closed machine
// from spec Section 3. Transitions are monotonic; Closed is terminal.
type sessionState int

const (
	stateCreated sessionState = iota
	stateUnlocked
	stateManifestOpen
	stateClosed
)

// File pairs a matched index row's identity with its decoded entry, as
// returned by LookupLike.
type File struct {
	FileID       string
	RelativePath string
	Entry        *fileentry.Entry
}

// Session orchestrates one backup directory end to end. The zero value is
// not usable; construct with Open.
type Session struct {
	backupDir  string
	passphrase []byte

	state sessionState
	kb    *keybag.Keybag
	idx   *manifest.Index

	// CleanupFailedPath is set by Close if temporary-file removal failed.
	// Diagnostic only: it does not indicate the session otherwise failed.
	CleanupFailedPath string
}

// Open constructs a session for backupDir. No disk I/O occurs until a
// decrypt operation (EnsureUnlocked, EnsureManifest, Lookup, ...) is
// invoked.
func Open(backupDir string, passphrase []byte) *Session {
	owned := make([]byte, len(passphrase))
	copy(owned, passphrase)
	return &Session{
		backupDir:  backupDir,
		passphrase: owned,
		state:      stateCreated,
	}
}

// EnsureUnlocked reads Manifest.plist, parses the keybag, and unlocks it
// with the session's passphrase. Idempotent: a session already past
// Created is a no-op returning nil.
func (s *Session) EnsureUnlocked() error {
	if s.state != stateCreated {
		return nil
	}

	plistPath := filepath.Join(s.backupDir, "Manifest.plist")
	top, err := manifest.ReadTopLevel(plistPath)
	if err != nil {
		return newError(ErrManifestPlistMissing, "EnsureUnlocked", err)
	}

	kb, err := keybag.Parse(top.BackupKeyBag)
	if err != nil {
		return newError(ErrKeybagFormat, "EnsureUnlocked", err)
	}

	ok, err := kb.Unlock(s.passphrase)
	zero(s.passphrase)
	s.passphrase = nil
	if err != nil {
		return newError(ErrKeybagFormat, "EnsureUnlocked", err)
	}
	if !ok {
		return newError(ErrIncorrectPassphrase, "EnsureUnlocked", nil)
	}

	s.kb = kb
	s.state = stateUnlocked
	return nil
}

// EnsureManifest calls EnsureUnlocked, then decrypts and opens the index.
// Idempotent: a session already past Unlocked is a no-op returning nil.
func (s *Session) EnsureManifest() error {
	if err := s.EnsureUnlocked(); err != nil {
		return err
	}
	if s.state != stateUnlocked {
		return nil
	}

	plistPath := filepath.Join(s.backupDir, "Manifest.plist")
	top, err := manifest.ReadTopLevel(plistPath)
	if err != nil {
		return newError(ErrManifestPlistMissing, "EnsureManifest", err)
	}

	idx, err := manifest.Decrypt(s.backupDir, top, s.kb)
	if err != nil {
		return newError(ErrManifestCorrupt, "EnsureManifest", err)
	}

	s.idx = idx
	s.state = stateManifestOpen
	return nil
}

// Lookup resolves relativePath to its fileID and decoded entry, matching
// the row with flags = 1, ordered by (domain, relativePath). Fails with
// ErrNotFound if no such row exists, including rows present but with
// flags != 1.
func (s *Session) Lookup(relativePath string) (string, *fileentry.Entry, error) {
	if err := s.EnsureManifest(); err != nil {
		return "", nil, err
	}

	row := s.idx.DB.QueryRow(
		`SELECT fileID, file FROM Files WHERE relativePath = ? AND flags = 1 ORDER BY domain, relativePath LIMIT 1`,
		relativePath,
	)
	var fileID string
	var blob []byte
	if err := row.Scan(&fileID, &blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			e := newError(ErrNotFound, "Lookup", nil)
			e.RelativePath = relativePath
			return "", nil, e
		}
		e := newError(ErrManifestCorrupt, "Lookup", err)
		e.RelativePath = relativePath
		return "", nil, e
	}

	entry, err := fileentry.Decode(blob)
	if err != nil {
		e := newError(ErrManifestCorrupt, "Lookup", err)
		e.RelativePath = relativePath
		e.FileID = fileID
		return "", nil, e
	}
	return fileID, entry, nil
}

// LookupLike returns every row with flags = 1 whose relativePath matches a
// SQL LIKE pattern, ordered by (domain, relativePath). A restartable finite
// sequence: it runs the query fresh and materialises all matches before
// returning.
func (s *Session) LookupLike(pattern string) ([]File, error) {
	if err := s.EnsureManifest(); err != nil {
		return nil, err
	}

	rows, err := s.idx.DB.Query(
		`SELECT fileID, relativePath, file FROM Files WHERE relativePath LIKE ? AND flags = 1 ORDER BY domain, relativePath`,
		pattern,
	)
	if err != nil {
		return nil, newError(ErrManifestCorrupt, "LookupLike", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var fileID, relPath string
		var blob []byte
		if err := rows.Scan(&fileID, &relPath, &blob); err != nil {
			return nil, newError(ErrManifestCorrupt, "LookupLike", err)
		}
		entry, err := fileentry.Decode(blob)
		if err != nil {
			e := newError(ErrManifestCorrupt, "LookupLike", err)
			e.FileID = fileID
			e.RelativePath = relPath
			return nil, e
		}
		out = append(out, File{FileID: fileID, RelativePath: relPath, Entry: entry})
	}
	if err := rows.Err(); err != nil {
		return nil, newError(ErrManifestCorrupt, "LookupLike", err)
	}
	return out, nil
}

// LookupByFileID returns the decoded entry for a known fileID directly,
// bypassing the relativePath index. Supplements the spec's path-keyed
// Lookup for callers that already enumerated fileIDs via LookupLike or an
// external index.
func (s *Session) LookupByFileID(fileID string) (*fileentry.Entry, error) {
	if err := s.EnsureManifest(); err != nil {
		return nil, err
	}

	row := s.idx.DB.QueryRow(`SELECT file FROM Files WHERE fileID = ?`, fileID)
	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			e := newError(ErrNotFound, "LookupByFileID", nil)
			e.FileID = fileID
			return nil, e
		}
		e := newError(ErrManifestCorrupt, "LookupByFileID", err)
		e.FileID = fileID
		return nil, e
	}

	entry, err := fileentry.Decode(blob)
	if err != nil {
		e := newError(ErrManifestCorrupt, "LookupByFileID", err)
		e.FileID = fileID
		return nil, e
	}
	return entry, nil
}

// ErrNoPlaintext is returned by ExtractBytes for entries with no wrapped
// key (directories, symlinks, metadata-only rows): not a failure, just an
// absence of payload.
var ErrNoPlaintext = filecrypt.ErrNoPlaintext

// ExtractBytes composes Lookup with the file decryptor: it resolves
// relativePath, then decrypts and unpads its payload. Returns
// ErrNoPlaintext (via errors.Is) if the entry has no encryption key, or an
// *Error wrapping ErrNotFound / ErrPayloadMissing / ErrPadding /
// ErrUnknownClass / ErrWrapIntegrity on other failures.
func (s *Session) ExtractBytes(relativePath string) ([]byte, error) {
	fileID, entry, err := s.Lookup(relativePath)
	if err != nil {
		return nil, err
	}

	plaintext, err := filecrypt.Decrypt(s.backupDir, fileID, entry, s.kb)
	if err != nil {
		if errors.Is(err, filecrypt.ErrNoPlaintext) {
			return nil, filecrypt.ErrNoPlaintext
		}
		kind := ErrWrapIntegrity
		switch {
		case errors.Is(err, filecrypt.ErrPayloadMissing):
			kind = ErrPayloadMissing
		case errors.Is(err, aescrypto.ErrInvalidPadding):
			kind = ErrPadding
		case errors.Is(err, keybag.ErrUnknownClass):
			kind = ErrUnknownClass
		}
		e := newError(kind, "ExtractBytes", err)
		e.RelativePath = relativePath
		e.FileID = fileID
		e.ClassID = int32(entry.ProtectionClass)
		return nil, e
	}
	return plaintext, nil
}

// Close closes the index connection, deletes temporary files, and
// zeroises the passphrase if the session still holds it. The keybag's
// class keys are not overwritten. Guaranteed to attempt all of that even
// if one step fails; a cleanup failure is reported via the returned error
// and CleanupFailedPath, but does not mask the session's prior success.
func (s *Session) Close() error {
	if s.state == stateClosed {
		return nil
	}
	s.state = stateClosed

	zero(s.passphrase)
	s.passphrase = nil

	var cleanupErr error
	if s.idx != nil {
		if err := s.idx.Close(); err != nil {
			cleanupErr = err
			s.CleanupFailedPath = s.idx.TempPath
		}
	}

	if cleanupErr != nil {
		return newError(ErrCleanupFailed, "Close", cleanupErr)
	}
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
