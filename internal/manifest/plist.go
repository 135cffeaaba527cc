// Package manifest reads the top-level Manifest.plist, decrypts the index
// database it points at, and validates the result. Reference: spec
// Sections 4.5 and 6.
package manifest

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/loftwing/ibackupcrypt/internal/types"
	"howett.net/plist"
)

// TopLevel is the subset of Manifest.plist this core reads.
type TopLevel struct {
	BackupKeyBag []byte `plist:"BackupKeyBag"`
	ManifestKey  []byte `plist:"ManifestKey"`
}

// ReadTopLevel opens and decodes Manifest.plist from the backup directory.
func ReadTopLevel(path string) (*TopLevel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: opening %s: %w", path, err)
	}
	defer f.Close()

	var top TopLevel
	decoder := plist.NewDecoder(f)
	if err := decoder.Decode(&top); err != nil {
		return nil, fmt.Errorf("manifest: decoding %s: %w", path, err)
	}
	if len(top.BackupKeyBag) == 0 {
		return nil, fmt.Errorf("manifest: %s has no BackupKeyBag", path)
	}
	if len(top.ManifestKey) < 4 {
		return nil, fmt.Errorf("manifest: %s has a malformed ManifestKey", path)
	}
	return &top, nil
}

// ManifestKeyParts splits ManifestKey into its 4-byte little-endian
// protection-class tag and the wrapped manifest key that follows it.
func (t *TopLevel) ManifestKeyParts() (types.ClassID, []byte) {
	classID := int32(binary.LittleEndian.Uint32(t.ManifestKey[:4]))
	return types.ClassID(classID), t.ManifestKey[4:]
}
