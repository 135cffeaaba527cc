// Package fileentry decodes the per-file keyed-archive property list stored
// in the index's file column: a NSKeyedArchiver-style blob whose root
// object carries the file's protection class and wrapped key. Reference:
// spec Section 4.6.
package fileentry

import (
	"bytes"
	"fmt"

	"github.com/loftwing/ibackupcrypt/internal/types"
	"howett.net/plist"
)

// Entry is the decoded subset of a file entry this core needs.
type Entry struct {
	ProtectionClass types.ClassID

	// WrappedKey is the per-file key with its 4-byte length tag already
	// stripped. Nil if the entry has no EncryptionKey, i.e. it describes a
	// directory or other payload-less item.
	WrappedKey []byte
}

// HasKey reports whether the entry carries a wrapped file key.
func (e *Entry) HasKey() bool { return e.WrappedKey != nil }

// archive mirrors the keyed-archive envelope that NSKeyedArchiver produces:
// a $top dictionary of UID references into the flat $objects array.
type archive struct {
	Top     map[string]plist.UID `plist:"$top"`
	Objects []interface{}        `plist:"$objects"`
}

// Decode parses a keyed-archive file-entry blob, as found in the index's
// file column, and extracts its protection class and wrapped key.
func Decode(blob []byte) (*Entry, error) {
	var a archive
	decoder := plist.NewDecoder(bytes.NewReader(blob))
	if err := decoder.Decode(&a); err != nil {
		return nil, fmt.Errorf("fileentry: decoding keyed archive: %w", err)
	}

	rootUID, ok := a.Top["root"]
	if !ok {
		return nil, fmt.Errorf("fileentry: keyed archive has no $top.root")
	}
	root, err := objectAt(a.Objects, rootUID)
	if err != nil {
		return nil, fmt.Errorf("fileentry: resolving $top.root: %w", err)
	}
	fields, ok := root.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("fileentry: root object is not a dictionary (%T)", root)
	}

	classRaw, ok := resolveField(a.Objects, fields["ProtectionClass"])
	if !ok {
		return nil, fmt.Errorf("fileentry: root object has no ProtectionClass")
	}
	classID, err := asInt32(classRaw)
	if err != nil {
		return nil, fmt.Errorf("fileentry: ProtectionClass: %w", err)
	}

	entry := &Entry{ProtectionClass: types.ClassID(classID)}

	keyField, hasKeyField := fields["EncryptionKey"]
	if !hasKeyField {
		return entry, nil
	}
	keyRaw, ok := resolveField(a.Objects, keyField)
	if !ok {
		return entry, nil
	}
	rawKey, ok := dataBytes(keyRaw)
	if !ok {
		return nil, fmt.Errorf("fileentry: EncryptionKey is not a data value (%T)", keyRaw)
	}
	if len(rawKey) < 4 {
		return nil, fmt.Errorf("fileentry: EncryptionKey is too short to contain a length tag")
	}
	entry.WrappedKey = rawKey[4:]
	return entry, nil
}

// dataBytes extracts the raw bytes behind a resolved EncryptionKey object.
// A genuine backup's archiver stores it as an NSMutableData object, which
// howett.net/plist decodes to a dictionary carrying the payload under
// "NS.data" (mirroring iphone_backup.py's
// plist['$objects'][...]['NS.data']); some encoders instead inline a bare
// []byte object, which is kept as a fallback.
func dataBytes(v interface{}) ([]byte, bool) {
	if dict, ok := v.(map[string]interface{}); ok {
		data, ok := dict["NS.data"].([]byte)
		return data, ok
	}
	data, ok := v.([]byte)
	return data, ok
}

// resolveField follows a UID reference into objects if v is one, otherwise
// returns v unchanged. Primitive dictionary values (integers, strings) are
// usually inlined by the archiver; nested objects (data, further
// dictionaries) are stored by reference.
func resolveField(objects []interface{}, v interface{}) (interface{}, bool) {
	if v == nil {
		return nil, false
	}
	if uid, ok := v.(plist.UID); ok {
		resolved, err := objectAt(objects, uid)
		if err != nil {
			return nil, false
		}
		return resolved, true
	}
	return v, true
}

func objectAt(objects []interface{}, uid plist.UID) (interface{}, error) {
	idx := int(uid)
	if idx < 0 || idx >= len(objects) {
		return nil, fmt.Errorf("object index %d out of range (have %d objects)", idx, len(objects))
	}
	return objects[idx], nil
}

func asInt32(v interface{}) (int32, error) {
	switch n := v.(type) {
	case int64:
		return int32(n), nil
	case uint64:
		return int32(n), nil
	case int:
		return int32(n), nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
