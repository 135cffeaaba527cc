// Package keybag parses the tagged binary keybag format and implements
// passphrase unlock and per-class key unwrap. Reference: spec Sections
// 4.3 and 4.4.
package keybag

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/loftwing/ibackupcrypt/internal/types"
)

// classRecord is one parsed CLAS block: a protection class ID plus its
// wrapped class key and associated wrap/key-type metadata.
type classRecord struct {
	classID    types.ClassID
	wrapMode   uint32
	keyType    uint32
	wrappedKey []byte
	publicKey  []byte
}

// parsed is the raw result of tokenizing a keybag blob, before unlock.
type parsed struct {
	header  map[types.KeybagTag][]byte
	classes []classRecord
}

// requiredHeaderTags must be present or the blob is not a valid keybag.
var requiredHeaderTags = []types.KeybagTag{
	types.TagSalt, types.TagIterations, types.TagInnerSalt, types.TagInnerIterations, types.TagWrap,
}

// parseKeybag tokenizes a keybag blob into header fields and class records.
//
// The stream is a sequence of [4-byte ASCII tag][4-byte BE length][value]
// records. Header fields are collected until the first CLAS, or until the
// first UUID following the initial header UUID — whichever comes first —
// since each class record is itself led by a per-class UUID (spec Section
// 4.3). From that point, every WRAP/KTYP/WPKY/WPUB/PBKY tag belongs to the
// class record in progress until the next CLAS or end of input.
// Unrecognised tags are skipped (forward compatibility).
func parseKeybag(data []byte) (*parsed, error) {
	p := &parsed{header: make(map[types.KeybagTag][]byte)}

	var current *classRecord // the class record being accumulated, once known
	var pending *classRecord // a class record started by its leading UUID, before CLAS supplies its classID
	sawHeaderUUID := false

	offset := 0
	for offset < len(data) {
		if offset+8 > len(data) {
			return nil, fmt.Errorf("keybag: truncated record header at offset %d", offset)
		}
		tag := types.KeybagTag(data[offset : offset+4])
		length := binary.BigEndian.Uint32(data[offset+4 : offset+8])
		offset += 8

		if uint64(offset)+uint64(length) > uint64(len(data)) {
			return nil, fmt.Errorf("keybag: record %s declares length %d exceeding remaining %d bytes", tag, length, len(data)-offset)
		}
		value := data[offset : offset+int(length)]
		offset += int(length)

		if tag == types.TagUUID && current == nil && pending == nil {
			if !sawHeaderUUID {
				// The backup's own header UUID.
				p.header[tag] = append([]byte(nil), value...)
				sawHeaderUUID = true
			} else {
				// The leading UUID of the first class record: ends header
				// accumulation even though CLAS has not been seen yet.
				pending = &classRecord{}
			}
			continue
		}

		if tag == types.TagClass {
			if current != nil {
				p.classes = append(p.classes, *current)
			}
			classID, err := tlvInt32(value)
			if err != nil {
				return nil, fmt.Errorf("keybag: malformed CLAS value: %w", err)
			}
			if pending != nil {
				current, pending = pending, nil
			} else {
				current = &classRecord{}
			}
			current.classID = types.ClassID(classID)
			continue
		}

		target := current
		if target == nil {
			target = pending
		}
		if target != nil {
			switch tag {
			case types.TagWrap:
				v, _ := tlvUint32(value)
				target.wrapMode = v
			case types.TagKeyType:
				v, _ := tlvUint32(value)
				target.keyType = v
			case types.TagWrappedKey:
				target.wrappedKey = append([]byte(nil), value...)
			case types.TagPublicKey:
				target.publicKey = append([]byte(nil), value...)
			case types.TagPassphraseHint:
				// Ignored by this core; not needed to unlock or decrypt.
			default:
				// Unknown tag inside a class record: skip silently.
			}
			continue
		}

		// Header field.
		p.header[tag] = append([]byte(nil), value...)
	}
	if current != nil {
		p.classes = append(p.classes, *current)
	}

	for _, required := range requiredHeaderTags {
		if _, ok := p.header[required]; !ok {
			return nil, fmt.Errorf("keybag: missing required header field %s", required)
		}
	}

	return p, nil
}

func tlvUint32(v []byte) (uint32, error) {
	if len(v) != 4 {
		return 0, fmt.Errorf("keybag: expected 4-byte field, got %d bytes", len(v))
	}
	return binary.BigEndian.Uint32(v), nil
}

func tlvInt32(v []byte) (int32, error) {
	u, err := tlvUint32(v)
	return int32(u), err
}

// uuidField decodes a 16-byte UUID header field, if present.
func uuidField(header map[types.KeybagTag][]byte, tag types.KeybagTag) (uuid.UUID, bool) {
	v, ok := header[tag]
	if !ok || len(v) != 16 {
		return uuid.UUID{}, false
	}
	var id uuid.UUID
	copy(id[:], v)
	return id, true
}
