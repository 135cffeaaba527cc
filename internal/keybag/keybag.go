package keybag

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/loftwing/ibackupcrypt/internal/aescrypto"
	"github.com/loftwing/ibackupcrypt/internal/kdf"
	"github.com/loftwing/ibackupcrypt/internal/types"
)

// ErrUnknownClass is returned by Unwrap when classID has no usable class
// key: either the keybag never carried a CLAS record for it, or that
// record's WPKY failed to unwrap during Unlock.
var ErrUnknownClass = errors.New("keybag: class not available")

// state is the keybag's own lifecycle, a sub-state of the session's
// Created -> Unlocked -> ManifestOpen -> Closed machine (spec Section 3).
type state int

const (
	stateParsed state = iota
	stateUnlocked
)

// Keybag holds the parsed header and class records for one backup, and
// the class keys recovered after a successful Unlock. It transitions
// Parsed -> Unlocked exactly once and is never re-locked.
type Keybag struct {
	state state

	uuid    uuid.UUID
	hasUUID bool

	salt            []byte
	iterations      int
	innerSalt       []byte
	innerIterations int
	innerHash       kdf.HashFamily

	classes   []classRecord
	classKeys map[types.ClassID][]byte

	// unavailableClasses records classes whose WPKY failed to unwrap even
	// though the overall passphrase was accepted (at least one other class
	// unwrapped). These are asymmetric-only or otherwise unreachable
	// classes, not a wrong-passphrase signal — see spec Section 9, Open
	// Questions.
	unavailableClasses map[types.ClassID]struct{}
}

// Parse tokenizes a keybag blob and returns a Keybag ready for Unlock.
func Parse(data []byte) (*Keybag, error) {
	p, err := parseKeybag(data)
	if err != nil {
		return nil, err
	}

	iterations, err := tlvUint32(p.header[types.TagIterations])
	if err != nil {
		return nil, fmt.Errorf("keybag: bad ITER field: %w", err)
	}
	innerIterations, err := tlvUint32(p.header[types.TagInnerIterations])
	if err != nil {
		return nil, fmt.Errorf("keybag: bad DPIC field: %w", err)
	}

	innerHash := kdf.HashSHA256
	if raw, ok := p.header[types.TagInnerHashFamily]; ok {
		v, err := tlvUint32(raw)
		if err != nil {
			return nil, fmt.Errorf("keybag: bad DPWT field: %w", err)
		}
		if v == 1 {
			innerHash = kdf.HashSHA1
		}
	}

	kb := &Keybag{
		state:              stateParsed,
		salt:               p.header[types.TagSalt],
		iterations:         int(iterations),
		innerSalt:          p.header[types.TagInnerSalt],
		innerIterations:    int(innerIterations),
		innerHash:          innerHash,
		classes:            p.classes,
		classKeys:          make(map[types.ClassID][]byte),
		unavailableClasses: make(map[types.ClassID]struct{}),
	}
	if id, ok := uuidField(p.header, types.TagUUID); ok {
		kb.uuid, kb.hasUUID = id, true
	}
	return kb, nil
}

// UUID returns the backup keybag's UUID header field, if present.
func (kb *Keybag) UUID() (uuid.UUID, bool) {
	return kb.uuid, kb.hasUUID
}

// IsUnlocked reports whether Unlock has already succeeded.
func (kb *Keybag) IsUnlocked() bool {
	return kb.state == stateUnlocked
}

// Unlock derives the passphrase KEK and attempts to unwrap every class
// record's wrapped key under it. It tries every record, and succeeds — and
// transitions to Unlocked — if at least one class record unwraps; classes that
// fail are recorded as unavailable rather than treated as a wrong
// passphrase (spec Section 4.4 step 2). A second call is a no-op that
// returns true, per the idempotence requirement.
func (kb *Keybag) Unlock(passphrase []byte) (bool, error) {
	if kb.state == stateUnlocked {
		return true, nil
	}

	kek := kdf.DeriveOuterKEK(passphrase, kb.innerSalt, kb.innerIterations, kb.innerHash, kb.salt, kb.iterations)
	defer zero(kek)

	unwrapped := 0
	for _, rec := range kb.classes {
		if len(rec.wrappedKey) == 0 {
			// Asymmetric-only (public-key) class record: no symmetric
			// wrapped key to unwrap under the passphrase KEK.
			kb.unavailableClasses[rec.classID] = struct{}{}
			continue
		}
		key, err := aescrypto.UnwrapKey(kek, rec.wrappedKey)
		if err != nil {
			kb.unavailableClasses[rec.classID] = struct{}{}
			continue
		}
		kb.classKeys[rec.classID] = key
		unwrapped++
	}

	if unwrapped == 0 {
		return false, nil
	}

	kb.state = stateUnlocked
	return true, nil
}

// Unwrap unwraps wrappedKey (an RFC-3394-wrapped per-file or per-manifest
// key) under the class key for classID. Fails with ErrUnknownClass if
// classID is not in the unlocked set, or ErrIntegrityCheckFailed if the
// class key does not match.
func (kb *Keybag) Unwrap(classID types.ClassID, wrappedKey []byte) ([]byte, error) {
	classKey, ok := kb.classKeys[classID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, classID)
	}
	return aescrypto.UnwrapKey(classKey, wrappedKey)
}

// HasClass reports whether classID has a usable class key.
func (kb *Keybag) HasClass(classID types.ClassID) bool {
	_, ok := kb.classKeys[classID]
	return ok
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
