// Package types holds the on-the-wire data shapes shared across the
// keybag, manifest, and file-entry packages: protection classes and keybag
// tags.
package types

import "fmt"

// ClassID identifies a data-protection class. Files declare which class
// wrapped their per-file key; the keybag carries one class record per
// class that is available to unwrap.
type ClassID int32

// Commonly observed protection classes. The backup format treats these as
// opaque integers — any value is accepted by the parser — but these are
// the ones seen in practice and are useful for diagnostics.
const (
	ClassComplete                   ClassID = 1
	ClassCompleteUnlessOpen         ClassID = 2
	ClassCompleteUntilFirstUserAuth ClassID = 3
	ClassNone                       ClassID = 4
	ClassManifestDefault            ClassID = 5
	ClassKeybagWrappingKey          ClassID = 6
)

// String renders a human-readable name for known classes, falling back to
// the numeric value for anything else.
func (c ClassID) String() string {
	switch c {
	case ClassComplete:
		return "Complete"
	case ClassCompleteUnlessOpen:
		return "CompleteUnlessOpen"
	case ClassCompleteUntilFirstUserAuth:
		return "CompleteUntilFirstUserAuthentication"
	case ClassNone:
		return "None"
	case ClassManifestDefault:
		return "ManifestDefault"
	case ClassKeybagWrappingKey:
		return "KeybagWrappingKey"
	default:
		return fmt.Sprintf("Class(%d)", int32(c))
	}
}

// KeybagTag is the 4-byte ASCII tag that prefixes every record in a keybag
// blob. Reference: spec Section 6, "Keybag blob format".
type KeybagTag string

// Recognised keybag tags. Tags outside this set are parsed (to keep the
// byte stream in sync) but otherwise ignored, per the parser's forward
// compatibility contract.
const (
	TagVersion         KeybagTag = "VERS"
	TagType            KeybagTag = "TYPE"
	TagUUID            KeybagTag = "UUID"
	TagHMACKey         KeybagTag = "HMCK"
	TagWrap            KeybagTag = "WRAP"
	TagSalt            KeybagTag = "SALT"
	TagIterations      KeybagTag = "ITER"
	TagInnerSalt       KeybagTag = "DPSL"
	TagInnerIterations KeybagTag = "DPIC"
	TagInnerHashFamily KeybagTag = "DPWT"
	TagClass           KeybagTag = "CLAS"
	TagKeyType         KeybagTag = "KTYP"
	TagWrappedKey      KeybagTag = "WPKY"
	TagPublicKey       KeybagTag = "WPUB"
	TagPassphraseHint  KeybagTag = "PBKY"
)
