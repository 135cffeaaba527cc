package ibackupcrypt

import "fmt"

// ErrorKind classifies a failure raised by this module. Reference: spec
// Section 7, "Error Handling Design".
type ErrorKind int

const (
	// ErrManifestPlistMissing: Manifest.plist absent or unreadable.
	ErrManifestPlistMissing ErrorKind = iota
	// ErrKeybagFormat: keybag blob truncated or missing a required header field.
	ErrKeybagFormat
	// ErrIncorrectPassphrase: no class record unwraps under the derived KEK.
	ErrIncorrectPassphrase
	// ErrUnknownClass: requested protection class absent from the unlocked set.
	ErrUnknownClass
	// ErrWrapIntegrity: RFC-3394 integrity check value mismatch.
	ErrWrapIntegrity
	// ErrManifestCorrupt: decrypted index is not a valid database or lacks Files.
	ErrManifestCorrupt
	// ErrPayloadMissing: expected on-disk payload file not present.
	ErrPayloadMissing
	// ErrPadding: PKCS#7 unpad inconsistent.
	ErrPadding
	// ErrNotFound: relative path not present, or its flags != 1.
	ErrNotFound
	// ErrCleanupFailed: temporary-file removal failed. Non-fatal; diagnostic only.
	ErrCleanupFailed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrManifestPlistMissing:
		return "ManifestPlistMissing"
	case ErrKeybagFormat:
		return "KeybagFormat"
	case ErrIncorrectPassphrase:
		return "IncorrectPassphrase"
	case ErrUnknownClass:
		return "UnknownClass"
	case ErrWrapIntegrity:
		return "WrapIntegrity"
	case ErrManifestCorrupt:
		return "ManifestCorrupt"
	case ErrPayloadMissing:
		return "PayloadMissing"
	case ErrPadding:
		return "Padding"
	case ErrNotFound:
		return "NotFound"
	case ErrCleanupFailed:
		return "CleanupFailed"
	default:
		return "Unknown"
	}
}

// Error is the typed error this module returns. It carries enough context
// (file ID, relative path, class ID) for a caller to diagnose the failure
// without parsing the message string, per spec Section 7's propagation
// policy.
type Error struct {
	Kind         ErrorKind
	Op           string
	RelativePath string
	FileID       string
	ClassID      int32
	Err          error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.RelativePath != "" {
		msg += fmt.Sprintf(" (relativePath=%q)", e.RelativePath)
	}
	if e.FileID != "" {
		msg += fmt.Sprintf(" (fileID=%s)", e.FileID)
	}
	if e.ClassID != 0 {
		msg += fmt.Sprintf(" (classID=%d)", e.ClassID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, &Error{Kind: ErrNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
