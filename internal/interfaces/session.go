// Package interfaces declares the session-level contract the cmd package
// depends on, so CLI commands can be tested against a fake without a real
// backup directory. Adapted from the teacher's DecryptionManager
// interface, narrowed to this format's actual operations.
package interfaces

import (
	"github.com/loftwing/ibackupcrypt"
	"github.com/loftwing/ibackupcrypt/internal/fileentry"
)

// Decryptor is the session surface cmd commands drive: unlock, look up,
// and extract. *ibackupcrypt.Session satisfies this implicitly.
type Decryptor interface {
	EnsureUnlocked() error
	Lookup(relativePath string) (string, *fileentry.Entry, error)
	LookupLike(pattern string) ([]ibackupcrypt.File, error)
	ExtractBytes(relativePath string) ([]byte, error)
	Close() error
}
