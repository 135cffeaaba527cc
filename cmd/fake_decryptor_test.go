package cmd

import (
	"errors"

	"github.com/loftwing/ibackupcrypt"
	"github.com/loftwing/ibackupcrypt/internal/fileentry"
)

// fakeDecryptor implements interfaces.Decryptor without touching disk, for
// testing the cmd package's presentation logic in isolation.
type fakeDecryptor struct {
	lookupLikeResult []ibackupcrypt.File
	lookupLikeErr    error

	extractBytesFn func(relativePath string) ([]byte, error)

	closed bool
}

func (f *fakeDecryptor) EnsureUnlocked() error { return nil }

func (f *fakeDecryptor) Lookup(relativePath string) (string, *fileentry.Entry, error) {
	for _, m := range f.lookupLikeResult {
		if m.RelativePath == relativePath {
			return m.FileID, m.Entry, nil
		}
	}
	return "", nil, errors.New("fakeDecryptor: not found")
}

func (f *fakeDecryptor) LookupLike(pattern string) ([]ibackupcrypt.File, error) {
	return f.lookupLikeResult, f.lookupLikeErr
}

func (f *fakeDecryptor) ExtractBytes(relativePath string) ([]byte, error) {
	if f.extractBytesFn != nil {
		return f.extractBytesFn(relativePath)
	}
	return nil, errors.New("fakeDecryptor: ExtractBytes not configured")
}

func (f *fakeDecryptor) Close() error {
	f.closed = true
	return nil
}
