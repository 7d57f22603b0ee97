package server

import (
	"errors"
	"io"
	"os"
)

// errNotDirectory is returned when a directory operation targets a file.
var errNotDirectory = errors.New("not a directory")

// Authenticator verifies the credentials presented with USER and PASS.
//
// Verify is called once per PASS command. It must be safe for concurrent
// use, since every session shares the same Authenticator.
type Authenticator interface {
	Verify(user, pass string) bool
}

// AuthenticatorFunc adapts a plain function to the Authenticator interface.
type AuthenticatorFunc func(user, pass string) bool

// Verify calls f(user, pass).
func (f AuthenticatorFunc) Verify(user, pass string) bool {
	return f(user, pass)
}

// FileSystem is the storage backend used by the command handlers.
//
// All paths are absolute virtual paths using forward slashes ("/" is the
// root of the served tree). The session resolves relative arguments against
// its working directory before calling into the FileSystem.
//
// Error handling:
//   - Return os.ErrNotExist when files/directories don't exist
//   - Return os.ErrPermission for permission denied errors
//   - Return os.ErrExist when files/directories already exist
//   - The server will translate these to FTP reply codes
//
// Implementations are shared by all sessions and must be safe for
// concurrent use.
type FileSystem interface {
	// List returns the entries of the directory at path.
	List(path string) ([]os.FileInfo, error)

	// Stat returns file or directory metadata.
	Stat(path string) (os.FileInfo, error)

	// MakeDir creates a new directory.
	MakeDir(path string) error

	// RemoveDir removes an empty directory.
	RemoveDir(path string) error

	// RemoveFile removes a file.
	RemoveFile(path string) error

	// Rename moves or renames a file or directory.
	Rename(from, to string) error

	// OpenRead opens a file for download.
	OpenRead(path string) (io.ReadCloser, error)

	// OpenWrite opens a file for upload, truncating it unless append is set.
	OpenWrite(path string, append bool) (io.WriteCloser, error)
}

// Chmoder is implemented by file systems that support SITE CHMOD.
type Chmoder interface {
	Chmod(path string, mode os.FileMode) error
}
