package server

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FSDriver implements FileSystem on a local directory.
//
// All operations are confined to the root directory through os.Root, which
// rejects any path (including symlink targets) that escapes it. One FSDriver
// is shared by every session.
type FSDriver struct {
	root     *os.Root
	rootPath string
	readOnly bool
}

// FSDriverOption is a functional option for configuring an FSDriver.
type FSDriverOption func(*FSDriver)

// WithReadOnly rejects every operation that would modify the tree.
func WithReadOnly(readOnly bool) FSDriverOption {
	return func(d *FSDriver) {
		d.readOnly = readOnly
	}
}

// NewFSDriver creates a driver serving rootPath.
// Returns an error if the root path does not exist or is not a directory.
//
// Example:
//
//	fs, err := server.NewFSDriver("/srv/ftp")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer fs.Close()
func NewFSDriver(rootPath string, options ...FSDriverOption) (*FSDriver, error) {
	info, err := os.Stat(rootPath)
	if err != nil {
		return nil, fmt.Errorf("root path validation failed: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", rootPath)
	}

	rootPath, err = filepath.EvalSymlinks(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}

	root, err := os.OpenRoot(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open root: %w", err)
	}

	d := &FSDriver{
		root:     root,
		rootPath: rootPath,
	}
	for _, opt := range options {
		opt(d)
	}
	return d, nil
}

// Close releases the root directory handle.
func (d *FSDriver) Close() error {
	return d.root.Close()
}

// rel maps a virtual absolute path to a name relative to the root handle.
// "/" maps to ".".
func (d *FSDriver) rel(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("path %q is not absolute: %w", p, os.ErrInvalid)
	}
	p = strings.TrimPrefix(path.Clean(p), "/")
	if p == "" {
		return ".", nil
	}
	return filepath.FromSlash(p), nil
}

func (d *FSDriver) writable() error {
	if d.readOnly {
		return os.ErrPermission
	}
	return nil
}

// List returns the entries of a directory.
func (d *FSDriver) List(p string) ([]os.FileInfo, error) {
	rel, err := d.rel(p)
	if err != nil {
		return nil, err
	}

	f, err := d.root.Open(rel)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, err
	}

	infos := make([]os.FileInfo, 0, len(entries))
	for _, entry := range entries {
		// Entries removed while listing are skipped.
		if info, err := entry.Info(); err == nil {
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// Stat returns metadata for a file or directory.
func (d *FSDriver) Stat(p string) (os.FileInfo, error) {
	rel, err := d.rel(p)
	if err != nil {
		return nil, err
	}
	return d.root.Stat(rel)
}

// MakeDir creates a directory with 0755 permissions.
func (d *FSDriver) MakeDir(p string) error {
	if err := d.writable(); err != nil {
		return err
	}
	rel, err := d.rel(p)
	if err != nil {
		return err
	}
	return d.root.Mkdir(rel, 0755)
}

// RemoveDir removes an empty directory.
func (d *FSDriver) RemoveDir(p string) error {
	if err := d.writable(); err != nil {
		return err
	}
	rel, err := d.rel(p)
	if err != nil {
		return err
	}
	info, err := d.root.Lstat(rel)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errNotDirectory
	}
	return d.root.Remove(rel)
}

// RemoveFile removes a file. Directories are rejected.
func (d *FSDriver) RemoveFile(p string) error {
	if err := d.writable(); err != nil {
		return err
	}
	rel, err := d.rel(p)
	if err != nil {
		return err
	}
	info, err := d.root.Lstat(rel)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return os.ErrPermission
	}
	return d.root.Remove(rel)
}

// Rename moves or renames a file or directory inside the root.
func (d *FSDriver) Rename(from, to string) error {
	if err := d.writable(); err != nil {
		return err
	}
	src, err := d.rel(from)
	if err != nil {
		return err
	}
	dst, err := d.rel(to)
	if err != nil {
		return err
	}
	if src == "." || dst == "." {
		return os.ErrPermission
	}
	if err := d.root.Rename(src, dst); err != nil {
		// Strip the absolute path so it never reaches a client reply.
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) {
			return linkErr.Err
		}
		return err
	}
	return nil
}

// OpenRead opens a regular file for reading.
func (d *FSDriver) OpenRead(p string) (io.ReadCloser, error) {
	rel, err := d.rel(p)
	if err != nil {
		return nil, err
	}
	f, err := d.root.Open(rel)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}

// OpenWrite opens a file for writing, creating it when needed.
func (d *FSDriver) OpenWrite(p string, append bool) (io.WriteCloser, error) {
	if err := d.writable(); err != nil {
		return nil, err
	}
	rel, err := d.rel(p)
	if err != nil {
		return nil, err
	}
	flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if append {
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	return d.root.OpenFile(rel, flag, 0644)
}

// Chmod changes the permission bits of a file. Only 0-0777 is accepted.
func (d *FSDriver) Chmod(p string, mode os.FileMode) error {
	if err := d.writable(); err != nil {
		return err
	}
	if mode > 0777 {
		return os.ErrInvalid
	}
	rel, err := d.rel(p)
	if err != nil {
		return err
	}
	return d.root.Chmod(rel, mode)
}
