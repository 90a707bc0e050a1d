// Package kvfserr defines the typed, path-carrying error kinds the
// filesystem engine raises. Each kind is its own struct type rather than a
// sentinel value so callers can carry the offending path through
// errors.As.
package kvfserr

import (
	"fmt"

	"github.com/pkg/errors"
)

// ENOENT is returned when a path does not resolve, or an inode points at a
// missing payload.
type ENOENT struct {
	Path string
}

func (e *ENOENT) Error() string {
	return fmt.Sprintf("no such file or directory: %s", e.Path)
}

// EEXIST is returned when creating at an existing path, or creating at root.
type EEXIST struct {
	Path string
}

func (e *EEXIST) Error() string {
	return fmt.Sprintf("file exists: %s", e.Path)
}

// ENOTDIR is returned when a path component expected to be a directory is not.
type ENOTDIR struct {
	Path string
}

func (e *ENOTDIR) Error() string {
	return fmt.Sprintf("not a directory: %s", e.Path)
}

// EISDIR is returned when Unlink is invoked on a directory.
type EISDIR struct {
	Path string
}

func (e *EISDIR) Error() string {
	return fmt.Sprintf("is a directory: %s", e.Path)
}

// EPERM is returned when Rename would overwrite a directory.
type EPERM struct {
	Path string
}

func (e *EPERM) Error() string {
	return fmt.Sprintf("operation not permitted: %s", e.Path)
}

// EBUSY is returned when Rename would place a directory inside itself or a
// descendant.
type EBUSY struct {
	Path string
}

func (e *EBUSY) Error() string {
	return fmt.Sprintf("resource busy: %s", e.Path)
}

// ENOTEMPTY is returned when Rmdir targets a non-empty directory.
type ENOTEMPTY struct {
	Path string
}

func (e *ENOTEMPTY) Error() string {
	return fmt.Sprintf("directory not empty: %s", e.Path)
}

// EIO is returned when the backing store reports failure or id allocation
// exhausts its retry budget.
type EIO struct {
	Path string
	Err  error
}

func (e *EIO) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("i/o error on %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("i/o error on %s", e.Path)
}

func (e *EIO) Unwrap() error {
	return e.Err
}

// WrapEIO wraps a lower-level store error into an *EIO for the given path,
// attaching a stack trace via github.com/pkg/errors before surfacing it to
// the caller.
func WrapEIO(path string, err error) error {
	if err == nil {
		return nil
	}
	return &EIO{Path: path, Err: errors.Wrap(err, "store operation failed")}
}
