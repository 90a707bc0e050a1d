// Package filetype defines the small set of inode types this filesystem
// supports and how they are packed into an inode's mode field. Adapted from
// jacobsa-fuse's fuseops.Filetype enum, trimmed to the two types this
// filesystem's Non-goals permit (no symlinks, no device nodes).
package filetype

import "fmt"

// Type distinguishes what kind of object an inode describes.
type Type uint32

const (
	// Unknown is the zero value; a well-formed inode never has this type.
	Unknown Type = 0
	// File denotes a regular file inode.
	File Type = 1
	// Directory denotes a directory inode.
	Directory Type = 2
)

func (t Type) String() string {
	switch t {
	case File:
		return "file"
	case Directory:
		return "directory"
	}
	return "unknown"
}

// permBits masks the low 9 bits of a mode (rwxrwxrwx).
const permBits = 0o777

// typeShift places the Type tag above the permission bits.
const typeShift = 9

// Pack combines a Type and permission bits (low 9 bits are significant)
// into a single mode value, the representation stored in an inode record.
func Pack(t Type, perm uint32) uint32 {
	return (uint32(t) << typeShift) | (perm & permBits)
}

// Unpack splits a mode value back into its Type and permission bits.
func Unpack(mode uint32) (t Type, perm uint32) {
	return Type(mode >> typeShift), mode & permBits
}

// IsDir reports whether mode's embedded type tag is Directory.
func IsDir(mode uint32) bool {
	t, _ := Unpack(mode)
	return t == Directory
}

// IsFile reports whether mode's embedded type tag is File.
func IsFile(mode uint32) bool {
	t, _ := Unpack(mode)
	return t == File
}

// Validate returns an error if mode's embedded type tag is not one of the
// known types.
func Validate(mode uint32) error {
	t, _ := Unpack(mode)
	if t != File && t != Directory {
		return fmt.Errorf("filetype: unknown type tag %d in mode %#o", t, mode)
	}
	return nil
}
