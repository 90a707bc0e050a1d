// Package inode defines the on-store schema for a single filesystem object
// (the inode record) and for a directory's payload (the listing mapping
// child names to child node ids). Both types are JSON-encoded, following
// the same encoding/json convention used elsewhere in this codebase for
// small structured records kept on a key-value store.
package inode

import (
	"encoding/json"
	"fmt"

	"github.com/gregpaulos/kvfs/filetype"
)

// RootID is the reserved node id for the root directory's inode record.
const RootID = "/"

// Record is the fixed-schema metadata blob for one filesystem object. It is
// itself stored under its own node id key; DataID points at a second key
// holding the object's payload (file bytes, or a serialized Listing for a
// directory).
type Record struct {
	DataID string `json:"data_id"`
	Size   int64  `json:"size"`
	// Mode packs filetype.Type into the high bits and POSIX permission bits
	// into the low 9 bits; see filetype.Pack/Unpack.
	Mode  uint32 `json:"mode"`
	Atime int64  `json:"atime_ms"`
	Mtime int64  `json:"mtime_ms"`
	Ctime int64  `json:"ctime_ms"`
}

// Type reports the filesystem object type encoded in r.Mode.
func (r *Record) Type() filetype.Type {
	t, _ := filetype.Unpack(r.Mode)
	return t
}

// IsDir reports whether r describes a directory.
func (r *Record) IsDir() bool {
	return filetype.IsDir(r.Mode)
}

// Perm returns the POSIX permission bits encoded in r.Mode.
func (r *Record) Perm() uint32 {
	_, perm := filetype.Unpack(r.Mode)
	return perm
}

// Marshal encodes r for storage as JSON; the only requirement on callers
// is that Unmarshal round-trips it.
func (r *Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Unmarshal decodes a Record previously produced by Marshal.
func Unmarshal(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("inode: corrupt record: %w", err)
	}
	return &r, nil
}

// New constructs a Record with all three timestamps set to nowMillis.
func New(dataID string, size int64, mode uint32, nowMillis int64) *Record {
	return &Record{
		DataID: dataID,
		Size:   size,
		Mode:   mode,
		Atime:  nowMillis,
		Mtime:  nowMillis,
		Ctime:  nowMillis,
	}
}

// Listing is the mapping from a directory's child names to the child's
// node id. The zero value (nil map) round-trips to the JSON empty object,
// the same representation as an explicitly-empty Listing{} — callers that
// need to distinguish "directory exists but has no payload key" from "empty
// directory" must do so at the store layer, not via this type (a missing
// payload for an existing directory inode is corruption, not an empty
// directory).
type Listing map[string]string

// Marshal encodes l for storage as a directory's payload.
func (l Listing) Marshal() ([]byte, error) {
	if l == nil {
		l = Listing{}
	}
	return json.Marshal(l)
}

// UnmarshalListing decodes a Listing previously produced by Marshal.
func UnmarshalListing(data []byte) (Listing, error) {
	var l Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("inode: corrupt directory listing: %w", err)
	}
	if l == nil {
		l = Listing{}
	}
	return l, nil
}
