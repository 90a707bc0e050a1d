package kvfs

import (
	"time"

	"github.com/gregpaulos/kvfs/inode"
)

// directoryReportedSize is the fixed size reported for directory inodes
// regardless of their actual listing payload length, matching the
// filesystem's own "fresh filesystem -> stat(/) is a directory, size 4096"
// scenario. The listing payload itself stays whatever length JSON-encoding
// it actually produces; this is purely a presentation convention for
// directory Stats, the same way a real filesystem reports a directory's
// block size rather than the byte count of its entries.
const directoryReportedSize = 4096

// Stats is the derived, caller-facing view of an inode.Record returned
// from Stat/Lstat/OpenFile.
type Stats struct {
	Size  int64
	Mode  uint32
	IsDir bool
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

func statsFromRecord(rec *inode.Record) Stats {
	size := rec.Size
	if rec.IsDir() {
		size = directoryReportedSize
	}
	return Stats{
		Size:  size,
		Mode:  rec.Mode,
		IsDir: rec.IsDir(),
		Atime: time.UnixMilli(rec.Atime),
		Mtime: time.UnixMilli(rec.Mtime),
		Ctime: time.UnixMilli(rec.Ctime),
	}
}

// MutableStats carries the subset of an inode's fields a sync call may
// update; nil fields are left unchanged. Size is inferred from the synced
// data's length when nil.
type MutableStats struct {
	Size  *int64
	Mode  *uint32
	Atime *time.Time
	Mtime *time.Time
	Ctime *time.Time
}

// applyStats merges stats into rec, additionally updating rec.Size to
// match len(data) when stats.Size is nil. It reports whether anything
// actually changed, so callers can skip rewriting the inode record when
// only the data blob changed.
func applyStats(rec *inode.Record, data []byte, stats MutableStats) bool {
	changed := false

	if stats.Mode != nil && *stats.Mode != rec.Mode {
		rec.Mode = *stats.Mode
		changed = true
	}
	if stats.Atime != nil && stats.Atime.UnixMilli() != rec.Atime {
		rec.Atime = stats.Atime.UnixMilli()
		changed = true
	}
	if stats.Mtime != nil && stats.Mtime.UnixMilli() != rec.Mtime {
		rec.Mtime = stats.Mtime.UnixMilli()
		changed = true
	}
	if stats.Ctime != nil && stats.Ctime.UnixMilli() != rec.Ctime {
		rec.Ctime = stats.Ctime.UnixMilli()
		changed = true
	}

	newSize := int64(len(data))
	if stats.Size != nil {
		newSize = *stats.Size
	}
	if newSize != rec.Size {
		rec.Size = newSize
		changed = true
	}

	return changed
}
