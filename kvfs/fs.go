// Package kvfs implements a filesystem's directory tree and metadata on top
// of an arbitrary transactional key-value store (package store for the
// synchronous case, package astore for the asynchronous one). It owns path
// resolution, inode and directory-listing encoding, and the mutating
// operations (create, mkdir, unlink, rmdir, rename); it does not own the
// store implementation, the wire protocol in front of it, or a general
// buffered-file abstraction, all of which remain a caller's responsibility.
package kvfs

import (
	"log/slog"
	"time"

	"github.com/gregpaulos/kvfs/filetype"
	"github.com/gregpaulos/kvfs/inode"
	"github.com/gregpaulos/kvfs/kvfserr"
	"github.com/gregpaulos/kvfs/store"
)

// defaultDirPerm is the permission bits given to the root directory when it
// is initialized; Mkdir always takes explicit bits.
const defaultDirPerm = 0o777

// Filesystem is the synchronous mutation engine. A Filesystem is safe for
// concurrent use to the extent the underlying store.Store is; it holds no
// state of its own beyond a logger, a clock and a reference to the store.
type Filesystem struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New opens (and, if necessary, initializes) a filesystem rooted at s. A
// fresh store is given a root directory inode on first use.
func New(s store.Store, logger *slog.Logger) (*Filesystem, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fs := &Filesystem{
		store:  s,
		logger: logger.WithGroup("kvfs"),
		now:    time.Now,
	}
	if err := fs.ensureRoot(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *Filesystem) nowMillis() int64 {
	return fs.now().UnixMilli()
}

func (fs *Filesystem) ensureRoot() error {
	txn, err := fs.store.BeginRW()
	if err != nil {
		return kvfserr.WrapEIO("/", err)
	}

	_, ok, err := txn.Get(inode.RootID)
	if err != nil {
		fs.abort(txn, "/")
		return kvfserr.WrapEIO("/", err)
	}
	if ok {
		if err := txn.Abort(); err != nil {
			fs.logger.Warn("abort of no-op root check failed", "error", err)
		}
		return nil
	}

	listing := inode.Listing{}
	payload, err := listing.Marshal()
	if err != nil {
		fs.abort(txn, "/")
		return kvfserr.WrapEIO("/", err)
	}

	dataID, err := fs.allocateAndPut(txn, payload)
	if err != nil {
		fs.abort(txn, "/")
		return err
	}

	rec := inode.New(dataID, int64(len(payload)), filetype.Pack(filetype.Directory, defaultDirPerm), fs.nowMillis())
	recBytes, err := rec.Marshal()
	if err != nil {
		fs.abort(txn, "/")
		return kvfserr.WrapEIO("/", err)
	}
	if _, err := txn.Put(inode.RootID, recBytes, true); err != nil {
		fs.abort(txn, "/")
		return kvfserr.WrapEIO("/", err)
	}
	if err := txn.Commit(); err != nil {
		return kvfserr.WrapEIO("/", err)
	}
	return nil
}

// abort discards txn, logging (but not returning) any secondary failure
// from the discard itself. Called only once an operation has already
// decided to fail for some other reason.
func (fs *Filesystem) abort(txn store.RWTxn, path string) {
	if err := txn.Abort(); err != nil {
		fs.logger.Warn("abort failed", "path", path, "error", err)
	}
}

// Empty drops every key in the backing store and reinitializes the root
// directory.
func (fs *Filesystem) Empty() error {
	if err := fs.store.Clear(); err != nil {
		return kvfserr.WrapEIO("/", err)
	}
	return fs.ensureRoot()
}
