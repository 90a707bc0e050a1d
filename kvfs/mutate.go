package kvfs

import (
	"path"
	"strings"

	"github.com/gregpaulos/kvfs/filetype"
	"github.com/gregpaulos/kvfs/inode"
	"github.com/gregpaulos/kvfs/kvfserr"
	"github.com/gregpaulos/kvfs/store"
)

// commitNewFile creates a new inode of type ft at p holding payload: it
// allocates a fresh data blob, then a fresh inode, then links the parent
// listing to it, all inside one transaction. Create and Mkdir differ only
// in ft and the initial payload. p is cleaned before use; every public
// entry point into this file normalizes its path arguments the same way,
// since resolution and the EBUSY subpath guard in Rename both require
// already-canonical input to be correct.
func (fs *Filesystem) commitNewFile(p string, ft filetype.Type, perm uint32, payload []byte) (*inode.Record, error) {
	p = path.Clean(p)
	if p == "/" {
		return nil, &kvfserr.EEXIST{Path: p}
	}
	parentPath, leaf := splitPath(p)

	txn, err := fs.store.BeginRW()
	if err != nil {
		return nil, kvfserr.WrapEIO(p, err)
	}

	rec, err := fs.commitNewFileTxn(txn, p, parentPath, leaf, ft, perm, payload)
	if err != nil {
		fs.abort(txn, p)
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, kvfserr.WrapEIO(p, err)
	}
	return rec, nil
}

func (fs *Filesystem) commitNewFileTxn(txn store.RWTxn, p, parentPath, leaf string, ft filetype.Type, perm uint32, payload []byte) (*inode.Record, error) {
	_, parentRec, err := fs.resolveInode(txn, parentPath)
	if err != nil {
		return nil, err
	}
	listing, err := fs.getDirListing(txn, parentRec, parentPath)
	if err != nil {
		return nil, err
	}
	if _, exists := listing[leaf]; exists {
		return nil, &kvfserr.EEXIST{Path: p}
	}

	dataID, err := fs.allocateAndPut(txn, payload)
	if err != nil {
		return nil, err
	}

	rec := inode.New(dataID, int64(len(payload)), filetype.Pack(ft, perm), fs.nowMillis())
	recBytes, err := rec.Marshal()
	if err != nil {
		return nil, kvfserr.WrapEIO(p, err)
	}

	inodeID, err := fs.allocateAndPut(txn, recBytes)
	if err != nil {
		return nil, err
	}

	listing[leaf] = inodeID
	listingBytes, err := listing.Marshal()
	if err != nil {
		return nil, kvfserr.WrapEIO(parentPath, err)
	}
	if _, err := txn.Put(parentRec.DataID, listingBytes, true); err != nil {
		return nil, kvfserr.WrapEIO(parentPath, err)
	}

	return rec, nil
}

// CreateFile creates a new, empty regular file at p and returns a handle
// opened for writing.
func (fs *Filesystem) CreateFile(p string, perm uint32) (*BufferedFile, error) {
	p = path.Clean(p)
	rec, err := fs.commitNewFile(p, filetype.File, perm, []byte{})
	if err != nil {
		return nil, err
	}
	return newWriteFile(fs, p, rec, nil), nil
}

// Mkdir creates a new, empty directory at p.
func (fs *Filesystem) Mkdir(p string, perm uint32) error {
	listing := inode.Listing{}
	payload, err := listing.Marshal()
	if err != nil {
		return kvfserr.WrapEIO(p, err)
	}
	_, err = fs.commitNewFile(p, filetype.Directory, perm, payload)
	return err
}

// OpenFile opens p for reading, returning a handle over a snapshot of its
// current contents taken under a single read-only transaction.
func (fs *Filesystem) OpenFile(p string) (*BufferedFile, error) {
	p = path.Clean(p)
	txn, err := fs.store.BeginRO()
	if err != nil {
		return nil, kvfserr.WrapEIO(p, err)
	}
	defer closeRO(txn)

	_, rec, err := fs.resolveInode(txn, p)
	if err != nil {
		return nil, err
	}
	data, ok, err := txn.Get(rec.DataID)
	if err != nil {
		return nil, kvfserr.WrapEIO(p, err)
	}
	if !ok {
		return nil, &kvfserr.ENOENT{Path: p}
	}
	return newReadFile(fs, p, rec, data), nil
}

// Stat returns the metadata for p.
func (fs *Filesystem) Stat(p string) (Stats, error) {
	p = path.Clean(p)
	txn, err := fs.store.BeginRO()
	if err != nil {
		return Stats{}, kvfserr.WrapEIO(p, err)
	}
	defer closeRO(txn)

	_, rec, err := fs.resolveInode(txn, p)
	if err != nil {
		return Stats{}, err
	}
	return statsFromRecord(rec), nil
}

// Lstat is Stat's alias; this filesystem has no symlinks to not-follow.
func (fs *Filesystem) Lstat(p string) (Stats, error) {
	return fs.Stat(p)
}

// Readdir lists the names of p's direct children.
func (fs *Filesystem) Readdir(p string) ([]string, error) {
	p = path.Clean(p)
	txn, err := fs.store.BeginRO()
	if err != nil {
		return nil, kvfserr.WrapEIO(p, err)
	}
	defer closeRO(txn)

	_, rec, err := fs.resolveInode(txn, p)
	if err != nil {
		return nil, err
	}
	listing, err := fs.getDirListing(txn, rec, p)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(listing))
	for name := range listing {
		names = append(names, name)
	}
	return names, nil
}

// removeEntry unlinks the leaf named by p from its parent's listing and
// deletes its inode and data blob. isDir gates whether p is required to be
// a directory (Rmdir) or forbidden from being one (Unlink).
func (fs *Filesystem) removeEntry(p string, isDir bool) error {
	p = path.Clean(p)
	parentPath, leaf := splitPath(p)

	txn, err := fs.store.BeginRW()
	if err != nil {
		return kvfserr.WrapEIO(p, err)
	}
	if err := fs.removeEntryTxn(txn, p, parentPath, leaf, isDir); err != nil {
		fs.abort(txn, p)
		return err
	}
	if err := txn.Commit(); err != nil {
		return kvfserr.WrapEIO(p, err)
	}
	return nil
}

func (fs *Filesystem) removeEntryTxn(txn store.RWTxn, p, parentPath, leaf string, isDir bool) error {
	_, parentRec, err := fs.resolveInode(txn, parentPath)
	if err != nil {
		return err
	}
	listing, err := fs.getDirListing(txn, parentRec, parentPath)
	if err != nil {
		return err
	}
	childID, ok := listing[leaf]
	if !ok {
		return &kvfserr.ENOENT{Path: p}
	}
	childRec, err := fs.getInode(txn, childID, p)
	if err != nil {
		return err
	}
	if !isDir && childRec.IsDir() {
		return &kvfserr.EISDIR{Path: p}
	}
	if isDir && !childRec.IsDir() {
		return &kvfserr.ENOTDIR{Path: p}
	}

	if err := txn.Del(childRec.DataID); err != nil {
		return kvfserr.WrapEIO(p, err)
	}
	if err := txn.Del(childID); err != nil {
		return kvfserr.WrapEIO(p, err)
	}

	delete(listing, leaf)
	listingBytes, err := listing.Marshal()
	if err != nil {
		return kvfserr.WrapEIO(parentPath, err)
	}
	if _, err := txn.Put(parentRec.DataID, listingBytes, true); err != nil {
		return kvfserr.WrapEIO(parentPath, err)
	}
	return nil
}

// Unlink removes the regular file at p.
func (fs *Filesystem) Unlink(p string) error {
	return fs.removeEntry(p, false)
}

// Rmdir removes the empty directory at p.
func (fs *Filesystem) Rmdir(p string) error {
	children, err := fs.Readdir(p)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return &kvfserr.ENOTEMPTY{Path: p}
	}
	return fs.removeEntry(p, true)
}

// Rename moves the entry at oldPath to newPath, overwriting an existing
// regular file at newPath but refusing to overwrite a directory there.
// oldPath and newPath are cleaned via path.Clean before the EBUSY subpath
// check below: that check is only correct when both sides are canonical
// (no trailing slash, no "." or ".." components), since it compares
// newParent — itself derived from path.Dir/path.Base — against a raw
// prefix of oldPath.
func (fs *Filesystem) Rename(oldPath, newPath string) error {
	oldPath = path.Clean(oldPath)
	newPath = path.Clean(newPath)
	oldParent, oldName := splitPath(oldPath)
	newParent, newName := splitPath(newPath)

	if strings.HasPrefix(newParent+"/", oldPath+"/") {
		return &kvfserr.EBUSY{Path: oldPath}
	}

	txn, err := fs.store.BeginRW()
	if err != nil {
		return kvfserr.WrapEIO(oldPath, err)
	}
	if err := fs.renameTxn(txn, oldPath, oldParent, oldName, newPath, newParent, newName); err != nil {
		fs.abort(txn, oldPath)
		return err
	}
	if err := txn.Commit(); err != nil {
		return kvfserr.WrapEIO(oldPath, err)
	}
	return nil
}

func (fs *Filesystem) renameTxn(txn store.RWTxn, oldPath, oldParent, oldName, newPath, newParent, newName string) error {
	_, oldParentRec, err := fs.resolveInode(txn, oldParent)
	if err != nil {
		return err
	}
	oldListing, err := fs.getDirListing(txn, oldParentRec, oldParent)
	if err != nil {
		return err
	}

	sameParent := newParent == oldParent
	newParentRec := oldParentRec
	newListing := oldListing
	if !sameParent {
		_, newParentRec, err = fs.resolveInode(txn, newParent)
		if err != nil {
			return err
		}
		newListing, err = fs.getDirListing(txn, newParentRec, newParent)
		if err != nil {
			return err
		}
	}

	id, ok := oldListing[oldName]
	if !ok {
		return &kvfserr.ENOENT{Path: oldPath}
	}
	delete(oldListing, oldName)

	if existingID, exists := newListing[newName]; exists {
		existingRec, err := fs.getInode(txn, existingID, newPath)
		if err != nil {
			return err
		}
		if existingRec.IsDir() {
			return &kvfserr.EPERM{Path: newPath}
		}
		if err := txn.Del(existingRec.DataID); err != nil {
			return kvfserr.WrapEIO(newPath, err)
		}
		if err := txn.Del(existingID); err != nil {
			return kvfserr.WrapEIO(newPath, err)
		}
	}
	newListing[newName] = id

	oldListingBytes, err := oldListing.Marshal()
	if err != nil {
		return kvfserr.WrapEIO(oldParent, err)
	}
	if _, err := txn.Put(oldParentRec.DataID, oldListingBytes, true); err != nil {
		return kvfserr.WrapEIO(oldParent, err)
	}

	if !sameParent {
		newListingBytes, err := newListing.Marshal()
		if err != nil {
			return kvfserr.WrapEIO(newParent, err)
		}
		if _, err := txn.Put(newParentRec.DataID, newListingBytes, true); err != nil {
			return kvfserr.WrapEIO(newParent, err)
		}
	}
	return nil
}

// sync flushes data and updated metadata for the file at p back to the
// store, invoked by BufferedFile.Close/Sync. It is unexported: callers
// mutate files through a BufferedFile handle, never by writing to the
// store directly.
func (fs *Filesystem) sync(p string, data []byte, stats MutableStats) error {
	txn, err := fs.store.BeginRW()
	if err != nil {
		return kvfserr.WrapEIO(p, err)
	}
	if err := fs.syncTxn(txn, p, data, stats); err != nil {
		fs.abort(txn, p)
		return err
	}
	if err := txn.Commit(); err != nil {
		return kvfserr.WrapEIO(p, err)
	}
	return nil
}

func (fs *Filesystem) syncTxn(txn store.RWTxn, p string, data []byte, stats MutableStats) error {
	inodeID, rec, err := fs.resolveInode(txn, p)
	if err != nil {
		return err
	}

	changed := applyStats(rec, data, stats)

	if _, err := txn.Put(rec.DataID, data, true); err != nil {
		return kvfserr.WrapEIO(p, err)
	}
	if !changed {
		return nil
	}
	recBytes, err := rec.Marshal()
	if err != nil {
		return kvfserr.WrapEIO(p, err)
	}
	if _, err := txn.Put(inodeID, recBytes, true); err != nil {
		return kvfserr.WrapEIO(p, err)
	}
	return nil
}

// closeRO releases a read-only transaction's resources if the concrete
// implementation exposes a way to do so. store.ROTxn's contract is just
// Get; a backing store that holds real resources open per transaction
// (storebadger's badger.Txn) additionally implements this unexported
// interface so kvfs can release it promptly without that leaking into the
// store.Store contract itself.
type roDiscarder interface {
	Discard()
}

func closeRO(txn store.ROTxn) {
	if d, ok := txn.(roDiscarder); ok {
		d.Discard()
	}
}
