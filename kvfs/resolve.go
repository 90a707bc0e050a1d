package kvfs

import (
	"path"

	"github.com/gregpaulos/kvfs/inode"
	"github.com/gregpaulos/kvfs/kvfserr"
	"github.com/gregpaulos/kvfs/store"
)

// splitPath divides p into the directory a leaf name would be looked up in
// (parent) and the leaf name itself (leaf). Paths are virtual and always
// slash-separated regardless of host OS, so "path" is used rather than
// "path/filepath". p is cleaned first: path.Dir and path.Base disagree on
// a trailing slash (Dir treats it as the separator and leaves the leaf
// inside the parent; Base trims it and returns the leaf anyway), so an
// un-cleaned p would resolve the wrong parent. The root is special: its
// own parent/leaf split has no leaf to look up.
func splitPath(p string) (parent, leaf string) {
	p = path.Clean(p)
	if p == "/" {
		return "/", ""
	}
	return path.Dir(p), path.Base(p)
}

// resolveID looks up the node id leaf resolves to within the directory
// named parent, resolving parent itself first (recursively, from the root).
// origPath is the full path being resolved, used only for error reporting.
func (fs *Filesystem) resolveID(txn store.ROTxn, parent, leaf, origPath string) (string, error) {
	if parent == "/" && leaf == "" {
		return inode.RootID, nil
	}

	var parentRec *inode.Record
	var err error
	if parent == "/" {
		parentRec, err = fs.getInode(txn, inode.RootID, "/")
	} else {
		_, parentRec, err = fs.resolveInode(txn, parent)
	}
	if err != nil {
		return "", err
	}

	listing, err := fs.getDirListing(txn, parentRec, parent)
	if err != nil {
		return "", err
	}
	id, ok := listing[leaf]
	if !ok {
		return "", &kvfserr.ENOENT{Path: origPath}
	}
	return id, nil
}

// resolveInode resolves p to its node id and inode record.
func (fs *Filesystem) resolveInode(txn store.ROTxn, p string) (id string, rec *inode.Record, err error) {
	parent, leaf := splitPath(p)
	id, err = fs.resolveID(txn, parent, leaf, p)
	if err != nil {
		return "", nil, err
	}
	rec, err = fs.getInode(txn, id, p)
	if err != nil {
		return "", nil, err
	}
	return id, rec, nil
}

// getInode fetches and decodes the inode record stored under id. p is the
// path being resolved, used only for error reporting.
func (fs *Filesystem) getInode(txn store.ROTxn, id, p string) (*inode.Record, error) {
	value, ok, err := txn.Get(id)
	if err != nil {
		return nil, kvfserr.WrapEIO(p, err)
	}
	if !ok {
		return nil, &kvfserr.ENOENT{Path: p}
	}
	rec, err := inode.Unmarshal(value)
	if err != nil {
		return nil, kvfserr.WrapEIO(p, err)
	}
	return rec, nil
}

// getDirListing fetches and decodes rec's directory listing. rec must
// describe a directory. p is the path being resolved, used only for error
// reporting.
func (fs *Filesystem) getDirListing(txn store.ROTxn, rec *inode.Record, p string) (inode.Listing, error) {
	if !rec.IsDir() {
		return nil, &kvfserr.ENOTDIR{Path: p}
	}
	value, ok, err := txn.Get(rec.DataID)
	if err != nil {
		return nil, kvfserr.WrapEIO(p, err)
	}
	if !ok {
		return nil, &kvfserr.ENOENT{Path: p}
	}
	listing, err := inode.UnmarshalListing(value)
	if err != nil {
		return nil, kvfserr.WrapEIO(p, err)
	}
	return listing, nil
}
