package kvfs

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gregpaulos/kvfs/astore"
	"github.com/gregpaulos/kvfs/filetype"
	"github.com/gregpaulos/kvfs/idalloc"
	"github.com/gregpaulos/kvfs/inode"
	"github.com/gregpaulos/kvfs/kvfserr"
)

// AsyncFilesystem is the callback-driven mirror of Filesystem, built on
// package astore instead of package store. Every blocking step of the
// synchronous engine becomes a continuation here; this is a separate,
// from-scratch implementation of the same algorithm rather than a shared
// core threaded through both styles.
type AsyncFilesystem struct {
	store astore.AsyncStore
	logger *slog.Logger
	now    func() time.Time
}

// NewAsync constructs an AsyncFilesystem. Unlike Filesystem's constructor,
// root initialization is not performed here — it requires a callback, so
// it's exposed as EnsureRoot for the caller to invoke (and await) before
// first use.
func NewAsync(s astore.AsyncStore, logger *slog.Logger) *AsyncFilesystem {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncFilesystem{
		store:  s,
		logger: logger.WithGroup("kvfs-async"),
		now:    time.Now,
	}
}

func (fs *AsyncFilesystem) nowMillis() int64 {
	return fs.now().UnixMilli()
}

// abortAndReport discards txn, then reports err to done regardless of
// whether the discard itself succeeded (a secondary discard failure is
// only logged). Every mutating operation below funnels its failures
// through this one helper to keep the abort-then-report sequence uniform.
func (fs *AsyncFilesystem) abortAndReport(ctx context.Context, txn astore.AsyncRWTxn, err error, done func(error)) {
	txn.Abort(ctx, func(aerr error) {
		if aerr != nil {
			fs.logger.Warn("abort failed", "error", aerr)
		}
		done(err)
	})
}

// EnsureRoot initializes the root directory if the store is fresh; a
// no-op otherwise.
func (fs *AsyncFilesystem) EnsureRoot(ctx context.Context, done func(error)) {
	fs.store.BeginRW(ctx, func(txn astore.AsyncRWTxn, err error) {
		if err != nil {
			done(kvfserr.WrapEIO("/", err))
			return
		}
		txn.Get(ctx, inode.RootID, func(_ []byte, ok bool, err error) {
			if err != nil {
				fs.abortAndReport(ctx, txn, kvfserr.WrapEIO("/", err), done)
				return
			}
			if ok {
				txn.Commit(ctx, func(err error) { done(kvfserr.WrapEIO("/", err)) })
				return
			}

			listing := inode.Listing{}
			payload, merr := listing.Marshal()
			if merr != nil {
				fs.abortAndReport(ctx, txn, kvfserr.WrapEIO("/", merr), done)
				return
			}
			fs.allocateAndPut(ctx, txn, payload, func(dataID string, err error) {
				if err != nil {
					fs.abortAndReport(ctx, txn, err, done)
					return
				}
				rec := inode.New(dataID, int64(len(payload)), filetype.Pack(filetype.Directory, defaultDirPerm), fs.nowMillis())
				recBytes, merr := rec.Marshal()
				if merr != nil {
					fs.abortAndReport(ctx, txn, kvfserr.WrapEIO("/", merr), done)
					return
				}
				txn.Put(ctx, inode.RootID, recBytes, true, func(_ bool, err error) {
					if err != nil {
						fs.abortAndReport(ctx, txn, kvfserr.WrapEIO("/", err), done)
						return
					}
					txn.Commit(ctx, func(err error) { done(kvfserr.WrapEIO("/", err)) })
				})
			})
		})
	})
}

// Empty drops every key in the backing store and reinitializes the root.
func (fs *AsyncFilesystem) Empty(ctx context.Context, done func(error)) {
	fs.store.Clear(ctx, func(err error) {
		if err != nil {
			done(kvfserr.WrapEIO("/", err))
			return
		}
		fs.EnsureRoot(ctx, done)
	})
}

// allocateAndPut mirrors Filesystem.allocateAndPut: find a fresh id by
// generating candidates and checking the transaction for a collision,
// retrying up to idalloc.MaxAttempts.
func (fs *AsyncFilesystem) allocateAndPut(ctx context.Context, txn astore.AsyncRWTxn, value []byte, done func(id string, err error)) {
	fs.tryAllocate(ctx, txn, value, 0, done)
}

func (fs *AsyncFilesystem) tryAllocate(ctx context.Context, txn astore.AsyncRWTxn, value []byte, attempt int, done func(string, error)) {
	if attempt >= idalloc.MaxAttempts {
		done("", kvfserr.WrapEIO("", &idalloc.ErrExhausted{Attempts: idalloc.MaxAttempts}))
		return
	}
	candidate := uuid.New().String()
	txn.Get(ctx, candidate, func(_ []byte, exists bool, err error) {
		if err != nil {
			done("", kvfserr.WrapEIO("", err))
			return
		}
		if exists {
			fs.tryAllocate(ctx, txn, value, attempt+1, done)
			return
		}
		txn.Put(ctx, candidate, value, false, func(committed bool, err error) {
			if err != nil {
				done("", kvfserr.WrapEIO("", err))
				return
			}
			if !committed {
				fs.tryAllocate(ctx, txn, value, attempt+1, done)
				return
			}
			done(candidate, nil)
		})
	})
}

// resolveID is the async mirror of Filesystem.resolveID.
func (fs *AsyncFilesystem) resolveID(ctx context.Context, txn astore.AsyncROTxn, parent, leaf, origPath string, done func(string, error)) {
	if parent == "/" && leaf == "" {
		done(inode.RootID, nil)
		return
	}

	lookup := func(parentRec *inode.Record, err error) {
		if err != nil {
			done("", err)
			return
		}
		fs.getDirListing(ctx, txn, parentRec, parent, func(listing inode.Listing, err error) {
			if err != nil {
				done("", err)
				return
			}
			id, ok := listing[leaf]
			if !ok {
				done("", &kvfserr.ENOENT{Path: origPath})
				return
			}
			done(id, nil)
		})
	}

	if parent == "/" {
		fs.getInode(ctx, txn, inode.RootID, "/", lookup)
		return
	}
	fs.resolveInode(ctx, txn, parent, func(_ string, parentRec *inode.Record, err error) {
		lookup(parentRec, err)
	})
}

// resolveInode is the async mirror of Filesystem.resolveInode.
func (fs *AsyncFilesystem) resolveInode(ctx context.Context, txn astore.AsyncROTxn, p string, done func(id string, rec *inode.Record, err error)) {
	parent, leaf := splitPath(p)
	fs.resolveID(ctx, txn, parent, leaf, p, func(id string, err error) {
		if err != nil {
			done("", nil, err)
			return
		}
		fs.getInode(ctx, txn, id, p, func(rec *inode.Record, err error) {
			done(id, rec, err)
		})
	})
}

func (fs *AsyncFilesystem) getInode(ctx context.Context, txn astore.AsyncROTxn, id, p string, done func(*inode.Record, error)) {
	txn.Get(ctx, id, func(value []byte, ok bool, err error) {
		if err != nil {
			done(nil, kvfserr.WrapEIO(p, err))
			return
		}
		if !ok {
			done(nil, &kvfserr.ENOENT{Path: p})
			return
		}
		rec, merr := inode.Unmarshal(value)
		if merr != nil {
			done(nil, kvfserr.WrapEIO(p, merr))
			return
		}
		done(rec, nil)
	})
}

func (fs *AsyncFilesystem) getDirListing(ctx context.Context, txn astore.AsyncROTxn, rec *inode.Record, p string, done func(inode.Listing, error)) {
	if !rec.IsDir() {
		done(nil, &kvfserr.ENOTDIR{Path: p})
		return
	}
	txn.Get(ctx, rec.DataID, func(value []byte, ok bool, err error) {
		if err != nil {
			done(nil, kvfserr.WrapEIO(p, err))
			return
		}
		if !ok {
			done(nil, &kvfserr.ENOENT{Path: p})
			return
		}
		listing, merr := inode.UnmarshalListing(value)
		if merr != nil {
			done(nil, kvfserr.WrapEIO(p, merr))
			return
		}
		done(listing, nil)
	})
}

// commitNewFile is the async mirror of Filesystem.commitNewFile. p is
// cleaned before use, same as the sync engine.
func (fs *AsyncFilesystem) commitNewFile(ctx context.Context, p string, ft filetype.Type, perm uint32, payload []byte, done func(*inode.Record, error)) {
	p = path.Clean(p)
	if p == "/" {
		done(nil, &kvfserr.EEXIST{Path: p})
		return
	}
	parentPath, leaf := splitPath(p)

	fs.store.BeginRW(ctx, func(txn astore.AsyncRWTxn, err error) {
		if err != nil {
			done(nil, kvfserr.WrapEIO(p, err))
			return
		}
		fail := func(err error) { fs.abortAndReport(ctx, txn, err, func(e error) { done(nil, e) }) }

		fs.resolveInode(ctx, txn, parentPath, func(_ string, parentRec *inode.Record, err error) {
			if err != nil {
				fail(err)
				return
			}
			fs.getDirListing(ctx, txn, parentRec, parentPath, func(listing inode.Listing, err error) {
				if err != nil {
					fail(err)
					return
				}
				if _, exists := listing[leaf]; exists {
					fail(&kvfserr.EEXIST{Path: p})
					return
				}
				fs.allocateAndPut(ctx, txn, payload, func(dataID string, err error) {
					if err != nil {
						fail(err)
						return
					}
					rec := inode.New(dataID, int64(len(payload)), filetype.Pack(ft, perm), fs.nowMillis())
					recBytes, merr := rec.Marshal()
					if merr != nil {
						fail(kvfserr.WrapEIO(p, merr))
						return
					}
					fs.allocateAndPut(ctx, txn, recBytes, func(inodeID string, err error) {
						if err != nil {
							fail(err)
							return
						}
						listing[leaf] = inodeID
						listingBytes, merr := listing.Marshal()
						if merr != nil {
							fail(kvfserr.WrapEIO(parentPath, merr))
							return
						}
						txn.Put(ctx, parentRec.DataID, listingBytes, true, func(_ bool, err error) {
							if err != nil {
								fail(kvfserr.WrapEIO(parentPath, err))
								return
							}
							txn.Commit(ctx, func(err error) {
								if err != nil {
									done(nil, kvfserr.WrapEIO(p, err))
									return
								}
								done(rec, nil)
							})
						})
					})
				})
			})
		})
	})
}

// CreateFile creates a new, empty regular file at p.
func (fs *AsyncFilesystem) CreateFile(ctx context.Context, p string, perm uint32, done func(*inode.Record, error)) {
	fs.commitNewFile(ctx, p, filetype.File, perm, []byte{}, done)
}

// Mkdir creates a new, empty directory at p.
func (fs *AsyncFilesystem) Mkdir(ctx context.Context, p string, perm uint32, done func(error)) {
	listing := inode.Listing{}
	payload, err := listing.Marshal()
	if err != nil {
		done(kvfserr.WrapEIO(p, err))
		return
	}
	fs.commitNewFile(ctx, p, filetype.Directory, perm, payload, func(_ *inode.Record, err error) { done(err) })
}

// OpenFile reads p's full contents and metadata under a single read-only
// transaction.
func (fs *AsyncFilesystem) OpenFile(ctx context.Context, p string, done func(data []byte, stats Stats, err error)) {
	p = path.Clean(p)
	fs.store.BeginRO(ctx, func(txn astore.AsyncROTxn, err error) {
		if err != nil {
			done(nil, Stats{}, kvfserr.WrapEIO(p, err))
			return
		}
		fs.resolveInode(ctx, txn, p, func(_ string, rec *inode.Record, err error) {
			if err != nil {
				done(nil, Stats{}, err)
				return
			}
			txn.Get(ctx, rec.DataID, func(value []byte, ok bool, err error) {
				if err != nil {
					done(nil, Stats{}, kvfserr.WrapEIO(p, err))
					return
				}
				if !ok {
					done(nil, Stats{}, &kvfserr.ENOENT{Path: p})
					return
				}
				done(value, statsFromRecord(rec), nil)
			})
		})
	})
}

// Stat returns the metadata for p.
func (fs *AsyncFilesystem) Stat(ctx context.Context, p string, done func(Stats, error)) {
	p = path.Clean(p)
	fs.store.BeginRO(ctx, func(txn astore.AsyncROTxn, err error) {
		if err != nil {
			done(Stats{}, kvfserr.WrapEIO(p, err))
			return
		}
		fs.resolveInode(ctx, txn, p, func(_ string, rec *inode.Record, err error) {
			if err != nil {
				done(Stats{}, err)
				return
			}
			done(statsFromRecord(rec), nil)
		})
	})
}

// Lstat is Stat's alias.
func (fs *AsyncFilesystem) Lstat(ctx context.Context, p string, done func(Stats, error)) {
	fs.Stat(ctx, p, done)
}

// Readdir lists the names of p's direct children.
func (fs *AsyncFilesystem) Readdir(ctx context.Context, p string, done func([]string, error)) {
	p = path.Clean(p)
	fs.store.BeginRO(ctx, func(txn astore.AsyncROTxn, err error) {
		if err != nil {
			done(nil, kvfserr.WrapEIO(p, err))
			return
		}
		fs.resolveInode(ctx, txn, p, func(_ string, rec *inode.Record, err error) {
			if err != nil {
				done(nil, err)
				return
			}
			fs.getDirListing(ctx, txn, rec, p, func(listing inode.Listing, err error) {
				if err != nil {
					done(nil, err)
					return
				}
				names := make([]string, 0, len(listing))
				for name := range listing {
					names = append(names, name)
				}
				done(names, nil)
			})
		})
	})
}

// removeEntry is the async mirror of Filesystem.removeEntry. p is cleaned
// before use, same as the sync engine.
func (fs *AsyncFilesystem) removeEntry(ctx context.Context, p string, isDir bool, done func(error)) {
	p = path.Clean(p)
	parentPath, leaf := splitPath(p)

	fs.store.BeginRW(ctx, func(txn astore.AsyncRWTxn, err error) {
		if err != nil {
			done(kvfserr.WrapEIO(p, err))
			return
		}
		fail := func(err error) { fs.abortAndReport(ctx, txn, err, done) }

		fs.resolveInode(ctx, txn, parentPath, func(_ string, parentRec *inode.Record, err error) {
			if err != nil {
				fail(err)
				return
			}
			fs.getDirListing(ctx, txn, parentRec, parentPath, func(listing inode.Listing, err error) {
				if err != nil {
					fail(err)
					return
				}
				childID, ok := listing[leaf]
				if !ok {
					fail(&kvfserr.ENOENT{Path: p})
					return
				}
				fs.getInode(ctx, txn, childID, p, func(childRec *inode.Record, err error) {
					if err != nil {
						fail(err)
						return
					}
					if !isDir && childRec.IsDir() {
						fail(&kvfserr.EISDIR{Path: p})
						return
					}
					if isDir && !childRec.IsDir() {
						fail(&kvfserr.ENOTDIR{Path: p})
						return
					}
					txn.Del(ctx, childRec.DataID, func(err error) {
						if err != nil {
							fail(kvfserr.WrapEIO(p, err))
							return
						}
						txn.Del(ctx, childID, func(err error) {
							if err != nil {
								fail(kvfserr.WrapEIO(p, err))
								return
							}
							delete(listing, leaf)
							listingBytes, merr := listing.Marshal()
							if merr != nil {
								fail(kvfserr.WrapEIO(parentPath, merr))
								return
							}
							txn.Put(ctx, parentRec.DataID, listingBytes, true, func(_ bool, err error) {
								if err != nil {
									fail(kvfserr.WrapEIO(parentPath, err))
									return
								}
								txn.Commit(ctx, func(err error) { done(kvfserr.WrapEIO(p, err)) })
							})
						})
					})
				})
			})
		})
	})
}

// Unlink removes the regular file at p.
func (fs *AsyncFilesystem) Unlink(ctx context.Context, p string, done func(error)) {
	fs.removeEntry(ctx, p, false, done)
}

// Rmdir removes the empty directory at p.
func (fs *AsyncFilesystem) Rmdir(ctx context.Context, p string, done func(error)) {
	fs.Readdir(ctx, p, func(children []string, err error) {
		if err != nil {
			done(err)
			return
		}
		if len(children) > 0 {
			done(&kvfserr.ENOTEMPTY{Path: p})
			return
		}
		fs.removeEntry(ctx, p, true, done)
	})
}

// fetchParent resolves a directory and its listing together, for Rename's
// concurrent two-parent fetch.
func (fs *AsyncFilesystem) fetchParent(ctx context.Context, txn astore.AsyncRWTxn, parentPath string, done func(rec *inode.Record, listing inode.Listing, err error)) {
	fs.resolveInode(ctx, txn, parentPath, func(_ string, rec *inode.Record, err error) {
		if err != nil {
			done(nil, nil, err)
			return
		}
		fs.getDirListing(ctx, txn, rec, parentPath, func(listing inode.Listing, err error) {
			done(rec, listing, err)
		})
	})
}

// Rename moves the entry at oldPath to newPath. Old-parent and new-parent
// are fetched concurrently when they differ; a shared errorOccurred flag
// ensures only the first failure triggers an abort, avoiding a double-abort
// race between the two fetches. oldPath and newPath are cleaned via
// path.Clean before the EBUSY subpath check below, for the same reason
// Filesystem.Rename cleans them: that check compares newParent against a
// raw prefix of oldPath, which is only correct once both are canonical.
func (fs *AsyncFilesystem) Rename(ctx context.Context, oldPath, newPath string, done func(error)) {
	oldPath = path.Clean(oldPath)
	newPath = path.Clean(newPath)
	oldParent, oldName := splitPath(oldPath)
	newParent, newName := splitPath(newPath)

	if strings.HasPrefix(newParent+"/", oldPath+"/") {
		done(&kvfserr.EBUSY{Path: oldPath})
		return
	}

	fs.store.BeginRW(ctx, func(txn astore.AsyncRWTxn, err error) {
		if err != nil {
			done(kvfserr.WrapEIO(oldPath, err))
			return
		}

		sameParent := newParent == oldParent

		var (
			mu            sync.Mutex
			oldRec        *inode.Record
			oldListing    inode.Listing
			newRec        *inode.Record
			newListing    inode.Listing
			pending       = 1
			errorOccurred bool
			firstErr      error
		)
		if !sameParent {
			pending = 2
		}

		handleResult := func(isOld bool, rec *inode.Record, listing inode.Listing, err error) {
			mu.Lock()
			if err != nil {
				if !errorOccurred {
					errorOccurred = true
					firstErr = err
				}
			} else if !errorOccurred {
				if isOld {
					oldRec, oldListing = rec, listing
				} else {
					newRec, newListing = rec, listing
				}
			}
			pending--
			ready := pending == 0
			mu.Unlock()

			if !ready {
				return
			}
			if errorOccurred {
				fs.abortAndReport(ctx, txn, firstErr, done)
				return
			}
			if sameParent {
				newRec, newListing = oldRec, oldListing
			}
			fs.renameAfterFetch(ctx, txn, oldPath, oldName, oldRec, oldListing,
				newPath, newParent, newName, newRec, newListing, sameParent, done)
		}

		fs.fetchParent(ctx, txn, oldParent, func(rec *inode.Record, listing inode.Listing, err error) {
			handleResult(true, rec, listing, err)
		})
		if !sameParent {
			fs.fetchParent(ctx, txn, newParent, func(rec *inode.Record, listing inode.Listing, err error) {
				handleResult(false, rec, listing, err)
			})
		}
	})
}

func (fs *AsyncFilesystem) renameAfterFetch(ctx context.Context, txn astore.AsyncRWTxn,
	oldPath, oldName string, oldRec *inode.Record, oldListing inode.Listing,
	newPath, newParent, newName string, newRec *inode.Record, newListing inode.Listing,
	sameParent bool, done func(error)) {

	fail := func(err error) { fs.abortAndReport(ctx, txn, err, done) }

	id, ok := oldListing[oldName]
	if !ok {
		fail(&kvfserr.ENOENT{Path: oldPath})
		return
	}
	delete(oldListing, oldName)

	proceed := func() {
		newListing[newName] = id

		oldListingBytes, err := oldListing.Marshal()
		if err != nil {
			fail(kvfserr.WrapEIO(oldPath, err))
			return
		}
		txn.Put(ctx, oldRec.DataID, oldListingBytes, true, func(_ bool, err error) {
			if err != nil {
				fail(kvfserr.WrapEIO(oldPath, err))
				return
			}
			if sameParent {
				txn.Commit(ctx, func(err error) { done(kvfserr.WrapEIO(oldPath, err)) })
				return
			}
			newListingBytes, err := newListing.Marshal()
			if err != nil {
				fail(kvfserr.WrapEIO(newParent, err))
				return
			}
			txn.Put(ctx, newRec.DataID, newListingBytes, true, func(_ bool, err error) {
				if err != nil {
					fail(kvfserr.WrapEIO(newParent, err))
					return
				}
				txn.Commit(ctx, func(err error) { done(kvfserr.WrapEIO(newPath, err)) })
			})
		})
	}

	existingID, exists := newListing[newName]
	if !exists {
		proceed()
		return
	}

	fs.getInode(ctx, txn, existingID, newPath, func(existingRec *inode.Record, err error) {
		if err != nil {
			fail(err)
			return
		}
		if existingRec.IsDir() {
			fail(&kvfserr.EPERM{Path: newPath})
			return
		}
		txn.Del(ctx, existingRec.DataID, func(err error) {
			if err != nil {
				fail(kvfserr.WrapEIO(newPath, err))
				return
			}
			txn.Del(ctx, existingID, func(err error) {
				if err != nil {
					fail(kvfserr.WrapEIO(newPath, err))
					return
				}
				proceed()
			})
		})
	})
}

// Sync flushes data and updated metadata for the file at p back to the
// store.
func (fs *AsyncFilesystem) Sync(ctx context.Context, p string, data []byte, stats MutableStats, done func(error)) {
	fs.store.BeginRW(ctx, func(txn astore.AsyncRWTxn, err error) {
		if err != nil {
			done(kvfserr.WrapEIO(p, err))
			return
		}
		fail := func(err error) { fs.abortAndReport(ctx, txn, err, done) }

		fs.resolveInode(ctx, txn, p, func(inodeID string, rec *inode.Record, err error) {
			if err != nil {
				fail(err)
				return
			}
			changed := applyStats(rec, data, stats)

			txn.Put(ctx, rec.DataID, data, true, func(_ bool, err error) {
				if err != nil {
					fail(kvfserr.WrapEIO(p, err))
					return
				}
				if !changed {
					txn.Commit(ctx, func(err error) { done(kvfserr.WrapEIO(p, err)) })
					return
				}
				recBytes, merr := rec.Marshal()
				if merr != nil {
					fail(kvfserr.WrapEIO(p, merr))
					return
				}
				txn.Put(ctx, inodeID, recBytes, true, func(_ bool, err error) {
					if err != nil {
						fail(kvfserr.WrapEIO(p, err))
						return
					}
					txn.Commit(ctx, func(err error) { done(kvfserr.WrapEIO(p, err)) })
				})
			})
		})
	})
}
