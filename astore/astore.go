// Package astore defines the asynchronous counterpart to package store:
// the same named-blob-store-with-transactions contract, but every
// operation takes a context and a completion callback instead of
// returning synchronously.
package astore

import "context"

// GetFunc receives the result of an asynchronous Get: value and ok mirror
// store.ROTxn.Get's return, err is non-nil on failure.
type GetFunc func(value []byte, ok bool, err error)

// PutFunc receives the result of an asynchronous Put.
type PutFunc func(committed bool, err error)

// ErrFunc receives the result of an operation with no other payload
// (Del, Commit, Abort, Clear).
type ErrFunc func(err error)

// AsyncROTxn is the read-only asynchronous transaction capability.
type AsyncROTxn interface {
	Get(ctx context.Context, key string, done GetFunc)
}

// AsyncRWTxn extends AsyncROTxn with mutation and a terminal commit/abort.
// Exactly one of Commit or Abort must be invoked (and its callback awaited)
// before an AsyncRWTxn is discarded.
type AsyncRWTxn interface {
	AsyncROTxn

	Put(ctx context.Context, key string, value []byte, overwrite bool, done PutFunc)
	Del(ctx context.Context, key string, done ErrFunc)
	Commit(ctx context.Context, done ErrFunc)
	Abort(ctx context.Context, done ErrFunc)
}

// BeginROFunc receives the result of opening an asynchronous read-only
// transaction.
type BeginROFunc func(txn AsyncROTxn, err error)

// BeginRWFunc receives the result of opening an asynchronous read-write
// transaction.
type BeginRWFunc func(txn AsyncRWTxn, err error)

// AsyncStore is the async counterpart to store.Store.
type AsyncStore interface {
	Name() string
	Clear(ctx context.Context, done ErrFunc)
	BeginRO(ctx context.Context, done BeginROFunc)
	BeginRW(ctx context.Context, done BeginRWFunc)
}
