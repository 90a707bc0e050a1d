// Package store defines the synchronous key-value store and transaction
// contract the filesystem engine in package kvfs is built against: a named
// blob store with a global Clear and a factory for read-only or read-write
// transactions, generalized to a two-capability (RO, RW) split so a
// transaction's type alone tells a caller whether it can mutate.
package store

// Mode selects which capability a transaction is opened with.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// ROTxn is the read-only transaction capability: Get a key, distinguishing
// an absent key from an empty blob via the ok return.
type ROTxn interface {
	Get(key string) (value []byte, ok bool, err error)
}

// RWTxn extends ROTxn with mutation and a terminal commit/abort. Put with
// overwrite=false on an existing key returns committed=false with a nil
// error; overwrite=true always succeeds barring a store error. Exactly one
// of Commit or Abort must be called before a RWTxn is discarded.
type RWTxn interface {
	ROTxn

	Put(key string, value []byte, overwrite bool) (committed bool, err error)
	Del(key string) error

	// Commit finalizes the transaction's writes. Once Commit returns nil,
	// the writes must survive per the backing store's own durability
	// guarantees.
	Commit() error

	// Abort discards the transaction's writes, leaving the store
	// observably unchanged relative to the state when the transaction was
	// opened.
	Abort() error
}

// Store is a named, clearable blob store that hands out RO or RW
// transactions. The filesystem engine holds at most one transaction open
// per operation and does not assume isolation across concurrent
// transactions beyond what a given Store implementation documents.
type Store interface {
	// Name is a diagnostic identifier for this store instance.
	Name() string

	// Clear empties every key in the store.
	Clear() error

	// BeginRO opens a read-only transaction.
	BeginRO() (ROTxn, error)

	// BeginRW opens a read-write transaction.
	BeginRW() (RWTxn, error)
}
