// Package storebadger is a concrete store.Store implementation backed by
// github.com/dgraph-io/badger/v3. Unlike the simple adapter in package
// store, badger's own transactions already satisfy the RW transaction
// contract (get/put/del plus commit/abort), so this package is a thin
// wrapper: RWTxn.Commit calls txn.Commit, RWTxn.Abort calls txn.Discard.
package storebadger

import (
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v3"
	"github.com/gregpaulos/kvfs/store"
)

// Config holds what a badger-backed store.Store actually needs to open.
type Config struct {
	Directory string
	Logger    *slog.Logger
	LogLevel  slog.Level
}

type badgerStore struct {
	name   string
	db     *badger.DB
	logger *slog.Logger
}

var _ store.Store = &badgerStore{}

// Open opens (creating if necessary) a badger-backed store.Store rooted at
// cfg.Directory.
func Open(name string, cfg Config) (store.Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.WithGroup("storebadger")

	badgerLogLevel := badger.INFO
	switch {
	case cfg.LogLevel <= slog.LevelDebug:
		badgerLogLevel = badger.DEBUG
	case cfg.LogLevel <= slog.LevelInfo:
		badgerLogLevel = badger.INFO
	case cfg.LogLevel <= slog.LevelWarn:
		badgerLogLevel = badger.WARNING
	default:
		badgerLogLevel = badger.ERROR
	}

	opts := badger.DefaultOptions(cfg.Directory).
		WithLogger(newBadgerLogger(logger, cfg.LogLevel)).
		WithLoggingLevel(badgerLogLevel)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storebadger: open %s: %w", cfg.Directory, err)
	}

	return &badgerStore{name: name, db: db, logger: logger}, nil
}

// Close releases the underlying badger database. Not part of store.Store
// (that contract has no lifecycle beyond Clear) but needed by any caller
// that opened this concrete implementation directly.
func (s *badgerStore) Close() error {
	return s.db.Close()
}

func (s *badgerStore) Name() string { return s.name }

func (s *badgerStore) Clear() error {
	return s.db.DropAll()
}

func (s *badgerStore) BeginRO() (store.ROTxn, error) {
	txn := s.db.NewTransaction(false)
	return &badgerROTxn{txn: txn}, nil
}

func (s *badgerStore) BeginRW() (store.RWTxn, error) {
	txn := s.db.NewTransaction(true)
	return &badgerRWTxn{txn: txn, logger: s.logger}, nil
}

type badgerROTxn struct {
	txn *badger.Txn
}

func (t *badgerROTxn) Get(key string) ([]byte, bool, error) {
	return badgerGet(t.txn, key)
}

// Discard releases the underlying badger read transaction. Not part of
// store.ROTxn's contract (which has no lifecycle), but callers that know
// they're holding a badger-backed store can release it promptly via this
// optional interface rather than waiting on badger's own finalizer.
func (t *badgerROTxn) Discard() {
	t.txn.Discard()
}

type badgerRWTxn struct {
	txn    *badger.Txn
	logger *slog.Logger
	closed bool
}

func (t *badgerRWTxn) Get(key string) ([]byte, bool, error) {
	return badgerGet(t.txn, key)
}

func (t *badgerRWTxn) Put(key string, value []byte, overwrite bool) (bool, error) {
	if !overwrite {
		_, exists, err := badgerGet(t.txn, key)
		if err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}
	}
	if err := t.txn.Set([]byte(key), value); err != nil {
		return false, fmt.Errorf("storebadger: set %s: %w", key, err)
	}
	return true, nil
}

func (t *badgerRWTxn) Del(key string) error {
	if err := t.txn.Delete([]byte(key)); err != nil {
		return fmt.Errorf("storebadger: delete %s: %w", key, err)
	}
	return nil
}

func (t *badgerRWTxn) Commit() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.txn.Commit(); err != nil {
		return fmt.Errorf("storebadger: commit: %w", err)
	}
	return nil
}

func (t *badgerRWTxn) Abort() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.txn.Discard()
	return nil
}

func badgerGet(txn *badger.Txn, key string) ([]byte, bool, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("storebadger: get %s: %w", key, err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, fmt.Errorf("storebadger: copy value for %s: %w", key, err)
	}
	return val, true, nil
}
