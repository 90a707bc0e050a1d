package store

import "sort"

// UnbufferedKV is the minimal surface a backing store must expose for
// NewSimpleStore to adapt it into a full Store: plain get/put/del with no
// transactional semantics of its own, plus a global clear.
type UnbufferedKV interface {
	Get(key string) (value []byte, ok bool, err error)
	Put(key string, value []byte) error
	Del(key string) error
	Clear() error
}

// NewSimpleStore adapts an UnbufferedKV into a Store by layering the simple
// RW transaction adapter (§4.2 of the design: write-through with an
// undo log for Abort) on top of it. Reads are pass-through; there is no
// buffering of writes pending commit, so other readers of the same
// UnbufferedKV observe writes before this transaction commits — the store
// is safe to use only because the filesystem engine never runs concurrent
// transactions against the same keys.
func NewSimpleStore(name string, kv UnbufferedKV) Store {
	return &simpleStore{name: name, kv: kv}
}

type simpleStore struct {
	name string
	kv   UnbufferedKV
}

func (s *simpleStore) Name() string { return s.name }

func (s *simpleStore) Clear() error { return s.kv.Clear() }

func (s *simpleStore) BeginRO() (ROTxn, error) {
	return &simpleROTxn{kv: s.kv}, nil
}

func (s *simpleStore) BeginRW() (RWTxn, error) {
	return &simpleRWTxn{
		kv:        s.kv,
		originals: make(map[string]original),
	}, nil
}

type simpleROTxn struct {
	kv UnbufferedKV
}

func (t *simpleROTxn) Get(key string) ([]byte, bool, error) {
	return t.kv.Get(key)
}

// original records the value a key held the first time this transaction
// touched it, so Abort can restore it.
type original struct {
	absent bool
	value  []byte
}

type simpleRWTxn struct {
	kv UnbufferedKV

	// order is the first-touch order of modified (or merely read) keys;
	// Abort restores them in reverse.
	order     []string
	originals map[string]original
}

func (t *simpleRWTxn) touch(key string) error {
	if _, seen := t.originals[key]; seen {
		return nil
	}
	val, ok, err := t.kv.Get(key)
	if err != nil {
		return err
	}
	if ok {
		t.originals[key] = original{value: val}
	} else {
		t.originals[key] = original{absent: true}
	}
	t.order = append(t.order, key)
	return nil
}

func (t *simpleRWTxn) Get(key string) ([]byte, bool, error) {
	if err := t.touch(key); err != nil {
		return nil, false, err
	}
	return t.kv.Get(key)
}

func (t *simpleRWTxn) Put(key string, value []byte, overwrite bool) (bool, error) {
	if err := t.touch(key); err != nil {
		return false, err
	}
	if !overwrite {
		_, exists, err := t.kv.Get(key)
		if err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}
	}
	if err := t.kv.Put(key, value); err != nil {
		return false, err
	}
	return true, nil
}

func (t *simpleRWTxn) Del(key string) error {
	if err := t.touch(key); err != nil {
		return err
	}
	return t.kv.Del(key)
}

// Commit is a no-op: every write has already landed in the store.
func (t *simpleRWTxn) Commit() error {
	t.order = nil
	t.originals = nil
	return nil
}

// Abort walks touched keys in reverse first-touch order, restoring each to
// its pre-transaction value (or deleting it if it was absent).
func (t *simpleRWTxn) Abort() error {
	var firstErr error
	for i := len(t.order) - 1; i >= 0; i-- {
		key := t.order[i]
		orig := t.originals[key]
		var err error
		if orig.absent {
			err = t.kv.Del(key)
		} else {
			err = t.kv.Put(key, orig.value)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.order = nil
	t.originals = nil
	return firstErr
}

// MapKV is an in-memory UnbufferedKV, used to exercise the simple RW
// adapter in tests (and by anything else needing a trivial, non-persistent
// backing store with no transactional semantics of its own).
type MapKV struct {
	data map[string][]byte
}

// NewMapKV constructs an empty MapKV.
func NewMapKV() *MapKV {
	return &MapKV{data: make(map[string][]byte)}
}

func (m *MapKV) Get(key string) ([]byte, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (m *MapKV) Put(key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *MapKV) Del(key string) error {
	delete(m.data, key)
	return nil
}

func (m *MapKV) Clear() error {
	m.data = make(map[string][]byte)
	return nil
}

// Keys returns a sorted snapshot of every key currently present. Used by
// tests asserting exact key-count invariants after a mutation.
func (m *MapKV) Keys() []string {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
