package astore

import (
	"context"
	"sync"
)

// AsyncUnbufferedKV is the async counterpart to store.UnbufferedKV: plain
// get/put/del/clear with no transactional semantics, each reporting its
// result through a callback instead of returning synchronously.
type AsyncUnbufferedKV interface {
	Get(ctx context.Context, key string, done GetFunc)
	Put(ctx context.Context, key string, value []byte, done ErrFunc)
	Del(ctx context.Context, key string, done ErrFunc)
	Clear(ctx context.Context, done ErrFunc)
}

// NewSimpleAsyncStore adapts an AsyncUnbufferedKV into an AsyncStore using
// the same write-through-plus-undo-log algorithm as store.NewSimpleStore,
// threaded through callbacks instead of return values. This is a
// physically separate implementation from the sync adapter rather than a
// shared core, since Go has no idiomatic way to express "the same steps,
// but every one suspends" without contorting either path.
func NewSimpleAsyncStore(name string, kv AsyncUnbufferedKV) AsyncStore {
	return &simpleAsyncStore{name: name, kv: kv}
}

type simpleAsyncStore struct {
	name string
	kv   AsyncUnbufferedKV
}

func (s *simpleAsyncStore) Name() string { return s.name }

func (s *simpleAsyncStore) Clear(ctx context.Context, done ErrFunc) {
	s.kv.Clear(ctx, done)
}

func (s *simpleAsyncStore) BeginRO(ctx context.Context, done BeginROFunc) {
	done(&simpleAsyncROTxn{kv: s.kv}, nil)
}

func (s *simpleAsyncStore) BeginRW(ctx context.Context, done BeginRWFunc) {
	done(&simpleAsyncRWTxn{
		kv:        s.kv,
		originals: make(map[string]original),
	}, nil)
}

// original records the value a key held the first time this transaction
// touched it, so Abort can restore it.
type original struct {
	absent bool
	value  []byte
}

type simpleAsyncROTxn struct {
	kv AsyncUnbufferedKV
}

func (t *simpleAsyncROTxn) Get(ctx context.Context, key string, done GetFunc) {
	t.kv.Get(ctx, key, done)
}

type simpleAsyncRWTxn struct {
	mu        sync.Mutex
	kv        AsyncUnbufferedKV
	order     []string
	originals map[string]original
}

// touch records key's pre-transaction value on first sight, then invokes
// next. Subsequent touches of the same key are no-ops.
func (t *simpleAsyncRWTxn) touch(ctx context.Context, key string, next func(err error)) {
	t.mu.Lock()
	_, seen := t.originals[key]
	t.mu.Unlock()
	if seen {
		next(nil)
		return
	}

	t.kv.Get(ctx, key, func(value []byte, ok bool, err error) {
		if err != nil {
			next(err)
			return
		}
		t.mu.Lock()
		if ok {
			t.originals[key] = original{value: value}
		} else {
			t.originals[key] = original{absent: true}
		}
		t.order = append(t.order, key)
		t.mu.Unlock()
		next(nil)
	})
}

func (t *simpleAsyncRWTxn) Get(ctx context.Context, key string, done GetFunc) {
	t.touch(ctx, key, func(err error) {
		if err != nil {
			done(nil, false, err)
			return
		}
		t.kv.Get(ctx, key, done)
	})
}

func (t *simpleAsyncRWTxn) Put(ctx context.Context, key string, value []byte, overwrite bool, done PutFunc) {
	t.touch(ctx, key, func(err error) {
		if err != nil {
			done(false, err)
			return
		}
		if !overwrite {
			t.kv.Get(ctx, key, func(_ []byte, exists bool, err error) {
				if err != nil {
					done(false, err)
					return
				}
				if exists {
					done(false, nil)
					return
				}
				t.kv.Put(ctx, key, value, func(err error) {
					if err != nil {
						done(false, err)
						return
					}
					done(true, nil)
				})
			})
			return
		}
		t.kv.Put(ctx, key, value, func(err error) {
			if err != nil {
				done(false, err)
				return
			}
			done(true, nil)
		})
	})
}

func (t *simpleAsyncRWTxn) Del(ctx context.Context, key string, done ErrFunc) {
	t.touch(ctx, key, func(err error) {
		if err != nil {
			done(err)
			return
		}
		t.kv.Del(ctx, key, done)
	})
}

func (t *simpleAsyncRWTxn) Commit(ctx context.Context, done ErrFunc) {
	t.mu.Lock()
	t.order = nil
	t.originals = nil
	t.mu.Unlock()
	done(nil)
}

func (t *simpleAsyncRWTxn) Abort(ctx context.Context, done ErrFunc) {
	t.mu.Lock()
	order := t.order
	originals := t.originals
	t.order = nil
	t.originals = nil
	t.mu.Unlock()

	t.restoreFrom(ctx, order, originals, len(order)-1, nil, done)
}

// restoreFrom walks order from index i down to 0, restoring each key's
// original value (or deleting it if absent), matching store.simpleRWTxn's
// reverse first-touch-order restoration.
func (t *simpleAsyncRWTxn) restoreFrom(ctx context.Context, order []string, originals map[string]original, i int, firstErr error, done ErrFunc) {
	if i < 0 {
		done(firstErr)
		return
	}
	key := order[i]
	orig := originals[key]

	next := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
		t.restoreFrom(ctx, order, originals, i-1, firstErr, done)
	}

	if orig.absent {
		t.kv.Del(ctx, key, next)
	} else {
		t.kv.Put(ctx, key, orig.value, next)
	}
}
