package astore

import (
	"context"
	"sync"
)

// MapKV is an in-memory AsyncUnbufferedKV. Every operation hands off to a
// goroutine before invoking its callback, so tests exercise real
// suspension points rather than a same-goroutine callback chain that would
// mask ordering bugs.
type MapKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMapKV constructs an empty MapKV.
func NewMapKV() *MapKV {
	return &MapKV{data: make(map[string][]byte)}
}

func (m *MapKV) Get(ctx context.Context, key string, done GetFunc) {
	go func() {
		if err := ctx.Err(); err != nil {
			done(nil, false, err)
			return
		}
		m.mu.Lock()
		v, ok := m.data[key]
		m.mu.Unlock()
		if !ok {
			done(nil, false, nil)
			return
		}
		cp := make([]byte, len(v))
		copy(cp, v)
		done(cp, true, nil)
	}()
}

func (m *MapKV) Put(ctx context.Context, key string, value []byte, done ErrFunc) {
	go func() {
		if err := ctx.Err(); err != nil {
			done(err)
			return
		}
		cp := make([]byte, len(value))
		copy(cp, value)
		m.mu.Lock()
		m.data[key] = cp
		m.mu.Unlock()
		done(nil)
	}()
}

func (m *MapKV) Del(ctx context.Context, key string, done ErrFunc) {
	go func() {
		if err := ctx.Err(); err != nil {
			done(err)
			return
		}
		m.mu.Lock()
		delete(m.data, key)
		m.mu.Unlock()
		done(nil)
	}()
}

func (m *MapKV) Clear(ctx context.Context, done ErrFunc) {
	go func() {
		if err := ctx.Err(); err != nil {
			done(err)
			return
		}
		m.mu.Lock()
		m.data = make(map[string][]byte)
		m.mu.Unlock()
		done(nil)
	}()
}
