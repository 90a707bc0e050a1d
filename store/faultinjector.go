package store

import "fmt"

// InjectedFailure is returned by a FaultyKV once its configured failure
// point is reached.
type InjectedFailure struct {
	Op  string
	Key string
}

func (e *InjectedFailure) Error() string {
	return fmt.Sprintf("store: injected failure on %s(%s)", e.Op, e.Key)
}

// FaultyKV wraps an UnbufferedKV and fails the Nth mutating call (Put or
// Del), counting from 1, then behaves normally again. It exists to drive
// tests asserting that a store failure injected mid-operation leaves the
// store byte-identical to its pre-operation state.
type FaultyKV struct {
	inner  UnbufferedKV
	failAt int
	count  int
}

// NewFaultyKV wraps inner so that its failAt'th Put or Del call (1-indexed)
// returns an error instead of being applied. failAt <= 0 disables
// injection.
func NewFaultyKV(inner UnbufferedKV, failAt int) *FaultyKV {
	return &FaultyKV{inner: inner, failAt: failAt}
}

func (f *FaultyKV) Get(key string) ([]byte, bool, error) {
	return f.inner.Get(key)
}

func (f *FaultyKV) Put(key string, value []byte) error {
	f.count++
	if f.failAt > 0 && f.count == f.failAt {
		return &InjectedFailure{Op: "put", Key: key}
	}
	return f.inner.Put(key, value)
}

func (f *FaultyKV) Del(key string) error {
	f.count++
	if f.failAt > 0 && f.count == f.failAt {
		return &InjectedFailure{Op: "del", Key: key}
	}
	return f.inner.Del(key)
}

func (f *FaultyKV) Clear() error {
	return f.inner.Clear()
}

// Count reports how many mutating calls have been made so far.
func (f *FaultyKV) Count() int {
	return f.count
}

// ArmAfter (re)configures f to fail on the n'th mutating call counting from
// now, rather than from construction. Useful for letting setup operations
// run normally before injecting a failure into the operation under test.
func (f *FaultyKV) ArmAfter(n int) {
	f.failAt = f.count + n
}
