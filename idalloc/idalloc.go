// Package idalloc allocates the random node/data ids used as store keys
// for everything other than the root. Ids are UUID-v4 strings
// (uuid.New().String()).
package idalloc

import (
	"fmt"

	"github.com/google/uuid"
)

// MaxAttempts bounds how many candidate ids New will try before giving up.
// The 122 random bits of a UUID-v4 make a real collision practically
// impossible; this bound exists only to keep a broken random source from
// looping forever.
const MaxAttempts = 5

// ErrExhausted is returned when MaxAttempts collisions occur in a row.
type ErrExhausted struct {
	Attempts int
}

func (e *ErrExhausted) Error() string {
	return fmt.Sprintf("idalloc: exhausted %d attempts allocating a fresh id", e.Attempts)
}

// New generates candidate ids, trying at most MaxAttempts of them, until
// exists reports false for one. exists should check whether the
// id is already in use as a store key within the caller's transaction.
func New(exists func(id string) (bool, error)) (string, error) {
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		candidate := uuid.New().String()
		taken, err := exists(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", &ErrExhausted{Attempts: MaxAttempts}
}
