// Package storage defines the persistence contract every record backend
// satisfies. Handlers only ever talk to Store, so a backend can be swapped
// (SQLite, Redis) without touching the HTTP layer.
package storage

import (
	"context"
	"errors"
	"slices"

	"github.com/google/uuid"
)

var (
	// ErrStorage matches any backend failure wrapped in *Error.
	ErrStorage = errors.New("storage error")

	// ErrNotFound is returned when a lookup that requires a record finds none.
	ErrNotFound = errors.New("record not found")
)

// Error is a backend failure. It satisfies errors.Is(err, ErrStorage) and
// unwraps to the driver error.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrStorage }

// Wrap marks err as a backend failure of op. A nil err stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Filter maps declared field names to the value each must equal. Values are
// already converted to the field's declared type.
type Filter map[string]any

// Keys returns the filter's field names in sorted order.
func (f Filter) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Store is the persistence contract for record type T.
type Store[T any] interface {
	// GetAll returns every record matching where, ordered by primary key.
	// An empty filter returns every record. No match is an empty slice.
	GetAll(ctx context.Context, where Filter) ([]T, error)

	// GetOne returns the first record matching where, or ErrNotFound.
	GetOne(ctx context.Context, where Filter) (T, error)

	// Save inserts or updates rec. A record without a primary key gets one
	// assigned and written back into rec.
	Save(ctx context.Context, rec *T) error

	// Delete removes rec, identified by its primary key, or returns ErrNotFound.
	Delete(ctx context.Context, rec *T) error
}

// NewStringKey generates a key for records whose primary key is a string.
func NewStringKey() string { return uuid.NewString() }
