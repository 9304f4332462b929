// Package store provides the key-value persistence used by the session engine.
//
// The engine depends only on the Store interface, so the same code runs
// against Redis in production and an in-memory map in tests.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrStorageCorrupted is returned when a persisted value cannot be decoded.
var ErrStorageCorrupted = errors.New("storage corrupted")

// Store is a flat string key-value store scoped to one student.
type Store interface {
	// Get returns the value for key. found is false when the key is absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, keys ...string) error
	KeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// CorruptedError carries the raw payload of a value that failed to decode.
// The key has already been removed when this error is returned.
type CorruptedError struct {
	Key string
	Raw string
	Err error
}

func (e *CorruptedError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Key, e.Err)
}

func (e *CorruptedError) Unwrap() error { return e.Err }

func (e *CorruptedError) Is(target error) bool { return target == ErrStorageCorrupted }

// GetJSON decodes the value at key into dest.
// Malformed JSON removes the key and returns a *CorruptedError.
func GetJSON(ctx context.Context, s Store, key string, dest any) (bool, error) {
	raw, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		if rmErr := s.Remove(ctx, key); rmErr != nil {
			return false, fmt.Errorf("remove corrupted %s: %w", key, rmErr)
		}
		return false, &CorruptedError{Key: key, Raw: raw, Err: err}
	}

	return true, nil
}

// SetJSON encodes value and stores it at key.
func SetJSON(ctx context.Context, s Store, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Set(ctx, key, string(data))
}
