// Package cache provides the key/value store used for upstream sessions and token revocation.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMiss is returned by Store.Get when the key is absent or expired.
var ErrMiss = errors.New("platform/cache: miss")

// Store is a string key/value store with per-key expiry.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Flush(ctx context.Context) error
}

// GetJSON decodes the value stored under key into dest. It returns ErrMiss on absence.
func GetJSON(ctx context.Context, store Store, key string, dest any) error {
	raw, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("platform/cache: decode %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes value and stores it under key, overwriting any previous entry.
func SetJSON(ctx context.Context, store Store, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("platform/cache: encode %s: %w", key, err)
	}
	return store.Set(ctx, key, string(raw), ttl)
}

// GetOrFetch loads key into dest, populating it through fetch on a miss.
// A fresh value is read back right after writing so a silently dropped write surfaces as an error.
func GetOrFetch[T any](ctx context.Context, store Store, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var value T
	err := GetJSON(ctx, store, key, &value)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, ErrMiss) {
		return value, err
	}

	fresh, err := fetch(ctx)
	if err != nil {
		return value, err
	}
	if err := SetJSON(ctx, store, key, fresh, ttl); err != nil {
		return value, err
	}
	ok, err := store.Exists(ctx, key)
	if err != nil {
		return value, err
	}
	if !ok {
		return value, fmt.Errorf("platform/cache: key %s failed to write", key)
	}
	return fresh, nil
}
