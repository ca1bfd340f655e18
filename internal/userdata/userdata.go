// Package userdata persists preferences, bookmarks, settings and onboarding
// state in the shared key-value store. Unlike the article cache, every error is
// returned to the caller.
package userdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/l0p7/feedstack/internal/store"
)

// ErrInvalid marks caller input that cannot be stored.
var ErrInvalid = errors.New("userdata: invalid input")

// Store groups the user data namespaces over one key-value backend.
type Store struct {
	kv  store.Store
	now func() time.Time

	bookmarksMu sync.Mutex
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for bookmark stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a Store over kv.
func New(kv store.Store, opts ...Option) *Store {
	s := &Store{kv: kv, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// getJSON decodes key into dst. found is false when the key is absent.
func (s *Store) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, found, err := s.kv.GetItem(ctx, key)
	if err != nil {
		return false, fmt.Errorf("userdata: read %s: %w", key, err)
	}
	if !found || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("userdata: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) setJSON(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("userdata: encode %s: %w", key, err)
	}
	if err := s.kv.SetItem(ctx, key, payload); err != nil {
		return fmt.Errorf("userdata: write %s: %w", key, err)
	}
	return nil
}

func (s *Store) getString(ctx context.Context, key string) (string, error) {
	var value string
	if _, err := s.getJSON(ctx, key, &value); err != nil {
		return "", err
	}
	return value, nil
}

// Reset restores preferences to empty and turns dark mode off. Bookmarks,
// onboarding state and cached articles are kept.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.SavePreferences(ctx, Preferences{}); err != nil {
		return err
	}
	return s.SetDarkMode(ctx, false)
}
