// Package store defines the key-value contract shared by the article cache and
// the user data namespaces, together with its memory, redis and sqlite backends.
package store

import (
	"context"
	"errors"
)

// Prefix namespaces every key feedstack writes.
const Prefix = "@feedstack:"

// Well-known storage keys.
const (
	KeyPreferences            = Prefix + "preferences"
	KeyDefaultCountry         = Prefix + "default_country"
	KeyDefaultCategory        = Prefix + "default_category"
	KeyDefaultLanguage        = Prefix + "default_language"
	KeyDefaultSortBy          = Prefix + "default_sort_by"
	KeyCachePrefix            = Prefix + "cache:"
	KeyCacheMetadata          = Prefix + "cache_metadata"
	KeyBookmarks              = Prefix + "bookmarks"
	KeyDarkMode               = Prefix + "dark_mode"
	KeyNotificationsEnabled   = Prefix + "notifications_enabled"
	KeyNotificationCategories = Prefix + "notification_categories"
	KeyOnboardingCompleted    = Prefix + "onboarding_completed"
)

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New("store: closed")

// Store is a persistent string-keyed key-value store. Values are opaque bytes,
// JSON in practice. A missing key is reported as found=false with a nil error.
type Store interface {
	SetItem(ctx context.Context, key string, value []byte) error
	GetItem(ctx context.Context, key string) ([]byte, bool, error)
	RemoveItem(ctx context.Context, key string) error
	MultiRemove(ctx context.Context, keys []string) error
	GetAllKeys(ctx context.Context) ([]string, error)
	Close(ctx context.Context) error
}
