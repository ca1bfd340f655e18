package userdata

import (
	"context"
	"fmt"

	"github.com/l0p7/feedstack/internal/store"
)

// Preferences are the last request defaults the reader used.
type Preferences struct {
	Country  string `json:"country,omitempty"`
	Category string `json:"category,omitempty"`
	Language string `json:"language,omitempty"`
	SortBy   string `json:"sortBy,omitempty"`
}

// Merge returns p with every non-empty field of other applied on top.
func (p Preferences) Merge(other Preferences) Preferences {
	if other.Country != "" {
		p.Country = other.Country
	}
	if other.Category != "" {
		p.Category = other.Category
	}
	if other.Language != "" {
		p.Language = other.Language
	}
	if other.SortBy != "" {
		p.SortBy = other.SortBy
	}
	return p
}

// Preferences returns the saved aggregate with the per-field defaults applied
// on top. It is empty when nothing was saved.
func (s *Store) Preferences(ctx context.Context) (Preferences, error) {
	var prefs Preferences
	if _, err := s.getJSON(ctx, store.KeyPreferences, &prefs); err != nil {
		return Preferences{}, err
	}
	var fields Preferences
	var err error
	if fields.Country, err = s.DefaultCountry(ctx); err != nil {
		return Preferences{}, err
	}
	if fields.Category, err = s.DefaultCategory(ctx); err != nil {
		return Preferences{}, err
	}
	if fields.Language, err = s.DefaultLanguage(ctx); err != nil {
		return Preferences{}, err
	}
	if fields.SortBy, err = s.DefaultSortBy(ctx); err != nil {
		return Preferences{}, err
	}
	return prefs.Merge(fields), nil
}

// SavePreferences replaces the aggregate and the per-field defaults. Empty
// fields clear their default.
func (s *Store) SavePreferences(ctx context.Context, prefs Preferences) error {
	if err := s.setJSON(ctx, store.KeyPreferences, prefs); err != nil {
		return err
	}
	fields := []struct {
		key   string
		value string
	}{
		{store.KeyDefaultCountry, prefs.Country},
		{store.KeyDefaultCategory, prefs.Category},
		{store.KeyDefaultLanguage, prefs.Language},
		{store.KeyDefaultSortBy, prefs.SortBy},
	}
	var cleared []string
	for _, f := range fields {
		if f.value == "" {
			cleared = append(cleared, f.key)
			continue
		}
		if err := s.setJSON(ctx, f.key, f.value); err != nil {
			return err
		}
	}
	if err := s.kv.MultiRemove(ctx, cleared); err != nil {
		return fmt.Errorf("userdata: clear defaults: %w", err)
	}
	return nil
}

func (s *Store) DefaultCountry(ctx context.Context) (string, error) {
	return s.getString(ctx, store.KeyDefaultCountry)
}

func (s *Store) SetDefaultCountry(ctx context.Context, country string) error {
	return s.setJSON(ctx, store.KeyDefaultCountry, country)
}

func (s *Store) DefaultCategory(ctx context.Context) (string, error) {
	return s.getString(ctx, store.KeyDefaultCategory)
}

func (s *Store) SetDefaultCategory(ctx context.Context, category string) error {
	return s.setJSON(ctx, store.KeyDefaultCategory, category)
}

func (s *Store) DefaultLanguage(ctx context.Context) (string, error) {
	return s.getString(ctx, store.KeyDefaultLanguage)
}

func (s *Store) SetDefaultLanguage(ctx context.Context, language string) error {
	return s.setJSON(ctx, store.KeyDefaultLanguage, language)
}

func (s *Store) DefaultSortBy(ctx context.Context) (string, error) {
	return s.getString(ctx, store.KeyDefaultSortBy)
}

func (s *Store) SetDefaultSortBy(ctx context.Context, sortBy string) error {
	return s.setJSON(ctx, store.KeyDefaultSortBy, sortBy)
}
