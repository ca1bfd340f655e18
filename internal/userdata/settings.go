package userdata

import (
	"context"
	"fmt"
	"slices"

	"github.com/l0p7/feedstack/internal/store"
)

type NotificationCategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NotificationCategories lists the topics a reader can subscribe to.
var NotificationCategories = []NotificationCategory{
	{ID: "breaking", Name: "Breaking News"},
	{ID: "technology", Name: "Technology"},
	{ID: "business", Name: "Business"},
	{ID: "sports", Name: "Sports"},
	{ID: "entertainment", Name: "Entertainment"},
	{ID: "health", Name: "Health"},
	{ID: "science", Name: "Science"},
}

// Settings is the combined view of the display and notification switches.
// A nil DarkMode means the reader follows the system theme.
type Settings struct {
	DarkMode               *bool    `json:"darkMode"`
	NotificationsEnabled   bool     `json:"notificationsEnabled"`
	NotificationCategories []string `json:"notificationCategories"`
}

// SettingsUpdate carries a partial change. Nil fields are left as they are.
type SettingsUpdate struct {
	DarkMode               *bool     `json:"darkMode"`
	NotificationsEnabled   *bool     `json:"notificationsEnabled"`
	NotificationCategories *[]string `json:"notificationCategories"`
}

// DarkMode returns nil when the reader never chose a theme.
func (s *Store) DarkMode(ctx context.Context) (*bool, error) {
	var enabled bool
	found, err := s.getJSON(ctx, store.KeyDarkMode, &enabled)
	if err != nil || !found {
		return nil, err
	}
	return &enabled, nil
}

func (s *Store) SetDarkMode(ctx context.Context, enabled bool) error {
	return s.setJSON(ctx, store.KeyDarkMode, enabled)
}

// NotificationsEnabled defaults to true.
func (s *Store) NotificationsEnabled(ctx context.Context) (bool, error) {
	enabled := true
	if _, err := s.getJSON(ctx, store.KeyNotificationsEnabled, &enabled); err != nil {
		return false, err
	}
	return enabled, nil
}

func (s *Store) SetNotificationsEnabled(ctx context.Context, enabled bool) error {
	return s.setJSON(ctx, store.KeyNotificationsEnabled, enabled)
}

// SubscribedCategories returns the chosen notification category ids.
func (s *Store) SubscribedCategories(ctx context.Context) ([]string, error) {
	categories := make([]string, 0)
	if _, err := s.getJSON(ctx, store.KeyNotificationCategories, &categories); err != nil {
		return nil, err
	}
	if categories == nil {
		categories = make([]string, 0)
	}
	return categories, nil
}

// SetSubscribedCategories replaces the chosen ids. Unknown ids are rejected.
func (s *Store) SetSubscribedCategories(ctx context.Context, ids []string) error {
	for _, id := range ids {
		known := slices.ContainsFunc(NotificationCategories, func(c NotificationCategory) bool { return c.ID == id })
		if !known {
			return fmt.Errorf("%w: unknown notification category %q", ErrInvalid, id)
		}
	}
	if ids == nil {
		ids = []string{}
	}
	return s.setJSON(ctx, store.KeyNotificationCategories, ids)
}

// Settings loads the combined view.
func (s *Store) Settings(ctx context.Context) (Settings, error) {
	darkMode, err := s.DarkMode(ctx)
	if err != nil {
		return Settings{}, err
	}
	enabled, err := s.NotificationsEnabled(ctx)
	if err != nil {
		return Settings{}, err
	}
	categories, err := s.SubscribedCategories(ctx)
	if err != nil {
		return Settings{}, err
	}
	return Settings{DarkMode: darkMode, NotificationsEnabled: enabled, NotificationCategories: categories}, nil
}

// UpdateSettings applies the non-nil fields of u and returns the new view.
func (s *Store) UpdateSettings(ctx context.Context, u SettingsUpdate) (Settings, error) {
	if u.NotificationCategories != nil {
		if err := s.SetSubscribedCategories(ctx, *u.NotificationCategories); err != nil {
			return Settings{}, err
		}
	}
	if u.DarkMode != nil {
		if err := s.SetDarkMode(ctx, *u.DarkMode); err != nil {
			return Settings{}, err
		}
	}
	if u.NotificationsEnabled != nil {
		if err := s.SetNotificationsEnabled(ctx, *u.NotificationsEnabled); err != nil {
			return Settings{}, err
		}
	}
	return s.Settings(ctx)
}
