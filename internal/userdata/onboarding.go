package userdata

import (
	"context"

	"github.com/l0p7/feedstack/internal/store"
)

// OnboardingCompleted defaults to false.
func (s *Store) OnboardingCompleted(ctx context.Context) (bool, error) {
	var completed bool
	if _, err := s.getJSON(ctx, store.KeyOnboardingCompleted, &completed); err != nil {
		return false, err
	}
	return completed, nil
}

func (s *Store) SetOnboardingCompleted(ctx context.Context, completed bool) error {
	return s.setJSON(ctx, store.KeyOnboardingCompleted, completed)
}
