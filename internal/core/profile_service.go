package core

import (
	"context"

	"github.com/pkg/errors"

	"github.com/moneymitra/backend/internal/store"
)

// ProfileService manages the user's global preference record. Chats keep
// their own snapshot of these values, so edits here never touch existing
// conversations.
type ProfileService struct {
	store store.Store
}

func NewProfileService(st store.Store) *ProfileService {
	return &ProfileService{store: st}
}

// GetProfile returns (nil, nil) when no record exists for the user.
func (s *ProfileService) GetProfile(ctx context.Context, userID string) (*store.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "loading profile")
	}
	return user, nil
}

// SaveProfile upserts preference fields. Empty fields in prefs keep their
// previously saved values, and setup only counts as completed once every
// field is set.
func (s *ProfileService) SaveProfile(ctx context.Context, userID string, prefs store.Profile) (*store.User, error) {
	existing, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "loading profile")
	}

	merged := prefs
	if existing != nil && existing.Preferences != nil {
		if merged.Occupation == "" {
			merged.Occupation = existing.Preferences.Occupation
		}
		if merged.AgeGroup == "" {
			merged.AgeGroup = existing.Preferences.AgeGroup
		}
		if merged.Goal == "" {
			merged.Goal = existing.Preferences.Goal
		}
	}

	if err := s.store.SaveProfile(ctx, userID, merged, merged.Complete()); err != nil {
		return nil, errors.Wrap(err, "saving profile")
	}
	return s.store.GetUser(ctx, userID)
}

// HasCompletedSetup checks the preference fields themselves rather than
// trusting a stored flag; a partial profile is never complete.
func (s *ProfileService) HasCompletedSetup(ctx context.Context, userID string) (bool, error) {
	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return false, err
	}
	if user == nil || user.Preferences == nil {
		return false, nil
	}
	return user.Preferences.Complete(), nil
}
