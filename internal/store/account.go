package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"dario.cat/mergo"

	"parley/internal/events"
	"parley/internal/models"
	"parley/internal/storage"
)

// UpdateSettings applies the patch to the cache and publishes immediately;
// the save runs in the background. On failure the pre-patch snapshot is
// restored and re-published so the UI converges back.
func (s *Store) UpdateSettings(ctx context.Context, patch storage.SettingsPatch) (*models.Settings, error) {
	s.mu.Lock()
	if s.settings == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("settings not loaded")
	}
	snapshot := *s.settings
	snapshot.EnabledModels = append([]string(nil), s.settings.EnabledModels...)
	patch.Apply(s.settings)
	s.settings.UpdatedAt = time.Now()
	out := *s.settings
	gen := s.generation
	s.mu.Unlock()

	s.bus.Publish(events.SettingsUpdated, &out)

	go func() {
		saved, err := s.provider().SaveSettings(context.Background(), patch)
		if err == nil {
			s.mu.Lock()
			if gen == s.generation {
				s.settings = saved
			}
			s.mu.Unlock()
			return
		}

		log.Printf("store: settings save failed, rolling back: %v", err)
		s.mu.Lock()
		if gen != s.generation {
			s.mu.Unlock()
			return
		}
		restored := snapshot
		s.settings = &restored
		rollback := snapshot
		s.mu.Unlock()
		s.bus.Publish(events.SettingsUpdated, &rollback)
	}()

	return &out, nil
}

// UpdateUser merges non-zero patch fields into the cached profile and
// persists in the background, with the same rollback contract as settings.
func (s *Store) UpdateUser(ctx context.Context, patch storage.UserPatch) (*models.User, error) {
	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("user not loaded")
	}
	snapshot := *s.user
	if err := mergo.Merge(s.user, models.User{Name: patch.Name, Email: patch.Email}, mergo.WithOverride); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("apply user patch: %w", err)
	}
	s.user.UpdatedAt = time.Now()
	out := *s.user
	gen := s.generation
	s.mu.Unlock()

	s.bus.Publish(events.UserUpdated, &out)

	go func() {
		saved, err := s.provider().SaveUser(context.Background(), patch)
		if err == nil {
			s.mu.Lock()
			if gen == s.generation {
				s.user = saved
			}
			s.mu.Unlock()
			return
		}

		log.Printf("store: user save failed, rolling back: %v", err)
		s.mu.Lock()
		if gen != s.generation {
			s.mu.Unlock()
			return
		}
		restored := snapshot
		s.user = &restored
		rollback := snapshot
		s.mu.Unlock()
		s.bus.Publish(events.UserUpdated, &rollback)
	}()

	return &out, nil
}

// ExportAll returns the provider's full snapshot.
func (s *Store) ExportAll(ctx context.Context) (*models.Snapshot, error) {
	return s.provider().ExportAll(ctx)
}

// ImportAll replaces the backend's data with the snapshot and rebuilds the
// cache from scratch.
func (s *Store) ImportAll(ctx context.Context, snap *models.Snapshot) error {
	if err := s.provider().ImportAll(ctx, snap); err != nil {
		return err
	}
	return s.Initialize(ctx)
}

// ClearAll wipes the backend and starts over with a single empty chat.
func (s *Store) ClearAll(ctx context.Context) error {
	if err := s.provider().ClearAll(ctx); err != nil {
		return err
	}
	return s.Initialize(ctx)
}
