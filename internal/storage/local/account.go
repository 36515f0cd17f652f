package local

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dario.cat/mergo"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"parley/internal/models"
	"parley/internal/storage"
)

// GetUser returns the local profile. A default profile is returned, not
// persisted, until the first SaveUser.
func (p *Provider) GetUser(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := p.db.WithContext(ctx).First(&user, "id = ?", models.LocalUserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.User{ID: models.LocalUserID}, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

func (p *Provider) SaveUser(ctx context.Context, patch storage.UserPatch) (*models.User, error) {
	user, err := p.GetUser(ctx)
	if err != nil {
		return nil, err
	}

	if err := mergo.Merge(user, models.User{Name: patch.Name, Email: patch.Email}, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge user patch: %w", err)
	}

	user.UpdatedAt = time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = user.UpdatedAt
	}
	if err := p.db.WithContext(ctx).Save(user).Error; err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// GetSettings returns the settings row, or defaults when none exists yet.
// Defaults are not persisted until the first SaveSettings.
func (p *Provider) GetSettings(ctx context.Context) (*models.Settings, error) {
	var settings models.Settings
	if err := p.db.WithContext(ctx).First(&settings, 1).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return defaultSettings(), nil
		}
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &settings, nil
}

func (p *Provider) SaveSettings(ctx context.Context, patch storage.SettingsPatch) (*models.Settings, error) {
	settings, err := p.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	patch.Apply(settings)

	// Settings is a single fixed-id row.
	settings.ID = 1
	settings.UpdatedAt = time.Now()
	if err := p.db.WithContext(ctx).Save(settings).Error; err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}
	return settings, nil
}

func defaultSettings() *models.Settings {
	return &models.Settings{
		ID:            1,
		EnabledModels: datatypes.NewJSONSlice([]string{}),
	}
}
