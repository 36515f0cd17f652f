package local

import (
	"context"
	"fmt"
	"time"

	"dario.cat/mergo"
	"gorm.io/gorm"

	"parley/internal/models"
	"parley/internal/storage"
)

// ExportAll collects the full account state. Chats include their messages;
// project file payloads stay in the blob store and do not travel.
func (p *Provider) ExportAll(ctx context.Context) (*models.Snapshot, error) {
	snap := &models.Snapshot{
		Version:    models.SnapshotVersion,
		ExportedAt: time.Now(),
	}

	user, err := p.GetUser(ctx)
	if err != nil {
		return nil, err
	}
	snap.User = user

	settings, err := p.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	snap.Settings = settings

	if err := p.db.WithContext(ctx).Preload("Files").
		Order("created_at ASC").Find(&snap.Projects).Error; err != nil {
		return nil, fmt.Errorf("export projects: %w", err)
	}

	if err := p.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Order("updated_at DESC").Find(&snap.Chats).Error; err != nil {
		return nil, fmt.Errorf("export chats: %w", err)
	}

	return snap, nil
}

// ImportAll replaces the stored state with the snapshot's. Ids and
// timestamps are kept so a re-import is stable.
func (p *Provider) ImportAll(ctx context.Context, snap *models.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: snapshot is required", storage.ErrValidation)
	}
	if snap.Version != models.SnapshotVersion {
		return fmt.Errorf("%w: unsupported snapshot version %d", storage.ErrValidation, snap.Version)
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := clearTables(tx); err != nil {
			return err
		}

		if snap.User != nil {
			user := *snap.User
			if user.ID == "" {
				user.ID = models.LocalUserID
			}
			if err := tx.Create(&user).Error; err != nil {
				return fmt.Errorf("import user: %w", err)
			}
		}

		if snap.Settings != nil {
			// Older exports may lack newer fields; merge over defaults.
			merged := *defaultSettings()
			if err := mergo.Merge(&merged, *snap.Settings, mergo.WithOverride); err != nil {
				return fmt.Errorf("merge settings: %w", err)
			}
			merged.ID = 1
			if err := tx.Create(&merged).Error; err != nil {
				return fmt.Errorf("import settings: %w", err)
			}
		}

		if len(snap.Projects) > 0 {
			if err := tx.Create(&snap.Projects).Error; err != nil {
				return fmt.Errorf("import projects: %w", err)
			}
		}
		if len(snap.Chats) > 0 {
			if err := tx.Create(&snap.Chats).Error; err != nil {
				return fmt.Errorf("import chats: %w", err)
			}
		}
		return nil
	})
}

// ClearAll wipes every table and the blob store.
func (p *Provider) ClearAll(ctx context.Context) error {
	err := p.db.WithContext(ctx).Transaction(clearTables)
	if err != nil {
		return err
	}

	if _, err := p.blobs.Sweep(nil); err != nil {
		return fmt.Errorf("clear blobs: %w", err)
	}
	return nil
}

func clearTables(tx *gorm.DB) error {
	for _, model := range []any{
		&models.Message{},
		&models.Chat{},
		&models.ProjectFile{},
		&models.Project{},
		&models.Settings{},
		&models.User{},
	} {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
			return fmt.Errorf("clear %T: %w", model, err)
		}
	}
	return nil
}
