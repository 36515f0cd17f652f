// Package local implements the storage contract on the embedded SQLite
// database. It is the active backend whenever no sync account is signed in.
package local

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"parley/internal/models"
	"parley/internal/storage"
)

// Provider persists conversations in the local database. Project file
// payloads live beside the database in a content-addressed blob store.
type Provider struct {
	db    *gorm.DB
	blobs *BlobStore
}

var _ storage.Provider = (*Provider)(nil)

func New(db *gorm.DB, blobs *BlobStore) *Provider {
	return &Provider{db: db, blobs: blobs}
}

func (p *Provider) GetChats(ctx context.Context, opts storage.ListOptions) (*storage.ChatPage, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultPageSize
	}

	q := p.db.WithContext(ctx).Model(&models.Chat{})
	if opts.ProjectID != "" {
		q = q.Where("project_id = ?", opts.ProjectID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count chats: %w", err)
	}

	var chats []models.Chat
	if err := q.Order("updated_at DESC").Limit(limit).Offset(opts.Offset).Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	return &storage.ChatPage{
		Chats:   chats,
		HasMore: int64(opts.Offset+len(chats)) < total,
		Total:   total,
	}, nil
}

func (p *Provider) GetChatByID(ctx context.Context, id string) (*models.Chat, error) {
	var chat models.Chat
	if err := p.db.WithContext(ctx).First(&chat, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("chat %s: %w", id, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return &chat, nil
}

func (p *Provider) CreateChat(ctx context.Context, data storage.CreateChatData) (*models.Chat, error) {
	now := time.Now()
	chat := models.Chat{
		ID:        uuid.NewString(),
		Title:     data.Title,
		ProjectID: data.ProjectID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.db.WithContext(ctx).Create(&chat).Error; err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return &chat, nil
}

func (p *Provider) UpdateChat(ctx context.Context, id string, patch storage.ChatPatch) (*models.Chat, error) {
	chat, err := p.GetChatByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Title != nil {
		chat.Title = *patch.Title
	}
	if patch.ClearProject {
		chat.ProjectID = nil
	} else if patch.ProjectID != nil {
		chat.ProjectID = patch.ProjectID
	}

	if err := p.db.WithContext(ctx).Save(chat).Error; err != nil {
		return nil, fmt.Errorf("update chat: %w", err)
	}
	return chat, nil
}

func (p *Provider) DeleteChat(ctx context.Context, id string) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.Chat{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("delete chat: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("chat %s: %w", id, storage.ErrNotFound)
		}
		if err := tx.Delete(&models.Message{}, "chat_id = ?", id).Error; err != nil {
			return fmt.Errorf("delete chat messages: %w", err)
		}
		return nil
	})
}

func (p *Provider) SearchChats(ctx context.Context, query string, opts storage.ListOptions) (*storage.ChatPage, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultPageSize
	}
	like := "%" + query + "%"

	matches := p.db.WithContext(ctx).Model(&models.Message{}).
		Select("chat_id").Where("content LIKE ?", like)

	q := p.db.WithContext(ctx).Model(&models.Chat{}).
		Where("title LIKE ? OR id IN (?)", like, matches)
	if opts.ProjectID != "" {
		q = q.Where("project_id = ?", opts.ProjectID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count search results: %w", err)
	}

	var chats []models.Chat
	if err := q.Order("updated_at DESC").Limit(limit).Offset(opts.Offset).Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("search chats: %w", err)
	}

	return &storage.ChatPage{
		Chats:   chats,
		HasMore: int64(opts.Offset+len(chats)) < total,
		Total:   total,
	}, nil
}
