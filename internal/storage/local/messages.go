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

// AddMessage appends a message to a chat and bumps the chat's UpdatedAt so
// it floats to the top of the list. Client-minted ids are kept.
func (p *Provider) AddMessage(ctx context.Context, chatID string, msg models.Message) (*models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ChatID = chatID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Chat{}).Where("id = ?", chatID).Count(&count).Error; err != nil {
			return fmt.Errorf("check chat: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("chat %s: %w", chatID, storage.ErrNotFound)
		}
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		return tx.Model(&models.Chat{}).Where("id = ?", chatID).
			Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (p *Provider) UpdateMessage(ctx context.Context, chatID, messageID string, patch storage.MessagePatch) (*models.Message, error) {
	var msg models.Message
	if err := p.db.WithContext(ctx).First(&msg, "id = ? AND chat_id = ?", messageID, chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("message %s: %w", messageID, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("get message: %w", err)
	}

	if patch.Content != nil {
		msg.Content = *patch.Content
	}
	if patch.Stats != nil {
		msg.Stats = patch.Stats
	}
	if patch.GeneratedImages != nil {
		msg.GeneratedImages = patch.GeneratedImages
	}

	if err := p.db.WithContext(ctx).Save(&msg).Error; err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	return &msg, nil
}

func (p *Provider) GetMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	var count int64
	if err := p.db.WithContext(ctx).Model(&models.Chat{}).Where("id = ?", chatID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("check chat: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("chat %s: %w", chatID, storage.ErrNotFound)
	}

	var msgs []models.Message
	if err := p.db.WithContext(ctx).Where("chat_id = ?", chatID).
		Order("created_at ASC").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}
