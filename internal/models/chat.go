package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks chat ids minted locally before the storage provider
// assigns a durable one. Temporary ids never reach a provider.
const TempIDPrefix = "tmp_"

type Chat struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Title     string    `gorm:"size:255" json:"title"`
	ProjectID *string   `gorm:"size:64;index" json:"projectId,omitempty"`
	Messages  []Message `gorm:"constraint:OnDelete:CASCADE" json:"messages,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `gorm:"index" json:"updatedAt"`
}

// NewTempChatID mints a placeholder id for an optimistically created chat.
func NewTempChatID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id is a local placeholder rather than a durable id.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}
