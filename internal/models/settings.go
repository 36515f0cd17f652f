package models

import (
	"time"

	"gorm.io/datatypes"
)

// Settings is the single-row preferences table (ID=1).
type Settings struct {
	ID               uint                        `gorm:"primaryKey" json:"-"`
	APIKey           string                      `gorm:"size:512" json:"apiKey"`
	SelectedModel    string                      `gorm:"size:255" json:"selectedModel"`
	EnabledModels    datatypes.JSONSlice[string] `json:"enabledModels"`
	WebSearchEnabled bool                        `gorm:"not null;default:false" json:"webSearchEnabled"`
	UpdatedAt        time.Time                   `json:"updatedAt"`
}
