package models

import "time"

// Project groups chats under shared instructions and reference files.
type Project struct {
	ID           string        `gorm:"primaryKey;size:64" json:"id"`
	Name         string        `gorm:"size:255;not null" json:"name"`
	Description  string        `gorm:"type:text" json:"description"`
	Instructions string        `gorm:"type:text" json:"instructions"`
	Files        []ProjectFile `gorm:"constraint:OnDelete:CASCADE" json:"files,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// ProjectFile is the metadata row for an uploaded project file. The payload
// itself lives in the blob store under BlobRef.
type ProjectFile struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	ProjectID string    `gorm:"size:64;index;not null" json:"projectId"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	MimeType  string    `gorm:"size:128" json:"mimeType"`
	Size      int64     `json:"size"`
	BlobRef   string    `gorm:"size:128" json:"blobRef"`
	CreatedAt time.Time `json:"createdAt"`
}
