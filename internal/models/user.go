package models

import (
	"time"
)

// LocalUserID is the fixed id of the offline profile. Signed-in accounts
// carry server-issued uuids instead.
const LocalUserID = "local"

type User struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Name  string `gorm:"size:120" json:"name"`
	Email string `gorm:"size:254" json:"email"`
}
