package models

import "time"

// SnapshotVersion identifies the export format.
const SnapshotVersion = 1

// Snapshot is the export/import payload: the full account state as one
// portable document. Chats include their messages.
type Snapshot struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exportedAt"`
	User       *User     `json:"user,omitempty"`
	Settings   *Settings `json:"settings,omitempty"`
	Projects   []Project `json:"projects,omitempty"`
	Chats      []Chat    `json:"chats,omitempty"`
}
