// Package storage defines the persistence contract shared by the local
// SQLite backend and the remote sync backend. Providers are user-scoped:
// a provider instance always acts for the signed-in (or local) profile.
package storage

import (
	"context"

	"parley/internal/models"
)

// DefaultPageSize is the chat-list page size when ListOptions.Limit is zero.
const DefaultPageSize = 20

// ListOptions narrows paged chat queries.
type ListOptions struct {
	Limit     int
	Offset    int
	ProjectID string // "" means all projects
}

// ChatPage is one page of chat metadata ordered by UpdatedAt descending.
// Messages are not populated.
type ChatPage struct {
	Chats   []models.Chat `json:"chats"`
	HasMore bool          `json:"hasMore"`
	Total   int64         `json:"total"`
}

// CreateChatData is the payload for a durable chat create. The provider
// assigns the id.
type CreateChatData struct {
	Title     string  `json:"title"`
	ProjectID *string `json:"projectId,omitempty"`
}

// ChatPatch updates chat metadata. Nil fields keep prior values;
// ClearProject detaches the chat from its project.
type ChatPatch struct {
	Title        *string `json:"title,omitempty"`
	ProjectID    *string `json:"projectId,omitempty"`
	ClearProject bool    `json:"clearProject,omitempty"`
}

// MessagePatch carries the final state of a streamed message. Nil fields
// keep prior values.
type MessagePatch struct {
	Content         *string              `json:"content,omitempty"`
	Stats           *models.MessageStats `json:"stats,omitempty"`
	GeneratedImages []string             `json:"generatedImages,omitempty"`
}

// UserPatch merges non-zero fields into the stored profile.
type UserPatch struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// SettingsPatch is a merge-patch for Settings. Nil fields keep prior
// values; the pointers let false and the empty list be real values.
type SettingsPatch struct {
	APIKey           *string   `json:"apiKey,omitempty"`
	SelectedModel    *string   `json:"selectedModel,omitempty"`
	EnabledModels    *[]string `json:"enabledModels,omitempty"`
	WebSearchEnabled *bool     `json:"webSearchEnabled,omitempty"`
}

// CreateProjectData is the payload for a project create.
type CreateProjectData struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// ProjectPatch updates project metadata. Nil fields keep prior values.
type ProjectPatch struct {
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	Instructions *string `json:"instructions,omitempty"`
}

// FileData is an uploaded project file payload.
type FileData struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// Provider is the capability contract of a conversation backend. Message
// ids are client-minted and kept by the provider; chat ids are provider-
// assigned, so temporary chat ids must be resolved before any call here.
type Provider interface {
	GetChats(ctx context.Context, opts ListOptions) (*ChatPage, error)
	GetChatByID(ctx context.Context, id string) (*models.Chat, error)
	CreateChat(ctx context.Context, data CreateChatData) (*models.Chat, error)
	UpdateChat(ctx context.Context, id string, patch ChatPatch) (*models.Chat, error)
	DeleteChat(ctx context.Context, id string) error
	SearchChats(ctx context.Context, query string, opts ListOptions) (*ChatPage, error)

	AddMessage(ctx context.Context, chatID string, msg models.Message) (*models.Message, error)
	UpdateMessage(ctx context.Context, chatID, messageID string, patch MessagePatch) (*models.Message, error)
	GetMessages(ctx context.Context, chatID string) ([]models.Message, error)

	GetUser(ctx context.Context) (*models.User, error)
	SaveUser(ctx context.Context, patch UserPatch) (*models.User, error)
	GetSettings(ctx context.Context) (*models.Settings, error)
	SaveSettings(ctx context.Context, patch SettingsPatch) (*models.Settings, error)

	GetProjects(ctx context.Context) ([]models.Project, error)
	CreateProject(ctx context.Context, data CreateProjectData) (*models.Project, error)
	UpdateProject(ctx context.Context, id string, patch ProjectPatch) (*models.Project, error)
	DeleteProject(ctx context.Context, id string) error
	AddProjectFile(ctx context.Context, projectID string, data FileData) (*models.ProjectFile, error)
	RemoveProjectFile(ctx context.Context, projectID, fileID string) error
	GetProjectChats(ctx context.Context, projectID string) ([]models.Chat, error)

	ExportAll(ctx context.Context) (*models.Snapshot, error)
	ImportAll(ctx context.Context, snap *models.Snapshot) error
	ClearAll(ctx context.Context) error
}
