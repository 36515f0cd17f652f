package events

import "parley/internal/models"

// Event names published on the Bus and mirrored to the webview. The comment
// on each name is its payload.
const (
	ChatCreated      = "events:chat:created"      // *models.Chat
	ChatUpdated      = "events:chat:updated"      // *models.Chat
	ChatDeleted      = "events:chat:deleted"      // chat id
	ChatSelected     = "events:chat:current"      // chat id
	MessageAdded     = "events:message:added"     // MessagePayload
	MessageUpdated   = "events:message:updated"   // MessagePayload
	MessagesLoading  = "events:messages:loading"  // LoadingPayload
	MessagesLoaded   = "events:messages:loaded"   // MessagesPayload
	MessagesError    = "events:messages:error"    // LoadErrorPayload
	SettingsUpdated  = "events:settings:updated"  // *models.Settings
	UserUpdated      = "events:user:updated"      // *models.User
	ProjectCreated   = "events:project:created"   // *models.Project
	ProjectUpdated   = "events:project:updated"   // *models.Project
	ProjectDeleted   = "events:project:deleted"   // project id
	ProjectSelected  = "events:project:selected"  // project id, "" for all
	StreamingChanged = "events:stream:changed"    // bool
)

// MessagePayload scopes a message event to its chat.
type MessagePayload struct {
	ChatID  string          `json:"chatId"`
	Message *models.Message `json:"message"`
}

// LoadingPayload reports a message-load starting or settling for a chat.
type LoadingPayload struct {
	ChatID    string `json:"chatId"`
	IsLoading bool   `json:"isLoading"`
}

// MessagesPayload carries the loaded message history of a chat.
type MessagesPayload struct {
	ChatID   string           `json:"chatId"`
	Messages []models.Message `json:"messages"`
}

// LoadErrorPayload reports a failed message load.
type LoadErrorPayload struct {
	ChatID string `json:"chatId"`
	Error  string `json:"error"`
}
