package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single turn in a chat. Message arrays are append-only and
// ordered by CreatedAt within a chat.
type Message struct {
	ID              string                           `gorm:"primaryKey;size:64" json:"id"`
	ChatID          string                           `gorm:"size:64;index;not null" json:"chatId"`
	Role            string                           `gorm:"size:16;not null" json:"role"`
	Content         string                           `gorm:"type:text" json:"content"`
	Parts           datatypes.JSONSlice[ContentPart] `json:"parts,omitempty"`
	Attachments     datatypes.JSONSlice[Attachment]  `json:"attachments,omitempty"`
	GeneratedImages datatypes.JSONSlice[string]      `json:"generatedImages,omitempty"`
	Stats           *MessageStats                    `gorm:"serializer:json" json:"stats,omitempty"`
	CreatedAt       time.Time                        `gorm:"index" json:"createdAt"`
}

// MessageStats captures per-completion metrics, written once when a stream
// finishes.
type MessageStats struct {
	Model              string  `json:"model"`
	PromptTokens       int     `json:"promptTokens"`
	CompletionTokens   int     `json:"completionTokens"`
	TokensPerSecond    float64 `json:"tokensPerSecond"`
	TimeToFirstTokenMs int64   `json:"timeToFirstTokenMs"`
}

// Content part kinds.
const (
	PartText  = "text"
	PartImage = "image"
	PartFile  = "file"
)

// ContentPart is one element of a multimodal message body. Type selects
// which of the remaining fields carry the payload.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// PartImage: a data URL or generated-image reference.
	URL string `json:"url,omitempty"`
	// PartFile: inline file payload, base64.
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

// TextPart builds a plain-text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart builds an image content part from a data URL or image reference.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: PartImage, URL: url}
}

// FilePart builds an inline file content part.
func FilePart(name, mimeType, data string) ContentPart {
	return ContentPart{Type: PartFile, Name: name, MimeType: mimeType, Data: data}
}

// Attachment is a file the user added to a message. Data holds the raw
// payload base64-encoded; it is inlined into provider requests, never
// fetched by reference.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Data     string `json:"data,omitempty"`
}

// IsImage reports whether the attachment holds image data.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MimeType, "image/")
}

// DataURL renders the attachment as an inline data URL.
func (a Attachment) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", a.MimeType, a.Data)
}

// TextContent flattens the message to plain text for consumers that cannot
// use structured parts. Messages without parts return Content unchanged.
func (m *Message) TextContent() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type != PartText || p.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	if b.Len() == 0 {
		return m.Content
	}
	return b.String()
}
