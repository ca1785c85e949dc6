package types

import (
	"strings"
	"time"
)

// DocumentMetadata 是创建文档时由调用方提供的字段。
type DocumentMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tone        string   `json:"tone"`
	Keywords    []string `json:"keywords"`
	Audience    string   `json:"audience"`
	LengthMin   int      `json:"length_min"`
	LengthMax   int      `json:"length_max"`
}

// Validate checks the fields a create request must carry.
func (m DocumentMetadata) Validate() error {
	if strings.TrimSpace(m.Title) == "" {
		return NewValidationError("title is required")
	}
	if m.LengthMin <= 0 || m.LengthMax <= 0 {
		return NewValidationError("length bounds must be positive")
	}
	if m.LengthMin > m.LengthMax {
		return NewValidationError("length_min must not exceed length_max")
	}
	return nil
}

// Document is the generated artifact. Content and Instructions change only
// through the persist-content activity.
type Document struct {
	ID           string           `json:"id"`
	OwnerID      string           `json:"owner_id"`
	Metadata     DocumentMetadata `json:"metadata"`
	Content      string           `json:"content"`
	Instructions string           `json:"instructions"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Message 是一轮编辑对话：用户文本 + 助手摘要，可选关联一个检查点。
type Message struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	UserText     string    `json:"user_text"`
	AIText       string    `json:"ai_text"`
	CheckpointID *string   `json:"checkpoint_id,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Checkpoint is an immutable snapshot of document content.
type Checkpoint struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// DocumentView is a document plus its messages in ascending time order.
type DocumentView struct {
	Document Document  `json:"document"`
	Messages []Message `json:"messages"`
}

// DocumentSummary is the listing projection of a document.
type DocumentSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role represents the role of a conversation participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one conversation turn handed to the generation service.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ConversationHistory expands messages into alternating user/assistant turns.
func ConversationHistory(messages []Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages)*2)
	for _, m := range messages {
		out = append(out,
			ChatMessage{Role: RoleUser, Content: m.UserText},
			ChatMessage{Role: RoleAssistant, Content: m.AIText},
		)
	}
	return out
}
