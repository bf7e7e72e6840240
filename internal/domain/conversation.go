package domain

import "time"

// Conversation is the aggregate root. MessageCount and TotalTokenUsage change
// only through appends; Metadata only through metadata updates.
type Conversation struct {
	ID              string      `json:"id"`
	Metadata        Metadata    `json:"metadata"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
	MessageCount    int64       `json:"messageCount"`
	TotalTokenUsage *TokenUsage `json:"totalTokenUsage,omitempty"`
	ExpiresAt       *time.Time  `json:"expiresAt,omitempty"`
}

// Metadata is optional descriptive data attached to a conversation.
type Metadata struct {
	Title      string            `json:"title,omitempty"`
	ModelID    string            `json:"modelId,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	CustomData map[string]string `json:"customData,omitempty"`
}

// ConversationMessage is one persisted entry of a conversation. SequenceNumber
// starts at 1 and never changes once assigned.
type ConversationMessage struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	SequenceNumber int64          `json:"sequenceNumber"`
	Role           Role           `json:"role"`
	Content        []ContentBlock `json:"content"`
	TokenUsage     *TokenUsage    `json:"tokenUsage,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// TokenUsage counts model tokens for a message or a whole conversation.
type TokenUsage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
	TotalTokens  int64 `json:"totalTokens"`
}

// Add returns the field-wise sum of u and o.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		TotalTokens:  u.TotalTokens + o.TotalTokens,
	}
}

func (u TokenUsage) IsZero() bool { return u == TokenUsage{} }
