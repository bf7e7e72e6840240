package domain

import "encoding/json"

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// ContentType discriminates ContentBlock.
type ContentType string

const (
	ContentText       ContentType = "text"
	ContentToolUse    ContentType = "tool_use"
	ContentToolResult ContentType = "tool_result"
	ContentImage      ContentType = "image"
)

func (c ContentType) Valid() bool {
	switch c {
	case ContentText, ContentToolUse, ContentToolResult, ContentImage:
		return true
	}
	return false
}

// ContentBlock is the provider-agnostic message part shared by the handler,
// the CLI and the store. Which fields are set depends on Type.
type ContentBlock struct {
	Type      ContentType     `json:"type" dynamodbav:"Type"`
	Text      string          `json:"text,omitempty" dynamodbav:"Text,omitempty"`
	ToolUseID string          `json:"toolUseId,omitempty" dynamodbav:"ToolUseId,omitempty"`
	ToolName  string          `json:"toolName,omitempty" dynamodbav:"ToolName,omitempty"`
	Input     json.RawMessage `json:"input,omitempty" dynamodbav:"Input,omitempty"`
	IsError   bool            `json:"isError,omitempty" dynamodbav:"IsError,omitempty"`
	MediaType string          `json:"mediaType,omitempty" dynamodbav:"MediaType,omitempty"`
	Data      []byte          `json:"data,omitempty" dynamodbav:"Data,omitempty"`
}

// TextBlock is a shorthand for a plain text part.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: ContentText, Text: text}
}
