package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"conversation-log/internal/domain"
	"conversation-log/internal/repository"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // store or transport failure
	ExitUsage        = 2 // bad flags or input rejected by the store
	ExitNotFound     = 3
	ExitCommandError = 4 // could not load config or open the store
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Store errors map by
// kind; anything else is ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	switch repository.KindOf(err) {
	case repository.KindNotFound:
		return ExitNotFound
	case repository.KindValidation:
		return ExitUsage
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success writes data; text output uses the renderers below for known types.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResponse{Status: "ok", Data: data})
	}
	switch v := data.(type) {
	case domain.Conversation:
		writeConversation(f.Writer, v)
	case domain.ConversationMessage:
		writeMessage(f.Writer, v)
	case []domain.ConversationMessage:
		for _, m := range v {
			writeMessage(f.Writer, m)
		}
	case repository.MessagePage:
		for _, m := range v.Messages {
			writeMessage(f.Writer, m)
		}
		if v.HasMore {
			fmt.Fprintf(f.Writer, "next cursor: %s\n", v.Cursor)
		}
	default:
		fmt.Fprintln(f.Writer, data)
	}
	return nil
}

// Error writes err in the configured format and returns it unchanged.
func (f *OutputFormatter) Error(err error) error {
	code := repository.CodeOf(err)
	if code == "" {
		code = "ERROR"
	}
	if f.Format == "json" {
		_ = json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: err.Error()},
		})
		return err
	}
	fmt.Fprintf(f.ErrWriter, "Error [%s]: %v\n", code, err)
	return err
}

// VerboseLog writes to ErrWriter so JSON output stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.ErrWriter, format+"\n", args...)
}

func writeConversation(w io.Writer, c domain.Conversation) {
	fmt.Fprintf(w, "id:        %s\n", c.ID)
	if c.Metadata.Title != "" {
		fmt.Fprintf(w, "title:     %s\n", c.Metadata.Title)
	}
	if c.Metadata.ModelID != "" {
		fmt.Fprintf(w, "model:     %s\n", c.Metadata.ModelID)
	}
	if len(c.Metadata.Tags) > 0 {
		fmt.Fprintf(w, "tags:      %s\n", strings.Join(c.Metadata.Tags, ", "))
	}
	for k, v := range c.Metadata.CustomData {
		fmt.Fprintf(w, "data:      %s=%s\n", k, v)
	}
	fmt.Fprintf(w, "messages:  %d\n", c.MessageCount)
	if u := c.TotalTokenUsage; u != nil {
		fmt.Fprintf(w, "tokens:    in=%d out=%d total=%d\n", u.InputTokens, u.OutputTokens, u.TotalTokens)
	}
	fmt.Fprintf(w, "created:   %s\n", c.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "updated:   %s\n", c.UpdatedAt.Format(time.RFC3339))
	if c.ExpiresAt != nil {
		fmt.Fprintf(w, "expires:   %s\n", c.ExpiresAt.Format(time.RFC3339))
	}
}

func writeMessage(w io.Writer, m domain.ConversationMessage) {
	fmt.Fprintf(w, "#%d %s %s\n", m.SequenceNumber, m.Role, m.CreatedAt.Format(time.RFC3339))
	for _, b := range m.Content {
		switch b.Type {
		case domain.ContentText:
			fmt.Fprintf(w, "  %s\n", b.Text)
		case domain.ContentToolUse:
			fmt.Fprintf(w, "  [tool_use %s %s] %s\n", b.ToolUseID, b.ToolName, b.Input)
		case domain.ContentToolResult:
			fmt.Fprintf(w, "  [tool_result %s error=%t] %s\n", b.ToolUseID, b.IsError, b.Text)
		default:
			fmt.Fprintf(w, "  [%s %s, %d bytes]\n", b.Type, b.MediaType, len(b.Data))
		}
	}
}
