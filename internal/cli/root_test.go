package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-log/internal/domain"
	"conversation-log/internal/repository"
)

type fakeStore struct {
	conv  domain.Conversation
	pages []repository.MessagePage
	err   error

	create   repository.CreateInput
	update   repository.MetadataUpdate
	appended []repository.NewMessage
	lists    []repository.ListOptions
	latest   int
	deleted  string
	seq      int64
}

func (s *fakeStore) CreateConversation(_ context.Context, in repository.CreateInput) (domain.Conversation, error) {
	s.create = in
	return s.conv, s.err
}

func (s *fakeStore) GetConversation(_ context.Context, id string) (domain.Conversation, error) {
	return s.conv, s.err
}

func (s *fakeStore) UpdateMetadata(_ context.Context, _ string, in repository.MetadataUpdate) (domain.Conversation, error) {
	s.update = in
	return s.conv, s.err
}

func (s *fakeStore) DeleteConversation(_ context.Context, id string) error {
	s.deleted = id
	return s.err
}

func (s *fakeStore) AppendMessages(_ context.Context, id string, msgs []repository.NewMessage) ([]domain.ConversationMessage, error) {
	s.appended = msgs
	if s.err != nil {
		return nil, s.err
	}
	return []domain.ConversationMessage{{ConversationID: id, SequenceNumber: 1, Role: msgs[0].Role, Content: msgs[0].Content}}, nil
}

func (s *fakeStore) ListMessages(_ context.Context, _ string, opts repository.ListOptions) (repository.MessagePage, error) {
	s.lists = append(s.lists, opts)
	if s.err != nil {
		return repository.MessagePage{}, s.err
	}
	return s.pages[len(s.lists)-1], nil
}

func (s *fakeStore) LatestMessages(_ context.Context, _ string, n int) ([]domain.ConversationMessage, error) {
	s.latest = n
	return nil, s.err
}

func (s *fakeStore) GetMessage(_ context.Context, _ string, seq int64) (domain.ConversationMessage, error) {
	s.seq = seq
	return domain.ConversationMessage{SequenceNumber: seq, Role: domain.RoleUser}, s.err
}

func execute(t *testing.T, s *fakeStore, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand(func(context.Context, *RootOptions) (Store, error) { return s, nil })
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand(nil)
	require.NotNil(t, cmd)
	assert.Equal(t, "convlog", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(nil)
	for _, name := range []string{"create", "get", "update", "delete", "append", "list", "message"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand(nil)
	for flag, def := range map[string]string{"table": "", "config": "", "format": "text", "verbose": "false"} {
		f := cmd.PersistentFlags().Lookup(flag)
		require.NotNil(t, f, flag)
		assert.Equal(t, def, f.DefValue, flag)
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, &fakeStore{}, "get", "c1", "--format", "yaml")
	require.Error(t, err)
	assert.Equal(t, ExitUsage, GetExitCode(err))
}

func TestCreate(t *testing.T) {
	s := &fakeStore{conv: domain.Conversation{ID: "c1", Metadata: domain.Metadata{Title: "Trip"}}}
	out, err := execute(t, s, "create", "--title", "Trip", "--tag", "a,b", "--data", "k=v", "--expires-in", "1h")
	require.NoError(t, err)
	assert.Equal(t, "Trip", s.create.Metadata.Title)
	assert.Equal(t, []string{"a", "b"}, s.create.Metadata.Tags)
	assert.Equal(t, map[string]string{"k": "v"}, s.create.Metadata.CustomData)
	assert.NotNil(t, s.create.ExpiresAt)
	assert.Contains(t, out, "id:        c1")
	assert.Contains(t, out, "title:     Trip")
}

func TestUpdate_OnlyChangedFlags(t *testing.T) {
	s := &fakeStore{}
	_, err := execute(t, s, "update", "c1", "--title", "", "--clear-data")
	require.NoError(t, err)
	require.NotNil(t, s.update.Title)
	assert.Empty(t, *s.update.Title)
	assert.Nil(t, s.update.ModelID)
	assert.Nil(t, s.update.Tags)
	require.NotNil(t, s.update.CustomData)
	assert.Empty(t, *s.update.CustomData)

	_, err = execute(t, s, "update", "c1", "--tag", "x", "--clear-tags")
	require.Error(t, err)
}

func TestAppend(t *testing.T) {
	s := &fakeStore{}
	out, err := execute(t, s, "append", "c1", "--role", "assistant", "--text", "hello, world",
		"--content", `[{"type":"tool_use","toolUseId":"t1","toolName":"search","input":{"q":"go"}}]`,
		"--input-tokens", "3", "--output-tokens", "4")
	require.NoError(t, err)
	require.Len(t, s.appended, 1)
	msg := s.appended[0]
	assert.Equal(t, domain.RoleAssistant, msg.Role)
	require.Len(t, msg.Content, 2)
	assert.Equal(t, "hello, world", msg.Content[0].Text)
	assert.Equal(t, "search", msg.Content[1].ToolName)
	assert.JSONEq(t, `{"q":"go"}`, string(msg.Content[1].Input))
	assert.Equal(t, &domain.TokenUsage{InputTokens: 3, OutputTokens: 4, TotalTokens: 7}, msg.TokenUsage)
	assert.Contains(t, out, "#1 assistant")

	s = &fakeStore{}
	_, err = execute(t, s, "append", "c1", "--text", "no usage")
	require.NoError(t, err)
	assert.Nil(t, s.appended[0].TokenUsage)

	_, err = execute(t, &fakeStore{}, "append", "c1", "--content", "{")
	require.Error(t, err)
	assert.Equal(t, ExitUsage, GetExitCode(err))
}

func TestList_FollowsCursors(t *testing.T) {
	s := &fakeStore{pages: []repository.MessagePage{
		{Messages: []domain.ConversationMessage{{SequenceNumber: 1}, {SequenceNumber: 2}}, HasMore: true, Cursor: "c-2"},
		{Messages: []domain.ConversationMessage{{SequenceNumber: 3}}},
	}}
	out, err := execute(t, s, "list", "conv", "--all", "--limit", "2", "--format", "json")
	require.NoError(t, err)
	require.Equal(t, []repository.ListOptions{{Limit: 2}, {Limit: 2, Cursor: "c-2"}}, s.lists)

	var resp struct {
		Status string                       `json:"status"`
		Data   []domain.ConversationMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Len(t, resp.Data, 3)
}

func TestList_SinglePageAndLatest(t *testing.T) {
	s := &fakeStore{pages: []repository.MessagePage{{Messages: []domain.ConversationMessage{{SequenceNumber: 5}}, HasMore: true, Cursor: "next"}}}
	out, err := execute(t, s, "list", "conv", "--desc")
	require.NoError(t, err)
	assert.True(t, s.lists[0].Descending)
	assert.Contains(t, out, "next cursor: next")

	_, err = execute(t, s, "list", "conv", "--latest", "3")
	require.NoError(t, err)
	assert.Equal(t, 3, s.latest)
}

func TestMessage(t *testing.T) {
	s := &fakeStore{}
	_, err := execute(t, s, "message", "conv", "7")
	require.NoError(t, err)
	assert.Equal(t, int64(7), s.seq)

	_, err = execute(t, s, "message", "conv", "seven")
	assert.Equal(t, ExitUsage, GetExitCode(err))
}

func TestDelete_ReportsStoreErrors(t *testing.T) {
	s := &fakeStore{}
	out, err := execute(t, s, "delete", "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", s.deleted)
	assert.Contains(t, out, "deleted c1")

	s.err = &repository.Error{Kind: repository.KindNotFound, Code: repository.CodeNotFound, Message: "gone"}
	out, err = execute(t, s, "delete", "c1", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitNotFound, GetExitCode(err))
	assert.Contains(t, out, `"code":"NOT_FOUND"`)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("x")))
	assert.Equal(t, ExitUsage, GetExitCode(&repository.Error{Kind: repository.KindValidation}))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "open", errors.New("x"))))
}

func TestOpenerFailure(t *testing.T) {
	cmd := NewRootCommand(func(context.Context, *RootOptions) (Store, error) { return nil, errors.New("no credentials") })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"get", "c1"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out.String(), "no credentials")
}
