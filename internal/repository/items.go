package repository

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"conversation-log/internal/attr"
	"conversation-log/internal/domain"
)

// Stored attribute names.
const (
	attrID                = "Id"
	attrCreatedAt         = "CreatedAt"
	attrUpdatedAt         = "UpdatedAt"
	attrMessageCount      = "MessageCount"
	attrTitle             = "Title"
	attrTags              = "Tags"
	attrModelID           = "ModelId"
	attrCustomData        = "CustomData"
	attrTotalInputTokens  = "TotalInputTokens"
	attrTotalOutputTokens = "TotalOutputTokens"
	attrTotalTokens       = "TotalTokens"

	attrConversationID = "ConversationId"
	attrSequenceNumber = "SequenceNumber"
	attrRole           = "Role"
	attrContent        = "Content"
	attrInputTokens    = "InputTokens"
	attrOutputTokens   = "OutputTokens"
	attrTokens         = "Tokens"
)

// normalizeTags trims, drops empty entries and deduplicates. String sets are
// unordered in the store, so tags are kept sorted.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (c *Client) conversationItem(conv domain.Conversation) attr.Item {
	item := c.keys.metadataKey(conv.ID)
	item[attrID] = attr.S(conv.ID)
	item[attrCreatedAt] = attr.Int(conv.CreatedAt.Unix())
	item[attrUpdatedAt] = attr.Int(conv.UpdatedAt.Unix())
	item[attrMessageCount] = attr.Int(conv.MessageCount)

	md := conv.Metadata
	if md.Title != "" {
		item[attrTitle] = attr.S(md.Title)
	}
	if md.ModelID != "" {
		item[attrModelID] = attr.S(md.ModelID)
	}
	if len(md.Tags) > 0 {
		item[attrTags] = attr.SS(md.Tags...)
	}
	if len(md.CustomData) > 0 {
		item[attrCustomData] = attr.StringMap(md.CustomData)
	}
	if u := conv.TotalTokenUsage; u != nil {
		item[attrTotalInputTokens] = attr.Int(u.InputTokens)
		item[attrTotalOutputTokens] = attr.Int(u.OutputTokens)
		item[attrTotalTokens] = attr.Int(u.TotalTokens)
	}
	if conv.ExpiresAt != nil {
		item[c.ttlAttribute] = attr.Int(conv.ExpiresAt.Unix())
	}
	return item
}

func (c *Client) decodeConversation(item attr.Item) (domain.Conversation, error) {
	var conv domain.Conversation
	var err error
	if conv.ID, err = attr.String(item, attrID); err != nil {
		return conv, err
	}
	if conv.CreatedAt, err = epoch(item, attrCreatedAt); err != nil {
		return conv, err
	}
	if conv.UpdatedAt, err = epoch(item, attrUpdatedAt); err != nil {
		return conv, err
	}
	if conv.MessageCount, err = attr.Int64(item, attrMessageCount); err != nil {
		return conv, err
	}
	if conv.Metadata.Title, err = attr.OptionalString(item, attrTitle); err != nil {
		return conv, err
	}
	if conv.Metadata.ModelID, err = attr.OptionalString(item, attrModelID); err != nil {
		return conv, err
	}
	tags, err := attr.StringSet(item, attrTags)
	if err != nil {
		return conv, err
	}
	if len(tags) > 0 {
		slices.Sort(tags)
		conv.Metadata.Tags = tags
	}
	if conv.Metadata.CustomData, err = attr.StringMapOf(item, attrCustomData); err != nil {
		return conv, err
	}
	if conv.TotalTokenUsage, err = usage(item, attrTotalInputTokens, attrTotalOutputTokens, attrTotalTokens); err != nil {
		return conv, err
	}
	if conv.ExpiresAt, err = optionalEpoch(item, c.ttlAttribute); err != nil {
		return conv, err
	}
	return conv, nil
}

func (c *Client) messageItem(m domain.ConversationMessage, expiresAt *time.Time) (attr.Item, error) {
	content := attr.L()
	if len(m.Content) > 0 {
		av, err := attributevalue.Marshal(m.Content)
		if err != nil {
			return nil, fmt.Errorf("marshal content: %w", err)
		}
		content = av
	}
	item := c.keys.messageKey(m.ConversationID, m.SequenceNumber)
	item[attrID] = attr.S(m.ID)
	item[attrConversationID] = attr.S(m.ConversationID)
	item[attrSequenceNumber] = attr.Int(m.SequenceNumber)
	item[attrRole] = attr.S(string(m.Role))
	item[attrCreatedAt] = attr.Int(m.CreatedAt.Unix())
	item[attrContent] = content
	if u := m.TokenUsage; u != nil {
		item[attrInputTokens] = attr.Int(u.InputTokens)
		item[attrOutputTokens] = attr.Int(u.OutputTokens)
		item[attrTokens] = attr.Int(u.TotalTokens)
	}
	if expiresAt != nil {
		item[c.ttlAttribute] = attr.Int(expiresAt.Unix())
	}
	return item, nil
}

func decodeMessage(item attr.Item) (domain.ConversationMessage, error) {
	var m domain.ConversationMessage
	var err error
	if m.ID, err = attr.String(item, attrID); err != nil {
		return m, err
	}
	if m.ConversationID, err = attr.String(item, attrConversationID); err != nil {
		return m, err
	}
	if m.SequenceNumber, err = attr.Int64(item, attrSequenceNumber); err != nil {
		return m, err
	}
	role, err := attr.String(item, attrRole)
	if err != nil {
		return m, err
	}
	m.Role = domain.Role(role)
	if m.CreatedAt, err = epoch(item, attrCreatedAt); err != nil {
		return m, err
	}
	content, ok := item[attrContent]
	if !ok {
		return m, fmt.Errorf("%w %q", attr.ErrMissing, attrContent)
	}
	if _, ok := content.(*types.AttributeValueMemberL); !ok {
		return m, fmt.Errorf("%w: %q is %s, want L", attr.ErrType, attrContent, attr.Kind(content))
	}
	m.Content = []domain.ContentBlock{}
	if err := attributevalue.Unmarshal(content, &m.Content); err != nil {
		return m, fmt.Errorf("unmarshal content: %w", err)
	}
	if m.TokenUsage, err = usage(item, attrInputTokens, attrOutputTokens, attrTokens); err != nil {
		return m, err
	}
	return m, nil
}

func epoch(item attr.Item, key string) (time.Time, error) {
	sec, err := attr.Int64(item, key)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}

func optionalEpoch(item attr.Item, key string) (*time.Time, error) {
	sec, ok, err := attr.OptionalInt64(item, key)
	if err != nil || !ok {
		return nil, err
	}
	t := time.Unix(sec, 0).UTC()
	return &t, nil
}

// usage reads a token triple; it is nil when none of the three is stored.
func usage(item attr.Item, in, out, total string) (*domain.TokenUsage, error) {
	var u domain.TokenUsage
	var found bool
	for _, f := range []struct {
		key string
		dst *int64
	}{{in, &u.InputTokens}, {out, &u.OutputTokens}, {total, &u.TotalTokens}} {
		n, ok, err := attr.OptionalInt64(item, f.key)
		if err != nil {
			return nil, err
		}
		if ok {
			*f.dst = n
			found = true
		}
	}
	if !found {
		return nil, nil
	}
	return &u, nil
}
