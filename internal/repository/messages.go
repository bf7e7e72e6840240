package repository

import (
	"context"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"conversation-log/internal/attr"
	"conversation-log/internal/domain"
	"conversation-log/internal/expression"
)

// NewMessage is the caller's half of a message; the store assigns the rest.
type NewMessage struct {
	Role       domain.Role
	Content    []domain.ContentBlock
	TokenUsage *domain.TokenUsage
}

// ListOptions selects a page of messages. Limit <= 0 uses the default page
// size and is capped at the max page size.
type ListOptions struct {
	Limit      int
	Cursor     string
	Descending bool
}

// MessagePage is one page of a message listing. Cursor is set only when
// HasMore is true.
type MessagePage struct {
	Messages []domain.ConversationMessage
	HasMore  bool
	Cursor   string
}

func (c *Client) AppendMessage(ctx context.Context, conversationID string, msg NewMessage) (domain.ConversationMessage, error) {
	out, err := c.AppendMessages(ctx, conversationID, []NewMessage{msg})
	if err != nil {
		return domain.ConversationMessage{}, err
	}
	return out[0], nil
}

// AppendMessages stores msgs in input order with contiguous sequence numbers
// following the current MessageCount. The message puts and the counter
// update commit in one transaction.
func (c *Client) AppendMessages(ctx context.Context, conversationID string, msgs []NewMessage) ([]domain.ConversationMessage, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, invalid(CodeInvalidInput, "conversation id is required")
	}
	if len(msgs) == 0 {
		return nil, invalid(CodeInvalidInput, "at least one message is required")
	}
	if len(msgs)+1 > c.txLimit {
		return nil, invalid(CodeInvalidInput, "%d messages exceed the per-append limit of %d", len(msgs), c.txLimit-1)
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return nil, invalid(CodeInvalidInput, "message %d: invalid role %q", i, m.Role)
		}
		for j, b := range m.Content {
			if !b.Type.Valid() {
				return nil, invalid(CodeInvalidInput, "message %d block %d: invalid content type %q", i, j, b.Type)
			}
		}
	}

	conv, err := c.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	base := conv.MessageCount
	k := int64(len(msgs))
	if base+k > maxSequence {
		return nil, invalid(CodeInvalidInput, "sequence number %d exceeds the key width", base+k)
	}

	now := c.timestamp()
	created := make([]domain.ConversationMessage, len(msgs))
	items := make([]types.TransactWriteItem, 0, len(msgs)+1)
	var total domain.TokenUsage
	var hasUsage bool
	for i, m := range msgs {
		msg := domain.ConversationMessage{
			ID:             c.newID(),
			ConversationID: conversationID,
			SequenceNumber: base + int64(i) + 1,
			Role:           m.Role,
			Content:        slices.Clone(m.Content),
			CreatedAt:      now,
		}
		if msg.Content == nil {
			msg.Content = []domain.ContentBlock{}
		}
		if m.TokenUsage != nil {
			u := *m.TokenUsage
			msg.TokenUsage = &u
			total = total.Add(u)
			hasUsage = true
		}
		item, err := c.messageItem(msg, conv.ExpiresAt)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Code: CodeInvalidInput, Message: "encode message", Err: err}
		}
		put := &types.Put{TableName: aws.String(c.tableName), Item: item}
		if c.guarded {
			guard := expression.AttributeNotExists(c.keys.pk)
			put.ConditionExpression = guard.ExpressionPtr()
			put.ExpressionAttributeNames = guard.Names()
		}
		items = append(items, types.TransactWriteItem{Put: put})
		created[i] = msg
	}

	u := expression.NewUpdate().
		Increment(attrMessageCount, k).
		Set(attrUpdatedAt, attr.Int(now.Unix()))
	if hasUsage {
		u.IncrementFrom(attrTotalInputTokens, 0, total.InputTokens).
			IncrementFrom(attrTotalOutputTokens, 0, total.OutputTokens).
			IncrementFrom(attrTotalTokens, 0, total.TotalTokens)
	}
	guard := u.Session().AttributeExists(c.keys.pk)
	if c.guarded {
		guard = expression.And(guard, u.Session().Equals(attrMessageCount, attr.Int(base)))
	}
	upd, err := u.Build()
	if err != nil {
		return nil, &Error{Kind: KindValidation, Code: CodeInvalidInput, Message: "build append update", Err: err}
	}
	items = append(items, types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 aws.String(c.tableName),
			Key:                       c.keys.metadataKey(conversationID),
			UpdateExpression:          aws.String(upd.Expression),
			ConditionExpression:       guard.ExpressionPtr(),
			ExpressionAttributeNames:  u.Session().Names(),
			ExpressionAttributeValues: u.Session().Values(),
		},
	})

	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		reason, idx := cancellationReason(err)
		if reason != "ConditionalCheckFailed" {
			return nil, storeError("AppendMessages", err)
		}
		if idx == len(msgs) {
			if !c.guarded {
				return nil, notFound("conversation %q not found", conversationID)
			}
			// The counter guard also fails when the conversation is gone.
			if _, gerr := c.GetConversation(ctx, conversationID); IsNotFound(gerr) {
				return nil, gerr
			}
		}
		if c.guarded {
			return nil, &Error{Kind: KindFailure, Code: CodeConditionFailed, Message: "concurrent append to conversation " + conversationID, Err: err}
		}
		return nil, storeError("AppendMessages", err)
	}
	return created, nil
}

// ListMessages returns one page of messages in sequence order, ascending
// unless opts.Descending is set.
func (c *Client) ListMessages(ctx context.Context, conversationID string, opts ListOptions) (MessagePage, error) {
	if strings.TrimSpace(conversationID) == "" {
		return MessagePage{}, invalid(CodeInvalidInput, "conversation id is required")
	}
	limit := c.clampPageSize(opts.Limit)
	var start attr.Item
	if opts.Cursor != "" {
		key, err := DecodeCursor(opts.Cursor)
		if err != nil {
			return MessagePage{}, err
		}
		if err := c.keys.checkMessageKey(conversationID, key); err != nil {
			return MessagePage{}, &Error{Kind: KindValidation, Code: CodeInvalidCursor, Message: "cursor does not match conversation", Err: err}
		}
		start = key
	}
	if _, err := c.GetConversation(ctx, conversationID); err != nil {
		return MessagePage{}, err
	}

	s := expression.NewSession()
	keyCond := expression.And(
		s.Equals(c.keys.pk, attr.S(c.keys.partition(conversationID))),
		s.BeginsWith(c.keys.sk, c.keys.messagePrefix),
	)

	// One extra item tells whether another page exists. A page may come back
	// short of Limit with a LastEvaluatedKey, so keep reading until the
	// extra item arrives or the range ends.
	var items []attr.Item
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(c.tableName),
			KeyConditionExpression:    keyCond.ExpressionPtr(),
			ExpressionAttributeNames:  s.Names(),
			ExpressionAttributeValues: s.Values(),
			ExclusiveStartKey:         start,
			ScanIndexForward:          aws.Bool(!opts.Descending),
			Limit:                     aws.Int32(int32(limit + 1 - len(items))),
		})
		if err != nil {
			return MessagePage{}, storeError("ListMessages", err)
		}
		items = append(items, out.Items...)
		if len(items) > limit || len(out.LastEvaluatedKey) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return MessagePage{}, storeError("ListMessages", err)
		}
		start = out.LastEvaluatedKey
	}

	page := MessagePage{HasMore: len(items) > limit}
	if page.HasMore {
		items = items[:limit]
	}
	page.Messages = make([]domain.ConversationMessage, 0, len(items))
	for _, item := range items {
		m, err := decodeMessage(item)
		if err != nil {
			return MessagePage{}, corrupt("message of conversation "+conversationID, err)
		}
		page.Messages = append(page.Messages, m)
	}
	if page.HasMore {
		cursor, err := EncodeCursor(c.keys.keyOf(items[len(items)-1]))
		if err != nil {
			return MessagePage{}, err
		}
		page.Cursor = cursor
	}
	return page, nil
}

// LatestMessages returns up to n of the newest messages, oldest first.
func (c *Client) LatestMessages(ctx context.Context, conversationID string, n int) ([]domain.ConversationMessage, error) {
	page, err := c.ListMessages(ctx, conversationID, ListOptions{Limit: n, Descending: true})
	if err != nil {
		return nil, err
	}
	slices.Reverse(page.Messages)
	return page.Messages, nil
}

// GetMessage reads one message by sequence number.
func (c *Client) GetMessage(ctx context.Context, conversationID string, seq int64) (domain.ConversationMessage, error) {
	if strings.TrimSpace(conversationID) == "" {
		return domain.ConversationMessage{}, invalid(CodeInvalidInput, "conversation id is required")
	}
	if seq < 1 || seq > maxSequence {
		return domain.ConversationMessage{}, invalid(CodeInvalidInput, "sequence number %d out of range", seq)
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.keys.messageKey(conversationID, seq),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ConversationMessage{}, storeError("GetMessage", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.ConversationMessage{}, notFound("message %d of conversation %q not found", seq, conversationID)
	}
	m, err := decodeMessage(out.Item)
	if err != nil {
		return domain.ConversationMessage{}, corrupt("message of conversation "+conversationID, err)
	}
	return m, nil
}
