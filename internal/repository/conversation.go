package repository

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"conversation-log/internal/attr"
	"conversation-log/internal/domain"
	"conversation-log/internal/expression"
)

// CreateInput describes a new conversation. ExpiresAt overrides the
// client's TTL duration.
type CreateInput struct {
	Metadata  domain.Metadata
	ExpiresAt *time.Time
}

// MetadataUpdate changes only the fields that are non-nil. An empty Title or
// ModelID, or empty Tags or CustomData, removes the attribute.
type MetadataUpdate struct {
	Title      *string
	ModelID    *string
	Tags       *[]string
	CustomData *map[string]string
}

// CreateConversation writes a new metadata record with MessageCount 0.
func (c *Client) CreateConversation(ctx context.Context, in CreateInput) (domain.Conversation, error) {
	now := c.timestamp()
	conv := domain.Conversation{
		ID:        c.newID(),
		CreatedAt: now,
		UpdatedAt: now,
		Metadata: domain.Metadata{
			Title:      strings.TrimSpace(in.Metadata.Title),
			ModelID:    strings.TrimSpace(in.Metadata.ModelID),
			Tags:       normalizeTags(in.Metadata.Tags),
			CustomData: maps.Clone(in.Metadata.CustomData),
		},
	}
	if conv.ID == "" {
		return domain.Conversation{}, invalid(CodeInvalidInput, "generated conversation id is empty")
	}
	if len(conv.Metadata.Tags) == 0 {
		conv.Metadata.Tags = nil
	}
	if len(conv.Metadata.CustomData) == 0 {
		conv.Metadata.CustomData = nil
	}
	switch {
	case in.ExpiresAt != nil:
		exp := time.Unix(in.ExpiresAt.Unix(), 0).UTC()
		conv.ExpiresAt = &exp
	case c.ttl > 0:
		exp := now.Add(c.ttl)
		conv.ExpiresAt = &exp
	}

	guard := expression.AttributeNotExists(c.keys.pk)
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(c.tableName),
		Item:                     c.conversationItem(conv),
		ConditionExpression:      guard.ExpressionPtr(),
		ExpressionAttributeNames: guard.Names(),
	})
	if err != nil {
		if isConditionFailed(err) {
			return domain.Conversation{}, &Error{Kind: KindFailure, Code: CodeConditionFailed, Message: "conversation " + conv.ID + " already exists", Err: err}
		}
		return domain.Conversation{}, storeError("CreateConversation", err)
	}
	return conv, nil
}

// GetConversation reads the metadata record with a consistent read.
func (c *Client) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Conversation{}, invalid(CodeInvalidInput, "conversation id is required")
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.keys.metadataKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, storeError("GetConversation", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{}, notFound("conversation %q not found", id)
	}
	conv, err := c.decodeConversation(out.Item)
	if err != nil {
		return domain.Conversation{}, corrupt("conversation "+id, err)
	}
	return conv, nil
}

// UpdateMetadata applies a partial metadata update and returns the stored
// result. UpdatedAt is always bumped.
func (c *Client) UpdateMetadata(ctx context.Context, id string, in MetadataUpdate) (domain.Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Conversation{}, invalid(CodeInvalidInput, "conversation id is required")
	}
	u := expression.NewUpdate()
	setOrRemove := func(name string, v *string) {
		if v == nil {
			return
		}
		if s := strings.TrimSpace(*v); s != "" {
			u.Set(name, attr.S(s))
		} else {
			u.Remove(name)
		}
	}
	setOrRemove(attrTitle, in.Title)
	setOrRemove(attrModelID, in.ModelID)
	if in.Tags != nil {
		if tags := normalizeTags(*in.Tags); len(tags) > 0 {
			u.Set(attrTags, attr.SS(tags...))
		} else {
			u.Remove(attrTags)
		}
	}
	if in.CustomData != nil {
		if len(*in.CustomData) > 0 {
			u.Set(attrCustomData, attr.StringMap(*in.CustomData))
		} else {
			u.Remove(attrCustomData)
		}
	}
	u.Set(attrUpdatedAt, attr.Int(c.timestamp().Unix()))
	guard := u.Session().AttributeExists(c.keys.pk)

	upd, err := u.Build()
	if err != nil {
		return domain.Conversation{}, &Error{Kind: KindValidation, Code: CodeInvalidInput, Message: "build metadata update", Err: err}
	}
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       c.keys.metadataKey(id),
		UpdateExpression:          aws.String(upd.Expression),
		ConditionExpression:       guard.ExpressionPtr(),
		ExpressionAttributeNames:  u.Session().Names(),
		ExpressionAttributeValues: u.Session().Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return domain.Conversation{}, notFound("conversation %q not found", id)
		}
		return domain.Conversation{}, storeError("UpdateMetadata", err)
	}
	conv, err := c.decodeConversation(out.Attributes)
	if err != nil {
		return domain.Conversation{}, corrupt("conversation "+id, err)
	}
	return conv, nil
}

// DeleteConversation removes the metadata record and every message. Items
// are deleted in transactions of at most the transaction limit; these
// batches are not atomic together. When a later batch fails the returned
// Error has code PARTIAL_DELETE and wraps a *PartialDeleteError. Deleting
// again resumes, since removing an absent key is a no-op.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid(CodeInvalidInput, "conversation id is required")
	}
	keys, err := c.collectKeys(ctx, id)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return notFound("conversation %q not found", id)
	}

	deleted := 0
	for start := 0; start < len(keys); start += c.txLimit {
		batch := keys[start:min(start+c.txLimit, len(keys))]
		err := ctx.Err()
		if err == nil {
			err = c.deleteBatch(ctx, batch)
		}
		if err != nil {
			if deleted == 0 {
				return storeError("DeleteConversation", err)
			}
			c.log.Warn("conversation partially deleted",
				"conversation_id", id, "deleted", deleted, "remaining", len(keys)-deleted, "err", err)
			return &Error{
				Kind:    KindFailure,
				Code:    CodePartialDelete,
				Message: "conversation " + id + " partially deleted",
				Err: &PartialDeleteError{
					ConversationID: id,
					Deleted:        deleted,
					Remaining:      len(keys) - deleted,
					Err:            err,
				},
			}
		}
		deleted += len(batch)
		c.log.Debug("deleted conversation batch", "conversation_id", id, "deleted", deleted, "total", len(keys))
	}
	return nil
}

// collectKeys pages through the whole partition reading only key attributes.
// The metadata key is moved last so the conversation stays readable until
// every message is gone.
func (c *Client) collectKeys(ctx context.Context, id string) ([]attr.Item, error) {
	s := expression.NewSession()
	keyCond := s.Equals(c.keys.pk, attr.S(c.keys.partition(id)))
	projection := s.Name(c.keys.pk) + ", " + s.Name(c.keys.sk)

	var keys []attr.Item
	var meta attr.Item
	var start attr.Item
	for {
		if err := ctx.Err(); err != nil {
			return nil, storeError("DeleteConversation", err)
		}
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(c.tableName),
			KeyConditionExpression:    keyCond.ExpressionPtr(),
			ProjectionExpression:      aws.String(projection),
			ExpressionAttributeNames:  s.Names(),
			ExpressionAttributeValues: s.Values(),
			ExclusiveStartKey:         start,
			ConsistentRead:            aws.Bool(true),
		})
		if err != nil {
			return nil, storeError("DeleteConversation", err)
		}
		for _, item := range out.Items {
			key := c.keys.keyOf(item)
			if c.keys.isMetadata(key) {
				meta = key
				continue
			}
			keys = append(keys, key)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}
	if meta != nil {
		keys = append(keys, meta)
	}
	return keys, nil
}

func (c *Client) deleteBatch(ctx context.Context, keys []attr.Item) error {
	items := make([]types.TransactWriteItem, len(keys))
	for i, key := range keys {
		items[i] = types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(c.tableName),
				Key:       key,
			},
		}
	}
	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return err
}
