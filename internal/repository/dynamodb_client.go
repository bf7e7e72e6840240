package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"
)

const (
	defaultTTLAttribute = "ExpiresAt"
	defaultPageSize     = 20
	defaultMaxPageSize  = 100
	// DynamoDB accepts at most 100 items per TransactWriteItems call.
	maxTransactionItems = 100
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores conversations and their messages in one DynamoDB table.
//
// Appends derive sequence numbers from a plain read of MessageCount, so a
// conversation must have a single writer at a time. WithGuardedAppends turns
// a concurrent append into a conflict error instead of a silent overwrite.
type Client struct {
	api       dynamodbAPI
	tableName string
	keys      keyLayout

	ttlAttribute string
	ttl          time.Duration

	defaultPageSize int
	maxPageSize     int
	txLimit         int
	guarded         bool

	log   *slog.Logger
	now   func() time.Time
	newID func() string
}

// Option configures a Client.
type Option func(*Client)

// WithKeyAttributes sets the partition and sort key attribute names.
func WithKeyAttributes(pk, sk string) Option {
	return func(c *Client) { c.keys.pk, c.keys.sk = pk, sk }
}

func WithPartitionPrefix(prefix string) Option {
	return func(c *Client) { c.keys.partitionPrefix = prefix }
}

func WithMetadataSortKey(sk string) Option {
	return func(c *Client) { c.keys.metadataSK = sk }
}

func WithMessagePrefix(prefix string) Option {
	return func(c *Client) { c.keys.messagePrefix = prefix }
}

// WithTTL stores an absolute expiry (epoch seconds) in attribute. New
// conversations expire after d unless CreateInput.ExpiresAt says otherwise;
// messages copy their conversation's expiry. d may be zero to only honor
// explicit expiries.
func WithTTL(attribute string, d time.Duration) Option {
	return func(c *Client) { c.ttlAttribute, c.ttl = attribute, d }
}

func WithDefaultPageSize(n int) Option {
	return func(c *Client) { c.defaultPageSize = n }
}

func WithMaxPageSize(n int) Option {
	return func(c *Client) { c.maxPageSize = n }
}

// WithTransactionLimit caps the items per transaction, bounding both append
// size and delete batch size.
func WithTransactionLimit(n int) Option {
	return func(c *Client) { c.txLimit = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(c *Client) { c.newID = gen }
}

// WithGuardedAppends makes every append check that no message item exists
// at the assigned sequence numbers and that MessageCount is unchanged.
func WithGuardedAppends() Option {
	return func(c *Client) { c.guarded = true }
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{
		api:             api,
		tableName:       tableName,
		keys:            defaultKeys(),
		ttlAttribute:    defaultTTLAttribute,
		defaultPageSize: defaultPageSize,
		maxPageSize:     defaultMaxPageSize,
		txLimit:         maxTransactionItems,
		log:             slog.Default(),
		now:             time.Now,
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("repository: %w", err)
	}
	return c, nil
}

func (c *Client) validate() error {
	switch {
	case c.keys.pk == "" || c.keys.sk == "":
		return errors.New("key attribute names must not be empty")
	case c.keys.pk == c.keys.sk:
		return errors.New("partition and sort key attributes must differ")
	case c.keys.metadataSK == "":
		return errors.New("metadata sort key must not be empty")
	case c.keys.messagePrefix == "":
		return errors.New("message prefix must not be empty")
	case strings.HasPrefix(c.keys.metadataSK, c.keys.messagePrefix):
		return errors.New("metadata sort key must not start with the message prefix")
	case c.ttlAttribute == "":
		return errors.New("ttl attribute must not be empty")
	case c.ttl < 0:
		return errors.New("ttl must not be negative")
	case c.defaultPageSize <= 0 || c.maxPageSize <= 0:
		return errors.New("page sizes must be positive")
	case c.defaultPageSize > c.maxPageSize:
		return fmt.Errorf("default page size %d exceeds max %d", c.defaultPageSize, c.maxPageSize)
	case c.txLimit < 2 || c.txLimit > maxTransactionItems:
		return fmt.Errorf("transaction limit must be within [2, %d], got %d", maxTransactionItems, c.txLimit)
	case c.log == nil || c.now == nil || c.newID == nil:
		return errors.New("logger, clock and id generator must not be nil")
	}
	return nil
}

// timestamp returns the current time at the one-second resolution stored in
// CreatedAt and UpdatedAt.
func (c *Client) timestamp() time.Time {
	return time.Unix(c.now().Unix(), 0).UTC()
}

func (c *Client) clampPageSize(n int) int {
	switch {
	case n <= 0:
		return c.defaultPageSize
	case n > c.maxPageSize:
		return c.maxPageSize
	}
	return n
}
