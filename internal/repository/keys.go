package repository

import (
	"errors"
	"fmt"
	"strings"

	"conversation-log/internal/attr"
)

const (
	defaultPartitionPrefix = "Conversation#"
	defaultMetadataSK      = "_"
	defaultMessagePrefix   = "message#"

	// Sequence numbers are zero padded to this width so that sort key order
	// equals sequence order.
	sequenceWidth = 10
	maxSequence   = 9_999_999_999
)

// keyLayout places a conversation in one partition: a metadata record under
// a reserved sort key and one record per message under prefix+sequence.
type keyLayout struct {
	pk, sk          string
	partitionPrefix string
	metadataSK      string
	messagePrefix   string
}

func defaultKeys() keyLayout {
	return keyLayout{
		pk:              "PK",
		sk:              "SK",
		partitionPrefix: defaultPartitionPrefix,
		metadataSK:      defaultMetadataSK,
		messagePrefix:   defaultMessagePrefix,
	}
}

func (k keyLayout) partition(conversationID string) string {
	return k.partitionPrefix + conversationID
}

func (k keyLayout) messageSK(seq int64) string {
	return fmt.Sprintf("%s%0*d", k.messagePrefix, sequenceWidth, seq)
}

func (k keyLayout) key(conversationID, sk string) attr.Item {
	return attr.Item{
		k.pk: attr.S(k.partition(conversationID)),
		k.sk: attr.S(sk),
	}
}

func (k keyLayout) metadataKey(conversationID string) attr.Item {
	return k.key(conversationID, k.metadataSK)
}

func (k keyLayout) messageKey(conversationID string, seq int64) attr.Item {
	return k.key(conversationID, k.messageSK(seq))
}

// keyOf copies the primary key attributes of item.
func (k keyLayout) keyOf(item attr.Item) attr.Item {
	return attr.Item{k.pk: item[k.pk], k.sk: item[k.sk]}
}

// isMetadata reports whether key addresses a metadata record.
func (k keyLayout) isMetadata(key attr.Item) bool {
	sk, err := attr.String(key, k.sk)
	return err == nil && sk == k.metadataSK
}

// checkMessageKey verifies that key is a message key of conversationID.
func (k keyLayout) checkMessageKey(conversationID string, key attr.Item) error {
	if len(key) != 2 {
		return fmt.Errorf("want exactly %q and %q, got %d attributes", k.pk, k.sk, len(key))
	}
	pk, err := attr.String(key, k.pk)
	if err != nil {
		return err
	}
	if pk != k.partition(conversationID) {
		return errors.New("cursor belongs to another conversation")
	}
	sk, err := attr.String(key, k.sk)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(sk, k.messagePrefix) {
		return errors.New("cursor does not address a message")
	}
	return nil
}
