package repository

import (
	"encoding/base64"

	"conversation-log/internal/attr"
)

// EncodeCursor turns a continuation key into an opaque cursor: base64 of the
// key's DynamoDB JSON.
func EncodeCursor(key attr.Item) (string, error) {
	if len(key) == 0 {
		return "", invalid(CodeInvalidCursor, "empty continuation key")
	}
	raw, err := attr.MarshalJSON(key)
	if err != nil {
		return "", &Error{Kind: KindValidation, Code: CodeInvalidCursor, Message: "encode cursor", Err: err}
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeCursor reverses EncodeCursor. Malformed input is a validation error.
func DecodeCursor(cursor string) (attr.Item, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Code: CodeInvalidCursor, Message: "cursor is not base64", Err: err}
	}
	key, err := attr.UnmarshalJSON(raw)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Code: CodeInvalidCursor, Message: "cursor is not a key", Err: err}
	}
	if len(key) == 0 {
		return nil, invalid(CodeInvalidCursor, "cursor key is empty")
	}
	return key, nil
}
