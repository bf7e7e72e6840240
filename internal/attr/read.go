package attr

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	// ErrMissing is wrapped by readers when a required attribute is absent.
	ErrMissing = errors.New("attr: missing attribute")
	// ErrType is wrapped by readers when an attribute has the wrong member type.
	ErrType = errors.New("attr: unexpected attribute type")
)

// Item is a stored record keyed by attribute name.
type Item = map[string]types.AttributeValue

func String(item Item, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrMissing, key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("%w: %q is %s, want S", ErrType, key, describe(v))
	}
	return s.Value, nil
}

// OptionalString returns "" when key is absent.
func OptionalString(item Item, key string) (string, error) {
	if _, ok := item[key]; !ok {
		return "", nil
	}
	return String(item, key)
}

func Int64(item Item, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrMissing, key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("%w: %q is %s, want N", ErrType, key, describe(v))
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse %q: %v", ErrType, key, err)
	}
	return parsed, nil
}

// OptionalInt64 reports ok=false when key is absent.
func OptionalInt64(item Item, key string) (int64, bool, error) {
	if _, ok := item[key]; !ok {
		return 0, false, nil
	}
	n, err := Int64(item, key)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// StringSet returns nil when key is absent.
func StringSet(item Item, key string) ([]string, error) {
	v, ok := item[key]
	if !ok {
		return nil, nil
	}
	ss, ok := v.(*types.AttributeValueMemberSS)
	if !ok {
		return nil, fmt.Errorf("%w: %q is %s, want SS", ErrType, key, describe(v))
	}
	return append([]string(nil), ss.Value...), nil
}

// StringMapOf decodes an M of S members. It returns nil when key is absent.
func StringMapOf(item Item, key string) (map[string]string, error) {
	v, ok := item[key]
	if !ok {
		return nil, nil
	}
	m, ok := v.(*types.AttributeValueMemberM)
	if !ok {
		return nil, fmt.Errorf("%w: %q is %s, want M", ErrType, key, describe(v))
	}
	out := make(map[string]string, len(m.Value))
	for k, mv := range m.Value {
		s, ok := mv.(*types.AttributeValueMemberS)
		if !ok {
			return nil, fmt.Errorf("%w: %q.%s is %s, want S", ErrType, key, k, describe(mv))
		}
		out[k] = s.Value
	}
	return out, nil
}

// List returns the members of an L attribute, or nil when key is absent.
func List(item Item, key string) ([]types.AttributeValue, error) {
	v, ok := item[key]
	if !ok {
		return nil, nil
	}
	l, ok := v.(*types.AttributeValueMemberL)
	if !ok {
		return nil, fmt.Errorf("%w: %q is %s, want L", ErrType, key, describe(v))
	}
	return l.Value, nil
}

func describe(v types.AttributeValue) string {
	if k := Kind(v); k != "" {
		return k
	}
	return fmt.Sprintf("%T", v)
}
