package attr

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// MarshalJSON encodes item in the DynamoDB wire JSON shape, e.g.
// {"PK":{"S":"Conversation#1"},"SK":{"S":"_"}}. Keys are emitted sorted.
func MarshalJSON(item Item) ([]byte, error) {
	wire := make(map[string]any, len(item))
	for k, v := range item {
		w, err := toWire(v)
		if err != nil {
			return nil, fmt.Errorf("attr: encode %q: %w", k, err)
		}
		wire[k] = w
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the shape produced by MarshalJSON. Every value must
// carry exactly one type descriptor.
func UnmarshalJSON(data []byte) (Item, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("attr: decode item: %w", err)
	}
	if raw == nil {
		return nil, errors.New("attr: decode item: not an object")
	}
	item := make(Item, len(raw))
	for k, r := range raw {
		v, err := fromWire(r)
		if err != nil {
			return nil, fmt.Errorf("attr: decode %q: %w", k, err)
		}
		item[k] = v
	}
	return item, nil
}

func toWire(v types.AttributeValue) (map[string]any, error) {
	switch m := v.(type) {
	case *types.AttributeValueMemberS:
		return map[string]any{KindString: m.Value}, nil
	case *types.AttributeValueMemberN:
		return map[string]any{KindNumber: m.Value}, nil
	case *types.AttributeValueMemberB:
		return map[string]any{KindBinary: m.Value}, nil
	case *types.AttributeValueMemberSS:
		return map[string]any{KindStringSet: nonNil(m.Value)}, nil
	case *types.AttributeValueMemberNS:
		return map[string]any{KindNumberSet: nonNil(m.Value)}, nil
	case *types.AttributeValueMemberBS:
		bs := m.Value
		if bs == nil {
			bs = [][]byte{}
		}
		return map[string]any{KindBinarySet: bs}, nil
	case *types.AttributeValueMemberM:
		out := make(map[string]any, len(m.Value))
		for k, mv := range m.Value {
			w, err := toWire(mv)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = w
		}
		return map[string]any{KindMap: out}, nil
	case *types.AttributeValueMemberL:
		out := make([]any, len(m.Value))
		for i, lv := range m.Value {
			w, err := toWire(lv)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = w
		}
		return map[string]any{KindList: out}, nil
	case *types.AttributeValueMemberBOOL:
		return map[string]any{KindBool: m.Value}, nil
	case *types.AttributeValueMemberNULL:
		return map[string]any{KindNull: true}, nil
	default:
		return nil, fmt.Errorf("unsupported attribute value %T", v)
	}
}

func fromWire(data json.RawMessage) (types.AttributeValue, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw) != 1 {
		return nil, fmt.Errorf("want exactly one type descriptor, got %d", len(raw))
	}
	for kind, body := range raw {
		switch kind {
		case KindString:
			var s string
			if err := json.Unmarshal(body, &s); err != nil {
				return nil, err
			}
			return S(s), nil
		case KindNumber:
			var s string
			if err := json.Unmarshal(body, &s); err != nil {
				return nil, err
			}
			if !validNumber(s) {
				return nil, fmt.Errorf("%q is not a decimal number", s)
			}
			return &types.AttributeValueMemberN{Value: s}, nil
		case KindBinary:
			var b []byte
			if err := json.Unmarshal(body, &b); err != nil {
				return nil, err
			}
			return B(b), nil
		case KindStringSet:
			var ss []string
			if err := json.Unmarshal(body, &ss); err != nil {
				return nil, err
			}
			return SS(ss...), nil
		case KindNumberSet:
			var ns []string
			if err := json.Unmarshal(body, &ns); err != nil {
				return nil, err
			}
			for _, n := range ns {
				if !validNumber(n) {
					return nil, fmt.Errorf("%q is not a decimal number", n)
				}
			}
			return &types.AttributeValueMemberNS{Value: ns}, nil
		case KindBinarySet:
			var bs [][]byte
			if err := json.Unmarshal(body, &bs); err != nil {
				return nil, err
			}
			return BS(bs...), nil
		case KindMap:
			var members map[string]json.RawMessage
			if err := json.Unmarshal(body, &members); err != nil {
				return nil, err
			}
			out := make(map[string]types.AttributeValue, len(members))
			for k, mv := range members {
				v, err := fromWire(mv)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", k, err)
				}
				out[k] = v
			}
			return M(out), nil
		case KindList:
			var members []json.RawMessage
			if err := json.Unmarshal(body, &members); err != nil {
				return nil, err
			}
			out := make([]types.AttributeValue, len(members))
			for i, lv := range members {
				v, err := fromWire(lv)
				if err != nil {
					return nil, fmt.Errorf("[%d]: %w", i, err)
				}
				out[i] = v
			}
			return L(out...), nil
		case KindBool:
			var b bool
			if err := json.Unmarshal(body, &b); err != nil {
				return nil, err
			}
			return Bool(b), nil
		case KindNull:
			return Null(), nil
		default:
			return nil, fmt.Errorf("unknown type descriptor %q", kind)
		}
	}
	return nil, errors.New("unreachable")
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
