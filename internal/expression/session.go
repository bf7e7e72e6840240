package expression

import (
	"fmt"
	"maps"
	"reflect"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Session allocates numbered placeholders for one request. A name registered
// twice gets the same #token; every value gets a fresh :token. Conditions and
// update clauses built from the same Session can be sent together without
// token collisions.
//
// A Session is not safe for concurrent use.
type Session struct {
	names     map[string]string // token -> attribute name
	tokens    map[string]string // attribute name -> token
	values    map[string]types.AttributeValue
	nextName  int
	nextValue int
}

func NewSession() *Session {
	return &Session{
		names:  map[string]string{},
		tokens: map[string]string{},
		values: map[string]types.AttributeValue{},
	}
}

// Name returns the token for name, registering it on first use.
func (s *Session) Name(name string) string {
	if name == "" {
		panic("expression: empty attribute name")
	}
	if t, ok := s.tokens[name]; ok {
		return t
	}
	t := "#n" + strconv.Itoa(s.nextName)
	s.nextName++
	s.names[t] = name
	s.tokens[name] = t
	return t
}

// Value returns a fresh token bound to v.
func (s *Session) Value(v types.AttributeValue) string {
	if v == nil {
		panic("expression: nil value")
	}
	t := ":v" + strconv.Itoa(s.nextValue)
	s.nextValue++
	s.values[t] = v
	return t
}

// Names returns a copy of every name registered so far, or nil.
func (s *Session) Names() map[string]string {
	if len(s.names) == 0 {
		return nil
	}
	return maps.Clone(s.names)
}

// Values returns a copy of every value registered so far, or nil.
func (s *Session) Values() map[string]types.AttributeValue {
	if len(s.values) == 0 {
		return nil
	}
	return maps.Clone(s.values)
}

// bind registers caller-chosen tokens. A token already bound to something
// else is an error.
func (s *Session) bind(names map[string]string, values map[string]types.AttributeValue) error {
	for t, n := range names {
		if !strings.HasPrefix(t, "#") {
			return fmt.Errorf("expression: name token %q must start with '#'", t)
		}
		if cur, ok := s.names[t]; ok && cur != n {
			return fmt.Errorf("expression: name token %q already bound to %q", t, cur)
		}
	}
	for t, v := range values {
		if !strings.HasPrefix(t, ":") {
			return fmt.Errorf("expression: value token %q must start with ':'", t)
		}
		if cur, ok := s.values[t]; ok && !reflect.DeepEqual(cur, v) {
			return fmt.Errorf("expression: value token %q already bound", t)
		}
	}
	for t, n := range names {
		s.names[t] = n
		if _, ok := s.tokens[n]; !ok {
			s.tokens[n] = t
		}
	}
	maps.Copy(s.values, values)
	return nil
}

type sessionTokens struct{ s *Session }

func (t sessionTokens) nameToken(name string) string { return t.s.Name(name) }

func (t sessionTokens) valueToken(_, _ string, v types.AttributeValue) string {
	return t.s.Value(v)
}

func (s *Session) conditions() conditions { return conditions{tok: sessionTokens{s}} }

// Condition re-tokenizes a condition built elsewhere (typically with the
// name-derived package builders) into this session.
func (s *Session) Condition(c Condition) Condition {
	if c.IsEmpty() {
		return c
	}
	l := newLeaf(sessionTokens{s})
	var b strings.Builder
	expr := c.expr
	for i := 0; i < len(expr); {
		ch := expr[i]
		if ch != '#' && ch != ':' {
			b.WriteByte(ch)
			i++
			continue
		}
		j := i + 1
		for j < len(expr) && isTokenChar(expr[j]) {
			j++
		}
		tok := expr[i:j]
		switch {
		case ch == '#' && c.names[tok] != "":
			b.WriteString(l.name(c.names[tok]))
		case ch == ':' && c.values[tok] != nil:
			b.WriteString(l.value("", "", c.values[tok]))
		default:
			b.WriteString(tok)
		}
		i = j
	}
	return l.done(b.String())
}

func isTokenChar(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// Update starts an update builder that shares this session.
func (s *Session) Update() *UpdateBuilder {
	return &UpdateBuilder{sess: s, names: map[string]string{}, values: map[string]types.AttributeValue{}}
}

func (s *Session) Compare(name string, op Operator, v types.AttributeValue) Condition {
	return s.conditions().compare(name, op, v)
}

func (s *Session) Equals(name string, v types.AttributeValue) Condition {
	return s.conditions().compare(name, OpEqual, v)
}

func (s *Session) NotEquals(name string, v types.AttributeValue) Condition {
	return s.conditions().compare(name, OpNotEqual, v)
}

func (s *Session) GreaterThan(name string, v types.AttributeValue) Condition {
	return s.conditions().compare(name, OpGreater, v)
}

func (s *Session) LessThan(name string, v types.AttributeValue) Condition {
	return s.conditions().compare(name, OpLess, v)
}

func (s *Session) Between(name string, lo, hi types.AttributeValue) Condition {
	return s.conditions().between(name, lo, hi)
}

func (s *Session) BeginsWith(name, prefix string) Condition {
	return s.conditions().function("begins_with", name, &types.AttributeValueMemberS{Value: prefix})
}

func (s *Session) Contains(name string, v types.AttributeValue) Condition {
	return s.conditions().function("contains", name, v)
}

func (s *Session) NotContains(name string, v types.AttributeValue) Condition {
	c := s.conditions().function("contains", name, v)
	c.expr = "NOT " + c.expr
	return c
}

func (s *Session) Size(name string, op Operator, n int64) Condition {
	return s.conditions().size(name, op, n)
}

func (s *Session) AttributeExists(name string) Condition {
	return s.conditions().exists("attribute_exists", name)
}

func (s *Session) AttributeNotExists(name string) Condition {
	return s.conditions().exists("attribute_not_exists", name)
}

func (s *Session) AttributeType(name, kind string) Condition {
	return s.conditions().attributeType(name, kind)
}

func (s *Session) In(name string, vs ...types.AttributeValue) Condition {
	return s.conditions().in(name, vs)
}
