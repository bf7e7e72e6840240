package expression

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"conversation-log/internal/attr"
)

// ErrEmptyUpdate is returned by Build when no clause was added.
var ErrEmptyUpdate = errors.New("expression: update has no clauses")

// Update is a compiled update expression. Names and Values hold only the
// tokens the update itself references.
type Update struct {
	Expression string
	Names      map[string]string
	Values     map[string]types.AttributeValue
}

// UpdateBuilder accumulates SET, REMOVE, ADD and DELETE clauses. Methods
// chain; the first invalid call is remembered and reported by Build.
type UpdateBuilder struct {
	sess   *Session
	set    []string
	remove []string
	add    []string
	del    []string
	names  map[string]string
	values map[string]types.AttributeValue
	err    error
}

// NewUpdate starts an update with its own session.
func NewUpdate() *UpdateBuilder { return NewSession().Update() }

// Session returns the session backing u, for building a condition that
// travels with the update.
func (u *UpdateBuilder) Session() *Session { return u.sess }

// Err reports the first recorded error.
func (u *UpdateBuilder) Err() error { return u.err }

func (u *UpdateBuilder) fail(format string, args ...any) *UpdateBuilder {
	if u.err == nil {
		u.err = fmt.Errorf("expression: "+format, args...)
	}
	return u
}

func (u *UpdateBuilder) name(name string) (string, bool) {
	if name == "" {
		u.fail("empty attribute name")
		return "", false
	}
	t := u.sess.Name(name)
	u.names[t] = name
	return t, true
}

func (u *UpdateBuilder) value(v types.AttributeValue) (string, bool) {
	if v == nil {
		u.fail("nil value")
		return "", false
	}
	t := u.sess.Value(v)
	u.values[t] = v
	return t, true
}

func (u *UpdateBuilder) path(path string) (string, bool) {
	if u.err != nil {
		return "", false
	}
	p, err := compilePath(path, func(n string) string {
		t, _ := u.name(n)
		return t
	})
	if err != nil {
		u.err = err
		return "", false
	}
	return p, true
}

// Set assigns v to name.
func (u *UpdateBuilder) Set(name string, v types.AttributeValue) *UpdateBuilder {
	n, ok := u.name(name)
	if !ok {
		return u
	}
	if val, ok := u.value(v); ok {
		u.set = append(u.set, n+" = "+val)
	}
	return u
}

// SetExpression assigns a raw right-hand side. rhs may reference the
// caller's own tokens, supplied in names and values, and "#self" for the
// target attribute.
func (u *UpdateBuilder) SetExpression(name, rhs string, names map[string]string, values map[string]types.AttributeValue) *UpdateBuilder {
	n, ok := u.name(name)
	if !ok {
		return u
	}
	if strings.TrimSpace(rhs) == "" {
		return u.fail("empty expression for %q", name)
	}
	if err := u.sess.bind(names, values); err != nil {
		if u.err == nil {
			u.err = err
		}
		return u
	}
	maps.Copy(u.names, names)
	maps.Copy(u.values, values)
	u.set = append(u.set, n+" = "+strings.ReplaceAll(rhs, "#self", n))
	return u
}

// SetIfNotExists assigns def only when name is absent.
func (u *UpdateBuilder) SetIfNotExists(name string, def types.AttributeValue) *UpdateBuilder {
	n, ok := u.name(name)
	if !ok {
		return u
	}
	if val, ok := u.value(def); ok {
		u.set = append(u.set, n+" = if_not_exists("+n+", "+val+")")
	}
	return u
}

// AppendToList appends items to the list stored at name.
func (u *UpdateBuilder) AppendToList(name string, items ...types.AttributeValue) *UpdateBuilder {
	n, ok := u.name(name)
	if !ok {
		return u
	}
	if val, ok := u.value(attr.L(items...)); ok {
		u.set = append(u.set, n+" = list_append("+n+", "+val+")")
	}
	return u
}

// PrependToList inserts items at the head of the list stored at name.
func (u *UpdateBuilder) PrependToList(name string, items ...types.AttributeValue) *UpdateBuilder {
	n, ok := u.name(name)
	if !ok {
		return u
	}
	if val, ok := u.value(attr.L(items...)); ok {
		u.set = append(u.set, n+" = list_append("+val+", "+n+")")
	}
	return u
}

func (u *UpdateBuilder) arithmetic(name, op string, delta types.AttributeValue) *UpdateBuilder {
	n, ok := u.name(name)
	if !ok {
		return u
	}
	if val, ok := u.value(delta); ok {
		u.set = append(u.set, n+" = "+n+" "+op+" "+val)
	}
	return u
}

// Increment adds by to an existing number; the update fails in the store
// when name is absent. Use Add or IncrementFrom to create on first write.
func (u *UpdateBuilder) Increment(name string, by int64) *UpdateBuilder {
	return u.arithmetic(name, "+", attr.Int(by))
}

func (u *UpdateBuilder) IncrementFloat(name string, by float64) *UpdateBuilder {
	return u.arithmetic(name, "+", attr.Float(by))
}

func (u *UpdateBuilder) Decrement(name string, by int64) *UpdateBuilder {
	return u.arithmetic(name, "-", attr.Int(by))
}

func (u *UpdateBuilder) DecrementFloat(name string, by float64) *UpdateBuilder {
	return u.arithmetic(name, "-", attr.Float(by))
}

// IncrementFrom initializes name to start when absent, then adds delta.
func (u *UpdateBuilder) IncrementFrom(name string, start, delta int64) *UpdateBuilder {
	n, ok := u.name(name)
	if !ok {
		return u
	}
	s, ok := u.value(attr.Int(start))
	if !ok {
		return u
	}
	if d, ok := u.value(attr.Int(delta)); ok {
		u.set = append(u.set, n+" = if_not_exists("+n+", "+s+") + "+d)
	}
	return u
}

// SetListElement assigns v to name[index].
func (u *UpdateBuilder) SetListElement(name string, index int, v types.AttributeValue) *UpdateBuilder {
	if index < 0 {
		return u.fail("negative list index %d for %q", index, name)
	}
	n, ok := u.name(name)
	if !ok {
		return u
	}
	if val, ok := u.value(v); ok {
		u.set = append(u.set, n+"["+strconv.Itoa(index)+"] = "+val)
	}
	return u
}

// SetPath assigns v to a nested document path such as "Settings.Rules[2]".
func (u *UpdateBuilder) SetPath(path string, v types.AttributeValue) *UpdateBuilder {
	p, ok := u.path(path)
	if !ok {
		return u
	}
	if val, ok := u.value(v); ok {
		u.set = append(u.set, p+" = "+val)
	}
	return u
}

// Remove deletes whole attributes.
func (u *UpdateBuilder) Remove(names ...string) *UpdateBuilder {
	for _, name := range names {
		n, ok := u.name(name)
		if !ok {
			return u
		}
		u.remove = append(u.remove, n)
	}
	return u
}

// RemoveListElement deletes name[index], shifting later elements down.
func (u *UpdateBuilder) RemoveListElement(name string, index int) *UpdateBuilder {
	if index < 0 {
		return u.fail("negative list index %d for %q", index, name)
	}
	n, ok := u.name(name)
	if !ok {
		return u
	}
	u.remove = append(u.remove, n+"["+strconv.Itoa(index)+"]")
	return u
}

func (u *UpdateBuilder) RemovePath(path string) *UpdateBuilder {
	if p, ok := u.path(path); ok {
		u.remove = append(u.remove, p)
	}
	return u
}

// Add adds a number (creating the attribute at zero when absent) or unions a
// set into name.
func (u *UpdateBuilder) Add(name string, v types.AttributeValue) *UpdateBuilder {
	switch attr.Kind(v) {
	case attr.KindNumber, attr.KindStringSet, attr.KindNumberSet, attr.KindBinarySet:
	default:
		return u.fail("ADD %q needs a number or set, got %q", name, attr.Kind(v))
	}
	n, ok := u.name(name)
	if !ok {
		return u
	}
	if val, ok := u.value(v); ok {
		u.add = append(u.add, n+" "+val)
	}
	return u
}

// Delete removes the elements of set from the set stored at name.
func (u *UpdateBuilder) Delete(name string, set types.AttributeValue) *UpdateBuilder {
	switch attr.Kind(set) {
	case attr.KindStringSet, attr.KindNumberSet, attr.KindBinarySet:
	default:
		return u.fail("DELETE %q needs a set, got %q", name, attr.Kind(set))
	}
	n, ok := u.name(name)
	if !ok {
		return u
	}
	if val, ok := u.value(set); ok {
		u.del = append(u.del, n+" "+val)
	}
	return u
}

// IsEmpty reports whether no clause has been added.
func (u *UpdateBuilder) IsEmpty() bool {
	return len(u.set)+len(u.remove)+len(u.add)+len(u.del) == 0
}

// Build renders SET, REMOVE, ADD and DELETE in that order, omitting empty
// categories.
func (u *UpdateBuilder) Build() (Update, error) {
	if u.err != nil {
		return Update{}, u.err
	}
	if u.IsEmpty() {
		return Update{}, ErrEmptyUpdate
	}
	parts := make([]string, 0, 4)
	for _, c := range []struct {
		keyword string
		clauses []string
	}{
		{"SET", u.set},
		{"REMOVE", u.remove},
		{"ADD", u.add},
		{"DELETE", u.del},
	} {
		if len(c.clauses) > 0 {
			parts = append(parts, c.keyword+" "+strings.Join(c.clauses, ", "))
		}
	}
	out := Update{Expression: strings.Join(parts, " ")}
	if len(u.names) > 0 {
		out.Names = maps.Clone(u.names)
	}
	if len(u.values) > 0 {
		out.Values = maps.Clone(u.values)
	}
	return out, nil
}
