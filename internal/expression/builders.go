package expression

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"conversation-log/internal/attr"
)

// tokenizer hands out placeholder tokens for one leaf.
type tokenizer interface {
	nameToken(name string) string
	valueToken(name, suffix string, v types.AttributeValue) string
}

// derived is the name-derived scheme: #Status / :Status. Distinct names
// always get distinct tokens: escape keeps only '_' followed by two hex digits
// in a token, and every value suffix starts with '_' and a letter outside
// a-f, so a suffixed token never equals another attribute's plain one.
type derived struct{}

func (derived) nameToken(name string) string { return "#" + escape(name) }

func (derived) valueToken(name, suffix string, _ types.AttributeValue) string {
	return ":" + escape(name) + suffix
}

// escape keeps [A-Za-z0-9] and writes every other byte as _xx (lowercase hex).
func escape(name string) string {
	const hex = "0123456789abcdef"
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0xf])
		}
	}
	return b.String()
}

// leaf accumulates one condition's tokens.
type leaf struct {
	tok    tokenizer
	names  map[string]string
	values map[string]types.AttributeValue
}

func newLeaf(tok tokenizer) *leaf {
	return &leaf{tok: tok, names: map[string]string{}}
}

func (l *leaf) name(name string) string {
	if name == "" {
		panic("expression: empty attribute name")
	}
	t := l.tok.nameToken(name)
	l.names[t] = name
	return t
}

func (l *leaf) value(name, suffix string, v types.AttributeValue) string {
	if v == nil {
		panic(fmt.Sprintf("expression: nil value for %q", name))
	}
	t := l.tok.valueToken(name, suffix, v)
	if l.values == nil {
		l.values = map[string]types.AttributeValue{}
	}
	l.values[t] = v
	return t
}

func (l *leaf) done(expr string) Condition {
	return Condition{expr: expr, names: l.names, values: l.values}
}

// conditions implements every leaf builder over one tokenizer.
type conditions struct{ tok tokenizer }

func (b conditions) compare(name string, op Operator, v types.AttributeValue) Condition {
	if !op.valid() {
		panic(fmt.Sprintf("expression: unknown operator %q", op))
	}
	l := newLeaf(b.tok)
	n := l.name(name)
	return l.done(n + " " + string(op) + " " + l.value(name, "", v))
}

func (b conditions) between(name string, lo, hi types.AttributeValue) Condition {
	l := newLeaf(b.tok)
	n := l.name(name)
	return l.done(n + " BETWEEN " + l.value(name, "_lo", lo) + " AND " + l.value(name, "_hi", hi))
}

func (b conditions) function(fn, name string, v types.AttributeValue) Condition {
	l := newLeaf(b.tok)
	n := l.name(name)
	return l.done(fn + "(" + n + ", " + l.value(name, "", v) + ")")
}

func (b conditions) exists(fn, name string) Condition {
	l := newLeaf(b.tok)
	return l.done(fn + "(" + l.name(name) + ")")
}

func (b conditions) attributeType(name, kind string) Condition {
	if !attr.ValidKind(kind) {
		panic(fmt.Sprintf("expression: unknown attribute type %q", kind))
	}
	l := newLeaf(b.tok)
	n := l.name(name)
	return l.done("attribute_type(" + n + ", " + l.value(name, "_type", attr.S(kind)) + ")")
}

func (b conditions) size(name string, op Operator, n int64) Condition {
	if !op.valid() {
		panic(fmt.Sprintf("expression: unknown operator %q", op))
	}
	l := newLeaf(b.tok)
	tok := l.name(name)
	return l.done("size(" + tok + ") " + string(op) + " " + l.value(name, "_size", attr.Int(n)))
}

func (b conditions) in(name string, vs []types.AttributeValue) Condition {
	if len(vs) == 0 {
		panic(fmt.Sprintf("expression: IN on %q needs at least one value", name))
	}
	l := newLeaf(b.tok)
	n := l.name(name)
	toks := make([]string, len(vs))
	for i, v := range vs {
		toks[i] = l.value(name, "_in"+strconv.Itoa(i), v)
	}
	return l.done(n + " IN (" + strings.Join(toks, ", ") + ")")
}

var pkg = conditions{tok: derived{}}

// Compare builds "#name op :name".
func Compare(name string, op Operator, v types.AttributeValue) Condition {
	return pkg.compare(name, op, v)
}

func Equals(name string, v types.AttributeValue) Condition {
	return pkg.compare(name, OpEqual, v)
}

func NotEquals(name string, v types.AttributeValue) Condition {
	return pkg.compare(name, OpNotEqual, v)
}

func GreaterThan(name string, v types.AttributeValue) Condition {
	return pkg.compare(name, OpGreater, v)
}

func GreaterThanOrEqual(name string, v types.AttributeValue) Condition {
	return pkg.compare(name, OpGreaterOrEqual, v)
}

func LessThan(name string, v types.AttributeValue) Condition {
	return pkg.compare(name, OpLess, v)
}

func LessThanOrEqual(name string, v types.AttributeValue) Condition {
	return pkg.compare(name, OpLessOrEqual, v)
}

// Between is inclusive on both ends.
func Between(name string, lo, hi types.AttributeValue) Condition {
	return pkg.between(name, lo, hi)
}

func BeginsWith(name, prefix string) Condition {
	return pkg.function("begins_with", name, attr.S(prefix))
}

func Contains(name string, v types.AttributeValue) Condition {
	return pkg.function("contains", name, v)
}

func NotContains(name string, v types.AttributeValue) Condition {
	c := pkg.function("contains", name, v)
	c.expr = "NOT " + c.expr
	return c
}

// Size compares size(#name) against n.
func Size(name string, op Operator, n int64) Condition { return pkg.size(name, op, n) }

func SizeEquals(name string, n int64) Condition { return pkg.size(name, OpEqual, n) }

func SizeGreaterThan(name string, n int64) Condition { return pkg.size(name, OpGreater, n) }

func SizeLessThan(name string, n int64) Condition { return pkg.size(name, OpLess, n) }

func AttributeExists(name string) Condition { return pkg.exists("attribute_exists", name) }

func AttributeNotExists(name string) Condition { return pkg.exists("attribute_not_exists", name) }

// AttributeType checks the stored type descriptor (attr.KindString, ...).
func AttributeType(name, kind string) Condition { return pkg.attributeType(name, kind) }

// In panics when vs is empty; an empty IN list has no valid rendering.
func In(name string, vs ...types.AttributeValue) Condition { return pkg.in(name, vs) }
