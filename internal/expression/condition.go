// Package expression compiles conditions and update clauses into DynamoDB's
// expression language.
//
// Attribute names and values never appear in expression text. Every name is
// replaced by a #token and every value by a :token, and the substitution maps
// travel alongside the expression.
//
// Two token schemes exist. The package-level builders derive tokens from the
// attribute name (#Status, :Status); they are stable and readable but two
// leaves on the same attribute share a token, so combining them collapses the
// maps. Characters outside [A-Za-z0-9] are escaped as _xx, so different
// attributes never share a token. A Session numbers tokens (#n0, :v0) and is the safe choice whenever a
// request carries more than one leaf per attribute or a condition alongside an
// update.
package expression

import (
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Operator is a comparison operator.
type Operator string

const (
	OpEqual          Operator = "="
	OpNotEqual       Operator = "<>"
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
)

func (o Operator) valid() bool {
	switch o {
	case OpEqual, OpNotEqual, OpLess, OpLessOrEqual, OpGreater, OpGreaterOrEqual:
		return true
	}
	return false
}

// Condition is an immutable condition expression with its substitution maps.
// The zero value is the empty condition, which And/Or skip.
type Condition struct {
	expr   string
	names  map[string]string
	values map[string]types.AttributeValue
}

func (c Condition) Expression() string { return c.expr }

func (c Condition) IsEmpty() bool { return c.expr == "" }

// Names returns a copy of the name substitutions, or nil when there are none.
func (c Condition) Names() map[string]string {
	if len(c.names) == 0 {
		return nil
	}
	return maps.Clone(c.names)
}

// Values returns a copy of the value substitutions, or nil when there are none.
func (c Condition) Values() map[string]types.AttributeValue {
	if len(c.values) == 0 {
		return nil
	}
	return maps.Clone(c.values)
}

// ExpressionPtr returns nil for the empty condition, which is convenient for
// optional SDK input fields.
func (c Condition) ExpressionPtr() *string {
	if c.expr == "" {
		return nil
	}
	e := c.expr
	return &e
}

// Conflicts lists the tokens that c and other bind differently. Combining two
// such conditions keeps only other's binding.
func (c Condition) Conflicts(other Condition) []string {
	var out []string
	for tok, name := range c.names {
		if o, ok := other.names[tok]; ok && o != name {
			out = append(out, tok)
		}
	}
	for tok, v := range c.values {
		if o, ok := other.values[tok]; ok && !reflect.DeepEqual(o, v) {
			out = append(out, tok)
		}
	}
	slices.Sort(out)
	return out
}

func (c Condition) And(other Condition) Condition { return And(c, other) }

func (c Condition) Or(other Condition) Condition { return Or(c, other) }

// And joins a and b with AND. The result's maps are the union of both
// operands' maps; on a shared token b's binding wins.
func And(a, b Condition) Condition { return AndAll(a, b) }

func AndAll(conds ...Condition) Condition { return join(" AND ", false, conds) }

// Or joins a and b with OR and parenthesizes the result, so an Or nested in
// an And keeps its grouping. Unlike And, Or(a, b) is not a + " OR " + b: it
// is "(" + a + " OR " + b + ")".
func Or(a, b Condition) Condition { return OrAll(a, b) }

func OrAll(conds ...Condition) Condition { return join(" OR ", true, conds) }

// Not negates c. Not of the empty condition is empty.
func Not(c Condition) Condition {
	if c.IsEmpty() {
		return c
	}
	return Condition{expr: "NOT (" + c.expr + ")", names: c.names, values: c.values}
}

func join(sep string, group bool, conds []Condition) Condition {
	parts := make([]string, 0, len(conds))
	out := Condition{}
	for _, c := range conds {
		if c.IsEmpty() {
			continue
		}
		parts = append(parts, c.expr)
		out.names = mergeNames(out.names, c.names)
		out.values = mergeValues(out.values, c.values)
	}
	switch len(parts) {
	case 0:
		return Condition{}
	case 1:
		out.expr = parts[0]
	default:
		out.expr = strings.Join(parts, sep)
		if group {
			out.expr = "(" + out.expr + ")"
		}
	}
	return out
}

func mergeNames(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	maps.Copy(dst, src)
	return dst
}

func mergeValues(dst, src map[string]types.AttributeValue) map[string]types.AttributeValue {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]types.AttributeValue, len(src))
	}
	maps.Copy(dst, src)
	return dst
}
