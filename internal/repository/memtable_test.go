package repository

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"conversation-log/internal/attr"
)

// memTable is an in-memory single table that evaluates the subset of the
// expression language the Client emits. Unknown syntax, unbound tokens and
// unused tokens fail the call like the real service would.
type memTable struct {
	mu     sync.Mutex
	pk, sk string
	items  map[string]attr.Item

	// pageCap forces short Query pages when positive.
	pageCap int
	// txFail injects an error into the n-th TransactWriteItems call (0-based).
	txFail map[int]error

	txCalls int
	writes  int
	queries int
}

func newMemTable() *memTable {
	return &memTable{pk: "PK", sk: "SK", items: map[string]attr.Item{}, txFail: map[int]error{}}
}

func validationErr(format string, args ...any) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: fmt.Sprintf(format, args...)}
}

func (m *memTable) id(key attr.Item) (string, error) {
	pk, err := attr.String(key, m.pk)
	if err != nil {
		return "", validationErr("key: %v", err)
	}
	sk, err := attr.String(key, m.sk)
	if err != nil {
		return "", validationErr("key: %v", err)
	}
	return pk + "\x00" + sk, nil
}

func (m *memTable) keyOf(item attr.Item) attr.Item {
	return attr.Item{m.pk: item[m.pk], m.sk: item[m.sk]}
}

func (m *memTable) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *memTable) get(key attr.Item) attr.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := m.id(key)
	if err != nil {
		return nil
	}
	return m.items[id]
}

func (m *memTable) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := m.id(in.Key)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: maps.Clone(m.items[id])}, nil
}

func (m *memTable) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := m.id(in.Item)
	if err != nil {
		return nil, err
	}
	env := newEnv(in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	ok, err := env.condition(aws.ToString(in.ConditionExpression), m.items[id])
	if err != nil {
		return nil, err
	}
	if err := env.unused(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	m.items[id] = maps.Clone(in.Item)
	m.writes++
	return &dynamodb.PutItemOutput{}, nil
}

func (m *memTable) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := m.id(in.Key)
	if err != nil {
		return nil, err
	}
	env := newEnv(in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	ok, err := env.condition(aws.ToString(in.ConditionExpression), m.items[id])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	next, err := env.update(aws.ToString(in.UpdateExpression), m.items[id], in.Key)
	if err != nil {
		return nil, err
	}
	if err := env.unused(); err != nil {
		return nil, err
	}
	m.items[id] = next
	m.writes++
	out := &dynamodb.UpdateItemOutput{}
	if in.ReturnValues == types.ReturnValueAllNew {
		out.Attributes = maps.Clone(next)
	}
	return out, nil
}

func (m *memTable) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++

	env := newEnv(in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	pk, prefix, err := env.keyCondition(aws.ToString(in.KeyConditionExpression), m.pk, m.sk)
	if err != nil {
		return nil, err
	}
	var projection []string
	if in.ProjectionExpression != nil {
		for _, tok := range strings.Split(*in.ProjectionExpression, ",") {
			n, err := env.name(strings.TrimSpace(tok))
			if err != nil {
				return nil, err
			}
			projection = append(projection, n)
		}
	}
	if err := env.unused(); err != nil {
		return nil, err
	}

	var matched []attr.Item
	for _, item := range m.items {
		ipk, _ := attr.String(item, m.pk)
		isk, _ := attr.String(item, m.sk)
		if ipk == pk && strings.HasPrefix(isk, prefix) {
			matched = append(matched, item)
		}
	}
	sortKey := func(item attr.Item) string {
		s, _ := attr.String(item, m.sk)
		return s
	}
	sort.Slice(matched, func(i, j int) bool { return sortKey(matched[i]) < sortKey(matched[j]) })
	forward := in.ScanIndexForward == nil || *in.ScanIndexForward
	if !forward {
		slices.Reverse(matched)
	}
	if in.ExclusiveStartKey != nil {
		startSK, err := attr.String(in.ExclusiveStartKey, m.sk)
		if err != nil {
			return nil, validationErr("ExclusiveStartKey: %v", err)
		}
		i := 0
		for i < len(matched) && (forward && sortKey(matched[i]) <= startSK || !forward && sortKey(matched[i]) >= startSK) {
			i++
		}
		matched = matched[i:]
	}

	n := len(matched)
	limited := false
	if in.Limit != nil {
		if *in.Limit <= 0 {
			return nil, validationErr("Limit must be positive")
		}
		if int(*in.Limit) <= n {
			n = int(*in.Limit)
			limited = true
		}
	}
	if m.pageCap > 0 && m.pageCap < n {
		n = m.pageCap
		limited = true
	}
	out := &dynamodb.QueryOutput{Count: int32(n)}
	for _, item := range matched[:n] {
		if projection == nil {
			out.Items = append(out.Items, maps.Clone(item))
			continue
		}
		p := attr.Item{}
		for _, name := range projection {
			if v, ok := item[name]; ok {
				p[name] = v
			}
		}
		out.Items = append(out.Items, p)
	}
	// Like the service, a page stopped by Limit carries a continuation key
	// even when nothing follows.
	if limited && n > 0 {
		out.LastEvaluatedKey = m.keyOf(matched[n-1])
	}
	return out, nil
}

func (m *memTable) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.txCalls
	m.txCalls++
	if err, ok := m.txFail[idx]; ok {
		return nil, err
	}
	if n := len(in.TransactItems); n == 0 || n > maxTransactionItems {
		return nil, validationErr("transaction must hold 1..%d items, got %d", maxTransactionItems, n)
	}

	type op struct {
		id   string
		next attr.Item // nil deletes
		ok   bool
	}
	ops := make([]op, len(in.TransactItems))
	seen := map[string]bool{}
	for i, ti := range in.TransactItems {
		var (
			id   string
			next attr.Item
			ok   = true
			err  error
		)
		switch {
		case ti.Put != nil:
			if id, err = m.id(ti.Put.Item); err != nil {
				return nil, err
			}
			env := newEnv(ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues)
			if ok, err = env.condition(aws.ToString(ti.Put.ConditionExpression), m.items[id]); err != nil {
				return nil, err
			}
			if err = env.unused(); err != nil {
				return nil, err
			}
			next = maps.Clone(ti.Put.Item)
		case ti.Update != nil:
			if id, err = m.id(ti.Update.Key); err != nil {
				return nil, err
			}
			env := newEnv(ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues)
			if ok, err = env.condition(aws.ToString(ti.Update.ConditionExpression), m.items[id]); err != nil {
				return nil, err
			}
			if ok {
				if next, err = env.update(aws.ToString(ti.Update.UpdateExpression), m.items[id], ti.Update.Key); err != nil {
					return nil, err
				}
				if err = env.unused(); err != nil {
					return nil, err
				}
			}
		case ti.Delete != nil:
			if id, err = m.id(ti.Delete.Key); err != nil {
				return nil, err
			}
			env := newEnv(ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues)
			if ok, err = env.condition(aws.ToString(ti.Delete.ConditionExpression), m.items[id]); err != nil {
				return nil, err
			}
			if err = env.unused(); err != nil {
				return nil, err
			}
		default:
			return nil, validationErr("transact item %d has no supported operation", i)
		}
		if seen[id] {
			return nil, validationErr("transaction cannot include multiple operations on one item")
		}
		seen[id] = true
		ops[i] = op{id: id, next: next, ok: ok}
	}

	reasons := make([]types.CancellationReason, len(ops))
	failed := false
	for i, o := range ops {
		code := "None"
		if !o.ok {
			code = "ConditionalCheckFailed"
			failed = true
		}
		reasons[i] = types.CancellationReason{Code: aws.String(code)}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, o := range ops {
		if o.next == nil {
			delete(m.items, o.id)
		} else {
			m.items[o.id] = o.next
		}
		m.writes++
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

// exprEnv resolves placeholder tokens for one request and tracks which of
// them were referenced.
type exprEnv struct {
	names  map[string]string
	values map[string]types.AttributeValue
	used   map[string]bool
}

func newEnv(names map[string]string, values map[string]types.AttributeValue) *exprEnv {
	return &exprEnv{names: names, values: values, used: map[string]bool{}}
}

func (e *exprEnv) name(tok string) (string, error) {
	n, ok := e.names[tok]
	if !ok {
		return "", validationErr("unbound name token %q", tok)
	}
	e.used[tok] = true
	return n, nil
}

func (e *exprEnv) value(tok string) (types.AttributeValue, error) {
	v, ok := e.values[tok]
	if !ok {
		return nil, validationErr("unbound value token %q", tok)
	}
	e.used[tok] = true
	return v, nil
}

func (e *exprEnv) unused() error {
	for tok := range e.names {
		if !e.used[tok] {
			return validationErr("unused name token %q", tok)
		}
	}
	for tok := range e.values {
		if !e.used[tok] {
			return validationErr("unused value token %q", tok)
		}
	}
	return nil
}

// splitTop splits s on sep outside parentheses.
func splitTop(s, sep string) []string {
	var out []string
	depth, last := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		default:
			if depth == 0 && strings.HasPrefix(s[i:], sep) {
				out = append(out, s[last:i])
				i += len(sep) - 1
				last = i + 1
			}
		}
	}
	return append(out, s[last:])
}

// call splits "fn(a, b)" into fn and its arguments.
func call(term string) (string, []string, bool) {
	open := strings.IndexByte(term, '(')
	if open <= 0 || !strings.HasSuffix(term, ")") {
		return "", nil, false
	}
	fn := term[:open]
	if strings.ContainsAny(fn, " #:") {
		return "", nil, false
	}
	args := splitTop(term[open+1:len(term)-1], ",")
	for i := range args {
		args[i] = strings.TrimSpace(args[i])
	}
	return fn, args, true
}

func (e *exprEnv) condition(expr string, item attr.Item) (bool, error) {
	if expr == "" {
		return true, nil
	}
	result := true
	for _, term := range splitTop(expr, " AND ") {
		term = strings.TrimSpace(term)
		if fn, args, ok := call(term); ok {
			name, err := e.name(args[0])
			if err != nil {
				return false, err
			}
			_, exists := item[name]
			switch {
			case fn == "attribute_exists" && len(args) == 1:
				result = result && exists
			case fn == "attribute_not_exists" && len(args) == 1:
				result = result && !exists
			case fn == "begins_with" && len(args) == 2:
				v, err := e.value(args[1])
				if err != nil {
					return false, err
				}
				s, _ := item[name].(*types.AttributeValueMemberS)
				p, _ := v.(*types.AttributeValueMemberS)
				result = result && s != nil && p != nil && strings.HasPrefix(s.Value, p.Value)
			default:
				return false, validationErr("unsupported function %q", term)
			}
			continue
		}
		lhs, rhs, ok := strings.Cut(term, " = ")
		if !ok {
			return false, validationErr("unsupported condition %q", term)
		}
		name, err := e.name(lhs)
		if err != nil {
			return false, err
		}
		v, err := e.value(rhs)
		if err != nil {
			return false, err
		}
		result = result && reflect.DeepEqual(item[name], v)
	}
	return result, nil
}

func (e *exprEnv) keyCondition(expr, pkName, skName string) (pk, prefix string, err error) {
	terms := splitTop(expr, " AND ")
	if len(terms) > 2 {
		return "", "", validationErr("unsupported key condition %q", expr)
	}
	lhs, rhs, ok := strings.Cut(terms[0], " = ")
	if !ok {
		return "", "", validationErr("key condition must start with partition equality: %q", expr)
	}
	if n, err := e.name(lhs); err != nil || n != pkName {
		return "", "", validationErr("key condition on %q, want %q", lhs, pkName)
	}
	v, err := e.value(rhs)
	if err != nil {
		return "", "", err
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", "", validationErr("partition value must be S")
	}
	pk = s.Value
	if len(terms) == 2 {
		fn, args, ok := call(strings.TrimSpace(terms[1]))
		if !ok || fn != "begins_with" || len(args) != 2 {
			return "", "", validationErr("unsupported sort key condition %q", terms[1])
		}
		if n, err := e.name(args[0]); err != nil || n != skName {
			return "", "", validationErr("sort key condition on %q, want %q", args[0], skName)
		}
		v, err := e.value(args[1])
		if err != nil {
			return "", "", err
		}
		p, ok := v.(*types.AttributeValueMemberS)
		if !ok {
			return "", "", validationErr("prefix must be S")
		}
		prefix = p.Value
	}
	return pk, prefix, nil
}

// update applies SET and REMOVE clauses. Right-hand sides read the item as
// it was before the update.
func (e *exprEnv) update(expr string, item, key attr.Item) (attr.Item, error) {
	next := maps.Clone(item)
	if next == nil {
		next = maps.Clone(key)
	}
	sections := map[string][]string{}
	keyword := ""
	for _, f := range strings.Fields(expr) {
		switch f {
		case "SET", "REMOVE", "ADD", "DELETE":
			keyword = f
			sections[keyword] = nil
			continue
		}
		if keyword == "" {
			return nil, validationErr("update expression must start with a keyword: %q", expr)
		}
		sections[keyword] = append(sections[keyword], f)
	}
	if len(sections["ADD"])+len(sections["DELETE"]) > 0 {
		return nil, validationErr("memTable does not support ADD or DELETE")
	}

	type assignment struct {
		name string
		v    types.AttributeValue
	}
	var sets []assignment
	if body := strings.Join(sections["SET"], " "); body != "" {
		for _, action := range splitTop(body, ",") {
			lhs, rhs, ok := strings.Cut(strings.TrimSpace(action), " = ")
			if !ok {
				return nil, validationErr("bad SET action %q", action)
			}
			name, err := e.name(lhs)
			if err != nil {
				return nil, err
			}
			v, err := e.rhs(rhs, item)
			if err != nil {
				return nil, err
			}
			sets = append(sets, assignment{name, v})
		}
	}
	for _, a := range sets {
		next[a.name] = a.v
	}
	if body := strings.Join(sections["REMOVE"], " "); body != "" {
		for _, tok := range strings.Split(body, ",") {
			name, err := e.name(strings.TrimSpace(tok))
			if err != nil {
				return nil, err
			}
			delete(next, name)
		}
	}
	return next, nil
}

func (e *exprEnv) rhs(expr string, item attr.Item) (types.AttributeValue, error) {
	for _, op := range []string{" + ", " - "} {
		if parts := splitTop(expr, op); len(parts) == 2 {
			a, err := e.operand(parts[0], item)
			if err != nil {
				return nil, err
			}
			b, err := e.operand(parts[1], item)
			if err != nil {
				return nil, err
			}
			x, err := number(a)
			if err != nil {
				return nil, err
			}
			y, err := number(b)
			if err != nil {
				return nil, err
			}
			if op == " - " {
				y = -y
			}
			return attr.Int(x + y), nil
		}
	}
	return e.operand(expr, item)
}

func (e *exprEnv) operand(tok string, item attr.Item) (types.AttributeValue, error) {
	tok = strings.TrimSpace(tok)
	if fn, args, ok := call(tok); ok {
		if fn != "if_not_exists" || len(args) != 2 {
			return nil, validationErr("unsupported function %q", tok)
		}
		name, err := e.name(args[0])
		if err != nil {
			return nil, err
		}
		def, err := e.value(args[1])
		if err != nil {
			return nil, err
		}
		if v, ok := item[name]; ok {
			return v, nil
		}
		return def, nil
	}
	switch {
	case strings.HasPrefix(tok, ":"):
		return e.value(tok)
	case strings.HasPrefix(tok, "#"):
		name, err := e.name(tok)
		if err != nil {
			return nil, err
		}
		v, ok := item[name]
		if !ok {
			return nil, validationErr("The provided expression refers to an attribute that does not exist in the item: %q", name)
		}
		return v, nil
	}
	return nil, validationErr("unsupported operand %q", tok)
}

func number(v types.AttributeValue) (int64, error) {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, validationErr("arithmetic on non-number %s", attr.Kind(v))
	}
	return strconv.ParseInt(n.Value, 10, 64)
}
