package repository

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// memTable is an in-memory dynamodbAPI. It understands exactly the condition,
// update and filter expressions the stores issue.
type memTable struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	pageSize int

	getErr    error
	putErr    error
	updateErr error
	deleteErr error
	scanErr   error

	gets, puts, updates, deletes, scans int
	lastPut                             *dynamodb.PutItemInput
	lastUpdate                          *dynamodb.UpdateItemInput
}

func newMemTable() *memTable {
	return &memTable{items: map[string]map[string]types.AttributeValue{}}
}

func (m *memTable) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets + m.puts + m.updates + m.deletes + m.scans
}

func keyOf(item map[string]types.AttributeValue) string {
	return attrS(item["PK"]) + "|" + attrS(item["SK"])
}

func attrS(v types.AttributeValue) string {
	if s, ok := v.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func attrN(v types.AttributeValue) (int64, bool) {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	return parsed, err == nil
}

func (m *memTable) put(item map[string]types.AttributeValue) {
	m.items[keyOf(item)] = copyItem(item)
}

func (m *memTable) get(pk, sk string) map[string]types.AttributeValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[pk+"|"+sk]
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
}

func strPtr(s string) *string { return &s }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// eval evaluates expr against item; a nil item means the key does not exist.
func eval(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true
	}
	if parts := strings.SplitN(expr, " OR ", 2); len(parts) == 2 {
		return eval(parts[0], item, names, values) || eval(parts[1], item, names, values)
	}
	if parts := strings.SplitN(expr, " AND ", 2); len(parts) == 2 {
		return eval(parts[0], item, names, values) && eval(parts[1], item, names, values)
	}
	if strings.HasPrefix(expr, "attribute_not_exists(") {
		name := resolve(strings.TrimSuffix(strings.TrimPrefix(expr, "attribute_not_exists("), ")"), names)
		_, ok := item[name]
		return item == nil || !ok
	}
	if strings.HasPrefix(expr, "attribute_exists(") {
		name := resolve(strings.TrimSuffix(strings.TrimPrefix(expr, "attribute_exists("), ")"), names)
		_, ok := item[name]
		return item != nil && ok
	}
	for _, op := range []string{"<=", ">=", "<", ">", "="} {
		idx := strings.Index(expr, " "+op+" ")
		if idx < 0 {
			continue
		}
		left, ok := item[resolve(strings.TrimSpace(expr[:idx]), names)]
		if !ok || item == nil {
			return false
		}
		right := values[strings.TrimSpace(expr[idx+len(op)+2:])]
		return compare(left, right, op)
	}
	panic("memTable: unsupported expression " + expr)
}

func resolve(token string, names map[string]string) string {
	if strings.HasPrefix(token, "#") {
		return names[token]
	}
	return token
}

func compare(left, right types.AttributeValue, op string) bool {
	ln, lok := attrN(left)
	rn, rok := attrN(right)
	if lok && rok {
		switch op {
		case "<=":
			return ln <= rn
		case ">=":
			return ln >= rn
		case "<":
			return ln < rn
		case ">":
			return ln > rn
		default:
			return ln == rn
		}
	}
	if op == "=" {
		return attrS(left) == attrS(right) && attrS(left) != ""
	}
	return false
}

// applyUpdate supports "SET #a = :v, #b = if_not_exists(#b, :w)".
func applyUpdate(item map[string]types.AttributeValue, expr string, names map[string]string, values map[string]types.AttributeValue) {
	body := strings.TrimPrefix(strings.TrimSpace(expr), "SET ")
	depth, start := 0, 0
	var clauses []string
	for i, r := range body {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				clauses = append(clauses, body[start:i])
				start = i + 1
			}
		}
	}
	clauses = append(clauses, body[start:])
	for _, clause := range clauses {
		lhs, rhs, _ := strings.Cut(clause, "=")
		name := resolve(strings.TrimSpace(lhs), names)
		rhs = strings.TrimSpace(rhs)
		if strings.HasPrefix(rhs, "if_not_exists(") {
			if _, ok := item[name]; ok {
				continue
			}
			args := strings.TrimSuffix(strings.TrimPrefix(rhs, "if_not_exists("), ")")
			_, v, _ := strings.Cut(args, ",")
			item[name] = values[strings.TrimSpace(v)]
			continue
		}
		item[name] = values[rhs]
	}
}

func (m *memTable) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, m.getErr
	}
	item, ok := m.items[keyOf(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (m *memTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.lastPut = in
	if m.putErr != nil {
		return nil, m.putErr
	}
	existing := m.items[keyOf(in.Item)]
	if !eval(deref(in.ConditionExpression), existing, in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
		return nil, conditionFailed()
	}
	m.put(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (m *memTable) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	m.lastUpdate = in
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	k := keyOf(in.Key)
	existing := m.items[k]
	if !eval(deref(in.ConditionExpression), existing, in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
		return nil, conditionFailed()
	}
	item := copyItem(in.Key)
	if existing != nil {
		item = copyItem(existing)
	}
	applyUpdate(item, deref(in.UpdateExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	m.items[k] = item
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *memTable) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	k := keyOf(in.Key)
	if !eval(deref(in.ConditionExpression), m.items[k], in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
		return nil, conditionFailed()
	}
	delete(m.items, k)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (m *memTable) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans++
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if in.ExclusiveStartKey != nil {
		start := keyOf(in.ExclusiveStartKey)
		idx := sort.SearchStrings(keys, start)
		if idx < len(keys) && keys[idx] == start {
			idx++
		}
		keys = keys[idx:]
	}
	out := &dynamodb.ScanOutput{}
	for i, k := range keys {
		if m.pageSize > 0 && i == m.pageSize {
			out.LastEvaluatedKey = itemKey(attrS(m.items[keys[i-1]]["PK"]), attrS(m.items[keys[i-1]]["SK"]))
			break
		}
		item := m.items[k]
		if eval(deref(in.FilterExpression), item, in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
			out.Items = append(out.Items, copyItem(item))
		}
	}
	return out, nil
}
