package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/accounts/internal/keys"
)

// Memory is an in-process Engine with the same conditional semantics as Store.
// All operations serialize on one mutex, so a TransactPut is atomic with
// respect to every other call.
type Memory struct {
	mu    sync.Mutex
	items map[keys.Key]Item
}

var _ Engine = (*Memory)(nil)

// NewMemory creates an empty in-memory engine.
func NewMemory() *Memory {
	return &Memory{items: make(map[keys.Key]Item)}
}

// Len returns the number of stored items.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Get returns a copy of the item at key.
func (m *Memory) Get(ctx context.Context, key keys.Key) (Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyItem(item), nil
}

// Update applies u under the same predicates DynamoDB evaluates for Store.
func (m *Memory) Update(ctx context.Context, u Update) (Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateUpdate(u); err != nil {
		return nil, err
	}

	set := make(map[string]types.AttributeValue, len(u.Set))
	for name, v := range u.Set {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %q: %w", name, err)
		}
		set[name] = av
	}
	unless := make(map[string]types.AttributeValue, len(u.Unless))
	for name, v := range u.Unless {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %q: %w", name, err)
		}
		unless[name] = av
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.items[u.Key]
	if !ok {
		return nil, ErrConditionFailed
	}
	version, ok := numberAttr(current, VersionAttr)
	if !ok || version != u.ExpectedVersion {
		return nil, ErrConditionFailed
	}
	for name, v := range unless {
		if stored, ok := current[name]; ok && attrEqual(stored, v) {
			return nil, ErrConditionFailed
		}
	}

	next := copyItem(current)
	for name, v := range set {
		next[name] = v
	}
	for _, name := range u.Remove {
		delete(next, name)
	}
	next[VersionAttr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(version+1, 10)}

	m.items[u.Key] = next
	return copyItem(next), nil
}

// TransactPut checks every condition before writing anything.
func (m *Memory) TransactPut(ctx context.Context, puts ...Put) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validatePuts(puts); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, p := range puts {
		if p.Condition != ConditionNotExists {
			continue
		}
		if _, exists := m.items[p.Key]; exists {
			return &TxConditionError{Index: i}
		}
	}
	for _, p := range puts {
		m.items[p.Key] = p.withKey()
	}
	return nil
}

// QueryIndex returns items projected into GSI1 under partition, ordered by GSI1SK.
func (m *Memory) QueryIndex(ctx context.Context, partition string, limit int32) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []Item
	for _, item := range m.items {
		if stringAttr(item, keys.AttrGSI1PK) == partition {
			matched = append(matched, copyItem(item))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return stringAttr(matched[i], keys.AttrGSI1SK) < stringAttr(matched[j], keys.AttrGSI1SK)
	})
	if limit > 0 && int(limit) < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// QueryPartition returns items in pk whose sort key has skPrefix, ordered by SK.
func (m *Memory) QueryPartition(ctx context.Context, pk, skPrefix string) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []Item
	for key, item := range m.items {
		if key.PK == pk && strings.HasPrefix(key.SK, skPrefix) {
			matched = append(matched, copyItem(item))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return stringAttr(matched[i], keys.AttrSK) < stringAttr(matched[j], keys.AttrSK)
	})
	return matched, nil
}

func copyItem(item Item) Item {
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func stringAttr(item Item, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func numberAttr(item Item, name string) (int64, bool) {
	v, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func attrEqual(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	}
	return reflect.DeepEqual(a, b)
}
