package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/accounts/internal/keys"
)

// VersionAttr is the optimistic lock attribute maintained by the engine.
const VersionAttr = "version"

// Item is a raw DynamoDB item.
type Item map[string]types.AttributeValue

// Condition is an existence predicate evaluated against the item at a put's key.
type Condition int

const (
	// ConditionNone writes unconditionally.
	ConditionNone Condition = iota

	// ConditionNotExists writes only when no item exists at the key.
	ConditionNotExists
)

// Put is one item of a transactional write.
type Put struct {
	Key       keys.Key
	Item      Item
	Condition Condition
}

// Update is a conditional single-item update.
//
// The update applies only when an item exists at Key, its version equals
// ExpectedVersion, and no attribute named in Unless holds the given value.
// The engine increments the version on success.
type Update struct {
	Key keys.Key

	// Set assigns attributes. Values are marshalled with attributevalue.
	Set map[string]any

	// Remove deletes attributes.
	Remove []string

	ExpectedVersion int64

	// Unless maps attribute names to values the stored item must not hold.
	Unless map[string]any
}

// Engine is the storage contract shared by Store and Memory.
type Engine interface {
	// Get returns the item at key or ErrNotFound.
	Get(ctx context.Context, key keys.Key) (Item, error)

	// Update applies u and returns the item as stored afterwards.
	Update(ctx context.Context, u Update) (Item, error)

	// TransactPut writes every put or none of them.
	TransactPut(ctx context.Context, puts ...Put) error

	// QueryIndex returns items whose GSI1 partition equals partition.
	// A limit of 0 returns all of them.
	QueryIndex(ctx context.Context, partition string, limit int32) ([]Item, error)

	// QueryPartition returns items in partition pk whose sort key starts with skPrefix.
	QueryPartition(ctx context.Context, pk, skPrefix string) ([]Item, error)
}

// withKey returns a copy of the put item carrying the key attributes.
func (p Put) withKey() Item {
	item := make(Item, len(p.Item)+2)
	for k, v := range p.Item {
		item[k] = v
	}
	item[keys.AttrPK] = &types.AttributeValueMemberS{Value: p.Key.PK}
	item[keys.AttrSK] = &types.AttributeValueMemberS{Value: p.Key.SK}
	return item
}

// validateUpdate rejects updates that would rewrite managed attributes.
func validateUpdate(u Update) error {
	managed := func(name string) bool {
		return name == keys.AttrPK || name == keys.AttrSK || name == VersionAttr
	}
	for name := range u.Set {
		if managed(name) {
			return fmt.Errorf("%w: set %q", ErrInvalidWrite, name)
		}
	}
	for _, name := range u.Remove {
		if managed(name) {
			return fmt.Errorf("%w: remove %q", ErrInvalidWrite, name)
		}
		if _, ok := u.Set[name]; ok {
			return fmt.Errorf("%w: %q is both set and removed", ErrInvalidWrite, name)
		}
	}
	return nil
}

// validatePuts rejects transactions that write the same key twice.
func validatePuts(puts []Put) error {
	seen := make(map[keys.Key]struct{}, len(puts))
	for _, p := range puts {
		if _, ok := seen[p.Key]; ok {
			return fmt.Errorf("%w: key %s/%s written twice", ErrInvalidWrite, p.Key.PK, p.Key.SK)
		}
		seen[p.Key] = struct{}{}
	}
	return nil
}
