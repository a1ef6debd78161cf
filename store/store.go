package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/accounts/internal/keys"
)

// API is the subset of the DynamoDB client used by Store.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store implements Engine on a DynamoDB table.
type Store struct {
	client API
	config Config
}

var _ Engine = (*Store)(nil)

// New creates a new Store instance.
func New(client API, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
	}
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return s.config
}

// Get retrieves an item by key with a strongly consistent read.
func (s *Store) Get(ctx context.Context, key keys.Key) (Item, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.TableName),
		Key:            dynamoKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}
	return Item(result.Item), nil
}

// Update applies a version-guarded update and returns the new item.
func (s *Store) Update(ctx context.Context, u Update) (Item, error) {
	if err := validateUpdate(u); err != nil {
		return nil, err
	}

	expr, err := buildUpdateExpression(u)
	if err != nil {
		return nil, fmt.Errorf("build update expression: %w", err)
	}

	result, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.TableName),
		Key:                       dynamoKey(u.Key),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, ErrConditionFailed
		}
		return nil, err
	}
	return Item(result.Attributes), nil
}

// TransactPut writes all puts in one DynamoDB transaction.
func (s *Store) TransactPut(ctx context.Context, puts ...Put) error {
	if len(puts) == 0 {
		return nil
	}
	if err := validatePuts(puts); err != nil {
		return err
	}

	items := make([]types.TransactWriteItem, 0, len(puts))
	for _, p := range puts {
		put := &types.Put{
			TableName: aws.String(s.config.TableName),
			Item:      p.withKey(),
		}
		if p.Condition == ConditionNotExists {
			expr, err := expression.NewBuilder().
				WithCondition(expression.AttributeNotExists(expression.Name(keys.AttrPK))).
				Build()
			if err != nil {
				return fmt.Errorf("build put condition: %w", err)
			}
			put.ConditionExpression = expr.Condition()
			put.ExpressionAttributeNames = expr.Names()
		}
		items = append(items, types.TransactWriteItem{Put: put})
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return mapTransactionError(err)
}

// QueryIndex queries GSI1 by partition.
func (s *Store) QueryIndex(ctx context.Context, partition string, limit int32) ([]Item, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key(keys.AttrGSI1PK).Equal(expression.Value(partition))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build key condition: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.TableName),
		IndexName:                 aws.String(s.config.IndexName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	// An existence probe needs one page only.
	if limit > 0 {
		input.Limit = aws.Int32(limit)
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		return toItems(result.Items), nil
	}

	return s.paginate(ctx, input)
}

// QueryPartition queries the base table for items in pk with the given sort key prefix.
func (s *Store) QueryPartition(ctx context.Context, pk, skPrefix string) ([]Item, error) {
	keyCond := expression.Key(keys.AttrPK).Equal(expression.Value(pk))
	if skPrefix != "" {
		keyCond = keyCond.And(expression.Key(keys.AttrSK).BeginsWith(skPrefix))
	}

	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("build key condition: %w", err)
	}

	return s.paginate(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.TableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	})
}

func (s *Store) paginate(ctx context.Context, input *dynamodb.QueryInput) ([]Item, error) {
	var items []Item
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, toItems(page.Items)...)
	}
	return items, nil
}

// buildUpdateExpression translates an Update into DynamoDB expressions.
// Attribute order is sorted so the generated placeholders are stable.
func buildUpdateExpression(u Update) (expression.Expression, error) {
	version := expression.Name(VersionAttr)

	update := expression.Set(version, version.Plus(expression.Value(1)))
	for _, name := range sortedNames(u.Set) {
		update = update.Set(expression.Name(name), expression.Value(u.Set[name]))
	}
	for _, name := range u.Remove {
		update = update.Remove(expression.Name(name))
	}

	cond := expression.AttributeExists(expression.Name(keys.AttrPK)).
		And(version.Equal(expression.Value(u.ExpectedVersion)))
	for _, name := range sortedNames(u.Unless) {
		cond = cond.And(expression.Name(name).NotEqual(expression.Value(u.Unless[name])))
	}

	return expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
}

// mapTransactionError maps DynamoDB transaction errors to store errors.
func mapTransactionError(err error) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		conflict := false
		for i, reason := range txErr.CancellationReasons {
			if reason.Code == nil {
				continue
			}
			switch *reason.Code {
			case "ConditionalCheckFailed":
				return &TxConditionError{Index: i}
			case "TransactionConflict":
				conflict = true
			}
		}
		if conflict {
			return ErrTransactionConflict
		}
		return err
	}

	var conflictErr *types.TransactionConflictException
	if errors.As(err, &conflictErr) {
		return ErrTransactionConflict
	}

	return err
}

func dynamoKey(key keys.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		keys.AttrPK: &types.AttributeValueMemberS{Value: key.PK},
		keys.AttrSK: &types.AttributeValueMemberS{Value: key.SK},
	}
}

func toItems(raw []map[string]types.AttributeValue) []Item {
	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		items = append(items, Item(r))
	}
	return items
}

func sortedNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
