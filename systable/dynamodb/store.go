// Package dynamodb stores the tracking tables in one Amazon DynamoDB table.
//
// Every tracking row is an item whose partition key is the row's table file
// scope and whose sort key is the row's primary key, so a table file's rows
// are one DynamoDB partition. Rows carry an expires_at attribute for native
// TTL expiry.
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name large-data \
//	  --attribute-definitions AttributeName=scope,AttributeType=S AttributeName=row_key,AttributeType=B \
//	  --key-schema AttributeName=scope,KeyType=HASH AttributeName=row_key,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
//	aws dynamodb update-time-to-live --table-name large-data \
//	  --time-to-live-specification Enabled=true,AttributeName=expires_at
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/largedata/codec"
	"github.com/hupe1980/largedata/query"
	"github.com/hupe1980/largedata/systable"
)

// Attribute names.
const (
	AttrScope     = "scope"
	AttrRowKey    = "row_key"
	AttrTable     = "tracking_table"
	AttrRow       = "row"
	AttrExpiresAt = "expires_at"
)

// maxBatchWrite is the DynamoDB limit of requests per BatchWriteItem.
const maxBatchWrite = 25

const maxUnprocessedRetries = 5

// ErrUnprocessedItems is returned when DynamoDB keeps rejecting part of a batch delete.
var ErrUnprocessedItems = errors.New("dynamodb left items unprocessed")

// Client is the interface for DynamoDB operations.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Store is a systable.Store on DynamoDB.
type Store struct {
	client    Client
	tableName string
	codec     codec.Codec
	now       func() time.Time
}

var _ systable.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithCodec sets the codec of the row attribute. Defaults to codec.Default.
func WithCodec(c codec.Codec) Option {
	return func(s *Store) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithClock sets the clock used for TTL stamping and expiry filtering.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a store on tableName.
func New(client Client, tableName string, optFns ...Option) *Store {
	s := &Store{
		client:    client,
		tableName: tableName,
		codec:     codec.Default,
		now:       time.Now,
	}
	for _, fn := range optFns {
		fn(s)
	}
	return s
}

// NewFromConfig creates a store using the default AWS configuration chain.
func NewFromConfig(ctx context.Context, tableName string, optFns ...Option) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(dynamodb.NewFromConfig(cfg), tableName, optFns...), nil
}

func scopeKey(table string, keyspace, tableName, sstable string) string {
	return table + "\x00" + string(systable.ScopePrefix(keyspace, tableName, sstable))
}

// Execute implements query.Executor.
func (s *Store) Execute(ctx context.Context, stmt query.Statement) error {
	switch stmt.Kind {
	case query.Insert:
		row, err := systable.FromStatement(stmt, s.now())
		if err != nil {
			return err
		}
		return s.put(ctx, row)
	case query.Delete:
		table, f, err := systable.FilterFromStatement(stmt)
		if err != nil {
			return err
		}
		return s.deleteWhere(ctx, table, f)
	default:
		return systable.ErrUnsupportedStatement
	}
}

func (s *Store) put(ctx context.Context, row systable.Row) error {
	value, err := s.codec.Marshal(row)
	if err != nil {
		return err
	}
	item := map[string]types.AttributeValue{
		AttrScope:  &types.AttributeValueMemberS{Value: scopeKey(row.Table, row.Keyspace, row.TableName, row.SSTable)},
		AttrRowKey: &types.AttributeValueMemberB{Value: row.Key()},
		AttrTable:  &types.AttributeValueMemberS{Value: row.Table},
		AttrRow:    &types.AttributeValueMemberB{Value: value},
	}
	if !row.ExpiresAt.IsZero() {
		item[AttrExpiresAt] = &types.AttributeValueMemberN{Value: strconv.FormatInt(row.ExpiresAt.Unix(), 10)}
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put %s row: %w", row.Table, err)
	}
	return nil
}

// Select implements systable.Selecter. A filter naming one table file is a
// single partition query; anything broader scans the table.
func (s *Store) Select(ctx context.Context, table string, f systable.Filter) ([]systable.Row, error) {
	if _, ok := systable.Lookup(table); !ok {
		return nil, systable.ErrUnknownTable
	}

	items, err := s.items(ctx, table, f)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rows := make([]systable.Row, 0, len(items))
	for _, item := range items {
		row, err := s.decode(item)
		if err != nil {
			return nil, err
		}
		// TTL deletion in DynamoDB is lazy.
		if f.Match(row) && !row.Expired(now) {
			rows = append(rows, row)
		}
	}
	systable.SortRows(rows)
	return rows, nil
}

func (s *Store) items(ctx context.Context, table string, f systable.Filter) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue

	if f.Keyspace != "" && f.Table != "" && f.TableFile != "" {
		paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("#scope = :scope"),
			ExpressionAttributeNames: map[string]string{
				"#scope": AttrScope,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":scope": &types.AttributeValueMemberS{Value: scopeKey(table, f.Keyspace, f.Table, f.TableFile)},
			},
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to query DynamoDB: %w", err)
			}
			items = append(items, page.Items...)
		}
		return items, nil
	}

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:        aws.String(s.tableName),
		FilterExpression: aws.String("#table = :table"),
		ExpressionAttributeNames: map[string]string{
			"#table": AttrTable,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":table": &types.AttributeValueMemberS{Value: table},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan DynamoDB: %w", err)
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func (s *Store) decode(item map[string]types.AttributeValue) (systable.Row, error) {
	attr, ok := item[AttrRow].(*types.AttributeValueMemberB)
	if !ok {
		return systable.Row{}, errors.New("invalid row attribute in DynamoDB")
	}
	var row systable.Row
	if err := s.codec.Unmarshal(attr.Value, &row); err != nil {
		return systable.Row{}, fmt.Errorf("decode row: %w", err)
	}
	return row, nil
}

// deleteWhere removes every item of table matched by f, in batches.
func (s *Store) deleteWhere(ctx context.Context, table string, f systable.Filter) error {
	items, err := s.items(ctx, table, f)
	if err != nil {
		return err
	}

	var requests []types.WriteRequest
	for _, item := range items {
		row, err := s.decode(item)
		if err != nil {
			return err
		}
		if !f.Match(row) {
			continue
		}
		requests = append(requests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{
				Key: map[string]types.AttributeValue{
					AttrScope:  item[AttrScope],
					AttrRowKey: item[AttrRowKey],
				},
			},
		})
	}

	for start := 0; start < len(requests); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(requests))
		if err := s.batchWrite(ctx, requests[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.tableName: requests}
	for attempt := 0; attempt <= maxUnprocessedRetries; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: pending,
		})
		if err != nil {
			return fmt.Errorf("failed to delete from DynamoDB: %w", err)
		}
		if len(out.UnprocessedItems[s.tableName]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %d deletes", ErrUnprocessedItems, len(pending[s.tableName]))
}
