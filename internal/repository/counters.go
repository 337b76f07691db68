package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// TotalCounterKey is the sort key of the per-tenant aggregate counter.
const TotalCounterKey = "__TOTAL__"

// Counter is the state of one rate-limit counter after an increment.
type Counter struct {
	Count        int64 `dynamodbav:"cnt"`
	LastTS       int64 `dynamodbav:"last_ts"`
	BlockedUntil int64 `dynamodbav:"blocked_until"`
}

// CounterStore holds message counters per tenant, time bucket and key.
type CounterStore struct {
	*Client
}

// NewCounterStore creates a CounterStore over the given table.
func NewCounterStore(api dynamodbAPI, tableName string) (*CounterStore, error) {
	c, err := New(api, tableName)
	if err != nil {
		return nil, err
	}
	return &CounterStore{Client: c}, nil
}

func counterPK(tenantID, bucket string) string {
	return tenantID + "#" + bucket
}

// Increment atomically adds one to the counter and returns its new state.
func (c *CounterStore) Increment(ctx context.Context, tenantID, bucket, key string, nowUnix int64) (Counter, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              pkSKKey(counterPK(tenantID, bucket), key),
		UpdateExpression: aws.String("ADD cnt :one SET last_ts = :ts"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": numVal(1),
			":ts":  numVal(nowUnix),
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return Counter{}, fmt.Errorf("repository: IncrementCounter: %w", err)
	}
	var ctr Counter
	if out != nil && len(out.Attributes) > 0 {
		if err := attributevalue.UnmarshalMap(out.Attributes, &ctr); err != nil {
			return Counter{}, fmt.Errorf("repository: IncrementCounter unmarshal: %w", err)
		}
	}
	return ctr, nil
}

// SetBlockedUntil marks the key as blocked until the given unix time.
func (c *CounterStore) SetBlockedUntil(ctx context.Context, tenantID, bucket, key string, untilUnix int64) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              pkSKKey(counterPK(tenantID, bucket), key),
		UpdateExpression: aws.String("SET blocked_until = :bu"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":bu": numVal(untilUnix),
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SetBlockedUntil: %w", err)
	}
	return nil
}

// PurgeResult reports a housekeeping pass.
type PurgeResult struct {
	Scanned int `json:"scanned"`
	Deleted int `json:"deleted"`
}

// PurgeStale deletes counters whose last_ts is older than threshold.
func (c *CounterStore) PurgeStale(ctx context.Context, thresholdUnix int64) (PurgeResult, error) {
	var res PurgeResult
	p := dynamodb.NewScanPaginator(c.api, &dynamodb.ScanInput{
		TableName:            aws.String(c.tableName),
		ProjectionExpression: aws.String("pk, sk, last_ts"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return res, fmt.Errorf("repository: PurgeStale scan: %w", err)
		}
		res.Scanned += len(page.Items)
		for _, item := range page.Items {
			lastTS, _ := intAttr(item, "last_ts")
			if lastTS >= thresholdUnix {
				continue
			}
			pk, err := strAttr(item, "pk")
			if err != nil {
				return res, fmt.Errorf("repository: PurgeStale: %w", err)
			}
			sk, err := strAttr(item, "sk")
			if err != nil {
				return res, fmt.Errorf("repository: PurgeStale: %w", err)
			}
			if _, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(c.tableName),
				Key:       pkSKKey(pk, sk),
			}); err != nil {
				return res, fmt.Errorf("repository: PurgeStale delete: %w", err)
			}
			res.Deleted++
		}
	}
	return res, nil
}
