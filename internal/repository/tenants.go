package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
)

// TenantStore reads per-tenant settings keyed by tenant_id.
type TenantStore struct {
	*Client
}

// NewTenantStore creates a TenantStore over the given table.
func NewTenantStore(api dynamodbAPI, tableName string) (*TenantStore, error) {
	c, err := New(api, tableName)
	if err != nil {
		return nil, err
	}
	return &TenantStore{Client: c}, nil
}

// Get returns the tenant or nil when it is not configured.
func (t *TenantStore) Get(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	out, err := t.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(t.tableName),
		Key:       map[string]types.AttributeValue{"tenant_id": strVal(tenantID)},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetTenant get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	return &domain.Tenant{
		TenantID:     tenantID,
		LanguageCode: optStr(out.Item, "language_code"),
	}, nil
}

// SetLanguage sets the tenant's default language.
func (t *TenantStore) SetLanguage(ctx context.Context, tenantID, languageCode string) error {
	_, err := t.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(t.tableName),
		Key:              map[string]types.AttributeValue{"tenant_id": strVal(tenantID)},
		UpdateExpression: aws.String("SET language_code = :lang"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":lang": strVal(languageCode),
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SetTenantLanguage: %w", err)
	}
	return nil
}
