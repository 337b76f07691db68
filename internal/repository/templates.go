package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
)

// TemplateStore reads reply templates keyed by tenant, name and language.
type TemplateStore struct {
	*Client
}

// NewTemplateStore creates a TemplateStore over the given table.
func NewTemplateStore(api dynamodbAPI, tableName string) (*TemplateStore, error) {
	c, err := New(api, tableName)
	if err != nil {
		return nil, err
	}
	return &TemplateStore{Client: c}, nil
}

func templatePK(tenantID, name, languageCode string) string {
	return tenantID + "#" + name + "#" + languageCode
}

// Get returns the template or nil when no body is stored for that exact language.
func (t *TemplateStore) Get(ctx context.Context, tenantID, name, languageCode string) (*domain.Template, error) {
	out, err := t.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(t.tableName),
		Key:       pkKey(templatePK(tenantID, name, languageCode)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetTemplate get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	body, err := strAttr(out.Item, "body")
	if err != nil {
		return nil, fmt.Errorf("repository: GetTemplate decode body: %w", err)
	}
	return &domain.Template{
		TenantID:     tenantID,
		Name:         name,
		LanguageCode: languageCode,
		Body:         body,
	}, nil
}

// Put stores or replaces a template.
func (t *TemplateStore) Put(ctx context.Context, tpl domain.Template) error {
	_, err := t.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.tableName),
		Item: map[string]types.AttributeValue{
			"pk":            strVal(templatePK(tpl.TenantID, tpl.Name, tpl.LanguageCode)),
			"tenant_id":     strVal(tpl.TenantID),
			"template_name": strVal(tpl.Name),
			"language_code": strVal(tpl.LanguageCode),
			"body":          strVal(tpl.Body),
		},
	})
	if err != nil {
		return fmt.Errorf("repository: PutTemplate: %w", err)
	}
	return nil
}
