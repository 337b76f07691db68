package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
)

type memberRecord struct {
	TenantID string `dynamodbav:"tenant_id"`
	MemberID string `dynamodbav:"member_id"`
	Phone    string `dynamodbav:"phone"`
	Email    string `dynamodbav:"email,omitempty"`
}

// MemberIndex maps messaging identities to gym members.
type MemberIndex struct {
	*Client
}

// NewMemberIndex creates a MemberIndex over the given table.
func NewMemberIndex(api dynamodbAPI, tableName string) (*MemberIndex, error) {
	c, err := New(api, tableName)
	if err != nil {
		return nil, err
	}
	return &MemberIndex{Client: c}, nil
}

// GetMember finds the member registered under phone. Returns nil when unknown.
func (m *MemberIndex) GetMember(ctx context.Context, tenantID, phone string) (*domain.Member, error) {
	normalized := domain.NormalizePhone(phone)
	if normalized == "" {
		return nil, nil
	}
	// TODO: switch to a query once the (tenant_id, phone) GSI is provisioned.
	p := dynamodb.NewScanPaginator(m.api, &dynamodb.ScanInput{
		TableName:        aws.String(m.tableName),
		FilterExpression: aws.String("tenant_id = :t AND phone = :p"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": strVal(tenantID),
			":p": strVal(normalized),
		},
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("repository: GetMember scan: %w", err)
		}
		if len(page.Items) == 0 {
			continue
		}
		var rec memberRecord
		if err := attributevalue.UnmarshalMap(page.Items[0], &rec); err != nil {
			return nil, fmt.Errorf("repository: GetMember unmarshal: %w", err)
		}
		return &domain.Member{
			TenantID: rec.TenantID,
			MemberID: rec.MemberID,
			Phone:    rec.Phone,
			Email:    rec.Email,
		}, nil
	}
	return nil, nil
}
