package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
)

// conversationRecord is the stored shape of a conversation item.
type conversationRecord struct {
	PK                string `dynamodbav:"pk"`
	TenantID          string `dynamodbav:"tenant_id"`
	Channel           string `dynamodbav:"channel"`
	ChannelUserID     string `dynamodbav:"channel_user_id"`
	LanguageCode      string `dynamodbav:"language_code,omitempty"`
	LastIntent        string `dynamodbav:"last_intent,omitempty"`
	Status            string `dynamodbav:"state_machine_status,omitempty"`
	PGMemberID        string `dynamodbav:"pg_member_id,omitempty"`
	VerificationLevel string `dynamodbav:"pg_verification_level,omitempty"`
	VerifiedUntil     int64  `dynamodbav:"pg_verified_until,omitempty"`
	VerificationCode  string `dynamodbav:"verification_code,omitempty"`
	ChallengeType     string `dynamodbav:"pg_challenge_type,omitempty"`
	ChallengeAttempts int    `dynamodbav:"pg_challenge_attempts,omitempty"`
	AssignedAgent     string `dynamodbav:"assigned_agent,omitempty"`
	UpdatedAt         int64  `dynamodbav:"updated_at,omitempty"`
}

func (r conversationRecord) toDomain() *domain.Conversation {
	return &domain.Conversation{
		TenantID:          r.TenantID,
		Channel:           domain.ParseChannel(r.Channel),
		ChannelUserID:     r.ChannelUserID,
		LanguageCode:      r.LanguageCode,
		LastIntent:        r.LastIntent,
		Status:            domain.ConversationStatus(r.Status),
		PGMemberID:        r.PGMemberID,
		VerificationLevel: domain.VerificationLevel(r.VerificationLevel),
		VerifiedUntil:     r.VerifiedUntil,
		VerificationCode:  r.VerificationCode,
		ChallengeType:     r.ChallengeType,
		ChallengeAttempts: r.ChallengeAttempts,
		AssignedAgent:     r.AssignedAgent,
		UpdatedAt:         r.UpdatedAt,
	}
}

type pendingRecord struct {
	PK             string `dynamodbav:"pk"`
	Phone          string `dynamodbav:"phone"`
	ClassID        string `dynamodbav:"class_id"`
	MemberID       string `dynamodbav:"member_id"`
	IdempotencyKey string `dynamodbav:"idempotency_key"`
	CreatedAt      int64  `dynamodbav:"created_at"`
}

// ConversationStore persists conversation state and pending reservations.
// Both live in the conversations table under different key prefixes.
//
// Writes are not isolated across concurrent deliveries for the same
// conversation: the last writer wins on every field it sets.
type ConversationStore struct {
	*Client
	now func() time.Time
}

// NewConversationStore creates a ConversationStore over the given table.
func NewConversationStore(api dynamodbAPI, tableName string) (*ConversationStore, error) {
	c, err := New(api, tableName)
	if err != nil {
		return nil, err
	}
	return &ConversationStore{Client: c, now: time.Now}, nil
}

// conversationPK returns the partition key for a conversation.
func conversationPK(tenantID string, channel domain.Channel, channelUserID string) string {
	return "conv#" + tenantID + "#" + string(channel) + "#" + channelUserID
}

// pendingPK returns the partition key of the pending reservation for a phone.
func pendingPK(phone string) string {
	return "pending#" + phone
}

// Get returns the conversation or nil when none is stored.
func (c *ConversationStore) Get(ctx context.Context, tenantID string, channel domain.Channel, channelUserID string) (*domain.Conversation, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            pkKey(conversationPK(tenantID, channel, channelUserID)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetConversation get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	var rec conversationRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("repository: GetConversation unmarshal: %w", err)
	}
	return rec.toDomain(), nil
}

// Upsert applies a partial update. Only non-nil patch fields are written;
// a pointer to an empty string removes the attribute. updated_at and the
// identity attributes are always refreshed.
func (c *ConversationStore) Upsert(ctx context.Context, tenantID string, channel domain.Channel, channelUserID string, patch domain.ConversationPatch) error {
	var sets, removes []string
	vals := map[string]types.AttributeValue{}

	set := func(field string, v types.AttributeValue) {
		sets = append(sets, field+" = :"+field)
		vals[":"+field] = v
	}
	setStr := func(field string, p *string) {
		if p == nil {
			return
		}
		if *p == "" {
			removes = append(removes, field)
			return
		}
		set(field, strVal(*p))
	}

	set("updated_at", numVal(c.now().Unix()))
	set("tenant_id", strVal(tenantID))
	set("channel", strVal(string(channel)))
	set("channel_user_id", strVal(channelUserID))

	setStr("language_code", patch.LanguageCode)
	setStr("last_intent", patch.LastIntent)
	if patch.Status != nil {
		status := *patch.Status
		if status == "" {
			status = domain.StatusNone
		}
		set("state_machine_status", strVal(string(status)))
	}
	setStr("pg_member_id", patch.PGMemberID)
	if patch.VerificationLevel != nil {
		level := string(*patch.VerificationLevel)
		setStr("pg_verification_level", &level)
	}
	if patch.VerifiedUntil != nil {
		set("pg_verified_until", numVal(*patch.VerifiedUntil))
	}
	setStr("verification_code", patch.VerificationCode)
	setStr("pg_challenge_type", patch.ChallengeType)
	if patch.ChallengeAttempts != nil {
		set("pg_challenge_attempts", numVal(int64(*patch.ChallengeAttempts)))
	}
	setStr("assigned_agent", patch.AssignedAgent)

	sort.Strings(removes)
	expr := "SET " + strings.Join(sets, ", ")
	if len(removes) > 0 {
		expr += " REMOVE " + strings.Join(removes, ", ")
	}

	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       pkKey(conversationPK(tenantID, channel, channelUserID)),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeValues: vals,
	})
	if err != nil {
		return fmt.Errorf("repository: UpsertConversation: %w", err)
	}
	return nil
}

// AssignAgent hands the conversation over to a human agent.
func (c *ConversationStore) AssignAgent(ctx context.Context, tenantID string, channel domain.Channel, channelUserID, agentID string) error {
	return c.Upsert(ctx, tenantID, channel, channelUserID, domain.ConversationPatch{
		AssignedAgent: domain.Ref(agentID),
		Status:        domain.Ref(domain.StatusHandover),
	})
}

// ReleaseAgent returns the conversation to the bot.
func (c *ConversationStore) ReleaseAgent(ctx context.Context, tenantID string, channel domain.Channel, channelUserID string) error {
	return c.Upsert(ctx, tenantID, channel, channelUserID, domain.ConversationPatch{
		AssignedAgent: domain.Ref(""),
		Status:        domain.Ref(domain.StatusNone),
	})
}

// FindByVerificationCode scans the tenant's conversations for an outstanding
// verification code. Returns nil when no conversation holds it.
func (c *ConversationStore) FindByVerificationCode(ctx context.Context, tenantID, code string) (*domain.Conversation, error) {
	if code == "" {
		return nil, nil
	}
	p := dynamodb.NewScanPaginator(c.api, &dynamodb.ScanInput{
		TableName:        aws.String(c.tableName),
		FilterExpression: aws.String("tenant_id = :t AND verification_code = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": strVal(tenantID),
			":v": strVal(code),
		},
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("repository: FindByVerificationCode scan: %w", err)
		}
		if len(page.Items) == 0 {
			continue
		}
		var rec conversationRecord
		if err := attributevalue.UnmarshalMap(page.Items[0], &rec); err != nil {
			return nil, fmt.Errorf("repository: FindByVerificationCode unmarshal: %w", err)
		}
		return rec.toDomain(), nil
	}
	return nil, nil
}

// GetPending returns the pending reservation for a phone or nil.
func (c *ConversationStore) GetPending(ctx context.Context, phone string) (*domain.PendingReservation, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            pkKey(pendingPK(phone)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetPending get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	var rec pendingRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("repository: GetPending unmarshal: %w", err)
	}
	return &domain.PendingReservation{
		Phone:          rec.Phone,
		ClassID:        rec.ClassID,
		MemberID:       rec.MemberID,
		IdempotencyKey: rec.IdempotencyKey,
		CreatedAt:      rec.CreatedAt,
	}, nil
}

// PutPending stores the pending reservation, replacing any previous one for the phone.
func (c *ConversationStore) PutPending(ctx context.Context, p domain.PendingReservation) error {
	if p.Phone == "" {
		return errors.New("repository: PutPending: phone is required")
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = c.now().Unix()
	}
	item, err := attributevalue.MarshalMap(pendingRecord{
		PK:             pendingPK(p.Phone),
		Phone:          p.Phone,
		ClassID:        p.ClassID,
		MemberID:       p.MemberID,
		IdempotencyKey: p.IdempotencyKey,
		CreatedAt:      p.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("repository: PutPending marshal: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: PutPending: %w", err)
	}
	return nil
}

// DeletePending removes the pending reservation for a phone.
func (c *ConversationStore) DeletePending(ctx context.Context, phone string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       pkKey(pendingPK(phone)),
	})
	if err != nil {
		return fmt.Errorf("repository: DeletePending: %w", err)
	}
	return nil
}
