package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
)

type messageRecord struct {
	PK              string  `dynamodbav:"pk"`
	SK              string  `dynamodbav:"sk"`
	TenantID        string  `dynamodbav:"tenant_id"`
	ConversationKey string  `dynamodbav:"conversation_id"`
	MessageID       string  `dynamodbav:"msg_id"`
	Direction       string  `dynamodbav:"direction"`
	Body            string  `dynamodbav:"body"`
	From            string  `dynamodbav:"from"`
	To              string  `dynamodbav:"to"`
	Channel         string  `dynamodbav:"channel"`
	LanguageCode    string  `dynamodbav:"language_code,omitempty"`
	AIConfidence    float64 `dynamodbav:"ai_confidence,omitempty"`
	CreatedAt       int64   `dynamodbav:"created_at"`
}

// MessageStore is the per-conversation message log.
type MessageStore struct {
	*Client
	now   func() time.Time
	newID func() string
}

// NewMessageStore creates a MessageStore over the given table.
func NewMessageStore(api dynamodbAPI, tableName string) (*MessageStore, error) {
	c, err := New(api, tableName)
	if err != nil {
		return nil, err
	}
	return &MessageStore{Client: c, now: time.Now, newID: uuid.NewString}, nil
}

func messagePK(tenantID, conversationKey string) string {
	return tenantID + "#" + conversationKey
}

// messageSK sorts by unix second, then direction, then id.
func messageSK(ts int64, direction, msgID string) string {
	return strconv.FormatInt(ts, 10) + "#" + direction + "#" + msgID
}

// LogMessage appends a message. MessageID and CreatedAt are filled in when empty.
func (m *MessageStore) LogMessage(ctx context.Context, msg domain.LoggedMessage) error {
	if msg.TenantID == "" || msg.ConversationKey == "" {
		return errors.New("repository: LogMessage: tenant and conversation key are required")
	}
	if msg.MessageID == "" {
		msg.MessageID = m.newID()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = m.now().Unix()
	}

	item, err := attributevalue.MarshalMap(messageRecord{
		PK:              messagePK(msg.TenantID, msg.ConversationKey),
		SK:              messageSK(msg.CreatedAt, msg.Direction, msg.MessageID),
		TenantID:        msg.TenantID,
		ConversationKey: msg.ConversationKey,
		MessageID:       msg.MessageID,
		Direction:       msg.Direction,
		Body:            msg.Body,
		From:            msg.From,
		To:              msg.To,
		Channel:         string(msg.Channel),
		LanguageCode:    msg.LanguageCode,
		AIConfidence:    msg.AIConfidence,
		CreatedAt:       msg.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("repository: LogMessage marshal: %w", err)
	}

	_, err = m.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(m.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk) AND attribute_not_exists(sk)"),
	})
	if err != nil {
		return fmt.Errorf("repository: LogMessage: %w", err)
	}
	return nil
}

// GetLastMessages returns up to limit messages of a conversation, newest first.
func (m *MessageStore) GetLastMessages(ctx context.Context, tenantID, conversationKey string, limit int) ([]domain.LoggedMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	out, err := m.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(m.tableName),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": strVal(messagePK(tenantID, conversationKey)),
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetLastMessages query: %w", err)
	}

	msgs := make([]domain.LoggedMessage, 0, len(out.Items))
	for _, item := range out.Items {
		var rec messageRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, fmt.Errorf("repository: GetLastMessages unmarshal: %w", err)
		}
		msgs = append(msgs, domain.LoggedMessage{
			TenantID:        rec.TenantID,
			ConversationKey: rec.ConversationKey,
			MessageID:       rec.MessageID,
			Direction:       rec.Direction,
			Body:            rec.Body,
			From:            rec.From,
			To:              rec.To,
			Channel:         domain.ParseChannel(rec.Channel),
			LanguageCode:    rec.LanguageCode,
			AIConfidence:    rec.AIConfidence,
			CreatedAt:       rec.CreatedAt,
		})
	}
	return msgs, nil
}
