package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
)

func mustConversationStore(t *testing.T, db *fakeDynamo) *ConversationStore {
	t.Helper()
	c, err := NewConversationStore(db, "Conversations")
	require.NoError(t, err)
	c.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return c
}

func TestConversationGet_Missing(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustConversationStore(t, db)

	conv, err := c.Get(context.Background(), "t1", domain.ChannelWhatsApp, "whatsapp:+48500")
	require.NoError(t, err)
	require.Nil(t, conv)
	require.Equal(t, "conv#t1#whatsapp#whatsapp:+48500", sAttr(db.lastGetInput.Key, "pk"))
	require.True(t, *db.lastGetInput.ConsistentRead)
}

func TestConversationGet_Decodes(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"pk":                    strVal("conv#t1#web#sess-1"),
		"tenant_id":             strVal("t1"),
		"channel":               strVal("web"),
		"channel_user_id":       strVal("sess-1"),
		"language_code":         strVal("en"),
		"state_machine_status":  strVal("awaiting_verification"),
		"pg_verification_level": strVal("strong"),
		"pg_verified_until":     numVal(1_700_000_900),
		"verification_code":     strVal("AB12CD34"),
		"pg_challenge_attempts": numVal(2),
	}}}
	c := mustConversationStore(t, db)

	conv, err := c.Get(context.Background(), "t1", domain.ChannelWeb, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, conv)
	require.Equal(t, domain.ChannelWeb, conv.Channel)
	require.Equal(t, "en", conv.LanguageCode)
	require.Equal(t, domain.StatusAwaitingVerification, conv.Status)
	require.Equal(t, domain.VerificationStrong, conv.VerificationLevel)
	require.Equal(t, int64(1_700_000_900), conv.VerifiedUntil)
	require.Equal(t, "AB12CD34", conv.VerificationCode)
	require.Equal(t, 2, conv.ChallengeAttempts)
}

func TestConversationGet_Error(t *testing.T) {
	db := &fakeDynamo{getErr: errors.New("boom")}
	c := mustConversationStore(t, db)

	_, err := c.Get(context.Background(), "t1", domain.ChannelWhatsApp, "u")
	require.ErrorContains(t, err, "repository: GetConversation get item")
}

func TestConversationUpsert_OnlySetsProvidedFields(t *testing.T) {
	db := &fakeDynamo{}
	c := mustConversationStore(t, db)

	err := c.Upsert(context.Background(), "t1", domain.ChannelWhatsApp, "whatsapp:+48500", domain.ConversationPatch{
		LanguageCode:      domain.Ref("pl"),
		Status:            domain.Ref(domain.StatusAwaitingChallenge),
		ChallengeType:     domain.Ref(domain.ChallengeDOB),
		ChallengeAttempts: domain.Ref(0),
	})
	require.NoError(t, err)
	require.Len(t, db.updateInputs, 1)

	in := db.updateInputs[0]
	expr := *in.UpdateExpression
	require.Contains(t, expr, "language_code = :language_code")
	require.Contains(t, expr, "state_machine_status = :state_machine_status")
	require.Contains(t, expr, "pg_challenge_type = :pg_challenge_type")
	require.Contains(t, expr, "pg_challenge_attempts = :pg_challenge_attempts")
	require.Contains(t, expr, "updated_at = :updated_at")
	require.NotContains(t, expr, "last_intent")
	require.NotContains(t, expr, "REMOVE")

	require.Equal(t, "awaiting_challenge", sAttr(in.ExpressionAttributeValues, ":state_machine_status"))
	require.Equal(t, "0", in.ExpressionAttributeValues[":pg_challenge_attempts"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "1700000000", in.ExpressionAttributeValues[":updated_at"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "t1", sAttr(in.ExpressionAttributeValues, ":tenant_id"))
}

func TestConversationUpsert_EmptyStringRemoves(t *testing.T) {
	db := &fakeDynamo{}
	c := mustConversationStore(t, db)

	err := c.ReleaseAgent(context.Background(), "t1", domain.ChannelWhatsApp, "u1")
	require.NoError(t, err)

	expr := *db.updateInputs[0].UpdateExpression
	require.Contains(t, expr, " REMOVE assigned_agent")
	require.Equal(t, "none", sAttr(db.updateInputs[0].ExpressionAttributeValues, ":state_machine_status"))
}

func TestConversationAssignAgent(t *testing.T) {
	db := &fakeDynamo{}
	c := mustConversationStore(t, db)

	require.NoError(t, c.AssignAgent(context.Background(), "t1", domain.ChannelWeb, "s1", "agent-7"))
	vals := db.updateInputs[0].ExpressionAttributeValues
	require.Equal(t, "agent-7", sAttr(vals, ":assigned_agent"))
	require.Equal(t, "handover", sAttr(vals, ":state_machine_status"))
}

func TestConversationUpsert_Error(t *testing.T) {
	db := &fakeDynamo{updateErr: errors.New("throttled")}
	c := mustConversationStore(t, db)

	err := c.Upsert(context.Background(), "t1", domain.ChannelWeb, "s1", domain.ConversationPatch{LastIntent: domain.Ref("faq")})
	require.ErrorContains(t, err, "repository: UpsertConversation: throttled")
}

func TestFindByVerificationCode(t *testing.T) {
	db := &fakeDynamo{scanOut: &dynamodb.ScanOutput{Items: []map[string]types.AttributeValue{{
		"pk":                strVal("conv#t1#web#sess-9"),
		"tenant_id":         strVal("t1"),
		"channel":           strVal("web"),
		"channel_user_id":   strVal("sess-9"),
		"verification_code": strVal("CODE1234"),
	}}}}
	c := mustConversationStore(t, db)

	conv, err := c.FindByVerificationCode(context.Background(), "t1", "CODE1234")
	require.NoError(t, err)
	require.NotNil(t, conv)
	require.Equal(t, "sess-9", conv.ChannelUserID)
	require.Equal(t, domain.ChannelWeb, conv.Channel)
	require.Equal(t, "CODE1234", sAttr(db.lastScanInput.ExpressionAttributeValues, ":v"))
	require.Equal(t, "t1", sAttr(db.lastScanInput.ExpressionAttributeValues, ":t"))
}

func TestFindByVerificationCode_NotFound(t *testing.T) {
	db := &fakeDynamo{}
	c := mustConversationStore(t, db)

	conv, err := c.FindByVerificationCode(context.Background(), "t1", "NOPE")
	require.NoError(t, err)
	require.Nil(t, conv)

	conv, err = c.FindByVerificationCode(context.Background(), "t1", "")
	require.NoError(t, err)
	require.Nil(t, conv)
}

func TestPending_PutGetDelete(t *testing.T) {
	db := &fakeDynamo{}
	c := mustConversationStore(t, db)
	ctx := context.Background()

	err := c.PutPending(ctx, domain.PendingReservation{
		Phone:          "whatsapp:+48500",
		ClassID:        "777",
		MemberID:       "105",
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	item := db.lastPutInput.Item
	require.Equal(t, "pending#whatsapp:+48500", sAttr(item, "pk"))
	require.Equal(t, "777", sAttr(item, "class_id"))
	require.Equal(t, "idem-1", sAttr(item, "idempotency_key"))

	db.getOut = &dynamodb.GetItemOutput{Item: item}
	p, err := c.GetPending(ctx, "whatsapp:+48500")
	require.NoError(t, err)
	require.Equal(t, "777", p.ClassID)
	require.Equal(t, "105", p.MemberID)
	require.Equal(t, int64(1_700_000_000), p.CreatedAt)

	require.NoError(t, c.DeletePending(ctx, "whatsapp:+48500"))
	require.Equal(t, "pending#whatsapp:+48500", sAttr(db.deleteInputs[0].Key, "pk"))
}

func TestPutPending_RequiresPhone(t *testing.T) {
	c := mustConversationStore(t, &fakeDynamo{})
	err := c.PutPending(context.Background(), domain.PendingReservation{ClassID: "1"})
	require.EqualError(t, err, "repository: PutPending: phone is required")
}

func TestGetPending_Missing(t *testing.T) {
	c := mustConversationStore(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	p, err := c.GetPending(context.Background(), "x")
	require.NoError(t, err)
	require.Nil(t, p)
}
