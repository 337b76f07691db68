package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
)

type published struct {
	queue string
	v     any
}

type stubPublisher struct {
	sent  []published
	errOn string
}

func (s *stubPublisher) Publish(_ context.Context, queueURL string, v any) (string, error) {
	if queueURL == s.errOn {
		return "", errors.New("sqs unavailable")
	}
	s.sent = append(s.sent, published{queue: queueURL, v: v})
	return "msg-1", nil
}

var allQueues = Queues{
	Outbound:    "q-out",
	WebOutbound: "q-web",
	Tickets:     "q-tickets",
	Handover:    "q-handover",
}

func TestNew_NilPublisher(t *testing.T) {
	_, err := New(nil, Queues{})
	require.ErrorContains(t, err, "must not be nil")
}

func TestDispatch_WhatsAppReply(t *testing.T) {
	pub := &stubPublisher{}
	d, err := New(pub, allQueues)
	require.NoError(t, err)

	err = d.Dispatch(context.Background(), []domain.Action{{
		Type: domain.ActionReply,
		Payload: map[string]any{
			domain.PayloadTo:           "whatsapp:+48500",
			domain.PayloadBody:         "Cześć",
			domain.PayloadTenantID:     "t1",
			domain.PayloadChannel:      "whatsapp",
			domain.PayloadLanguageCode: "pl",
		},
	}})
	require.NoError(t, err)
	require.Len(t, pub.sent, 1)
	require.Equal(t, "q-out", pub.sent[0].queue)
	require.Equal(t, whatsAppReply{To: "whatsapp:+48500", Body: "Cześć", TenantID: "t1", Channel: "whatsapp", LanguageCode: "pl"}, pub.sent[0].v)
}

func TestDispatch_WebReply(t *testing.T) {
	pub := &stubPublisher{}
	d, err := New(pub, allQueues)
	require.NoError(t, err)

	err = d.Dispatch(context.Background(), []domain.Action{{
		Type: domain.ActionReply,
		Payload: map[string]any{
			domain.PayloadBody:          "Kod: ABC",
			domain.PayloadTenantID:      "t1",
			domain.PayloadChannel:       "web",
			domain.PayloadChannelUserID: "web-42",
		},
	}})
	require.NoError(t, err)
	require.Len(t, pub.sent, 1)
	require.Equal(t, "q-web", pub.sent[0].queue)
	require.Equal(t, webReply{TenantID: "t1", ChannelUserID: "web-42", Body: "Kod: ABC"}, pub.sent[0].v)
}

func TestDispatch_NoQueuesOnlyLogs(t *testing.T) {
	pub := &stubPublisher{}
	d, err := New(pub, Queues{})
	require.NoError(t, err)

	err = d.Dispatch(context.Background(), []domain.Action{
		{Type: domain.ActionReply, Payload: map[string]any{domain.PayloadTo: "p", domain.PayloadChannel: "whatsapp"}},
		{Type: domain.ActionReply, Payload: map[string]any{domain.PayloadChannel: "web", domain.PayloadChannelUserID: "u"}},
		{Type: domain.ActionTicket, Payload: map[string]any{domain.PayloadTenantID: "t1"}},
		{Type: domain.ActionHandover, Payload: map[string]any{domain.PayloadTenantID: "t1"}},
	})
	require.NoError(t, err)
	require.Empty(t, pub.sent)
}

func TestDispatch_TicketAndHandoverForwardPayload(t *testing.T) {
	pub := &stubPublisher{}
	d, err := New(pub, allQueues)
	require.NoError(t, err)

	ticket := map[string]any{domain.PayloadTenantID: "t1", domain.PayloadSummary: "Brak zajęć"}
	handover := map[string]any{domain.PayloadTenantID: "t1", domain.PayloadReason: "challenge_failed"}
	err = d.Dispatch(context.Background(), []domain.Action{
		{Type: domain.ActionTicket, Payload: ticket},
		{Type: domain.ActionHandover, Payload: handover},
	})
	require.NoError(t, err)
	require.Equal(t, []published{{queue: "q-tickets", v: ticket}, {queue: "q-handover", v: handover}}, pub.sent)
}

func TestDispatch_AttemptsAllAndJoinsErrors(t *testing.T) {
	pub := &stubPublisher{errOn: "q-out"}
	d, err := New(pub, allQueues)
	require.NoError(t, err)

	err = d.Dispatch(context.Background(), []domain.Action{
		{Type: domain.ActionReply, Payload: map[string]any{domain.PayloadTo: "p"}},
		{Type: domain.ActionTicket, Payload: map[string]any{domain.PayloadTenantID: "t1"}},
		{Type: "bogus"},
	})
	require.Error(t, err)
	require.ErrorContains(t, err, "action 0 (reply)")
	require.ErrorContains(t, err, "sqs unavailable")
	require.ErrorContains(t, err, `unknown action type "bogus"`)
	require.Len(t, pub.sent, 1)
	require.Equal(t, "q-tickets", pub.sent[0].queue)
}

func TestDispatch_ReplyWithoutRecipient(t *testing.T) {
	d, err := New(&stubPublisher{}, allQueues)
	require.NoError(t, err)

	err = d.Dispatch(context.Background(), []domain.Action{{Type: domain.ActionReply, Payload: map[string]any{domain.PayloadBody: "x"}}})
	require.ErrorContains(t, err, "without recipient")
}
