package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"golang.org/x/sync/errgroup"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
	"github.com/proactiveitadmin/gym-integrator/internal/logging"
	"github.com/proactiveitadmin/gym-integrator/internal/usecase"
)

const defaultTenantID = "default"

type Engine interface {
	Handle(ctx context.Context, msg domain.Message) ([]domain.Action, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, actions []domain.Action) error
}

type RateLimiter interface {
	IsBlocked(ctx context.Context, tenantID, phone string) bool
}

type MessageLog interface {
	LogMessage(ctx context.Context, msg domain.LoggedMessage) error
}

// inboundEnvelope is the queue message produced by the webhook and widget
// front ends.
type inboundEnvelope struct {
	EventID        string         `json:"event_id"`
	TenantID       string         `json:"tenant_id"`
	From           string         `json:"from"`
	To             string         `json:"to"`
	Body           string         `json:"body"`
	Channel        string         `json:"channel"`
	ChannelUserID  string         `json:"channel_user_id"`
	ConversationID string         `json:"conversation_id"`
	LanguageCode   string         `json:"language_code"`
	Intent         string         `json:"intent"`
	Slots          map[string]any `json:"slots"`
}

func (e inboundEnvelope) toMessage() domain.Message {
	msg := domain.Message{
		TenantID:       strings.TrimSpace(e.TenantID),
		From:           strings.TrimSpace(e.From),
		To:             strings.TrimSpace(e.To),
		Body:           e.Body,
		Channel:        domain.ParseChannel(e.Channel),
		ChannelUserID:  strings.TrimSpace(e.ChannelUserID),
		EventID:        strings.TrimSpace(e.EventID),
		ConversationID: strings.TrimSpace(e.ConversationID),
		LanguageCode:   strings.TrimSpace(e.LanguageCode),
		Intent:         strings.TrimSpace(e.Intent),
		Slots:          e.Slots,
	}
	if msg.TenantID == "" {
		msg.TenantID = defaultTenantID
	}
	if msg.ChannelUserID == "" {
		msg.ChannelUserID = msg.From
	}
	return msg
}

// DecodeInbound parses one queue message body.
func DecodeInbound(body string) (domain.Message, error) {
	var env inboundEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return domain.Message{}, err
	}
	return env.toMessage(), nil
}

// Router consumes inbound messages from SQS, routes them through the engine
// and dispatches the resulting actions.
type Router struct {
	engine      Engine
	dispatcher  Dispatcher
	limiter     RateLimiter
	messages    MessageLog
	concurrency int
}

func NewRouter(engine Engine, dispatcher Dispatcher, limiter RateLimiter, messages MessageLog, concurrency int) (*Router, error) {
	if engine == nil {
		return nil, errors.New("handler: engine must not be nil")
	}
	if dispatcher == nil {
		return nil, errors.New("handler: dispatcher must not be nil")
	}
	if limiter == nil {
		return nil, errors.New("handler: rate limiter must not be nil")
	}
	if messages == nil {
		return nil, errors.New("handler: message log must not be nil")
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Router{
		engine:      engine,
		dispatcher:  dispatcher,
		limiter:     limiter,
		messages:    messages,
		concurrency: concurrency,
	}, nil
}

// Handle processes an SQS batch. Records of one sender are processed in
// batch order; different senders run concurrently. Records whose actions
// could not be delivered are reported back so SQS redelivers only those.
// After a failure the sender's later records are reported too, so the
// redelivery keeps their order.
func (r *Router) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var (
		mu       sync.Mutex
		failures []events.SQSBatchItemFailure
	)
	fail := func(ids ...string) {
		mu.Lock()
		defer mu.Unlock()
		for _, id := range ids {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: id})
		}
	}

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, group := range groupBySender(ctx, ev.Records) {
		g.Go(func() error {
			for i, rec := range group {
				if _, err := r.Route(ctx, rec.msg); err != nil {
					slog.ErrorContext(ctx, "router record failed", "message_id", rec.id, "err", err)
					ids := make([]string, 0, len(group)-i)
					for _, rest := range group[i:] {
						ids = append(ids, rest.id)
					}
					fail(ids...)
					return nil
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

type inboundRecord struct {
	id  string
	msg domain.Message
}

// groupBySender decodes the batch and splits it per tenant and sender,
// keeping batch order inside each group. Malformed records are dropped.
func groupBySender(ctx context.Context, records []events.SQSMessage) [][]inboundRecord {
	var (
		groups [][]inboundRecord
		index  = map[string]int{}
	)
	for _, rec := range records {
		msg, err := DecodeInbound(rec.Body)
		if err != nil {
			slog.WarnContext(ctx, "skipping malformed inbound record", "message_id", rec.MessageId, "err", err)
			continue
		}
		key := msg.TenantID + "#" + msg.SenderKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], inboundRecord{id: rec.MessageId, msg: msg})
	}
	return groups
}

// Route runs a single message through rate limiting, the engine and
// dispatch. It returns the actions that were dispatched.
func (r *Router) Route(ctx context.Context, msg domain.Message) ([]domain.Action, error) {
	if r.limiter.IsBlocked(ctx, msg.TenantID, msg.SenderKey()) {
		slog.WarnContext(ctx, "message dropped by rate limiter",
			"tenant_id", msg.TenantID, "from", logging.MaskPhone(msg.SenderKey()))
		return nil, nil
	}

	r.logMessage(ctx, domain.LoggedMessage{
		TenantID:        msg.TenantID,
		ConversationKey: msg.ConversationKey(),
		MessageID:       msg.EventID,
		Direction:       domain.DirectionInbound,
		Body:            msg.Body,
		From:            msg.From,
		To:              msg.To,
		Channel:         msg.Channel,
		LanguageCode:    msg.LanguageCode,
	})

	actions, err := r.engine.Handle(ctx, msg)
	if err != nil {
		var ucErr *usecase.Error
		if errors.As(err, &ucErr) && ucErr.Code == usecase.ErrorInvalidInput {
			slog.WarnContext(ctx, "skipping unroutable message", "tenant_id", msg.TenantID, "reason", ucErr.Reason)
			return nil, nil
		}
		return nil, err
	}

	if err := r.dispatcher.Dispatch(ctx, actions); err != nil {
		return actions, err
	}

	for _, a := range actions {
		if a.Type != domain.ActionReply {
			continue
		}
		r.logMessage(ctx, domain.LoggedMessage{
			TenantID:        msg.TenantID,
			ConversationKey: msg.ConversationKey(),
			Direction:       domain.DirectionOutbound,
			Body:            a.PayloadString(domain.PayloadBody),
			From:            msg.To,
			To:              a.PayloadString(domain.PayloadTo),
			Channel:         msg.Channel,
			LanguageCode:    a.PayloadString(domain.PayloadLanguageCode),
		})
	}
	return actions, nil
}

func (r *Router) logMessage(ctx context.Context, m domain.LoggedMessage) {
	if err := r.messages.LogMessage(ctx, m); err != nil {
		slog.WarnContext(ctx, "message log write failed",
			"tenant_id", m.TenantID, "direction", m.Direction, "err", err)
	}
}
