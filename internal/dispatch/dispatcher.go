package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
	"github.com/proactiveitadmin/gym-integrator/internal/logging"
)

// Publisher sends a JSON document to a queue.
type Publisher interface {
	Publish(ctx context.Context, queueURL string, v any) (string, error)
}

// Queues holds the destination queue per action kind. An empty URL means
// the action is only logged.
type Queues struct {
	Outbound    string
	WebOutbound string
	Tickets     string
	Handover    string
}

type Dispatcher struct {
	pub    Publisher
	queues Queues
}

func New(pub Publisher, queues Queues) (*Dispatcher, error) {
	if pub == nil {
		return nil, errors.New("dispatch: publisher must not be nil")
	}
	return &Dispatcher{pub: pub, queues: queues}, nil
}

type whatsAppReply struct {
	To           string `json:"to"`
	Body         string `json:"body"`
	TenantID     string `json:"tenant_id"`
	Channel      string `json:"channel"`
	LanguageCode string `json:"language_code,omitempty"`
}

type webReply struct {
	TenantID      string `json:"tenant_id"`
	ChannelUserID string `json:"channel_user_id"`
	Body          string `json:"body"`
	LanguageCode  string `json:"language_code,omitempty"`
}

// Dispatch delivers every action. A failing action does not stop the rest;
// all failures are returned joined.
func (d *Dispatcher) Dispatch(ctx context.Context, actions []domain.Action) error {
	var errs []error
	for i, a := range actions {
		if err := d.dispatchOne(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("dispatch: action %d (%s): %w", i, a.Type, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) dispatchOne(ctx context.Context, a domain.Action) error {
	switch a.Type {
	case domain.ActionReply:
		return d.reply(ctx, a)
	case domain.ActionTicket:
		return d.forward(ctx, d.queues.Tickets, "ticket_no_queue", a)
	case domain.ActionHandover:
		return d.forward(ctx, d.queues.Handover, "handover_no_queue", a)
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}

func (d *Dispatcher) reply(ctx context.Context, a domain.Action) error {
	tenantID := a.PayloadString(domain.PayloadTenantID)
	channel := domain.ParseChannel(a.PayloadString(domain.PayloadChannel))

	if channel == domain.ChannelWeb {
		msg := webReply{
			TenantID:      tenantID,
			ChannelUserID: a.PayloadString(domain.PayloadChannelUserID),
			Body:          a.PayloadString(domain.PayloadBody),
			LanguageCode:  a.PayloadString(domain.PayloadLanguageCode),
		}
		if d.queues.WebOutbound == "" {
			slog.InfoContext(ctx, "web_outbound_no_queue",
				"tenant_id", tenantID,
				"channel_user_id", msg.ChannelUserID,
				"body", logging.ShortenBody(msg.Body, 60),
			)
			return nil
		}
		if _, err := d.pub.Publish(ctx, d.queues.WebOutbound, msg); err != nil {
			return err
		}
		logging.Metric(ctx, "message_sent", "tenant_id", tenantID, "channel", string(channel))
		return nil
	}

	msg := whatsAppReply{
		To:           a.PayloadString(domain.PayloadTo),
		Body:         a.PayloadString(domain.PayloadBody),
		TenantID:     tenantID,
		Channel:      string(domain.ChannelWhatsApp),
		LanguageCode: a.PayloadString(domain.PayloadLanguageCode),
	}
	if msg.To == "" {
		return errors.New("reply without recipient")
	}
	if d.queues.Outbound == "" {
		slog.InfoContext(ctx, "outbound_no_queue",
			"tenant_id", tenantID,
			"to", logging.MaskPhone(msg.To),
			"body", logging.ShortenBody(msg.Body, 60),
		)
		return nil
	}
	if _, err := d.pub.Publish(ctx, d.queues.Outbound, msg); err != nil {
		return err
	}
	logging.Metric(ctx, "message_sent", "tenant_id", tenantID, "channel", string(domain.ChannelWhatsApp))
	return nil
}

func (d *Dispatcher) forward(ctx context.Context, queueURL, noQueueEvent string, a domain.Action) error {
	if queueURL == "" {
		slog.InfoContext(ctx, noQueueEvent,
			"tenant_id", a.PayloadString(domain.PayloadTenantID),
			"channel", a.PayloadString(domain.PayloadChannel),
		)
		return nil
	}
	_, err := d.pub.Publish(ctx, queueURL, a.Payload)
	return err
}
