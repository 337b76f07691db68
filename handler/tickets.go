package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
	"github.com/proactiveitadmin/gym-integrator/internal/ticketing"
)

const defaultTicketSummary = "Zgłoszenie klienta"

type TicketBuilder interface {
	Build(ctx context.Context, in ticketing.Input) domain.TicketRequest
}

type TicketCreator interface {
	CreateTicket(ctx context.Context, req domain.TicketRequest) (domain.TicketResult, error)
}

// ticketEnvelope is the payload of a ticket action.
type ticketEnvelope struct {
	TenantID        string         `json:"tenant_id"`
	ConversationKey string         `json:"conversation_key"`
	ConversationID  string         `json:"conversation_id"`
	Phone           string         `json:"phone"`
	Channel         string         `json:"channel"`
	ChannelUserID   string         `json:"channel_user_id"`
	LanguageCode    string         `json:"language_code"`
	Intent          string         `json:"intent"`
	Summary         string         `json:"summary"`
	Description     string         `json:"description"`
	Body            string         `json:"body"`
	Slots           map[string]any `json:"slots"`
}

func (e ticketEnvelope) conversationKey() string {
	switch {
	case e.ConversationKey != "":
		return e.ConversationKey
	case e.ConversationID != "":
		return e.ConversationID
	}
	return e.ChannelUserID
}

func (e ticketEnvelope) input() ticketing.Input {
	slots := domain.Slots(e.Slots).Clone()
	if e.Summary != "" {
		slots[domain.PayloadSummary] = e.Summary
	}
	if e.Description != "" {
		slots[domain.PayloadDescription] = e.Description
	}
	return ticketing.Input{
		TenantID:        e.TenantID,
		ConversationKey: e.conversationKey(),
		Phone:           e.Phone,
		Channel:         domain.ParseChannel(e.Channel),
		ChannelUserID:   e.ChannelUserID,
		LanguageCode:    e.LanguageCode,
		Intent:          domain.ParseIntent(e.Intent),
		Slots:           slots,
		LastMessage:     e.Body,
		DefaultSummary:  defaultTicketSummary,
	}
}

// Tickets turns queued ticket actions into Jira issues.
type Tickets struct {
	builder TicketBuilder
	creator TicketCreator
}

func NewTickets(builder TicketBuilder, creator TicketCreator) (*Tickets, error) {
	if builder == nil {
		return nil, errors.New("handler: ticket builder must not be nil")
	}
	if creator == nil {
		return nil, errors.New("handler: ticket creator must not be nil")
	}
	return &Tickets{builder: builder, creator: creator}, nil
}

func (t *Tickets) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := t.process(ctx, rec.Body); err != nil {
			slog.ErrorContext(ctx, "ticket record failed", "message_id", rec.MessageId, "err", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (t *Tickets) process(ctx context.Context, body string) error {
	var env ticketEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		slog.WarnContext(ctx, "skipping malformed ticket record", "err", err)
		return nil
	}
	if env.TenantID == "" {
		slog.WarnContext(ctx, "skipping ticket record without tenant")
		return nil
	}

	req := t.builder.Build(ctx, env.input())
	res, err := t.creator.CreateTicket(ctx, req)
	if err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	if !res.OK {
		return errors.New("create ticket: rejected")
	}
	slog.InfoContext(ctx, "ticket created", "tenant_id", env.TenantID, "ticket_id", res.TicketID)
	return nil
}
