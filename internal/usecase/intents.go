package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
	"github.com/proactiveitadmin/gym-integrator/internal/templates"
	"github.com/proactiveitadmin/gym-integrator/internal/ticketing"
)

const (
	defaultFAQTopic = "hours"
	unknownAgent    = "unknown"
)

func (e *Engine) handleClarify(ctx context.Context, t *turn) []domain.Action {
	return e.replyTemplate(ctx, t, "clarify_generic", nil)
}

func (e *Engine) handleFAQ(ctx context.Context, t *turn) []domain.Action {
	topic := t.slots.StringOr("topic", defaultFAQTopic)
	if answer, ok := e.deps.KB.Answer(ctx, topic, t.tenantID(), t.lang); ok {
		return []domain.Action{e.reply(t, answer)}
	}
	return e.replyTemplate(ctx, t, "faq_no_info", map[string]any{"topic": topic})
}

func (e *Engine) handleHandover(ctx context.Context, t *turn) []domain.Action {
	agent := t.slots.StringOr(domain.PayloadAgentID, unknownAgent)
	if err := e.deps.Conversations.AssignAgent(ctx, t.tenantID(), t.msg.Channel, t.userID, agent); err != nil {
		e.logFailure(ctx, t, newError(ErrorInternal, "conversation_write_error", err))
	}
	t.conv.AssignedAgent = agent
	t.conv.Status = domain.StatusHandover
	return e.replyTemplate(ctx, t, "handover_to_staff", nil)
}

func (e *Engine) handleTicket(ctx context.Context, t *turn) []domain.Action {
	req := e.deps.TicketBuilder.Build(ctx, ticketing.Input{
		TenantID:        t.tenantID(),
		ConversationKey: t.msg.ConversationKey(),
		Phone:           t.msg.From,
		Channel:         t.msg.Channel,
		ChannelUserID:   t.userID,
		LanguageCode:    t.lang,
		Intent:          t.intent,
		Slots:           t.slots,
		LastMessage:     t.msg.Body,
		DefaultSummary:  e.render(ctx, t, "ticket_summary", nil),
	})

	res, err := e.deps.Tickets.CreateTicket(ctx, req)
	if err != nil {
		e.logFailure(ctx, t, newError(ErrorUpstream, "jira_create_error", err))
		return e.replyTemplate(ctx, t, "ticket_created_failed", nil)
	}
	if !res.OK {
		return e.replyTemplate(ctx, t, "ticket_created_failed", nil)
	}
	return e.replyTemplate(ctx, t, "ticket_created_ok", map[string]any{"ticket": res.TicketID})
}

// handleAvailableClasses lists upcoming classes. An empty schedule is also
// escalated to staff as a ticket.
func (e *Engine) handleAvailableClasses(ctx context.Context, t *turn) []domain.Action {
	classes, err := e.deps.Gym.GetAvailableClasses(ctx, e.cfg.ClassesTop)
	if err != nil {
		e.logFailure(ctx, t, newError(ErrorUpstream, "perfectgym_classes_error", err))
		return e.replyTemplate(ctx, t, "pg_available_classes_error", nil)
	}

	if len(classes) == 0 {
		return []domain.Action{
			e.reply(t, e.render(ctx, t, "pg_available_classes_empty", nil)),
			{
				Type: domain.ActionTicket,
				Payload: map[string]any{
					domain.PayloadTenantID:        t.tenantID(),
					domain.PayloadConversationKey: t.msg.ConversationKey(),
					domain.PayloadPhone:           t.msg.From,
					domain.PayloadChannel:         string(t.msg.Channel),
					domain.PayloadChannelUserID:   t.userID,
					domain.PayloadLanguageCode:    t.lang,
					domain.PayloadIntent:          string(t.intent),
					domain.PayloadSummary:         e.render(ctx, t, "escalation_ticket_summary", nil),
				},
			},
		}
	}

	lines := make([]string, 0, len(classes))
	for _, c := range classes {
		date, clock := splitStart(c.StartDate)
		lines = append(lines, e.render(ctx, t, "pg_available_classes_item", map[string]any{
			"date":     date,
			"time":     clock,
			"name":     c.ClassTypeName,
			"capacity": e.capacity(ctx, t, c),
			"class_id": c.ID,
		}))
	}
	return e.replyTemplate(ctx, t, "pg_available_classes", map[string]any{
		"classes": strings.Join(lines, "\n"),
	})
}

func (e *Engine) capacity(ctx context.Context, t *turn, c domain.GymClass) string {
	vars := map[string]any{
		"limit": c.AttendeesLimit,
		"free":  max(c.AttendeesLimit-c.AttendeesCount, 0),
	}
	switch {
	case c.AttendeesLimit <= 0:
		return e.builtin(ctx, t, "pg_capacity_no_limit", vars)
	case c.AttendeesCount >= c.AttendeesLimit:
		return e.builtin(ctx, t, "pg_capacity_full", vars)
	default:
		return e.builtin(ctx, t, "pg_capacity_free", vars)
	}
}

// splitStart turns an ISO timestamp into a date and an HH:MM time. Values
// that do not parse are split on "T" as they are.
func splitStart(start string) (string, string) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if ts, err := time.Parse(layout, start); err == nil {
			return ts.Format("2006-01-02"), ts.Format("15:04")
		}
	}
	date, clock, _ := strings.Cut(start, "T")
	if len(clock) > 5 {
		clock = clock[:5]
	}
	return date, clock
}

func (e *Engine) handleContractStatus(ctx context.Context, t *turn) []domain.Action {
	if actions := e.requireVerification(ctx, t); actions != nil {
		return actions
	}

	email, ok := t.slots.String("email")
	if !ok {
		return e.replyTemplate(ctx, t, "pg_contract_ask_email", nil)
	}
	phone := domain.NormalizePhone(t.msg.From)

	contracts, err := e.deps.Gym.GetContractsByEmailAndPhone(ctx, email, phone)
	if err != nil {
		e.logFailure(ctx, t, newError(ErrorUpstream, "perfectgym_contracts_error", err))
		return e.replyTemplate(ctx, t, "pg_integration_error", nil)
	}
	if len(contracts) == 0 {
		return e.replyTemplate(ctx, t, "pg_contract_not_found", map[string]any{
			"email": email,
			"phone": phone,
		})
	}

	c := contracts[0]
	for _, candidate := range contracts {
		if candidate.Status == domain.ContractStatusCurrent {
			c = candidate
			break
		}
	}
	return e.replyTemplate(ctx, t, "pg_contract_details", map[string]any{
		"plan_name":   c.PlanName,
		"status":      c.Status,
		"is_active":   yesNo(t.lang, c.IsActive),
		"start_date":  c.StartDate,
		"end_date":    c.EndDate,
		"payment_fee": c.PaymentValue,
	})
}

func (e *Engine) handleMemberBalance(ctx context.Context, t *turn) []domain.Action {
	if actions := e.requireVerification(ctx, t); actions != nil {
		return actions
	}

	memberID := t.conv.PGMemberID
	if memberID == "" {
		return e.replyTemplate(ctx, t, "pg_member_not_linked", nil)
	}

	bal, err := e.deps.Gym.GetMemberBalance(ctx, memberID)
	if err != nil {
		e.logFailure(ctx, t, newError(ErrorUpstream, "perfectgym_balance_error", err))
		return e.replyTemplate(ctx, t, "pg_integration_error", nil)
	}
	return e.replyTemplate(ctx, t, "pg_member_balance", map[string]any{
		"member_id": memberID,
		"balance":   fmt.Sprintf("%.2f", bal.Amount),
		"currency":  bal.Currency,
	})
}

var builtinTemplates = map[string]map[string]string{
	"pl": {
		"pg_capacity_no_limit": "bez limitu miejsc",
		"pg_capacity_full":     "brak miejsc (limit {limit})",
		"pg_capacity_free":     "{free} wolnych miejsc (limit {limit})",
	},
	"en": {
		"pg_capacity_no_limit": "no limit",
		"pg_capacity_full":     "full (limit {limit})",
		"pg_capacity_free":     "{free} free (limit {limit})",
	},
}

// builtin renders a stored template when the tenant has one and a built-in
// default otherwise.
func (e *Engine) builtin(ctx context.Context, t *turn, name string, vars map[string]any) string {
	if body, ok := e.deps.Templates.Lookup(ctx, t.tenantID(), name, t.lang); ok {
		return templates.Substitute(body, vars)
	}
	defaults, ok := builtinTemplates[templates.BaseLanguage(t.lang)]
	if !ok {
		defaults = builtinTemplates["en"]
	}
	return templates.Substitute(defaults[name], vars)
}

func yesNo(lang string, v bool) string {
	pl := templates.BaseLanguage(lang) == "pl"
	switch {
	case v && pl:
		return "tak"
	case pl:
		return "nie"
	case v:
		return "yes"
	}
	return "no"
}
