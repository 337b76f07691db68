package ticketing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
)

const DefaultHistoryLimit = 10

// HistorySource returns the newest messages of a conversation first.
type HistorySource interface {
	GetLastMessages(ctx context.Context, tenantID, conversationKey string, limit int) ([]domain.LoggedMessage, error)
}

// Input is the conversation context a ticket is built from.
type Input struct {
	TenantID        string
	ConversationKey string
	Phone           string
	Channel         domain.Channel
	ChannelUserID   string
	LanguageCode    string
	Intent          domain.Intent
	Slots           domain.Slots
	LastMessage     string
	// DefaultSummary is used when the slots carry no summary.
	DefaultSummary string
}

type Builder struct {
	history HistorySource
	limit   int
}

func NewBuilder(history HistorySource, limit int) (*Builder, error) {
	if history == nil {
		return nil, errors.New("ticketing: history source must not be nil")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Builder{history: history, limit: limit}, nil
}

// Build assembles a ticket request. A failing history lookup is logged and
// the ticket is built without it.
func (b *Builder) Build(ctx context.Context, in Input) domain.TicketRequest {
	history := b.loadHistory(ctx, in.TenantID, in.ConversationKey)

	summary := in.Slots.StringOr(domain.PayloadSummary, "")
	if summary == "" {
		summary = in.DefaultSummary
	}

	description := in.Slots.StringOr(domain.PayloadDescription, "")
	if description == "" {
		description = describe(in.LastMessage, history)
	}

	slots := in.Slots.Clone()

	return domain.TicketRequest{
		TenantID:    in.TenantID,
		Summary:     summary,
		Description: description,
		Meta: map[string]any{
			domain.PayloadConversationKey: in.ConversationKey,
			domain.PayloadPhone:           in.Phone,
			domain.PayloadChannel:         string(in.Channel),
			domain.PayloadChannelUserID:   in.ChannelUserID,
			domain.PayloadIntent:          string(in.Intent),
			"slots":                       map[string]any(slots),
			domain.PayloadLanguageCode:    in.LanguageCode,
		},
	}
}

// loadHistory returns messages oldest first.
func (b *Builder) loadHistory(ctx context.Context, tenantID, conversationKey string) []domain.LoggedMessage {
	if conversationKey == "" {
		return nil
	}
	items, err := b.history.GetLastMessages(ctx, tenantID, conversationKey, b.limit)
	if err != nil {
		slog.WarnContext(ctx, "ticket history unavailable",
			"tenant_id", tenantID, "conversation_key", conversationKey, "err", err)
		return nil
	}
	items = slices.Clone(items)
	slices.Reverse(items)
	return items
}

func describe(lastMessage string, history []domain.LoggedMessage) string {
	var sb strings.Builder
	lastMessage = strings.TrimSpace(lastMessage)
	if lastMessage == "" && len(history) > 0 {
		lastMessage = history[len(history)-1].Body
	}
	sb.WriteString("Last message:\n")
	sb.WriteString(lastMessage)
	if len(history) == 0 {
		return sb.String()
	}
	sb.WriteString("\n\nConversation history:\n")
	for _, m := range history {
		sb.WriteString(formatLine(m))
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatLine(m domain.LoggedMessage) string {
	ts := ""
	if m.CreatedAt > 0 {
		ts = time.Unix(m.CreatedAt, 0).UTC().Format("2006-01-02 15:04") + " "
	}
	return fmt.Sprintf("%s[%s] %s", ts, m.Direction, m.Body)
}
