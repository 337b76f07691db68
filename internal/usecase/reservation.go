package usecase

import (
	"context"
	"strings"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
)

const (
	defaultClassID  = "101"
	defaultMemberID = "105"
)

var (
	defaultConfirmWords = []string{"tak", "tak.", "potwierdzam", "ok", "yes"}
	defaultDeclineWords = []string{"nie", "nie.", "anuluj", "rezygnuję", "rezygnuje", "no"}
)

// handlePending answers a yes or no to an outstanding reservation. Any other
// message leaves the pending record in place and is routed as a new query.
func (e *Engine) handlePending(ctx context.Context, t *turn) ([]domain.Action, bool) {
	phone := t.msg.SenderKey()
	pending, err := e.deps.Conversations.GetPending(ctx, phone)
	if err != nil {
		e.logFailure(ctx, t, newError(ErrorInternal, "pending_read_error", err))
		return nil, false
	}
	if pending == nil {
		return nil, false
	}

	text := strings.ToLower(strings.TrimSpace(t.msg.Body))
	switch {
	case e.wordSet(ctx, t, "reserve_class_confirm_words", defaultConfirmWords)[text]:
		return e.confirmReservation(ctx, t, pending), true
	case e.wordSet(ctx, t, "reserve_class_decline_words", defaultDeclineWords)[text]:
		e.deletePending(ctx, t, phone)
		e.update(ctx, t, domain.ConversationPatch{Status: domain.Ref(domain.StatusNone)})
		return e.replyTemplate(ctx, t, "reservation_declined", map[string]any{"class_id": pending.ClassID}), true
	}
	return nil, false
}

func (e *Engine) confirmReservation(ctx context.Context, t *turn, pending *domain.PendingReservation) []domain.Action {
	res, err := e.deps.Gym.ReserveClass(ctx, pending.MemberID, pending.ClassID, pending.IdempotencyKey)
	e.deletePending(ctx, t, pending.Phone)
	e.update(ctx, t, domain.ConversationPatch{Status: domain.Ref(domain.StatusNone)})

	if err != nil {
		e.logFailure(ctx, t, newError(ErrorUpstream, "perfectgym_reserve_error", err))
		return e.replyTemplate(ctx, t, "reservation_failed", map[string]any{"class_id": pending.ClassID})
	}
	if !res.OK {
		return e.replyTemplate(ctx, t, "reservation_failed", map[string]any{"class_id": pending.ClassID})
	}
	return e.replyTemplate(ctx, t, "reservation_confirmed", map[string]any{
		"class_id":       pending.ClassID,
		"reservation_id": res.ReservationID,
	})
}

func (e *Engine) deletePending(ctx context.Context, t *turn, phone string) {
	if phone == "" {
		phone = t.msg.SenderKey()
	}
	if err := e.deps.Conversations.DeletePending(ctx, phone); err != nil {
		e.logFailure(ctx, t, newError(ErrorInternal, "pending_delete_error", err))
	}
}

func (e *Engine) handleReserveClass(ctx context.Context, t *turn) []domain.Action {
	classID := t.slots.StringOr("class_id", defaultClassID)
	memberID := t.slots.StringOr("member_id", defaultMemberID)

	err := e.deps.Conversations.PutPending(ctx, domain.PendingReservation{
		Phone:          t.msg.SenderKey(),
		ClassID:        classID,
		MemberID:       memberID,
		IdempotencyKey: e.idempotencyKey(),
		CreatedAt:      t.startAt.Unix(),
	})
	if err != nil {
		e.logFailure(ctx, t, newError(ErrorInternal, "pending_write_error", err))
	}
	e.update(ctx, t, domain.ConversationPatch{Status: domain.Ref(domain.StatusAwaitingConfirmation)})

	return e.replyTemplate(ctx, t, "reserve_class_confirm", map[string]any{"class_id": classID})
}

func (e *Engine) idempotencyKey() string {
	return "idem-" + strings.ReplaceAll(e.newID(), "-", "")
}

// wordSet reads a word list template, falling back to def when the tenant
// has none stored.
func (e *Engine) wordSet(ctx context.Context, t *turn, name string, def []string) map[string]bool {
	words := def
	if body, ok := e.deps.Templates.Lookup(ctx, t.tenantID(), name, t.lang); ok {
		if parsed := tokenizeWords(body); len(parsed) > 0 {
			words = parsed
		}
	}
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func tokenizeWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n', '\r':
			return true
		}
		return false
	})
}
