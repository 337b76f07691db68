package usecase

import (
	"context"
	"net/url"
	"strings"
	"unicode"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
)

const linkCodePrefix = "KOD:"

// parseLinkCode recognises the "KOD:<code>" message a web user sends from
// WhatsApp to link the two channels.
func parseLinkCode(msg domain.Message) (string, bool) {
	if msg.Channel != domain.ChannelWhatsApp {
		return "", false
	}
	body := strings.TrimSpace(msg.Body)
	if len(body) <= len(linkCodePrefix) || !strings.EqualFold(body[:len(linkCodePrefix)], linkCodePrefix) {
		return "", false
	}
	code := strings.ToUpper(strings.TrimSpace(body[len(linkCodePrefix):]))
	if code == "" || strings.ContainsAny(code, " \t\n") {
		return "", false
	}
	return code, true
}

func (e *Engine) handleVerificationLink(ctx context.Context, t *turn, code string) []domain.Action {
	webConv, err := e.deps.Conversations.FindByVerificationCode(ctx, t.tenantID(), code)
	if err != nil {
		e.logFailure(ctx, t, newError(ErrorInternal, "verification_lookup_error", err))
		return e.replyTemplate(ctx, t, "pg_integration_error", nil)
	}
	if webConv == nil {
		return e.replyTemplate(ctx, t, "pg_web_verification_code_not_found", nil)
	}

	member, err := e.deps.Members.GetMember(ctx, t.tenantID(), t.msg.From)
	if err != nil {
		e.logFailure(ctx, t, newError(ErrorInternal, "member_lookup_error", err))
		return e.replyTemplate(ctx, t, "pg_integration_error", nil)
	}
	if member == nil {
		return e.replyTemplate(ctx, t, "pg_web_verification_member_not_found", nil)
	}

	channel := webConv.Channel
	if channel == "" {
		channel = domain.ChannelWeb
	}
	err = e.deps.Conversations.Upsert(ctx, t.tenantID(), channel, webConv.ChannelUserID, domain.ConversationPatch{
		PGMemberID:        domain.Ref(member.MemberID),
		VerificationLevel: domain.Ref(domain.VerificationStrong),
		VerifiedUntil:     domain.Ref(t.startAt.Add(e.cfg.VerificationTTL).Unix()),
		VerificationCode:  domain.Ref(""),
		Status:            domain.Ref(domain.StatusNone),
	})
	if err != nil {
		e.logFailure(ctx, t, newError(ErrorInternal, "conversation_write_error", err))
	}
	return e.replyTemplate(ctx, t, "pg_web_verification_success", nil)
}

// requireVerification returns nil when the conversation is strongly
// verified. Otherwise it starts the channel's verification flow and returns
// the reply that replaces the intent's answer.
func (e *Engine) requireVerification(ctx context.Context, t *turn) []domain.Action {
	if t.conv.StronglyVerified(t.startAt) {
		return nil
	}

	if t.msg.Channel == domain.ChannelWeb {
		code := e.verificationCode()
		e.update(ctx, t, domain.ConversationPatch{
			VerificationCode: domain.Ref(code),
			Status:           domain.Ref(domain.StatusAwaitingVerification),
		})
		return e.replyTemplate(ctx, t, "pg_web_verification_required", map[string]any{
			"code":      code,
			"link":      e.whatsAppLink(code),
			"wa_number": e.cfg.WhatsAppNumber,
		})
	}

	e.update(ctx, t, domain.ConversationPatch{
		Status:            domain.Ref(domain.StatusAwaitingChallenge),
		ChallengeType:     domain.Ref(domain.ChallengeDOB),
		ChallengeAttempts: domain.Ref(0),
	})
	return e.replyTemplate(ctx, t, "pg_challenge_ask_dob", nil)
}

func (e *Engine) verificationCode() string {
	id := strings.ReplaceAll(e.newID(), "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.ToUpper(id)
}

func (e *Engine) whatsAppLink(code string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, e.cfg.WhatsAppNumber)
	return "https://wa.me/" + digits + "?text=" + url.QueryEscape(linkCodePrefix+code)
}

// handleChallenge checks the answer to an identity challenge.
//
// Any non-empty answer passes: the gym platform exposes no member data to
// compare a date of birth against yet.
func (e *Engine) handleChallenge(ctx context.Context, t *turn) []domain.Action {
	answer := strings.TrimSpace(t.msg.Body)
	if answer != "" {
		patch := domain.ConversationPatch{
			VerificationLevel: domain.Ref(domain.VerificationStrong),
			VerifiedUntil:     domain.Ref(t.startAt.Add(e.cfg.VerificationTTL).Unix()),
			ChallengeType:     domain.Ref(""),
			ChallengeAttempts: domain.Ref(0),
			Status:            domain.Ref(domain.StatusNone),
		}
		member, err := e.deps.Members.GetMember(ctx, t.tenantID(), t.msg.From)
		switch {
		case err != nil:
			e.logFailure(ctx, t, newError(ErrorInternal, "member_lookup_error", err))
		case member != nil:
			patch.PGMemberID = domain.Ref(member.MemberID)
		}
		e.update(ctx, t, patch)
		return e.replyTemplate(ctx, t, "pg_challenge_success", nil)
	}

	attempts := t.conv.ChallengeAttempts + 1
	if attempts >= e.cfg.MaxChallengeAttempts {
		e.update(ctx, t, domain.ConversationPatch{
			ChallengeType:     domain.Ref(""),
			ChallengeAttempts: domain.Ref(0),
			Status:            domain.Ref(domain.StatusNone),
		})
		return []domain.Action{
			e.reply(t, e.render(ctx, t, "pg_challenge_failed_handover", nil)),
			{
				Type: domain.ActionHandover,
				Payload: map[string]any{
					domain.PayloadTenantID:        t.tenantID(),
					domain.PayloadChannel:         string(t.msg.Channel),
					domain.PayloadChannelUserID:   t.userID,
					domain.PayloadPhone:           t.msg.From,
					domain.PayloadConversationKey: t.msg.ConversationKey(),
					domain.PayloadLanguageCode:    t.lang,
					domain.PayloadReason:          "challenge_failed",
				},
			},
		}
	}

	e.update(ctx, t, domain.ConversationPatch{ChallengeAttempts: domain.Ref(attempts)})
	return e.replyTemplate(ctx, t, "pg_challenge_retry", map[string]any{
		"attempts_left": e.cfg.MaxChallengeAttempts - attempts,
	})
}
