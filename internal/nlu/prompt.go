package nlu

import (
	"fmt"
	"strings"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
)

func buildMessages(text, lang string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: buildSystemPrompt()},
		{Role: "user", Content: fmt.Sprintf("LANG=%s\nTEXT=%s", lang, text)},
	}
}

func buildSystemPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You classify messages sent to a gym's customer service chat.",
		"",
		"Allowed intents:",
		intentList(),
		"",
		"Slots:",
		"- faq: topic (one of hours, price, location, contact)",
		"- reserve_class: class_id, member_id",
		"- pg_contract_status: email",
		"- ticket: summary, description",
		"- handover: agent_id (optional)",
		"",
		"Output Contract:",
		"Return JSON only with keys intent (string), confidence (number between 0 and 1) and slots (object).",
		"Use clarify when the message does not fit any other intent.",
	}, "\n")
}

func intentList() string {
	intents := []domain.Intent{
		domain.IntentFAQ,
		domain.IntentReserveClass,
		domain.IntentHandover,
		domain.IntentTicket,
		domain.IntentAvailableClasses,
		domain.IntentContractStatus,
		domain.IntentMemberBalance,
		domain.IntentClarify,
	}
	lines := make([]string, 0, len(intents))
	for _, in := range intents {
		lines = append(lines, "- "+string(in))
	}
	return strings.Join(lines, "\n")
}
