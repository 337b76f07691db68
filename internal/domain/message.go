package domain

import "strings"

// Channel is the delivery surface of a conversation.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelWeb      Channel = "web"
)

// ParseChannel maps a transport value to a Channel. Anything other than
// "web" is treated as WhatsApp, which is the transport default.
func ParseChannel(s string) Channel {
	if strings.EqualFold(strings.TrimSpace(s), string(ChannelWeb)) {
		return ChannelWeb
	}
	return ChannelWhatsApp
}

// Message is a single inbound event handed to the routing engine.
type Message struct {
	TenantID       string
	From           string
	To             string
	Body           string
	Channel        Channel
	ChannelUserID  string
	ConversationID string

	// EventID identifies this delivery only. It never keys the conversation.
	EventID string

	// Optional precomputed values. When Intent is set the classifier is bypassed.
	LanguageCode string
	Intent       string
	Slots        Slots
}

// SenderKey identifies the end user independent of channel: the phone for
// WhatsApp, the widget session for web.
func (m Message) SenderKey() string {
	if m.From != "" {
		return m.From
	}
	return m.ChannelUserID
}

// ConversationKey is the message-log partition used for history lookups. It
// stays stable across a sender's messages unless the transport supplies an
// explicit conversation id.
func (m Message) ConversationKey() string {
	if m.ConversationID != "" {
		return m.ConversationID
	}
	return m.SenderKey()
}

// NormalizePhone strips the WhatsApp transport prefix.
func NormalizePhone(phone string) string {
	return strings.TrimPrefix(strings.TrimSpace(phone), "whatsapp:")
}

// ActionType is the kind of side effect the engine asks the dispatcher to perform.
type ActionType string

const (
	ActionReply    ActionType = "reply"
	ActionTicket   ActionType = "ticket"
	ActionHandover ActionType = "handover"
)

// Payload keys shared by the engine and the dispatcher.
const (
	PayloadTo              = "to"
	PayloadBody            = "body"
	PayloadTenantID        = "tenant_id"
	PayloadChannel         = "channel"
	PayloadChannelUserID   = "channel_user_id"
	PayloadLanguageCode    = "language_code"
	PayloadConversationKey = "conversation_key"
	PayloadPhone           = "phone"
	PayloadIntent          = "intent"
	PayloadSummary         = "summary"
	PayloadDescription     = "description"
	PayloadAgentID         = "agent_id"
	PayloadReason          = "reason"
)

// Action is one output of routing a message.
type Action struct {
	Type    ActionType     `json:"type"`
	Payload map[string]any `json:"payload"`
}

// PayloadString returns a string payload value or "" when absent.
func (a Action) PayloadString(key string) string {
	v, ok := a.Payload[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case Channel:
		return string(s)
	}
	return ""
}

// LoggedMessage is one entry of the per-conversation message log.
type LoggedMessage struct {
	TenantID        string
	ConversationKey string
	MessageID       string
	Direction       string
	Body            string
	From            string
	To              string
	Channel         Channel
	LanguageCode    string
	AIConfidence    float64
	CreatedAt       int64
}

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)
