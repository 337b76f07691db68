package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
	"github.com/proactiveitadmin/gym-integrator/internal/logging"
	"github.com/proactiveitadmin/gym-integrator/internal/ticketing"
)

const (
	defaultVerificationTTL      = 15 * time.Minute
	defaultMaxChallengeAttempts = 3
	defaultConfidenceFloor      = 0.3
	defaultClassesTop           = 10
)

type ConversationStore interface {
	Get(ctx context.Context, tenantID string, channel domain.Channel, channelUserID string) (*domain.Conversation, error)
	Upsert(ctx context.Context, tenantID string, channel domain.Channel, channelUserID string, patch domain.ConversationPatch) error
	AssignAgent(ctx context.Context, tenantID string, channel domain.Channel, channelUserID, agentID string) error
	FindByVerificationCode(ctx context.Context, tenantID, code string) (*domain.Conversation, error)
	GetPending(ctx context.Context, phone string) (*domain.PendingReservation, error)
	PutPending(ctx context.Context, p domain.PendingReservation) error
	DeletePending(ctx context.Context, phone string) error
}

type Templates interface {
	Render(ctx context.Context, tenantID, name, lang string, vars map[string]any) string
	Lookup(ctx context.Context, tenantID, name, lang string) (string, bool)
	TenantLanguage(ctx context.Context, tenantID string) string
	DefaultLanguage() string
}

type Classifier interface {
	Classify(ctx context.Context, text, lang string) domain.Classification
}

type KnowledgeBase interface {
	Answer(ctx context.Context, topic, tenantID, languageCode string) (string, bool)
}

type GymPlatform interface {
	GetAvailableClasses(ctx context.Context, top int) ([]domain.GymClass, error)
	ReserveClass(ctx context.Context, memberID, classID, idempotencyKey string) (domain.ReservationResult, error)
	GetContractsByEmailAndPhone(ctx context.Context, email, phone string) ([]domain.Contract, error)
	GetMemberBalance(ctx context.Context, memberID string) (domain.Balance, error)
}

type MemberDirectory interface {
	GetMember(ctx context.Context, tenantID, phone string) (*domain.Member, error)
}

type Ticketing interface {
	CreateTicket(ctx context.Context, req domain.TicketRequest) (domain.TicketResult, error)
}

type TicketBuilder interface {
	Build(ctx context.Context, in ticketing.Input) domain.TicketRequest
}

// Deps are the collaborators of the Engine. All are required.
type Deps struct {
	Conversations ConversationStore
	Templates     Templates
	Classifier    Classifier
	KB            KnowledgeBase
	Gym           GymPlatform
	Members       MemberDirectory
	Tickets       Ticketing
	TicketBuilder TicketBuilder
}

// Config tunes the Engine. Zero values take defaults.
type Config struct {
	// WhatsAppNumber is the number web users message with their link code.
	WhatsAppNumber       string
	VerificationTTL      time.Duration
	MaxChallengeAttempts int
	ConfidenceFloor      float64
	ClassesTop           int
}

type intentHandler func(ctx context.Context, t *turn) []domain.Action

// Engine routes one inbound message at a time to a list of actions.
//
// Conversation updates are not isolated across concurrent deliveries for
// the same conversation: two messages handled at once may both read the
// same state and the last write wins.
type Engine struct {
	deps  Deps
	cfg   Config
	now   func() time.Time
	newID func() string

	handlers map[domain.Intent]intentHandler
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDGenerator replaces the source of idempotency keys and verification codes.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		e.newID = newID
	}
}

func NewEngine(deps Deps, cfg Config, opts ...Option) (*Engine, error) {
	switch {
	case deps.Conversations == nil:
		return nil, errors.New("usecase: conversation store must not be nil")
	case deps.Templates == nil:
		return nil, errors.New("usecase: templates must not be nil")
	case deps.Classifier == nil:
		return nil, errors.New("usecase: classifier must not be nil")
	case deps.KB == nil:
		return nil, errors.New("usecase: knowledge base must not be nil")
	case deps.Gym == nil:
		return nil, errors.New("usecase: gym platform must not be nil")
	case deps.Members == nil:
		return nil, errors.New("usecase: member directory must not be nil")
	case deps.Tickets == nil:
		return nil, errors.New("usecase: ticketing must not be nil")
	case deps.TicketBuilder == nil:
		return nil, errors.New("usecase: ticket builder must not be nil")
	}
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = defaultVerificationTTL
	}
	if cfg.MaxChallengeAttempts <= 0 {
		cfg.MaxChallengeAttempts = defaultMaxChallengeAttempts
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = defaultConfidenceFloor
	}
	if cfg.ClassesTop <= 0 {
		cfg.ClassesTop = defaultClassesTop
	}

	e := &Engine{
		deps:  deps,
		cfg:   cfg,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.handlers = map[domain.Intent]intentHandler{
		domain.IntentFAQ:              e.handleFAQ,
		domain.IntentReserveClass:     e.handleReserveClass,
		domain.IntentHandover:         e.handleHandover,
		domain.IntentTicket:           e.handleTicket,
		domain.IntentAvailableClasses: e.handleAvailableClasses,
		domain.IntentContractStatus:   e.handleContractStatus,
		domain.IntentMemberBalance:    e.handleMemberBalance,
		domain.IntentClarify:          e.handleClarify,
	}
	return e, nil
}

// turn is the per-message routing context.
type turn struct {
	msg     domain.Message
	userID  string
	conv    *domain.Conversation
	lang    string
	intent  domain.Intent
	slots   domain.Slots
	startAt time.Time
}

func (t *turn) tenantID() string { return t.msg.TenantID }

// Handle routes a single message. It fails only when the message lacks a
// tenant or a sender; every other failure becomes a reply.
func (e *Engine) Handle(ctx context.Context, msg domain.Message) ([]domain.Action, error) {
	msg.TenantID = strings.TrimSpace(msg.TenantID)
	if msg.TenantID == "" {
		return nil, newError(ErrorInvalidInput, "missing_tenant", nil)
	}
	if msg.Channel == "" {
		msg.Channel = domain.ChannelWhatsApp
	}
	if msg.ChannelUserID == "" {
		msg.ChannelUserID = msg.From
	}
	if msg.SenderKey() == "" {
		return nil, newError(ErrorInvalidInput, "missing_sender", nil)
	}

	t := &turn{
		msg:     msg,
		userID:  msg.ChannelUserID,
		startAt: e.now(),
	}
	t.conv = e.loadConversation(ctx, t)
	t.lang = e.resolveLanguage(ctx, t)

	if t.conv.CurrentStatus() == domain.StatusAwaitingChallenge && msg.Channel == domain.ChannelWhatsApp {
		return e.handleChallenge(ctx, t), nil
	}

	if actions, handled := e.handlePending(ctx, t); handled {
		return actions, nil
	}

	if code, ok := parseLinkCode(msg); ok {
		return e.handleVerificationLink(ctx, t, code), nil
	}

	e.classify(ctx, t)
	handler, ok := e.handlers[t.intent]
	if !ok {
		handler = e.handleClarify
	}
	return handler(ctx, t), nil
}

// ChangeLanguage persists a new conversation language.
func (e *Engine) ChangeLanguage(ctx context.Context, tenantID string, channel domain.Channel, channelUserID, lang string) error {
	lang = strings.TrimSpace(lang)
	if tenantID == "" || channelUserID == "" || lang == "" {
		return newError(ErrorInvalidInput, "missing_language_target", nil)
	}
	if err := e.deps.Conversations.Upsert(ctx, tenantID, channel, channelUserID, domain.ConversationPatch{
		LanguageCode: domain.Ref(lang),
	}); err != nil {
		return newError(ErrorInternal, "conversation_write_error", err)
	}
	return nil
}

func (e *Engine) loadConversation(ctx context.Context, t *turn) *domain.Conversation {
	conv, err := e.deps.Conversations.Get(ctx, t.tenantID(), t.msg.Channel, t.userID)
	if err != nil {
		e.logFailure(ctx, t, newError(ErrorInternal, "conversation_read_error", err))
		return nil
	}
	return conv
}

// resolveLanguage picks the message language, then the stored one, then the
// tenant default, then the global default, and stores the result.
func (e *Engine) resolveLanguage(ctx context.Context, t *turn) string {
	lang := strings.TrimSpace(t.msg.LanguageCode)
	if lang == "" && t.conv != nil {
		lang = t.conv.LanguageCode
	}
	if lang == "" {
		lang = e.deps.Templates.TenantLanguage(ctx, t.tenantID())
	}
	if lang == "" {
		lang = e.deps.Templates.DefaultLanguage()
	}
	if t.conv == nil || t.conv.LanguageCode != lang {
		e.update(ctx, t, domain.ConversationPatch{LanguageCode: domain.Ref(lang)})
	}
	return lang
}

func (e *Engine) classify(ctx context.Context, t *turn) {
	var cls domain.Classification
	if strings.TrimSpace(t.msg.Intent) != "" {
		cls = domain.Classification{
			Intent:     domain.ParseIntent(t.msg.Intent),
			Confidence: 1.0,
			Slots:      t.msg.Slots.Clone(),
		}
	} else {
		cls = e.deps.Classifier.Classify(ctx, t.msg.Body, t.lang)
	}
	if cls.Slots == nil {
		cls.Slots = domain.Slots{}
	}

	if cls.Intent != domain.IntentClarify && cls.Confidence < e.cfg.ConfidenceFloor {
		slog.InfoContext(ctx, "intent below confidence floor",
			"tenant_id", t.tenantID(), "intent", string(cls.Intent), "confidence", cls.Confidence)
		cls.Intent = domain.IntentClarify
	}

	t.intent = cls.Intent
	t.slots = cls.Slots
	e.update(ctx, t, domain.ConversationPatch{LastIntent: domain.Ref(string(cls.Intent))})

	logging.Metric(ctx, "intent_detected",
		"tenant_id", t.tenantID(),
		"intent", string(cls.Intent),
		"confidence", cls.Confidence,
		"channel", string(t.msg.Channel),
	)
}

// update writes a conversation patch and keeps the in-memory copy in sync.
// Write failures are logged; the reply still goes out.
func (e *Engine) update(ctx context.Context, t *turn, patch domain.ConversationPatch) {
	if err := e.deps.Conversations.Upsert(ctx, t.tenantID(), t.msg.Channel, t.userID, patch); err != nil {
		e.logFailure(ctx, t, newError(ErrorInternal, "conversation_write_error", err))
	}
	if t.conv == nil {
		t.conv = &domain.Conversation{TenantID: t.tenantID(), Channel: t.msg.Channel, ChannelUserID: t.userID}
	}
	patch.Apply(t.conv)
}

func (e *Engine) logFailure(ctx context.Context, t *turn, err *Error) {
	slog.ErrorContext(ctx, "routing step failed",
		"tenant_id", t.tenantID(),
		"channel", string(t.msg.Channel),
		"from", logging.MaskPhone(t.msg.From),
		"code", string(err.Code),
		"reason", err.Reason,
		"err", err.Err,
	)
}

func (e *Engine) render(ctx context.Context, t *turn, name string, vars map[string]any) string {
	return e.deps.Templates.Render(ctx, t.tenantID(), name, t.lang, vars)
}

// reply builds a reply action addressed back to the sender on the
// message's channel.
func (e *Engine) reply(t *turn, body string) domain.Action {
	return domain.Action{
		Type: domain.ActionReply,
		Payload: map[string]any{
			domain.PayloadTo:            t.msg.From,
			domain.PayloadBody:          body,
			domain.PayloadTenantID:      t.tenantID(),
			domain.PayloadChannel:       string(t.msg.Channel),
			domain.PayloadChannelUserID: t.userID,
			domain.PayloadLanguageCode:  t.lang,
		},
	}
}

func (e *Engine) replyTemplate(ctx context.Context, t *turn, name string, vars map[string]any) []domain.Action {
	return []domain.Action{e.reply(t, e.render(ctx, t, name, vars))}
}
