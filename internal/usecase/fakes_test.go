package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
	"github.com/proactiveitadmin/gym-integrator/internal/kb"
	"github.com/proactiveitadmin/gym-integrator/internal/templates"
	"github.com/proactiveitadmin/gym-integrator/internal/ticketing"
)

// memConversations keeps conversations and pending reservations in maps and
// applies patches the same way the DynamoDB store does.
type memConversations struct {
	convs   map[string]*domain.Conversation
	pending map[string]domain.PendingReservation
	patches []domain.ConversationPatch

	getErr    error
	upsertErr error
}

func newMemConversations() *memConversations {
	return &memConversations{
		convs:   map[string]*domain.Conversation{},
		pending: map[string]domain.PendingReservation{},
	}
}

func convKey(tenantID string, channel domain.Channel, user string) string {
	return tenantID + "#" + string(channel) + "#" + user
}

func (m *memConversations) Get(_ context.Context, tenantID string, channel domain.Channel, user string) (*domain.Conversation, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	c, ok := m.convs[convKey(tenantID, channel, user)]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memConversations) Upsert(_ context.Context, tenantID string, channel domain.Channel, user string, patch domain.ConversationPatch) error {
	m.patches = append(m.patches, patch)
	if m.upsertErr != nil {
		return m.upsertErr
	}
	k := convKey(tenantID, channel, user)
	c, ok := m.convs[k]
	if !ok {
		c = &domain.Conversation{TenantID: tenantID, Channel: channel, ChannelUserID: user}
		m.convs[k] = c
	}
	patch.Apply(c)
	return nil
}

func (m *memConversations) AssignAgent(ctx context.Context, tenantID string, channel domain.Channel, user, agentID string) error {
	return m.Upsert(ctx, tenantID, channel, user, domain.ConversationPatch{
		AssignedAgent: domain.Ref(agentID),
		Status:        domain.Ref(domain.StatusHandover),
	})
}

func (m *memConversations) FindByVerificationCode(_ context.Context, tenantID, code string) (*domain.Conversation, error) {
	for _, c := range m.convs {
		if c.TenantID == tenantID && c.VerificationCode == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memConversations) GetPending(_ context.Context, phone string) (*domain.PendingReservation, error) {
	p, ok := m.pending[phone]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memConversations) PutPending(_ context.Context, p domain.PendingReservation) error {
	m.pending[p.Phone] = p
	return nil
}

func (m *memConversations) DeletePending(_ context.Context, phone string) error {
	delete(m.pending, phone)
	return nil
}

func (m *memConversations) conv(tenantID string, channel domain.Channel, user string) *domain.Conversation {
	return m.convs[convKey(tenantID, channel, user)]
}

type memTemplates map[string]string

func (m memTemplates) Get(_ context.Context, tenantID, name, lang string) (*domain.Template, error) {
	body, ok := m[tenantID+"/"+name+"/"+lang]
	if !ok {
		return nil, nil
	}
	return &domain.Template{TenantID: tenantID, Name: name, LanguageCode: lang, Body: body}, nil
}

type memTenants map[string]string

func (m memTenants) Get(_ context.Context, tenantID string) (*domain.Tenant, error) {
	lang, ok := m[tenantID]
	if !ok {
		return nil, nil
	}
	return &domain.Tenant{TenantID: tenantID, LanguageCode: lang}, nil
}

type stubClassifier struct {
	out   domain.Classification
	calls int
	text  string
	lang  string
}

func (s *stubClassifier) Classify(_ context.Context, text, lang string) domain.Classification {
	s.calls++
	s.text, s.lang = text, lang
	return s.out
}

type reserveCall struct {
	memberID, classID, idem string
}

type stubGym struct {
	classes    []domain.GymClass
	classesErr error

	reserveOut   domain.ReservationResult
	reserveErr   error
	reserveCalls []reserveCall

	contracts     []domain.Contract
	contractsErr  error
	contractCalls int
	contractEmail string
	contractPhone string

	balance      domain.Balance
	balanceErr   error
	balanceCalls int
}

func (s *stubGym) GetAvailableClasses(_ context.Context, _ int) ([]domain.GymClass, error) {
	return s.classes, s.classesErr
}

func (s *stubGym) ReserveClass(_ context.Context, memberID, classID, idem string) (domain.ReservationResult, error) {
	s.reserveCalls = append(s.reserveCalls, reserveCall{memberID, classID, idem})
	return s.reserveOut, s.reserveErr
}

func (s *stubGym) GetContractsByEmailAndPhone(_ context.Context, email, phone string) ([]domain.Contract, error) {
	s.contractCalls++
	s.contractEmail, s.contractPhone = email, phone
	return s.contracts, s.contractsErr
}

func (s *stubGym) GetMemberBalance(_ context.Context, _ string) (domain.Balance, error) {
	s.balanceCalls++
	return s.balance, s.balanceErr
}

type stubMembers struct {
	member *domain.Member
	err    error
}

func (s *stubMembers) GetMember(_ context.Context, _, _ string) (*domain.Member, error) {
	return s.member, s.err
}

type stubTickets struct {
	out  domain.TicketResult
	err  error
	reqs []domain.TicketRequest
}

func (s *stubTickets) CreateTicket(_ context.Context, req domain.TicketRequest) (domain.TicketResult, error) {
	s.reqs = append(s.reqs, req)
	return s.out, s.err
}

type stubHistory struct {
	items []domain.LoggedMessage
}

func (s *stubHistory) GetLastMessages(context.Context, string, string, int) ([]domain.LoggedMessage, error) {
	return s.items, nil
}

var errBoom = errors.New("boom")

var plTemplates = map[string]string{
	"clarify_generic":                      "Czy możesz doprecyzować, w czym pomóc?",
	"faq_no_info":                          "Przepraszam, nie mam informacji o {topic}.",
	"reserve_class_confirm":                "Czy potwierdzasz rezerwację zajęć {class_id}? Odpowiedz: TAK lub NIE.",
	"reservation_confirmed":                "Zarezerwowano zajęcia (ID {class_id}). Do zobaczenia!",
	"reservation_failed":                   "Nie udało się zarezerwować. Spróbuj ponownie później.",
	"reservation_declined":                 "Anulowano rezerwację.",
	"handover_to_staff":                    "Łączę Cię z pracownikiem klubu.",
	"ticket_summary":                       "Zgłoszenie klienta",
	"ticket_created_ok":                    "Utworzyłem zgłoszenie. Numer: {ticket}.",
	"ticket_created_failed":                "Nie udało się utworzyć zgłoszenia.",
	"pg_available_classes":                 "Dostępne zajęcia:\n{classes}",
	"pg_available_classes_item":            "{date} {time} {name} ({capacity})",
	"pg_available_classes_empty":           "Brak dostępnych zajęć.",
	"pg_available_classes_error":           "Nie udało się pobrać zajęć.",
	"pg_contract_ask_email":                "Podaj adres e-mail.",
	"pg_contract_not_found":                "Nie znaleziono umowy dla {email} / {phone}.",
	"pg_contract_details":                  "Plan: {plan_name}, status: {status}, aktywna: {is_active}, od {start_date} do {end_date}, opłata {payment_fee}",
	"pg_member_not_linked":                 "Konto nie jest powiązane.",
	"pg_member_balance":                    "Saldo: {balance} {currency}",
	"pg_integration_error":                 "Wystąpił błąd integracji.",
	"pg_web_verification_required":         "Kod: {code}. Link: {link}",
	"pg_web_verification_code_not_found":   "Nie znaleziono kodu.",
	"pg_web_verification_member_not_found": "Nie znaleziono członka.",
	"pg_web_verification_success":          "Zweryfikowano.",
	"pg_challenge_ask_dob":                 "Podaj datę urodzenia.",
	"pg_challenge_success":                 "Dziękujemy, tożsamość potwierdzona.",
	"pg_challenge_retry":                   "Spróbuj ponownie. Pozostało prób: {attempts_left}.",
	"pg_challenge_failed_handover":         "Nie udało się zweryfikować. Przekazuję do pracownika.",
	"escalation_ticket_summary":            "Brak zajęć w grafiku",
}

type harness struct {
	engine  *Engine
	convs   *memConversations
	tpl     memTemplates
	cls     *stubClassifier
	gym     *stubGym
	members *stubMembers
	tickets *stubTickets
	history *stubHistory
	now     time.Time
	ids     int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		convs:   newMemConversations(),
		tpl:     memTemplates{},
		cls:     &stubClassifier{out: domain.Classification{Intent: domain.IntentClarify, Confidence: 0.4}},
		gym:     &stubGym{reserveOut: domain.ReservationResult{OK: true, ReservationID: "r-1"}},
		members: &stubMembers{member: &domain.Member{TenantID: "t1", MemberID: "m-9", Phone: "+48500"}},
		tickets: &stubTickets{out: domain.TicketResult{OK: true, TicketID: "GI-7"}},
		history: &stubHistory{},
		now:     time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC),
	}
	for name, body := range plTemplates {
		h.tpl["t1/"+name+"/pl"] = body
	}

	resolver, err := templates.NewResolver(h.tpl, memTenants{"t1": "pl"}, "en", templates.WithTTL(0))
	require.NoError(t, err)
	builder, err := ticketing.NewBuilder(h.history, 10)
	require.NoError(t, err)

	h.engine, err = NewEngine(Deps{
		Conversations: h.convs,
		Templates:     resolver,
		Classifier:    h.cls,
		KB:            kb.NewResolver(nil),
		Gym:           h.gym,
		Members:       h.members,
		Tickets:       h.tickets,
		TicketBuilder: builder,
	}, Config{WhatsAppNumber: "+48 123 456 789"},
		WithClock(func() time.Time { return h.now }),
		WithIDGenerator(func() string {
			h.ids++
			return fmt.Sprintf("%08x-aaaa-bbbb-cccc-%012d", h.ids, h.ids)
		}),
	)
	require.NoError(t, err)
	return h
}

func (h *harness) classifyAs(intent domain.Intent, confidence float64, slots domain.Slots) {
	h.cls.out = domain.Classification{Intent: intent, Confidence: confidence, Slots: slots}
}

func waMessage(body string) domain.Message {
	return domain.Message{
		TenantID: "t1",
		From:     "whatsapp:+48500",
		To:       "whatsapp:+48999",
		Body:     body,
		Channel:  domain.ChannelWhatsApp,
	}
}

func webMessage(body string) domain.Message {
	return domain.Message{
		TenantID:      "t1",
		Body:          body,
		Channel:       domain.ChannelWeb,
		ChannelUserID: "web-42",
	}
}

func (h *harness) handle(t *testing.T, msg domain.Message) []domain.Action {
	t.Helper()
	actions, err := h.engine.Handle(context.Background(), msg)
	require.NoError(t, err)
	return actions
}

func singleReply(t *testing.T, actions []domain.Action) string {
	t.Helper()
	require.Len(t, actions, 1)
	require.Equal(t, domain.ActionReply, actions[0].Type)
	return actions[0].PayloadString(domain.PayloadBody)
}
