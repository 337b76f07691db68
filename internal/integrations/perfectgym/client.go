package perfectgym

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
	"github.com/proactiveitadmin/gym-integrator/internal/integrations/paramstore"
)

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// credentials is the JSON shape stored in SSM under <prefix>/perfectgym.
type credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("perfectgym: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to the PerfectGym OData API. With an empty base URL it runs
// in dev mode and answers from deterministic stubs without network access.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string
	now         func() time.Time

	credOnce sync.Once
	creds    credentials
	credErr  error
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a Client. Credentials are read lazily from SSM.
func NewClient(baseURL string, ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("perfectgym: paramstore getter must not be nil")
	}
	c := &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: strings.TrimRight(strings.TrimSpace(paramPrefix), "/"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// DevMode reports whether the client answers from stubs.
func (c *Client) DevMode() bool {
	return c.baseURL == ""
}

func (c *Client) resolveCredentials(ctx context.Context) (credentials, error) {
	c.credOnce.Do(func() {
		err := paramstore.GetJSON(ctx, c.getter, c.paramPrefix+"/perfectgym", &c.creds)
		if err != nil {
			c.credErr = fmt.Errorf("perfectgym: resolve credentials: %w", err)
		}
	})
	return c.creds, c.credErr
}

type classRecord struct {
	ID             json.RawMessage `json:"id"`
	StartDate      string          `json:"startDate"`
	AttendeesCount int             `json:"attendeesCount"`
	AttendeesLimit *int            `json:"attendeesLimit"`
	ClassType      struct {
		Name string `json:"name"`
	} `json:"classType"`
}

type contractRecord struct {
	ID          json.RawMessage `json:"id"`
	Status      string          `json:"status"`
	IsActive    bool            `json:"isActive"`
	StartDate   string          `json:"startDate"`
	EndDate     string          `json:"endDate"`
	PaymentPlan struct {
		Name          string `json:"name"`
		MembershipFee struct {
			Gross json.Number `json:"gross"`
		} `json:"membershipFee"`
	} `json:"paymentPlan"`
}

type memberRecord struct {
	ID            json.RawMessage `json:"id"`
	MemberBalance struct {
		Balance  float64 `json:"balance"`
		Currency string  `json:"currency"`
	} `json:"memberBalance"`
}

type odataList[T any] struct {
	Value []T `json:"value"`
}

// GetAvailableClasses returns up to top upcoming classes ordered by start date.
func (c *Client) GetAvailableClasses(ctx context.Context, top int) ([]domain.GymClass, error) {
	if top <= 0 {
		top = 10
	}
	if c.DevMode() {
		return c.stubClasses(top), nil
	}

	q := url.Values{}
	q.Set("$filter", "startDate gt "+c.now().UTC().Format(time.RFC3339))
	q.Set("$orderby", "startDate")
	q.Set("$top", strconv.Itoa(top))
	q.Set("$expand", "classType")

	var out odataList[classRecord]
	if err := c.getJSON(ctx, "/Classes?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("perfectgym: GetAvailableClasses: %w", err)
	}

	classes := make([]domain.GymClass, 0, len(out.Value))
	for _, r := range out.Value {
		cl := domain.GymClass{
			ID:             rawID(r.ID),
			StartDate:      r.StartDate,
			ClassTypeName:  r.ClassType.Name,
			AttendeesCount: r.AttendeesCount,
		}
		if r.AttendeesLimit != nil {
			cl.AttendeesLimit = *r.AttendeesLimit
		}
		classes = append(classes, cl)
	}
	return classes, nil
}

// ReserveClass books a class. The idempotency key makes retries safe downstream.
func (c *Client) ReserveClass(ctx context.Context, memberID, classID, idempotencyKey string) (domain.ReservationResult, error) {
	if c.DevMode() {
		return domain.ReservationResult{OK: true, ReservationID: "r-" + classID}, nil
	}

	body, err := json.Marshal(map[string]string{"MemberId": memberID})
	if err != nil {
		return domain.ReservationResult{}, fmt.Errorf("perfectgym: marshal reserve request: %w", err)
	}
	path := "/Classes(" + url.PathEscape(classID) + ")/Reserve"
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return domain.ReservationResult{}, err
	}
	req.Header.Set("Idempotency-Key", idempotencyKey)

	raw, err := c.do(req)
	if err != nil {
		return domain.ReservationResult{}, fmt.Errorf("perfectgym: ReserveClass: %w", err)
	}

	var payload struct {
		OK            *bool           `json:"ok"`
		ReservationID string          `json:"reservation_id"`
		ID            json.RawMessage `json:"id"`
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return domain.ReservationResult{}, fmt.Errorf("perfectgym: decode reserve response: %w", err)
		}
	}
	res := domain.ReservationResult{OK: true, ReservationID: payload.ReservationID}
	if payload.OK != nil {
		res.OK = *payload.OK
	}
	if res.ReservationID == "" {
		res.ReservationID = rawID(payload.ID)
	}
	return res, nil
}

// GetContractsByEmailAndPhone lists contracts of the member matching both identifiers.
func (c *Client) GetContractsByEmailAndPhone(ctx context.Context, email, phone string) ([]domain.Contract, error) {
	if c.DevMode() {
		return []domain.Contract{{
			ID:           "c-1",
			PlanName:     "Open",
			Status:       domain.ContractStatusCurrent,
			IsActive:     true,
			StartDate:    "2024-01-01",
			EndDate:      "2024-12-31",
			PaymentValue: "149.00",
		}}, nil
	}

	q := url.Values{}
	q.Set("$filter", fmt.Sprintf("member/email eq '%s' and member/phoneNumber eq '%s'", odataQuote(email), odataQuote(phone)))
	q.Set("$expand", "paymentPlan")

	var out odataList[contractRecord]
	if err := c.getJSON(ctx, "/Contracts?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("perfectgym: GetContractsByEmailAndPhone: %w", err)
	}
	contracts := make([]domain.Contract, 0, len(out.Value))
	for _, r := range out.Value {
		contracts = append(contracts, domain.Contract{
			ID:           rawID(r.ID),
			PlanName:     r.PaymentPlan.Name,
			Status:       r.Status,
			IsActive:     r.IsActive,
			StartDate:    r.StartDate,
			EndDate:      r.EndDate,
			PaymentValue: r.PaymentPlan.MembershipFee.Gross.String(),
		})
	}
	return contracts, nil
}

// GetMemberBalance returns the current account balance of a member.
func (c *Client) GetMemberBalance(ctx context.Context, memberID string) (domain.Balance, error) {
	if c.DevMode() {
		return domain.Balance{MemberID: memberID, Amount: 0, Currency: "PLN"}, nil
	}

	q := url.Values{}
	q.Set("$expand", "memberBalance")
	var out memberRecord
	if err := c.getJSON(ctx, "/Members("+url.PathEscape(memberID)+")?"+q.Encode(), &out); err != nil {
		return domain.Balance{}, fmt.Errorf("perfectgym: GetMemberBalance: %w", err)
	}
	return domain.Balance{
		MemberID: memberID,
		Amount:   out.MemberBalance.Balance,
		Currency: out.MemberBalance.Currency,
	}, nil
}

func (c *Client) stubClasses(top int) []domain.GymClass {
	base := c.now().UTC().Truncate(time.Hour).Add(24 * time.Hour)
	stubs := []domain.GymClass{
		{ID: "101", StartDate: base.Add(18 * time.Hour).Format(time.RFC3339), ClassTypeName: "Yoga", AttendeesCount: 5, AttendeesLimit: 20},
		{ID: "102", StartDate: base.Add(19 * time.Hour).Format(time.RFC3339), ClassTypeName: "Crossfit", AttendeesCount: 12, AttendeesLimit: 12},
		{ID: "103", StartDate: base.Add(20 * time.Hour).Format(time.RFC3339), ClassTypeName: "Open Gym"},
	}
	if top < len(stubs) {
		stubs = stubs[:top]
	}
	return stubs
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	creds, err := c.resolveCredentials(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("perfectgym: create request: %w", err)
	}
	req.Header.Set("X-Client-id", creds.ClientID)
	req.Header.Set("X-Client-Secret", creds.ClientSecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	hc := c.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	res, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: req.URL.String(), Body: string(buf)}
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// rawID renders a JSON id that may be a number or a string.
func rawID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return s
}

// odataQuote escapes a literal for use inside single quotes.
func odataQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
