package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
	"github.com/proactiveitadmin/gym-integrator/internal/integrations/paramstore"
)

// DevTicketID is returned when no Jira URL is configured.
const DevTicketID = "JIRA-DEV"

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("jira: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type tokenPayload struct {
	Token string `json:"token"`
}

// Client creates issues through the Jira Cloud REST API v3.
type Client struct {
	baseURL     string
	projectKey  string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	tokenOnce sync.Once
	token     string
	tokenErr  error
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client. An empty baseURL enables dev mode.
func NewClient(baseURL, projectKey string, ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("jira: paramstore getter must not be nil")
	}
	projectKey = strings.TrimSpace(projectKey)
	if projectKey == "" {
		projectKey = "GI"
	}
	c := &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		projectKey:  projectKey,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: strings.TrimRight(strings.TrimSpace(paramPrefix), "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveToken reads <prefix>/jira-token once. A missing parameter means
// anonymous requests.
func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.tokenOnce.Do(func() {
		var tp tokenPayload
		err := paramstore.GetJSON(ctx, c.getter, c.paramPrefix+"/jira-token", &tp)
		switch {
		case errors.Is(err, paramstore.ErrNotFound):
		case err != nil:
			c.tokenErr = fmt.Errorf("jira: resolve token: %w", err)
		default:
			c.token = tp.Token
		}
	})
	return c.token, c.tokenErr
}

// authHeader returns Basic credentials for "user:api-token" tokens and
// nothing otherwise.
func authHeader(token string) string {
	if !strings.Contains(token, ":") {
		return ""
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(token))
}

type issueRequest struct {
	Fields issueFields `json:"fields"`
}

type issueFields struct {
	Project     keyRef   `json:"project"`
	Summary     string   `json:"summary"`
	Description adfDoc   `json:"description"`
	IssueType   nameRef  `json:"issuetype"`
	Labels      []string `json:"labels,omitempty"`
}

type keyRef struct {
	Key string `json:"key"`
}

type nameRef struct {
	Name string `json:"name"`
}

// adfDoc is the Atlassian Document Format wrapper v3 requires for descriptions.
type adfDoc struct {
	Type    string    `json:"type"`
	Version int       `json:"version"`
	Content []adfNode `json:"content"`
}

type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text,omitempty"`
	Content []adfNode `json:"content,omitempty"`
}

func toADF(text string) adfDoc {
	doc := adfDoc{Type: "doc", Version: 1}
	for _, line := range strings.Split(text, "\n") {
		p := adfNode{Type: "paragraph"}
		if line != "" {
			p.Content = []adfNode{{Type: "text", Text: line}}
		}
		doc.Content = append(doc.Content, p)
	}
	return doc
}

// CreateTicket files a Task in the configured project. The summary is
// prefixed with the tenant id.
func (c *Client) CreateTicket(ctx context.Context, req domain.TicketRequest) (domain.TicketResult, error) {
	if c.baseURL == "" {
		slog.Info("jira dev mode, ticket not sent", "tenant_id", req.TenantID, "summary", req.Summary)
		return domain.TicketResult{OK: true, TicketID: DevTicketID}, nil
	}

	token, err := c.resolveToken(ctx)
	if err != nil {
		return domain.TicketResult{}, err
	}

	body, err := json.Marshal(issueRequest{Fields: issueFields{
		Project:     keyRef{Key: c.projectKey},
		Summary:     fmt.Sprintf("[%s] %s", req.TenantID, req.Summary),
		Description: toADF(req.Description),
		IssueType:   nameRef{Name: "Task"},
		Labels:      []string{"tenant-" + req.TenantID},
	}})
	if err != nil {
		return domain.TicketResult{}, fmt.Errorf("jira: marshal request: %w", err)
	}

	url := c.baseURL + "/rest/api/3/issue"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.TicketResult{}, fmt.Errorf("jira: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if h := authHeader(token); h != "" {
		httpReq.Header.Set("Authorization", h)
	}

	hc := c.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	res, err := hc.Do(httpReq)
	if err != nil {
		return domain.TicketResult{}, fmt.Errorf("jira: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return domain.TicketResult{}, &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}

	var payload struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&payload); err != nil {
		return domain.TicketResult{}, fmt.Errorf("jira: decode response: %w", err)
	}
	if payload.Key == "" {
		payload.Key = "JIRA-UNK"
	}
	return domain.TicketResult{OK: true, TicketID: payload.Key}, nil
}
