package openai

import (
	"bytes"
	"context"
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

const (
	defaultBaseURL  = "https://api.openai.com/v1"
	tokenParameter  = "openai-token"
	maxErrorBody    = 4 << 10
	maxResponseBody = 1 << 20
)

// ErrNoAPIKey means no token is provisioned for this environment. The
// classifier switches to its offline fallback when it sees it.
var ErrNoAPIKey = errors.New("openai: API token not configured")

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError is returned for non-2xx responses so callers can decide
// whether the status is worth retrying.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type completionRequest struct {
	Model          string               `json:"model"`
	Messages       []domain.ChatMessage `json:"messages"`
	Temperature    float64              `json:"temperature"`
	ResponseFormat jsonMode             `json:"response_format"`
}

type jsonMode struct {
	Type string `json:"type"`
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      domain.ChatMessage `json:"message"`
		FinishReason string             `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Client calls the Chat Completions endpoint in JSON mode. It is safe for
// concurrent use.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	keyOnce sync.Once
	key     string
	keyErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient creates a Client whose token is read from
// <paramPrefix>/openai-token on first use and kept for the process lifetime.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) apiKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.key, c.keyErr = lookupToken(ctx, c.getter, c.paramPrefix+"/"+tokenParameter)
	})
	return c.key, c.keyErr
}

// completionsURL accepts a base with or without the /v1 suffix.
func completionsURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base + "/chat/completions"
}

// Chat sends messages at temperature 0 with a JSON object response format
// and returns the content of the first choice.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	if strings.TrimSpace(model) == "" {
		return "", errors.New("openai: model must not be empty")
	}
	key, err := c.apiKey(ctx)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(completionRequest{
		Model:          model,
		Messages:       messages,
		ResponseFormat: jsonMode{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	url := completionsURL(c.baseURL)
	raw, err := c.post(ctx, url, key, body)
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", err)
	}

	var out completionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	slog.DebugContext(ctx, "openai completion",
		"model", out.Model,
		"finish_reason", out.Choices[0].FinishReason,
		"prompt_tokens", out.Usage.PromptTokens,
		"completion_tokens", out.Usage.CompletionTokens)
	return out.Choices[0].Message.Content, nil
}

func (c *Client) post(ctx context.Context, url, key string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(snippet)}
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// lookupToken reads the token parameter. The value is either a bare token
// or a JSON object {"token": "..."}. A missing parameter or an empty token
// yields ErrNoAPIKey.
func lookupToken(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if errors.Is(err, paramstore.ErrNotFound) {
		return "", ErrNoAPIKey
	}
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}

	token := strings.TrimSpace(raw)
	if strings.HasPrefix(token, "{") {
		var v struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal([]byte(token), &v); err != nil {
			return "", fmt.Errorf("openai: unmarshal token parameter: %w", err)
		}
		token = strings.TrimSpace(v.Token)
	}
	if token == "" {
		return "", ErrNoAPIKey
	}
	return token, nil
}
