package nlu

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
	"github.com/proactiveitadmin/gym-integrator/internal/integrations/openai"
	"github.com/proactiveitadmin/gym-integrator/internal/logging"
)

const (
	maxAttempts       = 5
	defaultConfidence = 0.5
	fallbackScore     = 0.3
	offlineScore      = 0.49
	echoLimit         = 80
)

// Chat is the LLM capability the classifier wraps.
type Chat interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type Classifier struct {
	chat       Chat
	model      string
	newBackOff func() backoff.BackOff
}

type Option func(*Classifier)

// WithBackOff replaces the retry schedule.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Classifier) {
		c.newBackOff = fn
	}
}

func NewClassifier(chat Chat, model string, opts ...Option) (*Classifier, error) {
	if chat == nil {
		return nil, errors.New("nlu: chat client must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("nlu: model must not be empty")
	}
	c := &Classifier{chat: chat, model: model, newBackOff: defaultBackOff}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 8 * time.Second
	b.RandomizationFactor = 0.5
	return b
}

// Classify never fails. Transient upstream errors are retried, everything
// else degrades to clarify.
func (c *Classifier) Classify(ctx context.Context, text, lang string) domain.Classification {
	messages := buildMessages(text, lang)

	raw, err := backoff.Retry(ctx, func() (string, error) {
		out, err := c.chat.Chat(ctx, c.model, messages)
		if err == nil {
			return out, nil
		}
		if retryable(err) {
			slog.WarnContext(ctx, "classifier call failed, retrying", "err", err)
			return "", err
		}
		return "", backoff.Permanent(err)
	}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(maxAttempts))

	if errors.Is(err, openai.ErrNoAPIKey) {
		return offline(text)
	}
	if err != nil {
		slog.ErrorContext(ctx, "classifier unavailable", "err", err, "text", logging.ShortenBody(text, 60))
		return domain.Classification{Intent: domain.IntentClarify, Confidence: fallbackScore, Slots: domain.Slots{}}
	}
	return Parse(raw)
}

// offline is used where no token is provisioned, such as local runs.
func offline(text string) domain.Classification {
	echo := text
	if r := []rune(echo); len(r) > echoLimit {
		echo = string(r[:echoLimit])
	}
	return domain.Classification{
		Intent:     domain.IntentClarify,
		Confidence: offlineScore,
		Slots:      domain.Slots{"echo": echo},
	}
}

func retryable(err error) bool {
	var coder httpStatusCoder
	if errors.As(err, &coder) {
		code := coder.HTTPStatusCode()
		return code == http.StatusTooManyRequests || code >= 500
	}
	if errors.Is(err, openai.ErrNoAPIKey) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// rawClassification keeps every field raw so a mistyped value degrades
// only that field.
type rawClassification struct {
	Intent     json.RawMessage `json:"intent"`
	Confidence json.RawMessage `json:"confidence"`
	Slots      json.RawMessage `json:"slots"`
}

// Parse normalizes a raw model answer.
func Parse(raw string) domain.Classification {
	var rc rawClassification
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &rc); err != nil {
		return domain.Classification{Intent: domain.IntentClarify, Confidence: fallbackScore, Slots: domain.Slots{}}
	}

	var intent string
	_ = json.Unmarshal(rc.Intent, &intent)

	slots := domain.Slots{}
	if len(rc.Slots) > 0 {
		var m map[string]any
		if err := json.Unmarshal(rc.Slots, &m); err == nil && m != nil {
			slots = m
		}
	}

	return domain.Classification{
		Intent:     domain.ParseIntent(intent),
		Confidence: parseConfidence(rc.Confidence),
		Slots:      slots,
	}
}

// parseConfidence accepts a number or a numeric string and clamps it to
// [0, 1]. Anything else yields the default.
func parseConfidence(raw json.RawMessage) float64 {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return defaultConfidence
	}
	var conf float64
	switch x := v.(type) {
	case float64:
		conf = x
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return defaultConfidence
		}
		conf = f
	default:
		return defaultConfidence
	}
	if math.IsNaN(conf) {
		return defaultConfidence
	}
	return min(max(conf, 0), 1)
}
