package kb

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// DefaultFAQ answers common topics when the tenant has no FAQ document or
// the document lacks the topic.
var DefaultFAQ = map[string]string{
	"hours":    "Godziny otwarcia: pn-pt 6:00-22:00, sb-nd 8:00-20:00.",
	"price":    "Cennik: karnet miesięczny od 149 PLN, jednorazowe wejście 30 PLN.",
	"location": "Adres: ul. Przykładowa 1, 00-000 Miasto.",
	"contact":  "Kontakt: +48 123 123 123, email: klub@example.com",
}

// Source loads a tenant FAQ for one language. nil without error means the
// tenant has no document.
type Source interface {
	GetTenantFAQ(ctx context.Context, tenantID, languageCode string) (map[string]string, error)
}

// Resolver answers FAQ topics from the tenant source first, then DefaultFAQ.
// Loaded documents, including misses, are cached for the resolver's lifetime.
type Resolver struct {
	source Source

	mu    sync.RWMutex
	cache map[string]map[string]string
}

// NewResolver creates a Resolver. A nil source disables tenant documents.
func NewResolver(source Source) *Resolver {
	return &Resolver{source: source, cache: map[string]map[string]string{}}
}

// Answer returns the answer for topic, or false when neither the tenant FAQ
// nor the defaults know it.
func (r *Resolver) Answer(ctx context.Context, topic, tenantID, languageCode string) (string, bool) {
	topic = strings.ToLower(strings.TrimSpace(topic))
	if topic == "" {
		return "", false
	}
	if faq := r.tenantFAQ(ctx, tenantID, languageCode); faq != nil {
		if answer, ok := faq[topic]; ok {
			return answer, true
		}
	}
	answer, ok := DefaultFAQ[topic]
	return answer, ok
}

func (r *Resolver) tenantFAQ(ctx context.Context, tenantID, languageCode string) map[string]string {
	if r.source == nil {
		return nil
	}
	lang := languageCode
	if lang == "" {
		lang = "en"
	}
	key := tenantID + "#" + lang

	r.mu.RLock()
	faq, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return faq
	}

	faq, err := r.source.GetTenantFAQ(ctx, tenantID, lang)
	if err != nil {
		slog.WarnContext(ctx, "kb source failed", "tenant_id", tenantID, "lang", lang, "err", err)
		faq = nil
	}

	r.mu.Lock()
	r.cache[key] = faq
	r.mu.Unlock()
	return faq
}
