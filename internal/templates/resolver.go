// Package templates resolves tenant reply templates with a language
// fallback chain and renders {placeholder} substitutions.
package templates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
)

// Store reads a template for one exact language. A nil template means not stored.
type Store interface {
	Get(ctx context.Context, tenantID, name, languageCode string) (*domain.Template, error)
}

// TenantStore reads tenant settings. A nil tenant means not configured.
type TenantStore interface {
	Get(ctx context.Context, tenantID string) (*domain.Tenant, error)
}

type entry struct {
	value   string
	found   bool
	expires time.Time
}

// Resolver looks up templates and memoizes results for ttl. Store errors
// are logged and treated as misses without being cached.
type Resolver struct {
	store       Store
	tenants     TenantStore
	defaultLang string
	ttl         time.Duration
	now         func() time.Time

	mu        sync.Mutex
	templates map[string]entry
	tenantDef map[string]entry
}

type Option func(*Resolver)

// WithTTL sets how long lookups are memoized. Zero disables memoization.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		r.ttl = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// NewResolver creates a Resolver. defaultLang is the global last-resort
// language; blank means "en".
func NewResolver(store Store, tenants TenantStore, defaultLang string, opts ...Option) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("templates: store must not be nil")
	}
	if tenants == nil {
		return nil, errors.New("templates: tenant store must not be nil")
	}
	defaultLang = strings.TrimSpace(defaultLang)
	if defaultLang == "" {
		defaultLang = "en"
	}
	r := &Resolver{
		store:       store,
		tenants:     tenants,
		defaultLang: defaultLang,
		ttl:         5 * time.Minute,
		now:         time.Now,
		templates:   map[string]entry{},
		tenantDef:   map[string]entry{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// DefaultLanguage returns the global fallback language.
func (r *Resolver) DefaultLanguage() string {
	return r.defaultLang
}

// BaseLanguage strips a region subtag: "pl-PL" becomes "pl".
func BaseLanguage(lang string) string {
	lang = strings.TrimSpace(lang)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		return lang[:i]
	}
	return lang
}

// TenantLanguage returns the tenant's configured default language or "".
func (r *Resolver) TenantLanguage(ctx context.Context, tenantID string) string {
	if v, ok := r.cached(r.tenantDef, tenantID); ok {
		return v.value
	}
	t, err := r.tenants.Get(ctx, tenantID)
	if err != nil {
		slog.WarnContext(ctx, "tenant lookup failed", "tenant_id", tenantID, "err", err)
		return ""
	}
	lang := ""
	if t != nil {
		lang = strings.TrimSpace(t.LanguageCode)
	}
	r.remember(r.tenantDef, tenantID, entry{value: lang, found: lang != ""})
	return lang
}

// Candidates returns the language chain for a lookup: the requested
// language, its base language, the tenant default, then the global default.
// Blanks and duplicates are skipped.
func (r *Resolver) Candidates(ctx context.Context, tenantID, lang string) []string {
	chain := []string{
		strings.TrimSpace(lang),
		BaseLanguage(lang),
		r.TenantLanguage(ctx, tenantID),
		r.defaultLang,
	}
	out := make([]string, 0, len(chain))
	seen := make(map[string]struct{}, len(chain))
	for _, c := range chain {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Lookup returns the raw body of the first template found along the
// language chain.
func (r *Resolver) Lookup(ctx context.Context, tenantID, name, lang string) (string, bool) {
	for _, candidate := range r.Candidates(ctx, tenantID, lang) {
		if body, ok := r.get(ctx, tenantID, name, candidate); ok {
			return body, true
		}
	}
	return "", false
}

// Render resolves and substitutes a template. When no language in the chain
// has it, the template name itself is returned.
func (r *Resolver) Render(ctx context.Context, tenantID, name, lang string, vars map[string]any) string {
	body, ok := r.Lookup(ctx, tenantID, name, lang)
	if !ok {
		slog.WarnContext(ctx, "template_missing",
			"tenant_id", tenantID,
			"template", name,
			"langs_tried", r.Candidates(ctx, tenantID, lang),
		)
		return name
	}
	return Substitute(body, vars)
}

// Substitute replaces every {key} with the stringified value. Unknown
// placeholders are left as is.
func Substitute(body string, vars map[string]any) string {
	if len(vars) == 0 || !strings.Contains(body, "{") {
		return body
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", stringify(vars[k]))
	}
	return strings.NewReplacer(pairs...).Replace(body)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}

func (r *Resolver) get(ctx context.Context, tenantID, name, lang string) (string, bool) {
	key := tenantID + "#" + name + "#" + lang
	if e, ok := r.cached(r.templates, key); ok {
		return e.value, e.found
	}
	tpl, err := r.store.Get(ctx, tenantID, name, lang)
	if err != nil {
		slog.WarnContext(ctx, "template lookup failed", "tenant_id", tenantID, "template", name, "lang", lang, "err", err)
		return "", false
	}
	e := entry{}
	if tpl != nil {
		e = entry{value: tpl.Body, found: true}
	}
	r.remember(r.templates, key, e)
	return e.value, e.found
}

func (r *Resolver) cached(m map[string]entry, key string) (entry, bool) {
	if r.ttl <= 0 {
		return entry{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := m[key]
	if !ok || r.now().After(e.expires) {
		return entry{}, false
	}
	return e, true
}

func (r *Resolver) remember(m map[string]entry, key string, e entry) {
	if r.ttl <= 0 {
		return
	}
	e.expires = r.now().Add(r.ttl)
	r.mu.Lock()
	m[key] = e
	r.mu.Unlock()
}
