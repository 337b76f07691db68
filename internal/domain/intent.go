package domain

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Intent is the closed set of user goals the engine dispatches on.
type Intent string

const (
	IntentFAQ              Intent = "faq"
	IntentReserveClass     Intent = "reserve_class"
	IntentHandover         Intent = "handover"
	IntentTicket           Intent = "ticket"
	IntentClarify          Intent = "clarify"
	IntentAvailableClasses Intent = "pg_available_classes"
	IntentContractStatus   Intent = "pg_contract_status"
	IntentMemberBalance    Intent = "pg_member_balance"
)

var knownIntents = map[Intent]struct{}{
	IntentFAQ:              {},
	IntentReserveClass:     {},
	IntentHandover:         {},
	IntentTicket:           {},
	IntentClarify:          {},
	IntentAvailableClasses: {},
	IntentContractStatus:   {},
	IntentMemberBalance:    {},
}

// ParseIntent coerces any unknown or empty value to IntentClarify.
func ParseIntent(s string) Intent {
	in := Intent(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := knownIntents[in]; ok {
		return in
	}
	return IntentClarify
}

// Classification is the normalized classifier output.
type Classification struct {
	Intent     Intent
	Confidence float64
	Slots      Slots
}

// Slots are classifier-extracted parameters. Values keep their JSON types.
type Slots map[string]any

// String returns the slot as a trimmed string. Numbers are formatted without
// a trailing ".0" so that class ids like 777 survive a JSON round trip.
func (s Slots) String(key string) (string, bool) {
	v, ok := s[key]
	if !ok || v == nil {
		return "", false
	}
	var out string
	switch t := v.(type) {
	case string:
		out = t
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			out = strconv.FormatInt(int64(t), 10)
		} else {
			out = strconv.FormatFloat(t, 'f', -1, 64)
		}
	case int:
		out = strconv.Itoa(t)
	case int64:
		out = strconv.FormatInt(t, 10)
	case bool:
		out = strconv.FormatBool(t)
	default:
		return "", false
	}
	out = strings.TrimSpace(out)
	return out, out != ""
}

// StringOr returns the slot value or def when missing or empty.
func (s Slots) StringOr(key, def string) string {
	if v, ok := s.String(key); ok {
		return v
	}
	return def
}

// Clone returns a shallow copy that is never nil.
func (s Slots) Clone() Slots {
	out := make(Slots, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Describe renders slots for log lines and ticket descriptions.
func (s Slots) Describe() string {
	if len(s) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(s))
	for k, v := range s {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ", ") + "}"
}
