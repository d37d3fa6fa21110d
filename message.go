package dispatch

import (
	"reflect"
	"strings"

	"github.com/evenact/dispatch/pkg/pattern"
)

// Message is an unordered mapping from attribute name to value. Keys ending
// in "$" are reserved control metadata: they never participate in pattern
// matching and are stripped before a message is matched against the
// registry.
type Message map[string]interface{}

// Reserved message attribute names, see spec §3.
const (
	KeyID        = "id$"
	KeyActID     = "actid$"
	KeyTx        = "tx$"
	KeyDefault   = "default$"
	KeyGate      = "gate$"
	KeyTimeout   = "timeout$"
	KeyFatal     = "fatal$"
	KeyHistory   = "history$"
	KeyMeta      = "meta$"
	KeyTransport = "transport$"
	KeyClosing   = "closing$"
)

// priorStripKeys are removed from a message before a prior() re-entry so
// the re-entered call gets a fresh action id (spec §4.5 "Prior calls").
var priorStripKeys = []string{KeyID, KeyGate, KeyActID, KeyMeta, KeyTransport}

// IsReserved reports whether key is a reserved ("$"-suffixed) attribute.
func IsReserved(key string) bool {
	return strings.HasSuffix(key, "$")
}

// Clone returns a shallow copy of msg.
func (msg Message) Clone() Message {
	out := make(Message, len(msg))
	for k, v := range msg {
		out[k] = v
	}
	return out
}

// Fields extracts msg's non-reserved attributes as the string-keyed,
// string-valued map the pattern matcher compares against.
func (msg Message) Fields() map[string]string {
	out := make(map[string]string, len(msg))
	for k, v := range msg {
		if IsReserved(k) {
			continue
		}
		out[k] = pattern.Stringify(v)
	}
	return out
}

// StripReserved returns a copy of msg with every reserved attribute
// removed — the "cleaned" message used for pattern matching and handed to
// action validators.
func (msg Message) StripReserved() Message {
	out := make(Message, len(msg))
	for k, v := range msg {
		if !IsReserved(k) {
			out[k] = v
		}
	}
	return out
}

// StripForPrior returns a copy of msg with the attributes that must not
// survive a prior() re-entry removed (id$, gate$, actid$, meta$,
// transport$); tx$ and the rest are left untouched so they keep
// propagating through the prior chain.
func (msg Message) StripForPrior() Message {
	out := msg.Clone()
	for _, k := range priorStripKeys {
		delete(out, k)
	}
	return out
}

func (msg Message) str(key string) (string, bool) {
	v, ok := msg[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// RuleSpec extracts a per-attribute validation rule from v, recognizing the
// mapping shape spec §4.2 step 1 describes for a pattern entry (e.g.
// {required: true} or {default: x}). ok is false for any plain scalar
// pattern value, which matches by equality rather than by rule.
func RuleSpec(v interface{}) (required bool, def interface{}, hasDefault, ok bool) {
	var m map[string]interface{}
	switch t := v.(type) {
	case map[string]interface{}:
		m = t
	case Message:
		m = map[string]interface{}(t)
	default:
		return false, nil, false, false
	}
	req, hasReq := m["required"]
	def, hasDefault = m["default"]
	if !hasReq && !hasDefault {
		return false, nil, false, false
	}
	required, _ = req.(bool)
	return required, def, hasDefault, true
}

func (msg Message) bool(key string) bool {
	v, ok := msg[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// historyEntries returns history$ as a slice of Message, or nil if absent
// or malformed. Each entry is expected to carry at least an "action" key
// naming the metadata id it visited (spec §3's history$ shape).
func (msg Message) historyEntries() []Message {
	raw, ok := msg[KeyHistory]
	if !ok {
		return nil
	}
	switch entries := raw.(type) {
	case []Message:
		return entries
	case []map[string]interface{}:
		out := make([]Message, len(entries))
		for i, e := range entries {
			out[i] = Message(e)
		}
		return out
	default:
		return nil
	}
}

// loopCount counts history$ entries whose action matches metaID, the
// loop-detection predicate spec §4.5 step 3 describes.
func (msg Message) loopCount(metaID string) int {
	n := 0
	for _, entry := range msg.historyEntries() {
		if a, _ := entry.str("action"); a == metaID {
			n++
		}
	}
	return n
}

// ParsePatternString parses a "k:v,k:v" pattern string into a field map,
// the inverse of pattern.Set.Canonical. Used wherever a caller passes a
// pattern as a string (Add/Act/Find's string-pattern convenience, Wrap's
// re-registration at an existing action's canonical pattern).
func ParsePatternString(s string) map[string]string {
	fields := make(map[string]string)
	if s == "" {
		return fields
	}
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) == 2 {
			fields[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	}
	return fields
}

// isObjectOrArray reports whether v is a map, slice or array — the "entity"
// shapes strict.result accepts, or nil (never flagged).
func isObjectOrArray(v interface{}) bool {
	if v == nil {
		return true
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return true
	}
	return false
}
