package pattern

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Set is a message pattern: an unordered set of (key, literal) pairs that a
// message must contain (key present, value equal) to match. It is the data
// model behind the action router's most-specific-match selection.
//
// Values are stored as strings for canonicalization and glob matching; the
// router compares non-string message values by their formatted form, which
// is sufficient for the literal scalars actions are keyed on (role, cmd,
// flags, small ints). New stores the string values it is given as they
// are; callers format non-string values with Stringify first (as
// Message.Fields does).
//
// In glob mode (Options.Glob) a value can also opt into the richer matching
// DetectPatternType/Compile support: '*'/'?' keep their shell-glob meaning
// via MatchGlob, while a "~" or "~*" prefix compiles the rest of the value
// as a regexp (case-sensitive or case-insensitive respectively) through the
// same Pattern the teacher used for request-attribute matching.
type Set struct {
	pairs       map[string]string
	canonical   string
	glob        bool // whether '*'/'?'/'~' in values should be treated as patterns
	globFields  map[string]bool
	regexFields map[string]*Pattern
}

// New builds a Set from a map of key to literal value. Keys are sorted for
// canonicalization; the canonical form is "k1:v1,k2:v2,...".
func New(fields map[string]string, glob bool) *Set {
	s := &Set{
		pairs: make(map[string]string, len(fields)),
		glob:  glob,
	}
	for k, v := range fields {
		s.pairs[k] = v
	}
	s.canonical = canonicalize(s.pairs)
	if glob {
		s.globFields = make(map[string]bool, len(fields))
		s.regexFields = make(map[string]*Pattern, len(fields))
		for k, v := range fields {
			if strings.HasPrefix(v, "~") {
				if p, err := Compile(v); err == nil {
					s.regexFields[k] = p
					continue
				}
			}
			if strings.ContainsAny(v, "*?") {
				s.globFields[k] = true
			}
		}
	}
	return s
}

// Stringify renders an arbitrary message value into the string form the
// pattern matcher compares against. Strings pass through unchanged; other
// scalars use their default formatting; anything else (maps, slices) never
// matches a literal pattern value and is rendered with fmt.Sprintf("%v") so
// it at least canonicalizes deterministically.
func Stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// canonicalize renders a field map as the sorted "k:v,k:v" string form used
// for exact-pattern equality (registry overrides, strict.add).
func canonicalize(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+fields[k])
	}
	return strings.Join(parts, ",")
}

// Canonical returns the sorted "k:v,k:v" string form of the pattern.
func (s *Set) Canonical() string {
	return s.canonical
}

// Len is the pattern's specificity: the number of (key, value) pairs.
func (s *Set) Len() int {
	return len(s.pairs)
}

// Keys returns the pattern's field names, order not significant.
func (s *Set) Keys() []string {
	keys := make([]string, 0, len(s.pairs))
	for k := range s.pairs {
		keys = append(keys, k)
	}
	return keys
}

// Empty reports whether this is the catch-all (zero-key) pattern.
func (s *Set) Empty() bool {
	return len(s.pairs) == 0
}

// Matches reports whether every (key, value) pair in the pattern is present
// in the supplied message fields, compared by: regexp (in glob mode, for a
// "~"/"~*" pattern value), shell-glob (in glob mode, for a value containing
// '*'/'?'), or plain equality otherwise.
func (s *Set) Matches(fields map[string]string) bool {
	for k, want := range s.pairs {
		got, ok := fields[k]
		if !ok {
			return false
		}
		if s.glob {
			if p, ok := s.regexFields[k]; ok {
				if !p.Match(got) {
					return false
				}
				continue
			}
			if s.globFields[k] {
				if !MatchGlob(got, want) {
					return false
				}
				continue
			}
		}
		if got != want {
			return false
		}
	}
	return true
}

// IsSupersetOf reports whether this pattern's keys are a superset of a
// partial pattern's keys, and the corresponding values are equal — the
// predicate `list(partial)` uses to enumerate registered actions.
func (s *Set) IsSupersetOf(partial *Set) bool {
	for k, want := range partial.pairs {
		got, ok := s.pairs[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}
