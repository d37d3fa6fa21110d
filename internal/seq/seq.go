// Package seq is a minimal sequencing façade over a dispatch instance:
// step/run a fixed list of act() calls, resolving "$.path"
// references in later steps against earlier steps' results. Spec's
// redesign note for this façade's `eval` says a port must not use dynamic
// evaluation (no JS-style expression eval) and should instead implement a
// small path evaluator over previous step outputs — that evaluator is
// Resolve below. This package only calls dispatch.Instance.Act; it is a
// consumer of the core, not part of it.
package seq

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/evenact/dispatch"
)

// StepResult holds one completed step's outcome.
type StepResult struct {
	Err    error
	Result interface{}
}

// Resolve walks value looking for "$.path" string references and replaces
// them with the referenced data from results. A path is either:
//
//	$.field.subfield      — looks up field/subfield on the LAST step's result
//	$N.field.subfield     — looks up field/subfield on step N's result (0-based)
//
// Maps and slices are walked recursively so a step's argument message can
// embed references at any depth; any other value is returned unchanged.
func Resolve(value interface{}, results []StepResult) interface{} {
	switch v := value.(type) {
	case string:
		if ref, ok := parseRef(v); ok {
			return lookup(ref, results)
		}
		return v
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = Resolve(val, results)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = Resolve(val, results)
		}
		return out
	default:
		return value
	}
}

type ref struct {
	stepIndex int // -1 means "last completed step"
	path      []string
}

// parseRef recognizes "$.a.b" (last step) and "$2.a.b" (step index 2).
func parseRef(s string) (ref, bool) {
	if !strings.HasPrefix(s, "$") {
		return ref{}, false
	}
	rest := s[1:]
	stepIndex := -1

	if rest == "" {
		return ref{stepIndex: -1}, true
	}

	if rest[0] == '.' {
		return ref{stepIndex: -1, path: splitPath(rest[1:])}, true
	}

	// "$N..." form: consume leading digits as the step index.
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i == 0 {
		return ref{}, false
	}
	n, err := strconv.Atoi(rest[:i])
	if err != nil {
		return ref{}, false
	}
	stepIndex = n

	remainder := rest[i:]
	remainder = strings.TrimPrefix(remainder, ".")
	return ref{stepIndex: stepIndex, path: splitPath(remainder)}, true
}

func splitPath(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ".")
}

func lookup(r ref, results []StepResult) interface{} {
	idx := r.stepIndex
	if idx < 0 {
		idx = len(results) - 1
	}
	if idx < 0 || idx >= len(results) {
		return nil
	}

	var cur interface{} = results[idx].Result
	for _, field := range r.path {
		cur = index(cur, field)
		if cur == nil {
			return nil
		}
	}
	return cur
}

func index(v interface{}, field string) interface{} {
	switch m := v.(type) {
	case dispatch.Message:
		return m[field]
	case map[string]interface{}:
		return m[field]
	case []interface{}:
		n, err := strconv.Atoi(field)
		if err != nil || n < 0 || n >= len(m) {
			return nil
		}
		return m[n]
	default:
		return nil
	}
}

// String renders a ref back to its "$N.path" form, for diagnostics.
func (r ref) String() string {
	if r.stepIndex < 0 {
		return fmt.Sprintf("$.%s", strings.Join(r.path, "."))
	}
	return fmt.Sprintf("$%d.%s", r.stepIndex, strings.Join(r.path, "."))
}
