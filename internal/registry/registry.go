// Package registry wraps the pattern index with action metadata: it is
// responsible for override policy (who becomes whose prior), reserved
// attribute stripping and rules extraction, and the metadata-modifier
// pipeline run on every registration.
//
// Registry is deliberately decoupled from the concrete handler-function
// signature used by the root dispatch package — Meta.Func is stored as
// interface{} and the caller (the dispatcher) type-asserts it back to its
// own ActionFunc type when invoking. This keeps registry a leaf package
// with no dependency on the package that owns the Delegate type, avoiding
// an import cycle between them.
package registry

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/evenact/dispatch/internal/actionerr"
	"github.com/evenact/dispatch/internal/index"
)

// Rule is a per-attribute validator spec extracted from a registration's
// pattern when a pattern value is itself a mapping (e.g. {cmd: {required:
// true}}). The shape mirrors spec §4.2 step 1.
type Rule struct {
	Required bool
	Default  interface{}
}

// Plugin identifies the registering plugin block recorded on an action.
type Plugin struct {
	Name     string
	Tag      string
	Fullname string
}

// Meta is immutable action metadata, created once by Add and never mutated
// afterward — superseded entries are retained transitively through
// PriorMeta until the owning instance closes.
type Meta struct {
	ID        string
	Pattern   string // canonical "k:v,k:v" form
	Func      interface{}
	Rules     map[string]Rule
	Plugin    Plugin
	Callpoint string
	PriorMeta *Meta
	PriorPath string
	Deprecate string
	Sub       bool
}

// Delegation lets a prior action take over registration of its overrider
// entirely, bypassing index installation (spec §4.2 step 4: "If the prior
// exposes an explicit handle(pattern, action) delegation function").
type Delegation func(pattern map[string]string, fn interface{}) bool

// Options configures override policy for a Registry.
type Options struct {
	Glob     bool // pattern values may use '*'/'?' wildcards
	Catchall bool // internal.catchall
	StrictAdd bool // strict.add: overrides require exact pattern equality
	IDLen    int  // generated id length, default 12
}

// Registry maps patterns to action metadata and owns the override chain.
type Registry struct {
	mu      sync.Mutex
	ix      *index.Index
	opts    Options
	counter uint64

	modifiers []func(*Meta)
}

// New builds an empty Registry.
func New(opts Options) *Registry {
	if opts.IDLen <= 0 {
		opts.IDLen = 12
	}
	return &Registry{
		ix:   index.New(opts.Glob, opts.Catchall),
		opts: opts,
	}
}

// OnRegister installs a metadata modifier run (in order added) on every
// newly created Meta before it is installed into the index. Modifiers are a
// pure transform pipeline: they may mutate the Meta they're given but must
// not retain it past the call.
func (r *Registry) OnRegister(fn func(*Meta)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modifiers = append(r.modifiers, fn)
}

// Add registers fn under rawPattern. delegation, if non-nil, is consulted
// when an exact-pattern prior exists and itself exposes a delegation
// function; Add calls it and returns (nil, nil) without touching the
// index when the delegation accepts the registration.
//
// rules are the per-attribute validator specs extracted by the caller from
// any mapping-valued pattern entries (the dispatcher does the raw-message
// stripping; Registry only records the result).
func (r *Registry) Add(rawPattern map[string]string, fn interface{}, rules map[string]Rule, plugin Plugin, callpoint, deprecate string, delegate func(prior *Meta) Delegation) (*Meta, error) {
	cleaned := stripEmpty(rawPattern)
	if len(cleaned) == 0 {
		return nil, actionerr.New(actionerr.KindAddEmptyPattern, "add requires at least one matchable key", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	canon := r.ix.CanonicalOf(cleaned)
	prior := r.exactPrior(canon)

	if prior != nil {
		if prior.Pattern == "" && !r.ix.Catchall() {
			prior = nil
		} else if r.opts.StrictAdd && prior.Pattern != canon {
			prior = nil
		}
	}

	if prior != nil && delegate != nil {
		if d := delegate(prior); d != nil {
			if d(cleaned, fn) {
				return nil, nil
			}
		}
	}

	meta := &Meta{
		ID:        r.nextID(),
		Pattern:   canon,
		Func:      fn,
		Rules:     rules,
		Plugin:    plugin,
		Callpoint: callpoint,
		Deprecate: deprecate,
	}
	if prior != nil {
		meta.PriorMeta = prior
		meta.PriorPath = prior.ID
		if prior.PriorPath != "" {
			meta.PriorPath = prior.ID + ";" + prior.PriorPath
		}
	}

	for _, mod := range r.modifiers {
		mod(meta)
	}

	r.ix.Add(cleaned, meta)
	return meta, nil
}

// Find resolves the most-specific action metadata for a message's fields.
func (r *Registry) Find(fields map[string]string) *Meta {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw := r.ix.Find(fields)
	if raw == nil {
		return nil
	}
	return raw.(*Meta)
}

// List enumerates metadata for every registered pattern that is a superset
// of partial, most-specific first.
func (r *Registry) List(partial map[string]string) []*Meta {
	r.mu.Lock()
	defer r.mu.Unlock()
	matches := r.ix.List(partial)
	out := make([]*Meta, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Payload.(*Meta))
	}
	return out
}

// CanonicalOf renders fields in the registry's canonical "k:v,k:v" form,
// for inclusion in not-found error context.
func (r *Registry) CanonicalOf(fields map[string]string) string {
	return r.ix.CanonicalOf(fields)
}

// Has reports whether an exact or superset match exists for pattern.
func (r *Registry) Has(fields map[string]string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ix.Find(fields) != nil
}

func (r *Registry) exactPrior(canon string) *Meta {
	matches := r.ix.List(fieldsFromCanonical(canon))
	for _, m := range matches {
		if m.Canonical == canon {
			return m.Payload.(*Meta)
		}
	}
	return nil
}

func (r *Registry) nextID() string {
	n := atomic.AddUint64(&r.counter, 1)
	id := fmt.Sprintf("%x", n)
	if len(id) >= r.opts.IDLen {
		return id[:r.opts.IDLen]
	}
	return strings.Repeat("0", r.opts.IDLen-len(id)) + id
}

func stripEmpty(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// fieldsFromCanonical reverses the canonical "k:v,k:v" form back into a
// field map, used only to drive an exact-match List query.
func fieldsFromCanonical(canon string) map[string]string {
	fields := make(map[string]string)
	if canon == "" {
		return fields
	}
	for _, pair := range strings.Split(canon, ",") {
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) == 2 {
			fields[kv[0]] = kv[1]
		}
	}
	return fields
}
