package dispatch

import (
	"go.uber.org/zap"

	"github.com/evenact/dispatch/internal/gate"
	"github.com/evenact/dispatch/internal/registry"
	"github.com/evenact/dispatch/pkg/pattern"
)

// Done is the continuation a caller hands to Act: it receives the error (if
// any) and the result of the call, invoked exactly once.
type Done func(err error, result interface{})

// ActionFunc is the signature every registered action handler implements.
// this is the delegate the handler was registered/invoked through.
type ActionFunc func(this *Delegate, msg Message, done Done)

// Delegate is the per-call context handed to every action handler and
// returned by Instance.Delegate: it carries fixed arguments merged into
// every act/add call made through it, the active transaction id, a
// reference to the prior action (for Prior), and a scoped logger. Delegates
// nest: Act/Add/Fix/Gate on a child delegate never mutate the parent.
type Delegate struct {
	inst *Instance

	fixedArgs Message
	tx        string
	priorMeta *Meta
	depth     int
	chain     []string
	gated     bool
	executor  *gate.Gate
	log       *zap.Logger
}

// rootDelegate builds the instance-level delegate every Instance.Act call
// not otherwise scoped starts from.
func rootDelegate(inst *Instance) *Delegate {
	return &Delegate{
		inst:      inst,
		fixedArgs: Message{},
		log:       inst.log.Logger,
	}
}

// Act dispatches msg (merged with fixedArgs) per spec §4.5. pattern may be a
// map[string]string, Message, or a "k:v,k:v" string; args are merged into
// msg as name/value pairs (args[0]=name1, args[1]=value1, ...) matching
// seneca's act(pattern, args..., done) calling convention.
func (d *Delegate) Act(pattern interface{}, rest ...interface{}) {
	msg, done := buildActArgs(pattern, rest)
	d.inst.act(d, msg, done)
}

// Add registers fn under pattern, scoped to this delegate's plugin/prior
// context. A pattern entry whose value is itself a mapping shaped like
// {required: true} or {default: x} contributes a registry.Rule instead of a
// matchable field (spec §4.2 step 1); every other entry is merged with this
// delegate's fixedArgs the same way Act merges them (spec §4.6 "fix()").
// Returns the new metadata, or an error if pattern is empty.
func (d *Delegate) Add(pattern interface{}, fn ActionFunc) (*Meta, error) {
	fields, rules := toFieldsAndRules(pattern)
	if len(d.fixedArgs) > 0 {
		opts := d.inst.getOpts()
		for k, v := range d.fixedArgs.Fields() {
			if _, exists := fields[k]; !exists || opts.Strict.FixedArgs {
				fields[k] = v
			}
		}
	}
	return d.inst.add(fields, rules, fn, "")
}

// Fix returns a child delegate whose fixedArgs are merged with the given
// pattern's fields, applied to every subsequent Act/Add made through the
// child (spec §4.6 "fix(pattern)").
func (d *Delegate) Fix(pattern interface{}) *Delegate {
	fields := toFields(pattern)
	merged := d.fixedArgs.Clone()
	for k, v := range fields {
		merged[k] = v
	}
	child := *d
	child.fixedArgs = merged
	return &child
}

// Gate returns a child delegate whose Act calls are admitted through an
// independent sub-gate rather than the instance's main gate, still counted
// against the parent gate's readiness barrier (spec §4.4/§4.6 "gate()").
func (d *Delegate) Gate() *Delegate {
	child := *d
	child.gated = true
	child.executor = d.inst.gateFor(d).Gate()
	return &child
}

// Prior invokes the action this delegate's handler overrode, bypassing
// pattern resolution entirely and binding straight to the stored
// registry.Meta — spec §4.5 "Prior calls". If there is no prior, done is
// invoked with actionerr.ErrActNotFound.
func (d *Delegate) Prior(msg Message, done Done) {
	d.inst.callPrior(d, msg, done)
}

// Log returns a logger enriched with this delegate's transaction/plugin
// context, for handlers that want structured logging consistent with the
// dispatcher's own.
func (d *Delegate) Log() *zap.Logger {
	return d.log
}

// buildActArgs normalizes the act(pattern, k1, v1, k2, v2, ..., done)
// calling convention into a Message and a Done continuation. A trailing
// Done argument is optional; if present it is popped off rest first.
func buildActArgs(pattern interface{}, rest []interface{}) (Message, Done) {
	var done Done
	if n := len(rest); n > 0 {
		if d, ok := rest[n-1].(Done); ok {
			done = d
			rest = rest[:n-1]
		} else if d, ok := rest[n-1].(func(error, interface{})); ok {
			done = Done(d)
			rest = rest[:n-1]
		}
	}

	msg := make(Message)
	for k, v := range rawPatternEntries(pattern) {
		msg[k] = v
	}
	for i := 0; i+1 < len(rest); i += 2 {
		if key, ok := rest[i].(string); ok {
			msg[key] = rest[i+1]
		}
	}
	return msg, done
}

// rawPatternEntries normalizes an Act pattern argument into its raw
// key/value entries, reserved ("$"-suffixed) attributes included: unlike
// toFields/toRawMap (which serve Add/Find, where a pattern never carries
// control attributes), Act's pattern argument IS the message to dispatch,
// so id$/gate$/default$/etc. sent this way (rather than as a trailing k/v
// pair) must reach act() untouched.
func rawPatternEntries(pattern interface{}) map[string]interface{} {
	switch p := pattern.(type) {
	case Message:
		out := make(map[string]interface{}, len(p))
		for k, v := range p {
			out[k] = v
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(p))
		for k, v := range p {
			out[k] = v
		}
		return out
	case map[string]string:
		out := make(map[string]interface{}, len(p))
		for k, v := range p {
			out[k] = v
		}
		return out
	case string:
		fields := ParsePatternString(p)
		out := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			out[k] = v
		}
		return out
	default:
		return map[string]interface{}{}
	}
}

// toFields normalizes a pattern argument of varying shapes into a
// string-keyed field map suitable for Registry.Add/Find.
func toFields(pattern interface{}) map[string]string {
	switch p := pattern.(type) {
	case map[string]string:
		return p
	case Message:
		return p.Fields()
	case map[string]interface{}:
		return Message(p).Fields()
	case string:
		return ParsePatternString(p)
	case nil:
		return map[string]string{}
	default:
		return map[string]string{}
	}
}

// toRawMap normalizes a pattern argument into its raw, unstringified
// key/value form, reserved attributes stripped — the form toFieldsAndRules
// needs to tell a rule-shaped mapping value apart from a plain scalar one.
func toRawMap(pattern interface{}) map[string]interface{} {
	switch p := pattern.(type) {
	case map[string]string:
		out := make(map[string]interface{}, len(p))
		for k, v := range p {
			out[k] = v
		}
		return out
	case Message:
		out := make(map[string]interface{}, len(p))
		for k, v := range p {
			if !IsReserved(k) {
				out[k] = v
			}
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(p))
		for k, v := range p {
			if !IsReserved(k) {
				out[k] = v
			}
		}
		return out
	case string:
		fields := ParsePatternString(p)
		out := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			out[k] = v
		}
		return out
	default:
		return map[string]interface{}{}
	}
}

// toFieldsAndRules splits a pattern argument into matchable fields and, for
// any mapping-valued entry (spec §4.2 step 1: {cmd: {required: true}} or
// {cmd: {default: x}}), a per-attribute registry.Rule. A rule-shaped entry
// contributes no matchable field of its own.
func toFieldsAndRules(p interface{}) (map[string]string, map[string]registry.Rule) {
	raw := toRawMap(p)
	fields := make(map[string]string, len(raw))
	var rules map[string]registry.Rule
	for k, v := range raw {
		if required, def, hasDefault, ok := RuleSpec(v); ok {
			if rules == nil {
				rules = make(map[string]registry.Rule)
			}
			rule := registry.Rule{Required: required}
			if hasDefault {
				rule.Default = def
			}
			rules[k] = rule
			continue
		}
		fields[k] = pattern.Stringify(v)
	}
	return fields, rules
}
