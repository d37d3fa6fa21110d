package dispatch

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/evenact/dispatch/internal/actid"
	"github.com/evenact/dispatch/internal/actioncache"
	"github.com/evenact/dispatch/internal/actionerr"
	"github.com/evenact/dispatch/internal/config"
	"github.com/evenact/dispatch/internal/gate"
	"github.com/evenact/dispatch/internal/registry"
)

// CallMeta is the meta$ object stamped onto every call and handed to
// handlers/subscribers: spec §3's "meta$" shape.
type CallMeta struct {
	ID         string
	Tx         string
	Start      time.Time
	Pattern    string
	Action     string
	Entry      bool
	Chain      []string
	Sync       bool
	PluginName string
	PluginTag  string
}

// gateFor resolves which gate a delegate's Act call is admitted through:
// its own sub-gate if one was established via Delegate.Gate(), otherwise
// the instance's root gate.
func (inst *Instance) gateFor(d *Delegate) *gate.Gate {
	if d != nil && d.gated && d.executor != nil {
		return d.executor
	}
	return inst.rootGate
}

// gateKey resolves the key a gate$ message is sub-gated under: the resolved
// action's id when fields matches a registration, otherwise the message's
// own canonical pattern so unregistered/not-found calls still get a stable,
// shared sub-gate rather than one each.
func (inst *Instance) gateKey(fields map[string]string) string {
	if meta := inst.registry.Find(fields); meta != nil {
		return meta.ID
	}
	return inst.registry.CanonicalOf(fields)
}

// act is the dispatcher pipeline entry point invoked by Delegate.Act. It
// implements spec §4.5 in full: normalize, cache replay, gate selection,
// enqueue, resolve/validate/invoke, continuation, cache write, event
// emission.
func (inst *Instance) act(d *Delegate, raw Message, done Done) {
	opts := inst.getOpts()
	msg := inst.normalize(d, raw, opts)

	fields := msg.Fields()
	localID, tx := inst.resolveActionID(d, msg)
	msg[KeyID] = localID
	msg[KeyTx] = tx
	actionID := actid.ActionID(localID, tx)

	if opts.ActCache.Active {
		if entry, ok := inst.cache.Get(actionID); ok {
			inst.stats.addCacheHit()
			inst.deliverAsync(done, entry.Err, entry.Result)
			return
		}
	}

	g := inst.gateFor(d)
	if g == inst.rootGate && msg.bool(KeyGate) {
		g = inst.subGateFor(inst.gateKey(fields))
	}
	timeout := opts.Timeout
	if t, ok := msg[KeyTimeout].(time.Duration); ok && t > 0 {
		timeout = t
	}

	// A task's Fn may still be running (or about to complete) the instant
	// OnTimeout fires — guard so only the first of the two ever reaches
	// finish; a late Fn completion after OnTimeout already fired is
	// reported to the gate's LateHandler instead, never double-delivered.
	var finished atomic.Bool
	finishOnce := func(meta *registry.Meta, err error, result interface{}) {
		if finished.CompareAndSwap(false, true) {
			inst.finish(msg, actionID, meta, err, result, done, opts)
		}
	}

	task := gate.Task{
		ID:      actionID,
		Timeout: timeout,
		Fn: func(complete func()) {
			inst.resolveAndInvoke(d, msg, fields, actionID, localID, tx, done != nil, complete, opts, finishOnce)
		},
		OnTimeout: func(complete func()) {
			complete()
			finishOnce(nil, actionerr.New(actionerr.KindTimeout, fmt.Sprintf("action %s timed out after %s", actionID, timeout), nil), nil)
		},
	}
	g.Submit(task)
}

// normalize merges a delegate's fixedArgs into raw per strict.fixedargs,
// spec §4.5 step 1.
func (inst *Instance) normalize(d *Delegate, raw Message, opts config.Options) Message {
	msg := raw.Clone()
	if d == nil {
		return msg
	}
	for k, v := range d.fixedArgs {
		if _, exists := msg[k]; !exists || opts.Strict.FixedArgs {
			msg[k] = v
		}
	}
	return msg
}

// resolveActionID determines the local/tx id pair for msg, per spec §4.5
// step 1: if id$ or actid$ is present it is split on '/' into (local, tx)
// verbatim, enabling cache replay against a caller-chosen id; otherwise a
// fresh local id is minted and tx$ is inherited from the message, the
// delegate's transaction, or minted fresh, in that priority order.
func (inst *Instance) resolveActionID(d *Delegate, msg Message) (local, tx string) {
	raw, ok := msg.str(KeyID)
	if !ok || raw == "" {
		raw, ok = msg.str(KeyActID)
	}
	if ok && raw != "" {
		local, tx = actid.SplitActionID(raw)
	} else {
		local = actid.LocalID("")
	}

	if tx != "" {
		return local, tx
	}
	if t, ok := msg.str(KeyTx); ok && t != "" {
		tx = t
	} else if d != nil && d.tx != "" {
		tx = d.tx
	} else {
		tx = actid.NewTx()
	}
	return local, tx
}

// resolveAndInvoke runs entirely inside the gate's admitted slot: it
// resolves the target action, enforces the loop and result-shape
// invariants, builds the per-call delegate and meta$, emits act-in, invokes
// the handler, and wires the continuation back through finish. complete
// must be called exactly once to release the gate slot, regardless of
// outcome.
func (inst *Instance) resolveAndInvoke(d *Delegate, msg Message, fields map[string]string, actionID, localID, tx string, hasDone bool, complete func(), opts config.Options, finish func(meta *registry.Meta, err error, result interface{})) {
	if inst.isClosed() && !msg.bool(KeyClosing) {
		complete()
		finish(nil, actionerr.New(actionerr.KindInstanceClosed, "instance is closed", nil), nil)
		return
	}

	meta := inst.registry.Find(fields)
	if meta == nil {
		result, err, handled := inst.resolveNotFound(msg, fields, opts)
		if handled {
			complete()
			finish(nil, err, result)
			return
		}
	}

	if n := msg.loopCount(meta.ID); n > opts.Strict.MaxLoop {
		complete()
		finish(meta, actionerr.New(actionerr.KindActLoop, fmt.Sprintf("action %s visited %d times, exceeds maxloop=%d", meta.ID, n, opts.Strict.MaxLoop), nil).WithPattern(meta.Pattern), nil)
		return
	}

	if err := inst.validate(meta, msg); err != nil {
		complete()
		finish(meta, err, nil)
		return
	}

	callMeta := &CallMeta{
		ID:         actionID,
		Tx:         tx,
		Start:      inst.clock(),
		Pattern:    meta.Pattern,
		Action:     meta.ID,
		Entry:      true,
		Sync:       hasDone,
		PluginName: meta.Plugin.Name,
		PluginTag:  meta.Plugin.Tag,
	}
	msg[KeyMeta] = callMeta

	child := inst.childDelegate(d, meta, tx, callMeta)

	inst.stats.addCall()
	inst.patternCountersFor(meta.Pattern).addCall()
	inst.subs.FireIn(true, fields, msg)

	fn, ok := meta.Func.(ActionFunc)
	if !ok {
		complete()
		finish(meta, actionerr.New(actionerr.KindActExecute, "registered handler has the wrong signature", nil).WithPattern(meta.Pattern), nil)
		return
	}

	invokeGuarded(fn, child, msg, func(err error, result interface{}) {
		complete()
		finish(meta, err, result)
	})
}

// invokeGuarded runs fn and recovers a panic into the continuation as an
// act_execute error, mirroring spec §4.5's "handler panics are caught and
// surfaced as an error, never crash the instance".
func invokeGuarded(fn ActionFunc, d *Delegate, msg Message, cb Done) {
	var called atomic.Bool
	safeCb := func(err error, result interface{}) {
		if called.CompareAndSwap(false, true) {
			cb(err, result)
		}
	}
	defer func() {
		if r := recover(); r != nil {
			safeCb(actionerr.New(actionerr.KindActExecute, fmt.Sprintf("handler panicked: %v", r), nil), nil)
		}
	}()
	fn(d, msg, safeCb)
}

// resolveNotFound implements spec §4.5 step 4's no-match branch: default$,
// if present and itself an object/array, is delivered verbatim as the
// result; if present but unusable, act_default_bad; otherwise act_not_found
// unless strict.find is off, in which case a missing action resolves to an
// empty successful result rather than an error. handled reports whether the
// caller should short-circuit with (result, err).
func (inst *Instance) resolveNotFound(msg Message, fields map[string]string, opts config.Options) (result interface{}, err error, handled bool) {
	if def, ok := msg[KeyDefault]; ok {
		if isObjectOrArray(def) && def != nil {
			return def, nil, true
		}
		return nil, actionerr.New(actionerr.KindActDefaultBad, "default$ is present but not an object or array", nil), true
	}
	if !opts.Strict.FindOn() {
		return Message{}, nil, true
	}
	return nil, actionerr.New(actionerr.KindActNotFound, fmt.Sprintf("no matching action for pattern %v", fields), nil).WithPattern(inst.registry.CanonicalOf(fields)), true
}

func (inst *Instance) validate(meta *registry.Meta, msg Message) error {
	for attr, rule := range meta.Rules {
		v, present := msg[attr]
		if !present {
			if rule.Required {
				return actionerr.New(actionerr.KindActInvalidMsg, fmt.Sprintf("missing required attribute %q", attr), nil).WithPattern(meta.Pattern)
			}
			if rule.Default != nil {
				msg[attr] = rule.Default
			}
			continue
		}
		_ = v
	}
	return nil
}

// childDelegate builds the delegate a handler (or its prior()) is invoked
// with: depth/chain bookkeeping plus the transaction/prior binding spec
// §4.5/§4.6 describe.
func (inst *Instance) childDelegate(parent *Delegate, meta *registry.Meta, tx string, cm *CallMeta) *Delegate {
	log := inst.log.With(zap.String("actid", cm.ID), zap.String("pattern", meta.Pattern))
	if parent != nil && len(parent.chain) > 0 {
		log = log.With(zap.String("chain", actid.FlattenChain(parent.chain)))
	}
	child := &Delegate{
		inst:      inst,
		fixedArgs: Message{},
		tx:        tx,
		priorMeta: meta.PriorMeta,
		depth:     0,
		log:       log,
	}
	if parent != nil {
		child.fixedArgs = parent.fixedArgs.Clone()
		child.depth = parent.depth
		child.chain = parent.chain
	}
	cm.Chain = child.chain
	return child
}

// callPrior implements Delegate.Prior: re-enters the prior action directly,
// bypassing C1/C2 resolution, per spec §4.5 "Prior calls".
func (inst *Instance) callPrior(d *Delegate, msg Message, done Done) {
	if d == nil || d.priorMeta == nil {
		inst.deliverAsync(done, actionerr.New(actionerr.KindActNotFound, "no prior action to call", nil), nil)
		return
	}

	meta := d.priorMeta
	fn, ok := meta.Func.(ActionFunc)
	if !ok {
		inst.deliverAsync(done, actionerr.New(actionerr.KindActExecute, "prior handler has the wrong signature", nil), nil)
		return
	}

	priorMsg := msg.StripForPrior()
	priorMsg[KeyTx] = d.tx

	chain := append(append([]string{}, d.chain...), d.priorMeta.ID)
	callMeta := &CallMeta{
		ID:      actid.ActionID(actid.LocalID(""), d.tx),
		Tx:      d.tx,
		Start:   inst.clock(),
		Pattern: meta.Pattern,
		Action:  meta.ID,
		Entry:   false,
		Chain:   chain,
	}
	priorMsg[KeyMeta] = callMeta

	child := &Delegate{
		inst:      inst,
		fixedArgs: d.fixedArgs.Clone(),
		tx:        d.tx,
		priorMeta: meta.PriorMeta,
		depth:     d.depth + 1,
		chain:     chain,
		log:       d.log,
	}

	invokeGuarded(fn, child, priorMsg, func(err error, result interface{}) {
		inst.deliverAsync(done, err, result)
	})
}

// finish runs the unconditional continuation/cache-write/event-emission
// tail common to both the happy path and every early-return error path:
// cache the outcome (including errors), emit act-out/act-err, update stats,
// consult errhandler, and invoke done exactly once.
func (inst *Instance) finish(msg Message, actionID string, meta *registry.Meta, err error, result interface{}, done Done, opts config.Options) {
	if err != nil {
		if me, ok := err.(*actionerr.Error); ok {
			if meta != nil {
				me = me.WithPattern(meta.Pattern).WithPlugin(actionerr.Plugin(meta.Plugin))
			}
			if cm, ok := msg[KeyMeta].(*CallMeta); ok {
				me = me.WithMeta(callMetaFields(cm))
			}
			err = me
		}
	}

	if opts.Strict.Result && err == nil && !isObjectOrArray(result) {
		err = actionerr.New(actionerr.KindResultNotObjArr, "action result must be an object, array, or nil", nil)
		if meta != nil {
			err = err.(*actionerr.Error).WithPattern(meta.Pattern)
		}
	}

	if opts.ActCache.Active {
		metaID := ""
		if meta != nil {
			metaID = meta.ID
		}
		inst.cache.Set(actionID, actioncache.Entry{Err: err, Result: result, MetaID: metaID, When: inst.clock()})
	}

	fields := msg.Fields()
	if err != nil {
		inst.stats.addFail()
		if meta != nil {
			inst.patternCountersFor(meta.Pattern).addFail(inst.elapsedSince(msg))
		}
		inst.subs.FireOut(true, fields, Message{"err": err, KeyMeta: msg[KeyMeta]})
		suppressed := opts.ErrHandler != nil && opts.ErrHandler(err)
		if msg.bool(KeyFatal) && !suppressed {
			inst.die(err)
		}
		if suppressed {
			err = nil
		}
	} else {
		inst.stats.addDone()
		if meta != nil {
			inst.patternCountersFor(meta.Pattern).addDone(inst.elapsedSince(msg))
		}
		out := resultAsMessage(result)
		out[KeyMeta] = msg[KeyMeta]
		inst.subs.FireOut(true, fields, out)
	}

	inst.deliverAsync(done, err, result)
}

// callMetaFields renders a CallMeta as the plain map an actionerr.Error's
// Meta field carries (spec §7: "Error values always carry ... call meta$").
func callMetaFields(cm *CallMeta) map[string]interface{} {
	if cm == nil {
		return nil
	}
	return map[string]interface{}{
		"id":      cm.ID,
		"tx":      cm.Tx,
		"pattern": cm.Pattern,
		"action":  cm.Action,
		"entry":   cm.Entry,
		"chain":   cm.Chain,
	}
}

func resultAsMessage(result interface{}) Message {
	if m, ok := result.(Message); ok {
		return m
	}
	if m, ok := result.(map[string]interface{}); ok {
		return Message(m)
	}
	return Message{"result": result}
}

// deliverAsync invokes done on its own goroutine so a handler's
// continuation can never re-enter the caller's own call stack
// synchronously, matching spec §4.5's "continuation runs asynchronously".
// A panicking continuation is caught and logged, never propagated.
func (inst *Instance) deliverAsync(done Done, err error, result interface{}) {
	if done == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				// Spec's act_callback: the continuation itself failed. There is
				// no second continuation to report it to, so this is logged
				// rather than redelivered (redelivery would violate "do NOT
				// recurse into the continuation again").
				wrapped := actionerr.New(actionerr.KindActCallback, fmt.Sprintf("act continuation panicked: %v", r), nil)
				inst.log.Error("act continuation panicked", zap.Error(wrapped))
			}
		}()
		done(err, result)
	}()
}
