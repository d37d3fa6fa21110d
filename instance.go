// Package dispatch implements a pattern-matched action dispatcher: actions
// are registered under a (possibly partial) key/value pattern and a single
// act() call resolves the most specific registered match, runs it through a
// single-threaded cooperative gate, and delivers the result through an
// asynchronous continuation.
//
// The dispatcher (C5), delegate factory (C6) and instance lifecycle (C9)
// live together in this one package rather than split across
// import-cycle-prone leaf packages: the dispatcher constructs delegates to
// invoke handlers with, and a delegate's prior() needs the dispatcher's own
// act machinery to re-enter it. internal/index, internal/registry,
// internal/actioncache, internal/gate, internal/subscription and
// internal/config stay leaf packages with one-way imports into this one.
package dispatch

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/evenact/dispatch/internal/actid"
	"github.com/evenact/dispatch/internal/actioncache"
	"github.com/evenact/dispatch/internal/actionerr"
	"github.com/evenact/dispatch/internal/config"
	"github.com/evenact/dispatch/internal/dispatchlog"
	"github.com/evenact/dispatch/internal/gate"
	"github.com/evenact/dispatch/internal/registry"
	"github.com/evenact/dispatch/internal/subscription"
)

// Version is the module's identity-formatting version field, the 4th
// segment of an instance id.
const Version = "1.0.0"

// Meta re-exports registry.Meta so callers outside this module can name the
// type Add/Find/List/Wrap hand back without reaching into internal/registry
// (which Go's internal-package rule would forbid them from importing
// directly).
type Meta = registry.Meta

// counters is the instance's in-memory Stats bookkeeping (spec §3 "Stats").
// Kept as plain atomics rather than a mutex-guarded struct since every
// field is independently incremented from possibly-concurrent sub-gates.
type counters struct {
	calls     atomic.Int64
	done      atomic.Int64
	fails     atomic.Int64
	cacheHits atomic.Int64
}

func (c *counters) addCall()     { c.calls.Add(1) }
func (c *counters) addDone()     { c.done.Add(1) }
func (c *counters) addFail()     { c.fails.Add(1) }
func (c *counters) addCacheHit() { c.cacheHits.Add(1) }

// Stats is a point-in-time snapshot of the instance's call counters.
type Stats struct {
	Calls     int64
	Done      int64
	Fails     int64
	CacheHits int64
}

// DurationPercentiles is a rolling percentile summary of handler duration
// over the last stats.size samples for one pattern (spec §3 Stats' "time").
type DurationPercentiles struct {
	P50, P90, P99 time.Duration
	Count         int
}

// PatternStats is a snapshot of one pattern's rolling call counters, the
// per-pattern half of spec §3's "Stats" (global {calls, done, fails, cache}
// plus per-pattern {calls, done, fails, time}).
type PatternStats struct {
	Pattern string
	Calls   int64
	Done    int64
	Fails   int64
	Time    DurationPercentiles
}

// patternCounters backs one pattern's PatternStats. calls/done/fails are
// plain atomics; the duration ring is mutex-guarded since recording is a
// read-modify-write over a fixed-size slice, not an independent increment.
type patternCounters struct {
	calls atomic.Int64
	done  atomic.Int64
	fails atomic.Int64

	mu     sync.Mutex
	ring   []time.Duration
	cursor int
	size   int
}

func newPatternCounters(size int) *patternCounters {
	if size <= 0 {
		size = 1000
	}
	return &patternCounters{size: size}
}

func (pc *patternCounters) addCall() { pc.calls.Add(1) }

func (pc *patternCounters) addDone(d time.Duration) {
	pc.done.Add(1)
	pc.record(d)
}

func (pc *patternCounters) addFail(d time.Duration) {
	pc.fails.Add(1)
	pc.record(d)
}

func (pc *patternCounters) record(d time.Duration) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if len(pc.ring) < pc.size {
		pc.ring = append(pc.ring, d)
		return
	}
	pc.ring[pc.cursor] = d
	pc.cursor = (pc.cursor + 1) % pc.size
}

func (pc *patternCounters) percentiles() DurationPercentiles {
	pc.mu.Lock()
	samples := append([]time.Duration(nil), pc.ring...)
	pc.mu.Unlock()

	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	pick := func(p float64) time.Duration {
		if len(samples) == 0 {
			return 0
		}
		idx := int(p * float64(len(samples)-1))
		return samples[idx]
	}
	return DurationPercentiles{
		P50:   pick(0.50),
		P90:   pick(0.90),
		P99:   pick(0.99),
		Count: len(samples),
	}
}

// Instance is a pattern dispatcher: the root of a registry, an action
// cache, a gated executor and a subscription bus, addressable through Act,
// Add, Sub and the rest of the operation table in spec §6.
type Instance struct {
	optsMu sync.RWMutex
	opts   config.Options
	log    *dispatchlog.Logger

	registry *registry.Registry
	cache    actioncache.Backend
	rootGate *gate.Gate
	subs     *subscription.Bus
	stats    counters

	gateMu   sync.Mutex
	subGates map[string]*gate.Gate

	patternMu sync.RWMutex
	patterns  map[string]*patternCounters

	id        string
	startTime time.Time
	clock     func() time.Time

	closed    atomic.Bool
	closeOnce sync.Once
	signalCh  chan os.Signal
	cancelSig context.CancelFunc

	mu          sync.Mutex
	errHandlers []func(error) bool
}

// New builds an Instance from opts, deep-merged over config.Defaults() and
// validated. A non-nil clock overrides time.Now for deterministic tests; it
// may be nil in production use.
func New(opts config.Options, clock func() time.Time) (*Instance, error) {
	merged := config.Merge(config.Defaults(), opts)
	if err := config.Validate(merged); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = time.Now
	}

	logger, err := dispatchlog.NewWithStartupOverride(merged.Log)
	if err != nil {
		return nil, err
	}

	start := clock()

	backend := actioncache.Backend(actioncache.NewLRU(merged.ActCache.Size))
	if !merged.ActCache.Active {
		backend = actioncache.Noop{}
	}

	inst := &Instance{
		opts:      merged,
		log:       logger,
		registry:  registry.New(registry.Options{Catchall: merged.Internal.Catchall, StrictAdd: merged.Strict.Add, IDLen: merged.IDLen}),
		cache:     backend,
		subs:      subscription.New(false, logger.Logger),
		clock:     clock,
		startTime: start,
		id:        actid.InstanceID(start.Unix(), Version, merged.Tag),
	}
	inst.rootGate = gate.New(merged.Timeout, inst.onLateCompletion)

	if merged.ErrHandler != nil {
		inst.errHandlers = append(inst.errHandlers, merged.ErrHandler)
	}

	inst.installSignalHandlers()
	logger.Info("instance ready", zap.String("id", inst.id), zap.String("tag", merged.Tag))

	inst.Ready(func() { logger.SwitchToConfiguredLevel() })

	return inst, nil
}

func (inst *Instance) onLateCompletion(t gate.Task) {
	inst.log.Warn("late action completion discarded", zap.String("actid", t.ID))
}

// ID returns the instance's identity string.
func (inst *Instance) ID() string { return inst.id }

// GateInflight returns the number of calls currently admitted into the
// root gate, for hosts that want to export it as a metric.
func (inst *Instance) GateInflight() int { return inst.rootGate.Inflight() }

// ActCacheLen returns the action cache's current entry count, for hosts
// that want to export it as a metric.
func (inst *Instance) ActCacheLen() int { return inst.cache.Len() }

// subGateFor returns the sub-gate keyed by key, lazily creating one off the
// root gate on first use. This backs a message's gate$ attribute (spec §3
// data model, §4.5 step 3): unlike Delegate.Gate()'s Go-only API, a caller
// that sends {"gate$": true} gets a sub-gate keyed off the resolved action
// rather than one it has to hold a reference to itself.
func (inst *Instance) subGateFor(key string) *gate.Gate {
	inst.gateMu.Lock()
	defer inst.gateMu.Unlock()
	if g, ok := inst.subGates[key]; ok {
		return g
	}
	g := inst.rootGate.Gate()
	if inst.subGates == nil {
		inst.subGates = make(map[string]*gate.Gate)
	}
	inst.subGates[key] = g
	return g
}

// Options returns the instance's resolved, effective options. patch, if
// given, is deep-merged in and validated; an invalid patch is rejected and
// the instance's options are left unchanged.
func (inst *Instance) Options(patch *config.Options) (config.Options, error) {
	if patch == nil {
		return inst.getOpts(), nil
	}
	inst.optsMu.Lock()
	defer inst.optsMu.Unlock()
	merged := config.Merge(inst.opts, *patch)
	if err := config.Validate(merged); err != nil {
		return inst.opts, err
	}
	inst.opts = merged
	return inst.opts, nil
}

// getOpts returns a snapshot of the instance's current options, safe for
// concurrent use alongside Options(patch) (spec §5's "a port to a
// preemptive-threaded runtime must serialize mutations").
func (inst *Instance) getOpts() config.Options {
	inst.optsMu.RLock()
	defer inst.optsMu.RUnlock()
	return inst.opts
}

// Delegate returns a scoped delegate whose fixedArgs are merged with
// fixedArgs. A nil/empty fixedArgs returns the instance's root delegate.
func (inst *Instance) Delegate(fixedArgs Message) *Delegate {
	d := rootDelegate(inst)
	for k, v := range fixedArgs {
		d.fixedArgs[k] = v
	}
	return d
}

// Add registers fn under pattern on the instance's root delegate.
func (inst *Instance) Add(pattern interface{}, fn ActionFunc) (*Meta, error) {
	return inst.Delegate(nil).Add(pattern, fn)
}

// Act dispatches msg on the instance's root delegate.
func (inst *Instance) Act(pattern interface{}, rest ...interface{}) {
	inst.Delegate(nil).Act(pattern, rest...)
}

// Sub registers fn to observe matching dispatches (spec §4.7).
func (inst *Instance) Sub(pattern interface{}, dir subscription.Direction, fn subscription.Observer) {
	inst.subs.Sub(toFields(pattern), dir, fn)
}

// Find resolves pattern without dispatching.
func (inst *Instance) Find(pattern interface{}) *Meta {
	return inst.registry.Find(toFields(pattern))
}

// List enumerates every registered action whose pattern is a superset of
// partial, most specific first.
func (inst *Instance) List(partial interface{}) []*Meta {
	return inst.registry.List(toFields(partial))
}

// Has reports whether pattern resolves to a registered action.
func (inst *Instance) Has(pattern interface{}) bool {
	return inst.registry.Has(toFields(pattern))
}

// Error installs an instance-wide error handler; its return value, like
// Options.ErrHandler's, suppresses the user continuation when truthy.
func (inst *Instance) Error(handler func(err error) bool) {
	inst.mu.Lock()
	inst.errHandlers = append(inst.errHandlers, handler)
	combined := inst.combinedErrHandler()
	inst.mu.Unlock()

	inst.optsMu.Lock()
	inst.opts.ErrHandler = combined
	inst.optsMu.Unlock()
}

func (inst *Instance) combinedErrHandler() config.ErrHandler {
	handlers := append([]func(error) bool{}, inst.errHandlers...)
	return func(err error) bool {
		suppressed := false
		for _, h := range handlers {
			if h(err) {
				suppressed = true
			}
		}
		return suppressed
	}
}

// WrapperFunc builds a replacement handler for an existing registration;
// implementations typically call this.Prior to reach the original.
type WrapperFunc func(meta *Meta) ActionFunc

// Wrap re-registers, for every action matching partial, a new handler built
// by wrapper at that action's exact pattern — going through the normal Add
// override path so the new registration's priormeta chains to the
// original, letting wrapper reach it via this.Prior (spec §6 "wrap").
func (inst *Instance) Wrap(partial interface{}, wrapper WrapperFunc) error {
	matches := inst.List(partial)
	for _, meta := range matches {
		fields := ParsePatternString(meta.Pattern)
		if _, err := inst.Delegate(nil).Add(fields, wrapper(meta)); err != nil {
			return err
		}
	}
	return nil
}

// Ready enqueues cb to fire once the instance's gate is idle; if already
// idle, cb fires asynchronously on the next tick (spec §4.9). Unlike
// gate.OnClear (which is a persistent observer firing on every idle
// transition), Ready's cb fires exactly once — the gate never supports
// unsubscribing, so the wrapped callback guards itself instead.
func (inst *Instance) Ready(cb func()) {
	var once sync.Once
	inst.rootGate.OnClear(func() { once.Do(cb) })
}

// Close performs the instance's graceful shutdown sequence (spec §4.9):
// await readiness, mark closed, remove signal handlers, dispatch the close
// action, then release the action cache/logger.
func (inst *Instance) Close(done func(err error)) {
	inst.closeOnce.Do(func() {
		ready := make(chan struct{})
		inst.Ready(func() { close(ready) })

		go func() {
			<-ready
			inst.closed.Store(true)
			if inst.cancelSig != nil {
				inst.cancelSig()
			}

			closeMsg := Message{"role": "seneca", "cmd": "close", KeyClosing: true}
			result := make(chan error, 1)
			inst.Act(closeMsg, Done(func(err error, _ interface{}) { result <- err }))

			var err error
			select {
			case e := <-result:
				err = e
			case <-time.After(inst.getOpts().Timeout):
				err = actionerr.New(actionerr.KindTimeout, "close action timed out", nil)
			}

			inst.log.EnsureInfoLevelForShutdown()
			if closeErr, ok := inst.cache.(interface{ Close() error }); ok {
				err = multierr.Append(err, closeErr.Close())
			}
			err = multierr.Append(err, inst.log.Sync())

			if done != nil {
				done(err)
			}
		}()
	})
}

func (inst *Instance) isClosed() bool {
	return inst.closed.Load()
}

// die implements spec's "if fatal$, die" escape hatch: logs the fatal error
// at error level and marks the instance closed so subsequent act calls
// short-circuit with instance-closed, mirroring a process that would
// otherwise exit. debug.undead suppresses the closing side-effect, for
// tests that want to observe a fatal error without tearing down the
// instance.
func (inst *Instance) die(err error) {
	inst.log.Error("fatal action error, instance closing", zap.Error(err))
	if inst.getOpts().Debug.Undead {
		return
	}
	inst.closed.Store(true)
}

func (inst *Instance) installSignalHandlers() {
	var sigs []os.Signal
	for name, trap := range inst.opts.Internal.CloseSignals {
		if !trap {
			continue
		}
		switch name {
		case "SIGINT":
			sigs = append(sigs, syscall.SIGINT)
		case "SIGTERM":
			sigs = append(sigs, syscall.SIGTERM)
		}
	}
	if len(sigs) == 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	inst.cancelSig = cancel

	inst.signalCh = make(chan os.Signal, 1)
	signal.Notify(inst.signalCh, sigs...)

	go func() {
		select {
		case <-inst.signalCh:
			inst.Close(nil)
		case <-ctx.Done():
			signal.Stop(inst.signalCh)
		}
	}()
}

// Stats returns a snapshot of the instance's global call counters.
func (inst *Instance) Stats() Stats {
	return Stats{
		Calls:     inst.stats.calls.Load(),
		Done:      inst.stats.done.Load(),
		Fails:     inst.stats.fails.Load(),
		CacheHits: inst.stats.cacheHits.Load(),
	}
}

// PatternStats returns a snapshot of pattern's rolling call counters, or
// the zero value with ok=false if pattern has never resolved a call. A
// pattern's duration ring never grows past stats.size samples (default
// 1000), matching spec §3's "Stats rings are bounded".
func (inst *Instance) PatternStats(pattern string) (stats PatternStats, ok bool) {
	inst.patternMu.RLock()
	pc, found := inst.patterns[pattern]
	inst.patternMu.RUnlock()
	if !found {
		return PatternStats{}, false
	}
	return PatternStats{
		Pattern: pattern,
		Calls:   pc.calls.Load(),
		Done:    pc.done.Load(),
		Fails:   pc.fails.Load(),
		Time:    pc.percentiles(),
	}, true
}

// patternCountersFor returns pattern's counters, creating them on first use.
func (inst *Instance) patternCountersFor(pattern string) *patternCounters {
	inst.patternMu.RLock()
	pc, ok := inst.patterns[pattern]
	inst.patternMu.RUnlock()
	if ok {
		return pc
	}

	inst.patternMu.Lock()
	defer inst.patternMu.Unlock()
	if pc, ok = inst.patterns[pattern]; ok {
		return pc
	}
	pc = newPatternCounters(inst.getOpts().Stats.Size)
	if inst.patterns == nil {
		inst.patterns = make(map[string]*patternCounters)
	}
	inst.patterns[pattern] = pc
	return pc
}

// elapsedSince returns the call duration recorded on msg's meta$, or zero if
// msg carries none (the resolveNotFound/instance-closed early-return paths
// never attach a CallMeta since no action was resolved to attribute it to).
func (inst *Instance) elapsedSince(msg Message) time.Duration {
	if cm, ok := msg[KeyMeta].(*CallMeta); ok {
		return inst.clock().Sub(cm.Start)
	}
	return 0
}

// add is the shared implementation behind Delegate.Add and Instance.Add.
// rules carries any per-attribute validator specs toFieldsAndRules extracted
// from mapping-valued pattern entries (spec §4.2 step 1); it may be nil.
func (inst *Instance) add(fields map[string]string, rules map[string]registry.Rule, fn ActionFunc, callpoint string) (*Meta, error) {
	return inst.registry.Add(fields, fn, rules, registry.Plugin{}, callpoint, "", nil)
}
