// Package config holds the dispatcher's frozen-after-init options tree:
// built-in defaults, deep-merged with a constructor argument and any
// subsequent options(patch) calls, then validated once against a schema.
package config

import (
	"fmt"
	"time"

	"github.com/evenact/dispatch/internal/dispatchlog"
)

// Strict groups the strict.* switches from spec §6. Find is a *bool,
// unlike its siblings: every other strict.* boolean merges monotonically
// (a patch can only turn it on; result defaults on and so stays on), but
// find defaults ON (missing action is an error) and a patch must be able
// to turn it back off — a plain bool can't distinguish "patch didn't mention find" from
// "patch explicitly set find: false", so it needs the pointer.
type Strict struct {
	Result    bool  `yaml:"result"`
	FixedArgs bool  `yaml:"fixedargs"`
	Add       bool  `yaml:"add"`
	Find      *bool `yaml:"find"`
	MaxLoop   int   `yaml:"maxloop"`
}

// FindOn reports whether strict.find is in effect, defaulting true when
// unset.
func (s Strict) FindOn() bool {
	if s.Find == nil {
		return true
	}
	return *s.Find
}

// BoolPtr is a convenience constructor for the Strict.Find pointer field.
func BoolPtr(b bool) *bool {
	return &b
}

// ActCache groups the actcache.* switches.
type ActCache struct {
	Active bool `yaml:"active"`
	Size   int  `yaml:"size"`
}

// Trace groups the trace.* switches.
type Trace struct {
	Act     bool `yaml:"act"`
	Stack   bool `yaml:"stack"`
	Unknown bool `yaml:"unknown"`
}

// Stats groups the stats.* switches.
type Stats struct {
	Size     int           `yaml:"size"`
	Interval time.Duration `yaml:"interval"`
	Running  bool          `yaml:"running"`
}

// Status groups the status.* switches (periodic status log).
type Status struct {
	Interval time.Duration `yaml:"interval"`
	Running  bool          `yaml:"running"`
}

// Debug groups the debug.* switches.
type Debug struct {
	Fragile    bool `yaml:"fragile"`
	Undead     bool `yaml:"undead"`
	ActCaller  bool `yaml:"act_caller"`
	Callpoint  bool `yaml:"callpoint"`
	ShortLogs  bool `yaml:"short_logs"`
}

// Internal groups the internal.* switches.
type Internal struct {
	Catchall      bool            `yaml:"catchall"`
	CloseSignals  map[string]bool `yaml:"close_signals"`
}

// Legacy groups the legacy.* compatibility switches.
type Legacy struct {
	ErrorCodes bool `yaml:"error_codes"`
	Validate   bool `yaml:"validate"`
	Logging    bool `yaml:"logging"`
}

// ErrHandler is invoked on every act error; a truthy return suppresses the
// user's own continuation callback (the error is considered "consumed").
type ErrHandler func(err error) bool

// Options is the dispatcher's full configuration tree, deep-merged from
// Defaults() ← a constructor-supplied Options ← subsequent Patch calls, and
// validated once by Validate.
type Options struct {
	Tag     string        `yaml:"tag"`
	IDLen   int           `yaml:"idlen"`
	Timeout time.Duration `yaml:"timeout"`

	Strict   Strict   `yaml:"strict"`
	ActCache ActCache `yaml:"actcache"`
	Trace    Trace    `yaml:"trace"`
	Stats    Stats    `yaml:"stats"`
	Status   Status   `yaml:"status"`
	Debug    Debug    `yaml:"debug"`
	Internal Internal `yaml:"internal"`
	Legacy   Legacy   `yaml:"legacy"`

	Log dispatchlog.Config `yaml:"log"`

	ErrHandler ErrHandler `yaml:"-"`
}

// Defaults returns the dispatcher's built-in option defaults.
func Defaults() Options {
	return Options{
		IDLen:   12,
		Timeout: 5000 * time.Millisecond,
		Strict: Strict{
			Result:  true,
			MaxLoop: 11,
		},
		ActCache: ActCache{
			Active: true,
			Size:   11111,
		},
		Stats: Stats{
			Size:     1000,
			Interval: time.Minute,
		},
		Status: Status{
			Interval: 60 * time.Second,
		},
		Internal: Internal{
			Catchall: false,
			CloseSignals: map[string]bool{
				"SIGINT":  true,
				"SIGTERM": true,
			},
		},
		Log: dispatchlog.Default(),
	}
}

// Merge deep-merges patch onto base: any zero-valued field in patch leaves
// base's value untouched; maps (CloseSignals) are merged key by key rather
// than replaced wholesale. Used both for the constructor argument and for
// every subsequent options(patch) call.
func Merge(base Options, patch Options) Options {
	out := base

	if patch.Tag != "" {
		out.Tag = patch.Tag
	}
	if patch.IDLen != 0 {
		out.IDLen = patch.IDLen
	}
	if patch.Timeout != 0 {
		out.Timeout = patch.Timeout
	}

	out.Strict = mergeStrict(base.Strict, patch.Strict)
	out.ActCache = mergeActCache(base.ActCache, patch.ActCache)
	out.Trace = mergeTrace(base.Trace, patch.Trace)
	out.Stats = mergeStats(base.Stats, patch.Stats)
	out.Status = mergeStatus(base.Status, patch.Status)
	out.Debug = mergeDebug(base.Debug, patch.Debug)
	out.Internal = mergeInternal(base.Internal, patch.Internal)
	out.Legacy = mergeLegacy(base.Legacy, patch.Legacy)

	if patch.Log != (dispatchlog.Config{}) {
		out.Log = patch.Log
	}
	if patch.ErrHandler != nil {
		out.ErrHandler = patch.ErrHandler
	}

	return out
}

func mergeStrict(base, patch Strict) Strict {
	out := base
	if patch.Result {
		out.Result = true
	}
	if patch.FixedArgs {
		out.FixedArgs = true
	}
	if patch.Add {
		out.Add = true
	}
	if patch.Find != nil {
		out.Find = patch.Find
	}
	if patch.MaxLoop != 0 {
		out.MaxLoop = patch.MaxLoop
	}
	return out
}

func mergeActCache(base, patch ActCache) ActCache {
	out := base
	if patch.Active {
		out.Active = true
	}
	if patch.Size != 0 {
		out.Size = patch.Size
	}
	return out
}

func mergeTrace(base, patch Trace) Trace {
	out := base
	out.Act = out.Act || patch.Act
	out.Stack = out.Stack || patch.Stack
	out.Unknown = out.Unknown || patch.Unknown
	return out
}

func mergeStats(base, patch Stats) Stats {
	out := base
	if patch.Size != 0 {
		out.Size = patch.Size
	}
	if patch.Interval != 0 {
		out.Interval = patch.Interval
	}
	out.Running = out.Running || patch.Running
	return out
}

func mergeStatus(base, patch Status) Status {
	out := base
	if patch.Interval != 0 {
		out.Interval = patch.Interval
	}
	out.Running = out.Running || patch.Running
	return out
}

func mergeDebug(base, patch Debug) Debug {
	return Debug{
		Fragile:   base.Fragile || patch.Fragile,
		Undead:    base.Undead || patch.Undead,
		ActCaller: base.ActCaller || patch.ActCaller,
		Callpoint: base.Callpoint || patch.Callpoint,
		ShortLogs: base.ShortLogs || patch.ShortLogs,
	}
}

func mergeInternal(base, patch Internal) Internal {
	out := base
	out.Catchall = out.Catchall || patch.Catchall
	if len(patch.CloseSignals) > 0 {
		merged := make(map[string]bool, len(base.CloseSignals)+len(patch.CloseSignals))
		for k, v := range base.CloseSignals {
			merged[k] = v
		}
		for k, v := range patch.CloseSignals {
			merged[k] = v
		}
		out.CloseSignals = merged
	}
	return out
}

func mergeLegacy(base, patch Legacy) Legacy {
	return Legacy{
		ErrorCodes: base.ErrorCodes || patch.ErrorCodes,
		Validate:   base.Validate || patch.Validate,
		Logging:    base.Logging || patch.Logging,
	}
}

// Validate checks the schema spec §6 calls out explicitly: tag is a string
// (always valid in Go), idlen and timeout must be positive, errhandler (if
// set) must be callable — which in Go just means non-nil, already
// guaranteed by the ErrHandler function type.
func Validate(o Options) error {
	if o.IDLen <= 0 {
		return fmt.Errorf("config: idlen must be positive, got %d", o.IDLen)
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive, got %s", o.Timeout)
	}
	if o.Strict.MaxLoop <= 0 {
		return fmt.Errorf("config: strict.maxloop must be positive, got %d", o.Strict.MaxLoop)
	}
	if o.ActCache.Size <= 0 {
		return fmt.Errorf("config: actcache.size must be positive, got %d", o.ActCache.Size)
	}
	return nil
}
