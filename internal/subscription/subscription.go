// Package subscription implements the dispatcher's observer bus: sub(pattern,
// fn) registers a handler invoked on every matching act-in and/or act-out,
// firing only when the call is an entry call so inner prior() calls don't
// re-notify. Subscriber panics are isolated — caught, logged, never
// propagated to the caller that triggered the dispatch.
package subscription

import (
	"sync"

	"go.uber.org/zap"

	"github.com/evenact/dispatch/pkg/pattern"
)

// Observer is a subscriber callback; msg is the call message (act-in) or
// the result (act-out).
type Observer func(msg map[string]interface{})

// Direction controls whether a registration fires on act-in, act-out, or
// both.
type Direction struct {
	In  bool
	Out bool
}

type subscriber struct {
	set *pattern.Set
	fn  Observer
	dir Direction
}

// Bus fans entry-call messages out to every subscriber whose pattern
// matches.
type Bus struct {
	glob   bool
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers []subscriber
}

// New builds an empty Bus. glob enables '*'/'?' wildcard matching on
// subscriber pattern values, matching the owning instance's pattern mode.
func New(glob bool, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{glob: glob, logger: logger}
}

// Sub registers fn to fire on matching dispatches. dir controls whether it
// observes act-in, act-out, or both; a zero-value Direction defaults to
// act-in only, matching spec §4.7 ("pattern.in$ or default").
func (b *Bus) Sub(fields map[string]string, dir Direction, fn Observer) {
	if !dir.In && !dir.Out {
		dir.In = true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, subscriber{
		set: pattern.New(fields, b.glob),
		fn:  fn,
		dir: dir,
	})
}

// FireIn notifies every act-in subscriber whose pattern matches fields,
// only when entry is true. msg is the raw call message handed to
// observers verbatim.
func (b *Bus) FireIn(entry bool, fields map[string]string, msg map[string]interface{}) {
	if !entry {
		return
	}
	b.fire(fields, msg, func(d Direction) bool { return d.In })
}

// FireOut notifies every act-out subscriber whose pattern matches fields,
// only when entry is true.
func (b *Bus) FireOut(entry bool, fields map[string]string, msg map[string]interface{}) {
	if !entry {
		return
	}
	b.fire(fields, msg, func(d Direction) bool { return d.Out })
}

func (b *Bus) fire(fields map[string]string, msg map[string]interface{}, want func(Direction) bool) {
	b.mu.RLock()
	matched := make([]subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if want(sub.dir) && sub.set.Matches(fields) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		b.invoke(sub, msg)
	}
}

func (b *Bus) invoke(sub subscriber, msg map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked", zap.Any("recover", r))
		}
	}()
	sub.fn(msg)
}
