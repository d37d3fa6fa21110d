package dispatchmetrics

import (
	"context"
	"time"

	"github.com/evenact/dispatch"
	"github.com/evenact/dispatch/internal/actionerr"
	"github.com/evenact/dispatch/internal/subscription"
)

// Observe wires r to inst's act-out subscription bus so every completed
// call updates the dispatch_calls_total/seconds collectors. Pattern and
// start time are read off the call's meta$; a call that never resolved a
// pattern (not-found, closed) is recorded under "" so those errors still
// surface in dispatch_errors_total.
func Observe(inst *dispatch.Instance, r *Recorder) {
	inst.Sub(map[string]string{}, subscription.Direction{Out: true}, func(msg map[string]interface{}) {
		cm, _ := msg[dispatch.KeyMeta].(*dispatch.CallMeta)
		pattern := ""
		var elapsed time.Duration
		if cm != nil {
			pattern = cm.Pattern
			elapsed = time.Since(cm.Start)
		}

		errVal, failed := msg["err"]
		if !failed {
			r.RecordCall(pattern, "ok", elapsed)
			return
		}
		r.RecordCall(pattern, "error", elapsed)
		if ae, ok := errVal.(*actionerr.Error); ok {
			r.RecordError(string(ae.Kind))
			if ae.Kind == actionerr.KindActLoop {
				r.RecordLoopRejection(pattern)
			}
		} else {
			r.RecordError("unknown")
		}
	})
}

// PollGauges periodically syncs r's gauges and cumulative counters against
// state inst exposes no event for: the action cache's replay-hit total
// (spec §4.3's cache path terminates before any act-in/act-out fires, so
// Observe's subscription never sees it) and the root gate's in-flight
// count. It blocks until ctx is done, so callers run it in its own
// goroutine alongside Observe.
func PollGauges(ctx context.Context, inst *dispatch.Instance, r *Recorder, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastCacheHits int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := inst.Stats()
			if delta := stats.CacheHits - lastCacheHits; delta > 0 {
				r.AddCacheHits("", float64(delta))
				lastCacheHits = stats.CacheHits
			}
			r.SetGateInflight(inst.GateInflight())
			r.SetCacheSize(inst.ActCacheLen())
		}
	}
}
