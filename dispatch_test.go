package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evenact/dispatch/internal/actionerr"
	"github.com/evenact/dispatch/internal/config"
	"github.com/evenact/dispatch/internal/subscription"
)

func newTestInstance(t *testing.T, patch config.Options) *Instance {
	t.Helper()
	merged := config.Merge(config.Defaults(), patch)
	merged.Timeout = 200 * time.Millisecond
	merged.Internal.CloseSignals = nil // don't install OS signal handlers in tests
	inst, err := New(merged, nil)
	require.NoError(t, err)
	return inst
}

func syncAct(t *testing.T, inst *Instance, msg Message) (error, interface{}) {
	t.Helper()
	type outcome struct {
		err    error
		result interface{}
	}
	done := make(chan outcome, 1)
	inst.Act(msg, Done(func(err error, result interface{}) { done <- outcome{err, result} }))

	select {
	case o := <-done:
		return o.err, o.result
	case <-time.After(2 * time.Second):
		t.Fatal("act never completed")
		return nil, nil
	}
}

func TestAddAndFindHas(t *testing.T) {
	inst := newTestInstance(t, config.Options{})

	_, err := inst.Add(map[string]string{"role": "math", "cmd": "sum"}, func(this *Delegate, msg Message, done Done) {
		done(nil, Message{"result": 1})
	})
	require.NoError(t, err)

	assert.True(t, inst.Has(map[string]string{"role": "math", "cmd": "sum"}))
	assert.False(t, inst.Has(map[string]string{"role": "math", "cmd": "product"}))

	meta := inst.Find(map[string]string{"role": "math", "cmd": "sum"})
	require.NotNil(t, meta)
}

func TestActInvokesRegisteredHandler(t *testing.T) {
	inst := newTestInstance(t, config.Options{})

	_, err := inst.Add(map[string]string{"role": "math", "cmd": "sum"}, func(this *Delegate, msg Message, done Done) {
		a, _ := msg["a"].(int)
		b, _ := msg["b"].(int)
		done(nil, Message{"answer": a + b})
	})
	require.NoError(t, err)

	gotErr, result := syncAct(t, inst, Message{"role": "math", "cmd": "sum", "a": 2, "b": 3})
	require.NoError(t, gotErr)
	res, ok := result.(Message)
	require.True(t, ok)
	assert.Equal(t, 5, res["answer"])
}

func TestActNotFoundWithoutDefault(t *testing.T) {
	inst := newTestInstance(t, config.Options{})

	gotErr, _ := syncAct(t, inst, Message{"role": "nope"})
	require.Error(t, gotErr)
	assert.ErrorIs(t, gotErr, actionerr.ErrActNotFound)
}

func TestActFallsBackToDefault(t *testing.T) {
	inst := newTestInstance(t, config.Options{})

	gotErr, result := syncAct(t, inst, Message{"role": "nope", KeyDefault: Message{"fallback": true}})
	require.NoError(t, gotErr)
	res, ok := result.(Message)
	require.True(t, ok)
	assert.Equal(t, true, res["fallback"])
}

func TestActDefaultBadWhenUnusable(t *testing.T) {
	inst := newTestInstance(t, config.Options{})

	gotErr, _ := syncAct(t, inst, Message{"role": "nope", KeyDefault: "not-an-object"})
	require.Error(t, gotErr)
	assert.ErrorIs(t, gotErr, actionerr.ErrActDefaultBad)
}

func TestStrictFindOffReturnsEmptyResult(t *testing.T) {
	inst := newTestInstance(t, config.Options{Strict: config.Strict{Find: config.BoolPtr(false)}})

	gotErr, result := syncAct(t, inst, Message{"role": "nope"})
	require.NoError(t, gotErr)
	res, ok := result.(Message)
	require.True(t, ok)
	assert.Empty(t, res)
}

func TestActCachesResultByActionID(t *testing.T) {
	inst := newTestInstance(t, config.Options{})

	var calls int
	_, err := inst.Add(map[string]string{"role": "math", "cmd": "sum"}, func(this *Delegate, msg Message, done Done) {
		calls++
		done(nil, Message{"calls": calls})
	})
	require.NoError(t, err)

	gotErr, result := syncAct(t, inst, Message{"role": "math", "cmd": "sum", KeyID: "fixed-id", KeyTx: "tx-1"})
	require.NoError(t, gotErr)
	assert.Equal(t, 1, result.(Message)["calls"])

	gotErr, result = syncAct(t, inst, Message{"role": "math", "cmd": "sum", KeyID: "fixed-id", KeyTx: "tx-1"})
	require.NoError(t, gotErr)
	assert.Equal(t, 1, result.(Message)["calls"], "replayed action-id should hit the cache, not re-invoke the handler")
}

func TestActLoopDetection(t *testing.T) {
	inst := newTestInstance(t, config.Options{})

	meta, err := inst.Add(map[string]string{"role": "r", "cmd": "a"}, func(this *Delegate, msg Message, done Done) {
		done(nil, Message{})
	})
	require.NoError(t, err)

	history := make([]Message, 0, 12)
	for i := 0; i < 12; i++ {
		history = append(history, Message{"action": meta.ID})
	}

	gotErr, _ := syncAct(t, inst, Message{"role": "r", "cmd": "a", KeyHistory: history})
	require.Error(t, gotErr)
	assert.ErrorIs(t, gotErr, actionerr.ErrActLoop)
}

func TestPriorCallsOverriddenAction(t *testing.T) {
	inst := newTestInstance(t, config.Options{})

	_, err := inst.Add(map[string]string{"role": "greet"}, func(this *Delegate, msg Message, done Done) {
		done(nil, Message{"text": "hello"})
	})
	require.NoError(t, err)

	_, err = inst.Add(map[string]string{"role": "greet"}, func(this *Delegate, msg Message, done Done) {
		this.Prior(msg, func(err error, result interface{}) {
			if err != nil {
				done(err, nil)
				return
			}
			base, _ := result.(Message)
			done(nil, Message{"text": base["text"].(string) + ", world"})
		})
	})
	require.NoError(t, err)

	gotErr, result := syncAct(t, inst, Message{"role": "greet"})
	require.NoError(t, gotErr)
	assert.Equal(t, "hello, world", result.(Message)["text"])
}

func TestWrapReRegistersThroughPriorChain(t *testing.T) {
	inst := newTestInstance(t, config.Options{})

	_, err := inst.Add(map[string]string{"role": "greet"}, func(this *Delegate, msg Message, done Done) {
		done(nil, Message{"text": "hi"})
	})
	require.NoError(t, err)

	err = inst.Wrap(map[string]string{"role": "greet"}, func(meta *Meta) ActionFunc {
		return func(this *Delegate, msg Message, done Done) {
			this.Prior(msg, func(err error, result interface{}) {
				if err != nil {
					done(err, nil)
					return
				}
				base, _ := result.(Message)
				done(nil, Message{"text": "[" + base["text"].(string) + "]"})
			})
		}
	})
	require.NoError(t, err)

	gotErr, result := syncAct(t, inst, Message{"role": "greet"})
	require.NoError(t, gotErr)
	assert.Equal(t, "[hi]", result.(Message)["text"])
}

func TestSubFiresOnActInAndActOut(t *testing.T) {
	inst := newTestInstance(t, config.Options{})

	_, err := inst.Add(map[string]string{"role": "math", "cmd": "sum"}, func(this *Delegate, msg Message, done Done) {
		done(nil, Message{"ok": true})
	})
	require.NoError(t, err)

	var mu sync.Mutex
	var sawIn, sawOut bool
	inst.Sub(map[string]string{"role": "math"}, subscription.Direction{In: true, Out: true}, func(msg map[string]interface{}) {
		mu.Lock()
		defer mu.Unlock()
		if _, ok := msg["cmd"]; ok {
			sawIn = true
		} else {
			sawOut = true
		}
	})

	_, _ = syncAct(t, inst, Message{"role": "math", "cmd": "sum"})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, sawIn, "expected a subscriber to observe act-in")
	assert.True(t, sawOut, "expected a subscriber to observe act-out")
}

func TestErrHandlerSuppressesContinuationError(t *testing.T) {
	inst := newTestInstance(t, config.Options{})
	inst.Error(func(err error) bool { return true })

	_, err := inst.Add(map[string]string{"role": "boom"}, func(this *Delegate, msg Message, done Done) {
		done(actionerr.New(actionerr.KindActExecute, "boom", nil), nil)
	})
	require.NoError(t, err)

	gotErr, _ := syncAct(t, inst, Message{"role": "boom"})
	assert.NoError(t, gotErr, "errhandler returning true should suppress the error from the user continuation")
}

func TestReadyFiresWhenGateIdle(t *testing.T) {
	inst := newTestInstance(t, config.Options{})

	ready := make(chan struct{}, 1)
	inst.Ready(func() { ready <- struct{}{} })

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("expected Ready to fire for an already-idle instance")
	}
}

func TestCloseDispatchesCloseActionAndMarksClosed(t *testing.T) {
	inst := newTestInstance(t, config.Options{})

	var closed bool
	_, err := inst.Add(map[string]string{"role": "seneca", "cmd": "close"}, func(this *Delegate, msg Message, done Done) {
		closed = true
		done(nil, Message{})
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	inst.Close(func(err error) { done <- err })

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close never completed")
	}

	assert.True(t, closed, "expected the close action to be dispatched")
	assert.True(t, inst.isClosed())
}

func TestActAfterCloseIsRejected(t *testing.T) {
	inst := newTestInstance(t, config.Options{})

	_, err := inst.Add(map[string]string{"role": "seneca", "cmd": "close"}, func(this *Delegate, msg Message, done Done) {
		done(nil, Message{})
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	inst.Close(func(err error) { done <- err })
	<-done

	gotErr, _ := syncAct(t, inst, Message{"role": "anything"})
	require.Error(t, gotErr)
	assert.ErrorIs(t, gotErr, actionerr.ErrInstanceClosed)
}

func TestMessageGateAttributeRoutesThroughSubGate(t *testing.T) {
	inst := newTestInstance(t, config.Options{})

	var mu sync.Mutex
	var maxConcurrent, current int
	release := make(chan struct{})

	_, err := inst.Add(map[string]string{"role": "slow"}, func(this *Delegate, msg Message, done Done) {
		mu.Lock()
		current++
		if current > maxConcurrent {
			maxConcurrent = current
		}
		mu.Unlock()

		<-release

		mu.Lock()
		current--
		mu.Unlock()
		done(nil, Message{})
	})
	require.NoError(t, err)

	done1 := make(chan struct{})
	done2 := make(chan struct{})
	inst.Act(Message{"role": "slow", KeyGate: true}, Done(func(error, interface{}) { close(done1) }))
	inst.Act(Message{"role": "slow", KeyGate: true}, Done(func(error, interface{}) { close(done2) }))

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	gotMax := maxConcurrent
	mu.Unlock()
	assert.Equal(t, 1, gotMax, "a gate$ call must still serialize through its sub-gate, not run unbounded")

	close(release)
	<-done1
	<-done2
}

func TestDelegateFixMergesIntoAdd(t *testing.T) {
	inst := newTestInstance(t, config.Options{})

	_, err := inst.Delegate(nil).Fix(map[string]string{"role": "math"}).Add(map[string]string{"cmd": "sum"}, func(this *Delegate, msg Message, done Done) {
		done(nil, Message{"ok": true})
	})
	require.NoError(t, err)

	assert.True(t, inst.Has(map[string]string{"role": "math", "cmd": "sum"}), "Fix(pattern).Add(...) must register under the merged pattern")
	assert.False(t, inst.Has(map[string]string{"cmd": "sum"}), "the un-fixed pattern must not also be registered")
}

func TestAddRuleRequiredRejectsMissingAttribute(t *testing.T) {
	inst := newTestInstance(t, config.Options{})

	_, err := inst.Add(map[string]interface{}{
		"role": "greet",
		"name": map[string]interface{}{"required": true},
	}, func(this *Delegate, msg Message, done Done) {
		done(nil, Message{"said": msg["name"]})
	})
	require.NoError(t, err)

	gotErr, _ := syncAct(t, inst, Message{"role": "greet"})
	require.Error(t, gotErr)
	assert.ErrorIs(t, gotErr, actionerr.ErrActInvalidMsg)

	gotErr, result := syncAct(t, inst, Message{"role": "greet", "name": "ada"})
	require.NoError(t, gotErr)
	assert.Equal(t, "ada", result.(Message)["said"])
}

func TestAddRuleDefaultFillsMissingAttribute(t *testing.T) {
	inst := newTestInstance(t, config.Options{})

	_, err := inst.Add(map[string]interface{}{
		"role":  "greet",
		"cmd":   "loud",
		"times": map[string]interface{}{"default": 1},
	}, func(this *Delegate, msg Message, done Done) {
		done(nil, Message{"times": msg["times"]})
	})
	require.NoError(t, err)

	_, result := syncAct(t, inst, Message{"role": "greet", "cmd": "loud"})
	assert.Equal(t, 1, result.(Message)["times"])
}

func TestPatternStatsTracksPerPatternCounters(t *testing.T) {
	inst := newTestInstance(t, config.Options{})

	_, err := inst.Add(map[string]string{"role": "math", "cmd": "sum"}, func(this *Delegate, msg Message, done Done) {
		done(nil, Message{"result": 1})
	})
	require.NoError(t, err)

	syncAct(t, inst, Message{"role": "math", "cmd": "sum"})
	syncAct(t, inst, Message{"role": "math", "cmd": "sum"})

	stats, ok := inst.PatternStats("cmd:sum,role:math")
	require.True(t, ok)
	assert.Equal(t, int64(2), stats.Calls)
	assert.Equal(t, int64(2), stats.Done)
	assert.Equal(t, int64(0), stats.Fails)
	assert.Equal(t, 2, stats.Time.Count)

	_, ok = inst.PatternStats("role:never-called")
	assert.False(t, ok)
}
