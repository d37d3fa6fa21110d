package subscription

import "testing"

func TestSubDefaultsToActIn(t *testing.T) {
	b := New(false, nil)
	var gotIn, gotOut bool

	b.Sub(map[string]string{"role": "math"}, Direction{}, func(msg map[string]interface{}) { gotIn = true })

	b.FireIn(true, map[string]string{"role": "math"}, nil)
	b.FireOut(true, map[string]string{"role": "math"}, nil)

	if !gotIn {
		t.Error("expected default subscription to fire on act-in")
	}
	if gotOut {
		t.Error("expected default subscription not to fire on act-out")
	}
}

func TestSubOutOnly(t *testing.T) {
	b := New(false, nil)
	var fired bool
	b.Sub(map[string]string{"role": "math"}, Direction{Out: true}, func(msg map[string]interface{}) { fired = true })

	b.FireIn(true, map[string]string{"role": "math"}, nil)
	if fired {
		t.Error("expected out-only subscriber not to fire on act-in")
	}

	b.FireOut(true, map[string]string{"role": "math"}, nil)
	if !fired {
		t.Error("expected out-only subscriber to fire on act-out")
	}
}

func TestSubDoesNotFireWhenNotEntry(t *testing.T) {
	b := New(false, nil)
	var fired bool
	b.Sub(map[string]string{"role": "math"}, Direction{In: true}, func(msg map[string]interface{}) { fired = true })

	b.FireIn(false, map[string]string{"role": "math"}, nil)
	if fired {
		t.Error("expected subscriber not to fire for a non-entry (prior) call")
	}
}

func TestSubOnlyFiresOnMatchingPattern(t *testing.T) {
	b := New(false, nil)
	var fired bool
	b.Sub(map[string]string{"role": "math"}, Direction{In: true}, func(msg map[string]interface{}) { fired = true })

	b.FireIn(true, map[string]string{"role": "other"}, nil)
	if fired {
		t.Error("expected subscriber not to fire for a non-matching pattern")
	}
}

func TestPanicInSubscriberIsIsolated(t *testing.T) {
	b := New(false, nil)
	var secondFired bool

	b.Sub(map[string]string{"role": "math"}, Direction{In: true}, func(msg map[string]interface{}) {
		panic("boom")
	})
	b.Sub(map[string]string{"role": "math"}, Direction{In: true}, func(msg map[string]interface{}) {
		secondFired = true
	})

	b.FireIn(true, map[string]string{"role": "math"}, nil)

	if !secondFired {
		t.Error("expected a panicking subscriber not to prevent later subscribers from firing")
	}
}

func TestMessagePassedToSubscriber(t *testing.T) {
	b := New(false, nil)
	var got map[string]interface{}
	b.Sub(map[string]string{"role": "math"}, Direction{In: true}, func(msg map[string]interface{}) { got = msg })

	want := map[string]interface{}{"role": "math", "cmd": "sum"}
	b.FireIn(true, map[string]string{"role": "math"}, want)

	if got["cmd"] != "sum" {
		t.Errorf("expected subscriber to receive the call message, got %+v", got)
	}
}
