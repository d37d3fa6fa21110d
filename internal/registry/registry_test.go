package registry

import "testing"

func TestAddRejectsEmptyPattern(t *testing.T) {
	r := New(Options{})
	_, err := r.Add(map[string]string{}, "fn", nil, Plugin{}, "", "", nil)
	if err == nil {
		t.Fatal("expected add_empty_pattern error")
	}
}

func TestAddAndFind(t *testing.T) {
	r := New(Options{})
	_, err := r.Add(map[string]string{"role": "math", "cmd": "sum"}, "sumfn", nil, Plugin{}, "", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	meta := r.Find(map[string]string{"role": "math", "cmd": "sum"})
	if meta == nil || meta.Func != "sumfn" {
		t.Fatalf("Find = %+v, want sumfn", meta)
	}
}

func TestAddOverrideChainsPriorByRegistrationOrder(t *testing.T) {
	r := New(Options{})
	first, _ := r.Add(map[string]string{"role": "math", "cmd": "sum"}, "v1", nil, Plugin{}, "", "", nil)
	second, _ := r.Add(map[string]string{"role": "math", "cmd": "sum"}, "v2", nil, Plugin{}, "", "", nil)

	if second.PriorMeta != first {
		t.Fatal("expected second registration's PriorMeta to be the first")
	}
	if second.PriorPath != first.ID {
		t.Errorf("PriorPath = %q, want %q", second.PriorPath, first.ID)
	}

	current := r.Find(map[string]string{"role": "math", "cmd": "sum"})
	if current.Func != "v2" {
		t.Errorf("expected later registration to win, got %v", current.Func)
	}
}

func TestStrictAddRejectsNonExactOverride(t *testing.T) {
	r := New(Options{StrictAdd: true})
	r.Add(map[string]string{"role": "math"}, "v1", nil, Plugin{}, "", "", nil)
	second, _ := r.Add(map[string]string{"role": "math", "cmd": "sum"}, "v2", nil, Plugin{}, "", "", nil)

	if second.PriorMeta != nil {
		t.Error("expected strict.add to reject a non-exact-pattern prior")
	}
}

func TestCatchallNotOverriddenByDefault(t *testing.T) {
	r := New(Options{})
	r.Add(map[string]string{}, "default-noop", nil, Plugin{}, "", "", nil)
	// registering a different catch-all-equivalent pattern shouldn't chain to it
	second, _ := r.Add(map[string]string{}, "default-v2", nil, Plugin{}, "", "", nil)
	if second.PriorMeta != nil {
		t.Error("expected no prior chain for catch-all override when internal.catchall is off")
	}
}

func TestDelegationTakesOverRegistration(t *testing.T) {
	r := New(Options{})
	r.Add(map[string]string{"role": "math", "cmd": "sum"}, "v1", nil, Plugin{}, "", "", nil)

	called := false
	delegate := func(prior *Meta) Delegation {
		return func(pattern map[string]string, fn interface{}) bool {
			called = true
			return true
		}
	}

	meta, err := r.Add(map[string]string{"role": "math", "cmd": "sum"}, "v2", nil, Plugin{}, "", "", delegate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta != nil {
		t.Error("expected nil meta when delegation accepts registration")
	}
	if !called {
		t.Error("expected delegation function to be invoked")
	}

	current := r.Find(map[string]string{"role": "math", "cmd": "sum"})
	if current.Func != "v1" {
		t.Error("expected delegated registration to leave the original entry untouched")
	}
}

func TestListMostSpecificFirst(t *testing.T) {
	r := New(Options{})
	r.Add(map[string]string{"role": "math"}, "broad", nil, Plugin{}, "", "", nil)
	r.Add(map[string]string{"role": "math", "cmd": "sum"}, "specific", nil, Plugin{}, "", "", nil)

	metas := r.List(map[string]string{"role": "math"})
	if len(metas) != 2 || metas[0].Func != "specific" {
		t.Fatalf("List = %+v, want specific first", metas)
	}
}

func TestHas(t *testing.T) {
	r := New(Options{})
	if r.Has(map[string]string{"role": "math"}) {
		t.Error("expected Has to be false before registration")
	}
	r.Add(map[string]string{"role": "math"}, "v1", nil, Plugin{}, "", "", nil)
	if !r.Has(map[string]string{"role": "math"}) {
		t.Error("expected Has to be true after registration")
	}
}

func TestOnRegisterModifiersRun(t *testing.T) {
	r := New(Options{})
	r.OnRegister(func(m *Meta) { m.Deprecate = "stamped" })

	meta, _ := r.Add(map[string]string{"role": "math"}, "v1", nil, Plugin{}, "", "", nil)
	if meta.Deprecate != "stamped" {
		t.Error("expected registered modifier to run on new metadata")
	}
}
