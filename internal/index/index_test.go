package index

import "testing"

func TestAddFindMostSpecificWins(t *testing.T) {
	ix := New(false, false)
	ix.Add(map[string]string{"role": "math"}, "broad")
	ix.Add(map[string]string{"role": "math", "cmd": "sum"}, "specific")

	got := ix.Find(map[string]string{"role": "math", "cmd": "sum", "x": "2"})
	if got != "specific" {
		t.Errorf("Find = %v, want %q", got, "specific")
	}
}

func TestFindTieBrokenByRegistrationOrder(t *testing.T) {
	ix := New(false, false)
	ix.Add(map[string]string{"role": "math", "cmd": "sum"}, "first")
	ix.Add(map[string]string{"role": "math", "cmd": "mul"}, "second")

	got := ix.Find(map[string]string{"role": "math", "cmd": "sum"})
	if got != "first" {
		t.Errorf("Find = %v, want %q", got, "first")
	}
}

func TestAddReturnsPreviousOnExactOverride(t *testing.T) {
	ix := New(false, false)
	ix.Add(map[string]string{"role": "math", "cmd": "sum"}, "v1")
	prev := ix.Add(map[string]string{"role": "math", "cmd": "sum"}, "v2")

	if prev != "v1" {
		t.Errorf("Add returned previous=%v, want %q", prev, "v1")
	}
	if got := ix.Find(map[string]string{"role": "math", "cmd": "sum"}); got != "v2" {
		t.Errorf("Find after override = %v, want %q", got, "v2")
	}
}

func TestCatchallNotTreatedAsPriorByDefault(t *testing.T) {
	ix := New(false, false)
	ix.Add(nil, "catchall")
	prev := ix.Add(nil, "catchall-2")

	if prev != nil {
		t.Errorf("expected no previous for catch-all override when internal.catchall is off, got %v", prev)
	}
}

func TestCatchallTreatedAsPriorWhenEnabled(t *testing.T) {
	ix := New(false, true)
	ix.Add(nil, "catchall")
	prev := ix.Add(nil, "catchall-2")

	if prev != "catchall" {
		t.Errorf("expected catch-all prior when internal.catchall is on, got %v", prev)
	}
}

func TestFindFallsBackToCatchall(t *testing.T) {
	ix := New(false, false)
	ix.Add(nil, "catchall")
	ix.Add(map[string]string{"role": "math"}, "math")

	if got := ix.Find(map[string]string{"role": "other"}); got != "catchall" {
		t.Errorf("Find = %v, want catchall fallback", got)
	}
	if got := ix.Find(map[string]string{"role": "math"}); got != "math" {
		t.Errorf("Find = %v, want specific match to beat catchall", got)
	}
}

func TestFindReturnsNilWhenNothingMatches(t *testing.T) {
	ix := New(false, false)
	ix.Add(map[string]string{"role": "math"}, "math")

	if got := ix.Find(map[string]string{"role": "other"}); got != nil {
		t.Errorf("Find = %v, want nil", got)
	}
}

func TestListEnumeratesSupersetsMostSpecificFirst(t *testing.T) {
	ix := New(false, false)
	ix.Add(map[string]string{"role": "math"}, "broad")
	ix.Add(map[string]string{"role": "math", "cmd": "sum"}, "specific")
	ix.Add(map[string]string{"role": "other"}, "unrelated")

	matches := ix.List(map[string]string{"role": "math"})
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(matches), matches)
	}
	if matches[0].Payload != "specific" {
		t.Errorf("expected most specific match first, got %+v", matches)
	}
}

func TestGlobModeFind(t *testing.T) {
	ix := New(true, false)
	ix.Add(map[string]string{"role": "math", "cmd": "sum-*"}, "glob-match")

	if got := ix.Find(map[string]string{"role": "math", "cmd": "sum-fast"}); got != "glob-match" {
		t.Errorf("Find = %v, want glob match", got)
	}
}

func TestFingerprintIsDeterministic(t *testing.T) {
	if Fingerprint("role:math") != Fingerprint("role:math") {
		t.Error("expected fingerprint to be deterministic")
	}
	if Fingerprint("role:math") == Fingerprint("role:other") {
		t.Error("expected different canonical forms to fingerprint differently")
	}
}
