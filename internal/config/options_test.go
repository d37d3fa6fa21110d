package config

import (
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestMergeOverridesOnlyNonZeroFields(t *testing.T) {
	base := Defaults()
	patch := Options{Timeout: 9 * time.Second}

	merged := Merge(base, patch)

	if merged.Timeout != 9*time.Second {
		t.Errorf("expected patched timeout, got %s", merged.Timeout)
	}
	if merged.IDLen != base.IDLen {
		t.Errorf("expected unpatched idlen to survive merge, got %d", merged.IDLen)
	}
}

func TestMergeCloseSignalsMergesByKey(t *testing.T) {
	base := Defaults()
	patch := Options{Internal: Internal{CloseSignals: map[string]bool{"SIGHUP": true}}}

	merged := Merge(base, patch)

	if !merged.Internal.CloseSignals["SIGINT"] || !merged.Internal.CloseSignals["SIGHUP"] {
		t.Errorf("expected merged close signals to contain both base and patch keys, got %v", merged.Internal.CloseSignals)
	}
}

func TestMergeStrictBooleansOnlyTurnOn(t *testing.T) {
	base := Defaults()
	base.Strict.Add = true

	merged := Merge(base, Options{})

	if !merged.Strict.Add {
		t.Error("expected a true base flag to survive merging with a zero-valued patch")
	}
}

func TestStrictFindDefaultsOnButCanBeExplicitlyDisabled(t *testing.T) {
	if !Defaults().Strict.FindOn() {
		t.Error("expected strict.find to default to on")
	}

	merged := Merge(Defaults(), Options{Strict: Strict{Find: BoolPtr(false)}})
	if merged.Strict.FindOn() {
		t.Error("expected an explicit find:false patch to turn strict.find off")
	}

	mergedAgain := Merge(merged, Options{})
	if !mergedAgain.Strict.FindOn() {
		t.Error("expected a zero-valued patch to leave a previously-disabled find untouched")
	}
}

func TestValidateRejectsNonPositiveFields(t *testing.T) {
	cases := []Options{
		{IDLen: 0, Timeout: time.Second, Strict: Strict{MaxLoop: 1}, ActCache: ActCache{Size: 1}},
		{IDLen: 1, Timeout: 0, Strict: Strict{MaxLoop: 1}, ActCache: ActCache{Size: 1}},
		{IDLen: 1, Timeout: time.Second, Strict: Strict{MaxLoop: 0}, ActCache: ActCache{Size: 1}},
		{IDLen: 1, Timeout: time.Second, Strict: Strict{MaxLoop: 1}, ActCache: ActCache{Size: 0}},
	}
	for i, c := range cases {
		if err := Validate(c); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestLoadYAMLRejectsUnknownFields(t *testing.T) {
	_, err := LoadYAML([]byte("actcahce:\n  active: true\n"))
	if err == nil {
		t.Fatal("expected an error for an unknown top-level field")
	}
}

func TestResolveMergesYAMLOverDefaults(t *testing.T) {
	opts, err := Resolve([]byte("tag: worker-a\nidlen: 16\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Tag != "worker-a" || opts.IDLen != 16 {
		t.Errorf("unexpected resolved options: %+v", opts)
	}
	if opts.Strict.MaxLoop != Defaults().Strict.MaxLoop {
		t.Errorf("expected unpatched defaults to survive, got maxloop=%d", opts.Strict.MaxLoop)
	}
}

func TestResolveNilUsesDefaults(t *testing.T) {
	opts, err := Resolve(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.IDLen != Defaults().IDLen {
		t.Errorf("expected defaults when no data given")
	}
}
