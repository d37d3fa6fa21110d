package actionerr

import (
	"errors"
	"testing"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	e := New(KindActNotFound, "no action matched role:math,cmd:sum", nil).WithPattern("role:math,cmd:sum")

	if !errors.Is(e, ErrActNotFound) {
		t.Error("expected errors.Is to match sentinel by kind")
	}
	if errors.Is(e, ErrActLoop) {
		t.Error("expected errors.Is to reject a different kind")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := New(KindActExecute, "action panicked", cause)

	if !errors.Is(e, cause) {
		t.Error("expected errors.Is to reach the wrapped cause")
	}
	if errors.Unwrap(e) != cause {
		t.Error("expected Unwrap to return the original error")
	}
}

func TestNewDoesNotDoubleWrap(t *testing.T) {
	inner := New(KindTimeout, "gate timeout", nil)
	outer := New(KindActExecute, "ignored", inner)

	if outer != inner {
		t.Error("expected New to return the existing *Error unchanged rather than double-wrap")
	}
}

func TestErrorString(t *testing.T) {
	e := New(KindActNotFound, "no matching action", nil)
	if got, want := e.Error(), "act_not_found: no matching action"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	bare := &Error{Kind: KindInstanceClosed}
	if got, want := bare.Error(), "instance-closed"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestWithHelpersCopyWithoutMutatingOriginal(t *testing.T) {
	base := New(KindActExecute, "failed", nil)
	withPattern := base.WithPattern("role:math")
	withPlugin := withPattern.WithPlugin(Plugin{Name: "math", Tag: "v1", Fullname: "math$v1"})
	withMeta := withPlugin.WithMeta(map[string]interface{}{"tx": "abc123"})

	if base.Pattern != "" || base.Plugin.Name != "" || base.Meta != nil {
		t.Error("expected base error to remain unmodified")
	}
	if withMeta.Pattern != "role:math" || withMeta.Plugin.Name != "math" || withMeta.Meta["tx"] != "abc123" {
		t.Error("expected chained With* calls to accumulate context")
	}
}
