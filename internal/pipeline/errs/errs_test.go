package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ErrorStringIncludesKindAndMessage(t *testing.T) {
	err := New(KindInvalidInput, "prompt too long")
	got := err.Error()
	want := "invalid_input: prompt too long"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestError_WrapIncludesUnderlyingCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindBackendUnavailable, "generation backend call failed", cause)
	if got := err.Error(); got == "" || err.Err != cause {
		t.Errorf("expected wrapped cause to be preserved, got %q", got)
	}
}

func TestError_UnwrapReturnsCause(t *testing.T) {
	cause := errors.New("timeout")
	err := Wrap(KindThrottled, "retry later", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestError_TransientKinds(t *testing.T) {
	cases := []struct {
		kind      Kind
		transient bool
	}{
		{KindThrottled, true},
		{KindBackendUnavailable, true},
		{KindInvalidInput, false},
		{KindPolicyBlocked, false},
		{KindDeadLettered, false},
		{KindInternal, true},
	}
	for _, c := range cases {
		err := New(c.kind, "x")
		if err.Transient() != c.transient {
			t.Errorf("%s: expected Transient()=%v, got %v", c.kind, c.transient, err.Transient())
		}
	}
}

func TestAs_ExtractsTaggedErrorThroughWrapping(t *testing.T) {
	tagged := New(KindQuotaExceeded, "session has exhausted its card quota")
	wrapped := fmt.Errorf("submit failed: %w", tagged)

	got, ok := As(wrapped)
	if !ok {
		t.Fatal("expected As to find the tagged error through fmt.Errorf wrapping")
	}
	if got.Kind != KindQuotaExceeded {
		t.Errorf("expected KindQuotaExceeded, got %s", got.Kind)
	}
}

func TestAs_FalseForUntaggedError(t *testing.T) {
	_, ok := As(errors.New("plain error"))
	if ok {
		t.Error("expected As to return false for an untagged error")
	}
}
