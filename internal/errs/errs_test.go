package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.New("boom"), "unknown"},
		{New(ErrValidation, "world", "bad plan for %s", "A"), "validation"},
		{Wrap(ErrLLMTimeout, "ai", errors.New("deadline"), "job %d", 1), "llm_timeout"},
		{fmt.Errorf("outer: %w", New(ErrIntegrity, "world", "missing target")), "integrity"},
	}
	for _, c := range cases {
		if got := KindOf(c.err); got != c.want {
			t.Errorf("KindOf(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(ErrLLMTransport, "ai", cause, "request")
	if !errors.Is(err, ErrLLMTransport) {
		t.Fatalf("kind lost: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost: %v", err)
	}
	if !Retryable(err) {
		t.Fatalf("transport error should be retryable")
	}
	if Wrap(ErrLLMTransport, "ai", nil, "x") != nil {
		t.Fatalf("nil cause should stay nil")
	}
}
