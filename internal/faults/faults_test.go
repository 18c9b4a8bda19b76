package faults

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestTransienceByConstructor(t *testing.T) {
	base := errors.New("boom")
	cases := []struct {
		name      string
		err       error
		transient bool
		kind      Kind
	}{
		{"embedding fatal", Embedding(base, false), false, KindEmbedding},
		{"embedding transient", Embedding(base, true), true, KindEmbedding},
		{"classification", Classification(base), false, KindClassification},
		{"generation", Generation(base), true, KindGeneration},
		{"provider", Provider(base), true, KindProvider},
		{"rate limited", RateLimited(base, 0), true, KindRateLimited},
		{"exhausted", Exhausted(3, base), false, KindExhausted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.transient {
				t.Errorf("IsTransient = %v, want %v", got, tc.transient)
			}
			if got := KindOf(tc.err); got != tc.kind {
				t.Errorf("KindOf = %q, want %q", got, tc.kind)
			}
		})
	}
}

func TestHelpersOnPlainErrors(t *testing.T) {
	err := errors.New("plain")
	if IsTransient(err) {
		t.Error("plain error reported transient")
	}
	if KindOf(err) != "" {
		t.Errorf("KindOf(plain) = %q", KindOf(err))
	}
	if RetryAfterHint(err) != 0 {
		t.Errorf("RetryAfterHint(plain) = %v", RetryAfterHint(err))
	}
}

func TestHelpersSeeThroughWrapping(t *testing.T) {
	inner := RateLimited(errors.New("429"), 30*time.Second)
	wrapped := fmt.Errorf("calling model: %w", inner)

	if !IsTransient(wrapped) {
		t.Error("wrapped fault lost transience")
	}
	if KindOf(wrapped) != KindRateLimited {
		t.Errorf("KindOf = %q", KindOf(wrapped))
	}
	if RetryAfterHint(wrapped) != 30*time.Second {
		t.Errorf("RetryAfterHint = %v", RetryAfterHint(wrapped))
	}
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	f := Provider(cause)
	if !errors.Is(f, cause) {
		t.Error("fault does not unwrap to its cause")
	}

	ex := Exhausted(3, cause)
	if !errors.Is(ex, cause) {
		t.Error("exhausted fault loses the last error")
	}
}
