// Package faults defines the error taxonomy shared by the pipeline stages.
// Stages wrap provider and parsing errors into a Fault; the orchestrator is
// the only component that inspects the transient flag to decide retry vs
// terminal failure.
package faults

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies the failure category.
type Kind string

const (
	// KindEmbedding covers embedding calls. Malformed input is fatal,
	// provider errors are transient.
	KindEmbedding Kind = "embedding_failure"

	// KindClassification covers malformed classifier output that survived
	// the stricter retry. Always fatal.
	KindClassification Kind = "classification_failure"

	// KindGeneration covers generation provider errors and timeouts.
	// Always transient.
	KindGeneration Kind = "generation_failure"

	// KindProvider covers transport errors on capability calls that are not
	// specific to one stage (connection refused, timeout during classify).
	KindProvider Kind = "provider_failure"

	// KindRateLimited covers 429 responses. Transient; may carry a
	// Retry-After hint from the provider.
	KindRateLimited Kind = "rate_limited"

	// KindExhausted marks a lead whose retry budget ran out. Terminal.
	KindExhausted Kind = "orchestrator_exhausted"
)

// Fault is a categorized pipeline error.
type Fault struct {
	Kind       Kind
	Transient  bool
	RetryAfter time.Duration // provider backoff hint, zero when absent
	Err        error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Embedding wraps an embedding error. transient distinguishes provider
// errors from malformed input.
func Embedding(err error, transient bool) *Fault {
	return &Fault{Kind: KindEmbedding, Transient: transient, Err: err}
}

// Classification wraps a malformed-output classification error. Fatal by
// definition: the classifier has already spent its single stricter retry.
func Classification(err error) *Fault {
	return &Fault{Kind: KindClassification, Err: err}
}

// Generation wraps a generation provider error or timeout.
func Generation(err error) *Fault {
	return &Fault{Kind: KindGeneration, Transient: true, Err: err}
}

// Provider wraps a transport error on a capability call.
func Provider(err error) *Fault {
	return &Fault{Kind: KindProvider, Transient: true, Err: err}
}

// RateLimited wraps a 429 with an optional Retry-After hint.
func RateLimited(err error, retryAfter time.Duration) *Fault {
	return &Fault{Kind: KindRateLimited, Transient: true, RetryAfter: retryAfter, Err: err}
}

// Exhausted marks the retry budget as spent, preserving the last error.
func Exhausted(attempts int, last error) *Fault {
	return &Fault{Kind: KindExhausted, Err: fmt.Errorf("after %d attempts: %w", attempts, last)}
}

// IsTransient reports whether err (or anything it wraps) is a transient Fault.
func IsTransient(err error) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Transient
	}
	return false
}

// KindOf returns the Kind of the wrapped Fault, or "" if err is not a Fault.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// RetryAfterHint returns the provider backoff hint carried by err, or zero.
func RetryAfterHint(err error) time.Duration {
	var f *Fault
	if errors.As(err, &f) {
		return f.RetryAfter
	}
	return 0
}
