// Package errs defines the error kinds shared by the game core.
//
// Kinds are sentinel errors; concrete errors wrap them through oops so the
// kind survives errors.Is while the call site attaches domain and context.
package errs

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

var (
	ErrValidation      = errors.New("validation")
	ErrLLMTransport    = errors.New("llm transport")
	ErrLLMTimeout      = errors.New("llm timeout")
	ErrPolicyRefusal   = errors.New("policy refusal")
	ErrIntegrity       = errors.New("integrity violation")
	ErrSnapshotCorrupt = errors.New("snapshot corruption")
	ErrNoSnapshot      = errors.New("no snapshot")
	ErrFatal           = errors.New("fatal assertion failure")
	ErrInvalidState    = errors.New("invalid state")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
)

var kindCodes = []struct {
	kind error
	code string
}{
	{ErrValidation, "validation"},
	{ErrLLMTimeout, "llm_timeout"},
	{ErrLLMTransport, "llm_transport"},
	{ErrPolicyRefusal, "policy_refusal"},
	{ErrIntegrity, "integrity"},
	{ErrSnapshotCorrupt, "snapshot_corrupt"},
	{ErrNoSnapshot, "no_snapshot"},
	{ErrFatal, "fatal"},
	{ErrInvalidState, "invalid_state"},
	{ErrNotFound, "not_found"},
	{ErrConflict, "conflict"},
}

// KindOf returns the short code of the first known kind wrapped by err,
// "unknown" for foreign errors and "" for nil.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kindCodes {
		if errors.Is(err, k.kind) {
			return k.code
		}
	}
	return "unknown"
}

// New creates an error of the given kind in domain.
func New(kind error, domain, format string, args ...any) error {
	return oops.In(domain).Code(KindOf(kind)).Wrapf(kind, format, args...)
}

// Wrap attaches kind and domain to cause. A nil cause yields nil.
func Wrap(kind error, domain string, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, kind) {
		return oops.In(domain).Code(KindOf(kind)).Wrapf(cause, format, args...)
	}
	return oops.In(domain).Code(KindOf(kind)).Wrapf(fmt.Errorf("%w: %w", kind, cause), format, args...)
}

// Retryable reports whether err is a transient LLM failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrLLMTransport)
}
