package controller

import "errors"

// kind categorizes a request failure the way §7 of the design does: a small
// closed set of reasons, not a language-level exception hierarchy.
type kind int

const (
	kindInternal kind = iota
	kindAuth
	kindForbidden
	kindValidation
	kindRateLimited
	kindNotFound
	kindOrchestratorFailure
	kindDiscoveryTimeout
	kindStoreFailure
)

// apiError is a categorized failure carrying a short, safe-to-return reason.
// The underlying cause (if any) is logged, never echoed to the caller.
type apiError struct {
	kind   kind
	reason string
	cause  error
}

func (e *apiError) Error() string {
	if e.cause != nil {
		return e.reason + ": " + e.cause.Error()
	}
	return e.reason
}

func (e *apiError) Unwrap() error { return e.cause }

func newAPIError(k kind, reason string, cause error) *apiError {
	return &apiError{kind: k, reason: reason, cause: cause}
}

func asAPIError(err error) *apiError {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae
	}
	return newAPIError(kindInternal, "internal error", err)
}
