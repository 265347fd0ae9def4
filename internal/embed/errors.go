package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
)

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindNetwork           ErrorKind = "network"
	KindTimeout           ErrorKind = "timeout"
	KindAuth              ErrorKind = "auth"
	KindRateLimit         ErrorKind = "rate_limit"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindDimensionMismatch ErrorKind = "dimension_mismatch"
	KindRejected          ErrorKind = "rejected"
	KindUnavailable       ErrorKind = "unavailable"
)

func (k ErrorKind) code() string {
	switch k {
	case KindNetwork:
		return apperr.ErrCodeProviderNetwork
	case KindTimeout:
		return apperr.ErrCodeProviderTimeout
	case KindAuth:
		return apperr.ErrCodeProviderAuth
	case KindRateLimit:
		return apperr.ErrCodeProviderRateLimit
	case KindMalformedResponse:
		return apperr.ErrCodeProviderMalformed
	case KindDimensionMismatch:
		return apperr.ErrCodeProviderDimension
	case KindRejected:
		return apperr.ErrCodeProviderRejected
	default:
		return apperr.ErrCodeProviderUnavailable
	}
}

// ProviderError is returned by every Embedder variant on failure.
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Err        error
}

func newProviderError(kind ErrorKind, provider string, err error) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Err: err}
}

// Error implements error.
func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("embedding provider %s: %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("embedding provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

// Unwrap exposes the cause and the coded error, so errors.Is matches both
// the underlying error and codes like ERR_203_PROVIDER_RATE_LIMIT.
func (e *ProviderError) Unwrap() []error {
	coded := apperr.New(e.Kind.code(), string(e.Kind), nil)
	return []error{e.Err, coded}
}

// Retryable reports whether another attempt could succeed.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindRateLimit:
		return true
	}
	return false
}

// IsProviderError reports whether err came from an embedding provider.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// KindOf returns the provider error kind in err's chain, or "".
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

func isRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable()
}

// classifyStatus maps an HTTP status to an error kind.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 500:
		return KindNetwork
	default:
		return KindRejected
	}
}

// classifyTransport maps a failed round trip to an error kind. attemptCtx
// is the per-request timeout context.
func classifyTransport(attemptCtx context.Context, err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindNetwork
}

func errorf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
