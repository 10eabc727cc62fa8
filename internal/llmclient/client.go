// Package llmclient is the external-boundary interface a specialist
// Processor uses to call out to a language model provider. The
// Coordinator core never imports this package; it exists so
// internal/specialist adapters have somewhere to source completions
// from without specialist needing to know about HTTP, auth, or
// provider-specific error shapes.
//
// Grounded on the teacher's internal/engine/failover.go (Brain
// interface, error-class driven retry) and internal/engine/errors.go
// (ClassifyError taxonomy), generalized from a multi-provider failover
// brain down to a single reference client plus its error taxonomy —
// failover across providers is a specialist-level policy, not
// something the Coordinator needs to arbitrate.
package llmclient

import (
	"context"
	"strconv"
)

// ErrorClass categorizes provider errors so a caller can decide
// whether to retry, back off, or fail the task outright. Maps onto the
// teacher's ErrorClass* constants.
type ErrorClass string

const (
	ErrorClassAuth             ErrorClass = "AUTH"
	ErrorClassRateLimited      ErrorClass = "RATE_LIMITED"
	ErrorClassTransport        ErrorClass = "TRANSPORT"
	ErrorClassContentTooLong   ErrorClass = "CONTENT_TOO_LONG"
	ErrorClassProviderInternal ErrorClass = "PROVIDER_INTERNAL"
	ErrorClassUnknown          ErrorClass = "UNKNOWN"
)

// Client is the minimal surface a specialist Processor needs from a
// language model provider.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ClassifyError inspects an error returned by a Client and assigns it
// an ErrorClass, so callers can apply the teacher's retry policy
// (retry on RateLimited/Transport, fail fast on Auth/ContentTooLong).
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	if apiErr, ok := err.(*APIError); ok {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return ErrorClassAuth
		case apiErr.StatusCode == 429:
			return ErrorClassRateLimited
		case apiErr.StatusCode == 413:
			return ErrorClassContentTooLong
		case apiErr.StatusCode >= 500:
			return ErrorClassProviderInternal
		}
	}
	return ErrorClassUnknown
}

// APIError is a provider HTTP error carrying enough detail to classify.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return "llmclient: provider returned status " + strconv.Itoa(e.StatusCode) + ": " + e.Body
}
