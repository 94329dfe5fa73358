package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/legal-rag/internal/core/domain"
)

// ErrorClassification decides whether a failed call is retried and whether it counts
// against the operation's breaker.
type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

var (
	Transient = ErrorClassification{Retryable: true, RecordFailure: true}
	Permanent = ErrorClassification{RecordFailure: true}
	// Rejected is a failure caused by the request itself; the dependency is healthy.
	Rejected = ErrorClassification{}
)

// Classify settles the cases every adapter agrees on and defers the rest to decide:
// caller cancellation is never retried or recorded, an open breaker is transient,
// and network errors are transient.
func Classify(decide ErrorClassifier) ErrorClassifier {
	return func(err error) ErrorClassification {
		switch {
		case err == nil:
			return Rejected
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return Rejected
		case IsCircuitOpen(err):
			return Transient
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return Transient
		}
		if decide == nil {
			return Permanent
		}
		return decide(err)
	}
}

// HTTPStatus classifies an upstream HTTP status code.
func HTTPStatus(code int) ErrorClassification {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return Transient
	}
	if code >= 500 {
		return Permanent
	}
	return Rejected
}

// MarkTemporary wraps err as domain.ErrTemporary when classify says another attempt could
// succeed, so callers can fall back or answer 503.
func MarkTemporary(operation string, err error, classify ErrorClassifier) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if IsCircuitOpen(err) || classify(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// TemporaryClassifier retries errors of kind ErrTemporary. Caller cancellation never trips the breaker.
func TemporaryClassifier(err error) ErrorClassification {
	switch {
	case errors.Is(err, context.Canceled):
		return Rejected
	case errors.Is(err, domain.ErrTemporary), errors.Is(err, context.DeadlineExceeded):
		return Transient
	default:
		return Permanent
	}
}
