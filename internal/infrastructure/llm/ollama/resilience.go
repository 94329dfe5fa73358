package ollama

import (
	"errors"
	"fmt"

	"github.com/kirillkom/legal-rag/internal/infrastructure/resilience"
)

// HTTPStatusError is a non-2xx answer from the Ollama server.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ollama %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("ollama %s status: %s: %s", e.Operation, e.Status, e.Body)
}

// classifyOllamaError retries overloaded or restarting servers. An unknown model or a
// malformed request is the caller's problem and leaves the breaker alone.
var classifyOllamaError = resilience.Classify(func(err error) resilience.ErrorClassification {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return resilience.HTTPStatus(statusErr.StatusCode)
	}
	return resilience.Permanent
})

func markTemporary(operation string, err error) error {
	return resilience.MarkTemporary(operation, err, classifyOllamaError)
}
