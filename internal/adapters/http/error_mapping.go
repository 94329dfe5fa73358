package httpadapter

import (
	"errors"
	"net/http"

	"github.com/kirillkom/legal-rag/internal/core/domain"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

var errorKinds = []struct {
	kind   error
	name   string
	status int
}{
	{domain.ErrInvalidInput, "invalid_input", http.StatusBadRequest},
	{domain.ErrDocumentNotFound, "not_found", http.StatusNotFound},
	{domain.ErrInvalidTransition, "invalid_transition", http.StatusConflict},
	{domain.ErrIngestion, "ingestion", http.StatusUnprocessableEntity},
	{domain.ErrValidationParse, "validation_parse", http.StatusBadGateway},
	{domain.ErrDimensionMismatch, "dimension_mismatch", http.StatusInternalServerError},
	{domain.ErrGeneration, "generation", http.StatusServiceUnavailable},
	{domain.ErrEmbedding, "embedding", http.StatusServiceUnavailable},
	{domain.ErrRetrieval, "retrieval", http.StatusServiceUnavailable},
	{domain.ErrTemporary, "temporary", http.StatusServiceUnavailable},
}

func mapErrorToHTTPStatus(err error) int {
	for _, k := range errorKinds {
		if domain.IsKind(err, k.kind) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

func errorKindName(err error) string {
	for _, k := range errorKinds {
		if domain.IsKind(err, k.kind) {
			return k.name
		}
	}
	return "internal"
}

// writeError renders err as {"error","kind"}. Generation and unclassified failures never
// expose the underlying message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	kind := errorKindName(err)
	message := err.Error()
	switch {
	case domain.IsKind(err, domain.ErrGeneration):
		message = domain.GenerationFailureMessage
	case status == http.StatusInternalServerError:
		message = "internal error"
	}
	var parseErr *domain.ValidationParseError
	if errors.As(err, &parseErr) {
		message = "model returned a malformed verdict"
	}
	if status >= http.StatusInternalServerError {
		requestLogger(r.Context()).Error("http_request_failed",
			"path", r.URL.Path,
			"kind", kind,
			"error", err,
		)
	}
	writeJSON(w, status, errorResponse{Error: message, Kind: kind})
}
