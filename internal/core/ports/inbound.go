package ports

import (
	"context"
	"io"
	"iter"

	"github.com/kirillkom/legal-rag/internal/core/domain"
)

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, meta domain.DocumentMetadata, body io.Reader) (*domain.Document, error)
	Ingest(ctx context.Context, meta domain.DocumentMetadata, body io.Reader) (domain.IngestResult, error)
}

// DocumentProcessor is the inbound contract for asynchronous document processing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) (domain.IngestResult, error)
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	Stats(ctx context.Context) (domain.StoreStats, error)
}

// EvidenceRetriever returns ranked evidence for a query.
type EvidenceRetriever interface {
	Retrieve(ctx context.Context, query string, maxResults int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error)
}

// TextGenerator is the model registry as seen by answering code.
type TextGenerator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (string, error)
	Stream(ctx context.Context, req domain.GenerationRequest) iter.Seq2[string, error]
	Statuses() []domain.BackendStatus
}

// AnsweringService answers questions from retrieved evidence.
type AnsweringService interface {
	Answer(ctx context.Context, query string, filter domain.SearchFilter) (*domain.Answer, error)
	AnswerStream(ctx context.Context, query string, filter domain.SearchFilter) iter.Seq[domain.StreamEvent]
}

// ClaimValidator checks a statement against the evidence store.
type ClaimValidator interface {
	ValidateClaim(ctx context.Context, claim string) (*domain.ClaimVerdict, error)
}
