package ports

import (
	"context"
	"io"
	"iter"
	"time"

	"github.com/kirillkom/legal-rag/internal/core/domain"
)

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	UpsertDocument(ctx context.Context, doc *domain.Document) (*domain.Document, error)
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	GetDocumentByPath(ctx context.Context, sourcePath string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SetPageCount(ctx context.Context, id string, pageCount int) error
}

// VectorStore owns documents and their chunks and answers similarity queries.
type VectorStore interface {
	DocumentRepository
	StoreChunks(ctx context.Context, documentID string, chunks []domain.ChunkDraft, embeddings [][]float32) (int, error)
	Search(ctx context.Context, queryVector []float32, k int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error)
	SearchKeyword(ctx context.Context, terms []string, k int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error)
	Stats(ctx context.Context) (domain.StoreStats, error)
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes ingestion events.
type MessageQueue interface {
	PublishDocumentQueued(ctx context.Context, documentID string) error
	SubscribeDocumentQueued(ctx context.Context, handler func(ctx context.Context, documentID string, queuedAt time.Time) error) error
}

// TextExtractor extracts plain text from a stored document.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (domain.ExtractedText, error)
}

type Segmenter interface {
	Segment(rawText string) domain.Segmentation
}

// Chunker turns segmented units, or unstructured text, into embeddable chunks.
type Chunker interface {
	Chunk(units []domain.Unit) []domain.ChunkDraft
	ChunkText(text string) []domain.ChunkDraft
}

// Embedder builds unit-length vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// RelevanceScorer scores (query, passage) pairs jointly. Higher is more relevant.
type RelevanceScorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// ModelBackend is one generative model provider.
type ModelBackend interface {
	Name() string
	Generate(ctx context.Context, system, user string) (string, error)
	GenerateStream(ctx context.Context, system, user string) iter.Seq2[string, error]
}

// Cache is a best-effort memoizer. Implementations never surface backend errors.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
}
