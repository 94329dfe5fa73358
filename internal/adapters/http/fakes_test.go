package httpadapter

import (
	"context"
	"io"
	"iter"
	"net/http"
	"testing"
	"time"

	"github.com/kirillkom/legal-rag/internal/config"
	"github.com/kirillkom/legal-rag/internal/core/domain"
)

type ingestFake struct {
	err      error
	lastMeta domain.DocumentMetadata
	lastBody string
}

func (f *ingestFake) Upload(_ context.Context, meta domain.DocumentMetadata, body io.Reader) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	f.lastMeta, f.lastBody = meta, string(raw)
	now := time.Now().UTC()
	return &domain.Document{
		ID:         "doc-1",
		Title:      meta.Title,
		Type:       meta.Type,
		SourcePath: meta.Filename,
		MimeType:   meta.MimeType,
		Status:     domain.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (f *ingestFake) Ingest(ctx context.Context, meta domain.DocumentMetadata, body io.Reader) (domain.IngestResult, error) {
	if _, err := f.Upload(ctx, meta, body); err != nil {
		return domain.IngestResult{}, err
	}
	return domain.IngestResult{Success: true, DocumentID: "doc-1", ChunksCreated: 3, Errors: []string{}}, nil
}

type docsFake struct {
	err error
}

func (f docsFake) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{ID: id, Title: "Penal Code", Type: domain.DocumentTypeLaw, Status: domain.StatusProcessed}, nil
}

func (f docsFake) Stats(context.Context) (domain.StoreStats, error) {
	return domain.StoreStats{Documents: 1, Chunks: 3, EmbeddingDimension: 384}, nil
}

type retrieverFake struct {
	err     error
	results []domain.RetrievalCandidate
	lastK   int
	filter  domain.SearchFilter
}

func (f *retrieverFake) Retrieve(_ context.Context, _ string, maxResults int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	f.lastK, f.filter = maxResults, filter
	return f.results, f.err
}

type answersFake struct {
	err    error
	answer *domain.Answer
	events []domain.StreamEvent
}

func (f answersFake) Answer(context.Context, string, domain.SearchFilter) (*domain.Answer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

func (f answersFake) AnswerStream(context.Context, string, domain.SearchFilter) iter.Seq[domain.StreamEvent] {
	return func(yield func(domain.StreamEvent) bool) {
		for _, ev := range f.events {
			if !yield(ev) {
				return
			}
		}
	}
}

type claimsFake struct {
	err     error
	verdict *domain.ClaimVerdict
}

func (f claimsFake) ValidateClaim(context.Context, string) (*domain.ClaimVerdict, error) {
	return f.verdict, f.err
}

type modelsFake struct{}

func (modelsFake) Statuses() []domain.BackendStatus {
	return []domain.BackendStatus{{Name: "fast", Provider: "ollama", Available: true, Healthy: true}}
}

func defaultServices() Services {
	return Services{
		Ingestor:  &ingestFake{},
		Documents: docsFake{},
		Retriever: &retrieverFake{},
		Answers:   answersFake{answer: &domain.Answer{Text: "ok", Sources: []domain.Source{}}},
		Claims:    claimsFake{verdict: &domain.ClaimVerdict{IsValid: true, Explanation: "supported"}},
		Models:    modelsFake{},
	}
}

func newTestHandler(t *testing.T, cfg config.Config, svc Services) http.Handler {
	t.Helper()
	rt, err := NewRouter(cfg, svc, nil)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return rt.Handler()
}
