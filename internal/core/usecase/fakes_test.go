package usecase

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/legal-rag/internal/core/domain"
)

type embedderFake struct {
	vector []float32
	err    error
	texts  []string
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.texts = append(f.texts, texts...)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.vector == nil {
		return []float32{1, 0}, nil
	}
	return f.vector, nil
}

func (f *embedderFake) Dimension() int { return 2 }

type storeFake struct {
	mu sync.Mutex

	docs       map[string]*domain.Document
	byPath     map[string]string
	statuses   []domain.DocumentStatus
	pageCount  int
	stored     []domain.ChunkDraft
	storeErr   error
	semantic   []domain.RetrievalCandidate
	keyword    []domain.RetrievalCandidate
	searchErrs []error
	searchK    []int
	terms      []string
}

func newStoreFake() *storeFake {
	return &storeFake{docs: map[string]*domain.Document{}, byPath: map[string]string{}}
}

func (f *storeFake) UpsertDocument(_ context.Context, doc *domain.Document) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byPath[doc.SourcePath]; ok {
		existing := f.docs[id]
		existing.Title = doc.Title
		existing.StorageKey = doc.StorageKey
		existing.SizeBytes = doc.SizeBytes
		out := *existing
		return &out, nil
	}
	stored := *doc
	if stored.ID == "" {
		stored.ID = "doc-" + doc.SourcePath
	}
	if stored.Status == "" {
		stored.Status = domain.StatusPending
	}
	f.docs[stored.ID] = &stored
	f.byPath[stored.SourcePath] = stored.ID
	out := stored
	return &out, nil
}

func (f *storeFake) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "fake", errors.New(id))
	}
	out := *doc
	return &out, nil
}

func (f *storeFake) GetDocumentByPath(ctx context.Context, path string) (*domain.Document, error) {
	f.mu.Lock()
	id, ok := f.byPath[path]
	f.mu.Unlock()
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "fake", errors.New(path))
	}
	return f.GetDocument(ctx, id)
}

func (f *storeFake) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "fake", errors.New(id))
	}
	if !doc.Status.CanTransitionTo(status) {
		return domain.WrapError(domain.ErrInvalidTransition, "fake", errors.New(string(status)))
	}
	doc.Status = status
	doc.Error = errMessage
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *storeFake) SetPageCount(_ context.Context, _ string, n int) error {
	f.pageCount = n
	return nil
}

func (f *storeFake) StoreChunks(_ context.Context, _ string, chunks []domain.ChunkDraft, embeddings [][]float32) (int, error) {
	if f.storeErr != nil {
		return 0, f.storeErr
	}
	if len(chunks) != len(embeddings) {
		return 0, errors.New("mismatch")
	}
	f.stored = chunks
	return len(chunks), nil
}

func (f *storeFake) Search(_ context.Context, _ []float32, k int, _ domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchK = append(f.searchK, k)
	if len(f.searchErrs) > 0 {
		err := f.searchErrs[0]
		f.searchErrs = f.searchErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return trimCandidates(append([]domain.RetrievalCandidate(nil), f.semantic...), k), nil
}

func (f *storeFake) SearchKeyword(_ context.Context, terms []string, k int, _ domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	f.terms = terms
	return trimCandidates(append([]domain.RetrievalCandidate(nil), f.keyword...), k), nil
}

func (f *storeFake) Stats(context.Context) (domain.StoreStats, error) {
	return domain.StoreStats{Documents: len(f.docs)}, nil
}

type retrieverFake struct {
	candidates []domain.RetrievalCandidate
	err        error
	calls      int
}

func (f *retrieverFake) Retrieve(context.Context, string, int, domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	f.calls++
	return f.candidates, f.err
}

type backendFake struct {
	name      string
	text      string
	fragments []string
	err       error
	streamErr error
	unhealthy bool
	// stall blocks until the call's context is done.
	stall     bool
	calls     int
	lastUser  string
}

func (b *backendFake) Name() string  { return b.name }
func (b *backendFake) Healthy() bool { return !b.unhealthy }

func (b *backendFake) Generate(_ context.Context, _, user string) (string, error) {
	b.calls++
	b.lastUser = user
	if b.err != nil {
		return "", b.err
	}
	return b.text, nil
}

func (b *backendFake) GenerateStream(ctx context.Context, _, user string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		b.calls++
		b.lastUser = user
		if b.stall {
			<-ctx.Done()
			yield("", ctx.Err())
			return
		}
		if b.err != nil {
			yield("", b.err)
			return
		}
		for _, f := range b.fragments {
			if !yield(f, nil) {
				return
			}
		}
		if b.streamErr != nil {
			yield("", b.streamErr)
		}
	}
}

type generatorFake struct {
	text      string
	fragments []string
	err       error
	calls     int
	lastReq   domain.GenerationRequest
}

func (g *generatorFake) Generate(_ context.Context, req domain.GenerationRequest) (string, error) {
	g.calls++
	g.lastReq = req
	return g.text, g.err
}

func (g *generatorFake) Stream(_ context.Context, req domain.GenerationRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		g.calls++
		g.lastReq = req
		for _, f := range g.fragments {
			if !yield(f, nil) {
				return
			}
		}
		if g.err != nil {
			yield("", g.err)
		}
	}
}

func (g *generatorFake) Statuses() []domain.BackendStatus { return nil }

type observerFake struct {
	keyword, degraded, fallback, noContext int
}

func (o *observerFake) KeywordFallback(int)          { o.keyword++ }
func (o *observerFake) RerankDegraded()              { o.degraded++ }
func (o *observerFake) ModelFallback(string, string) { o.fallback++ }
func (o *observerFake) NoContext()                   { o.noContext++ }

func legalCandidate(id, title, article, text string, similarity float64) domain.RetrievalCandidate {
	return domain.RetrievalCandidate{
		Chunk: domain.Chunk{
			ID:         id,
			DocumentID: "doc-" + title,
			Text:       text,
			Metadata:   domain.ChunkMetadata{ArticleNumber: article, Page: 1},
			CreatedAt:  time.Unix(0, 0),
		},
		DocumentTitle: title,
		Similarity:    similarity,
		Score:         similarity,
		MatchedBy:     domain.MatchedSemantic,
	}
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
