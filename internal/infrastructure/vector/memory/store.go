package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/legal-rag/internal/core/domain"
)

// Store is an in-process VectorStore with the same contract as the Postgres store.
// Search is exact (brute force).
type Store struct {
	dimension int

	mu        sync.RWMutex
	documents map[string]*domain.Document
	byPath    map[string]string
	chunks    map[string][]domain.Chunk
}

func New(dimension int) *Store {
	return &Store{
		dimension: dimension,
		documents: make(map[string]*domain.Document),
		byPath:    make(map[string]string),
		chunks:    make(map[string][]domain.Chunk),
	}
}

func (s *Store) UpsertDocument(_ context.Context, doc *domain.Document) (*domain.Document, error) {
	if doc.SourcePath == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upsert document", fmt.Errorf("source path is empty"))
	}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byPath[doc.SourcePath]; ok {
		existing := s.documents[id]
		existing.Title = doc.Title
		existing.Type = doc.Type
		existing.Jurisdiction = doc.Jurisdiction
		existing.Language = doc.Language
		existing.MimeType = doc.MimeType
		existing.StorageKey = doc.StorageKey
		existing.SizeBytes = doc.SizeBytes
		existing.UpdatedAt = now
		out := *existing
		return &out, nil
	}

	stored := *doc
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Status == "" {
		stored.Status = domain.StatusPending
	}
	stored.Error = ""
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.documents[stored.ID] = &stored
	s.byPath[stored.SourcePath] = stored.ID
	out := stored
	return &out, nil
}

func (s *Store) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "memory", fmt.Errorf("document %s", id))
	}
	out := *doc
	return &out, nil
}

func (s *Store) GetDocumentByPath(ctx context.Context, sourcePath string) (*domain.Document, error) {
	s.mu.RLock()
	id, ok := s.byPath[sourcePath]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "memory", fmt.Errorf("source path %s", sourcePath))
	}
	return s.GetDocument(ctx, id)
}

func (s *Store) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "memory", fmt.Errorf("document %s", id))
	}
	if !doc.Status.CanTransitionTo(status) {
		return domain.WrapError(domain.ErrInvalidTransition, "update status", fmt.Errorf("%s -> %s", doc.Status, status))
	}
	doc.Status = status
	doc.Error = errMessage
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SetPageCount(_ context.Context, id string, pageCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "memory", fmt.Errorf("document %s", id))
	}
	doc.PageCount = pageCount
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

// StoreChunks validates everything before swapping the document's chunk set.
func (s *Store) StoreChunks(_ context.Context, documentID string, drafts []domain.ChunkDraft, embeddings [][]float32) (int, error) {
	if len(drafts) != len(embeddings) {
		return 0, domain.WrapError(domain.ErrInvalidInput, "store chunks",
			fmt.Errorf("%d chunks but %d embeddings", len(drafts), len(embeddings)))
	}
	now := time.Now().UTC()
	chunks := make([]domain.Chunk, 0, len(drafts))
	for i, draft := range drafts {
		if err := domain.CheckDimension(embeddings[i], s.dimension); err != nil {
			return 0, fmt.Errorf("chunk %d: %w", i, err)
		}
		meta := draft.Metadata
		if meta.Version == 0 {
			meta.Version = domain.ChunkMetadataVersion
		}
		chunks = append(chunks, domain.Chunk{
			ID:         uuid.NewString(),
			DocumentID: documentID,
			Text:       draft.Text,
			Embedding:  slices.Clone(embeddings[i]),
			ChunkIndex: draft.Index,
			Metadata:   meta,
			TokenCount: draft.TokenCount,
			CreatedAt:  now,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[documentID]; !ok {
		return 0, domain.WrapError(domain.ErrDocumentNotFound, "memory", fmt.Errorf("document %s", documentID))
	}
	s.chunks[documentID] = chunks
	return len(chunks), nil
}

func (s *Store) Search(_ context.Context, queryVector []float32, k int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := domain.CheckDimension(queryVector, s.dimension); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.RetrievalCandidate
	s.eachSearchable(filter, func(doc *domain.Document, chunk domain.Chunk) {
		sim := domain.CosineSimilarity(queryVector, chunk.Embedding)
		out = append(out, candidate(doc, chunk, sim, domain.MatchedSemantic))
	})
	sortCandidates(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *Store) SearchKeyword(_ context.Context, terms []string, k int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	needles := normalizeTerms(terms)
	if len(needles) == 0 || k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.RetrievalCandidate
	s.eachSearchable(filter, func(doc *domain.Document, chunk domain.Chunk) {
		text := strings.ToLower(chunk.Text)
		matched := 0
		for _, n := range needles {
			if strings.Contains(text, n) {
				matched++
			}
		}
		if matched == 0 {
			return
		}
		out = append(out, candidate(doc, chunk, float64(matched)/float64(len(needles)), domain.MatchedKeyword))
	})
	sortCandidates(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *Store) Stats(_ context.Context) (domain.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.StoreStats{
		Documents:          len(s.documents),
		ByStatus:           map[domain.DocumentStatus]int{},
		ByType:             map[domain.DocumentType]int{},
		EmbeddingDimension: s.dimension,
	}
	for _, doc := range s.documents {
		stats.ByStatus[doc.Status]++
		stats.ByType[doc.Type]++
	}
	for _, chunks := range s.chunks {
		stats.Chunks += len(chunks)
	}
	return stats, nil
}

func (s *Store) eachSearchable(filter domain.SearchFilter, fn func(*domain.Document, domain.Chunk)) {
	for docID, chunks := range s.chunks {
		doc := s.documents[docID]
		if doc == nil || doc.Status != domain.StatusProcessed || !matchesDocument(doc, filter) {
			continue
		}
		for _, chunk := range chunks {
			if filter.ArticleNumber != "" && chunk.Metadata.ArticleNumber != filter.ArticleNumber {
				continue
			}
			fn(doc, chunk)
		}
	}
}

func matchesDocument(doc *domain.Document, filter domain.SearchFilter) bool {
	if len(filter.DocumentTypes) > 0 && !slices.Contains(filter.DocumentTypes, doc.Type) {
		return false
	}
	if filter.Jurisdiction != "" && doc.Jurisdiction != filter.Jurisdiction {
		return false
	}
	return true
}

func candidate(doc *domain.Document, chunk domain.Chunk, score float64, matchedBy string) domain.RetrievalCandidate {
	chunk.Embedding = nil
	return domain.RetrievalCandidate{
		Chunk:         chunk,
		DocumentTitle: doc.Title,
		DocumentType:  doc.Type,
		Jurisdiction:  doc.Jurisdiction,
		Similarity:    score,
		Score:         score,
		MatchedBy:     matchedBy,
	}
}

// sortCandidates orders by descending score, then chunk index, then chunk id.
func sortCandidates(c []domain.RetrievalCandidate) {
	slices.SortStableFunc(c, func(a, b domain.RetrievalCandidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		case a.Chunk.ChunkIndex != b.Chunk.ChunkIndex:
			return a.Chunk.ChunkIndex - b.Chunk.ChunkIndex
		default:
			return strings.Compare(a.Chunk.ID, b.Chunk.ID)
		}
	})
}

func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}
