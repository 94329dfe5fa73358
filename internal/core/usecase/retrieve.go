package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/kirillkom/legal-rag/internal/core/domain"
	"github.com/kirillkom/legal-rag/internal/core/ports"
)

const maxRetrievalResults = 50

type RetrievalConfig struct {
	DefaultMaxResults        int
	OverFetchFactor          int
	KeywordFallbackEnabled   bool
	KeywordFallbackThreshold float64
	SearchTimeout            time.Duration
	RetryBackoff             time.Duration
}

type RetrievalService struct {
	embedder ports.Embedder
	store    ports.VectorStore
	reranker *Reranker
	cfg      RetrievalConfig
	logger   *slog.Logger
	observer Observer
}

func NewRetrievalService(
	embedder ports.Embedder,
	store ports.VectorStore,
	reranker *Reranker,
	cfg RetrievalConfig,
	logger *slog.Logger,
	observer Observer,
) *RetrievalService {
	if cfg.DefaultMaxResults <= 0 {
		cfg.DefaultMaxResults = 5
	}
	if cfg.OverFetchFactor <= 0 {
		cfg.OverFetchFactor = 4
	}
	cfg.OverFetchFactor = min(max(cfg.OverFetchFactor, 3), 5)
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrievalService{
		embedder: embedder,
		store:    store,
		reranker: reranker,
		cfg:      cfg,
		logger:   logger,
		observer: observerOrNop(observer),
	}
}

// Retrieve embeds the query, over-fetches semantic candidates, reranks them down to maxResults
// and, when the best semantic match is weak, puts literal keyword matches in front.
func (s *RetrievalService) Retrieve(ctx context.Context, query string, maxResults int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("query is empty"))
	}
	if maxResults <= 0 {
		maxResults = s.cfg.DefaultMaxResults
	}
	maxResults = min(maxResults, maxRetrievalResults)

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		if domain.IsKind(err, domain.ErrEmbedding) || domain.IsKind(err, domain.ErrInvalidInput) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrEmbedding, "embed query", err)
	}

	semantic, err := s.search(ctx, vector, maxResults*s.cfg.OverFetchFactor, filter)
	if err != nil {
		return nil, err
	}
	ranked := s.reranker.Rerank(ctx, query, semantic, maxResults)

	if s.needsKeywordFallback(semantic) {
		ranked = s.withKeywordMatches(ctx, query, maxResults, filter, ranked)
	}

	for i := range ranked {
		ranked[i].Confidence = confidence(ranked[i])
	}
	return ranked, nil
}

// search retries once after a backoff; dimension and input errors are not retried.
func (s *RetrievalService) search(ctx context.Context, vector []float32, k int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	candidates, err := s.searchOnce(ctx, vector, k, filter)
	if err != nil && retryableSearchError(ctx, err) {
		s.logger.Warn("retry_attempt", "operation", "vector.search", "attempt", 1, "error", err)
		timer := time.NewTimer(s.cfg.RetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			err = ctx.Err()
		case <-timer.C:
			candidates, err = s.searchOnce(ctx, vector, k, filter)
		}
	}
	if err != nil {
		if domain.IsKind(err, domain.ErrDimensionMismatch) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrRetrieval, "vector search", err)
	}
	return candidates, nil
}

func (s *RetrievalService) searchOnce(ctx context.Context, vector []float32, k int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	if s.cfg.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SearchTimeout)
		defer cancel()
	}
	return s.store.Search(ctx, vector, k, filter)
}

func retryableSearchError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !domain.IsKind(err, domain.ErrDimensionMismatch) && !domain.IsKind(err, domain.ErrInvalidInput)
}

func (s *RetrievalService) needsKeywordFallback(semantic []domain.RetrievalCandidate) bool {
	if !s.cfg.KeywordFallbackEnabled {
		return false
	}
	return len(semantic) == 0 || semantic[0].Similarity < s.cfg.KeywordFallbackThreshold
}

func (s *RetrievalService) withKeywordMatches(
	ctx context.Context,
	query string,
	maxResults int,
	filter domain.SearchFilter,
	ranked []domain.RetrievalCandidate,
) []domain.RetrievalCandidate {
	terms := keywordTerms(query)
	if len(terms) == 0 {
		return ranked
	}
	keyword, err := s.store.SearchKeyword(ctx, terms, maxResults, filter)
	if err != nil {
		s.logger.Warn("keyword_fallback_failed", "terms", len(terms), "error", err)
		return ranked
	}

	merged := mergeCandidates(keyword, ranked, maxResults)
	added := len(merged) - len(trimCandidates(ranked, maxResults))
	s.logger.Info("keyword_fallback", "terms", len(terms), "keyword_matches", len(keyword), "results", len(merged))
	s.observer.KeywordFallback(max(added, 0))
	return merged
}

// mergeCandidates keeps first-list order, fills from second, and drops repeated chunk ids.
func mergeCandidates(first, second []domain.RetrievalCandidate, limit int) []domain.RetrievalCandidate {
	seen := make(map[string]struct{}, len(first)+len(second))
	out := make([]domain.RetrievalCandidate, 0, limit)
	for _, list := range [][]domain.RetrievalCandidate{first, second} {
		for _, c := range list {
			if len(out) == limit {
				return out
			}
			key := retrievalChunkKey(c)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

func retrievalChunkKey(c domain.RetrievalCandidate) string {
	if c.Chunk.ID != "" {
		return c.Chunk.ID
	}
	return fmt.Sprintf("%s:%d", c.Chunk.DocumentID, c.Chunk.ChunkIndex)
}

// confidence maps a candidate's ranking score to [0,1]. First-stage scores are clamped;
// unbounded cross-encoder logits go through a sigmoid.
func confidence(c domain.RetrievalCandidate) float64 {
	score := c.Score
	if math.IsNaN(score) {
		return 0
	}
	if c.RerankScore != nil && (score < 0 || score > 1) {
		return 1 / (1 + math.Exp(-score))
	}
	return min(max(score, 0), 1)
}
