package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/legal-rag/internal/core/domain"
	"github.com/kirillkom/legal-rag/internal/core/ports"
)

type RerankConfig struct {
	BatchSize   int
	Concurrency int
	CacheTTL    time.Duration
}

// Reranker reorders first-stage candidates with a pairwise relevance scorer.
type Reranker struct {
	scorer   ports.RelevanceScorer
	scorerID string
	cache    ports.Cache
	cfg      RerankConfig
	logger   *slog.Logger
	observer Observer
}

func NewReranker(scorer ports.RelevanceScorer, cache ports.Cache, cfg RerankConfig, logger *slog.Logger, observer Observer) *Reranker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{
		scorer:   scorer,
		scorerID: scorerIdentity(scorer),
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
		observer: observerOrNop(observer),
	}
}

// Rerank returns at most topK of the input candidates ordered by the scorer. The new score
// replaces Score and is kept in RerankScore; Similarity is left untouched. When scoring fails
// the input order is kept and truncated.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []domain.RetrievalCandidate, topK int) []domain.RetrievalCandidate {
	if len(candidates) == 0 {
		return candidates
	}
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}
	if r == nil || r.scorer == nil {
		return trimCandidates(candidates, topK)
	}

	scores, err := r.scores(ctx, query, candidates)
	if err != nil {
		r.logger.Warn("rerank_degraded", "candidates", len(candidates), "top_k", topK, "error", err)
		r.observer.RerankDegraded()
		return trimCandidates(candidates, topK)
	}

	out := make([]domain.RetrievalCandidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		score := scores[i]
		out[i].RerankScore = &score
		out[i].Score = score
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Chunk.DocumentID != out[j].Chunk.DocumentID {
			return out[i].Chunk.DocumentID < out[j].Chunk.DocumentID
		}
		return out[i].Chunk.ChunkIndex < out[j].Chunk.ChunkIndex
	})
	return out[:topK]
}

func (r *Reranker) scores(ctx context.Context, query string, candidates []domain.RetrievalCandidate) ([]float64, error) {
	key := r.cacheKey(query, candidates)
	if r.cache != nil {
		if raw, ok := r.cache.Get(ctx, key); ok {
			var cached []float64
			if json.Unmarshal(raw, &cached) == nil && len(cached) == len(candidates) {
				return cached, nil
			}
		}
	}

	scores := make([]float64, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for start := 0; start < len(candidates); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(candidates))
		passages := make([]string, 0, end-start)
		for _, c := range candidates[start:end] {
			passages = append(passages, c.Chunk.Text)
		}
		g.Go(func() error {
			batch, err := r.scorer.Score(gctx, query, passages)
			if err != nil {
				return fmt.Errorf("score batch %d-%d: %w", start, end, err)
			}
			if len(batch) != len(passages) {
				return fmt.Errorf("score batch %d-%d: got %d scores for %d passages", start, end, len(batch), len(passages))
			}
			copy(scores[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if r.cache != nil {
		if raw, err := json.Marshal(scores); err == nil {
			r.cache.Set(ctx, key, raw, r.cfg.CacheTTL)
		}
	}
	return scores, nil
}

type identifiedScorer interface {
	Identity() string
}

// scorerIdentity names the model behind a scorer. Cached scores are keyed by it since
// different scorers use different scales.
func scorerIdentity(scorer ports.RelevanceScorer) string {
	if id, ok := scorer.(identifiedScorer); ok {
		return id.Identity()
	}
	return fmt.Sprintf("%T", scorer)
}

func (r *Reranker) cacheKey(query string, candidates []domain.RetrievalCandidate) string {
	parts := make([]string, 0, len(candidates)+2)
	parts = append(parts, r.scorerID, query)
	for _, c := range candidates {
		parts = append(parts, c.Chunk.ID)
	}
	return domain.CacheKey("rerank", parts...)
}

func trimCandidates(candidates []domain.RetrievalCandidate, limit int) []domain.RetrievalCandidate {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	return candidates[:limit]
}

// LexicalScorer is the scorer used when no cross-encoder is configured. It rewards passages
// that cover the query's content words and whose heading carries a number named in the query.
type LexicalScorer struct{}

func (LexicalScorer) Identity() string { return "lexical" }

func (LexicalScorer) Score(_ context.Context, query string, passages []string) ([]float64, error) {
	queryTerms := make(map[string]struct{})
	numbers := make(map[string]struct{})
	for _, term := range keywordTerms(query) {
		queryTerms[term] = struct{}{}
		if isNumeric(term) {
			numbers[term] = struct{}{}
		}
	}

	out := make([]float64, len(passages))
	for i, passage := range passages {
		overlap := tokenOverlap(queryTerms, toTokenSet(passage))
		out[i] = 0.8*overlap + 0.2*headingHit(numbers, passage)
	}
	return out, nil
}

func tokenOverlap(query, passage map[string]struct{}) float64 {
	if len(query) == 0 || len(passage) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := passage[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func headingHit(numbers map[string]struct{}, passage string) float64 {
	if len(numbers) == 0 {
		return 0
	}
	heading, _, _ := strings.Cut(passage, "\n")
	for token := range toTokenSet(heading) {
		if _, ok := numbers[token]; ok {
			return 1
		}
	}
	return 0
}
