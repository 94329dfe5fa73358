package usecase

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"

	"github.com/kirillkom/legal-rag/internal/core/domain"
	"github.com/kirillkom/legal-rag/internal/core/ports"
)

type AnswerConfig struct {
	MaxEvidence int
	ModelKey    string
	UseCache    bool
}

type AnswerService struct {
	retriever ports.EvidenceRetriever
	generator ports.TextGenerator
	cfg       AnswerConfig
	logger    *slog.Logger
	observer  Observer
}

func NewAnswerService(
	retriever ports.EvidenceRetriever,
	generator ports.TextGenerator,
	cfg AnswerConfig,
	logger *slog.Logger,
	observer Observer,
) *AnswerService {
	if cfg.MaxEvidence <= 0 {
		cfg.MaxEvidence = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerService{
		retriever: retriever,
		generator: generator,
		cfg:       cfg,
		logger:    logger,
		observer:  observerOrNop(observer),
	}
}

func (s *AnswerService) Answer(ctx context.Context, query string, filter domain.SearchFilter) (*domain.Answer, error) {
	candidates, err := s.evidence(ctx, query, filter)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		s.observer.NoContext()
		return insufficientAnswer(), nil
	}

	text, err := s.generator.Generate(ctx, s.request(query, candidates))
	if err != nil {
		return nil, err
	}
	return &domain.Answer{Text: text, Sources: sourcesFrom(candidates)}, nil
}

// AnswerStream yields text events in generation order and then exactly one sources event.
// Any failure ends the sequence with a single error event.
func (s *AnswerService) AnswerStream(ctx context.Context, query string, filter domain.SearchFilter) iter.Seq[domain.StreamEvent] {
	return func(yield func(domain.StreamEvent) bool) {
		candidates, err := s.evidence(ctx, query, filter)
		if err != nil {
			s.streamFailed(yield, err)
			return
		}
		if len(candidates) == 0 {
			s.observer.NoContext()
			if yield(domain.StreamEvent{Type: domain.StreamEventText, Content: InsufficientInformation}) {
				yield(domain.StreamEvent{Type: domain.StreamEventSources, Sources: []domain.Source{}})
			}
			return
		}

		req := s.request(query, candidates)
		req.UseCache = false
		for fragment, err := range s.generator.Stream(ctx, req) {
			if err != nil {
				s.streamFailed(yield, err)
				return
			}
			if !yield(domain.StreamEvent{Type: domain.StreamEventText, Content: fragment}) {
				return
			}
		}
		yield(domain.StreamEvent{Type: domain.StreamEventSources, Sources: sourcesFrom(candidates)})
	}
}

func (s *AnswerService) evidence(ctx context.Context, query string, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("query is empty"))
	}
	return s.retriever.Retrieve(ctx, query, s.cfg.MaxEvidence, filter)
}

func (s *AnswerService) request(query string, candidates []domain.RetrievalCandidate) domain.GenerationRequest {
	return domain.GenerationRequest{
		System:   groundingSystemPrompt,
		User:     buildAnswerPrompt(query, candidates),
		ModelKey: s.cfg.ModelKey,
		UseCache: s.cfg.UseCache,
	}
}

func (s *AnswerService) streamFailed(yield func(domain.StreamEvent) bool, err error) {
	s.logger.Error("answer_stream_failed", "error", err)
	yield(domain.StreamEvent{Type: domain.StreamEventError, Content: domain.GenerationFailureMessage})
}

func insufficientAnswer() *domain.Answer {
	return &domain.Answer{Text: InsufficientInformation, Sources: []domain.Source{}}
}
