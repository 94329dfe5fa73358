package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/legal-rag/internal/core/domain"
	"github.com/kirillkom/legal-rag/internal/core/ports"
)

const noEvidenceExplanation = "No relevant evidence was found for this claim."

type ValidationConfig struct {
	MaxEvidence   int
	MinSimilarity float64
	ModelKey      string
}

type ClaimValidationService struct {
	retriever ports.EvidenceRetriever
	generator ports.TextGenerator
	cfg       ValidationConfig
}

func NewClaimValidationService(retriever ports.EvidenceRetriever, generator ports.TextGenerator, cfg ValidationConfig) *ClaimValidationService {
	if cfg.MaxEvidence <= 0 {
		cfg.MaxEvidence = 5
	}
	return &ClaimValidationService{retriever: retriever, generator: generator, cfg: cfg}
}

// ValidateClaim judges a claim against retrieved evidence. Without relevant evidence the claim is
// rejected without calling a model. Malformed model output is returned as *domain.ValidationParseError.
func (s *ClaimValidationService) ValidateClaim(ctx context.Context, claim string) (*domain.ClaimVerdict, error) {
	if strings.TrimSpace(claim) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "validate claim", errors.New("claim is empty"))
	}
	candidates, err := s.retriever.Retrieve(ctx, claim, s.cfg.MaxEvidence, domain.SearchFilter{})
	if err != nil {
		return nil, err
	}
	evidence := make([]domain.RetrievalCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Similarity >= s.cfg.MinSimilarity {
			evidence = append(evidence, c)
		}
	}
	if len(evidence) == 0 {
		return &domain.ClaimVerdict{IsValid: false, Explanation: noEvidenceExplanation}, nil
	}

	raw, err := s.generator.Generate(ctx, domain.GenerationRequest{
		System:   validationSystemPrompt,
		User:     buildValidationPrompt(claim, evidence),
		ModelKey: s.cfg.ModelKey,
	})
	if err != nil {
		return nil, err
	}
	return parseVerdict(raw)
}

func parseVerdict(raw string) (*domain.ClaimVerdict, error) {
	object, err := extractJSONObject(raw)
	if err != nil {
		return nil, &domain.ValidationParseError{Raw: raw, Err: err}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(object), &fields); err != nil {
		return nil, &domain.ValidationParseError{Raw: raw, Err: err}
	}

	var verdict domain.ClaimVerdict
	if err := decodeField(fields, "is_valid", &verdict.IsValid); err != nil {
		return nil, &domain.ValidationParseError{Raw: raw, Err: err}
	}
	if err := decodeField(fields, "explanation", &verdict.Explanation); err != nil {
		return nil, &domain.ValidationParseError{Raw: raw, Err: err}
	}
	if err := decodeField(fields, "supporting_passage", &verdict.SupportingPassage); err != nil {
		return nil, &domain.ValidationParseError{Raw: raw, Err: err}
	}
	if verdict.SupportingPassage != nil && strings.TrimSpace(*verdict.SupportingPassage) == "" {
		verdict.SupportingPassage = nil
	}
	return &verdict, nil
}

func decodeField(fields map[string]json.RawMessage, name string, dst any) error {
	value, ok := fields[name]
	if !ok {
		return fmt.Errorf("missing field %q", name)
	}
	if err := json.Unmarshal(value, dst); err != nil {
		return fmt.Errorf("field %q: %w", name, err)
	}
	return nil
}

// extractJSONObject returns the first balanced {...} in s, skipping code fences and prose
// models like to wrap around it.
func extractJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", errors.New("no json object in model output")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errors.New("unterminated json object in model output")
}
