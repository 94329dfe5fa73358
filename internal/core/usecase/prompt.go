package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/legal-rag/internal/core/domain"
)

// InsufficientInformation is the exact reply for questions the evidence cannot answer.
const InsufficientInformation = "insufficient information"

const groundingSystemPrompt = `You are a legal research assistant.
Answer strictly from the numbered evidence provided by the user. Do not use outside knowledge.
Cite every statement with the article it comes from, written as [Article N], or with the document title when no article number is given.
If the evidence is weak, unrelated or does not answer the question, reply exactly: ` + InsufficientInformation + `
Answer in the language of the question.`

const validationSystemPrompt = `You verify legal claims against evidence.
Judge the claim strictly against the numbered evidence. Outside knowledge does not count as support.
Reply with a single JSON object and nothing else:
{"is_valid": true or false, "explanation": "one or two sentences", "supporting_passage": "verbatim quote from the evidence" or null}`

func evidenceLabel(c domain.RetrievalCandidate) string {
	parts := []string{c.DocumentTitle}
	if c.Chunk.Metadata.ArticleNumber != "" {
		parts = append(parts, "Article "+c.Chunk.Metadata.ArticleNumber)
	}
	if c.Chunk.Metadata.Page > 0 {
		parts = append(parts, fmt.Sprintf("page %d", c.Chunk.Metadata.Page))
	}
	return strings.Join(parts, ", ")
}

// buildEvidenceBlock renders candidates in rank order, each tagged with its provenance.
func buildEvidenceBlock(candidates []domain.RetrievalCandidate) string {
	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "[%d] %s (similarity %.2f)\n%s\n\n", i+1, evidenceLabel(c), c.Similarity, strings.TrimSpace(c.Chunk.Text))
	}
	return strings.TrimSpace(b.String())
}

func buildAnswerPrompt(question string, candidates []domain.RetrievalCandidate) string {
	return fmt.Sprintf("Evidence:\n%s\n\nQuestion: %s\nAnswer:", buildEvidenceBlock(candidates), strings.TrimSpace(question))
}

func buildValidationPrompt(claim string, candidates []domain.RetrievalCandidate) string {
	return fmt.Sprintf("Evidence:\n%s\n\nClaim: %s\nVerdict JSON:", buildEvidenceBlock(candidates), strings.TrimSpace(claim))
}

func sourcesFrom(candidates []domain.RetrievalCandidate) []domain.Source {
	out := make([]domain.Source, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, domain.Source{
			DocumentID:    c.Chunk.DocumentID,
			DocumentTitle: c.DocumentTitle,
			ArticleNumber: c.Chunk.Metadata.ArticleNumber,
			Page:          c.Chunk.Metadata.Page,
			ChunkID:       c.Chunk.ID,
			Similarity:    c.Similarity,
		})
	}
	return out
}
