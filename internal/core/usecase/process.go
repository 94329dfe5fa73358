package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/legal-rag/internal/core/domain"
	"github.com/kirillkom/legal-rag/internal/core/ports"
)

type ProcessDocumentUseCase struct {
	store     ports.VectorStore
	extractor ports.TextExtractor
	segmenter ports.Segmenter
	chunker   ports.Chunker
	embedder  ports.Embedder
	logger    *slog.Logger
}

func NewProcessDocumentUseCase(
	store ports.VectorStore,
	extractor ports.TextExtractor,
	segmenter ports.Segmenter,
	chunker ports.Chunker,
	embedder ports.Embedder,
	logger *slog.Logger,
) *ProcessDocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessDocumentUseCase{
		store:     store,
		extractor: extractor,
		segmenter: segmenter,
		chunker:   chunker,
		embedder:  embedder,
		logger:    logger,
	}
}

// ProcessByID runs extract -> segment -> chunk -> embed -> store for a pending document and marks
// it processed. Any failure marks it failed; no partial chunks are written because the store
// commits all chunks of a document at once.
func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) (domain.IngestResult, error) {
	started := time.Now()
	result := domain.IngestResult{DocumentID: documentID, Errors: []string{}}

	doc, err := uc.store.GetDocument(ctx, documentID)
	if err != nil {
		return failedResult(result, fmt.Errorf("fetch document by id: %w", err))
	}
	switch doc.Status {
	case domain.StatusProcessed:
		result.Success = true
		return result, nil
	case domain.StatusFailed:
		return failedResult(result, domain.WrapError(domain.ErrInvalidTransition, "process document",
			errors.New("document failed earlier and must be re-ingested")))
	}

	n, err := uc.processPipeline(ctx, doc)
	if err != nil {
		if failErr := uc.markFailed(ctx, documentID, err); failErr != nil {
			err = fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		uc.logger.Warn("document_failed", "document_id", documentID, "error", err)
		return failedResult(result, err)
	}

	if err := uc.store.UpdateStatus(ctx, documentID, domain.StatusProcessed, ""); err != nil {
		return failedResult(result, fmt.Errorf("set status=processed: %w", err))
	}
	uc.logger.Info("document_processed",
		"document_id", documentID,
		"chunks", n,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	result.Success = true
	result.ChunksCreated = n
	return result, nil
}

func (uc *ProcessDocumentUseCase) processPipeline(ctx context.Context, doc *domain.Document) (int, error) {
	extracted, err := uc.extractor.Extract(ctx, doc)
	if err != nil {
		return 0, domain.WrapError(domain.ErrIngestion, "extract text", err)
	}
	if strings.TrimSpace(extracted.Text) == "" {
		return 0, domain.WrapError(domain.ErrIngestion, "extract text", errors.New("zero extractable content"))
	}
	if extracted.PageCount > 0 {
		if err := uc.store.SetPageCount(ctx, doc.ID, extracted.PageCount); err != nil {
			return 0, fmt.Errorf("set page count: %w", err)
		}
	}

	drafts := uc.chunk(extracted.Text)
	if len(drafts) == 0 {
		return 0, domain.WrapError(domain.ErrIngestion, "chunk document", errors.New("chunking produced zero chunks"))
	}

	texts := make([]string, len(drafts))
	for i, d := range drafts {
		texts[i] = d.Text
	}
	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(drafts) {
		return 0, domain.WrapError(domain.ErrEmbedding, "embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(drafts)))
	}

	n, err := uc.store.StoreChunks(ctx, doc.ID, drafts, vectors)
	if err != nil {
		return 0, fmt.Errorf("store chunks: %w", err)
	}
	return n, nil
}

// chunk uses structural units when headings were found or the text split into paragraphs.
// A document that stayed a single unstructured block is windowed directly so page breaks survive.
func (uc *ProcessDocumentUseCase) chunk(text string) []domain.ChunkDraft {
	seg := uc.segmenter.Segment(text)
	if !seg.Structured && len(seg.Units) <= 1 {
		return uc.chunker.ChunkText(text)
	}
	return uc.chunker.Chunk(seg.Units)
}

func (uc *ProcessDocumentUseCase) markFailed(ctx context.Context, documentID string, processErr error) error {
	return uc.store.UpdateStatus(ctx, documentID, domain.StatusFailed, processErr.Error())
}

func failedResult(result domain.IngestResult, err error) (domain.IngestResult, error) {
	result.Success = false
	result.Errors = append(result.Errors, err.Error())
	return result, err
}
