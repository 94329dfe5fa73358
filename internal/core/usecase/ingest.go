package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/kirillkom/legal-rag/internal/core/domain"
	"github.com/kirillkom/legal-rag/internal/core/ports"
)

type IngestDocumentUseCase struct {
	repo      ports.DocumentRepository
	storage   ports.ObjectStorage
	queue     ports.MessageQueue
	processor ports.DocumentProcessor
}

func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
	processor ports.DocumentProcessor,
) *IngestDocumentUseCase {
	return &IngestDocumentUseCase{
		repo:      repo,
		storage:   storage,
		queue:     queue,
		processor: processor,
	}
}

// Upload stores the blob, registers the document and queues it for the worker.
// A source path that is already processed is returned as is.
func (uc *IngestDocumentUseCase) Upload(ctx context.Context, meta domain.DocumentMetadata, body io.Reader) (*domain.Document, error) {
	doc, done, err := uc.register(ctx, meta, body)
	if err != nil || done {
		return doc, err
	}
	if uc.queue == nil {
		return nil, domain.WrapError(domain.ErrTemporary, "upload", errors.New("ingestion queue is not configured"))
	}
	if err := uc.queue.PublishDocumentQueued(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("publish ingestion event: %w", err)
	}
	return doc, nil
}

// Ingest stores, registers and processes a document inline.
func (uc *IngestDocumentUseCase) Ingest(ctx context.Context, meta domain.DocumentMetadata, body io.Reader) (domain.IngestResult, error) {
	doc, done, err := uc.register(ctx, meta, body)
	if err != nil {
		return domain.IngestResult{Success: false, Errors: []string{err.Error()}}, err
	}
	if done {
		return domain.IngestResult{Success: true, DocumentID: doc.ID, Errors: []string{}}, nil
	}
	return uc.processor.ProcessByID(ctx, doc.ID)
}

func (uc *IngestDocumentUseCase) register(ctx context.Context, meta domain.DocumentMetadata, body io.Reader) (*domain.Document, bool, error) {
	meta, err := normalizeMetadata(meta)
	if err != nil {
		return nil, false, err
	}

	existing, err := uc.repo.GetDocumentByPath(ctx, meta.SourcePath)
	switch {
	case err == nil && existing.Status == domain.StatusProcessed:
		return existing, true, nil
	case err != nil && !domain.IsKind(err, domain.ErrDocumentNotFound):
		return nil, false, fmt.Errorf("lookup document by path: %w", err)
	}

	key := storageKey(meta.SourcePath, meta.Filename)
	size, err := uc.storage.Save(ctx, key, body)
	if err != nil {
		return nil, false, fmt.Errorf("save to object storage: %w", err)
	}
	if size == 0 {
		return nil, false, domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("document is empty"))
	}

	doc, err := uc.repo.UpsertDocument(ctx, &domain.Document{
		Title:        meta.Title,
		Type:         meta.Type,
		Jurisdiction: meta.Jurisdiction,
		Language:     meta.Language,
		SourcePath:   meta.SourcePath,
		MimeType:     meta.MimeType,
		StorageKey:   key,
		SizeBytes:    size,
		Status:       domain.StatusPending,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create document metadata: %w", err)
	}

	switch doc.Status {
	case domain.StatusProcessed:
		return doc, true, nil
	case domain.StatusFailed:
		if err := uc.repo.UpdateStatus(ctx, doc.ID, domain.StatusPending, ""); err != nil {
			return nil, false, fmt.Errorf("reset failed document: %w", err)
		}
		doc.Status = domain.StatusPending
		doc.Error = ""
	}
	return doc, false, nil
}

func normalizeMetadata(meta domain.DocumentMetadata) (domain.DocumentMetadata, error) {
	meta.Filename = strings.TrimSpace(meta.Filename)
	meta.SourcePath = strings.TrimSpace(meta.SourcePath)
	if meta.SourcePath == "" {
		meta.SourcePath = meta.Filename
	}
	if meta.SourcePath == "" {
		return meta, domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("filename or source path is required"))
	}
	if meta.Filename == "" {
		meta.Filename = filepath.Base(meta.SourcePath)
	}
	docType, err := domain.ParseDocumentType(string(meta.Type))
	if err != nil {
		return meta, err
	}
	meta.Type = docType
	meta.Title = strings.TrimSpace(meta.Title)
	if meta.Title == "" {
		meta.Title = strings.TrimSuffix(meta.Filename, filepath.Ext(meta.Filename))
	}
	meta.Jurisdiction = strings.ToUpper(strings.TrimSpace(meta.Jurisdiction))
	meta.Language = strings.ToLower(strings.TrimSpace(meta.Language))
	return meta, nil
}

// storageKey is derived from the source path so that re-ingesting a path overwrites its blob.
func storageKey(sourcePath, filename string) string {
	sum := sha256.Sum256([]byte(sourcePath))
	return hex.EncodeToString(sum[:8]) + "_" + sanitizeFilename(filename)
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == ".." {
		return "document.bin"
	}
	return base
}
