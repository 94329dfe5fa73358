package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/legal-rag/internal/core/domain"
)

const documentColumns = `id, title, doc_type, jurisdiction, language, source_path, mime_type, storage_key, size_bytes, page_count, status, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var (
		doc     domain.Document
		docType string
		status  string
	)
	err := row.Scan(
		&doc.ID, &doc.Title, &docType, &doc.Jurisdiction, &doc.Language, &doc.SourcePath, &doc.MimeType,
		&doc.StorageKey, &doc.SizeBytes, &doc.PageCount, &status, &doc.Error, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.Type = domain.DocumentType(docType)
	doc.Status = domain.DocumentStatus(status)
	return &doc, nil
}

// UpsertDocument inserts a document keyed by source path. When the path is already known the
// descriptive fields are refreshed and the existing row, with its id and status, is returned.
func (s *Store) UpsertDocument(ctx context.Context, doc *domain.Document) (*domain.Document, error) {
	if doc.SourcePath == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upsert document", fmt.Errorf("source path is empty"))
	}
	now := time.Now().UTC()
	id := doc.ID
	if id == "" {
		id = uuid.NewString()
	}
	status := doc.Status
	if status == "" {
		status = domain.StatusPending
	}

	row := s.db.QueryRowContext(ctx, `
INSERT INTO documents (`+documentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,'',$12,$12)
ON CONFLICT (source_path) DO UPDATE SET
	title = EXCLUDED.title,
	doc_type = EXCLUDED.doc_type,
	jurisdiction = EXCLUDED.jurisdiction,
	language = EXCLUDED.language,
	mime_type = EXCLUDED.mime_type,
	storage_key = EXCLUDED.storage_key,
	size_bytes = EXCLUDED.size_bytes,
	updated_at = EXCLUDED.updated_at
RETURNING `+documentColumns,
		id, doc.Title, string(doc.Type), doc.Jurisdiction, doc.Language, doc.SourcePath, doc.MimeType,
		doc.StorageKey, doc.SizeBytes, doc.PageCount, string(status), now,
	)
	out, err := scanDocument(row)
	if err != nil {
		return nil, fmt.Errorf("upsert document: %w", err)
	}
	return out, nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

func (s *Store) GetDocumentByPath(ctx context.Context, sourcePath string) (*domain.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE source_path = $1`, sourcePath))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "postgres", fmt.Errorf("source path %s", sourcePath))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

// UpdateStatus moves a document along pending -> processed|failed under a row lock.
func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
		if isNoRows(err) {
			return notFound(id)
		}
		return fmt.Errorf("read document status: %w", err)
	}
	if !domain.DocumentStatus(current).CanTransitionTo(status) {
		return domain.WrapError(domain.ErrInvalidTransition, "update status", fmt.Errorf("%s -> %s", current, status))
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC()); err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status tx: %w", err)
	}
	return nil
}

func (s *Store) SetPageCount(ctx context.Context, id string, pageCount int) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE documents
SET page_count = $2, updated_at = $3
WHERE id = $1
`, id, pageCount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set page count: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set page count rows affected: %w", err)
	}
	if affected == 0 {
		return notFound(id)
	}
	return nil
}
