package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/legal-rag/internal/core/domain"
)

func newStoreWithMock(t *testing.T, dimension int) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewStore(db, dimension, IndexConfig{M: 8, EFConstruction: 32, EFSearch: 10}), mock, func() { _ = db.Close() }
}

var documentRowColumns = []string{
	"id", "title", "doc_type", "jurisdiction", "language", "source_path", "mime_type", "storage_key",
	"size_bytes", "page_count", "status", "error_message", "created_at", "updated_at",
}

func TestGetDocumentReturnsDomainNotFound(t *testing.T) {
	store, mock, done := newStoreWithMock(t, 3)
	defer done()

	mock.ExpectQuery("SELECT id, title, doc_type").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetDocument(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertDocumentReturnsExistingRow(t *testing.T) {
	store, mock, done := newStoreWithMock(t, 3)
	defer done()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO documents").
		WithArgs(sqlmock.AnyArg(), "Penal Code", "law", "FR", "fr", "codes/penal.txt", "text/plain",
			"abc_penal.txt", int64(42), 0, "pending", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(documentRowColumns).AddRow(
			"doc-1", "Penal Code", "law", "FR", "fr", "codes/penal.txt", "text/plain", "abc_penal.txt",
			int64(42), 3, "processed", "", created, created,
		))

	doc, err := store.UpsertDocument(context.Background(), &domain.Document{
		Title:        "Penal Code",
		Type:         domain.DocumentTypeLaw,
		Jurisdiction: "FR",
		Language:     "fr",
		SourcePath:   "codes/penal.txt",
		MimeType:     "text/plain",
		StorageKey:   "abc_penal.txt",
		SizeBytes:    42,
	})
	if err != nil {
		t.Fatalf("UpsertDocument() error = %v", err)
	}
	if doc.ID != "doc-1" || doc.Status != domain.StatusProcessed || doc.PageCount != 3 {
		t.Fatalf("expected existing row, got %+v", doc)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	store, mock, done := newStoreWithMock(t, 3)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM documents").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("processed"))
	mock.ExpectRollback()

	err := store.UpdateStatus(context.Background(), "doc-1", domain.StatusPending, "")
	if !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatusCommitsLegalTransition(t *testing.T) {
	store, mock, done := newStoreWithMock(t, 3)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM documents").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
	mock.ExpectExec("UPDATE documents").
		WithArgs("doc-1", "failed", "extract failed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.UpdateStatus(context.Background(), "doc-1", domain.StatusFailed, "extract failed"); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatusReturnsDomainNotFound(t *testing.T) {
	store, mock, done := newStoreWithMock(t, 3)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM documents").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.UpdateStatus(context.Background(), "missing", domain.StatusProcessed, "")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestSetPageCountReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	store, mock, done := newStoreWithMock(t, 3)
	defer done()

	mock.ExpectExec("UPDATE documents").
		WithArgs("missing", 4, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetPageCount(context.Background(), "missing", 4)
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureSchemaRejectsDimensionMismatch(t *testing.T) {
	store, mock, done := newStoreWithMock(t, 768)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).
		WithArgs(schemaLockID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS vector").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("embedding vector(768) NOT NULL")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT atttypmod FROM pg_attribute").
		WillReturnRows(sqlmock.NewRows([]string{"atttypmod"}).AddRow(384))
	mock.ExpectRollback()

	err := store.EnsureSchema(context.Background())
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureSchemaCreatesIndexes(t *testing.T) {
	store, mock, done := newStoreWithMock(t, 3)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS vector").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS documents").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT atttypmod").
		WillReturnRows(sqlmock.NewRows([]string{"atttypmod"}).AddRow(3))
	mock.ExpectExec(regexp.QuoteMeta("USING hnsw (embedding vector_cosine_ops) WITH (m = 8, ef_construction = 32)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
