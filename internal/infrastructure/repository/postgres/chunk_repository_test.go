package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/legal-rag/internal/core/domain"
)

var candidateRowColumns = []string{
	"id", "document_id", "chunk_index", "text", "metadata", "token_count", "created_at",
	"title", "doc_type", "jurisdiction", "similarity",
}

func drafts() []domain.ChunkDraft {
	return []domain.ChunkDraft{
		{Index: 0, Text: "Article 1: Scope.", Metadata: domain.ChunkMetadata{ArticleNumber: "1", ChunkType: domain.ChunkTypeFullUnit}, TokenCount: 3},
		{Index: 1, Text: "Article 5: Theft.", Metadata: domain.ChunkMetadata{ArticleNumber: "5", ChunkType: domain.ChunkTypeFullUnit}, TokenCount: 3},
	}
}

func TestStoreChunksReplacesChunksInOneTransaction(t *testing.T) {
	store, mock, done := newStoreWithMock(t, 3)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM documents").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("doc-1"))
	mock.ExpectExec("DELETE FROM chunks").
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 4))
	prep := mock.ExpectPrepare("INSERT INTO chunks")
	prep.ExpectExec().
		WithArgs(sqlmock.AnyArg(), "doc-1", 0, "Article 1: Scope.", sqlmock.AnyArg(), sqlmock.AnyArg(), 3, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs(sqlmock.AnyArg(), "doc-1", 1, "Article 5: Theft.", sqlmock.AnyArg(), sqlmock.AnyArg(), 3, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := store.StoreChunks(context.Background(), "doc-1", drafts(), [][]float32{{1, 0, 0}, {0, 1, 0}})
	if err != nil {
		t.Fatalf("StoreChunks() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 chunks stored, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreChunksRollsBackOnInsertFailure(t *testing.T) {
	store, mock, done := newStoreWithMock(t, 3)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM documents").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("doc-1"))
	mock.ExpectExec("DELETE FROM chunks").
		WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare("INSERT INTO chunks")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if _, err := store.StoreChunks(context.Background(), "doc-1", drafts(), [][]float32{{1, 0, 0}, {0, 1, 0}}); err == nil {
		t.Fatalf("expected insert failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreChunksRejectsWrongDimensionBeforeTouchingDB(t *testing.T) {
	store, mock, done := newStoreWithMock(t, 3)
	defer done()

	_, err := store.StoreChunks(context.Background(), "doc-1", drafts(), [][]float32{{1, 0, 0}, {1, 0}})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchAppliesFiltersAndScansCandidates(t *testing.T) {
	store, mock, done := newStoreWithMock(t, 3)
	defer done()

	created := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL hnsw.ef_search = 10")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("1 - \\(c.embedding <=> \\$1\\) AS similarity").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "FR", "5", 4).
		WillReturnRows(sqlmock.NewRows(candidateRowColumns).AddRow(
			"chunk-5", "doc-1", 1, "Article 5: Theft.", []byte(`{"version":1,"article_number":"5","page":2,"chunk_type":"full_unit"}`),
			3, created, "Penal Code", "law", "FR", 0.93,
		))
	mock.ExpectCommit()

	got, err := store.Search(context.Background(), []float32{0, 1, 0}, 4, domain.SearchFilter{
		DocumentTypes: []domain.DocumentType{domain.DocumentTypeLaw},
		Jurisdiction:  "FR",
		ArticleNumber: "5",
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	c := got[0]
	if c.Chunk.Metadata.ArticleNumber != "5" || c.Chunk.Metadata.Page != 2 {
		t.Fatalf("unexpected metadata: %+v", c.Chunk.Metadata)
	}
	if c.Similarity != 0.93 || c.Score != 0.93 || c.MatchedBy != domain.MatchedSemantic {
		t.Fatalf("unexpected scores: %+v", c)
	}
	if c.DocumentTitle != "Penal Code" || c.DocumentType != domain.DocumentTypeLaw {
		t.Fatalf("unexpected document fields: %+v", c)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchWidensEFSearchToK(t *testing.T) {
	store, mock, done := newStoreWithMock(t, 3)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL hnsw.ef_search = 60")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("AS similarity").
		WithArgs(sqlmock.AnyArg(), 60).
		WillReturnRows(sqlmock.NewRows(candidateRowColumns))
	mock.ExpectCommit()

	got, err := store.Search(context.Background(), []float32{1, 0, 0}, 60, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no candidates, got %d", len(got))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchRejectsWrongQueryDimension(t *testing.T) {
	store, _, done := newStoreWithMock(t, 3)
	defer done()

	if _, err := store.Search(context.Background(), []float32{1, 0}, 4, domain.SearchFilter{}); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestSearchKeywordEscapesPatterns(t *testing.T) {
	store, mock, done := newStoreWithMock(t, 3)
	defer done()

	mock.ExpectQuery("ILIKE ANY").
		WithArgs(`{"%theft%","%100\\%%"}`, 2.0, 5).
		WillReturnRows(sqlmock.NewRows(candidateRowColumns))

	got, err := store.SearchKeyword(context.Background(), []string{"theft", "Theft", "100%", " "}, 5, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("SearchKeyword() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no candidates, got %d", len(got))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStatsAggregatesByStatusAndType(t *testing.T) {
	store, mock, done := newStoreWithMock(t, 3)
	defer done()

	mock.ExpectQuery("SELECT status, doc_type, count").
		WillReturnRows(sqlmock.NewRows([]string{"status", "doc_type", "count"}).
			AddRow("processed", "law", 2).
			AddRow("failed", "contract", 1))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM chunks").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(17))

	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Documents != 3 || stats.Chunks != 17 || stats.EmbeddingDimension != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.ByStatus[domain.StatusProcessed] != 2 || stats.ByType[domain.DocumentTypeContract] != 1 {
		t.Fatalf("unexpected breakdown: %+v", stats)
	}
}
