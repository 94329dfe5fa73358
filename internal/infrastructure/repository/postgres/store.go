package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/legal-rag/internal/core/domain"
)

// Store keeps documents and their embedded chunks in Postgres with the pgvector extension.
type Store struct {
	db        *sql.DB
	dimension int
	index     IndexConfig
}

// IndexConfig tunes the hnsw index on chunks.embedding. Search raises EFSearch to k when a
// query asks for more candidates.
type IndexConfig struct {
	M              int
	EFConstruction int
	EFSearch       int
}

// pgvector rejects hnsw.ef_search above this.
const maxEFSearch = 1000

func NewStore(db *sql.DB, dimension int, index IndexConfig) *Store {
	if index.M <= 0 {
		index.M = 16
	}
	if index.EFConstruction <= 0 {
		index.EFConstruction = 64
	}
	if index.EFSearch <= 0 {
		index.EFSearch = 40
	}
	return &Store{db: db, dimension: dimension, index: index}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaLockID = int64(2026101901)

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.dimension <= 0 {
		return domain.WrapError(domain.ErrInvalidInput, "ensure schema", fmt.Errorf("embedding dimension must be positive, got %d", s.dimension))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	tables := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	doc_type TEXT NOT NULL,
	jurisdiction TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	source_path TEXT NOT NULL UNIQUE,
	mime_type TEXT NOT NULL DEFAULT '',
	storage_key TEXT NOT NULL DEFAULT '',
	size_bytes BIGINT NOT NULL DEFAULT 0,
	page_count INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	text TEXT NOT NULL,
	embedding vector(%d) NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	token_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (document_id, chunk_index)
);
`, s.dimension)
	if _, err := tx.ExecContext(ctx, tables); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	var existing int
	err = tx.QueryRowContext(ctx, `
SELECT atttypmod FROM pg_attribute
WHERE attrelid = 'chunks'::regclass AND attname = 'embedding'
`).Scan(&existing)
	if err != nil {
		return fmt.Errorf("read embedding dimension: %w", err)
	}
	if existing != s.dimension {
		return domain.WrapError(domain.ErrDimensionMismatch, "ensure schema",
			fmt.Errorf("chunks.embedding is vector(%d), configured dimension is %d", existing, s.dimension))
	}

	indexes := fmt.Sprintf(`
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_doc_type ON documents(doc_type);
CREATE INDEX IF NOT EXISTS idx_documents_jurisdiction ON documents(jurisdiction);
CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_article_number ON chunks ((metadata->>'article_number'));
DROP INDEX IF EXISTS idx_chunks_embedding;
CREATE INDEX IF NOT EXISTS idx_chunks_embedding_hnsw ON chunks USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d);
`, s.index.M, s.index.EFConstruction)
	if _, err := tx.ExecContext(ctx, indexes); err != nil {
		return fmt.Errorf("execute index ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func notFound(id string) error {
	return domain.WrapError(domain.ErrDocumentNotFound, "postgres", fmt.Errorf("document %s", id))
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
