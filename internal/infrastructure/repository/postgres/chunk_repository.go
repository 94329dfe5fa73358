package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/legal-rag/internal/core/domain"
)

// StoreChunks replaces every chunk of the document in one transaction.
func (s *Store) StoreChunks(ctx context.Context, documentID string, chunks []domain.ChunkDraft, embeddings [][]float32) (int, error) {
	if len(chunks) != len(embeddings) {
		return 0, domain.WrapError(domain.ErrInvalidInput, "store chunks",
			fmt.Errorf("%d chunks but %d embeddings", len(chunks), len(embeddings)))
	}
	for i, vec := range embeddings {
		if err := domain.CheckDimension(vec, s.dimension); err != nil {
			return 0, fmt.Errorf("chunk %d: %w", i, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin chunks tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var locked string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE id = $1 FOR UPDATE`, documentID).Scan(&locked); err != nil {
		if isNoRows(err) {
			return 0, notFound(documentID)
		}
		return 0, fmt.Errorf("lock document: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return 0, fmt.Errorf("delete previous chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunks (id, document_id, chunk_index, text, embedding, metadata, token_count, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`)
	if err != nil {
		return 0, fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, draft := range chunks {
		_, err := stmt.ExecContext(ctx,
			uuid.NewString(), documentID, draft.Index, draft.Text,
			pgvector.NewVector(embeddings[i]), draft.Metadata, draft.TokenCount, now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert chunk %d: %w", draft.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit chunks tx: %w", err)
	}
	return len(chunks), nil
}

const candidateColumns = `c.id, c.document_id, c.chunk_index, c.text, c.metadata, c.token_count, c.created_at, d.title, d.doc_type, d.jurisdiction`

// Search ranks chunks of processed documents by cosine similarity to queryVector.
func (s *Store) Search(ctx context.Context, queryVector []float32, k int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := domain.CheckDimension(queryVector, s.dimension); err != nil {
		return nil, err
	}

	args := []any{pgvector.NewVector(queryVector)}
	where := filterClause(filter, &args)
	args = append(args, k)

	query := `
SELECT ` + candidateColumns + `, 1 - (c.embedding <=> $1) AS similarity
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE ` + where + `
ORDER BY c.embedding <=> $1, c.chunk_index, c.id
LIMIT $` + fmt.Sprint(len(args))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin search tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// The status and metadata filters run after the index scan, so the scan must see at least k rows.
	efSearch := min(max(s.index.EFSearch, k), maxEFSearch)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", efSearch)); err != nil {
		return nil, fmt.Errorf("set ef_search: %w", err)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	candidates, err := scanCandidates(rows, domain.MatchedSemantic)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit search tx: %w", err)
	}
	return candidates, nil
}

// SearchKeyword returns chunks containing any of terms, scored by the fraction of terms matched.
func (s *Store) SearchKeyword(ctx context.Context, terms []string, k int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	patterns := likePatterns(terms)
	if len(patterns) == 0 || k <= 0 {
		return nil, nil
	}

	args := []any{pq.Array(patterns), float64(len(patterns))}
	where := filterClause(filter, &args)
	args = append(args, k)

	query := `
SELECT ` + candidateColumns + `,
	(SELECT count(*) FROM unnest($1::text[]) AS p(pattern) WHERE c.text ILIKE p.pattern)::float8 / $2 AS similarity
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE ` + where + ` AND c.text ILIKE ANY($1::text[])
ORDER BY similarity DESC, c.chunk_index, c.id
LIMIT $` + fmt.Sprint(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()
	return scanCandidates(rows, domain.MatchedKeyword)
}

func (s *Store) Stats(ctx context.Context) (domain.StoreStats, error) {
	stats := domain.StoreStats{
		ByStatus:           map[domain.DocumentStatus]int{},
		ByType:             map[domain.DocumentType]int{},
		EmbeddingDimension: s.dimension,
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, doc_type, count(*) FROM documents GROUP BY status, doc_type`)
	if err != nil {
		return stats, fmt.Errorf("document stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status, docType string
			n               int
		)
		if err := rows.Scan(&status, &docType, &n); err != nil {
			return stats, fmt.Errorf("scan document stats: %w", err)
		}
		stats.Documents += n
		stats.ByStatus[domain.DocumentStatus(status)] += n
		stats.ByType[domain.DocumentType(docType)] += n
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("document stats rows: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM chunks`).Scan(&stats.Chunks); err != nil {
		return stats, fmt.Errorf("chunk stats: %w", err)
	}
	return stats, nil
}

func filterClause(filter domain.SearchFilter, args *[]any) string {
	clauses := []string{"d.status = '" + string(domain.StatusProcessed) + "'"}
	if len(filter.DocumentTypes) > 0 {
		types := make([]string, 0, len(filter.DocumentTypes))
		for _, t := range filter.DocumentTypes {
			types = append(types, string(t))
		}
		*args = append(*args, pq.Array(types))
		clauses = append(clauses, fmt.Sprintf("d.doc_type = ANY($%d)", len(*args)))
	}
	if filter.Jurisdiction != "" {
		*args = append(*args, filter.Jurisdiction)
		clauses = append(clauses, fmt.Sprintf("d.jurisdiction = $%d", len(*args)))
	}
	if filter.ArticleNumber != "" {
		*args = append(*args, filter.ArticleNumber)
		clauses = append(clauses, fmt.Sprintf("c.metadata->>'article_number' = $%d", len(*args)))
	}
	return strings.Join(clauses, " AND ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePatterns(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		key := strings.ToLower(term)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, "%"+likeEscaper.Replace(term)+"%")
	}
	return out
}

func scanCandidates(rows *sql.Rows, matchedBy string) ([]domain.RetrievalCandidate, error) {
	out := make([]domain.RetrievalCandidate, 0, 16)
	for rows.Next() {
		var (
			c       domain.RetrievalCandidate
			docType string
		)
		err := rows.Scan(
			&c.Chunk.ID, &c.Chunk.DocumentID, &c.Chunk.ChunkIndex, &c.Chunk.Text, &c.Chunk.Metadata,
			&c.Chunk.TokenCount, &c.Chunk.CreatedAt, &c.DocumentTitle, &docType, &c.Jurisdiction, &c.Similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.DocumentType = domain.DocumentType(docType)
		c.Score = c.Similarity
		c.MatchedBy = matchedBy
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("candidate rows: %w", err)
	}
	return out, nil
}
