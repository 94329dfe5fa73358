package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type ChunkType string

const (
	ChunkTypeFullUnit    ChunkType = "full_unit"
	ChunkTypePartialUnit ChunkType = "partial_unit"
	ChunkTypeTextWindow  ChunkType = "text_window"
)

// ChunkMetadataVersion is bumped whenever a known field changes meaning.
const ChunkMetadataVersion = 1

// ChunkMetadata is the provenance of a chunk. Unknown keys go to Extensions.
type ChunkMetadata struct {
	Version       int               `json:"version"`
	ArticleNumber string            `json:"article_number,omitempty"`
	Page          int               `json:"page,omitempty"`
	Section       string            `json:"section,omitempty"`
	ChunkType     ChunkType         `json:"chunk_type"`
	PartIndex     int               `json:"part_index,omitempty"`
	PartCount     int               `json:"part_count,omitempty"`
	Extensions    map[string]string `json:"extensions,omitempty"`
}

// Value implements driver.Valuer.
func (m ChunkMetadata) Value() (driver.Value, error) {
	if m.Version == 0 {
		m.Version = ChunkMetadataVersion
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *ChunkMetadata) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*m = ChunkMetadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("chunk metadata: unsupported scan type")
	}
	var out ChunkMetadata
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("chunk metadata: %w", err)
	}
	*m = out
	return nil
}

type Chunk struct {
	ID         string        `json:"id"`
	DocumentID string        `json:"document_id"`
	Text       string        `json:"text"`
	Embedding  []float32     `json:"-"`
	ChunkIndex int           `json:"chunk_index"`
	Metadata   ChunkMetadata `json:"metadata"`
	TokenCount int           `json:"token_count"`
	CreatedAt  time.Time     `json:"created_at"`
}

// ChunkDraft is chunker output before it has an embedding and an identity.
type ChunkDraft struct {
	Index      int
	Text       string
	Metadata   ChunkMetadata
	TokenCount int
}

// Unit is one structural span of a legal document (an article, a section or a paragraph).
type Unit struct {
	Label  string
	Number string
	Body   string
	Page   int
}

type Segmentation struct {
	Units      []Unit
	FullText   string
	Structured bool
}
