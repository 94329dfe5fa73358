package domain

import (
	"fmt"
	"strings"
	"time"
)

type DocumentType string

const (
	DocumentTypeLaw        DocumentType = "law"
	DocumentTypeRegulation DocumentType = "regulation"
	DocumentTypeContract   DocumentType = "contract"
	DocumentTypeCaseFile   DocumentType = "case_file"
	DocumentTypeResearch   DocumentType = "research"
	DocumentTypeMemo       DocumentType = "memo"
	DocumentTypeTemplate   DocumentType = "template"
)

var documentTypes = []DocumentType{
	DocumentTypeLaw,
	DocumentTypeRegulation,
	DocumentTypeContract,
	DocumentTypeCaseFile,
	DocumentTypeResearch,
	DocumentTypeMemo,
	DocumentTypeTemplate,
}

func (t DocumentType) Valid() bool {
	for _, known := range documentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseDocumentType accepts the canonical names case-insensitively.
// An empty value defaults to law.
func ParseDocumentType(raw string) (DocumentType, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	if normalized == "" {
		return DocumentTypeLaw, nil
	}
	t := DocumentType(normalized)
	if !t.Valid() {
		return "", WrapError(ErrInvalidInput, "parse document type", fmt.Errorf("unknown document type %q", raw))
	}
	return t, nil
}

type DocumentStatus string

const (
	StatusPending   DocumentStatus = "pending"
	StatusProcessed DocumentStatus = "processed"
	StatusFailed    DocumentStatus = "failed"
)

// CanTransitionTo reports whether a status change keeps the lifecycle monotonic.
// processed is terminal; failed may go back to pending only through re-ingestion.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusPending || next == StatusProcessed || next == StatusFailed
	case StatusFailed:
		return next == StatusPending || next == StatusFailed
	default:
		return false
	}
}

type Document struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Type         DocumentType   `json:"type"`
	Jurisdiction string         `json:"jurisdiction,omitempty"`
	Language     string         `json:"language,omitempty"`
	SourcePath   string         `json:"source_path"`
	MimeType     string         `json:"mime_type"`
	StorageKey   string         `json:"storage_key"`
	SizeBytes    int64          `json:"size_bytes"`
	PageCount    int            `json:"page_count"`
	Status       DocumentStatus `json:"status"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// DocumentMetadata is what a caller supplies alongside a document blob.
type DocumentMetadata struct {
	Title        string       `json:"title"`
	Type         DocumentType `json:"type"`
	Jurisdiction string       `json:"jurisdiction,omitempty"`
	Language     string       `json:"language,omitempty"`
	SourcePath   string       `json:"source_path,omitempty"`
	Filename     string       `json:"filename"`
	MimeType     string       `json:"mime_type,omitempty"`
}

// ExtractedText is the plain text of a stored document. Pages are separated by form feeds.
type ExtractedText struct {
	Text      string
	PageCount int
}

type IngestResult struct {
	Success       bool     `json:"success"`
	DocumentID    string   `json:"document_id"`
	ChunksCreated int      `json:"chunks_created"`
	Errors        []string `json:"errors"`
}

type StoreStats struct {
	Documents          int                    `json:"documents"`
	Chunks             int                    `json:"chunks"`
	ByStatus           map[DocumentStatus]int `json:"by_status"`
	ByType             map[DocumentType]int   `json:"by_type"`
	EmbeddingDimension int                    `json:"embedding_dimension"`
}
