package domain

type SearchFilter struct {
	DocumentTypes []DocumentType `json:"document_types,omitempty"`
	Jurisdiction  string         `json:"jurisdiction,omitempty"`
	ArticleNumber string         `json:"article_number,omitempty"`
}

const (
	MatchedSemantic = "semantic"
	MatchedKeyword  = "keyword"
)

// RetrievalCandidate is one piece of evidence for a query.
// Score is the ranking score; Similarity keeps the first-stage score for diagnostics.
type RetrievalCandidate struct {
	Chunk         Chunk        `json:"chunk"`
	DocumentTitle string       `json:"document_title"`
	DocumentType  DocumentType `json:"document_type"`
	Jurisdiction  string       `json:"jurisdiction,omitempty"`
	Similarity    float64      `json:"similarity"`
	RerankScore   *float64     `json:"rerank_score,omitempty"`
	Score         float64      `json:"score"`
	Confidence    float64      `json:"confidence"`
	MatchedBy     string       `json:"matched_by"`
}

type Source struct {
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	ArticleNumber string  `json:"article_number,omitempty"`
	Page          int     `json:"page,omitempty"`
	ChunkID       string  `json:"chunk_id"`
	Similarity    float64 `json:"similarity"`
}

type Answer struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
}

type StreamEventType string

const (
	StreamEventText    StreamEventType = "text"
	StreamEventSources StreamEventType = "sources"
	StreamEventError   StreamEventType = "error"
)

type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
	Sources []Source        `json:"sources,omitempty"`
}

type ClaimVerdict struct {
	IsValid           bool    `json:"is_valid"`
	Explanation       string  `json:"explanation"`
	SupportingPassage *string `json:"supporting_passage"`
}

// GenerationRequest is one prompt for the model registry.
type GenerationRequest struct {
	System   string
	User     string
	ModelKey string
	UseCache bool
}

type BackendStatus struct {
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	Available bool   `json:"available"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
}
