package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/legal-rag/internal/config"
	"github.com/kirillkom/legal-rag/internal/core/domain"
	"github.com/kirillkom/legal-rag/internal/core/ports"
	"github.com/kirillkom/legal-rag/internal/observability/metrics"
)

const (
	serviceName       = "api"
	maxUploadBytes    = 64 << 20
	maxJSONBodyBytes  = 1 << 20
	backpressureWait  = 250 * time.Millisecond
	multipartMemBytes = 8 << 20
)

// ModelStatusReporter exposes the generation registry state.
type ModelStatusReporter interface {
	Statuses() []domain.BackendStatus
}

type Services struct {
	Ingestor  ports.DocumentIngestor
	Documents ports.DocumentReader
	Retriever ports.EvidenceRetriever
	Answers   ports.AnsweringService
	Claims    ports.ClaimValidator
	Models    ModelStatusReporter
}

type Router struct {
	cfg     config.Config
	svc     Services
	metrics *metrics.HTTPServerMetrics
	openAPI http.Handler
}

func NewRouter(cfg config.Config, svc Services, m *metrics.HTTPServerMetrics) (*Router, error) {
	rt := &Router{cfg: cfg, svc: svc, metrics: m}
	router, err := loadOpenAPIRouter()
	if err != nil {
		return nil, err
	}
	rt.openAPI = openAPIValidationMiddleware(router, rt.mux())
	return rt, nil
}

func (rt *Router) mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.HandleFunc("POST /v1/documents", rt.uploadDocument)
	mux.HandleFunc("GET /v1/documents/{id}", rt.getDocumentByID)
	mux.HandleFunc("GET /v1/stats", rt.stats)
	mux.HandleFunc("POST /v1/retrieve", rt.retrieve)
	mux.HandleFunc("POST /v1/answer", rt.answer)
	mux.HandleFunc("POST /v1/answer/stream", rt.answerStream)
	mux.HandleFunc("POST /v1/claims/validate", rt.validateClaim)
	return mux
}

// Handler returns the full middleware chain: request id, access log, metrics, rate limit,
// backpressure, then OpenAPI validation in front of the routes.
func (rt *Router) Handler() http.Handler {
	var h http.Handler = rt.openAPI
	h = backpressureMiddleware(h, rt.cfg.MaxInFlight, backpressureWait, rt.recordRejected)
	h = rateLimitMiddleware(h, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst, rt.recordRejected)
	if rt.metrics != nil {
		h = rt.metrics.Middleware(serviceName, h)
	}
	h = accessLogMiddleware(h)
	return requestIDMiddleware(h)
}

func (rt *Router) recordRejected(reason string) {
	if rt.metrics != nil {
		rt.metrics.RecordRejected(serviceName, reason)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "document exceeds upload limit", Kind: "invalid_input"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "multipart form is required", Kind: "invalid_input"})
		return
	}
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "multipart field 'file' is required", Kind: "invalid_input"})
		return
	}
	defer file.Close()

	meta := domain.DocumentMetadata{
		Title:        r.FormValue("title"),
		Jurisdiction: r.FormValue("jurisdiction"),
		Language:     r.FormValue("language"),
		SourcePath:   r.FormValue("source_path"),
		Filename:     fileHeader.Filename,
		MimeType:     fileHeader.Header.Get("Content-Type"),
	}
	docType, err := domain.ParseDocumentType(r.FormValue("type"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	meta.Type = docType

	if sync, _ := strconv.ParseBool(r.URL.Query().Get("sync")); sync {
		res, err := rt.svc.Ingestor.Ingest(r.Context(), meta, file)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	doc, err := rt.svc.Ingestor.Upload(r.Context(), meta, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) getDocumentByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "document id is required", Kind: "invalid_input"})
		return
	}
	doc, err := rt.svc.Documents.GetDocument(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type statsResponse struct {
	Store  domain.StoreStats      `json:"store"`
	Models []domain.BackendStatus `json:"models"`
}

func (rt *Router) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.svc.Documents.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := statsResponse{Store: stats, Models: []domain.BackendStatus{}}
	if rt.svc.Models != nil {
		resp.Models = rt.svc.Models.Statuses()
	}
	writeJSON(w, http.StatusOK, resp)
}

type retrieveRequest struct {
	Query      string              `json:"query"`
	MaxResults int                 `json:"max_results"`
	Filters    domain.SearchFilter `json:"filters"`
}

type evidenceItem struct {
	ChunkID       string   `json:"chunk_id"`
	DocumentID    string   `json:"document_id"`
	DocumentTitle string   `json:"document_title"`
	DocumentType  string   `json:"document_type"`
	Jurisdiction  string   `json:"jurisdiction,omitempty"`
	ArticleNumber string   `json:"article_number,omitempty"`
	Page          int      `json:"page,omitempty"`
	Text          string   `json:"text"`
	Similarity    float64  `json:"similarity"`
	RerankScore   *float64 `json:"rerank_score,omitempty"`
	Score         float64  `json:"score"`
	Confidence    float64  `json:"confidence"`
	MatchedBy     string   `json:"matched_by"`
}

func toEvidenceItems(candidates []domain.RetrievalCandidate) []evidenceItem {
	out := make([]evidenceItem, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, evidenceItem{
			ChunkID:       c.Chunk.ID,
			DocumentID:    c.Chunk.DocumentID,
			DocumentTitle: c.DocumentTitle,
			DocumentType:  string(c.DocumentType),
			Jurisdiction:  c.Jurisdiction,
			ArticleNumber: c.Chunk.Metadata.ArticleNumber,
			Page:          c.Chunk.Metadata.Page,
			Text:          c.Chunk.Text,
			Similarity:    c.Similarity,
			RerankScore:   c.RerankScore,
			Score:         c.Score,
			Confidence:    c.Confidence,
			MatchedBy:     c.MatchedBy,
		})
	}
	return out
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	start := time.Now()
	candidates, err := rt.svc.Retriever.Retrieve(r.Context(), req.Query, req.MaxResults, req.Filters)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt.recordRAG("retrieve", len(candidates), time.Since(start))
	writeJSON(w, http.StatusOK, map[string]any{"results": toEvidenceItems(candidates)})
}

type answerRequest struct {
	Query   string              `json:"query"`
	Filters domain.SearchFilter `json:"filters"`
}

func (rt *Router) answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	start := time.Now()
	answer, err := rt.svc.Answers.Answer(r.Context(), req.Query, req.Filters)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt.recordRAG("answer", len(answer.Sources), time.Since(start))
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) answerStream(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	start := time.Now()
	sources := 0
	for ev := range rt.svc.Answers.AnswerStream(r.Context(), req.Query, req.Filters) {
		if ev.Type == domain.StreamEventSources {
			sources = len(ev.Sources)
			if ev.Sources == nil {
				ev.Sources = []domain.Source{}
			}
		}
		if err := writeSSE(w, ev); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
	if _, err := io.WriteString(w, "data: [DONE]\n\n"); err != nil {
		return
	}
	_ = rc.Flush()
	rt.recordRAG("answer_stream", sources, time.Since(start))
}

// sseEvent keeps the sources key present on the final event even when it is empty.
type sseEvent struct {
	Type    domain.StreamEventType `json:"type"`
	Content string                 `json:"content,omitempty"`
	Sources *[]domain.Source       `json:"sources,omitempty"`
}

func writeSSE(w io.Writer, ev domain.StreamEvent) error {
	out := sseEvent{Type: ev.Type, Content: ev.Content}
	if ev.Type == domain.StreamEventSources {
		out.Sources = &ev.Sources
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

type claimRequest struct {
	Claim string `json:"claim"`
}

func (rt *Router) validateClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	verdict, err := rt.svc.Claims.ValidateClaim(r.Context(), req.Claim)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordClaimVerdict(serviceName, verdict.IsValid)
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (rt *Router) recordRAG(endpoint string, sources int, d time.Duration) {
	if rt.metrics != nil {
		rt.metrics.RecordRAGObservation(serviceName, endpoint, sources, d)
	}
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json", Kind: "invalid_input"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
