package httpadapter

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/legal-rag/internal/config"
	"github.com/kirillkom/legal-rag/internal/core/domain"
	"github.com/kirillkom/legal-rag/internal/observability/metrics"
)

func TestRetrieveReturnsEvidenceItems(t *testing.T) {
	retriever := &retrieverFake{results: []domain.RetrievalCandidate{{
		Chunk: domain.Chunk{
			ID:         "chunk-5",
			DocumentID: "doc-1",
			Text:       "Article 5: Theft is punishable by imprisonment.",
			Metadata:   domain.ChunkMetadata{ArticleNumber: "5", Page: 2},
		},
		DocumentTitle: "Penal Code",
		DocumentType:  domain.DocumentTypeLaw,
		Similarity:    0.82,
		Score:         0.82,
		Confidence:    0.82,
		MatchedBy:     domain.MatchedSemantic,
	}}}
	svc := defaultServices()
	svc.Retriever = retriever
	handler := newTestHandler(t, config.Config{}, svc)

	res := postJSON(t, handler, "/v1/retrieve", map[string]any{
		"query":       "penalty for theft",
		"max_results": 3,
		"filters":     map[string]any{"jurisdiction": "FR", "document_types": []string{"law"}},
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var body struct {
		Results []evidenceItem `json:"results"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Results) != 1 || body.Results[0].ArticleNumber != "5" || body.Results[0].Page != 2 {
		t.Fatalf("unexpected results %+v", body.Results)
	}
	if retriever.lastK != 3 || retriever.filter.Jurisdiction != "FR" || len(retriever.filter.DocumentTypes) != 1 {
		t.Fatalf("request not forwarded: k=%d filter=%+v", retriever.lastK, retriever.filter)
	}
}

func TestAnswerStreamEmitsSSEWithSourcesLast(t *testing.T) {
	svc := defaultServices()
	svc.Answers = answersFake{events: []domain.StreamEvent{
		{Type: domain.StreamEventText, Content: "Under [Article 5] "},
		{Type: domain.StreamEventText, Content: "theft is punishable."},
		{Type: domain.StreamEventSources, Sources: []domain.Source{{DocumentID: "doc-1", ArticleNumber: "5", ChunkID: "chunk-5"}}},
	}}
	handler := newTestHandler(t, config.Config{}, svc)

	res := postJSON(t, handler, "/v1/answer/stream", map[string]any{"query": "What is the penalty for theft?"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if ct := res.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var payloads []string
	scanner := bufio.NewScanner(strings.NewReader(res.Body.String()))
	for scanner.Scan() {
		if line, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
			payloads = append(payloads, line)
		}
	}
	if len(payloads) != 4 || payloads[3] != "[DONE]" {
		t.Fatalf("unexpected SSE payloads %q", payloads)
	}
	var last domain.StreamEvent
	if err := json.Unmarshal([]byte(payloads[2]), &last); err != nil {
		t.Fatalf("decode sources event: %v", err)
	}
	if last.Type != domain.StreamEventSources || len(last.Sources) != 1 {
		t.Fatalf("expected sources as the last event, got %+v", last)
	}
}

func TestAnswerStreamKeepsEmptySourcesKey(t *testing.T) {
	svc := defaultServices()
	svc.Answers = answersFake{events: []domain.StreamEvent{
		{Type: domain.StreamEventText, Content: "insufficient information"},
		{Type: domain.StreamEventSources},
	}}
	handler := newTestHandler(t, config.Config{}, svc)

	res := postJSON(t, handler, "/v1/answer/stream", map[string]any{"query": "q"})
	if !strings.Contains(res.Body.String(), `{"type":"sources","sources":[]}`) {
		t.Fatalf("expected an explicit empty sources list, got %s", res.Body.String())
	}
}

func TestStatsIncludesModelStatuses(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, defaultServices())

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	var body statsResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Store.Chunks != 3 || len(body.Models) != 1 || body.Models[0].Name != "fast" {
		t.Fatalf("unexpected stats %+v", body)
	}
}

func TestMetricsEndpointServesRAGCounters(t *testing.T) {
	m := metrics.NewHTTPServerMetrics(serviceName)
	rt, err := NewRouter(config.Config{}, defaultServices(), m)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	handler := rt.Handler()

	postJSON(t, handler, "/v1/answer", map[string]any{"query": "What is the penalty for theft?"})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if !strings.Contains(res.Body.String(), `legalrag_rag_no_context_total{endpoint="answer",service="api"} 1`) {
		t.Fatalf("expected no-context counter in metrics output:\n%s", res.Body.String())
	}
}
