package httpadapter

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/legal-rag/internal/config"
	"github.com/kirillkom/legal-rag/internal/core/domain"
)

func multipartUpload(t *testing.T, fields map[string]string, content string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("WriteField() error = %v", err)
		}
	}
	part, err := writer.CreateFormFile("file", "penal.txt")
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestHealthzEndpoint(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, defaultServices())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestUploadDocumentQueuesByDefault(t *testing.T) {
	ingest := &ingestFake{}
	svc := defaultServices()
	svc.Ingestor = ingest
	handler := newTestHandler(t, config.Config{}, svc)

	body, contentType := multipartUpload(t, map[string]string{
		"title":        "Penal Code",
		"type":         "law",
		"jurisdiction": "fr",
	}, "Article 5: Theft is punishable by imprisonment.")
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	var doc map[string]any
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if doc["id"] != "doc-1" || doc["status"] != "pending" {
		t.Fatalf("unexpected response: %+v", doc)
	}
	if ingest.lastMeta.Title != "Penal Code" || ingest.lastMeta.Type != domain.DocumentTypeLaw || ingest.lastMeta.Filename != "penal.txt" {
		t.Fatalf("unexpected metadata %+v", ingest.lastMeta)
	}
}

func TestUploadDocumentSyncReturnsIngestResult(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, defaultServices())

	body, contentType := multipartUpload(t, nil, "Article 1: Scope.")
	req := httptest.NewRequest(http.MethodPost, "/v1/documents?sync=true", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var result domain.IngestResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !result.Success || result.ChunksCreated != 3 {
		t.Fatalf("unexpected ingest result %+v", result)
	}
}

func TestUploadDocumentRejectsUnknownType(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, defaultServices())

	body, contentType := multipartUpload(t, map[string]string{"type": "novel"}, "text")
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestUploadDocumentMissingMultipartField(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, defaultServices())

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", bytes.NewBufferString("plain-text"))
	req.Header.Set("Content-Type", "text/plain")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}
