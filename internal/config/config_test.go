package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadIncludesRetrievalDefaults(t *testing.T) {
	t.Setenv("RETRIEVAL_OVERFETCH_FACTOR", "")
	t.Setenv("RETRIEVAL_KEYWORD_FALLBACK_THRESHOLD", "")
	t.Setenv("SEARCH_TIMEOUT", "")
	t.Setenv("VECTOR_BACKEND", "")

	cfg := Load()
	if cfg.RetrievalOverFetchFactor != 4 {
		t.Fatalf("expected default over-fetch factor 4, got %d", cfg.RetrievalOverFetchFactor)
	}
	if cfg.KeywordFallbackThreshold != 0.35 {
		t.Fatalf("expected default keyword threshold 0.35, got %v", cfg.KeywordFallbackThreshold)
	}
	if cfg.SearchTimeout != 10*time.Second {
		t.Fatalf("expected default search timeout 10s, got %s", cfg.SearchTimeout)
	}
	if cfg.VectorBackend != VectorBackendPostgres {
		t.Fatalf("expected postgres backend by default, got %q", cfg.VectorBackend)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("RETRIEVAL_KEYWORD_FALLBACK_THRESHOLD", "0.5")
	t.Setenv("GENERATION_TIMEOUT", "45")
	t.Setenv("RERANK_TIMEOUT", "750ms")
	t.Setenv("RETRIEVAL_KEYWORD_FALLBACK", "false")
	t.Setenv("CHUNK_SIZE", "not-a-number")

	cfg := Load()
	if cfg.KeywordFallbackThreshold != 0.5 {
		t.Fatalf("expected threshold 0.5, got %v", cfg.KeywordFallbackThreshold)
	}
	if cfg.GenerationTimeout != 45*time.Second {
		t.Fatalf("expected bare seconds to parse, got %s", cfg.GenerationTimeout)
	}
	if cfg.RerankTimeout != 750*time.Millisecond {
		t.Fatalf("expected 750ms, got %s", cfg.RerankTimeout)
	}
	if cfg.KeywordFallbackEnabled {
		t.Fatalf("expected keyword fallback disabled")
	}
	if cfg.ChunkSize != 300 {
		t.Fatalf("expected invalid int to fall back to 300, got %d", cfg.ChunkSize)
	}
}

func TestValidateRejectsImpossibleValues(t *testing.T) {
	cfg := Load()
	cfg.EmbeddingDimension = 0
	cfg.KeywordFallbackThreshold = 1.5
	cfg.EmbedderProvider = "word2vec"
	cfg.GenerationTimeout = cfg.HTTPWriteTimeout

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"EMBEDDING_DIMENSION", "RETRIEVAL_KEYWORD_FALLBACK_THRESHOLD", "EMBEDDER_PROVIDER", "GENERATION_TIMEOUT"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}

func TestModelSpecsFromEnv(t *testing.T) {
	cfg := Load()
	cfg.ModelsFile = ""
	cfg.VertexProject = ""

	specs, _, err := cfg.ModelSpecs()
	if err != nil {
		t.Fatalf("ModelSpecs() error = %v", err)
	}
	if len(specs) != 1 || specs[0].Name != "fast" || specs[0].Provider != ProviderOllama {
		t.Fatalf("expected only the fast ollama model, got %+v", specs)
	}

	cfg.VertexProject = "acme-legal"
	specs, _, err = cfg.ModelSpecs()
	if err != nil {
		t.Fatalf("ModelSpecs() error = %v", err)
	}
	if len(specs) != 2 || specs[1].Name != "smart" || specs[1].Project != "acme-legal" {
		t.Fatalf("expected smart vertex model second, got %+v", specs)
	}
}

func TestModelSpecsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	raw := `
default: smart
models:
  - name: fast
    provider: ollama
    model: llama3.1:8b
  - name: smart
    provider: Vertex
    model: gemini-1.5-pro
    temperature: 0.2
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write models file: %v", err)
	}

	cfg := Load()
	cfg.ModelsFile = path
	cfg.DefaultModel = ""
	cfg.VertexProject = "acme-legal"

	specs, def, err := cfg.ModelSpecs()
	if err != nil {
		t.Fatalf("ModelSpecs() error = %v", err)
	}
	if def != "smart" {
		t.Fatalf("expected default smart, got %q", def)
	}
	if specs[0].BaseURL != cfg.OllamaURL {
		t.Fatalf("expected ollama base url inherited from env, got %q", specs[0].BaseURL)
	}
	if specs[1].Provider != ProviderVertex || specs[1].Project != "acme-legal" || specs[1].Temperature != 0.2 {
		t.Fatalf("unexpected vertex spec %+v", specs[1])
	}
}

func TestParseModelsRejectsBadFiles(t *testing.T) {
	cfg := Load()
	cfg.DefaultModel = ""
	cases := map[string]string{
		"empty":            "models: []",
		"unknown provider": "models:\n  - {name: a, provider: openai, model: gpt}",
		"duplicate":        "models:\n  - {name: a, provider: ollama, model: m}\n  - {name: a, provider: ollama, model: m}",
		"missing default":  "default: b\nmodels:\n  - {name: a, provider: ollama, model: m}",
		"missing model":    "models:\n  - {name: a, provider: ollama}",
	}
	for name, raw := range cases {
		if _, _, err := parseModels([]byte(raw), cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
