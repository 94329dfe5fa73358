package ollama

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/legal-rag/internal/core/domain"
	"github.com/kirillkom/legal-rag/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	// streamClient only bounds the wait for response headers; stream lifetime is bounded by the
	// caller's context.
	streamClient *http.Client
	executor     *resilience.Executor
}

func New(baseURL string, timeout time.Duration, executor *resilience.Executor) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: timeout,
		}},
		executor:     executor,
	}
}

// Embedder calls /api/embed and returns unit-length vectors.
type Embedder struct {
	client    *Client
	model     string
	dimension int
}

func NewEmbedder(client *Client, model string, dimension int) *Embedder {
	return &Embedder{client: client, model: model, dimension: dimension}
}

func (e *Embedder) Dimension() int {
	return e.dimension
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.model,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, domain.WrapError(domain.ErrEmbedding, "ollama.embed", err)
	}
	if len(response.Embeddings) != len(texts) {
		return nil, domain.WrapError(domain.ErrEmbedding, "ollama.embed",
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(response.Embeddings)))
	}

	out := make([][]float32, 0, len(response.Embeddings))
	for _, v := range response.Embeddings {
		if err := domain.CheckDimension(v, e.dimension); err != nil {
			return nil, domain.WrapError(domain.ErrEmbedding, "ollama.embed", err)
		}
		normalized, err := domain.NormalizeL2(v)
		if err != nil {
			return nil, domain.WrapError(domain.ErrEmbedding, "ollama.embed", err)
		}
		out = append(out, normalized)
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ollama.embed_query", fmt.Errorf("query is empty"))
	}
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Backend is a chat model served by Ollama.
type Backend struct {
	client      *Client
	name        string
	model       string
	temperature float64
}

func NewBackend(client *Client, name, model string, temperature float64) *Backend {
	if name == "" {
		name = model
	}
	return &Backend{client: client, name: name, model: model, temperature: temperature}
}

func (b *Backend) Name() string {
	return b.name
}

// Healthy is false while the chat circuit breaker is open.
func (b *Backend) Healthy() bool {
	return b.client.executor.Healthy("ollama.chat")
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatChunk struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error"`
}

func (b *Backend) chatRequest(system, user string, stream bool) map[string]any {
	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(system) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: user})
	return map[string]any{
		"model":    b.model,
		"messages": messages,
		"stream":   stream,
		"options":  map[string]any{"temperature": b.temperature},
	}
}

func (b *Backend) Generate(ctx context.Context, system, user string) (string, error) {
	var response chatChunk
	if err := b.client.postJSON(ctx, "/api/chat", b.chatRequest(system, user, false), &response, "chat"); err != nil {
		return "", err
	}
	if response.Error != "" {
		return "", fmt.Errorf("ollama chat: %s", response.Error)
	}
	return strings.TrimSpace(response.Message.Content), nil
}

// GenerateStream yields message fragments in order. A failure after the first fragment
// ends the sequence with that error.
func (b *Backend) GenerateStream(ctx context.Context, system, user string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		body, err := b.client.openStream(ctx, "/api/chat", b.chatRequest(system, user, true), "chat_stream")
		if err != nil {
			yield("", err)
			return
		}
		defer body.Close()

		for chunk, err := range decodeNDJSON[chatChunk](body) {
			if err != nil {
				yield("", fmt.Errorf("ollama chat_stream decode: %w", err))
				return
			}
			if chunk.Error != "" {
				yield("", fmt.Errorf("ollama chat_stream: %s", chunk.Error))
				return
			}
			if chunk.Message.Content != "" && !yield(chunk.Message.Content, nil) {
				return
			}
			if chunk.Done {
				return
			}
		}
		if err := ctx.Err(); err != nil {
			yield("", err)
		}
	}
}
