package vertex

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/legal-rag/internal/core/domain"
	"github.com/kirillkom/legal-rag/internal/infrastructure/resilience"
)

type Config struct {
	Project     string
	Region      string
	Model       string
	Temperature float64
}

// Backend is a Gemini model on Vertex AI.
type Backend struct {
	name        string
	model       string
	temperature float32
	client      *genai.Client
	executor    *resilience.Executor
}

func New(ctx context.Context, name string, cfg Config, executor *resilience.Executor) (*Backend, error) {
	if cfg.Project == "" || cfg.Region == "" {
		return nil, fmt.Errorf("vertex: project and region cannot be empty")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("vertex: model cannot be empty")
	}
	client, err := genai.NewClient(ctx, cfg.Project, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	if name == "" {
		name = cfg.Model
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Backend{
		name:        name,
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		client:      client,
		executor:    executor,
	}, nil
}

func (b *Backend) Name() string {
	return b.name
}

func (b *Backend) Healthy() bool {
	return b.executor.Healthy("vertex.generate")
}

func (b *Backend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

func (b *Backend) generativeModel(system string) *genai.GenerativeModel {
	model := b.client.GenerativeModel(b.model)
	if strings.TrimSpace(system) != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](b.temperature),
	}
	return model
}

func (b *Backend) Generate(ctx context.Context, system, user string) (string, error) {
	model := b.generativeModel(system)
	text, err := resilience.Call(ctx, b.executor, "vertex.generate", func(ctx context.Context) (string, error) {
		resp, err := model.GenerateContent(ctx, genai.Text(user))
		if err != nil {
			return "", err
		}
		return responseText(resp), nil
	}, classifyVertexError)
	if err != nil {
		return "", markTemporary("vertex.generate", err)
	}
	if text == "" {
		return "", fmt.Errorf("vertex: empty response")
	}
	return text, nil
}

func (b *Backend) GenerateStream(ctx context.Context, system, user string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !b.executor.Healthy("vertex.generate") {
			yield("", domain.WrapError(domain.ErrTemporary, "vertex.stream", errors.New("circuit open")))
			return
		}
		stream := b.generativeModel(system).GenerateContentStream(ctx, genai.Text(user))
		for {
			resp, err := stream.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield("", markTemporary("vertex.stream", err))
				return
			}
			if fragment := rawText(resp); fragment != "" && !yield(fragment, nil) {
				return
			}
		}
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	return strings.TrimSpace(rawText(resp))
}

func rawText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

var classifyVertexError = resilience.Classify(func(err error) resilience.ErrorClassification {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
		return resilience.Transient
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
		return resilience.Rejected
	default:
		return resilience.Permanent
	}
})

func markTemporary(operation string, err error) error {
	return resilience.MarkTemporary(operation, err, classifyVertexError)
}
