package hugotembed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knights-analytics/hugot"

	"github.com/kirillkom/legal-rag/internal/core/domain"
	"github.com/kirillkom/legal-rag/internal/infrastructure/inference"
)

type Config struct {
	ModelName string
	ModelDir  string
	Dimension int
	BatchSize int
	// Timeout bounds each batch. The model keeps its pool slot until it returns.
	Timeout time.Duration
}

type runFunc func(texts []string) ([][]float32, error)

// Embedder runs a sentence-transformer ONNX model in-process.
type Embedder struct {
	run       runFunc
	pool      *inference.Pool
	dimension int
	batchSize int
	timeout   time.Duration
	close     func() error
}

func New(cfg Config, pool *inference.Pool) (*Embedder, error) {
	modelPath, err := PrepareModel(cfg.ModelName, cfg.ModelDir)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("create hugot session: %w", err)
	}
	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "legal-rag-embedder",
	})
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("create embedding pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("create embedding pipeline: %w", err)
	}

	run := func(texts []string) ([][]float32, error) {
		result, err := pipeline.RunPipeline(texts)
		if err != nil {
			return nil, err
		}
		return result.Embeddings, nil
	}
	e := newWithRunner(run, pool, cfg.Dimension, cfg.BatchSize)
	e.close = session.Destroy
	e.timeout = cfg.Timeout
	return e, nil
}

func newWithRunner(run runFunc, pool *inference.Pool, dimension, batchSize int) *Embedder {
	if pool == nil {
		pool = inference.NewPool(1)
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Embedder{
		run:       run,
		pool:      pool,
		dimension: dimension,
		batchSize: batchSize,
		close:     func() error { return nil },
	}
}

func (e *Embedder) Dimension() int {
	return e.dimension
}

func (e *Embedder) Close() error {
	return e.close()
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch := texts[start:end]
		vectors, err := e.runBatch(ctx, batch)
		if err != nil {
			return nil, domain.WrapError(domain.ErrEmbedding, "hugot.embed", err)
		}
		if len(vectors) != len(batch) {
			return nil, domain.WrapError(domain.ErrEmbedding, "hugot.embed",
				fmt.Errorf("expected %d embeddings, got %d", len(batch), len(vectors)))
		}
		for _, v := range vectors {
			normalized, err := e.finish(v)
			if err != nil {
				return nil, err
			}
			out = append(out, normalized)
		}
	}
	return out, nil
}

func (e *Embedder) runBatch(ctx context.Context, batch []string) ([][]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return inference.Run(ctx, e.pool, func() ([][]float32, error) {
		return e.run(batch)
	})
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "hugot.embed_query", fmt.Errorf("query is empty"))
	}
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) finish(v []float32) ([]float32, error) {
	if e.dimension > 0 {
		if err := domain.CheckDimension(v, e.dimension); err != nil {
			return nil, domain.WrapError(domain.ErrEmbedding, "hugot.embed", err)
		}
	}
	normalized, err := domain.NormalizeL2(v)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEmbedding, "hugot.embed", err)
	}
	return normalized, nil
}

// PrepareModel downloads the model into modelDir unless it is already there.
func PrepareModel(modelName, modelDir string) (string, error) {
	if strings.TrimSpace(modelName) == "" {
		return "", fmt.Errorf("embedding model name is empty")
	}
	if modelDir == "" {
		modelDir = "./models"
	}
	modelPath := filepath.Join(modelDir, strings.ReplaceAll(modelName, "/", "_"))
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat model dir: %w", err)
	}

	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory: %w", err)
	}
	opts := hugot.NewDownloadOptions()
	opts.OnnxFilePath = "onnx/model.onnx"
	downloaded, err := hugot.DownloadModel(modelName, modelDir, opts)
	if err != nil {
		return "", fmt.Errorf("download model %s: %w", modelName, err)
	}
	return downloaded, nil
}
