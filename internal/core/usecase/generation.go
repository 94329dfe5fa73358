package usecase

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/legal-rag/internal/core/domain"
	"github.com/kirillkom/legal-rag/internal/core/ports"
)

// ModelEntry is one registry slot. Err records why the backend could not be constructed;
// such entries are reported by Statuses and never called.
type ModelEntry struct {
	Name     string
	Provider string
	Backend  ports.ModelBackend
	Err      error
}

type healthReporter interface {
	Healthy() bool
}

type GenerationConfig struct {
	DefaultModel string
	CacheTTL     time.Duration
	Timeout      time.Duration
}

// ModelRegistry serves prompts from named backends with fallback in registration order.
type ModelRegistry struct {
	entries  []ModelEntry
	cache    ports.Cache
	cfg      GenerationConfig
	logger   *slog.Logger
	observer Observer
}

func NewModelRegistry(entries []ModelEntry, cache ports.Cache, cfg GenerationConfig, logger *slog.Logger, observer Observer) *ModelRegistry {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultModel == "" {
		for _, e := range entries {
			if e.Err == nil && e.Backend != nil {
				cfg.DefaultModel = e.Name
				break
			}
		}
	}
	for _, e := range entries {
		if e.Err != nil {
			logger.Warn("model_unavailable", "model", e.Name, "provider", e.Provider, "error", e.Err)
		}
	}
	return &ModelRegistry{
		entries:  entries,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
		observer: observerOrNop(observer),
	}
}

func (r *ModelRegistry) Statuses() []domain.BackendStatus {
	out := make([]domain.BackendStatus, 0, len(r.entries))
	for _, e := range r.entries {
		status := domain.BackendStatus{
			Name:      e.Name,
			Provider:  e.Provider,
			Available: e.Err == nil && e.Backend != nil,
		}
		status.Healthy = status.Available && healthy(e.Backend)
		if e.Err != nil {
			status.Error = e.Err.Error()
		}
		out = append(out, status)
	}
	return out
}

// candidates lists the requested backend first, then every other healthy backend.
func (r *ModelRegistry) candidates(modelKey string) []ModelEntry {
	if modelKey == "" {
		modelKey = r.cfg.DefaultModel
	}
	out := make([]ModelEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Name == modelKey && e.Err == nil && e.Backend != nil && healthy(e.Backend) {
			out = append(out, e)
		}
	}
	for _, e := range r.entries {
		if e.Name == modelKey || e.Err != nil || e.Backend == nil || !healthy(e.Backend) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func healthy(b ports.ModelBackend) bool {
	if h, ok := b.(healthReporter); ok {
		return h.Healthy()
	}
	return true
}

func (r *ModelRegistry) requestedName(modelKey string) string {
	if modelKey == "" {
		return r.cfg.DefaultModel
	}
	return modelKey
}

func (r *ModelRegistry) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	requested := r.requestedName(req.ModelKey)
	key := domain.CacheKey("generation", requested, req.System, req.User)
	if req.UseCache && r.cache != nil {
		if raw, ok := r.cache.Get(ctx, key); ok {
			return string(raw), nil
		}
	}

	backends := r.candidates(req.ModelKey)
	if len(backends) == 0 {
		return "", domain.WrapError(domain.ErrGeneration, "generate", domain.ErrNoModelsRegistered)
	}

	var errs []error
	for _, e := range backends {
		text, err := r.generateOne(ctx, e.Backend, req)
		if err == nil && strings.TrimSpace(text) == "" {
			err = errors.New("empty response")
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			r.logger.Warn("model_call_failed", "model", e.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))
			continue
		}
		if e.Name != requested {
			r.logger.Warn("model_fallback", "requested", requested, "served", e.Name)
			r.observer.ModelFallback(requested, e.Name)
		}
		if req.UseCache && r.cache != nil {
			r.cache.Set(ctx, key, []byte(text), r.cfg.CacheTTL)
		}
		return text, nil
	}
	return "", domain.WrapError(domain.ErrGeneration, "generate", errors.Join(errs...))
}

func (r *ModelRegistry) generateOne(ctx context.Context, backend ports.ModelBackend, req domain.GenerationRequest) (string, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	return backend.Generate(ctx, req.System, req.User)
}

var errNoFirstFragment = fmt.Errorf("no fragment before timeout: %w", context.DeadlineExceeded)

// Stream yields fragments from the first backend that produces one. Once a fragment has been
// yielded a later failure ends the sequence instead of switching backends. Streams are never cached.
// The generation timeout bounds the wait for each backend's first fragment.
func (r *ModelRegistry) Stream(ctx context.Context, req domain.GenerationRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		requested := r.requestedName(req.ModelKey)
		backends := r.candidates(req.ModelKey)
		if len(backends) == 0 {
			yield("", domain.WrapError(domain.ErrGeneration, "stream", domain.ErrNoModelsRegistered))
			return
		}

		var errs []error
		for _, e := range backends {
			started, stopped, streamErr := r.streamOne(ctx, e, req, requested, yield)
			switch {
			case stopped:
				return
			case streamErr == nil && started:
				return
			case started:
				yield("", domain.WrapError(domain.ErrGeneration, "stream", fmt.Errorf("%s: %w", e.Name, streamErr)))
				return
			case ctx.Err() != nil:
				yield("", ctx.Err())
				return
			case streamErr == nil:
				streamErr = errors.New("empty stream")
			}
			r.logger.Warn("model_call_failed", "model", e.Name, "stream", true, "error", streamErr)
			errs = append(errs, fmt.Errorf("%s: %w", e.Name, streamErr))
		}
		yield("", domain.WrapError(domain.ErrGeneration, "stream", errors.Join(errs...)))
	}
}

// streamOne relays one backend's fragments. stopped reports that the consumer quit.
func (r *ModelRegistry) streamOne(ctx context.Context, e ModelEntry, req domain.GenerationRequest, requested string, yield func(string, error) bool) (started, stopped bool, err error) {
	streamCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	var firstFragment *time.Timer
	if r.cfg.Timeout > 0 {
		firstFragment = time.AfterFunc(r.cfg.Timeout, func() { cancel(errNoFirstFragment) })
		defer firstFragment.Stop()
	}

	for fragment, fragErr := range e.Backend.GenerateStream(streamCtx, req.System, req.User) {
		if fragErr != nil {
			if ctx.Err() == nil && errors.Is(context.Cause(streamCtx), errNoFirstFragment) {
				fragErr = errNoFirstFragment
			}
			return started, false, fragErr
		}
		if !started {
			if firstFragment != nil && !firstFragment.Stop() {
				return false, false, errNoFirstFragment
			}
			if e.Name != requested {
				r.logger.Warn("model_fallback", "requested", requested, "served", e.Name, "stream", true)
				r.observer.ModelFallback(requested, e.Name)
			}
			started = true
		}
		if !yield(fragment, nil) {
			return started, true, nil
		}
	}
	return started, false, nil
}
