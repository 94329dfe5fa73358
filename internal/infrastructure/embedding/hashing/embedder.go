package hashing

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/kirillkom/legal-rag/internal/core/domain"
)

const (
	defaultDimension = 384
	termK            = 1.2
	prefixLen        = 5
	prefixWeight     = 0.5
)

// Embedder is a deterministic feature-hashing embedder. It needs no model and is used for
// offline runs and tests; similar wording yields similar vectors, nothing more.
type Embedder struct {
	dimension int
}

func New(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = defaultDimension
	}
	return &Embedder{dimension: dimension}
}

func (e *Embedder) Dimension() int {
	return e.dimension
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, e.encode(text))
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "hashing.embed_query", errors.New("query is empty"))
	}
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) encode(text string) []float32 {
	tf := make(map[int]float64, 64)
	sign := make(map[int]float64, 64)
	for _, token := range Tokenize(text) {
		idx, s := e.bucket(token)
		tf[idx]++
		sign[idx] = s
		if r := []rune(token); len(r) > prefixLen {
			pidx, ps := e.bucket("#" + string(r[:prefixLen]))
			tf[pidx] += prefixWeight
			sign[pidx] = ps
		}
	}

	vec := make([]float32, e.dimension)
	if len(tf) == 0 {
		vec[0] = 1
		return vec
	}
	var sum float64
	for idx, freq := range tf {
		w := sign[idx] * (freq * (termK + 1)) / (freq + termK)
		vec[idx] += float32(w)
		sum += w * w
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func (e *Embedder) bucket(token string) (int, float64) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum32()
	s := 1.0
	if sum&0x80000000 != 0 {
		s = -1.0
	}
	return int(sum % uint32(e.dimension)), s
}

// Tokenize lowercases and splits on anything that is not a letter or digit, in any script.
func Tokenize(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 24)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
