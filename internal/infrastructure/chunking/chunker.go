package chunking

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/kirillkom/legal-rag/internal/core/domain"
)

const defaultMaxSize = 300

// Chunker sizes are measured in whitespace-separated words.
type Chunker struct {
	MaxSize int
	Overlap int
}

func NewChunker(maxSize, overlap int) *Chunker {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= maxSize {
		overlap = maxSize / 4
	}
	return &Chunker{
		MaxSize: maxSize,
		Overlap: overlap,
	}
}

// Chunk emits one full_unit chunk per unit that fits, and overlapping partial_unit windows
// for larger units. Indices are contiguous across all units.
func (c *Chunker) Chunk(units []domain.Unit) []domain.ChunkDraft {
	out := make([]domain.ChunkDraft, 0, len(units))
	for _, unit := range units {
		words := strings.Fields(unit.Body)
		if len(words) == 0 {
			continue
		}
		meta := domain.ChunkMetadata{
			Version:       domain.ChunkMetadataVersion,
			ArticleNumber: unit.Number,
			Page:          unit.Page,
			Section:       unit.Label,
		}

		if len(words) <= c.MaxSize {
			meta.ChunkType = domain.ChunkTypeFullUnit
			out = append(out, domain.ChunkDraft{
				Index:      len(out),
				Text:       strings.TrimSpace(unit.Body),
				Metadata:   meta,
				TokenCount: len(words),
			})
			continue
		}

		windows := c.windows(len(words))
		for part, w := range windows {
			partMeta := meta
			partMeta.ChunkType = domain.ChunkTypePartialUnit
			partMeta.PartIndex = part
			partMeta.PartCount = len(windows)
			// The part header is not counted against maxSize; TokenCount covers the window only.
			out = append(out, domain.ChunkDraft{
				Index:      len(out),
				Text:       partHeader(unit.Label, part, len(windows)) + strings.Join(words[w.start:w.end], " "),
				Metadata:   partMeta,
				TokenCount: w.end - w.start,
			})
		}
	}
	return out
}

// ChunkText applies the same window to text that has no recognizable units.
func (c *Chunker) ChunkText(text string) []domain.ChunkDraft {
	words, pages := splitWords(text)
	if len(words) == 0 {
		return nil
	}

	windows := c.windows(len(words))
	out := make([]domain.ChunkDraft, 0, len(windows))
	for part, w := range windows {
		body := strings.Join(words[w.start:w.end], " ")
		if part > 0 {
			body = continuationMarker + " " + body
		}
		out = append(out, domain.ChunkDraft{
			Index: part,
			Text:  body,
			Metadata: domain.ChunkMetadata{
				Version:   domain.ChunkMetadataVersion,
				Page:      pages[w.start],
				ChunkType: domain.ChunkTypeTextWindow,
				PartIndex: part,
				PartCount: len(windows),
			},
			TokenCount: w.end - w.start,
		})
	}
	return out
}

type window struct {
	start, end int
}

func (c *Chunker) windows(total int) []window {
	step := c.MaxSize - c.Overlap
	if step < 1 {
		step = 1
	}

	out := make([]window, 0, total/step+1)
	for start := 0; start < total; start += step {
		end := start + c.MaxSize
		if end > total {
			end = total
		}
		out = append(out, window{start: start, end: end})
		if end == total {
			break
		}
	}
	return out
}

const continuationMarker = "[continued]"

func partHeader(label string, part, total int) string {
	header := fmt.Sprintf("%s (part %d/%d)\n", label, part+1, total)
	if part > 0 {
		return continuationMarker + " " + header
	}
	return header
}

// splitWords mirrors strings.Fields and records the 1-based page of every word.
func splitWords(text string) ([]string, []int) {
	var (
		words []string
		pages []int
		b     strings.Builder
	)
	page := 1
	for _, r := range text {
		if unicode.IsSpace(r) {
			if b.Len() > 0 {
				words = append(words, b.String())
				pages = append(pages, page)
				b.Reset()
			}
			if r == '\f' {
				page++
			}
			continue
		}
		b.WriteRune(r)
	}
	if b.Len() > 0 {
		words = append(words, b.String())
		pages = append(pages, page)
	}
	return words, pages
}
