package segmenter

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/legal-rag/internal/core/domain"
)

type Config struct {
	MinParagraphChars int
	MaxUnits          int
}

type Segmenter struct {
	minParagraphChars int
	maxUnits          int
}

func New(cfg Config) *Segmenter {
	if cfg.MinParagraphChars <= 0 {
		cfg.MinParagraphChars = 40
	}
	if cfg.MaxUnits <= 0 {
		cfg.MaxUnits = 500
	}
	return &Segmenter{
		minParagraphChars: cfg.MinParagraphChars,
		maxUnits:          cfg.MaxUnits,
	}
}

type headingPattern struct {
	re      *regexp.Regexp
	keyword func(match []string) string
}

const numberPattern = `((?:[LRD]\.?\s*)?\d+[a-z]?(?:[-.]\d+)*(?:\s+(?:bis|ter|quater))?|[ivxlcdm]+|premier|1er)`

var headingPatterns = []headingPattern{
	{
		re:      regexp.MustCompile(`(?i)^(article\s+|art\.\s*)` + numberPattern + `\s*(?:[:.)\-–—]\s*(.*)|$)`),
		keyword: func([]string) string { return "Article" },
	},
	{
		re: regexp.MustCompile(`(?i)^(section\s+|sec\.\s*|§\s*)` + numberPattern + `\s*(?:[:.)\-–—]\s*(.*)|$)`),
		keyword: func(m []string) string {
			if strings.TrimSpace(m[1]) == "§" {
				return "§"
			}
			return "Section"
		},
	},
	{
		re:      regexp.MustCompile(`^(ال)?مادة\s*\(?\s*([0-9٠-٩]+)\s*\)?\s*[:.\-–—]?\s*(.*)$`),
		keyword: func([]string) string { return "المادة" },
	},
}

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)

// Segment splits raw document text into legal units. It never fails: text without recognizable
// headings falls back to paragraphs, and text without usable paragraphs becomes one unit.
func (s *Segmenter) Segment(rawText string) domain.Segmentation {
	text := strings.ReplaceAll(rawText, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	fullText := strings.TrimSpace(strings.ReplaceAll(text, "\f", "\n"))
	if fullText == "" {
		return domain.Segmentation{}
	}

	if units := s.structural(text); len(units) > 0 {
		return domain.Segmentation{Units: units, FullText: fullText, Structured: true}
	}

	units := s.paragraphs(text)
	if len(units) == 0 {
		units = []domain.Unit{{Label: "Document", Body: fullText, Page: 1}}
	}
	return domain.Segmentation{Units: units, FullText: fullText}
}

func (s *Segmenter) structural(text string) []domain.Unit {
	var (
		units    []domain.Unit
		current  *domain.Unit
		lines    []string
		preamble []string
		headings int
	)
	page := 1
	flush := func() {
		if current == nil {
			return
		}
		current.Body = strings.TrimSpace(strings.Join(lines, "\n"))
		if current.Body != "" {
			units = append(units, *current)
		}
		current = nil
		lines = nil
	}

	for _, raw := range strings.Split(text, "\n") {
		page += strings.Count(raw, "\f")
		line := strings.TrimSpace(strings.ReplaceAll(raw, "\f", ""))

		if label, number, ok := matchHeading(line); ok {
			flush()
			headings++
			current = &domain.Unit{Label: label, Number: number, Page: page}
			lines = []string{line}
			continue
		}
		if current == nil {
			preamble = append(preamble, line)
			continue
		}
		lines = append(lines, line)
	}
	flush()

	if headings == 0 {
		return nil
	}
	if body := strings.TrimSpace(strings.Join(preamble, "\n")); body != "" {
		units = append([]domain.Unit{{Label: "Preamble", Body: body, Page: 1}}, units...)
	}
	return units
}

func (s *Segmenter) paragraphs(text string) []domain.Unit {
	out := make([]domain.Unit, 0, 16)
	for pageIdx, pageText := range strings.Split(text, "\f") {
		for _, para := range paragraphBreak.Split(pageText, -1) {
			body := strings.TrimSpace(para)
			if utf8.RuneCountInString(body) < s.minParagraphChars {
				continue
			}
			out = append(out, domain.Unit{
				Label: fmt.Sprintf("Paragraph %d", len(out)+1),
				Body:  body,
				Page:  pageIdx + 1,
			})
			if len(out) >= s.maxUnits {
				return out
			}
		}
	}
	return out
}

func matchHeading(line string) (label, number string, ok bool) {
	if line == "" {
		return "", "", false
	}
	for _, p := range headingPatterns {
		m := p.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		number = normalizeNumber(m[2])
		if number == "" {
			continue
		}
		return p.keyword(m) + " " + number, number, true
	}
	return "", "", false
}

var arabicIndicDigits = strings.NewReplacer(
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
	"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
)

func normalizeNumber(raw string) string {
	n := strings.TrimSpace(arabicIndicDigits.Replace(raw))
	switch strings.ToLower(n) {
	case "premier", "1er":
		return "1"
	}
	if strings.Trim(strings.ToLower(n), "ivxlcdm") == "" {
		// Words spelled with numeral letters ("civil", "mild") are not numbers.
		if !romanNumeral.MatchString(n) {
			return ""
		}
		return strings.ToUpper(n)
	}
	return strings.Join(strings.Fields(n), " ")
}

var romanNumeral = regexp.MustCompile(`(?i)^m{0,4}(?:cm|cd|d?c{0,3})(?:xc|xl|l?x{0,3})(?:ix|iv|v?i{0,3})$`)
