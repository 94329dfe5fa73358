package pdftext

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/legal-rag/internal/core/domain"
)

// Parse extracts the text layer page by page. Pages are joined with form feeds so page
// numbers survive segmentation.
func Parse(raw []byte) (text domain.ExtractedText, err error) {
	defer func() {
		// The parser panics on some malformed cross-reference tables.
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf: malformed document: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("pdf: open: %w", err)
	}

	total := reader.NumPage()
	pages := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return domain.ExtractedText{}, fmt.Errorf("pdf: page %d: %w", i, err)
		}
		pages = append(pages, strings.TrimSpace(content))
	}

	joined := strings.Join(pages, "\f")
	if strings.TrimSpace(strings.ReplaceAll(joined, "\f", "")) == "" {
		return domain.ExtractedText{PageCount: total}, nil
	}
	return domain.ExtractedText{Text: joined, PageCount: total}, nil
}
