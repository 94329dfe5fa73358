package xlsx

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/legal-rag/internal/core/domain"
)

// Parse flattens every sheet into tab-separated lines. Each sheet becomes one page.
func Parse(raw []byte) (domain.ExtractedText, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("xlsx: open: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	pages := make([]string, 0, len(sheets))
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return domain.ExtractedText{}, fmt.Errorf("xlsx: read sheet %q: %w", sheet, err)
		}
		var b strings.Builder
		b.WriteString(sheet)
		b.WriteString("\n")
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line == "" {
				continue
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
		pages = append(pages, strings.TrimSpace(b.String()))
	}
	return domain.ExtractedText{
		Text:      strings.Join(pages, "\f"),
		PageCount: len(pages),
	}, nil
}
