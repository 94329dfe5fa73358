package plaintext

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/legal-rag/internal/core/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parse accepts UTF-8 text or Markdown. Form feeds are kept as page breaks.
func Parse(raw []byte) (domain.ExtractedText, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if !utf8.Valid(raw) {
		return domain.ExtractedText{}, fmt.Errorf("plaintext: content is not valid UTF-8")
	}

	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ExtractedText{}, nil
	}
	return domain.ExtractedText{
		Text:      text,
		PageCount: strings.Count(text, "\f") + 1,
	}, nil
}
