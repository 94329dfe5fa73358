package extractor

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/kirillkom/legal-rag/internal/core/domain"
	"github.com/kirillkom/legal-rag/internal/core/ports"
	"github.com/kirillkom/legal-rag/internal/infrastructure/extractor/htmltext"
	"github.com/kirillkom/legal-rag/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/legal-rag/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/legal-rag/internal/infrastructure/extractor/xlsx"
)

const maxDocumentBytes = 64 << 20

type parseFunc func(raw []byte) (domain.ExtractedText, error)

// Extractor reads a stored document and picks a parser by MIME type, then by file extension.
type Extractor struct {
	storage ports.ObjectStorage
}

func New(storage ports.ObjectStorage) *Extractor {
	return &Extractor{storage: storage}
}

func (e *Extractor) Extract(ctx context.Context, doc *domain.Document) (domain.ExtractedText, error) {
	parse, format := parserFor(doc.MimeType, doc.SourcePath)
	if parse == nil {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "extract",
			fmt.Errorf("unsupported document format %q (%s)", doc.MimeType, filepath.Ext(doc.SourcePath)))
	}

	reader, err := e.storage.Open(ctx, doc.StorageKey)
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, maxDocumentBytes+1))
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("read source document: %w", err)
	}
	if len(raw) > maxDocumentBytes {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "extract",
			fmt.Errorf("document exceeds %d bytes", maxDocumentBytes))
	}

	out, err := parse(raw)
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("extract %s: %w", format, err)
	}
	return out, nil
}

// Supported reports whether a MIME type or file name can be extracted.
func Supported(mimeType, name string) bool {
	parse, _ := parserFor(mimeType, name)
	return parse != nil
}

func parserFor(mimeType, name string) (parseFunc, string) {
	mt := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	switch mt {
	case "application/pdf":
		return pdftext.Parse, "pdf"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return xlsx.Parse, "xlsx"
	case "text/html", "application/xhtml+xml":
		return htmltext.Parse, "html"
	case "text/plain", "text/markdown", "text/x-markdown":
		return plaintext.Parse, "text"
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return pdftext.Parse, "pdf"
	case ".xlsx":
		return xlsx.Parse, "xlsx"
	case ".html", ".htm":
		return htmltext.Parse, "html"
	case ".txt", ".md", ".markdown", "":
		return plaintext.Parse, "text"
	}
	return nil, ""
}
