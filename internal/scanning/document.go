package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gen2brain/go-fitz"
)

// ErrUnsupportedDocument is returned for documents without a text layer
var ErrUnsupportedDocument = errors.New("unsupported document type")

// DocumentReader pulls the text layer out of uploaded valuation documents
type DocumentReader struct{}

// NewDocumentReader creates a new DocumentReader
func NewDocumentReader() *DocumentReader {
	return &DocumentReader{}
}

// Text returns the document text. PDFs are read page by page; plain text is
// returned as is. Images are rejected since they would need OCR.
func (d *DocumentReader) Text(data []byte, contentType string) (string, error) {
	mimeType := normalizeMimeType(contentType)

	switch {
	case isPDF(data) || mimeType == "application/pdf":
		return pdfText(data)
	case strings.HasPrefix(mimeType, "text/") || mimeType == "application/json" || mimeType == "":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: text is not valid UTF-8", ErrUnsupportedDocument)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDocument, mimeType)
	}
}

func pdfText(pdfData []byte) (string, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// valuations run over several pages, totals are usually on the last one
	var text strings.Builder
	for i := 0; i < doc.NumPage(); i++ {
		page, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("reading PDF page %d: %w", i+1, err)
		}
		text.WriteString(page)
		text.WriteString("\n")
	}

	if strings.TrimSpace(text.String()) == "" {
		return "", fmt.Errorf("%w: PDF has no text layer", ErrUnsupportedDocument)
	}
	return text.String(), nil
}

// isPDF checks the PDF magic bytes
func isPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// normalizeMimeType lowercases and drops parameters such as charset
func normalizeMimeType(contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(mimeType, ";"); idx != -1 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	return mimeType
}
