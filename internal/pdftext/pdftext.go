// Package pdftext extracts plain text from PDF documents.
package pdftext

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrInvalidDocument is returned when the content is not a readable PDF.
var ErrInvalidDocument = errors.New("invalid pdf document")

// Document is random-access PDF content of a known size.
type Document interface {
	io.ReaderAt
	Size() int64
}

// Extract returns the plain text of every page in doc.
func Extract(doc Document) (text string, err error) {
	// The pdf package panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: %v", ErrInvalidDocument, r)
		}
	}()

	if doc.Size() == 0 {
		return "", fmt.Errorf("%w: empty file", ErrInvalidDocument)
	}
	r, err := pdf.NewReader(doc, doc.Size())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: extract text: %v", ErrInvalidDocument, err)
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, reader); err != nil {
		return "", fmt.Errorf("read extracted text: %w", err)
	}
	return buf.String(), nil
}
