package pdftext

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	*bytes.Reader
}

func newDoc(b []byte) doc { return doc{bytes.NewReader(b)} }

func TestExtractRejectsNonPDF(t *testing.T) {
	t.Parallel()

	for name, content := range map[string][]byte{
		"empty":     nil,
		"html":      []byte("<html><body>Not found</body></html>"),
		"truncated": []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog"),
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Extract(newDoc(content))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}
