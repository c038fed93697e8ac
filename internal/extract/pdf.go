package extract

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// FromPDF extracts the plain text of a PDF file as paragraphs.
func FromPDF(path string) ([]string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	rc, err := reader.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extracting pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, fmt.Errorf("reading pdf text: %w", err)
	}
	return splitParagraphs(buf.String()), nil
}
