// Package extract turns input documents into translation fragments. A
// fragment is one paragraph of plain text; document structure beyond
// paragraph boundaries is discarded.
package extract

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Fragments reads the file at path and extracts its paragraphs. The
// format is chosen by file extension: .pdf and .html/.htm get dedicated
// extractors, everything else is treated as plain text.
func Fragments(path string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return FromPDF(path)
	case ".html", ".htm":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		return FromHTML(f)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		return FromText(f)
	}
}

// FromText splits plain text into paragraphs on blank lines.
func FromText(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return splitParagraphs(string(data)), nil
}

// splitParagraphs splits on blank lines, trims each paragraph, and drops
// empty ones. Line breaks inside a paragraph collapse to spaces.
func splitParagraphs(text string) []string {
	var paragraphs []string
	for _, block := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		p := strings.Join(strings.Fields(block), " ")
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}
