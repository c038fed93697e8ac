package extract

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestFromText(t *testing.T) {
	input := "First paragraph\nspans two lines.\n\nSecond paragraph.\r\n\r\n\r\n\r\nThird.\n"

	got, err := FromText(strings.NewReader(input))
	if err != nil {
		t.Fatalf("FromText: %v", err)
	}
	want := []string{"First paragraph spans two lines.", "Second paragraph.", "Third."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("paragraphs = %q, want %q", got, want)
	}
}

func TestFromText_Empty(t *testing.T) {
	got, err := FromText(strings.NewReader("  \n\n \n"))
	if err != nil {
		t.Fatalf("FromText: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("paragraphs = %q, want none", got)
	}
}

func TestFromHTML(t *testing.T) {
	input := `<html><head>
		<title>ignored</title>
		<style>p { color: red }</style>
		<script>var x = "skip me";</script>
	</head><body>
		<h1>Heading</h1>
		<p>First <b>paragraph</b>
		with markup.</p>
		<div><p>Nested paragraph.</p></div>
		<ul><li>Item one</li><li>Item two</li></ul>
	</body></html>`

	got, err := FromHTML(strings.NewReader(input))
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}

	want := []string{"Heading", "First paragraph with markup.", "Nested paragraph.", "Item one", "Item two"}
	// The title lands in its own paragraph ahead of the body text.
	var filtered []string
	for _, p := range got {
		if p != "ignored" {
			filtered = append(filtered, p)
		}
	}
	if !reflect.DeepEqual(filtered, want) {
		t.Errorf("paragraphs = %q, want %q", filtered, want)
	}
}

func TestFragments_DispatchesByExtension(t *testing.T) {
	dir := t.TempDir()

	txt := filepath.Join(dir, "doc.txt")
	if err := os.WriteFile(txt, []byte("Hello.\n\nWorld."), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Fragments(txt)
	if err != nil {
		t.Fatalf("Fragments(txt): %v", err)
	}
	if len(got) != 2 || got[1] != "World." {
		t.Errorf("fragments = %q", got)
	}

	page := filepath.Join(dir, "page.html")
	if err := os.WriteFile(page, []byte("<p>One</p><p>Two</p>"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = Fragments(page)
	if err != nil {
		t.Fatalf("Fragments(html): %v", err)
	}
	if len(got) != 2 || got[0] != "One" {
		t.Errorf("fragments = %q", got)
	}
}

func TestFromPDF_MissingFile(t *testing.T) {
	if _, err := FromPDF(filepath.Join(t.TempDir(), "nope.pdf")); err == nil {
		t.Error("expected error for missing file")
	}
}
