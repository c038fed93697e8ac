// Package chunk packs multiple text fragments into a single prompt string
// and recovers them from the backend response. Fragments are framed with a
// reserved delimiter that, by convention, never appears in ordinary
// translated text.
package chunk

import (
	"errors"
	"strings"
)

// DefaultDelimiter is the reserved fragment separator. U+241E (symbol for
// record separator) is not produced by translation models in normal output.
const DefaultDelimiter = "␞"

// ErrEmptyInput is returned by Combine when no fragment contains any text.
var ErrEmptyInput = errors.New("chunk: no non-empty fragments to combine")

// ErrReconcile is returned by Reconcile when the backend produced fewer
// fragments than expected. Padding the missing slots would present
// untranslated fragments as empty translations, so the whole result is
// rejected instead.
var ErrReconcile = errors.New("chunk: response contains fewer fragments than expected")

// Codec joins and splits fragments around a single delimiter. Exactly one
// delimiter value is active per request; the same Codec must be used to
// build the prompt and to split the response.
type Codec struct {
	delimiter string
}

// New returns a Codec using the given delimiter, or DefaultDelimiter when
// empty.
func New(delimiter string) Codec {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	return Codec{delimiter: delimiter}
}

// Delimiter returns the active delimiter.
func (c Codec) Delimiter() string {
	return c.delimiter
}

// Combine joins the non-empty fragments with the delimiter. An empty input
// slice yields an empty string; an input with fragments but none of them
// non-empty yields ErrEmptyInput.
func (c Codec) Combine(fragments []string) (string, error) {
	if len(fragments) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if strings.TrimSpace(f) != "" {
			parts = append(parts, f)
		}
	}
	if len(parts) == 0 {
		return "", ErrEmptyInput
	}
	return strings.Join(parts, c.delimiter), nil
}

// Split trims the text and splits it on the delimiter, dropping empty
// segments. Empty or whitespace-only input yields an empty slice.
func (c Codec) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	raw := strings.Split(text, c.delimiter)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Reconcile corrects a split response against the expected fragment count.
//
// An exact match is returned as-is. When the backend produced extra
// delimiters, the surplus segments are assumed to belong to the final
// fragment and are space-joined into it; merged reports this so the caller
// can log a warning. Fewer segments than expected is ErrReconcile.
func (c Codec) Reconcile(expected int, fragments []string) (out []string, merged bool, err error) {
	if expected < 1 {
		return nil, false, nil
	}
	switch {
	case len(fragments) == expected:
		return fragments, false, nil
	case len(fragments) > expected:
		out = make([]string, expected)
		copy(out, fragments[:expected-1])
		out[expected-1] = strings.Join(fragments[expected-1:], " ")
		return out, true, nil
	default:
		return nil, false, ErrReconcile
	}
}
