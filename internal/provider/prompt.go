package provider

import (
	"fmt"
	"strings"
)

// BuildPrompt renders the translation prompt sent to a raw completion
// backend. When delimiter is non-empty the prompt instructs the model to
// echo every separator unchanged; the response is split on the same
// delimiter afterwards, so this instruction is a protocol invariant, not
// a style preference.
func BuildPrompt(text, source, target, delimiter string) string {
	var b strings.Builder

	if source != "" && source != "auto" {
		fmt.Fprintf(&b, "Translate the following text from %s to %s.\n", source, target)
	} else {
		fmt.Fprintf(&b, "Translate the following text to %s.\n", target)
	}
	b.WriteString("Output only the translation, with no explanations or commentary.\n")

	if delimiter != "" {
		fmt.Fprintf(&b, "The text consists of segments separated by %q. "+
			"Translate each segment and reproduce every separator exactly as it appears, "+
			"in the same positions, without adding or removing separators.\n", delimiter)
	}

	b.WriteString("\n")
	b.WriteString(text)
	return b.String()
}
