// ABOUTME: Converts Markdown operator notices to HTML for rich Matrix messages.
// ABOUTME: The Markdown source doubles as the plain-text body.

package operator

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
)

// RenderHTML converts Markdown to an HTML fragment.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return string(bytes.TrimSpace(buf.Bytes())), nil
}
