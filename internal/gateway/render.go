// ABOUTME: Markdown to HTML rendering for conversation history
// ABOUTME: Uses goldmark with GFM; raw HTML in messages is never passed through

package gateway

import (
	"bytes"
	"html"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// markdown renders agent replies, which are usually markdown. The default
// renderer omits raw HTML, so message content cannot inject markup.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// renderMarkdown converts content to HTML, falling back to escaped text.
func (g *Gateway) renderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		g.logger.Error("failed to convert markdown", "error", err)
		return "<p>" + html.EscapeString(content) + "</p>"
	}
	return buf.String()
}
