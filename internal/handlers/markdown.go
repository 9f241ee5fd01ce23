package handlers

import (
	"bytes"
	"html/template"

	"github.com/yuin/goldmark"
)

// renderMarkdown converts a bot reply to HTML. Raw HTML inside the reply is not passed through, so the
// result is safe to embed. If conversion fails the escaped text is returned instead.
func renderMarkdown(md goldmark.Markdown, s string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(s), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(s))
	}
	return template.HTML(buf.String())
}
