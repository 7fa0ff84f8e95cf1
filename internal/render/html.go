package render

import (
	"bytes"
	"html"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"go.abhg.dev/goldmark/mermaid"
)

// Converter turns assistant markdown into HTML.
type Converter struct {
	extensions []goldmark.Extender
	md         goldmark.Markdown
	sanitizer  *bluemonday.Policy
}

// ConverterOption configures the Converter.
type ConverterOption func(*Converter)

// WithHighlighting enables syntax highlighting with the specified style.
func WithHighlighting(style string) ConverterOption {
	return func(c *Converter) {
		c.extensions = append(c.extensions, highlighting.NewHighlighting(
			highlighting.WithStyle(style),
		))
	}
}

// WithMermaid renders ```mermaid fences as diagrams. The page that embeds
// the output is expected to load mermaid.js.
func WithMermaid() ConverterOption {
	return func(c *Converter) {
		c.extensions = append(c.extensions, &mermaid.Extender{NoScript: true})
	}
}

// WithSanitization enables HTML sanitization using the provided policy.
func WithSanitization(policy *bluemonday.Policy) ConverterOption {
	return func(c *Converter) {
		c.sanitizer = policy
	}
}

// NewConverter creates a new Converter with the given options.
func NewConverter(opts ...ConverterOption) *Converter {
	c := &Converter{extensions: []goldmark.Extender{extension.GFM}}
	for _, opt := range opts {
		opt(c)
	}

	c.md = goldmark.New(
		goldmark.WithExtensions(c.extensions...),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			gmhtml.WithHardWraps(),
			gmhtml.WithXHTML(),
		),
	)
	return c
}

// DefaultConverter returns a converter suitable for exported transcripts.
func DefaultConverter() *Converter {
	return NewConverter(
		WithHighlighting("monokai"),
		WithMermaid(),
		WithSanitization(CreateSanitizer()),
	)
}

// CreateSanitizer creates a bluemonday policy that allows safe HTML for
// rendered answers, including images and mermaid diagram blocks.
func CreateSanitizer() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()

	// Highlighting and mermaid classes.
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "pre", "span", "div")
	p.AllowDataAttributes()

	p.AllowAttrs("id").Matching(bluemonday.Paragraph).OnElements("h1", "h2", "h3", "h4", "h5", "h6")

	p.AllowImages()
	p.AllowAttrs("loading").Matching(bluemonday.SpaceSeparatedTokens).OnElements("img")

	return p
}

// Convert converts markdown text to HTML.
func (c *Converter) Convert(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := c.md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}

	result := buf.String()
	if c.sanitizer != nil {
		result = c.sanitizer.Sanitize(result)
	}
	return result, nil
}

// ConvertToSafeHTML converts markdown and falls back to escaped text on error.
func (c *Converter) ConvertToSafeHTML(markdown string) string {
	result, err := c.Convert(markdown)
	if err != nil {
		return "<pre>" + html.EscapeString(markdown) + "</pre>"
	}
	return result
}
