package render

import (
	"fmt"
	"html"
	"html/template"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/inercia/analyst/internal/conversation"
	"github.com/inercia/analyst/internal/fileutil"
)

// ExportFormat is the file format of an exported transcript.
type ExportFormat int

const (
	ExportHTML ExportFormat = iota
	ExportMarkdown
	ExportJSON
)

// ExportFormatFor picks the format from the file extension; HTML is the
// default.
func ExportFormatFor(path string) ExportFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return ExportMarkdown
	case ".json":
		return ExportJSON
	default:
		return ExportHTML
	}
}

// ExportOptions describes the transcript being exported.
type ExportOptions struct {
	Title     string
	SessionID string
	// Converter renders assistant markdown; DefaultConverter when nil.
	Converter *Converter
	// Now stamps the export; time.Now when zero.
	Now time.Time
}

func (o ExportOptions) withDefaults() ExportOptions {
	if o.Title == "" {
		o.Title = "Data Analysis Assistant"
	}
	if o.Converter == nil {
		o.Converter = DefaultConverter()
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	return o
}

// Export writes msgs to path in the format implied by its extension. The
// file is replaced atomically.
func Export(path string, msgs []conversation.Message, opts ExportOptions) error {
	opts = opts.withDefaults()

	switch ExportFormatFor(path) {
	case ExportJSON:
		return fileutil.WriteJSONAtomic(path, transcript{
			Title:      opts.Title,
			SessionID:  opts.SessionID,
			ExportedAt: opts.Now,
			Messages:   msgs,
		}, 0644)
	case ExportMarkdown:
		return fileutil.WriteAtomic(path, 0644, func(w io.Writer) error {
			return WriteMarkdown(w, msgs, opts)
		})
	default:
		return fileutil.WriteAtomic(path, 0644, func(w io.Writer) error {
			return WriteHTML(w, msgs, opts)
		})
	}
}

type transcript struct {
	Title      string                 `json:"title"`
	SessionID  string                 `json:"session_id,omitempty"`
	ExportedAt time.Time              `json:"exported_at"`
	Messages   []conversation.Message `json:"messages"`
}

// MessageMarkdown returns the markdown source of a message, with its image
// as a markdown image whose alt text is the file name.
func MessageMarkdown(m conversation.Message) string {
	if m.Image == nil {
		return m.Content
	}
	img := fmt.Sprintf("![%s](%s)", escapeAlt(m.Image.Filename), m.Image.URL)
	if m.Content == "" {
		return img
	}
	return m.Content + "\n\n" + img
}

func escapeAlt(s string) string {
	return strings.NewReplacer("[", `\[`, "]", `\]`).Replace(s)
}

// WriteMarkdown writes the transcript as markdown.
func WriteMarkdown(w io.Writer, msgs []conversation.Message, opts ExportOptions) error {
	opts = opts.withDefaults()

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", opts.Title)
	if opts.SessionID != "" {
		fmt.Fprintf(&b, "Session `%s`, exported %s\n\n", opts.SessionID, opts.Now.Format(time.RFC3339))
	}
	for _, m := range msgs {
		fmt.Fprintf(&b, "### %s · %s\n\n", RoleLabel(m), m.Timestamp.Format("15:04:05"))
		b.WriteString(MessageMarkdown(m))
		b.WriteString("\n\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

type htmlMessage struct {
	Role  string
	Label string
	Time  string
	Body  template.HTML
}

type htmlPage struct {
	Title      string
	SessionID  string
	ExportedAt string
	Messages   []htmlMessage
	Mermaid    bool
}

// WriteHTML writes the transcript as a standalone HTML page. Assistant
// messages are rendered from markdown and sanitized; everything else is
// escaped.
func WriteHTML(w io.Writer, msgs []conversation.Message, opts ExportOptions) error {
	opts = opts.withDefaults()

	page := htmlPage{
		Title:      opts.Title,
		SessionID:  opts.SessionID,
		ExportedAt: opts.Now.Format(time.RFC3339),
	}
	for _, m := range msgs {
		var body string
		if m.Role == conversation.RoleAssistant {
			body = opts.Converter.ConvertToSafeHTML(MessageMarkdown(m))
		} else {
			body = "<p>" + strings.ReplaceAll(html.EscapeString(m.Content), "\n", "<br/>") + "</p>"
		}
		if strings.Contains(body, `class="mermaid"`) {
			page.Mermaid = true
		}
		page.Messages = append(page.Messages, htmlMessage{
			Role:  string(m.Role),
			Label: RoleLabel(m),
			Time:  m.Timestamp.Format("15:04:05"),
			// Converter output is sanitized and other roles are escaped above.
			Body: template.HTML(body),
		})
	}

	return pageTemplate.Execute(w, page)
}

var pageTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; color: #1f2328; }
.msg { border-radius: 8px; padding: 0.5rem 1rem; margin: 0.75rem 0; }
.msg header { font-size: 0.8rem; color: #656d76; }
.user { background: #ddf4ff; }
.assistant { background: #f6f8fa; }
.system { color: #656d76; font-style: italic; }
.error { background: #ffebe9; color: #82071e; }
img { max-width: 100%; }
pre { overflow-x: auto; padding: 0.5rem; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{- if .SessionID}}
<p>Session <code>{{.SessionID}}</code>, exported {{.ExportedAt}}</p>
{{- end}}
{{range .Messages}}
<section class="msg {{.Role}}">
<header>{{.Label}} · {{.Time}}</header>
{{.Body}}
</section>
{{- end}}
{{- if .Mermaid}}
<script type="module">
import mermaid from "https://cdn.jsdelivr.net/npm/mermaid@11/dist/mermaid.esm.min.mjs";
mermaid.initialize({ startOnLoad: true });
</script>
{{- end}}
</body>
</html>
`))
