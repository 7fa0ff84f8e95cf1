// Package render turns conversation messages into terminal output and
// exported transcripts.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/inercia/analyst/internal/conversation"
	"github.com/inercia/analyst/internal/decode"
)

// DefaultWordWrap is the column markdown is wrapped at.
const DefaultWordWrap = 80

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))

	imageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("141"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// RoleLabel is the display name of the message author.
func RoleLabel(m conversation.Message) string {
	switch m.Role {
	case conversation.RoleUser:
		return "You"
	case conversation.RoleAssistant:
		if m.Kind == conversation.KindContinuation {
			return "Assistant (continued)"
		}
		return "Assistant"
	case conversation.RoleError:
		return "Error"
	default:
		return "System"
	}
}

// ImageLine is the textual form of an image reference.
func ImageLine(img *decode.Image) string {
	return fmt.Sprintf("[image: %s] %s", img.Filename, img.URL)
}

// TerminalOption configures a Terminal.
type TerminalOption func(*Terminal)

// WithStyled forces styled output on or off.
func WithStyled(styled bool) TerminalOption {
	return func(t *Terminal) {
		t.styled = styled
	}
}

// WithWordWrap sets the markdown wrap column.
func WithWordWrap(width int) TerminalOption {
	return func(t *Terminal) {
		t.wrap = width
	}
}

// Terminal prints conversation events. Styled output (colors and rendered
// markdown) is used only when writing to a terminal, so piped output stays
// plain.
type Terminal struct {
	out    io.Writer
	styled bool
	wrap   int
	md     *glamour.TermRenderer
}

// NewTerminal creates a Terminal writing to out.
func NewTerminal(out io.Writer, opts ...TerminalOption) *Terminal {
	t := &Terminal{
		out:    out,
		styled: IsTerminal(out),
		wrap:   DefaultWordWrap,
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.styled {
		md, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(t.wrap),
		)
		if err == nil {
			t.md = md
		}
	}
	return t
}

// Styled reports whether styled output is enabled.
func (t *Terminal) Styled() bool {
	return t.styled
}

func (t *Terminal) style(s lipgloss.Style, text string) string {
	if !t.styled {
		return text
	}
	return s.Render(text)
}

// markdown renders content, falling back to the raw text.
func (t *Terminal) markdown(content string) string {
	if t.md == nil {
		return content
	}
	rendered, err := t.md.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n")
}

// FormatMessage returns the printable form of m.
func (t *Terminal) FormatMessage(m conversation.Message) string {
	ts := m.Timestamp.Format("15:04:05")

	switch m.Role {
	case conversation.RoleUser:
		return fmt.Sprintf("%s %s\n%s", t.style(userStyle, RoleLabel(m)), t.style(mutedStyle, ts), m.Content)

	case conversation.RoleAssistant:
		var b strings.Builder
		fmt.Fprintf(&b, "%s %s", t.style(assistantStyle, RoleLabel(m)), t.style(mutedStyle, ts))
		if m.Content != "" {
			b.WriteString("\n")
			b.WriteString(t.markdown(m.Content))
		}
		if m.Image != nil {
			b.WriteString("\n")
			b.WriteString(t.style(imageStyle, ImageLine(m.Image)))
		}
		return b.String()

	case conversation.RoleError:
		return t.style(errorStyle, m.Content)

	default:
		return t.style(systemStyle, "* "+m.Content)
	}
}

// PrintMessage writes m followed by a blank line.
func (t *Terminal) PrintMessage(m conversation.Message) {
	fmt.Fprintf(t.out, "%s\n\n", t.FormatMessage(m))
}

// FormatThoughts returns the thought buffer as a dimmed block.
func (t *Terminal) FormatThoughts(text string) string {
	if text == "" {
		return t.style(mutedStyle, "(no thoughts)")
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return t.style(mutedStyle, "Thoughts:\n"+strings.Join(lines, "\n"))
}

// PrintThoughts writes the thought buffer.
func (t *Terminal) PrintThoughts(text string) {
	fmt.Fprintf(t.out, "%s\n\n", t.FormatThoughts(text))
}

// FormatPending returns the waiting indicator for elapsed time.
func (t *Terminal) FormatPending(elapsed time.Duration) string {
	return t.style(mutedStyle, fmt.Sprintf("Thinking... %ds", int(elapsed/time.Second)))
}

// PrintBanner writes a connection or error banner.
func (t *Terminal) PrintBanner(text string) {
	if text == "" {
		return
	}
	fmt.Fprintf(t.out, "%s\n", t.style(errorStyle, "! "+text))
}
