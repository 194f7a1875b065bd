// Package ui renders CLI output: styled text, tables, diffs and
// machine-readable encodings.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/keepsake-dev/keepsake/internal/vcs"
)

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Printer writes styled output. Without a color terminal every style
// renders as plain text.
type Printer struct {
	out   io.Writer
	color bool

	title   lipgloss.Style
	hash    lipgloss.Style
	muted   lipgloss.Style
	added   lipgloss.Style
	removed lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
}

// NewPrinter creates a printer for out.
func NewPrinter(out io.Writer, noColor bool) *Printer {
	profile := termenv.Ascii
	if !noColor && IsTerminal(out) {
		profile = termenv.NewOutput(out).EnvColorProfile()
	}

	r := lipgloss.NewRenderer(out)
	r.SetColorProfile(profile)

	return &Printer{
		out:     out,
		color:   profile != termenv.Ascii,
		title:   r.NewStyle().Bold(true),
		hash:    r.NewStyle().Foreground(lipgloss.Color("3")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
		added:   r.NewStyle().Foreground(lipgloss.Color("2")),
		removed: r.NewStyle().Foreground(lipgloss.Color("1")),
		success: r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		warning: r.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		failure: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}
}

// Out returns the underlying writer.
func (p *Printer) Out() io.Writer { return p.out }

// Color reports whether output is styled.
func (p *Printer) Color() bool { return p.color }

func (p *Printer) Title(s string) string { return p.title.Render(s) }
func (p *Printer) Hash(s string) string  { return p.hash.Render(s) }
func (p *Printer) Muted(s string) string { return p.muted.Render(s) }

// Printf writes formatted output.
func (p *Printer) Printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

// Println writes a line.
func (p *Printer) Println(args ...any) {
	fmt.Fprintln(p.out, args...)
}

// Success writes a confirmation line.
func (p *Printer) Success(format string, args ...any) {
	p.status(p.success, "✓", "ok:", format, args...)
}

// Warn writes a warning line.
func (p *Printer) Warn(format string, args ...any) {
	p.status(p.warning, "!", "warning:", format, args...)
}

// Error writes an error line.
func (p *Printer) Error(format string, args ...any) {
	p.status(p.failure, "✗", "error:", format, args...)
}

func (p *Printer) status(style lipgloss.Style, glyph, word, format string, args ...any) {
	prefix := word
	if p.color {
		prefix = glyph
	}
	fmt.Fprintf(p.out, "%s %s\n", style.Render(prefix), fmt.Sprintf(format, args...))
}

// Table writes rows in aligned columns under a bold header.
func (p *Printer) Table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	line := func(cells []string, style *lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			if style != nil {
				cell = style.Render(cell)
			}
			if i < len(cells)-1 {
				cell += strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2)
			}
			parts[i] = cell
		}
		return strings.Join(parts, "")
	}

	fmt.Fprintln(p.out, line(headers, &p.title))
	for _, row := range rows {
		fmt.Fprintln(p.out, line(row, nil))
	}
}

// Diff writes a line diff with +/- markers.
func (p *Printer) Diff(lines []vcs.DiffLine) {
	for _, l := range lines {
		text := string(l.Op) + l.Content
		switch l.Op {
		case vcs.LineInsert:
			text = p.added.Render(text)
		case vcs.LineDelete:
			text = p.removed.Render(text)
		}
		fmt.Fprintln(p.out, text)
	}
}

// Stats renders line stats as "+a -r".
func (p *Printer) Stats(s vcs.LineStats) string {
	return p.added.Render(fmt.Sprintf("+%d", s.Added)) + " " + p.removed.Render(fmt.Sprintf("-%d", s.Removed))
}
