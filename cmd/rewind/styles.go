package main

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

// Terminal palette.
var (
	colorAccent  = lipgloss.Color("#2CD7C7")
	colorMuted   = lipgloss.Color("#6C7A89")
	colorSuccess = lipgloss.Color("#2ECC71")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
)

// styles renders CLI output. Without a terminal every style is plain so
// piped output carries no escape sequences.
type styles struct {
	color bool

	title   lipgloss.Style
	muted   lipgloss.Style
	added   lipgloss.Style
	removed lipgloss.Style
	changed lipgloss.Style
	cell    lipgloss.Style
}

func newStyles(w io.Writer) styles {
	s := styles{
		title:   lipgloss.NewStyle(),
		muted:   lipgloss.NewStyle(),
		added:   lipgloss.NewStyle(),
		removed: lipgloss.NewStyle(),
		changed: lipgloss.NewStyle(),
		cell:    lipgloss.NewStyle().PaddingRight(2),
	}
	if f, ok := w.(*os.File); ok {
		s.color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	if !s.color {
		return s
	}
	s.title = s.title.Bold(true).Foreground(colorAccent)
	s.muted = s.muted.Foreground(colorMuted)
	s.added = s.added.Foreground(colorSuccess)
	s.removed = s.removed.Foreground(colorError)
	s.changed = s.changed.Foreground(colorWarning)
	return s
}

func (s styles) ok(msg string) string {
	return s.added.Render("✓") + " " + msg
}

func (s styles) warn(msg string) string {
	return s.changed.Render("!") + " " + msg
}

func (s styles) fail(msg string) string {
	return s.removed.Render("✗") + " " + msg
}

// table lays rows out in aligned columns under a header.
func (s styles) table(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderColumn(false).
		BorderHeader(false).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.title.PaddingRight(2)
			}
			return s.cell
		})
	return t.String()
}
