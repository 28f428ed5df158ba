// Package linegen accumulates rendered recognizer output into a small set
// of visible caption lines.
package linegen

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
)

// Layout is the rendering configuration a generator is bound to. Serial
// changes whenever the surface's font or width changes.
type Layout struct {
	Serial   uint64
	MaxWidth int
}

// Generator holds a ring of finalized lines and the current line, which is
// made of a committed prefix plus the in-progress utterance. It is not safe
// for concurrent use; callers hold the text-state lock.
type Generator struct {
	lineCount    int
	maxLineChars int

	layout   Layout
	bound    bool
	language string

	history   []string
	committed string
	active    []string
}

// New returns a generator showing lineCount lines. maxLineChars > 0 moves
// the committed part of an over-long current line into history.
func New(lineCount, maxLineChars int) *Generator {
	if lineCount < 1 {
		lineCount = 1
	}
	return &Generator{lineCount: lineCount, maxLineChars: maxLineChars}
}

// Bind attaches the generator to a layout.
func (g *Generator) Bind(layout Layout) {
	g.layout = layout
	g.bound = true
}

// Invalidate drops the layout binding; the next update must rebind.
func (g *Generator) Invalidate() {
	g.bound = false
}

// NeedsRebind reports whether the binding is missing or stale.
func (g *Generator) NeedsRebind(serial uint64) bool {
	return !g.bound || g.layout.Serial != serial
}

// Layout returns the bound layout.
func (g *Generator) Layout() (Layout, bool) {
	return g.layout, g.bound
}

func (g *Generator) SetLanguage(lang string) { g.language = lang }
func (g *Generator) Language() string        { return g.language }

// Update replaces the in-progress utterance with a new revision.
func (g *Generator) Update(pieces []string) {
	g.active = append(g.active[:0], pieces...)
	if len(g.active) > 0 && g.committed != "" && !endsWithSpace(g.committed) && !startsWithSpace(g.active[0]) {
		g.active[0] = " " + g.active[0]
	}
	if g.maxLineChars > 0 && g.committed != "" &&
		runewidth.StringWidth(g.committed+strings.Join(g.active, "")) > g.maxLineChars {
		g.push(g.committed)
		g.committed = ""
	}
}

// Finalize commits the in-progress utterance to the current line without
// starting a new one.
func (g *Generator) Finalize() {
	g.committed += strings.Join(g.active, "")
	g.active = g.active[:0]
}

// Break ends the current line, rotating it into history. Breaking an empty
// line still rotates, which scrolls older lines out of view.
func (g *Generator) Break() {
	g.push(g.Current())
	g.committed = ""
	g.active = g.active[:0]
}

func (g *Generator) push(line string) {
	capacity := g.lineCount - 1
	if capacity == 0 {
		return
	}
	g.history = append(g.history, strings.TrimSpace(line))
	if over := len(g.history) - capacity; over > 0 {
		g.history = append(g.history[:0], g.history[over:]...)
	}
}

// Current returns the current line: committed text plus the live revision.
func (g *Generator) Current() string {
	return strings.TrimSpace(g.committed + strings.Join(g.active, ""))
}

// History returns the finalized lines, oldest first.
func (g *Generator) History() []string {
	return append([]string(nil), g.history...)
}

// VisibleHistory counts non-empty finalized lines.
func (g *Generator) VisibleHistory() int {
	n := 0
	for _, line := range g.history {
		if line != "" {
			n++
		}
	}
	return n
}

// Lines returns the rows to display, wrapped to the bound layout width and
// limited to the configured line count.
func (g *Generator) Lines() []string {
	width := 0
	if g.bound {
		width = g.layout.MaxWidth
	}
	var rows []string
	for _, line := range g.history {
		rows = append(rows, wrap(line, width)...)
	}
	rows = append(rows, wrap(g.Current(), width)...)
	if len(rows) > g.lineCount {
		rows = rows[len(rows)-g.lineCount:]
	}
	return rows
}

// PlainText joins the visible rows with newlines.
func (g *Generator) PlainText() string {
	return strings.Join(g.Lines(), "\n")
}

// wrap splits line into rows no wider than width display cells. A width of
// zero disables wrapping.
func wrap(line string, width int) []string {
	if width <= 0 || runewidth.StringWidth(line) <= width {
		return []string{line}
	}
	var rows []string
	var row strings.Builder
	rowWidth := 0
	for _, word := range strings.Fields(line) {
		w := runewidth.StringWidth(word)
		if rowWidth > 0 && rowWidth+1+w > width {
			rows = append(rows, row.String())
			row.Reset()
			rowWidth = 0
		}
		for w > width {
			head := runewidth.Truncate(word, width, "")
			if head == "" {
				_, size := utf8.DecodeRuneInString(word)
				head = word[:size]
			}
			rows = append(rows, head)
			word = word[len(head):]
			w = runewidth.StringWidth(word)
		}
		if rowWidth > 0 {
			row.WriteByte(' ')
			rowWidth++
		}
		row.WriteString(word)
		rowWidth += w
	}
	if row.Len() > 0 {
		rows = append(rows, row.String())
	}
	return rows
}

func startsWithSpace(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsSpace(r)
}

func endsWithSpace(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return unicode.IsSpace(r)
}
