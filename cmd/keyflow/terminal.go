package main

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/uniseg"

	"github.com/dshills/keyflow/internal/compose"
	"github.com/dshills/keyflow/internal/input/key"
)

// The pipeline worker publishes by posting events into the terminal
// event loop; all screen access happens on the loop goroutine.

// viewEvent carries a fresh composition view.
type viewEvent struct {
	tcell.EventTime
	view compose.View
}

// hideEvent clears the composition display.
type hideEvent struct {
	tcell.EventTime
}

// fallbackEvent carries a key the engine declined.
type fallbackEvent struct {
	tcell.EventTime
	ev key.Event
}

// insertEvent carries committed text for the document line.
type insertEvent struct {
	tcell.EventTime
	text string
}

// terminal is the tcell host: it renders the committed document line,
// the marked preedit and the candidate panel, and feeds key events to
// the controller.
type terminal struct {
	screen tcell.Screen

	committed strings.Builder
	view      compose.View
	showing   bool
	schema    string
	status    string
}

func newTerminal() (*terminal, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	if err := screen.Init(); err != nil {
		return nil, err
	}
	screen.SetStyle(tcell.StyleDefault)
	return &terminal{screen: screen}, nil
}

// PublishView implements the pipeline publisher off the UI loop.
func (t *terminal) PublishView(v compose.View) {
	e := &viewEvent{view: v}
	e.SetEventNow()
	_ = t.screen.PostEvent(e)
}

// HideComposition implements the pipeline publisher off the UI loop.
func (t *terminal) HideComposition() {
	e := &hideEvent{}
	e.SetEventNow()
	_ = t.screen.PostEvent(e)
}

// KeyFallback implements the pipeline publisher off the UI loop.
func (t *terminal) KeyFallback(ev key.Event) {
	e := &fallbackEvent{ev: ev}
	e.SetEventNow()
	_ = t.screen.PostEvent(e)
}

// InsertText implements the commit inserter off the UI loop.
func (t *terminal) InsertText(text string) {
	e := &insertEvent{text: text}
	e.SetEventNow()
	_ = t.screen.PostEvent(e)
}

// apply handles one posted event on the loop goroutine. It returns
// false for events the loop should handle itself.
func (t *terminal) apply(ev tcell.Event) bool {
	switch e := ev.(type) {
	case *viewEvent:
		t.view = e.view
		t.showing = true
	case *hideEvent:
		t.view = compose.View{}
		t.showing = false
	case *fallbackEvent:
		// The native path of this host: printable keys become document
		// text, everything else is dropped.
		if e.ev.Code.IsPrintableASCII() && !e.ev.IsRelease() {
			t.committed.WriteRune(rune(e.ev.Code))
		}
	case *insertEvent:
		t.committed.WriteString(e.text)
	default:
		return false
	}
	t.render()
	return true
}

func (t *terminal) setSchema(name string) {
	t.schema = name
}

func (t *terminal) setStatus(s string) {
	t.status = s
	t.render()
}

func (t *terminal) close() {
	t.screen.Fini()
}

func (t *terminal) render() {
	t.screen.Clear()

	header := "keyflow"
	if t.schema != "" {
		header += " - " + t.schema
	}
	t.drawText(0, 0, header, tcell.StyleDefault.Bold(true))

	doc := t.committed.String()
	x := t.drawText(0, 2, doc, tcell.StyleDefault)

	if t.showing {
		t.drawPreedit(x, 2)
		t.drawCandidates(0, 4)
	}

	if t.status != "" {
		_, h := t.screen.Size()
		t.drawText(0, h-1, t.status, tcell.StyleDefault.Dim(true))
	}

	t.screen.Show()
}

// drawPreedit renders the marked text after the document, underlined,
// with the selected segment reversed and the caret shown as a bar.
func (t *terminal) drawPreedit(x, y int) {
	marked := tcell.StyleDefault.Underline(true)
	selected := marked.Reverse(true)

	i := 0
	for _, r := range t.view.Preedit {
		if i == t.view.Caret {
			x = t.drawText(x, y, "|", tcell.StyleDefault.Dim(true))
		}
		style := marked
		if i >= t.view.SelStart && i < t.view.SelStart+t.view.SelLen {
			style = selected
		}
		x = t.drawText(x, y, string(r), style)
		i++
	}
	if i == t.view.Caret {
		t.drawText(x, y, "|", tcell.StyleDefault.Dim(true))
	}
}

// drawCandidates renders the candidate page vertically with labels and
// comments, highlighting the selected row.
func (t *terminal) drawCandidates(x, y int) {
	for i, cand := range t.view.Candidates {
		label := ""
		if i < len(t.view.Labels) {
			label = t.view.Labels[i]
		}
		comment := ""
		if i < len(t.view.Comments) && t.view.Comments[i] != "" {
			comment = "  " + t.view.Comments[i]
		}
		line := fmt.Sprintf("%s. %s%s", label, cand, comment)
		style := tcell.StyleDefault
		if i == t.view.Highlighted {
			style = style.Reverse(true)
		}
		t.drawText(x, y+i, line, style)
	}

	if len(t.view.Candidates) > 0 {
		pager := fmt.Sprintf("page %d", t.view.Page+1)
		if t.view.LastPage {
			pager += " (last)"
		}
		t.drawText(x, y+len(t.view.Candidates), pager, tcell.StyleDefault.Dim(true))
	}
}

// drawText draws a string at (x, y) and returns the x just past it,
// accounting for wide graphemes.
func (t *terminal) drawText(x, y int, s string, style tcell.Style) int {
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		runes := g.Runes()
		t.screen.SetContent(x, y, runes[0], runes[1:], style)
		x += g.Width()
	}
	return x
}
