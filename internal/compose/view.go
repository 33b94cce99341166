// Package compose reconstructs renderable composition views from engine
// context snapshots. A View is built fresh on every successful state pull
// and never mutated in place; offsets in a View are rune offsets, unlike
// the byte offsets of an engine snapshot.
package compose

import (
	"unicode/utf8"

	"github.com/dshills/keyflow/internal/engine"
)

// Placeholder is rendered in place of an empty preedit. Some hosts echo
// individual keystrokes into the document when handed an empty marked
// string, so the view never carries one.
const Placeholder = " "

// Options controls view reconstruction.
type Options struct {
	// InlineCandidate renders the highlighted candidate's translation in
	// place of the raw preedit.
	InlineCandidate bool

	// InlinePreedit appends the untranslated preedit suffix after the
	// inline candidate text.
	InlinePreedit bool

	// Placeholder overrides the default placeholder character.
	Placeholder string
}

// View is a renderable snapshot of the composition state.
type View struct {
	// Preedit is the text to display as marked text.
	Preedit string

	// SelStart and SelLen describe the highlighted sub-range of Preedit,
	// in runes.
	SelStart int
	SelLen   int

	// Caret is the cursor position within Preedit, in runes.
	Caret int

	// Candidates, Comments and Labels are the candidate page contents.
	Candidates []string
	Comments   []string
	Labels     []string

	// Highlighted is the index of the highlighted candidate.
	Highlighted int

	// Page is the zero-based candidate page number.
	Page int

	// LastPage reports whether this is the final page.
	LastPage bool
}

// HasComposition reports whether the view carries an active composition.
// Derived fresh from each view; no cached state.
func (v View) HasComposition() bool {
	return v.Preedit != "" || len(v.Candidates) > 0
}

// Build converts an engine snapshot into a View. A nil or empty snapshot
// produces the zero View, which hides the panel.
func Build(ctx *engine.Context, opts Options) View {
	if ctx.Empty() {
		return View{}
	}

	v := View{
		Candidates:  ctx.Candidates,
		Comments:    ctx.Comments,
		Labels:      ctx.Labels,
		Highlighted: ctx.Highlighted,
		Page:        ctx.Page,
		LastPage:    ctx.LastPage,
	}

	preedit := ctx.Preedit
	startB := clampOffset(preedit, ctx.SelStart)
	endB := clampOffset(preedit, ctx.SelEnd)
	if endB < startB {
		endB = startB
	}
	caretB := clampOffset(preedit, ctx.Caret)

	if opts.InlineCandidate && ctx.Preview != "" {
		v.spliceInline(preedit, ctx.Preview, startB, endB, caretB, opts.InlinePreedit)
	} else {
		v.Preedit = preedit
		v.SelStart = utf8.RuneCountInString(preedit[:startB])
		v.SelLen = utf8.RuneCountInString(preedit[startB:endB])
		v.Caret = utf8.RuneCountInString(preedit[:caretB])
	}

	if v.Preedit == "" {
		placeholder := opts.Placeholder
		if placeholder == "" {
			placeholder = Placeholder
		}
		v.Preedit = placeholder
		v.SelStart = 0
		v.SelLen = 0
		v.Caret = 0
	}

	return v
}

// spliceInline replaces the translated segment with the commit-preview
// text. When inline preedit is enabled and the caret sits in the
// untranslated tail [end, len(preedit)), that tail is still raw input and
// is appended after the preview so it stays visible.
func (v *View) spliceInline(preedit, preview string, startB, endB, caretB int, inlinePreedit bool) {
	spliced := preview
	if inlinePreedit && caretB >= endB && caretB < len(preedit) {
		spliced += preedit[caretB:]
	}

	previewRunes := utf8.RuneCountInString(preview)
	splicedRunes := utf8.RuneCountInString(spliced)

	// A shorter preview cannot carry offsets from the longer original
	// segment; clamp the segment start to the spliced text.
	start := utf8.RuneCountInString(preedit[:startB])
	if start > splicedRunes {
		start = splicedRunes
	}

	caret := utf8.RuneCountInString(preedit[:caretB])
	if caret <= start {
		caret = start
	} else {
		caret = splicedRunes
	}

	selEnd := previewRunes
	if selEnd > splicedRunes {
		selEnd = splicedRunes
	}
	if selEnd < start {
		selEnd = start
	}

	v.Preedit = spliced
	v.SelStart = start
	v.SelLen = selEnd - start
	v.Caret = caret
}

// clampOffset clamps a byte offset to the string bounds and backs it up
// to the nearest rune boundary.
func clampOffset(s string, b int) int {
	if b < 0 {
		return 0
	}
	if b >= len(s) {
		return len(s)
	}
	for b > 0 && !utf8.RuneStart(s[b]) {
		b--
	}
	return b
}
