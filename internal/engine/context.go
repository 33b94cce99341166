package engine

// Context is a snapshot of the engine's composition state. All offsets
// are byte offsets into Preedit; they are not trusted and must be clamped
// by the consumer.
type Context struct {
	// Preedit is the raw composition text.
	Preedit string

	// SelStart and SelEnd delimit the segment currently being translated.
	SelStart int
	SelEnd   int

	// Caret is the cursor position within Preedit.
	Caret int

	// Preview is the commit-preview text for the highlighted candidate,
	// empty if the engine does not supply one.
	Preview string

	// Candidates holds the current page of candidate strings.
	Candidates []string

	// Comments holds per-candidate annotations, parallel to Candidates.
	Comments []string

	// Labels holds per-candidate selection labels, parallel to Candidates.
	Labels []string

	// Highlighted is the index of the highlighted candidate on this page.
	Highlighted int

	// Page is the current page number, zero-based.
	Page int

	// LastPage reports whether this is the final candidate page.
	LastPage bool
}

// Empty returns true if the snapshot carries no renderable composition.
func (c *Context) Empty() bool {
	return c == nil || (c.Preedit == "" && len(c.Candidates) == 0)
}

// Clone returns a deep copy of the snapshot.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	dup := *c
	dup.Candidates = append([]string(nil), c.Candidates...)
	dup.Comments = append([]string(nil), c.Comments...)
	dup.Labels = append([]string(nil), c.Labels...)
	return &dup
}

// Status describes the engine's current schema and mode flags.
type Status struct {
	// SchemaID identifies the active schema.
	SchemaID string

	// SchemaName is the display name of the active schema.
	SchemaName string

	// ASCIIMode reports whether the engine is passing keys through.
	ASCIIMode bool

	// Composing reports whether a composition is in progress.
	Composing bool
}

// Candidate pairs a candidate string with its annotation.
type Candidate struct {
	Text    string
	Comment string
}
