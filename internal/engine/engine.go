// Package engine defines the boundary to the external composition engine.
// A Session is one opaque engine conversation per input context. Sessions
// are not internally thread-safe (Alive excepted); the pipeline serializes
// all access on its single worker.
package engine

import "errors"

// Engine errors.
var (
	// ErrNoSession indicates no session is attached.
	ErrNoSession = errors.New("engine: no session")

	// ErrSessionDead indicates the session is no longer usable and must
	// be recreated.
	ErrSessionDead = errors.New("engine: session dead")
)

// Session is one engine conversation. All calls block and must be
// serialized by the caller; only Alive may be called concurrently.
type Session interface {
	// ProcessKey feeds one key event to the engine. The returned bool
	// reports whether the engine handled the key; false means the host
	// should fall back to native handling.
	ProcessKey(code uint32, modifiers uint32) (bool, error)

	// SelectCandidate chooses the candidate at the given index on the
	// current page. Returns false if the index is invalid.
	SelectCandidate(index int) (bool, error)

	// ChangePage moves one candidate page up or down. Returns false if
	// there is no page in that direction.
	ChangePage(up bool) (bool, error)

	// SetCaret moves the composition caret to a byte offset in the
	// preedit.
	SetCaret(pos int) error

	// Commit extracts finalized text. Consume-once: a second call for
	// the same finalized composition returns ok=false.
	Commit() (text string, ok bool, err error)

	// Context returns a snapshot of the current composition, or nil when
	// there is no active composition.
	Context() (*Context, error)

	// Status returns engine status (active schema and mode flags), or
	// nil if unavailable.
	Status() (*Status, error)

	// Option reads a named boolean engine option.
	Option(name string) (bool, error)

	// SetOption writes a named boolean engine option.
	SetOption(name string, value bool) error

	// ClearComposition discards any in-progress composition without
	// committing it.
	ClearComposition() error

	// Alive reports whether the session is still usable. Safe to call
	// from any goroutine.
	Alive() bool

	// Close destroys the session.
	Close() error
}

// Factory creates engine sessions. The pipeline uses it to recreate a
// session detected as dead.
type Factory func() (Session, error)
