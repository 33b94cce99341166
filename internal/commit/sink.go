// Package commit delivers finalized composition text to the host and
// notifies the statistics observer. The pipeline's consume-once commit
// extraction guarantees exactly one Event per finalized composition; the
// sink itself is stateless.
package commit

// Event is one finalized composition.
type Event struct {
	// Text is the committed text.
	Text string

	// BySpace reports whether a space keystroke triggered the commit.
	BySpace bool
}

// TextInserter receives committed text on behalf of the host document.
type TextInserter interface {
	InsertText(text string)
}

// StatsObserver is notified of commits, fire-and-forget. Implementations
// must tolerate concurrent calls and must not block.
type StatsObserver interface {
	OnCommit(text string, bySpace bool)
}

// NopObserver ignores all commit notifications.
type NopObserver struct{}

// OnCommit implements StatsObserver.
func (NopObserver) OnCommit(string, bool) {}

// Sink delivers commit events: host insertion first, then the observer.
type Sink struct {
	inserter TextInserter
	observer StatsObserver
}

// NewSink creates a sink. A nil observer disables notifications.
func NewSink(inserter TextInserter, observer StatsObserver) *Sink {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Sink{inserter: inserter, observer: observer}
}

// Deliver inserts the text into the host, then notifies the observer on
// its own goroutine so a slow observer never stalls the pipeline.
func (s *Sink) Deliver(ev Event) {
	if ev.Text == "" {
		return
	}
	if s.inserter != nil {
		s.inserter.InsertText(ev.Text)
	}
	if _, nop := s.observer.(NopObserver); !nop {
		go s.observer.OnCommit(ev.Text, ev.BySpace)
	}
}
