// Package chord implements the chord-typing aggregation state machine.
// Near-simultaneous chord-eligible key presses are buffered and, after a
// quiescence interval with no further presses, replayed to the pipeline
// as one batch of synthetic releases.
package chord

import (
	"sync"
	"time"

	"github.com/dshills/keyflow/internal/input/key"
)

// DefaultDuration is the quiescence interval before a buffered chord is
// flushed. Profiles may override it.
const DefaultDuration = 100 * time.Millisecond

// DefaultCapacity is the key-rollover limit: the most keys one chord can
// hold. Further keys are silently ignored, never evicted.
const DefaultCapacity = 8

// Entry is one buffered key press.
type Entry struct {
	Code      key.Code
	Modifiers key.Modifier
}

// FlushFunc receives the buffered batch when the quiescence timer fires.
// It runs on the timer goroutine and must not block; implementations
// enqueue the batch to the pipeline.
type FlushFunc func(batch []Entry)

// Aggregator buffers chord-eligible key presses. It has its own lock,
// never held together with any pipeline lock, and never blocks.
type Aggregator struct {
	mu       sync.Mutex
	buf      []Entry
	capacity int
	duration time.Duration
	timer    *time.Timer
	gen      uint64
	flush    FlushFunc
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithCapacity sets the rollover capacity.
func WithCapacity(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.capacity = n
		}
	}
}

// WithDuration sets the quiescence interval.
func WithDuration(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.duration = d
		}
	}
}

// New creates an aggregator that calls flush when a chord settles.
func New(flush FlushFunc, opts ...Option) *Aggregator {
	a := &Aggregator{
		capacity: DefaultCapacity,
		duration: DefaultDuration,
		flush:    flush,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.buf = make([]Entry, 0, a.capacity)
	return a
}

// SetCapacity changes the rollover capacity. A shrink drops buffered
// keys beyond the new capacity.
func (a *Aggregator) SetCapacity(n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	a.capacity = n
	if len(a.buf) > n {
		a.buf = a.buf[:n]
	}
	a.mu.Unlock()
}

// SetDuration changes the quiescence interval for subsequent chords.
func (a *Aggregator) SetDuration(d time.Duration) {
	if d <= 0 {
		return
	}
	a.mu.Lock()
	a.duration = d
	a.mu.Unlock()
}

// Observe feeds a key event through the state machine. It returns true
// if the event was absorbed into the chord buffer. A non-chording press
// clears any pending chord without firing releases.
func (a *Aggregator) Observe(ev key.Event) bool {
	if ev.IsRelease() {
		// Only presses drive the state machine.
		return false
	}
	if ev.IsChordEligible() {
		a.add(ev.Code, ev.Modifiers)
		return true
	}

	// Chord capture is only meaningful while only chord-eligible keys
	// are active; anything else abandons the pending chord.
	a.Interrupt()
	return false
}

// add appends a key press, ignoring duplicates and presses beyond the
// rollover capacity, and re-arms the quiescence timer.
func (a *Aggregator) add(code key.Code, mods key.Modifier) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, e := range a.buf {
		if e.Code == code {
			a.armLocked()
			return
		}
	}
	if len(a.buf) >= a.capacity {
		a.armLocked()
		return
	}

	a.buf = append(a.buf, Entry{Code: code, Modifiers: mods})
	a.armLocked()
}

// Interrupt clears the buffer without firing releases.
func (a *Aggregator) Interrupt() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clearLocked()
}

// Len returns the number of buffered keys.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// armLocked (re)starts the quiescence timer for the current generation.
func (a *Aggregator) armLocked() {
	if a.timer != nil {
		a.timer.Stop()
	}
	gen := a.gen
	a.timer = time.AfterFunc(a.duration, func() {
		a.fire(gen)
	})
}

// fire flushes the buffer if the generation is still current. A stale
// generation means the chord was cleared or already flushed after this
// timer was armed.
func (a *Aggregator) fire(gen uint64) {
	a.mu.Lock()
	if gen != a.gen || len(a.buf) == 0 {
		a.mu.Unlock()
		return
	}
	batch := make([]Entry, len(a.buf))
	copy(batch, a.buf)
	a.clearLocked()
	flush := a.flush
	a.mu.Unlock()

	if flush != nil {
		flush(batch)
	}
}

// clearLocked empties the buffer and invalidates any armed timer.
func (a *Aggregator) clearLocked() {
	a.buf = a.buf[:0]
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
