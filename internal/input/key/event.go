package key

import (
	"fmt"
	"time"
)

// Event represents a single key event in the engine's neutral encoding.
// Events are immutable: created once per host callback and consumed
// immediately by the pipeline.
type Event struct {
	// Code identifies the key.
	Code Code

	// Modifiers contains the active modifier state.
	Modifiers Modifier

	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// NewEvent creates a key event with the current timestamp.
func NewEvent(code Code, mods Modifier) Event {
	return Event{
		Code:      code,
		Modifiers: mods,
		Timestamp: time.Now(),
	}
}

// NewRelease creates a synthetic key-up event for the given press.
func NewRelease(code Code, mods Modifier) Event {
	return Event{
		Code:      code,
		Modifiers: mods.With(ModRelease),
		Timestamp: time.Now(),
	}
}

// IsRelease returns true if this is a key-up event.
func (e Event) IsRelease() bool {
	return e.Modifiers.IsRelease()
}

// IsChordEligible returns true if this event may participate in a chord:
// a press of a printable ASCII key or a bare modifier key.
func (e Event) IsChordEligible() bool {
	return !e.IsRelease() && e.Code.IsChordEligible()
}

// Equals returns true if two events represent the same key state.
// Timestamps are not compared.
func (e Event) Equals(other Event) bool {
	return e.Code == other.Code && e.Modifiers == other.Modifiers
}

// String returns a canonical representation like "Control+a" or "Return".
func (e Event) String() string {
	mods := e.Modifiers.Without(ModRelease)
	name := e.Code.String()
	if mods != ModNone {
		name = mods.String() + "+" + name
	}
	if e.IsRelease() {
		return name + " (up)"
	}
	return name
}

// GoString implements fmt.GoStringer for debugging.
func (e Event) GoString() string {
	return fmt.Sprintf("Event{Code: %#x, Modifiers: %#x}", uint32(e.Code), uint32(e.Modifiers))
}
