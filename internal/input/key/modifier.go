package key

import "strings"

// Modifier represents keyboard modifier state in the engine's neutral
// encoding. The values follow the X11 modifier mask layout that the
// composition engine expects on its wire.
type Modifier uint32

const (
	// ModNone indicates no modifiers.
	ModNone Modifier = 0

	// ModShift indicates the Shift key.
	ModShift Modifier = 1 << 0

	// ModLock indicates Caps Lock.
	ModLock Modifier = 1 << 1

	// ModControl indicates the Control key.
	ModControl Modifier = 1 << 2

	// ModAlt indicates the Alt key (Option on macOS).
	ModAlt Modifier = 1 << 3

	// ModSuper indicates the Super key (Cmd on macOS, Win on Windows).
	ModSuper Modifier = 1 << 26

	// ModRelease marks a key-up event. Synthetic releases replayed by the
	// chord aggregator OR this into the modifiers of the buffered press.
	ModRelease Modifier = 1 << 30
)

// Has returns true if m contains the specified modifier.
func (m Modifier) Has(mod Modifier) bool {
	return m&mod != 0
}

// HasShift returns true if Shift is pressed.
func (m Modifier) HasShift() bool {
	return m.Has(ModShift)
}

// HasControl returns true if Control is pressed.
func (m Modifier) HasControl() bool {
	return m.Has(ModControl)
}

// HasAlt returns true if Alt is pressed.
func (m Modifier) HasAlt() bool {
	return m.Has(ModAlt)
}

// HasSuper returns true if Super is pressed.
func (m Modifier) HasSuper() bool {
	return m.Has(ModSuper)
}

// IsRelease returns true if the release bit is set.
func (m Modifier) IsRelease() bool {
	return m.Has(ModRelease)
}

// With returns a new Modifier with the specified modifier added.
func (m Modifier) With(mod Modifier) Modifier {
	return m | mod
}

// Without returns a new Modifier with the specified modifier removed.
func (m Modifier) Without(mod Modifier) Modifier {
	return m &^ mod
}

// IsEmpty returns true if no modifiers are set.
func (m Modifier) IsEmpty() bool {
	return m == ModNone
}

// String returns a human-readable representation like "Control+Alt".
func (m Modifier) String() string {
	if m == ModNone {
		return ""
	}

	var parts []string
	if m.HasControl() {
		parts = append(parts, "Control")
	}
	if m.HasAlt() {
		parts = append(parts, "Alt")
	}
	if m.HasShift() {
		parts = append(parts, "Shift")
	}
	if m.HasSuper() {
		parts = append(parts, "Super")
	}
	if m.Has(ModLock) {
		parts = append(parts, "Lock")
	}
	if m.IsRelease() {
		parts = append(parts, "Release")
	}
	return strings.Join(parts, "+")
}
