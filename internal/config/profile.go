// Package config loads and watches input profiles. A profile carries the
// chord-typing settings, view options and engine option flags applied at
// session or profile-change time.
package config

import "time"

// Profile is the per-user input profile.
type Profile struct {
	// ChordEnabled turns chord-typing aggregation on.
	ChordEnabled bool `toml:"chord_enabled"`

	// ChordDurationMs overrides the chord quiescence interval, in
	// milliseconds. Zero keeps the default.
	ChordDurationMs int `toml:"chord_duration_ms"`

	// RolloverCap bounds the chord buffer. Zero keeps the default.
	RolloverCap int `toml:"rollover_cap"`

	// InlineCandidate renders the highlighted candidate inline.
	InlineCandidate bool `toml:"inline_candidate"`

	// InlinePreedit keeps the untranslated preedit tail visible after
	// the inline candidate.
	InlinePreedit bool `toml:"inline_preedit"`

	// Placeholder overrides the empty-preedit placeholder character.
	Placeholder string `toml:"placeholder"`

	// Options holds engine option flags applied with SetOption when the
	// profile is (re)applied.
	Options map[string]bool `toml:"options"`
}

// Default returns the built-in profile.
func Default() Profile {
	return Profile{
		ChordEnabled:    false,
		ChordDurationMs: 100,
		RolloverCap:     8,
		InlineCandidate: true,
		InlinePreedit:   true,
	}
}

// ChordDuration returns the chord quiescence interval.
func (p Profile) ChordDuration() time.Duration {
	if p.ChordDurationMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(p.ChordDurationMs) * time.Millisecond
}

// normalize replaces out-of-range values with defaults.
func (p Profile) normalize() Profile {
	def := Default()
	if p.ChordDurationMs <= 0 {
		p.ChordDurationMs = def.ChordDurationMs
	}
	if p.RolloverCap <= 0 {
		p.RolloverCap = def.RolloverCap
	}
	return p
}
