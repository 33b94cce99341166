package key

// Code is a key identifier in the engine's neutral encoding. Printable
// characters map to their Unicode value; function and modifier keys use
// the 0xffxx keysym block.
type Code uint32

// Special key codes.
const (
	CodeSpace     Code = 0x0020
	CodeBackSpace Code = 0xff08
	CodeTab       Code = 0xff09
	CodeReturn    Code = 0xff0d
	CodeEscape    Code = 0xff1b
	CodeHome      Code = 0xff50
	CodeLeft      Code = 0xff51
	CodeUp        Code = 0xff52
	CodeRight     Code = 0xff53
	CodeDown      Code = 0xff54
	CodePageUp    Code = 0xff55
	CodePageDown  Code = 0xff56
	CodeEnd       Code = 0xff57
	CodeInsert    Code = 0xff63
	CodeDelete    Code = 0xffff

	CodeShiftL   Code = 0xffe1
	CodeShiftR   Code = 0xffe2
	CodeControlL Code = 0xffe3
	CodeControlR Code = 0xffe4
	CodeCapsLock Code = 0xffe5
	CodeAltL     Code = 0xffe9
	CodeAltR     Code = 0xffea
	CodeSuperL   Code = 0xffeb
	CodeSuperR   Code = 0xffec

	// CodeVoid is reported for keys the translator cannot map.
	CodeVoid Code = 0xffffff
)

// IsPrintableASCII returns true if the code is a printable ASCII
// character (space through tilde).
func (c Code) IsPrintableASCII() bool {
	return c >= 0x20 && c <= 0x7e
}

// IsModifierKey returns true if the code is itself a modifier key
// (Shift, Control, Alt, Super or Caps Lock).
func (c Code) IsModifierKey() bool {
	return c >= CodeShiftL && c <= CodeCapsLock ||
		c >= CodeAltL && c <= CodeSuperR
}

// IsChordEligible returns true if the code may participate in a chord:
// printable ASCII or a bare modifier key.
func (c Code) IsChordEligible() bool {
	return c.IsPrintableASCII() || c.IsModifierKey()
}

// specialNames maps function key codes to display names.
var specialNames = map[Code]string{
	CodeSpace:     "Space",
	CodeBackSpace: "BackSpace",
	CodeTab:       "Tab",
	CodeReturn:    "Return",
	CodeEscape:    "Escape",
	CodeHome:      "Home",
	CodeLeft:      "Left",
	CodeUp:        "Up",
	CodeRight:     "Right",
	CodeDown:      "Down",
	CodePageUp:    "PageUp",
	CodePageDown:  "PageDown",
	CodeEnd:       "End",
	CodeInsert:    "Insert",
	CodeDelete:    "Delete",
	CodeShiftL:    "Shift_L",
	CodeShiftR:    "Shift_R",
	CodeControlL:  "Control_L",
	CodeControlR:  "Control_R",
	CodeCapsLock:  "CapsLock",
	CodeAltL:      "Alt_L",
	CodeAltR:      "Alt_R",
	CodeSuperL:    "Super_L",
	CodeSuperR:    "Super_R",
	CodeVoid:      "Void",
}

// String returns a display name for the code.
func (c Code) String() string {
	if name, ok := specialNames[c]; ok {
		return name
	}
	if c > 0x20 && c <= 0x7e {
		return string(rune(c))
	}
	return "Unknown"
}
