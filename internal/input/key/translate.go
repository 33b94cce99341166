package key

import "github.com/gdamore/tcell/v2"

// terminalKeys maps tcell special keys to neutral codes.
var terminalKeys = map[tcell.Key]Code{
	tcell.KeyBackspace:  CodeBackSpace,
	tcell.KeyBackspace2: CodeBackSpace,
	tcell.KeyTab:        CodeTab,
	tcell.KeyEnter:      CodeReturn,
	tcell.KeyEscape:     CodeEscape,
	tcell.KeyHome:       CodeHome,
	tcell.KeyLeft:       CodeLeft,
	tcell.KeyUp:         CodeUp,
	tcell.KeyRight:      CodeRight,
	tcell.KeyDown:       CodeDown,
	tcell.KeyPgUp:       CodePageUp,
	tcell.KeyPgDn:       CodePageDown,
	tcell.KeyEnd:        CodeEnd,
	tcell.KeyInsert:     CodeInsert,
	tcell.KeyDelete:     CodeDelete,
}

// FromTerminal translates a tcell key event into the engine's neutral
// encoding. It is a pure function with no state. The second return value
// is false when the key has no neutral representation and should be left
// to the host.
func FromTerminal(ev *tcell.EventKey) (Event, bool) {
	mods := translateTerminalMods(ev.Modifiers())

	if code, ok := terminalKeys[ev.Key()]; ok {
		return NewEvent(code, mods), true
	}

	// Control-letter keys arrive as dedicated tcell codes in the C0 range.
	if k := ev.Key(); k >= tcell.KeyCtrlA && k <= tcell.KeyCtrlZ {
		letter := Code('a' + rune(k) - rune(tcell.KeyCtrlA))
		return NewEvent(letter, mods.With(ModControl)), true
	}

	if ev.Key() == tcell.KeyRune {
		r := ev.Rune()
		if r == 0 {
			return Event{}, false
		}
		return NewEvent(Code(r), mods), true
	}

	return Event{}, false
}

// translateTerminalMods converts tcell modifier flags to neutral flags.
func translateTerminalMods(m tcell.ModMask) Modifier {
	var mods Modifier
	if m&tcell.ModShift != 0 {
		mods = mods.With(ModShift)
	}
	if m&tcell.ModCtrl != 0 {
		mods = mods.With(ModControl)
	}
	if m&tcell.ModAlt != 0 {
		mods = mods.With(ModAlt)
	}
	if m&tcell.ModMeta != 0 {
		mods = mods.With(ModSuper)
	}
	return mods
}
