// Package demo provides a small built-in Session for the terminal host
// and integration tests. It looks candidates up in a fixed romanization
// table; it is a stand-in collaborator, not a composition engine.
package demo

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dshills/keyflow/internal/engine"
	"github.com/dshills/keyflow/internal/input/key"
)

// PageSize is the number of candidates per page.
const PageSize = 5

// Entry is one lookup-table row.
type Entry struct {
	Input   string
	Text    string
	Comment string
}

// DefaultTable returns a small demonstration lookup table.
func DefaultTable() []Entry {
	return []Entry{
		{"ni", "你", "ni"},
		{"hao", "好", "hao"},
		{"nihao", "你好", "ni hao"},
		{"shu", "书", "shu"},
		{"ru", "入", "ru"},
		{"shuru", "输入", "shu ru"},
		{"fa", "法", "fa"},
		{"shurufa", "输入法", "shu ru fa"},
		{"xiang", "向", "xiang"},
		{"zuo", "左", "zuo"},
		{"xiangzuo", "向左", "xiang zuo"},
	}
}

// Session is a table-driven engine session.
type Session struct {
	mu sync.Mutex

	table []Entry

	input       string
	page        int
	highlighted int

	pendingCommit string
	hasCommit     bool

	options map[string]bool

	alive atomic.Bool
}

var _ engine.Session = (*Session)(nil)

// New creates a demo session over the given table. A nil table uses
// DefaultTable.
func New(table []Entry) *Session {
	if table == nil {
		table = DefaultTable()
	}
	s := &Session{
		table:   table,
		options: make(map[string]bool),
	}
	s.alive.Store(true)
	return s
}

// ProcessKey feeds one key to the session.
func (s *Session) ProcessKey(code uint32, modifiers uint32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.alive.Load() {
		return false, engine.ErrSessionDead
	}

	mods := key.Modifier(modifiers)
	if mods.IsRelease() || key.Code(code).IsModifierKey() {
		// Releases and bare modifiers are accepted but change nothing.
		return s.input != "", nil
	}
	if mods.HasControl() || mods.HasAlt() || mods.HasSuper() {
		return false, nil
	}

	switch c := key.Code(code); {
	case c >= 'a' && c <= 'z':
		s.input += string(rune(c))
		s.page = 0
		s.highlighted = 0
		return true, nil

	case c == key.CodeBackSpace:
		if s.input == "" {
			return false, nil
		}
		s.input = s.input[:len(s.input)-1]
		s.page = 0
		s.highlighted = 0
		return true, nil

	case c == key.CodeEscape:
		if s.input == "" {
			return false, nil
		}
		s.reset()
		return true, nil

	case c == key.CodeSpace:
		if s.input == "" {
			return false, nil
		}
		s.commitHighlighted()
		return true, nil

	case c == key.CodeReturn:
		if s.input == "" {
			return false, nil
		}
		// Return commits the raw input unconverted.
		s.setCommit(s.input)
		s.reset()
		return true, nil

	case c >= '1' && c <= '9':
		if s.input == "" {
			return false, nil
		}
		idx := int(c - '1')
		if s.selectLocked(idx) {
			return true, nil
		}
		return true, nil

	case c == key.CodePageUp:
		return s.pageLocked(true), s.aliveErr()

	case c == key.CodePageDown:
		return s.pageLocked(false), s.aliveErr()
	}

	return false, nil
}

// SelectCandidate chooses a candidate on the current page.
func (s *Session) SelectCandidate(index int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive.Load() {
		return false, engine.ErrSessionDead
	}
	return s.selectLocked(index), nil
}

// ChangePage moves one page up or down.
func (s *Session) ChangePage(up bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive.Load() {
		return false, engine.ErrSessionDead
	}
	return s.pageLocked(up), nil
}

// SetCaret is accepted but ignored; the demo table has no segmentation.
func (s *Session) SetCaret(pos int) error {
	return s.aliveErr()
}

// Commit extracts finalized text, consume-once.
func (s *Session) Commit() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive.Load() {
		return "", false, engine.ErrSessionDead
	}
	if !s.hasCommit {
		return "", false, nil
	}
	text := s.pendingCommit
	s.pendingCommit = ""
	s.hasCommit = false
	return text, true, nil
}

// Context returns the current composition snapshot.
func (s *Session) Context() (*engine.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive.Load() {
		return nil, engine.ErrSessionDead
	}
	if s.input == "" {
		return nil, nil
	}

	matches := s.matchesLocked()
	start := s.page * PageSize
	if start > len(matches) {
		start = len(matches)
	}
	end := start + PageSize
	if end > len(matches) {
		end = len(matches)
	}
	pageEntries := matches[start:end]

	ctx := &engine.Context{
		Preedit:     s.input,
		SelStart:    0,
		SelEnd:      len(s.input),
		Caret:       len(s.input),
		Highlighted: s.highlighted,
		Page:        s.page,
		LastPage:    end == len(matches),
	}
	for i, e := range pageEntries {
		ctx.Candidates = append(ctx.Candidates, e.Text)
		ctx.Comments = append(ctx.Comments, e.Comment)
		ctx.Labels = append(ctx.Labels, string(rune('1'+i)))
	}
	if s.highlighted < len(pageEntries) {
		ctx.Preview = pageEntries[s.highlighted].Text
	}
	return ctx, nil
}

// Status returns the demo schema status.
func (s *Session) Status() (*engine.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive.Load() {
		return nil, engine.ErrSessionDead
	}
	return &engine.Status{
		SchemaID:   "demo_table",
		SchemaName: "Demo Table",
		Composing:  s.input != "",
	}, nil
}

// Option reads a boolean option.
func (s *Session) Option(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive.Load() {
		return false, engine.ErrSessionDead
	}
	return s.options[name], nil
}

// SetOption writes a boolean option.
func (s *Session) SetOption(name string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive.Load() {
		return engine.ErrSessionDead
	}
	s.options[name] = value
	return nil
}

// ClearComposition discards any in-progress composition.
func (s *Session) ClearComposition() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive.Load() {
		return engine.ErrSessionDead
	}
	s.reset()
	return nil
}

// Alive reports whether the session is usable.
func (s *Session) Alive() bool {
	return s.alive.Load()
}

// Close destroys the session.
func (s *Session) Close() error {
	s.alive.Store(false)
	return nil
}

// Kill marks the session dead without cleanup, for tests exercising
// dead-session recovery.
func (s *Session) Kill() {
	s.alive.Store(false)
}

func (s *Session) aliveErr() error {
	if !s.alive.Load() {
		return engine.ErrSessionDead
	}
	return nil
}

func (s *Session) reset() {
	s.input = ""
	s.page = 0
	s.highlighted = 0
}

func (s *Session) setCommit(text string) {
	s.pendingCommit = text
	s.hasCommit = true
}

func (s *Session) commitHighlighted() {
	matches := s.matchesLocked()
	idx := s.page*PageSize + s.highlighted
	if idx < len(matches) {
		s.setCommit(matches[idx].Text)
	} else {
		s.setCommit(s.input)
	}
	s.reset()
}

func (s *Session) selectLocked(index int) bool {
	matches := s.matchesLocked()
	idx := s.page*PageSize + index
	if index < 0 || idx >= len(matches) {
		return false
	}
	s.setCommit(matches[idx].Text)
	s.reset()
	return true
}

func (s *Session) pageLocked(up bool) bool {
	matches := s.matchesLocked()
	if up {
		if s.page == 0 {
			return false
		}
		s.page--
		s.highlighted = 0
		return true
	}
	if (s.page+1)*PageSize >= len(matches) {
		return false
	}
	s.page++
	s.highlighted = 0
	return true
}

// matchesLocked returns table entries whose input starts with the
// composed string, exact matches first.
func (s *Session) matchesLocked() []Entry {
	var out []Entry
	for _, e := range s.table {
		if strings.HasPrefix(e.Input, s.input) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].Input) < len(out[j].Input)
	})
	return out
}
