package pipeline

import "github.com/dshills/keyflow/internal/input/key"

// opKind enumerates the engine-call kinds the processor executes.
type opKind int

const (
	opKey opKind = iota
	opSelect
	opPage
	opCaret
	opReleaseBatch
	opDeactivate
	opOptions
)

func (k opKind) String() string {
	switch k {
	case opKey:
		return "key"
	case opSelect:
		return "select"
	case opPage:
		return "page"
	case opCaret:
		return "caret"
	case opReleaseBatch:
		return "release-batch"
	case opDeactivate:
		return "deactivate"
	case opOptions:
		return "options"
	default:
		return "unknown"
	}
}

// op is one operation descriptor plus the request id assigned at
// dispatch time.
type op struct {
	id   RequestID
	kind opKind

	// opKey
	event key.Event

	// opSelect
	index int

	// opPage
	pageUp bool

	// opCaret
	caret int

	// opReleaseBatch
	batch []key.Event

	// opOptions
	options map[string]bool
}

// bySpace reports whether this operation is a space key press, which
// marks any commit it produces as space-triggered.
func (o op) bySpace() bool {
	return o.kind == opKey &&
		o.event.Code == key.CodeSpace &&
		!o.event.IsRelease()
}
