// Package pipeline serializes all access to the engine session. One
// background worker performs blocking engine calls; the UI-affine caller
// never blocks and never touches the session handle directly. Results of
// superseded requests are silently dropped, so UI publications are
// ordered by request freshness rather than completion order.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/keyflow/internal/commit"
	"github.com/dshills/keyflow/internal/compose"
	"github.com/dshills/keyflow/internal/engine"
	"github.com/dshills/keyflow/internal/input/key"
)

// Pipeline errors.
var (
	// ErrAlreadyRunning indicates Start was called twice.
	ErrAlreadyRunning = errors.New("pipeline: already running")

	// ErrNotRunning indicates the processor has not been started.
	ErrNotRunning = errors.New("pipeline: not running")
)

// Publisher receives state from the worker. Implementations are invoked
// on the worker goroutine and must hand the data to the UI-affine
// execution context without blocking; calls for one processor are never
// concurrent with each other.
type Publisher interface {
	// PublishView presents a fresh composition view.
	PublishView(v compose.View)

	// HideComposition clears any visible composition state.
	HideComposition()

	// KeyFallback reports a key the engine declined, so the host can
	// replay it through its native input path.
	KeyFallback(ev key.Event)
}

// Processor owns the engine session exclusively and executes one engine
// call at a time on its background worker. A second operation dispatched
// while one is in flight is dropped, not queued; the sequencer advance
// performed by the dropped dispatch supersedes the in-flight one.
type Processor struct {
	seq *Sequencer

	mu         sync.Mutex // guards processing, session, retired, ops send/close
	processing bool
	session    engine.Session
	sessionID  string
	retired    []engine.Session
	running    bool
	ops        chan op

	wg   sync.WaitGroup
	pub  Publisher
	sink *commit.Sink

	optionsFn func() compose.Options
	onDead    func()

	// Stats
	dispatched atomic.Uint64
	dropped    atomic.Uint64
	stale      atomic.Uint64
	published  atomic.Uint64
	commits    atomic.Uint64
	fallbacks  atomic.Uint64
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithOptions supplies the view-reconstruction options, read fresh on
// every publication so profile changes apply immediately.
func WithOptions(fn func() compose.Options) ProcessorOption {
	return func(p *Processor) {
		if fn != nil {
			p.optionsFn = fn
		}
	}
}

// WithDeadSessionHandler registers a callback invoked (on the worker)
// when an engine call fails with a dead session. The handler typically
// schedules session recreation; it must not call back into the processor
// synchronously with a blocking operation.
func WithDeadSessionHandler(fn func()) ProcessorOption {
	return func(p *Processor) {
		p.onDead = fn
	}
}

// NewProcessor creates a processor publishing to pub and committing
// through sink.
func NewProcessor(pub Publisher, sink *commit.Sink, opts ...ProcessorOption) *Processor {
	p := &Processor{
		seq:       &Sequencer{},
		pub:       pub,
		sink:      sink,
		optionsFn: func() compose.Options { return compose.Options{} },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AttachSession hands the processor a new session and returns the
// identity assigned to it. Any previous session is closed; the handle is
// not thread-safe, so if the worker is mid-call the close is deferred
// until the in-flight operation finishes. Safe to call while running;
// the swap takes effect for the next dispatched operation.
func (p *Processor) AttachSession(sess engine.Session) string {
	id := uuid.NewString()
	p.mu.Lock()
	old := p.session
	p.session = sess
	p.sessionID = id
	if old != nil && p.processing {
		p.retired = append(p.retired, old)
		old = nil
	}
	p.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return id
}

// SessionID returns the identity of the attached session, or "".
func (p *Processor) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// SessionAlive reports whether a live session is attached. This is the
// only session access permitted off the worker; Alive is the handle's
// internally thread-safe liveness check.
func (p *Processor) SessionAlive() bool {
	p.mu.Lock()
	sess := p.session
	p.mu.Unlock()
	return sess != nil && sess.Alive()
}

// Start launches the background worker.
func (p *Processor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}
	// Capacity one: the processing guard admits at most one outstanding
	// operation, so a send never blocks the UI thread.
	p.ops = make(chan op, 1)
	p.running = true
	p.wg.Add(1)
	go p.worker()
	return nil
}

// Stop shuts the worker down, waiting for any in-flight operation to
// finish or the context to expire.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.running = false
	close(p.ops)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ProcessKey dispatches a key event to the engine. The return value is
// the immediate verdict for the host: false means the host should handle
// the key natively right now (no session, or the processor is stopped).
// When the engine itself declines a dispatched key, the verdict arrives
// asynchronously through Publisher.KeyFallback.
func (p *Processor) ProcessKey(ev key.Event) bool {
	if !p.SessionAlive() {
		return false
	}
	if p.dispatch(op{kind: opKey, event: ev}) {
		return true
	}
	// Dropped-by-overlap still counts as accepted: the host re-issues
	// as needed rather than double-feeding its native path. A stopped
	// processor does not accept anything.
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	return running
}

// SelectCandidate dispatches a candidate selection.
func (p *Processor) SelectCandidate(index int) {
	p.dispatch(op{kind: opSelect, index: index})
}

// ChangePage dispatches a candidate page change.
func (p *Processor) ChangePage(up bool) {
	p.dispatch(op{kind: opPage, pageUp: up})
}

// SetCaret dispatches a caret move to a preedit byte offset.
func (p *Processor) SetCaret(pos int) {
	p.dispatch(op{kind: opCaret, caret: pos})
}

// ReleaseBatch dispatches one batch of synthetic release events, as
// produced by the chord aggregator's quiescence timer.
func (p *Processor) ReleaseBatch(events []key.Event) {
	if len(events) == 0 {
		return
	}
	p.dispatch(op{kind: opReleaseBatch, batch: events})
}

// Deactivate force-commits raw pending input and hides the composition.
// Used when the input context ends.
func (p *Processor) Deactivate() {
	p.dispatch(op{kind: opDeactivate})
}

// ApplyOptions dispatches a batch of engine option writes, as read from
// the profile at session or profile-change time.
func (p *Processor) ApplyOptions(options map[string]bool) {
	if len(options) == 0 {
		return
	}
	p.dispatch(op{kind: opOptions, options: options})
}

// CloseSession detaches and closes the current session, deferring the
// close past any in-flight operation like AttachSession does.
func (p *Processor) CloseSession() {
	p.mu.Lock()
	sess := p.session
	p.session = nil
	p.sessionID = ""
	if sess != nil && p.processing {
		p.retired = append(p.retired, sess)
		sess = nil
	}
	p.mu.Unlock()
	if sess != nil {
		_ = sess.Close()
	}
}

// dispatch assigns a request id and hands the operation to the worker.
// The id is taken before the overlap check: a dropped operation still
// supersedes whatever is in flight, which is what lets the freshness
// re-check discard the stale result.
func (p *Processor) dispatch(o op) bool {
	o.id = p.seq.Next()

	p.mu.Lock()
	if !p.running || p.session == nil {
		p.mu.Unlock()
		return false
	}
	if p.processing {
		p.mu.Unlock()
		p.dropped.Add(1)
		return false
	}
	p.processing = true
	p.ops <- o
	p.mu.Unlock()

	p.dispatched.Add(1)
	return true
}

// worker executes operations one at a time. Sessions retired while an
// operation was in flight are closed between operations.
func (p *Processor) worker() {
	defer p.wg.Done()
	for o := range p.ops {
		p.execute(o)
		p.mu.Lock()
		p.processing = false
		retired := p.retired
		p.retired = nil
		p.mu.Unlock()
		for _, sess := range retired {
			_ = sess.Close()
		}
	}
}

// execute performs the blocking engine call for one operation, then
// synchronizes state if the operation is still current. No lock is held
// across any engine call.
func (p *Processor) execute(o op) {
	p.mu.Lock()
	sess := p.session
	p.mu.Unlock()
	if sess == nil {
		return
	}

	handled, err := p.callEngine(sess, o)
	if err != nil {
		if errors.Is(err, engine.ErrSessionDead) && p.onDead != nil {
			p.onDead()
		}
		return
	}

	// First freshness check: a superseded operation must not consume
	// commit text or snapshot state.
	if !p.seq.IsCurrent(o.id) {
		p.stale.Add(1)
		return
	}

	// Commit text is consumed and delivered before any view publication.
	text, ok, err := sess.Commit()
	if err != nil {
		if errors.Is(err, engine.ErrSessionDead) && p.onDead != nil {
			p.onDead()
		}
		return
	}
	if ok {
		p.sink.Deliver(commit.Event{Text: text, BySpace: o.bySpace()})
		p.commits.Add(1)
	}

	if o.kind == opDeactivate {
		p.deactivate(sess)
		return
	}

	ctx, err := sess.Context()
	if err != nil {
		if errors.Is(err, engine.ErrSessionDead) && p.onDead != nil {
			p.onDead()
		}
		return
	}
	view := compose.Build(ctx, p.optionsFn())

	// Second freshness check, immediately before cross-thread
	// publication: a fresher request may have been issued while the
	// snapshot was being read.
	if !p.seq.IsCurrent(o.id) {
		p.stale.Add(1)
		return
	}

	if view.HasComposition() {
		p.pub.PublishView(view)
	} else {
		p.pub.HideComposition()
	}
	p.published.Add(1)

	if o.kind == opKey && !handled {
		p.fallbacks.Add(1)
		p.pub.KeyFallback(o.event)
	}
}

// callEngine performs the single engine call for the operation kind.
func (p *Processor) callEngine(sess engine.Session, o op) (handled bool, err error) {
	switch o.kind {
	case opKey:
		return sess.ProcessKey(uint32(o.event.Code), uint32(o.event.Modifiers))
	case opSelect:
		return sess.SelectCandidate(o.index)
	case opPage:
		return sess.ChangePage(o.pageUp)
	case opCaret:
		return true, sess.SetCaret(o.caret)
	case opReleaseBatch:
		// The batch replays buffered chord presses as synthetic
		// releases within this single worker turn.
		for _, ev := range o.batch {
			rel := ev
			rel.Modifiers = rel.Modifiers.With(key.ModRelease)
			if _, err := sess.ProcessKey(uint32(rel.Code), uint32(rel.Modifiers)); err != nil {
				return false, err
			}
		}
		return true, nil
	case opDeactivate:
		return true, nil
	case opOptions:
		for name, value := range o.options {
			if err := sess.SetOption(name, value); err != nil {
				return false, err
			}
		}
		return true, nil
	default:
		return false, nil
	}
}

// deactivate extracts any raw pending input as a forced commit, clears
// the composition and hides the panel. Runs on the worker with the
// operation already verified current.
func (p *Processor) deactivate(sess engine.Session) {
	if ctx, err := sess.Context(); err == nil && !ctx.Empty() && ctx.Preedit != "" {
		p.sink.Deliver(commit.Event{Text: ctx.Preedit})
		p.commits.Add(1)
	}
	_ = sess.ClearComposition()
	p.pub.HideComposition()
	p.published.Add(1)
}

// Stats is a snapshot of processor counters.
type Stats struct {
	// Dispatched is the number of operations handed to the worker.
	Dispatched uint64

	// Dropped is the number of operations discarded by the overlap
	// guard while another call was in flight.
	Dropped uint64

	// Stale is the number of completed operations whose results were
	// discarded because a fresher request had been issued.
	Stale uint64

	// Published is the number of UI publications (views and hides).
	Published uint64

	// Commits is the number of delivered commit events.
	Commits uint64

	// Fallbacks is the number of keys the engine declined.
	Fallbacks uint64
}

// Stats returns the current counters.
func (p *Processor) Stats() Stats {
	return Stats{
		Dispatched: p.dispatched.Load(),
		Dropped:    p.dropped.Load(),
		Stale:      p.stale.Load(),
		Published:  p.published.Load(),
		Commits:    p.commits.Load(),
		Fallbacks:  p.fallbacks.Load(),
	}
}

// Drain waits until no operation is in flight, or the timeout expires.
// Intended for tests and orderly deactivation.
func (p *Processor) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		idle := !p.processing
		p.mu.Unlock()
		if idle {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}
