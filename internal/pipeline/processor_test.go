package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/dshills/keyflow/internal/commit"
	"github.com/dshills/keyflow/internal/compose"
	"github.com/dshills/keyflow/internal/engine"
	"github.com/dshills/keyflow/internal/input/key"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSession is a scripted engine session. ProcessKey can be gated so
// tests control exactly when the blocking call returns.
type fakeSession struct {
	mu sync.Mutex

	alive   atomic.Bool
	handled bool
	err     error

	commitText string
	hasCommit  bool
	commitErr  error

	ctx *engine.Context

	entered chan struct{} // signaled at the start of each ProcessKey
	gate    chan struct{} // when non-nil, ProcessKey blocks on it

	keyCalls    atomic.Int64
	commitReads atomic.Int64
	cleared     atomic.Int64
	releases    []key.Event
}

func newFakeSession() *fakeSession {
	fs := &fakeSession{handled: true}
	fs.alive.Store(true)
	return fs
}

func (f *fakeSession) setCommit(text string) {
	f.mu.Lock()
	f.commitText = text
	f.hasCommit = true
	f.mu.Unlock()
}

func (f *fakeSession) setContext(ctx *engine.Context) {
	f.mu.Lock()
	f.ctx = ctx
	f.mu.Unlock()
}

func (f *fakeSession) ProcessKey(code uint32, modifiers uint32) (bool, error) {
	f.keyCalls.Add(1)
	if key.Modifier(modifiers).IsRelease() {
		f.mu.Lock()
		f.releases = append(f.releases, key.Event{Code: key.Code(code), Modifiers: key.Modifier(modifiers)})
		f.mu.Unlock()
	}
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handled, f.err
}

func (f *fakeSession) SelectCandidate(index int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return true, f.err
}

func (f *fakeSession) ChangePage(up bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return true, f.err
}

func (f *fakeSession) SetCaret(pos int) error { return nil }

func (f *fakeSession) Commit() (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return "", false, f.commitErr
	}
	if !f.hasCommit {
		return "", false, nil
	}
	f.commitReads.Add(1)
	f.hasCommit = false
	return f.commitText, true, nil
}

func (f *fakeSession) Context() (*engine.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctx.Clone(), nil
}

func (f *fakeSession) Status() (*engine.Status, error) { return &engine.Status{}, nil }

func (f *fakeSession) Option(name string) (bool, error) { return false, nil }

func (f *fakeSession) SetOption(name string, value bool) error { return nil }

func (f *fakeSession) ClearComposition() error {
	f.cleared.Add(1)
	f.setContext(nil)
	return nil
}

func (f *fakeSession) Alive() bool { return f.alive.Load() }

func (f *fakeSession) Close() error {
	f.alive.Store(false)
	return nil
}

// orderedLog records publication and commit ordering across components.
type orderedLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *orderedLog) add(entry string) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

func (l *orderedLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// recordingPublisher records views, hides and fallbacks.
type recordingPublisher struct {
	mu        sync.Mutex
	views     []compose.View
	hides     int
	fallbacks []key.Event
	log       *orderedLog
	signal    chan struct{}
	torn      []string
}

func newRecordingPublisher(log *orderedLog) *recordingPublisher {
	return &recordingPublisher{log: log, signal: make(chan struct{}, 64)}
}

func (r *recordingPublisher) PublishView(v compose.View) {
	r.mu.Lock()
	r.views = append(r.views, v)
	// Torn-state check: preedit and candidate must come from the same
	// engine pull.
	if len(v.Candidates) == 1 {
		wantSerial := strings.TrimPrefix(v.Preedit, "p")
		if v.Candidates[0] != "c"+wantSerial {
			r.torn = append(r.torn, fmt.Sprintf("preedit %q with candidate %q", v.Preedit, v.Candidates[0]))
		}
	}
	r.mu.Unlock()
	if r.log != nil {
		r.log.add("view:" + v.Preedit)
	}
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func (r *recordingPublisher) HideComposition() {
	r.mu.Lock()
	r.hides++
	r.mu.Unlock()
	if r.log != nil {
		r.log.add("hide")
	}
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func (r *recordingPublisher) KeyFallback(ev key.Event) {
	r.mu.Lock()
	r.fallbacks = append(r.fallbacks, ev)
	r.mu.Unlock()
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func (r *recordingPublisher) viewCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

func (r *recordingPublisher) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publication")
	}
}

// logInserter records commits into the shared ordered log.
type logInserter struct {
	log   *orderedLog
	count atomic.Int64
}

func (l *logInserter) InsertText(text string) {
	l.count.Add(1)
	if l.log != nil {
		l.log.add("commit:" + text)
	}
}

func newTestProcessor(t *testing.T, fs engine.Session, opts ...ProcessorOption) (*Processor, *recordingPublisher, *logInserter, *orderedLog) {
	t.Helper()
	log := &orderedLog{}
	pub := newRecordingPublisher(log)
	ins := &logInserter{log: log}
	p := NewProcessor(pub, commit.NewSink(ins, nil), opts...)
	p.AttachSession(fs)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return p, pub, ins, log
}

func keyEvent(r rune) key.Event {
	return key.NewEvent(key.Code(r), key.ModNone)
}

func TestProcessor_PublishesView(t *testing.T) {
	fs := newFakeSession()
	fs.setContext(&engine.Context{
		Preedit:    "ni",
		SelStart:   0,
		SelEnd:     2,
		Caret:      2,
		Candidates: []string{"你"},
	})
	p, pub, _, _ := newTestProcessor(t, fs)

	if !p.ProcessKey(keyEvent('n')) {
		t.Fatal("ProcessKey returned false with a live session")
	}
	pub.wait(t)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.views) != 1 {
		t.Fatalf("views = %d, want 1", len(pub.views))
	}
	if pub.views[0].Preedit != "ni" {
		t.Errorf("view preedit = %q, want %q", pub.views[0].Preedit, "ni")
	}
}

func TestProcessor_HidesWhenNoComposition(t *testing.T) {
	fs := newFakeSession() // nil context
	p, pub, _, _ := newTestProcessor(t, fs)

	p.ProcessKey(keyEvent('x'))
	pub.wait(t)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.hides != 1 {
		t.Errorf("hides = %d, want 1", pub.hides)
	}
	if len(pub.views) != 0 {
		t.Errorf("views = %d, want 0", len(pub.views))
	}
}

func TestProcessor_OverlapDropsSecondOperation(t *testing.T) {
	fs := newFakeSession()
	fs.entered = make(chan struct{}, 8)
	fs.gate = make(chan struct{})
	p, _, _, _ := newTestProcessor(t, fs)

	p.ProcessKey(keyEvent('a'))
	<-fs.entered // first call is now in flight

	if !p.ProcessKey(keyEvent('b')) {
		t.Error("dropped-by-overlap key should still report accepted")
	}

	stats := p.Stats()
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", stats.Dropped)
	}
	if stats.Dispatched != 1 {
		t.Errorf("Dispatched = %d, want 1", stats.Dispatched)
	}

	close(fs.gate)
	if !p.Drain(2 * time.Second) {
		t.Fatal("processor did not drain")
	}

	// The dropped dispatch advanced the sequencer, so the in-flight
	// operation completed stale: no publication.
	stats = p.Stats()
	if stats.Stale != 1 {
		t.Errorf("Stale = %d, want 1", stats.Stale)
	}
	if stats.Published != 0 {
		t.Errorf("Published = %d, want 0", stats.Published)
	}
	if fs.keyCalls.Load() != 1 {
		t.Errorf("engine key calls = %d, want 1 (second op never reached the engine)", fs.keyCalls.Load())
	}
}

func TestProcessor_LastWriterWinsByIssuance(t *testing.T) {
	fs := newFakeSession()
	fs.entered = make(chan struct{}, 8)
	fs.gate = make(chan struct{})
	fs.setContext(&engine.Context{Preedit: "stale"})
	p, pub, _, _ := newTestProcessor(t, fs)

	// Issue several dispatches before any completes.
	p.ProcessKey(keyEvent('a'))
	<-fs.entered
	for _, r := range "bcde" {
		p.ProcessKey(keyEvent(r))
	}

	close(fs.gate)
	if !p.Drain(2 * time.Second) {
		t.Fatal("processor did not drain")
	}
	if pub.viewCount() != 0 {
		t.Fatal("superseded operation published a view")
	}

	// A fresh dispatch holds the final id and publishes.
	fs.setContext(&engine.Context{Preedit: "fresh"})
	p.ProcessKey(keyEvent('f'))
	pub.wait(t)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.views) != 1 {
		t.Fatalf("views = %d, want exactly 1", len(pub.views))
	}
	if pub.views[0].Preedit != "fresh" {
		t.Errorf("published view = %q, want the latest request's data", pub.views[0].Preedit)
	}
}

func TestProcessor_CommitExactlyOnceAcrossOverlap(t *testing.T) {
	fs := newFakeSession()
	fs.entered = make(chan struct{}, 8)
	fs.gate = make(chan struct{})
	fs.setCommit("你好")
	p, pub, ins, _ := newTestProcessor(t, fs)

	// One in-flight operation, one dropped for the same logical
	// keystroke burst.
	p.ProcessKey(keyEvent('a'))
	<-fs.entered
	p.ProcessKey(keyEvent('b'))

	close(fs.gate)
	if !p.Drain(2 * time.Second) {
		t.Fatal("processor did not drain")
	}

	// The stale operation must not have consumed the commit.
	if n := fs.commitReads.Load(); n != 0 {
		t.Fatalf("stale operation consumed commit (%d reads)", n)
	}

	// The next successful operation consumes and delivers it, once.
	p.ProcessKey(keyEvent('c'))
	pub.wait(t)
	if !p.Drain(2 * time.Second) {
		t.Fatal("processor did not drain")
	}

	if n := fs.commitReads.Load(); n != 1 {
		t.Errorf("commit reads = %d, want 1 (consume-once)", n)
	}
	if n := ins.count.Load(); n != 1 {
		t.Errorf("delivered commits = %d, want exactly 1", n)
	}
}

func TestProcessor_CommitDeliveredBeforeView(t *testing.T) {
	fs := newFakeSession()
	fs.setCommit("好")
	fs.setContext(&engine.Context{Preedit: "zai"})
	p, pub, _, log := newTestProcessor(t, fs)

	p.ProcessKey(keyEvent('z'))
	pub.wait(t)

	entries := log.snapshot()
	if len(entries) != 2 {
		t.Fatalf("log = %v, want commit then view", entries)
	}
	if entries[0] != "commit:好" || entries[1] != "view:zai" {
		t.Errorf("order = %v, want commit before view", entries)
	}
}

func TestProcessor_KeyFallbackWhenEngineDeclines(t *testing.T) {
	fs := newFakeSession()
	fs.handled = false
	p, pub, _, _ := newTestProcessor(t, fs)

	ev := key.NewEvent(key.CodeReturn, key.ModNone)
	p.ProcessKey(ev)

	deadline := time.After(2 * time.Second)
	for {
		pub.mu.Lock()
		n := len(pub.fallbacks)
		pub.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("KeyFallback never invoked")
		case <-time.After(5 * time.Millisecond):
		}
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if !pub.fallbacks[0].Equals(ev) {
		t.Errorf("fallback event = %v, want %v", pub.fallbacks[0], ev)
	}
}

func TestProcessor_DeadSessionHandlerInvoked(t *testing.T) {
	fs := newFakeSession()
	fs.err = engine.ErrSessionDead
	deadCh := make(chan struct{}, 1)
	p, _, _, _ := newTestProcessor(t, fs, WithDeadSessionHandler(func() {
		select {
		case deadCh <- struct{}{}:
		default:
		}
	}))

	p.ProcessKey(keyEvent('a'))

	select {
	case <-deadCh:
	case <-time.After(2 * time.Second):
		t.Fatal("dead-session handler never invoked")
	}
}

func TestProcessor_DeadSessionHandlerInvokedOnCommitError(t *testing.T) {
	fs := newFakeSession()
	fs.commitErr = engine.ErrSessionDead
	deadCh := make(chan struct{}, 1)
	p, pub, _, _ := newTestProcessor(t, fs, WithDeadSessionHandler(func() {
		select {
		case deadCh <- struct{}{}:
		default:
		}
	}))

	// The engine call itself succeeds; the session dies at commit
	// extraction.
	p.ProcessKey(keyEvent('a'))

	select {
	case <-deadCh:
	case <-time.After(2 * time.Second):
		t.Fatal("dead-session handler never invoked for a commit error")
	}
	if !p.Drain(2 * time.Second) {
		t.Fatal("processor did not drain")
	}
	if n := pub.viewCount(); n != 0 {
		t.Errorf("views = %d, want 0 after a failed commit extraction", n)
	}
}

func TestProcessor_AttachDefersCloseUntilInFlightOpFinishes(t *testing.T) {
	old := newFakeSession()
	old.entered = make(chan struct{}, 8)
	old.gate = make(chan struct{})
	p, _, _, _ := newTestProcessor(t, old)

	p.ProcessKey(keyEvent('a'))
	<-old.entered // worker is now mid-call on the old session

	replacement := newFakeSession()
	p.AttachSession(replacement)

	// The handle is not thread-safe: it must survive until the worker's
	// in-flight call returns.
	if !old.Alive() {
		t.Fatal("previous session closed while the worker was mid-call on it")
	}

	close(old.gate)
	if !p.Drain(2 * time.Second) {
		t.Fatal("processor did not drain")
	}

	deadline := time.Now().Add(2 * time.Second)
	for old.Alive() {
		if time.Now().After(deadline) {
			t.Fatal("retired session never closed after the operation drained")
		}
		time.Sleep(time.Millisecond)
	}
	if !replacement.Alive() {
		t.Error("replacement session should remain open")
	}
}

func TestProcessor_AttachClosesIdlePreviousSessionImmediately(t *testing.T) {
	old := newFakeSession()
	p, _, _, _ := newTestProcessor(t, old)

	p.AttachSession(newFakeSession())
	if old.Alive() {
		t.Error("idle previous session should be closed on attach")
	}
}

func TestProcessor_NoSessionReportsNotHandled(t *testing.T) {
	fs := newFakeSession()
	p, _, _, _ := newTestProcessor(t, fs)

	fs.alive.Store(false)
	if p.ProcessKey(keyEvent('a')) {
		t.Error("ProcessKey with a dead session must report not handled")
	}
}

func TestProcessor_DeactivateCommitsRawInput(t *testing.T) {
	fs := newFakeSession()
	fs.setContext(&engine.Context{Preedit: "pending"})
	p, pub, ins, _ := newTestProcessor(t, fs)

	p.Deactivate()
	pub.wait(t)

	if n := ins.count.Load(); n != 1 {
		t.Fatalf("delivered commits = %d, want 1 (forced raw commit)", n)
	}
	if fs.cleared.Load() != 1 {
		t.Errorf("ClearComposition calls = %d, want 1", fs.cleared.Load())
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.hides != 1 {
		t.Errorf("hides = %d, want 1", pub.hides)
	}
}

func TestProcessor_ReleaseBatchSingleOperation(t *testing.T) {
	fs := newFakeSession()
	p, pub, _, _ := newTestProcessor(t, fs)

	batch := []key.Event{keyEvent('a'), keyEvent('s'), keyEvent('d')}
	p.ReleaseBatch(batch)
	pub.wait(t)

	if stats := p.Stats(); stats.Dispatched != 1 {
		t.Errorf("Dispatched = %d, want 1 (one batch, one operation)", stats.Dispatched)
	}
	if n := fs.keyCalls.Load(); n != 3 {
		t.Errorf("engine key calls = %d, want 3", n)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.releases) != 3 {
		t.Fatalf("release events = %d, want 3", len(fs.releases))
	}
	for i, rel := range fs.releases {
		if !rel.Modifiers.IsRelease() {
			t.Errorf("replayed event %d missing release flag", i)
		}
		if rel.Code != batch[i].Code {
			t.Errorf("replayed code %d = %v, want %v", i, rel.Code, batch[i].Code)
		}
	}
}

// serialSession produces a context whose preedit and candidate encode
// the same per-call serial, so a torn view is detectable.
type serialSession struct {
	fakeSession
	serial atomic.Int64
}

func (s *serialSession) ProcessKey(code uint32, modifiers uint32) (bool, error) {
	s.serial.Add(1)
	return true, nil
}

func (s *serialSession) SelectCandidate(index int) (bool, error) {
	s.serial.Add(1)
	return true, nil
}

func (s *serialSession) ChangePage(up bool) (bool, error) {
	s.serial.Add(1)
	return true, nil
}

func (s *serialSession) Context() (*engine.Context, error) {
	n := s.serial.Load()
	return &engine.Context{
		Preedit:    fmt.Sprintf("p%d", n),
		Candidates: []string{fmt.Sprintf("c%d", n)},
	}, nil
}

func TestProcessor_StressNoTornState(t *testing.T) {
	ss := &serialSession{}
	ss.alive.Store(true)
	p, pub, _, _ := newTestProcessor(t, ss)

	const ops = 1000
	for i := 0; i < ops; i++ {
		switch i % 3 {
		case 0:
			p.ProcessKey(keyEvent(rune('a' + i%26)))
		case 1:
			p.SelectCandidate(i % 5)
		case 2:
			p.ChangePage(i%2 == 0)
		}
	}
	if !p.Drain(5 * time.Second) {
		t.Fatal("processor did not drain")
	}

	stats := p.Stats()
	if stats.Dispatched+stats.Dropped != ops {
		t.Errorf("Dispatched(%d) + Dropped(%d) != %d", stats.Dispatched, stats.Dropped, ops)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.torn) != 0 {
		t.Fatalf("torn views published: %v", pub.torn)
	}
}
