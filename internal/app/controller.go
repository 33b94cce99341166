// Package app wires the input-method front end together: profile
// configuration, chord aggregation, the engine pipeline and the commit
// sink. The Controller is the host-facing entry point; its methods run
// on the host's UI-affine execution context and never block.
package app

import (
	"context"
	"errors"
	"sync"

	"github.com/dshills/keyflow/internal/chord"
	"github.com/dshills/keyflow/internal/commit"
	"github.com/dshills/keyflow/internal/compose"
	"github.com/dshills/keyflow/internal/config"
	"github.com/dshills/keyflow/internal/engine"
	"github.com/dshills/keyflow/internal/input/key"
	"github.com/dshills/keyflow/internal/pipeline"
)

// ErrNoFactory indicates no engine factory was supplied.
var ErrNoFactory = errors.New("app: engine factory is required")

// Options configures a Controller.
type Options struct {
	// ProfilePath is the profile TOML file. Empty uses defaults.
	ProfilePath string

	// Factory creates engine sessions.
	Factory engine.Factory

	// Publisher receives composition views for the host UI.
	Publisher pipeline.Publisher

	// Inserter receives committed text.
	Inserter commit.TextInserter

	// Observer receives commit notifications. Optional.
	Observer commit.StatsObserver

	// Logger receives diagnostics. Nil disables logging.
	Logger *Logger

	// Watch reloads the profile file on change.
	Watch bool
}

// Controller coordinates one input context.
type Controller struct {
	mu      sync.RWMutex
	profile config.Profile

	logger     *Logger
	factory    engine.Factory
	processor  *pipeline.Processor
	aggregator *chord.Aggregator
	watcher    *config.Watcher

	schemaName string

	recreating sync.Mutex
}

// New creates and starts a controller. The first engine session is
// created eagerly; failure to create it is not fatal, every key simply
// reports not handled until a session can be established.
func New(opts Options) (*Controller, error) {
	if opts.Factory == nil {
		return nil, ErrNoFactory
	}
	logger := opts.Logger
	if logger == nil {
		logger = NullLogger
	}

	profile, err := config.Load(opts.ProfilePath)
	if err != nil {
		logger.Warn("profile load failed, using defaults: %v", err)
		profile = config.Default()
	}

	c := &Controller{
		profile: profile,
		logger:  logger,
		factory: opts.Factory,
	}

	sink := commit.NewSink(opts.Inserter, opts.Observer)
	c.processor = pipeline.NewProcessor(opts.Publisher, sink,
		pipeline.WithOptions(c.composeOptions),
		pipeline.WithDeadSessionHandler(c.onSessionDead),
	)
	c.aggregator = chord.New(c.flushChord,
		chord.WithDuration(profile.ChordDuration()),
		chord.WithCapacity(profile.RolloverCap),
	)

	if err := c.processor.Start(); err != nil {
		return nil, err
	}

	if err := c.createSession(); err != nil {
		logger.Warn("initial session creation failed: %v", err)
	}

	if opts.Watch && opts.ProfilePath != "" {
		w, err := config.NewWatcher(opts.ProfilePath, c.applyProfile)
		if err != nil {
			logger.Warn("profile watcher unavailable: %v", err)
		} else {
			c.watcher = w
		}
	}

	return c, nil
}

// HandleKey processes one key event from the host. The return value is
// the host verdict: false means the host should handle the key natively.
func (c *Controller) HandleKey(ev key.Event) bool {
	if !c.processor.SessionAlive() {
		// Session died since the last event; recreate and retry once.
		c.recreateSession()
		if !c.processor.SessionAlive() {
			return false
		}
	}

	if c.profileSnapshot().ChordEnabled {
		c.aggregator.Observe(ev)
	}

	return c.processor.ProcessKey(ev)
}

// SelectCandidate forwards a candidate click from the panel.
func (c *Controller) SelectCandidate(index int) {
	c.processor.SelectCandidate(index)
}

// ChangePage forwards a page flip from the panel.
func (c *Controller) ChangePage(up bool) {
	c.processor.ChangePage(up)
}

// SetCaret forwards a caret move to a preedit byte offset.
func (c *Controller) SetCaret(pos int) {
	c.processor.SetCaret(pos)
}

// Deactivate ends the input context: pending raw input is force
// committed and the composition hidden.
func (c *Controller) Deactivate() {
	c.aggregator.Interrupt()
	c.processor.Deactivate()
}

// SchemaName returns the display name of the active engine schema.
func (c *Controller) SchemaName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.schemaName
}

// Profile returns the active profile.
func (c *Controller) Profile() config.Profile {
	return c.profileSnapshot()
}

// Stats returns pipeline counters.
func (c *Controller) Stats() pipeline.Stats {
	return c.processor.Stats()
}

// Shutdown stops the watcher, pipeline and session.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.aggregator.Interrupt()
	if c.watcher != nil {
		_ = c.watcher.Close()
	}
	err := c.processor.Stop(ctx)
	c.processor.CloseSession()
	return err
}

// profileSnapshot returns the profile under the read lock.
func (c *Controller) profileSnapshot() config.Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profile
}

// composeOptions derives view options from the active profile. Read
// fresh by the pipeline on every publication.
func (c *Controller) composeOptions() compose.Options {
	p := c.profileSnapshot()
	return compose.Options{
		InlineCandidate: p.InlineCandidate,
		InlinePreedit:   p.InlinePreedit,
		Placeholder:     p.Placeholder,
	}
}

// applyProfile installs a reloaded profile.
func (c *Controller) applyProfile(p config.Profile) {
	c.mu.Lock()
	c.profile = p
	c.mu.Unlock()

	c.aggregator.SetDuration(p.ChordDuration())
	c.aggregator.SetCapacity(p.RolloverCap)
	c.processor.ApplyOptions(p.Options)
	c.logger.Info("profile reloaded")
}

// flushChord receives a settled chord from the aggregator's timer and
// enqueues one synthetic-release batch.
func (c *Controller) flushChord(batch []chord.Entry) {
	events := make([]key.Event, len(batch))
	for i, e := range batch {
		events[i] = key.NewRelease(e.Code, e.Modifiers)
	}
	c.processor.ReleaseBatch(events)
}

// createSession builds a session from the factory, applies profile
// options and attaches it. Options are applied before attachment, while
// the handle is still exclusively ours.
func (c *Controller) createSession() error {
	sess, err := c.factory()
	if err != nil {
		return err
	}

	profile := c.profileSnapshot()
	for name, value := range profile.Options {
		if err := sess.SetOption(name, value); err != nil {
			c.logger.Warn("option %q not applied: %v", name, err)
		}
	}

	schemaName := ""
	if status, err := sess.Status(); err == nil && status != nil {
		schemaName = status.SchemaName
	}

	id := c.processor.AttachSession(sess)

	c.mu.Lock()
	c.schemaName = schemaName
	c.mu.Unlock()

	c.logger.WithComponent("session").Info("session %s attached (schema %q)", id, schemaName)
	return nil
}

// recreateSession replaces a dead session. Serialized so concurrent
// dead-session reports cause a single recreation.
func (c *Controller) recreateSession() {
	c.recreating.Lock()
	defer c.recreating.Unlock()
	if c.processor.SessionAlive() {
		return
	}
	c.logger.WithComponent("session").Warn("session dead, recreating")
	if err := c.createSession(); err != nil {
		c.logger.WithComponent("session").Error("session recreation failed: %v", err)
	}
}

// onSessionDead runs on the pipeline worker when an engine call fails
// with a dead session. Recreation happens off the worker so the next
// operation is not blocked behind it.
func (c *Controller) onSessionDead() {
	go c.recreateSession()
}
