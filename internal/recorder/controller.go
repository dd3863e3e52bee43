package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/sdrecord/internal/audio"
	"github.com/audiolibrelab/sdrecord/internal/pipeline"
)

// State represents the current state of the recorder
type State string

const (
	StateIdle      State = "IDLE"
	StateRecording State = "RECORDING"
	StateBusy      State = "BUSY"
	StateError     State = "ERROR"
)

var (
	ErrAlreadyActive = errors.New("a recording is already active")
	ErrNotActive     = errors.New("no recording is active")
	ErrStopped       = errors.New("recorder is not running")
	ErrNotFinalized  = errors.New("recording was not finalized")
)

// Session contains information about a recording session
type Session struct {
	ID          string           `json:"id"`
	OutputPath  string           `json:"output_path"`
	StartedAt   time.Time        `json:"started_at"`
	Elapsed     time.Duration    `json:"elapsed"`
	MaxDuration time.Duration    `json:"max_duration"`
	Info        audio.StreamInfo `json:"info"`
	Bytes       int64            `json:"bytes"`
}

type Options struct {
	MaxDuration  time.Duration
	TickInterval time.Duration
	DrainTimeout time.Duration
	CommandQueue int
	// DefaultPath names the output file of recordings started by Toggle
	DefaultPath func() (string, error)
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdToggle
)

type command struct {
	kind  commandKind
	path  string
	seen  State
	reply chan result
}

type result struct {
	session *Session
	err     error
}

// active is the session owned by the loop goroutine.
type active struct {
	pipeline  Pipeline
	session   *Session
	ticker    *time.Ticker
	finishing bool
	finishAt  time.Time
}

// Controller runs recording sessions one at a time. All transitions happen
// on the goroutine executing Run; the other methods only enqueue commands or
// read atomically published state.
type Controller struct {
	opts    Options
	builder Builder

	commands chan command
	done     chan struct{}
	started  atomic.Bool

	state   atomic.Value
	elapsed atomic.Int64
	session atomic.Pointer[Session]
	current *active
	graph   atomic.Pointer[graphRef]

	onChange func(State, *Session)

	errMutex sync.Mutex
	lastErr  error
}

func New(opts Options, builder Builder) *Controller {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 5 * time.Second
	}
	if opts.CommandQueue <= 0 {
		opts.CommandQueue = 8
	}

	c := &Controller{
		opts:     opts,
		builder:  builder,
		commands: make(chan command, opts.CommandQueue),
		done:     make(chan struct{}),
	}
	c.state.Store(StateIdle)
	return c
}

// OnChange registers a hook called from the loop on every state change. It
// must be set before Run and must not block.
func (c *Controller) OnChange(fn func(State, *Session)) {
	c.onChange = fn
}

// Run processes commands, ticks and stage events until ctx is cancelled. An
// active recording is drained and finalized before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("controller already running")
	}
	defer close(c.done)

	slog.Debug("Recorder loop started", "max_duration", c.opts.MaxDuration, "tick", c.opts.TickInterval)

	for {
		var events <-chan pipeline.Event
		var ticks <-chan time.Time
		if c.current != nil {
			events = c.current.pipeline.Events()
			ticks = c.current.ticker.C
		}

		select {
		case <-ctx.Done():
			if c.current != nil {
				slog.Info("Shutting down, finalizing active recording")
				c.drain()
			}
			return nil

		case cmd := <-c.commands:
			c.handleCommand(cmd)

		case <-ticks:
			c.tick()

		case ev, ok := <-events:
			if !ok {
				slog.Warn("Pipeline event channel closed unexpectedly")
				c.fail(errors.New("pipeline closed unexpectedly"))
				continue
			}
			c.handleEvent(ev)
		}
	}
}

// StartRecording begins a new session writing to path. It fails with
// ErrAlreadyActive unless the recorder is idle.
func (c *Controller) StartRecording(path string) (*Session, error) {
	if state, _ := c.State(); state != StateIdle {
		return nil, ErrAlreadyActive
	}

	res, err := c.send(command{kind: cmdStart, path: path})
	if err != nil {
		return nil, err
	}
	return res.session, res.err
}

// StopRecording drains and finalizes the active session. While a session is
// already being finalized it returns nil without doing anything.
func (c *Controller) StopRecording() error {
	switch state, _ := c.State(); state {
	case StateBusy:
		return nil
	case StateRecording:
	default:
		return ErrNotActive
	}

	res, err := c.send(command{kind: cmdStop})
	if err != nil {
		return err
	}
	return res.err
}

// Toggle starts a recording when idle and stops it when recording. It never
// blocks; presses while busy or in error are ignored.
func (c *Controller) Toggle() {
	state, _ := c.State()
	if state != StateIdle && state != StateRecording {
		slog.Debug("Toggle ignored", "state", state)
		return
	}

	select {
	case c.commands <- command{kind: cmdToggle, seen: state}:
	default:
		slog.Warn("Command queue full, toggle dropped")
	}
}

// State returns the current state and the elapsed time of the active session.
func (c *Controller) State() (State, time.Duration) {
	return c.state.Load().(State), time.Duration(c.elapsed.Load())
}

// Session returns a snapshot of the active session, or nil.
func (c *Controller) Session() *Session {
	s := c.session.Load()
	if s == nil {
		return nil
	}

	snapshot := *s
	snapshot.Elapsed = time.Duration(c.elapsed.Load())
	if ref := c.graph.Load(); ref != nil {
		if w, ok := ref.pipeline.(interface{ Written() int64 }); ok {
			snapshot.Bytes = w.Written()
		}
	}
	return &snapshot
}

// LastError returns the error that ended the most recent failed session.
func (c *Controller) LastError() error {
	c.errMutex.Lock()
	defer c.errMutex.Unlock()
	return c.lastErr
}

func (c *Controller) send(cmd command) (result, error) {
	cmd.reply = make(chan result, 1)

	select {
	case c.commands <- cmd:
	case <-c.done:
		return result{}, ErrStopped
	}

	select {
	case res := <-cmd.reply:
		return res, nil
	case <-c.done:
		return result{}, ErrStopped
	}
}

func (c *Controller) handleCommand(cmd command) {
	var res result

	switch cmd.kind {
	case cmdStart:
		res.session, res.err = c.start(cmd.path)
	case cmdStop:
		res.err = c.stop()
	case cmdToggle:
		state, _ := c.State()
		if state != cmd.seen {
			slog.Debug("Stale toggle ignored", "pressed_in", cmd.seen, "state", state)
			break
		}
		switch state {
		case StateIdle:
			path, err := c.defaultPath()
			if err == nil {
				_, err = c.start(path)
			}
			if err != nil {
				slog.Error("Failed to start recording", "error", err)
			}
		case StateRecording:
			if err := c.stop(); err != nil {
				slog.Error("Failed to stop recording", "error", err)
			}
		}
	}

	if cmd.reply != nil {
		cmd.reply <- res
	}
}

func (c *Controller) defaultPath() (string, error) {
	if c.opts.DefaultPath == nil {
		return "", fmt.Errorf("no default output path configured")
	}
	return c.opts.DefaultPath()
}

func (c *Controller) start(path string) (*Session, error) {
	if state, _ := c.State(); state != StateIdle {
		return nil, ErrAlreadyActive
	}

	p, err := c.builder.Build(path)
	if err != nil {
		c.setLastError(err)
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	if err := p.Start(); err != nil {
		p.Terminate()
		c.setLastError(err)
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}

	session := &Session{
		ID:          uuid.NewString(),
		OutputPath:  path,
		StartedAt:   time.Now(),
		MaxDuration: c.opts.MaxDuration,
		Info:        p.Info(),
	}

	c.current = &active{
		pipeline: p,
		session:  session,
		ticker:   time.NewTicker(c.opts.TickInterval),
	}
	c.elapsed.Store(0)
	c.session.Store(session)
	c.graph.Store(&graphRef{pipeline: p})
	c.setState(StateRecording)

	slog.Info("Recording started", "session", session.ID, "file", path, "stream", session.Info.String())

	snapshot := *session
	return &snapshot, nil
}

func (c *Controller) stop() error {
	if state, _ := c.State(); state != StateRecording || c.current == nil {
		return ErrNotActive
	}

	slog.Info("Stopping recording", "session", c.current.session.ID)
	return c.drain()
}

func (c *Controller) tick() {
	cur := c.current

	if cur.finishing {
		if time.Since(cur.finishAt) > c.opts.DrainTimeout {
			slog.Warn("Sink did not finish in time, forcing teardown", "timeout", c.opts.DrainTimeout)
			c.setState(StateBusy)
			c.markUnfinalized()
			c.teardown()
			c.setState(StateIdle)
		}
		return
	}

	elapsed := time.Duration(c.elapsed.Add(int64(c.opts.TickInterval)))
	slog.Info("Recording", "elapsed_s", int(elapsed.Seconds()), "file", cur.session.OutputPath)

	if c.opts.MaxDuration > 0 && elapsed >= c.opts.MaxDuration {
		slog.Info("Maximum duration reached, finishing recording", "max_duration", c.opts.MaxDuration)
		c.finish()
	}
}

// finish soft-stops the source once per session.
func (c *Controller) finish() {
	cur := c.current
	if cur.finishing {
		return
	}
	cur.finishing = true
	cur.finishAt = time.Now()

	if err := cur.pipeline.Finish(); err != nil {
		slog.Warn("Failed to finish source", "error", err)
	}
}

func (c *Controller) handleEvent(ev pipeline.Event) {
	if ev.Kind == pipeline.KindError || ev.Status == pipeline.StatusErrorOpen {
		slog.Error("Pipeline stage failed", "stage", ev.Stage, "status", ev.Status, "error", ev.Err)
		c.fail(fmt.Errorf("%s: %s: %w", ev.Stage, ev.Status, ev.Err))
		return
	}

	if ev.Stage == c.current.pipeline.Sink() && ev.Status.Terminal() {
		slog.Info("Sink reported end of stream", "status", ev.Status)
		c.setState(StateBusy)
		c.teardown()
		c.setState(StateIdle)
		return
	}

	slog.Debug("Stage event", "stage", ev.Stage, "kind", ev.Kind, "status", ev.Status)
}

// drain soft-stops the source and waits, bounded by DrainTimeout, for the
// sink to reach a terminal status before tearing the graph down.
func (c *Controller) drain() error {
	cur := c.current
	c.setState(StateBusy)
	c.finish()

	var failure error
	timer := time.NewTimer(c.opts.DrainTimeout)
	defer timer.Stop()

wait:
	for {
		select {
		case ev, ok := <-cur.pipeline.Events():
			if !ok {
				break wait
			}
			if ev.Kind == pipeline.KindError || ev.Status == pipeline.StatusErrorOpen {
				slog.Error("Pipeline stage failed while draining", "stage", ev.Stage, "status", ev.Status, "error", ev.Err)
				failure = fmt.Errorf("%s: %s: %w", ev.Stage, ev.Status, ev.Err)
				break wait
			}
			if ev.Stage == cur.pipeline.Sink() && ev.Status.Terminal() {
				break wait
			}
			slog.Debug("Stage event", "stage", ev.Stage, "kind", ev.Kind, "status", ev.Status)
		case <-timer.C:
			slog.Warn("Sink did not finish in time, forcing teardown", "timeout", c.opts.DrainTimeout)
			c.markUnfinalized()
			break wait
		}
	}

	if failure != nil {
		c.setLastError(failure)
		c.setState(StateError)
	}
	c.teardown()
	c.setState(StateIdle)
	return failure
}

// markUnfinalized records that the active file is torn down before its
// container header was written. It stays readable but its sizes are placeholders.
func (c *Controller) markUnfinalized() {
	path := c.current.session.OutputPath
	slog.Warn("Output file left unfinalized", "file", path)
	c.setLastError(fmt.Errorf("%w: %s", ErrNotFinalized, path))
}

// fail moves to ERROR, releases the graph and returns to IDLE.
func (c *Controller) fail(err error) {
	c.setLastError(err)
	c.setState(StateError)
	c.teardown()
	c.setState(StateIdle)
}

// teardown stops, waits for and terminates the active graph exactly once.
func (c *Controller) teardown() {
	cur := c.current
	if cur == nil {
		return
	}
	c.current = nil
	cur.ticker.Stop()

	if err := cur.pipeline.Stop(); err != nil {
		slog.Warn("Failed to stop pipeline", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DrainTimeout)
	defer cancel()
	if err := cur.pipeline.WaitForStop(ctx); err != nil {
		slog.Error("Pipeline stages did not stop", "error", err)
	}

	if err := cur.pipeline.Terminate(); err != nil {
		slog.Error("Failed to terminate pipeline", "error", err)
	}

	elapsed := time.Duration(c.elapsed.Load())
	slog.Info("Recording finished", "session", cur.session.ID, "file", cur.session.OutputPath, "elapsed_s", int(elapsed.Seconds()))

	c.session.Store(nil)
	c.graph.Store(nil)
}

func (c *Controller) setState(s State) {
	if prev := c.state.Swap(s); prev == s {
		return
	}
	if s == StateIdle {
		c.elapsed.Store(0)
	}
	if c.onChange != nil {
		c.onChange(s, c.Session())
	}
}

func (c *Controller) setLastError(err error) {
	c.errMutex.Lock()
	defer c.errMutex.Unlock()
	c.lastErr = err
}

// graphRef publishes the active pipeline to readers outside the loop.
type graphRef struct {
	pipeline Pipeline
}
