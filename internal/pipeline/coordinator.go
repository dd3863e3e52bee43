package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrDuplicateName  = errors.New("stage name already registered")
	ErrUnknownStage   = errors.New("unknown stage")
	ErrAlreadyLinked  = errors.New("pipeline already linked")
	ErrAlreadyRunning = errors.New("pipeline is running")
	ErrNotLinked      = errors.New("pipeline is not linked")
	ErrNotRunning     = errors.New("pipeline is not running")
	ErrNotSource      = errors.New("stage is not the first stage of the graph")
)

type Options struct {
	// BufferSize is the capacity, in packets, of each buffer between two stages
	BufferSize int
	// EventQueueSize is the capacity of the event channel
	EventQueueSize int
	// EmitTimeout bounds how long a stage waits to deliver a terminal event
	EmitTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = 16
	}
	if o.EventQueueSize <= 0 {
		o.EventQueueSize = 32
	}
	if o.EmitTimeout <= 0 {
		o.EmitTimeout = 100 * time.Millisecond
	}
	return o
}

// Coordinator owns the stages of one graph, the buffers between them and the
// event channel their runners report to.
type Coordinator struct {
	opts Options

	mutex  sync.Mutex
	stages map[string]Stage
	order  []string
	links  []string

	started      bool
	cancel       context.CancelFunc
	control      chan Packet
	finished     bool
	done         chan struct{}
	events       chan Event
	eventsClosed bool
}

func New(opts Options) *Coordinator {
	opts = opts.withDefaults()
	return &Coordinator{
		opts:   opts,
		stages: make(map[string]Stage),
		events: make(chan Event, opts.EventQueueSize),
	}
}

// Register adds a stage under a unique name.
func (c *Coordinator) Register(name string, stage Stage) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.started {
		return ErrAlreadyRunning
	}
	if _, exists := c.stages[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}

	c.stages[name] = stage
	c.order = append(c.order, name)
	return nil
}

// Unregister removes a stage. A linked graph that loses a stage is unlinked.
func (c *Coordinator) Unregister(name string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.started {
		return ErrAlreadyRunning
	}
	if _, exists := c.stages[name]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}

	delete(c.stages, name)
	c.order = remove(c.order, name)
	for _, linked := range c.links {
		if linked == name {
			c.links = nil
			break
		}
	}
	return nil
}

// Link fixes the order data flows through the named stages.
func (c *Coordinator) Link(names ...string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.started {
		return ErrAlreadyRunning
	}
	if len(c.links) > 0 {
		return ErrAlreadyLinked
	}
	if len(names) == 0 {
		return fmt.Errorf("link requires at least one stage")
	}

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if _, exists := c.stages[name]; !exists {
			return fmt.Errorf("%w: %s", ErrUnknownStage, name)
		}
		if seen[name] {
			return fmt.Errorf("%w: %s linked twice", ErrDuplicateName, name)
		}
		seen[name] = true
	}

	c.links = append([]string(nil), names...)
	return nil
}

// PropagateMetadata copies the stream description of one stage to another.
func (c *Coordinator) PropagateMetadata(from, to string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	src, ok := c.stages[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStage, from)
	}
	dst, ok := c.stages[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStage, to)
	}

	dst.SetInfo(src.Info())
	return nil
}

// Start launches one goroutine per linked stage.
func (c *Coordinator) Start() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.started {
		return ErrAlreadyRunning
	}
	if len(c.links) == 0 {
		return ErrNotLinked
	}

	if c.eventsClosed {
		c.events = make(chan Event, c.opts.EventQueueSize)
		c.eventsClosed = false
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.control = make(chan Packet)
	c.finished = false
	c.done = make(chan struct{})

	inputs := make([]chan Packet, len(c.links))
	inputs[0] = c.control
	for i := 1; i < len(c.links); i++ {
		inputs[i] = make(chan Packet, c.opts.BufferSize)
	}

	events := c.events
	var wg sync.WaitGroup
	for i, name := range c.links {
		var out chan Packet
		if i+1 < len(c.links) {
			out = inputs[i+1]
		}

		wg.Add(1)
		go func(name string, stage Stage, in <-chan Packet, out chan Packet) {
			defer wg.Done()
			c.run(ctx, name, stage, in, out, events)
		}(name, c.stages[name], inputs[i], out)
	}

	go func(done chan struct{}) {
		wg.Wait()
		close(done)
	}(c.done)

	c.started = true
	slog.Debug("Pipeline started", "stages", c.links)
	return nil
}

func (c *Coordinator) run(ctx context.Context, name string, stage Stage, in <-chan Packet, out chan Packet, events chan<- Event) {
	if out != nil {
		defer close(out)
	}

	if err := stage.Open(); err != nil {
		slog.Error("Stage failed to open", "stage", name, "error", err)
		c.emit(events, Event{Stage: name, Kind: KindStatus, Status: StatusErrorOpen, Err: err})
		return
	}
	c.emit(events, Event{Stage: name, Kind: KindStatus, Status: StatusRunning})

	processErr := stage.Process(ctx, in, out)
	closeErr := stage.Close()

	stopped := ctx.Err() != nil || errors.Is(processErr, context.Canceled)
	switch {
	case stopped:
		c.emit(events, Event{Stage: name, Kind: KindStatus, Status: StatusStopped})
	case processErr != nil:
		slog.Error("Stage processing failed", "stage", name, "error", processErr)
		c.emit(events, Event{Stage: name, Kind: KindError, Status: StatusErrorProcess, Err: processErr})
	case closeErr == nil:
		c.emit(events, Event{Stage: name, Kind: KindStatus, Status: StatusFinished})
	}

	if closeErr != nil {
		slog.Error("Stage failed to close", "stage", name, "error", closeErr)
		c.emit(events, Event{Stage: name, Kind: KindError, Status: StatusErrorClose, Err: closeErr})
	}
}

// emit never blocks a stage for long: running notices are dropped when the
// queue is full, terminal ones wait up to EmitTimeout.
func (c *Coordinator) emit(events chan<- Event, ev Event) {
	ev.Time = time.Now()

	if ev.Status == StatusRunning {
		select {
		case events <- ev:
		default:
			slog.Warn("Event queue full, dropping event", "event", ev.String())
		}
		return
	}

	timer := time.NewTimer(c.opts.EmitTimeout)
	defer timer.Stop()

	select {
	case events <- ev:
	case <-timer.C:
		slog.Warn("Event queue full, dropping event", "event", ev.String())
	}
}

// Finish asks the first stage of the graph to stop producing. Downstream
// stages drain whatever is buffered and finish on their own.
func (c *Coordinator) Finish(name string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.stages[name]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}
	if len(c.links) == 0 || c.links[0] != name {
		return fmt.Errorf("%w: %s", ErrNotSource, name)
	}
	if !c.started {
		return ErrNotRunning
	}

	if !c.finished {
		close(c.control)
		c.finished = true
		slog.Debug("Source finish requested", "stage", name)
	}
	return nil
}

// Stop cancels every stage. It does not wait; see WaitForStop.
func (c *Coordinator) Stop() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.started && c.cancel != nil {
		c.cancel()
	}
	return nil
}

// WaitForStop blocks until every stage goroutine has returned.
func (c *Coordinator) WaitForStop(ctx context.Context) error {
	c.mutex.Lock()
	done := c.done
	c.mutex.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether stage goroutines are still active.
func (c *Coordinator) Running() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.runningLocked()
}

func (c *Coordinator) runningLocked() bool {
	if !c.started || c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Terminate releases the buffers and closes the event channel. It is refused
// while stage goroutines are still running.
func (c *Coordinator) Terminate() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.runningLocked() {
		return ErrAlreadyRunning
	}

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.started = false
	c.control = nil
	c.done = nil

	if !c.eventsClosed {
		close(c.events)
		c.eventsClosed = true
	}
	return nil
}

// Events is the channel stage events are delivered on. It is closed by Terminate.
func (c *Coordinator) Events() <-chan Event {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.events
}

// Listen waits up to timeout for the next event. It returns false on timeout
// or once the event channel is closed.
func (c *Coordinator) Listen(timeout time.Duration) (Event, bool) {
	events := c.Events()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev, ok := <-events:
		return ev, ok
	case <-timer.C:
		return Event{}, false
	}
}

// IsSource reports whether name is the first stage of the linked graph.
func (c *Coordinator) IsSource(name string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.links) > 0 && c.links[0] == name
}

// Names returns the stage names in link order, or registration order before Link.
func (c *Coordinator) Names() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if len(c.links) > 0 {
		return append([]string(nil), c.links...)
	}
	return append([]string(nil), c.order...)
}

// Stage returns a registered stage by name.
func (c *Coordinator) Stage(name string) (Stage, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	stage, ok := c.stages[name]
	return stage, ok
}

func remove(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
