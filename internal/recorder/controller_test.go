package recorder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/sdrecord/internal/audio"
	"github.com/audiolibrelab/sdrecord/internal/pipeline"
)

// fakePipeline counts lifecycle calls. Unless hang is set, Finish makes the
// sink report FINISHED like a real graph that drained.
type fakePipeline struct {
	events   chan pipeline.Event
	startErr error
	hang     bool

	finishes   atomic.Int32
	stops      atomic.Int32
	terminates atomic.Int32
	closeOnce  sync.Once
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{events: make(chan pipeline.Event, 16)}
}

func (p *fakePipeline) Start() error { return p.startErr }

func (p *fakePipeline) Finish() error {
	p.finishes.Add(1)
	if !p.hang {
		p.emit(pipeline.Event{Stage: StageFile, Kind: pipeline.KindStatus, Status: pipeline.StatusFinished})
	}
	return nil
}

func (p *fakePipeline) Stop() error {
	p.stops.Add(1)
	return nil
}

func (p *fakePipeline) WaitForStop(context.Context) error { return nil }

func (p *fakePipeline) Terminate() error {
	p.terminates.Add(1)
	p.closeOnce.Do(func() { close(p.events) })
	return nil
}

func (p *fakePipeline) Events() <-chan pipeline.Event { return p.events }
func (p *fakePipeline) Sink() string                  { return StageFile }

func (p *fakePipeline) Info() audio.StreamInfo {
	return audio.StreamInfo{SampleRate: 48000, Channels: 1, BitDepth: 16}
}

func (p *fakePipeline) emit(ev pipeline.Event) {
	ev.Time = time.Now()
	p.events <- ev
}

type fakeBuilder struct {
	mutex     sync.Mutex
	err       error
	next      func() *fakePipeline
	pipelines []*fakePipeline
	paths     []string
}

func (b *fakeBuilder) Build(path string) (Pipeline, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.err != nil {
		return nil, b.err
	}
	p := newFakePipeline()
	if b.next != nil {
		p = b.next()
	}
	b.pipelines = append(b.pipelines, p)
	b.paths = append(b.paths, path)
	return p, nil
}

func (b *fakeBuilder) built() []*fakePipeline {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]*fakePipeline(nil), b.pipelines...)
}

// stateLog records every state published through OnChange, and the session
// snapshot taken when the recording became BUSY.
type stateLog struct {
	mutex  sync.Mutex
	states []State
	busy   *Session
}

func (l *stateLog) record(s State, session *Session) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.states = append(l.states, s)
	if s == StateBusy {
		l.busy = session
	}
}

func (l *stateLog) busySession() *Session {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.busy
}

func (l *stateLog) get() []State {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]State(nil), l.states...)
}

func startController(t *testing.T, opts Options, builder Builder) (*Controller, *stateLog) {
	t.Helper()

	if opts.MaxDuration == 0 {
		opts.MaxDuration = time.Hour
	}
	if opts.TickInterval == 0 {
		opts.TickInterval = 10 * time.Millisecond
	}
	if opts.DrainTimeout == 0 {
		opts.DrainTimeout = time.Second
	}

	c := New(opts, builder)
	log := &stateLog{}
	c.OnChange(log.record)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return c, log
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, _ := c.State()
		return s == want
	}, 2*time.Second, 5*time.Millisecond, "state never became %s", want)
}

// waitForStates waits until the hook has seen exactly the given transitions.
func waitForStates(t *testing.T, log *stateLog, want ...State) {
	t.Helper()
	require.Eventually(t, func() bool {
		got := log.get()
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond, "transitions: %v", log.get())
}

func TestController_StartAndStop(t *testing.T) {
	builder := &fakeBuilder{}
	c, log := startController(t, Options{}, builder)

	session, err := c.StartRecording("/sdcard/rec.wav")
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "/sdcard/rec.wav", session.OutputPath)
	assert.Equal(t, 48000, session.Info.SampleRate)

	state, _ := c.State()
	assert.Equal(t, StateRecording, state)
	require.NotNil(t, c.Session())

	require.NoError(t, c.StopRecording())

	state, elapsed := c.State()
	assert.Equal(t, StateIdle, state)
	assert.Zero(t, elapsed)
	assert.Nil(t, c.Session())

	p := builder.built()[0]
	assert.Equal(t, int32(1), p.finishes.Load())
	assert.Equal(t, int32(1), p.stops.Load())
	assert.Equal(t, int32(1), p.terminates.Load())
	assert.Equal(t, []State{StateRecording, StateBusy, StateIdle}, log.get())
}

func TestController_StartWhileActive(t *testing.T) {
	builder := &fakeBuilder{}
	c, _ := startController(t, Options{}, builder)

	_, err := c.StartRecording("/a.wav")
	require.NoError(t, err)

	_, err = c.StartRecording("/b.wav")
	assert.ErrorIs(t, err, ErrAlreadyActive)
	assert.Len(t, builder.built(), 1, "no side effect on rejected start")
}

func TestController_StopWhenIdle(t *testing.T) {
	c, _ := startController(t, Options{}, &fakeBuilder{})
	assert.ErrorIs(t, c.StopRecording(), ErrNotActive)
}

func TestController_MaxDurationFinishesOnce(t *testing.T) {
	builder := &fakeBuilder{}
	c, log := startController(t, Options{MaxDuration: 30 * time.Millisecond}, builder)

	_, err := c.StartRecording("/sdcard/rec.wav")
	require.NoError(t, err)

	waitForStates(t, log, StateRecording, StateBusy, StateIdle)

	p := builder.built()[0]
	assert.Equal(t, int32(1), p.finishes.Load())
	assert.Equal(t, int32(1), p.stops.Load())
	assert.Equal(t, int32(1), p.terminates.Load())

	// Elapsed is reset on IDLE; the end of the session is seen through BUSY
	session := log.busySession()
	require.NotNil(t, session)
	assert.GreaterOrEqual(t, session.Elapsed, 30*time.Millisecond)
	assert.NoError(t, c.LastError())
}

func TestController_ElapsedAdvancesWithTicks(t *testing.T) {
	c, _ := startController(t, Options{}, &fakeBuilder{})

	_, err := c.StartRecording("/sdcard/rec.wav")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, elapsed := c.State()
		return elapsed >= 30*time.Millisecond
	}, 2*time.Second, 5*time.Millisecond)

	session := c.Session()
	require.NotNil(t, session)
	assert.GreaterOrEqual(t, session.Elapsed, 30*time.Millisecond)
}

func TestController_StageErrorGoesThroughErrorState(t *testing.T) {
	builder := &fakeBuilder{}
	c, log := startController(t, Options{}, builder)

	_, err := c.StartRecording("/sdcard/rec.wav")
	require.NoError(t, err)

	p := builder.built()[0]
	p.emit(pipeline.Event{Stage: StageEncoder, Kind: pipeline.KindError, Status: pipeline.StatusErrorProcess, Err: errors.New("boom")})

	waitForStates(t, log, StateRecording, StateError, StateIdle)

	require.Error(t, c.LastError())
	assert.Contains(t, c.LastError().Error(), "boom")
	assert.Equal(t, int32(1), p.stops.Load())
	assert.Equal(t, int32(1), p.terminates.Load())
	assert.Zero(t, p.finishes.Load())
}

func TestController_SinkOpenFailure(t *testing.T) {
	builder := &fakeBuilder{}
	c, log := startController(t, Options{}, builder)

	_, err := c.StartRecording("/sdcard/rec.wav")
	require.NoError(t, err)

	builder.built()[0].emit(pipeline.Event{Stage: StageFile, Kind: pipeline.KindStatus, Status: pipeline.StatusErrorOpen, Err: errors.New("no card")})

	waitForStates(t, log, StateRecording, StateError, StateIdle)

	// A fresh session is possible after the failure
	_, err = c.StartRecording("/sdcard/rec.wav")
	require.NoError(t, err)
}

func TestController_UnrelatedEventsAreIgnored(t *testing.T) {
	builder := &fakeBuilder{}
	c, _ := startController(t, Options{}, builder)

	_, err := c.StartRecording("/sdcard/rec.wav")
	require.NoError(t, err)

	p := builder.built()[0]
	p.emit(pipeline.Event{Stage: StageCapture, Kind: pipeline.KindStatus, Status: pipeline.StatusRunning})
	p.emit(pipeline.Event{Stage: StageEncoder, Kind: pipeline.KindStatus, Status: pipeline.StatusFinished})

	time.Sleep(30 * time.Millisecond)
	state, _ := c.State()
	assert.Equal(t, StateRecording, state)
}

func TestController_BuildFailure(t *testing.T) {
	builder := &fakeBuilder{err: errors.New("no capture device")}
	c, _ := startController(t, Options{}, builder)

	_, err := c.StartRecording("/sdcard/rec.wav")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no capture device")

	state, _ := c.State()
	assert.Equal(t, StateIdle, state)
}

func TestController_StartFailureReleasesPipeline(t *testing.T) {
	var failing *fakePipeline
	builder := &fakeBuilder{next: func() *fakePipeline {
		failing = newFakePipeline()
		failing.startErr = errors.New("already running")
		return failing
	}}
	c, _ := startController(t, Options{}, builder)

	_, err := c.StartRecording("/sdcard/rec.wav")
	require.Error(t, err)
	assert.Equal(t, int32(1), failing.terminates.Load())
}

func TestController_Toggle(t *testing.T) {
	builder := &fakeBuilder{}
	opts := Options{DefaultPath: func() (string, error) { return "/sdcard/rec.wav", nil }}
	c, _ := startController(t, opts, builder)

	c.Toggle()
	waitForState(t, c, StateRecording)

	c.Toggle()
	waitForState(t, c, StateIdle)

	require.Len(t, builder.built(), 1)
	assert.Equal(t, int32(1), builder.built()[0].terminates.Load())
}

func TestController_BusyWhileDraining(t *testing.T) {
	builder := &fakeBuilder{next: func() *fakePipeline {
		p := newFakePipeline()
		p.hang = true
		return p
	}}
	c, _ := startController(t, Options{DrainTimeout: 300 * time.Millisecond}, builder)

	_, err := c.StartRecording("/sdcard/busy.wav")
	require.NoError(t, err)

	stopped := make(chan error, 1)
	go func() { stopped <- c.StopRecording() }()

	waitForState(t, c, StateBusy)
	assert.NoError(t, c.StopRecording(), "stop while busy is a no-op")
	_, err = c.StartRecording("/sdcard/other.wav")
	assert.ErrorIs(t, err, ErrAlreadyActive)
	c.Toggle()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return after drain timeout")
	}

	state, _ := c.State()
	assert.Equal(t, StateIdle, state)

	p := builder.built()[0]
	assert.Equal(t, int32(1), p.stops.Load())
	assert.Equal(t, int32(1), p.terminates.Load())
	assert.Len(t, builder.built(), 1, "toggle while busy is ignored")

	require.ErrorIs(t, c.LastError(), ErrNotFinalized)
	assert.Contains(t, c.LastError().Error(), "/sdcard/busy.wav")
}

func TestController_CommandsAfterShutdown(t *testing.T) {
	c := New(Options{MaxDuration: time.Hour}, &fakeBuilder{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Run(ctx))

	_, err := c.StartRecording("/sdcard/rec.wav")
	assert.ErrorIs(t, err, ErrStopped)
	assert.Error(t, c.Run(context.Background()), "run only once")
}

func TestController_ShutdownFinalizesRecording(t *testing.T) {
	builder := &fakeBuilder{}
	c := New(Options{MaxDuration: time.Hour, TickInterval: 10 * time.Millisecond}, builder)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()

	_, err := c.StartRecording("/sdcard/rec.wav")
	require.NoError(t, err)

	cancel()
	<-done

	p := builder.built()[0]
	assert.Equal(t, int32(1), p.finishes.Load())
	assert.Equal(t, int32(1), p.terminates.Load())
}
