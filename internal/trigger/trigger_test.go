package trigger

import (
	"context"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingToggler struct {
	n atomic.Int32
}

func (c *countingToggler) Toggle() { c.n.Add(1) }

func TestQueue_FireNeverBlocks(t *testing.T) {
	q := NewQueue(2, 0)

	assert.True(t, q.Fire("a"))
	assert.True(t, q.Fire("b"))
	assert.False(t, q.Fire("c"), "full queue drops the edge")

	edge := <-q.Edges()
	assert.Equal(t, "a", edge.Source)
	assert.False(t, edge.At.IsZero())
}

func TestQueue_Debounce(t *testing.T) {
	q := NewQueue(10, 50*time.Millisecond)

	assert.True(t, q.Fire("button"))
	assert.False(t, q.Fire("button"), "bounce inside the window")

	time.Sleep(60 * time.Millisecond)
	assert.True(t, q.Fire("button"))
	assert.Len(t, q.Edges(), 2)
}

func TestForward(t *testing.T) {
	q := NewQueue(10, 0)
	toggler := &countingToggler{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Forward(ctx, q, toggler)

	q.Fire("test")
	q.Fire("test")

	require.Eventually(t, func() bool { return toggler.n.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestWatchLines(t *testing.T) {
	q := NewQueue(10, 0)

	WatchLines(context.Background(), q, strings.NewReader("\n\nstart\n"))

	assert.Len(t, q.Edges(), 3)
	assert.Equal(t, "stdin", (<-q.Edges()).Source)
}

func TestWatchSignals(t *testing.T) {
	q := NewQueue(10, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	WatchSignals(ctx, q, syscall.SIGUSR2)
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR2))

	require.Eventually(t, func() bool { return len(q.Edges()) > 0 }, 2*time.Second, 5*time.Millisecond)

	edge := <-q.Edges()
	assert.Contains(t, edge.Source, "signal")
}

func TestParseSignal(t *testing.T) {
	sig, enabled, err := ParseSignal("sigusr1")
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, syscall.SIGUSR1, sig)

	_, enabled, err = ParseSignal("none")
	require.NoError(t, err)
	assert.False(t, enabled)

	_, _, err = ParseSignal("SIGKILL")
	assert.Error(t, err)
}
