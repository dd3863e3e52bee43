package trigger

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Edge is one press of the record button, whatever produced it.
type Edge struct {
	Source string
	At     time.Time
}

// Queue buffers edges between trigger inputs and the recorder. Fire never
// blocks: edges are dropped when the queue is full or inside the debounce window.
type Queue struct {
	edges    chan Edge
	debounce time.Duration

	mutex    sync.Mutex
	lastEdge time.Time
}

func NewQueue(size int, debounce time.Duration) *Queue {
	if size <= 0 {
		size = 10
	}
	return &Queue{
		edges:    make(chan Edge, size),
		debounce: debounce,
	}
}

// Fire records an edge. It reports whether the edge was queued.
func (q *Queue) Fire(source string) bool {
	now := time.Now()

	q.mutex.Lock()
	if !q.lastEdge.IsZero() && now.Sub(q.lastEdge) < q.debounce {
		q.mutex.Unlock()
		slog.Debug("Trigger debounced", "source", source)
		return false
	}
	q.lastEdge = now
	q.mutex.Unlock()

	select {
	case q.edges <- Edge{Source: source, At: now}:
		return true
	default:
		slog.Warn("Trigger queue full, edge dropped", "source", source)
		return false
	}
}

func (q *Queue) Edges() <-chan Edge {
	return q.edges
}

// Toggler is what an edge acts on.
type Toggler interface {
	Toggle()
}

// Forward hands every queued edge to t until ctx is cancelled.
func Forward(ctx context.Context, q *Queue, t Toggler) {
	for {
		select {
		case <-ctx.Done():
			return
		case edge := <-q.Edges():
			slog.Info("Record button pressed", "source", edge.Source)
			t.Toggle()
		}
	}
}

// ParseSignal maps a configured signal name to a signal. "" and "none" disable the input.
func ParseSignal(name string) (os.Signal, bool, error) {
	switch strings.ToUpper(name) {
	case "", "NONE":
		return nil, false, nil
	case "SIGUSR1":
		return syscall.SIGUSR1, true, nil
	case "SIGUSR2":
		return syscall.SIGUSR2, true, nil
	case "SIGHUP":
		return syscall.SIGHUP, true, nil
	default:
		return nil, false, fmt.Errorf("unsupported trigger signal: %s", name)
	}
}

// WatchSignals turns every delivery of sig into an edge until ctx is
// cancelled. The signals are subscribed before it returns.
func WatchSignals(ctx context.Context, q *Queue, sig ...os.Signal) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, sig...)

	go func() {
		defer signal.Stop(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-signals:
				q.Fire("signal:" + s.String())
			}
		}
	}()
}

// WatchLines fires one edge per line read from r (the Enter key on a terminal).
// It returns when r is exhausted or ctx is cancelled.
func WatchLines(ctx context.Context, q *Queue, r io.Reader) {
	lines := make(chan struct{})
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-lines:
			if !ok {
				return
			}
			q.Fire("stdin")
		}
	}
}
