package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/audiolibrelab/sdrecord/internal/audio"
)

// Append is the Packet position meaning "after everything written so far".
const Append int64 = -1

// Packet is one unit of data moving between two stages. At is an absolute
// output offset for stages that rewrite earlier bytes (container headers),
// or Append.
type Packet struct {
	Data []byte
	At   int64
}

// Stage is one processing element of a graph.
//
// Process consumes in until it is closed and writes results to out. The
// first stage of a graph gets an input that never carries data; it is closed
// by Finish to ask the stage to stop producing. out is nil for the last stage.
// Process must return promptly once ctx is cancelled.
type Stage interface {
	Info() audio.StreamInfo
	SetInfo(info audio.StreamInfo)
	Open() error
	Process(ctx context.Context, in <-chan Packet, out chan<- Packet) error
	Close() error
}

// Send delivers p downstream unless ctx is cancelled first.
func Send(ctx context.Context, out chan<- Packet, p Packet) error {
	select {
	case out <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kind classifies a stage event.
type Kind int

const (
	KindStatus Kind = iota
	KindError
)

func (k Kind) String() string {
	if k == KindError {
		return "error"
	}
	return "status"
}

// Status is the lifecycle status carried by an event.
type Status int

const (
	StatusRunning Status = iota
	StatusStopped
	StatusFinished
	StatusErrorOpen
	StatusErrorProcess
	StatusErrorClose
)

var statusNames = map[Status]string{
	StatusRunning:      "RUNNING",
	StatusStopped:      "STOPPED",
	StatusFinished:     "FINISHED",
	StatusErrorOpen:    "ERROR_OPEN",
	StatusErrorProcess: "ERROR_PROCESS",
	StatusErrorClose:   "ERROR_CLOSE",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Terminal reports whether a stage reaches no further status after s.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// Event is emitted by the coordinator on behalf of a stage.
type Event struct {
	Stage  string
	Kind   Kind
	Status Status
	Err    error
	Time   time.Time
}

func (e Event) String() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s %s: %v", e.Stage, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s %s", e.Stage, e.Kind, e.Status)
}
