// Package trace provides the observability hook threaded through the
// retrieval flow. Components report steps to a Sink instead of writing
// log files, so callers choose what (if anything) reaches disk or a
// terminal.
package trace

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Event is one observed step of a retrieval run. Detail never contains
// credentials, answers, or response bodies.
type Event struct {
	Time   time.Time
	Step   string
	Detail string
	Err    error
}

// Sink receives flow events. Implementations must tolerate concurrent
// calls only if they are shared across flows; a single flow reports
// sequentially.
type Sink interface {
	Record(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Record calls f(e).
func (f SinkFunc) Record(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Record(Event) {}

// Nop returns a sink that discards every event.
func Nop() Sink { return nopSink{} }

// Multi returns a sink that fans events out to every given sink in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			s.Record(e)
		}
	})
}

// WriterSink writes one line per event to an io.Writer.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Record writes the event as a single timestamped line.
func (s *WriterSink) Record(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Err != nil {
		fmt.Fprintf(s.w, "%s %s: %s: %v\n", e.Time.Format(time.TimeOnly), e.Step, e.Detail, e.Err)
		return
	}
	fmt.Fprintf(s.w, "%s %s: %s\n", e.Time.Format(time.TimeOnly), e.Step, e.Detail)
}

// Emit is a convenience for components reporting a step.
func Emit(sink Sink, step, detail string) {
	sink.Record(Event{Time: time.Now(), Step: step, Detail: detail})
}

// EmitErr reports a failed step.
func EmitErr(sink Sink, step, detail string, err error) {
	sink.Record(Event{Time: time.Now(), Step: step, Detail: detail, Err: err})
}
