// Package reporter carries log events to the test framework that drives
// the launcher. The framework only sees (channel, message) pairs.
package reporter

import (
	"sync"

	"github.com/core-tools/hsu-iedriver/pkg/logging"
)

// ChannelSystemLog is the channel the framework prints as system log lines.
const ChannelSystemLog = "report:log:system"

// Sink receives events for the framework.
type Sink interface {
	Emit(channel, message string)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(channel, message string)

func (f SinkFunc) Emit(channel, message string) {
	f(channel, message)
}

type loggerSink struct {
	logger logging.Logger
}

// NewLoggerSink writes every event as an info line.
func NewLoggerSink(logger logging.Logger) Sink {
	return &loggerSink{logger: logger}
}

func (s *loggerSink) Emit(channel, message string) {
	s.logger.Infof("[%s] %s", channel, message)
}

// Discard drops all events.
var Discard Sink = SinkFunc(func(string, string) {})

// Event is one recorded emission.
type Event struct {
	Channel string
	Message string
}

// Recorder keeps events in memory; safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(channel, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Channel: channel, Message: message})
}

// Events returns a copy of everything emitted so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Messages returns the messages emitted on channel, in order.
func (r *Recorder) Messages(channel string) []string {
	var out []string
	for _, e := range r.Events() {
		if e.Channel == channel {
			out = append(out, e.Message)
		}
	}
	return out
}
