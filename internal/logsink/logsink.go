// Package logsink carries structured error and lifecycle events to their destinations.
//
// Every catch site in the client and server emits an [Event] tagged with a [shared.Kind], an operation name, and
// key/value context. Sinks decide where events go:
//   - [LoggerSink] : the process logger
//   - [FileSink] : the rotating, user-exportable log file
//   - [Fanout] : several sinks at once
//   - [Recorder] : an in-memory buffer for tests and status lines
package logsink

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/desertthunder/songbird/internal/shared"
)

// Event is one structured log record.
type Event struct {
	Kind    shared.Kind
	Op      string
	Message string
	Err     error
	Fields  map[string]any
	Time    time.Time
}

// String renders the event as a single line for status displays.
func (e Event) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Kind, e.Op)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, " (%v)", e.Err)
	}
	return b.String()
}

// keyvals flattens the event context in a stable order.
func (e Event) keyvals() []any {
	kv := []any{"kind", string(e.Kind), "op", e.Op}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		kv = append(kv, k, e.Fields[k])
	}
	if e.Err != nil {
		kv = append(kv, "error", e.Err.Error())
	}
	return kv
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// Info builds an informational event.
func Info(op, message string, kv ...any) Event {
	return Event{Kind: shared.KindInfo, Op: op, Message: message, Fields: fields(kv), Time: time.Now()}
}

// Warn builds an event of the given kind that does not carry an error.
func Warn(kind shared.Kind, op, message string, kv ...any) Event {
	return Event{Kind: kind, Op: op, Message: message, Fields: fields(kv), Time: time.Now()}
}

// ErrorEvent builds an event for err, classified with [shared.KindOf].
func ErrorEvent(op string, err error, kv ...any) Event {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Event{Kind: shared.KindOf(err), Op: op, Message: msg, Err: err, Fields: fields(kv), Time: time.Now()}
}

func fields(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	out := make(map[string]any, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 < len(kv) {
			out[key] = kv[i+1]
		} else {
			out[key] = "(missing)"
		}
	}
	return out
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(Event) {}

// OrDiscard returns s, or [Discard] when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard{}
	}
	return s
}

// LoggerSink writes events to a [log.Logger]. Info events log at info level, everything else at error level.
type LoggerSink struct {
	logger *log.Logger
}

// NewLoggerSink creates a LoggerSink. A nil logger writes to stderr.
func NewLoggerSink(logger *log.Logger) *LoggerSink {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &LoggerSink{logger: logger}
}

func (s *LoggerSink) Emit(e Event) {
	msg := e.Message
	if msg == "" {
		msg = e.Op
	}
	switch {
	case e.Kind == shared.KindInfo:
		s.logger.Info(msg, e.keyvals()...)
	case e.Err == nil:
		s.logger.Warn(msg, e.keyvals()...)
	default:
		s.logger.Error(msg, e.keyvals()...)
	}
}

// FileSinkOptions configures the rotating log file.
type FileSinkOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// FileSink appends events as JSON lines to a size-rotated file.
type FileSink struct {
	writer *lumberjack.Logger
	logger *log.Logger
}

// NewFileSink opens a rotating log file at opts.Path.
func NewFileSink(opts FileSinkOptions) *FileSink {
	w := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   false,
	}
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       log.JSONFormatter,
		Level:           log.DebugLevel,
	})
	return &FileSink{writer: w, logger: logger}
}

// FileSinkFromConfig builds a FileSink from the [log] config section.
func FileSinkFromConfig(c shared.LogConfig) *FileSink {
	return NewFileSink(FileSinkOptions{
		Path:       c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
	})
}

func (s *FileSink) Emit(e Event) {
	msg := e.Message
	if msg == "" {
		msg = e.Op
	}
	if e.Kind == shared.KindInfo {
		s.logger.Info(msg, e.keyvals()...)
		return
	}
	s.logger.Error(msg, e.keyvals()...)
}

// Rotate closes the current file and starts a new one.
func (s *FileSink) Rotate() error {
	return s.writer.Rotate()
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	return s.writer.Close()
}

// Fanout delivers every event to each of its sinks in order.
type Fanout []Sink

// NewFanout drops nil sinks.
func NewFanout(sinks ...Sink) Fanout {
	out := make(Fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (f Fanout) Emit(e Event) {
	for _, s := range f {
		s.Emit(e)
	}
}

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	notify func(Event)
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// OnEmit registers fn to be called after each recorded event.
func (r *Recorder) OnEmit(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notify = fn
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	notify := r.notify
	r.mu.Unlock()

	if notify != nil {
		notify(e)
	}
}

// Events returns a copy of every recorded event.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the kind of each recorded event in order.
func (r *Recorder) Kinds() []shared.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shared.Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

// Has reports whether an event with kind and op was recorded. An empty op matches any operation.
func (r *Recorder) Has(kind shared.Kind, op string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == kind && (op == "" || e.Op == op) {
			return true
		}
	}
	return false
}

// Last returns the most recent event.
func (r *Recorder) Last() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}, false
	}
	return r.events[len(r.events)-1], true
}

// Reset discards recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
