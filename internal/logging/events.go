package logging

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EntryContext identifies the manifest entry an event belongs to.
// The zero value means the event is not tied to an entry.
type EntryContext struct {
	Line   int
	Name   string
	URL    string
	Target string
}

// Event is a single structured occurrence emitted by the download pipeline.
type Event struct {
	Time    time.Time
	Level   zapcore.Level
	Name    string // machine-friendly event name, e.g. "fetch_start"
	Message string
	Entry   EntryContext
	Fields  map[string]any
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

type zapSink struct {
	l *zap.Logger
}

// NewZapSink writes events to a zap logger. Entry URLs are redacted.
func NewZapSink(l *zap.Logger) Sink {
	if l == nil {
		l = zap.NewNop()
	}
	return &zapSink{l: l}
}

func (s *zapSink) Emit(e Event) {
	ce := s.l.Check(e.Level, e.Message)
	if ce == nil {
		return
	}
	fields := make([]zap.Field, 0, 5+len(e.Fields))
	fields = append(fields, zap.String("event", e.Name))
	if e.Entry.Line > 0 {
		fields = append(fields, zap.Int("line", e.Entry.Line))
	}
	if e.Entry.Name != "" {
		fields = append(fields, zap.String("name", e.Entry.Name))
	}
	if e.Entry.URL != "" {
		fields = append(fields, zap.String("url", RedactURL(e.Entry.URL)))
	}
	if e.Entry.Target != "" {
		fields = append(fields, zap.String("target", e.Entry.Target))
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := e.Fields[k]
		if err, ok := v.(error); ok {
			fields = append(fields, zap.NamedError(k, err))
			continue
		}
		fields = append(fields, zap.Any(k, v))
	}
	ce.Write(fields...)
}

// Emitter stamps events with an entry context before handing them to a sink.
type Emitter struct {
	sink  Sink
	entry EntryContext
}

// NewEmitter returns an Emitter writing to s. A nil sink discards events.
func NewEmitter(s Sink) Emitter {
	if s == nil {
		s = Discard
	}
	return Emitter{sink: s}
}

// WithEntry returns a copy of e bound to the given entry.
func (e Emitter) WithEntry(ec EntryContext) Emitter {
	e.entry = ec
	return e
}

// Entry returns the bound entry context.
func (e Emitter) Entry() EntryContext { return e.entry }

// Debug emits a debug event. kv is a list of alternating keys and values.
func (e Emitter) Debug(name, msg string, kv ...any) { e.emit(zapcore.DebugLevel, name, msg, kv) }

// Info emits an info event.
func (e Emitter) Info(name, msg string, kv ...any) { e.emit(zapcore.InfoLevel, name, msg, kv) }

// Warn emits a warning event.
func (e Emitter) Warn(name, msg string, kv ...any) { e.emit(zapcore.WarnLevel, name, msg, kv) }

// Error emits an error event.
func (e Emitter) Error(name, msg string, kv ...any) { e.emit(zapcore.ErrorLevel, name, msg, kv) }

func (e Emitter) emit(lvl zapcore.Level, name, msg string, kv []any) {
	if e.sink == nil {
		return
	}
	var fields map[string]any
	if len(kv) > 0 {
		fields = make(map[string]any, len(kv)/2+1)
		for i := 0; i < len(kv); i += 2 {
			key, ok := kv[i].(string)
			if !ok {
				key = "!BADKEY"
			}
			if i+1 < len(kv) {
				fields[key] = kv[i+1]
			} else {
				fields[key] = nil
			}
		}
	}
	e.sink.Emit(Event{
		Time:    time.Now(),
		Level:   lvl,
		Name:    name,
		Message: msg,
		Entry:   e.entry,
		Fields:  fields,
	})
}

type emitterKey struct{}

// NewContext returns a copy of ctx carrying em.
func NewContext(ctx context.Context, em Emitter) context.Context {
	return context.WithValue(ctx, emitterKey{}, em)
}

// FromContext returns the Emitter stored in ctx, if any.
func FromContext(ctx context.Context) (Emitter, bool) {
	em, ok := ctx.Value(emitterKey{}).(Emitter)
	return em, ok
}

// Recorder is an in-memory sink that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit records e.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns the recorded events with the given name.
func (r *Recorder) Named(name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Has reports whether at least one event with the given name was recorded.
func (r *Recorder) Has(name string) bool {
	return len(r.Named(name)) > 0
}
