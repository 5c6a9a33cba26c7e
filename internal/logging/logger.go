// Package logging writes one JSON object per line. Every line starts with timestamp, level
// and message, followed by the logger's bound fields and the call's fields in the order
// they were given, so session and client ids line up when tailing the broker log.
package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dronerace/broker/internal/config"
)

// TraceIDHeader carries the request trace id in and out of the HTTP API.
const TraceIDHeader = "X-Trace-ID"

// Level orders log verbosity.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levelNames = [...]string{"debug", "info", "warn", "error", "fatal"}

func (l Level) String() string {
	if l < DebugLevel || l > FatalLevel {
		return "info"
	}
	return levelNames[l]
}

func parseLevel(raw string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	switch name {
	case "":
		return InfoLevel, nil
	case "warning":
		return WarnLevel, nil
	}
	for level, candidate := range levelNames {
		if candidate == name {
			return Level(level), nil
		}
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", raw)
}

// Field is one structured attribute.
type Field struct {
	Key   string
	Value any
}

// String returns a string field.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Int returns an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Float64 returns a float64 field.
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

// Duration returns a duration field rendered as text.
func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value.String()} }

// Error returns the error text, or null for a nil error.
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Session tags a line with the drone session it concerns.
func Session(id string) Field { return Field{Key: "session_id", Value: id} }

// Client tags a line with a relay or telemetry client.
func Client(id string) Field { return Field{Key: "client_id", Value: id} }

// Component names the broker subsystem that owns a logger.
func Component(name string) Field { return Field{Key: "component", Value: name} }

// Tick tags a line with the simulation step it was written on.
func Tick(n uint64) Field { return Field{Key: "tick", Value: n} }

type syncWriter interface {
	io.Writer
	Sync() error
}

// fanout mirrors every line to the rotating file and stdout.
type fanout []syncWriter

func (f fanout) Write(p []byte) (int, error) {
	for _, w := range f {
		if _, err := w.Write(p); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (f fanout) Sync() error {
	var errs []error
	for _, w := range f {
		if err := w.Sync(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
func (discard) Sync() error                 { return nil }

// Logger is safe for concurrent use. Derived loggers share the writer and its lock.
type Logger struct {
	level  Level
	out    *output
	fields []Field
}

type output struct {
	mu sync.Mutex
	w  syncWriter
}

var (
	globalMu     sync.RWMutex
	globalLogger = NewTestLogger()
)

// New builds the broker logger: JSON lines to a rotating file, mirrored to stdout.
func New(cfg config.LoggingConfig) (*Logger, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("logging path must be specified")
	}
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	file, err := newRotatingWriter(cfg)
	if err != nil {
		return nil, err
	}
	sinks := fanout{file}
	if os.Stdout != nil {
		sinks = append(sinks, os.Stdout)
	}
	return &Logger{
		level:  level,
		out:    &output{w: sinks},
		fields: []Field{{Key: "service", Value: "drone-broker"}},
	}, nil
}

// NewTestLogger returns a logger that drops every line.
func NewTestLogger() *Logger {
	return &Logger{level: DebugLevel, out: &output{w: discard{}}}
}

// ReplaceGlobals installs the logger returned by L.
func ReplaceGlobals(logger *Logger) {
	if logger == nil {
		return
	}
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// L returns the process logger.
func L() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// With returns a logger that writes fields on every line. A repeated key replaces the
// earlier value in place.
func (l *Logger) With(fields ...Field) *Logger {
	if l == nil {
		return L().With(fields...)
	}
	return &Logger{level: l.level, out: l.out, fields: merge(l.fields, fields)}
}

// Sync flushes the underlying writers.
func (l *Logger) Sync() error {
	if l == nil || l.out == nil {
		return nil
	}
	return l.out.w.Sync()
}

func (l *Logger) Debug(message string, fields ...Field) { l.log(DebugLevel, message, fields) }
func (l *Logger) Info(message string, fields ...Field)  { l.log(InfoLevel, message, fields) }
func (l *Logger) Warn(message string, fields ...Field)  { l.log(WarnLevel, message, fields) }
func (l *Logger) Error(message string, fields ...Field) { l.log(ErrorLevel, message, fields) }

// Fatal writes the line, flushes and exits with status 1.
func (l *Logger) Fatal(message string, fields ...Field) { l.log(FatalLevel, message, fields) }

func (l *Logger) log(level Level, message string, fields []Field) {
	if l == nil {
		L().log(level, message, fields)
		return
	}
	if level < l.level {
		return
	}
	line := encodeLine(time.Now().UTC(), level, message, merge(l.fields, fields))
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	_, _ = l.out.w.Write(line)
	if level == FatalLevel {
		_ = l.out.w.Sync()
		os.Exit(1)
	}
}

func merge(base, extra []Field) []Field {
	out := make([]Field, 0, len(base)+len(extra))
	out = append(out, base...)
	for _, field := range extra {
		replaced := false
		for i := range out {
			if out[i].Key == field.Key {
				out[i] = field
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, field)
		}
	}
	return out
}

// encodeLine renders one JSON object. Values that cannot be marshalled are logged as text.
func encodeLine(ts time.Time, level Level, message string, fields []Field) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"timestamp":`)
	writeJSON(&buf, ts.Format(time.RFC3339Nano))
	buf.WriteString(`,"level":`)
	writeJSON(&buf, level.String())
	buf.WriteString(`,"message":`)
	writeJSON(&buf, message)
	for _, field := range fields {
		switch field.Key {
		case "timestamp", "level", "message":
			continue
		}
		buf.WriteByte(',')
		writeJSON(&buf, field.Key)
		buf.WriteByte(':')
		writeJSON(&buf, field.Value)
	}
	buf.WriteString("}\n")
	return buf.Bytes()
}

func writeJSON(buf *bytes.Buffer, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprint(value))
	}
	buf.Write(data)
}

type contextKey struct{}

// ContextWithLogger returns ctx carrying logger.
func ContextWithLogger(ctx context.Context, logger *Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in ctx, or fallback when there is none.
// A nil fallback resolves to L.
func FromContext(ctx context.Context, fallback *Logger) *Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(contextKey{}).(*Logger); ok && logger != nil {
			return logger
		}
	}
	if fallback != nil {
		return fallback
	}
	return L()
}

// NewTraceID returns a 32 character hex id.
func NewTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// HTTPTraceMiddleware gives every request a trace id, echoes it in TraceIDHeader and
// stores a logger tagged with it in the request context.
func HTTPTraceMiddleware(base *Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = L()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := strings.TrimSpace(r.Header.Get(TraceIDHeader))
			if traceID == "" {
				traceID = NewTraceID()
			}
			logger := base.With(String("trace_id", traceID))
			w.Header().Set(TraceIDHeader, traceID)
			logger.Debug("request received", String("method", r.Method), String("path", r.URL.Path))
			next.ServeHTTP(w, r.WithContext(ContextWithLogger(r.Context(), logger)))
		})
	}
}
