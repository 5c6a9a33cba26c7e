package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

type bufferSyncWriter struct {
	bytes.Buffer
}

func (b *bufferSyncWriter) Sync() error { return nil }

func TestLoggerWritesStructuredFields(t *testing.T) {
	buf := &bufferSyncWriter{}
	logger := &Logger{level: InfoLevel, out: &output{w: buf}, fields: []Field{{Key: "service", Value: "drone-broker"}}}

	logger.With(Session("abc")).Info("gate passed",
		Int("gate", 3),
		Float64("energy", 42.5),
		Error(errors.New("boom")),
	)
	logger.Debug("suppressed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected a single log line, got %d: %q", len(lines), buf.String())
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &payload); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if payload["session_id"] != "abc" || payload["message"] != "gate passed" || payload["level"] != "info" {
		t.Fatalf("unexpected payload: %#v", payload)
	}
	if payload["energy"].(float64) != 42.5 || payload["gate"].(float64) != 3 {
		t.Fatalf("unexpected numeric fields: %#v", payload)
	}
	if payload["error"] != "boom" {
		t.Fatalf("expected error text, got %#v", payload["error"])
	}
}

func TestLoggerKeepsFieldOrder(t *testing.T) {
	buf := &bufferSyncWriter{}
	logger := (&Logger{level: DebugLevel, out: &output{w: buf}}).
		With(Component("relay"), Session("s-1"))

	logger.Info("controller connected", Client("c-9"), Session("s-2"), String("level", "ignored"), Tick(7))

	line := strings.TrimSpace(buf.String())
	//1.- Header keys first, bound fields next and call fields last; a repeated key keeps its slot.
	want := []string{`"timestamp"`, `"level":"info"`, `"message":"controller connected"`, `"component":"relay"`, `"session_id":"s-2"`, `"client_id":"c-9"`, `"tick":7`}
	last := -1
	for _, fragment := range want {
		idx := strings.Index(line, fragment)
		if idx <= last {
			t.Fatalf("expected %s after position %d in %s", fragment, last, line)
		}
		last = idx
	}
	if strings.Contains(line, "ignored") || strings.Contains(line, "s-1") {
		t.Fatalf("reserved or replaced keys leaked: %s", line)
	}
}

func TestLoggerFallsBackToTextForUnencodableValues(t *testing.T) {
	buf := &bufferSyncWriter{}
	logger := &Logger{level: DebugLevel, out: &output{w: buf}}
	logger.Warn("odd value", Field{Key: "ch", Value: make(chan int)})

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if _, ok := payload["ch"].(string); !ok {
		t.Fatalf("expected text rendering, got %#v", payload["ch"])
	}
}

func TestParseLevel(t *testing.T) {
	for raw, want := range map[string]Level{"": InfoLevel, "DEBUG": DebugLevel, "warning": WarnLevel, " error ": ErrorLevel, "fatal": FatalLevel} {
		got, err := parseLevel(raw)
		if err != nil || got != want {
			t.Fatalf("parseLevel(%q) = %v, %v; want %v", raw, got, err, want)
		}
	}
	if _, err := parseLevel("loud"); err == nil {
		t.Fatal("expected unknown level error")
	}
}

func TestRotatingWriterCompressesBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drone.log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	writer := &rotatingWriter{path: path, maxSize: 32, maxBackups: 2, compress: true, file: file}

	first := []byte(strings.Repeat("a", 30) + "\n")
	if _, err := writer.Write(first); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := writer.Write([]byte("rotated\n")); err != nil {
		t.Fatalf("second write: %v", err)
	}

	matches, err := filepath.Glob(path + ".*.gz")
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one compressed backup, got %v (%v)", matches, err)
	}
	in, err := os.Open(matches[0])
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer in.Close()
	gz, err := gzip.NewReader(in)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	restored, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if !bytes.Equal(restored, first) {
		t.Fatalf("backup mismatch: %q", restored)
	}
	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if string(current) != "rotated\n" {
		t.Fatalf("unexpected active log contents %q", current)
	}
}

func TestFromContextFallsBack(t *testing.T) {
	fallback := NewTestLogger()
	if FromContext(context.Background(), fallback) != fallback {
		t.Fatal("expected the fallback without a context logger")
	}
	if FromContext(nil, nil) != L() {
		t.Fatal("expected nil context and fallback to resolve the global logger")
	}
	logger := NewTestLogger()
	ctx := ContextWithLogger(context.Background(), logger)
	if FromContext(ctx, fallback) != logger {
		t.Fatal("expected context logger to be returned")
	}
}

func TestHTTPTraceMiddlewareTagsRequests(t *testing.T) {
	buf := &bufferSyncWriter{}
	base := &Logger{level: DebugLevel, out: &output{w: buf}}
	var seen *Logger
	handler := HTTPTraceMiddleware(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context(), nil)
		seen.Info("handled")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	traceID := rr.Header().Get(TraceIDHeader)
	if len(traceID) != 32 {
		t.Fatalf("expected a 32 character trace id, got %q", traceID)
	}
	if seen == nil || seen == base {
		t.Fatal("expected a derived request logger in the context")
	}
	if !strings.Contains(buf.String(), `"trace_id":"`+traceID+`"`) {
		t.Fatalf("expected trace id on request lines: %s", buf.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set(TraceIDHeader, "abc123")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Header().Get(TraceIDHeader) != "abc123" {
		t.Fatalf("expected incoming trace id to be echoed, got %q", rr.Header().Get(TraceIDHeader))
	}
}
