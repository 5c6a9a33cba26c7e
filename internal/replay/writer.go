// Package replay records flights to disk and reads them back. A flight bundle is a
// directory holding a manifest, a snappy framed JSONL event log, a zstd compressed
// stream of binary pose frames and a header describing the course and terrain.
package replay

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

const (
	// DefaultFrameInterval batches pose frames at 5 Hz.
	DefaultFrameInterval = 200 * time.Millisecond

	manifestName = "manifest.json"
	headerName   = "header.json"
	eventsName   = "events.jsonl.sz"
	framesName   = "frames.bin.zst"
)

// ErrWriterClosed is returned when appending to a closed writer.
var ErrWriterClosed = errors.New("replay writer closed")

var sessionNameCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Manifest describes the bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version         int    `json:"version"`
	SessionID       string `json:"session_id"`
	CreatedAt       string `json:"created_at"`
	FrameIntervalMs int    `json:"frame_interval_ms"`
	EventsPath      string `json:"events_path"`
	FramesPath      string `json:"frames_path"`
}

// WriterOption customises a Writer.
type WriterOption func(*Writer)

// WithFrameInterval overrides how often staged frames are flushed to the zstd stream.
func WithFrameInterval(interval time.Duration) WriterOption {
	return func(w *Writer) {
		if interval >= 0 {
			w.interval = interval
		}
	}
}

// WriterStats counts what a writer persisted so far.
type WriterStats struct {
	Events int
	Frames int
}

// Writer streams one flight to disk.
type Writer struct {
	mu          sync.Mutex
	dir         string
	sessionID   string
	now         func() time.Time
	interval    time.Duration
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	pending     []Frame
	lastFlush   time.Time
	stats       WriterStats
	closed      bool

	headerLevel   int
	headerGates   int
	headerTerrain TerrainParameters
}

// NewWriter creates a bundle directory under root named after the session and opens
// the compressed sinks.
func NewWriter(root, sessionID string, clock func() time.Time, opts ...WriterOption) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("replay root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := sessionNameCleaner.ReplaceAllString(sessionID, "")
	if cleaned == "" {
		cleaned = "flight"
	}
	created := clock().UTC()
	path := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	w := &Writer{dir: path, sessionID: sessionID, now: clock, interval: DefaultFrameInterval}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}

	//1.- Open the event log first; every later failure unwinds what was opened.
	eventFile, err := os.Create(filepath.Join(path, eventsName))
	if err != nil {
		return nil, Manifest{}, err
	}
	w.eventFile = eventFile
	w.eventStream = snappy.NewBufferedWriter(eventFile)

	frameFile, err := os.Create(filepath.Join(path, framesName))
	if err != nil {
		w.abort()
		return nil, Manifest{}, err
	}
	w.frameFile = frameFile
	frameStream, err := zstd.NewWriter(frameFile, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		w.abort()
		return nil, Manifest{}, err
	}
	w.frameStream = frameStream

	//2.- Persist the manifest eagerly so partially written bundles stay discoverable.
	manifest := Manifest{
		Version:         1,
		SessionID:       sessionID,
		CreatedAt:       created.Format(time.RFC3339Nano),
		FrameIntervalMs: int(w.interval / time.Millisecond),
		EventsPath:      eventsName,
		FramesPath:      framesName,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		w.abort()
		return nil, Manifest{}, err
	}
	if err := os.WriteFile(filepath.Join(path, manifestName), data, 0o644); err != nil {
		w.abort()
		return nil, Manifest{}, err
	}
	return w, manifest, nil
}

func (w *Writer) abort() {
	if w.frameStream != nil {
		w.frameStream.Close()
	}
	if w.frameFile != nil {
		w.frameFile.Close()
	}
	if w.eventStream != nil {
		w.eventStream.Close()
	}
	if w.eventFile != nil {
		w.eventFile.Close()
	}
}

// Directory exposes the directory backing the bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// Stats returns what has been persisted or staged so far.
func (w *Writer) Stats() WriterStats {
	if w == nil {
		return WriterStats{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// AppendEvent writes one JSON line to the compressed event log.
func (w *Writer) AppendEvent(tick uint64, simulatedMs int64, eventType string, payload []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}

	line, err := json.Marshal(eventRecord{
		Tick:        tick,
		SimulatedMs: simulatedMs,
		CapturedAt:  captured.Format(time.RFC3339Nano),
		Type:        eventType,
		PayloadB64:  base64.StdEncoding.EncodeToString(payload),
	})
	if err != nil {
		return err
	}
	if _, err := w.eventStream.Write(append(line, '\n')); err != nil {
		return err
	}
	w.stats.Events++
	return w.eventStream.Flush()
}

// AppendFrame stages a binary frame and flushes the batch once the interval elapsed.
func (w *Writer) AppendFrame(tick uint64, simulatedMs int64, payload []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()
	clone := append([]byte(nil), payload...)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}

	w.pending = append(w.pending, Frame{Tick: tick, SimulatedMs: simulatedMs, CapturedAt: captured, Payload: clone})
	w.stats.Frames++
	if w.lastFlush.IsZero() {
		w.lastFlush = captured
		return nil
	}
	if captured.Sub(w.lastFlush) >= w.interval {
		if err := w.flushLocked(); err != nil {
			return err
		}
		w.lastFlush = captured
	}
	return nil
}

// AppendPose encodes pose and stages it as a frame.
func (w *Writer) AppendPose(tick uint64, simulatedMs int64, pose Pose) error {
	payload, err := pose.MarshalBinary()
	if err != nil {
		return err
	}
	return w.AppendFrame(tick, simulatedMs, payload)
}

// SetHeaderMetadata records the course and terrain the flight runs on. The header is
// written when the writer closes.
func (w *Writer) SetHeaderMetadata(level, totalGates int, terrain TerrainParameters) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.headerLevel = level
	w.headerGates = totalGates
	w.headerTerrain = terrain.Clone()
	w.mu.Unlock()
}

// Flush forces staged frames to the zstd stream regardless of cadence.
func (w *Writer) Flush() error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	if err := w.frameStream.Flush(); err != nil {
		return err
	}
	w.lastFlush = w.now().UTC()
	return nil
}

// Close writes the header, flushes all buffers and releases file handles. Closing twice
// is a no-op.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	//1.- Attempt every step and surface the first failure.
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(WriteHeader(filepath.Join(w.dir, headerName), Header{
		SchemaVersion: HeaderSchemaVersion,
		SessionID:     w.sessionID,
		Level:         w.headerLevel,
		TotalGates:    w.headerGates,
		TerrainParams: w.headerTerrain.Clone(),
		FilePointer:   manifestName,
	}))
	keep(w.flushLocked())
	keep(w.eventStream.Close())
	keep(w.eventFile.Close())
	keep(w.frameStream.Close())
	keep(w.frameFile.Close())
	return firstErr
}

// flushLocked writes staged frames to the zstd stream; callers hold the mutex.
func (w *Writer) flushLocked() error {
	for _, frame := range w.pending {
		if _, err := w.frameStream.Write(encodeFrame(frame)); err != nil {
			return err
		}
	}
	w.pending = w.pending[:0]
	return nil
}
