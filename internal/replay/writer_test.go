package replay

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriterAppendAndFlushCadence(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2024, 7, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	writer, manifest, err := NewWriter(tmp, "Test Flight!", clock)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	if filepath.Base(writer.Directory()) != "TestFlight-20240710T120000Z" {
		t.Fatalf("unexpected bundle directory %q", writer.Directory())
	}
	if manifest.FrameIntervalMs != 200 || manifest.SessionID != "Test Flight!" {
		t.Fatalf("unexpected manifest %+v", manifest)
	}
	writer.SetHeaderMetadata(1, 20, TerrainParameters{"riverWidth": 16})

	if err := writer.AppendEvent(10, 33, "gate_passed", []byte(`{"index":0}`)); err != nil {
		t.Fatalf("append event: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if err := writer.AppendFrame(uint64(i), int64(i*100), []byte{0x01, 0x02, 0x03}); err != nil {
			t.Fatalf("append frame %d: %v", i, err)
		}
		now = now.Add(110 * time.Millisecond)
	}
	if stats := writer.Stats(); stats.Events != 1 || stats.Frames != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	bundle, err := ReadBundle(writer.Directory())
	if err != nil {
		t.Fatalf("ReadBundle: %v", err)
	}
	if len(bundle.Events) != 1 || bundle.Events[0].Type != "gate_passed" || string(bundle.Events[0].Payload) != `{"index":0}` {
		t.Fatalf("unexpected events %+v", bundle.Events)
	}
	if len(bundle.Frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(bundle.Frames))
	}
	for idx, frame := range bundle.Frames {
		if frame.Tick != uint64(idx+1) || frame.SimulatedMs != int64((idx+1)*100) || len(frame.Payload) != 3 {
			t.Fatalf("unexpected frame %d: %+v", idx, frame)
		}
	}
	if bundle.Header.SessionID != "Test Flight!" || bundle.Header.Level != 1 || bundle.Header.TotalGates != 20 {
		t.Fatalf("unexpected header %+v", bundle.Header)
	}
	if bundle.Header.FilePointer != manifestName || bundle.Header.TerrainParams["riverWidth"] != 16 {
		t.Fatalf("unexpected header pointer or terrain %+v", bundle.Header)
	}
}

func TestWriterRejectsAppendsAfterClose(t *testing.T) {
	writer, _, err := NewWriter(t.TempDir(), "closed", nil)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := writer.AppendFrame(1, 1, nil); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("expected ErrWriterClosed, got %v", err)
	}
	if err := writer.AppendEvent(1, 1, "x", nil); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("expected ErrWriterClosed, got %v", err)
	}
}

func TestPoseFramesRoundTripThroughBundle(t *testing.T) {
	writer, _, err := NewWriter(t.TempDir(), "poses", nil, WithFrameInterval(0))
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	want := Pose{
		Position:    [3]float64{1, 5, -40},
		Velocity:    [3]float64{0, 0, -16},
		Orientation: [4]float64{1, 0, 0, 0},
		Energy:      72.5,
		Score:       1000,
		GatesPassed: 2,
		Flipping:    true,
	}
	if err := writer.AppendPose(7, 116, want); err != nil {
		t.Fatalf("AppendPose: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	bundle, err := ReadBundle(filepath.Join(writer.Directory(), manifestName))
	if err != nil {
		t.Fatalf("ReadBundle: %v", err)
	}
	poses, err := bundle.Poses()
	if err != nil {
		t.Fatalf("Poses: %v", err)
	}
	if len(poses) != 1 || poses[0] != want {
		t.Fatalf("unexpected poses %+v", poses)
	}
}

func TestPoseRejectsBadInput(t *testing.T) {
	var pose Pose
	if err := pose.UnmarshalBinary(make([]byte, PoseSize-1)); !errors.Is(err, ErrPoseSize) {
		t.Fatalf("expected ErrPoseSize, got %v", err)
	}
	if _, err := (Pose{GatesPassed: -1}).MarshalBinary(); err == nil {
		t.Fatal("expected negative gate count to be rejected")
	}
}

func TestDecodeFramesDetectsTruncation(t *testing.T) {
	raw := encodeFrame(Frame{Tick: 1, Payload: []byte{1, 2, 3}})
	frames, err := decodeFrames(raw[:len(raw)-1])
	if err == nil || len(frames) != 0 {
		t.Fatalf("expected truncation error, got %v frames=%d", err, len(frames))
	}
}

func TestListSkipsOpenFlights(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2024, 7, 10, 12, 0, 0, 0, time.UTC)
	closed, _, err := NewWriter(root, "b-session", func() time.Time { return now })
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	closed.SetHeaderMetadata(2, 25, nil)
	if err := closed.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	open, _, err := NewWriter(root, "a-session", func() time.Time { return now })
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	defer open.Close()
	if err := os.WriteFile(filepath.Join(root, "README"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	entries, err := List(root)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Header.SessionID != "b-session" || entries[0].Header.Level != 2 {
		t.Fatalf("unexpected entries %+v", entries)
	}
}
