package replay

import (
	"encoding/binary"
	"fmt"
	"time"
)

// frameHeaderSize is tick, simulated ms and capture nanos as uint64 plus a uint32 length.
const frameHeaderSize = 8 + 8 + 8 + 4

// Event is one decoded line of the event log.
type Event struct {
	Tick        uint64    `json:"tick"`
	SimulatedMs int64     `json:"simulated_ms"`
	CapturedAt  time.Time `json:"captured_at"`
	Type        string    `json:"type"`
	Payload     []byte    `json:"payload"`
}

// Frame is one binary blob of the frame stream.
type Frame struct {
	Tick        uint64    `json:"tick"`
	SimulatedMs int64     `json:"simulated_ms"`
	CapturedAt  time.Time `json:"captured_at"`
	Payload     []byte    `json:"payload"`
}

// Pose decodes the frame payload.
func (f Frame) Pose() (Pose, error) {
	var pose Pose
	err := pose.UnmarshalBinary(f.Payload)
	return pose, err
}

type eventRecord struct {
	Tick        uint64 `json:"tick"`
	SimulatedMs int64  `json:"simulated_ms"`
	CapturedAt  string `json:"captured_at"`
	Type        string `json:"type"`
	PayloadB64  string `json:"payload_b64"`
}

func encodeFrame(frame Frame) []byte {
	buf := make([]byte, frameHeaderSize+len(frame.Payload))
	binary.LittleEndian.PutUint64(buf[0:8], frame.Tick)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(frame.SimulatedMs))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(frame.CapturedAt.UnixNano()))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(len(frame.Payload)))
	copy(buf[frameHeaderSize:], frame.Payload)
	return buf
}

// decodeFrames splits a decompressed frame stream back into frames.
func decodeFrames(raw []byte) ([]Frame, error) {
	var frames []Frame
	offset := 0
	for offset < len(raw) {
		if offset+frameHeaderSize > len(raw) {
			return frames, fmt.Errorf("frame header truncated at offset %d", offset)
		}
		tick := binary.LittleEndian.Uint64(raw[offset : offset+8])
		sim := int64(binary.LittleEndian.Uint64(raw[offset+8 : offset+16]))
		captured := int64(binary.LittleEndian.Uint64(raw[offset+16 : offset+24]))
		size := int(binary.LittleEndian.Uint32(raw[offset+24 : offset+28]))
		offset += frameHeaderSize
		if offset+size > len(raw) {
			return frames, fmt.Errorf("frame payload truncated at offset %d", offset)
		}
		frames = append(frames, Frame{
			Tick:        tick,
			SimulatedMs: sim,
			CapturedAt:  time.Unix(0, captured).UTC(),
			Payload:     append([]byte(nil), raw[offset:offset+size]...),
		})
		offset += size
	}
	return frames, nil
}
