package replay

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// PoseSize is the encoded length of a Pose.
const PoseSize = 10*8 + 8 + 4 + 2 + 1

// ErrPoseSize reports a payload that is not exactly PoseSize bytes.
var ErrPoseSize = errors.New("pose payload has the wrong size")

const poseFlagFlipping = 1 << 0

// Pose is the per-frame drone sample stored in the frame stream.
type Pose struct {
	Position [3]float64 `json:"position"`
	Velocity [3]float64 `json:"velocity"`
	// Orientation is a unit quaternion ordered w, x, y, z.
	Orientation [4]float64 `json:"orientation"`
	Energy      float64    `json:"energy"`
	Score       int        `json:"score"`
	GatesPassed int        `json:"gates_passed"`
	Flipping    bool       `json:"flipping"`
}

// MarshalBinary encodes the pose as little endian fixed width fields.
func (p Pose) MarshalBinary() ([]byte, error) {
	if p.Score < math.MinInt32 || p.Score > math.MaxInt32 {
		return nil, fmt.Errorf("pose score %d out of range", p.Score)
	}
	if p.GatesPassed < 0 || p.GatesPassed > math.MaxUint16 {
		return nil, fmt.Errorf("pose gates %d out of range", p.GatesPassed)
	}
	buf := make([]byte, PoseSize)
	offset := 0
	putFloat := func(v float64) {
		binary.LittleEndian.PutUint64(buf[offset:], math.Float64bits(v))
		offset += 8
	}
	for _, v := range p.Position {
		putFloat(v)
	}
	for _, v := range p.Velocity {
		putFloat(v)
	}
	for _, v := range p.Orientation {
		putFloat(v)
	}
	putFloat(p.Energy)
	binary.LittleEndian.PutUint32(buf[offset:], uint32(int32(p.Score)))
	offset += 4
	binary.LittleEndian.PutUint16(buf[offset:], uint16(p.GatesPassed))
	offset += 2
	if p.Flipping {
		buf[offset] |= poseFlagFlipping
	}
	return buf, nil
}

// UnmarshalBinary decodes a payload produced by MarshalBinary.
func (p *Pose) UnmarshalBinary(data []byte) error {
	if len(data) != PoseSize {
		return fmt.Errorf("%w: got %d bytes", ErrPoseSize, len(data))
	}
	offset := 0
	getFloat := func() float64 {
		v := math.Float64frombits(binary.LittleEndian.Uint64(data[offset:]))
		offset += 8
		return v
	}
	for i := range p.Position {
		p.Position[i] = getFloat()
	}
	for i := range p.Velocity {
		p.Velocity[i] = getFloat()
	}
	for i := range p.Orientation {
		p.Orientation[i] = getFloat()
	}
	p.Energy = getFloat()
	p.Score = int(int32(binary.LittleEndian.Uint32(data[offset:])))
	offset += 4
	p.GatesPassed = int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2
	p.Flipping = data[offset]&poseFlagFlipping != 0
	return nil
}
