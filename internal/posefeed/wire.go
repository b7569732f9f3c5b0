// Package posefeed decodes object pose reports from the vision system and
// delivers them as tracking observations. Reports arrive as one JSON object
// per serial line or UDP datagram, and can be replayed from a packet
// capture.
package posefeed

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pickplace/internal/geom"
	"github.com/banshee-data/pickplace/internal/tracking"
)

// DefaultCameraFrame is assumed for reports that do not name a frame.
const DefaultCameraFrame = "camera_depth_optical_frame"

// ErrInvalidReport is returned for reports that cannot become an observation.
var ErrInvalidReport = errors.New("invalid pose report")

// Vec3 is a JSON position.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quat is a JSON orientation.
type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Report is one pose report on the wire.
type Report struct {
	Frame string `json:"frame,omitempty"`
	// Stamp is seconds since the Unix epoch.
	Stamp       float64 `json:"stamp,omitempty"`
	Position    *Vec3   `json:"position"`
	Orientation Quat    `json:"orientation"`
}

// Decoder turns wire reports into observations.
type Decoder struct {
	// DefaultFrame replaces an empty frame. Empty means DefaultCameraFrame.
	DefaultFrame string
}

// Decode parses one report.
//
// The vision node publishes the object's planar angle in orientation.w and
// leaves x, y and z at zero, so the observation's Orientation is the raw w
// value. The pose orientation is the normalised quaternion, or identity
// when the quaternion has no usable norm.
func (d Decoder) Decode(payload []byte) (tracking.Observation, error) {
	var r Report
	if err := json.Unmarshal(payload, &r); err != nil {
		return tracking.Observation{}, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	if r.Position == nil {
		return tracking.Observation{}, fmt.Errorf("%w: missing position", ErrInvalidReport)
	}
	for _, v := range []float64{r.Position.X, r.Position.Y, r.Position.Z, r.Orientation.W} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return tracking.Observation{}, fmt.Errorf("%w: non-finite value", ErrInvalidReport)
		}
	}

	q, err := geom.Normalize(quat.Number{Real: r.Orientation.W, Imag: r.Orientation.X, Jmag: r.Orientation.Y, Kmag: r.Orientation.Z})
	if err != nil {
		q = geom.Identity()
	}

	frame := r.Frame
	if frame == "" {
		frame = d.DefaultFrame
	}
	if frame == "" {
		frame = DefaultCameraFrame
	}

	return tracking.Observation{
		Pose:        geom.Pose{Position: r3.Vec{X: r.Position.X, Y: r.Position.Y, Z: r.Position.Z}, Orientation: q},
		Frame:       frame,
		Orientation: r.Orientation.W,
		Stamp:       stampTime(r.Stamp),
	}, nil
}

// Encode renders an object position and planar angle as a wire report, the
// way the vision node publishes it.
func Encode(frame string, stamp time.Time, pos r3.Vec, angle float64) ([]byte, error) {
	r := Report{
		Frame:       frame,
		Position:    &Vec3{X: pos.X, Y: pos.Y, Z: pos.Z},
		Orientation: Quat{W: angle},
	}
	if !stamp.IsZero() {
		r.Stamp = float64(stamp.UnixNano()) / 1e9
	}
	return json.Marshal(r)
}

func stampTime(sec float64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9))
}
