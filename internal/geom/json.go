package geom

import (
	"encoding/json"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

type vecJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type quatJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

type poseJSON struct {
	Position    vecJSON  `json:"position"`
	Orientation quatJSON `json:"orientation"`
}

// MarshalJSON writes the pose in the geometry_msgs layout:
// {"position":{"x","y","z"},"orientation":{"x","y","z","w"}}.
func (p Pose) MarshalJSON() ([]byte, error) {
	q := p.Orientation
	return json.Marshal(poseJSON{
		Position:    vecJSON{X: p.Position.X, Y: p.Position.Y, Z: p.Position.Z},
		Orientation: quatJSON{X: q.Imag, Y: q.Jmag, Z: q.Kmag, W: q.Real},
	})
}

func (p *Pose) UnmarshalJSON(data []byte) error {
	var v poseJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	p.Position = r3.Vec{X: v.Position.X, Y: v.Position.Y, Z: v.Position.Z}
	p.Orientation = quat.Number{Real: v.Orientation.W, Imag: v.Orientation.X, Jmag: v.Orientation.Y, Kmag: v.Orientation.Z}
	return nil
}
