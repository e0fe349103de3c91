// Package cloud holds the scan data model, the polar-to-Cartesian projector
// and the Accumulator that keys projected slices by sweep position.
package cloud

import "gonum.org/v1/gonum/spatial/r3"

// RangeSample is one return from the rotating range scanner.
type RangeSample struct {
	Quality  int     `json:"quality"`
	Angle    float64 `json:"angle"`    // degrees, [0,360)
	Distance float64 `json:"distance"` // millimetres
}

// Scan is the ordered set of samples captured within one sensor revolution.
type Scan []RangeSample

// Point3D is a reconstructed point. X is the sweep axis; Y and Z are the
// in-plane projection of the scan.
type Point3D = r3.Vec
