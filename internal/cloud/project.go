package cloud

import "math"

// Project converts a scan's polar samples into points lying in the Y/Z plane
// at X = sweepKey. An empty scan yields an empty, non-nil slice.
func Project(scan Scan, sweepKey float64) []Point3D {
	points := make([]Point3D, len(scan))
	for i, s := range scan {
		rad := s.Angle * math.Pi / 180.0
		points[i] = Point3D{
			X: sweepKey,
			Y: s.Distance * math.Cos(rad),
			Z: s.Distance * math.Sin(rad),
		}
	}
	return points
}
