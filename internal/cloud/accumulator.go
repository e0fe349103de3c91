package cloud

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// DefaultStep is the fixed sweep-axis increment applied after each manual
// commit when no position feed drives the sweep key.
const DefaultStep = 5.0

// ErrInvalidKey is returned when a commit is attempted at a NaN or infinite
// sweep key. Such keys cannot be compared for equality, so they would break
// the one-bucket-per-key rule.
var ErrInvalidKey = errors.New("invalid sweep key")

// Accumulator holds the evolving point cloud.
//
// Points are kept in buckets keyed by sweep position; committing at an
// existing key replaces that bucket. A separate running buffer serves the
// legacy fixed-origin accumulate mode, and a fixed-step offset serves the
// variant without a position feed.
//
// Accumulator is not safe for concurrent use; the fusion loop is its only
// writer.
type Accumulator struct {
	buckets map[float64][]Point3D
	running []Point3D
	step    float64
	offset  float64
}

// NewAccumulator returns an empty accumulator whose fixed-step offset
// advances by step. A non-positive step selects DefaultStep.
func NewAccumulator(step float64) *Accumulator {
	if step <= 0 || math.IsNaN(step) || math.IsInf(step, 0) {
		step = DefaultStep
	}
	return &Accumulator{
		buckets: make(map[float64][]Point3D),
		step:    step,
	}
}

// Commit replaces the bucket at key with points, inserting it if absent.
// The slice is copied, so the caller may reuse it.
func (a *Accumulator) Commit(key float64, points []Point3D) error {
	if math.IsNaN(key) || math.IsInf(key, 0) {
		return fmt.Errorf("commit at %v: %w", key, ErrInvalidKey)
	}
	bucket := make([]Point3D, len(points))
	copy(bucket, points)
	a.buckets[key] = bucket
	return nil
}

// CommitAppendingAtFixedOrigin appends points to the running buffer rather
// than keying them by sweep position.
func (a *Accumulator) CommitAppendingAtFixedOrigin(points []Point3D) {
	grown := make([]Point3D, len(a.running), len(a.running)+len(points))
	copy(grown, a.running)
	a.running = append(grown, points...)
}

// Flatten returns the current point cloud: every bucket in ascending key
// order followed by the running buffer.
func (a *Accumulator) Flatten() []Point3D {
	out := make([]Point3D, 0, a.Len())
	for _, k := range a.Keys() {
		out = append(out, a.buckets[k]...)
	}
	return append(out, a.running...)
}

// Reset drops all buckets, the running buffer and the fixed-step offset.
func (a *Accumulator) Reset() {
	a.buckets = make(map[float64][]Point3D)
	a.running = nil
	a.offset = 0
}

// Keys returns the bucket keys in ascending order.
func (a *Accumulator) Keys() []float64 {
	keys := make([]float64, 0, len(a.buckets))
	for k := range a.buckets {
		keys = append(keys, k)
	}
	sort.Float64s(keys)
	return keys
}

// Bucket returns a copy of the points committed at key.
func (a *Accumulator) Bucket(key float64) ([]Point3D, bool) {
	b, ok := a.buckets[key]
	if !ok {
		return nil, false
	}
	out := make([]Point3D, len(b))
	copy(out, b)
	return out, true
}

// Len returns the number of points Flatten would return.
func (a *Accumulator) Len() int {
	n := len(a.running)
	for _, b := range a.buckets {
		n += len(b)
	}
	return n
}

// Offset is the current fixed-step sweep key.
func (a *Accumulator) Offset() float64 { return a.offset }

// Step is the increment applied by Advance.
func (a *Accumulator) Step() float64 { return a.step }

// Advance moves the fixed-step offset forward by one step and returns the
// new offset. The offset is never pruned; it only returns to zero on Reset.
func (a *Accumulator) Advance() float64 {
	a.offset += a.step
	return a.offset
}
