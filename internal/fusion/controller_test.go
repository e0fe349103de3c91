package fusion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sweepscan/internal/cloud"
)

const waitFor = 2 * time.Second

type fakeScans struct {
	in      chan cloud.Scan
	exit    chan error
	dropped uint64
}

func newFakeScans() *fakeScans {
	return &fakeScans{in: make(chan cloud.Scan), exit: make(chan error, 1)}
}

func (f *fakeScans) Run(ctx context.Context, out chan<- cloud.Scan) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-f.exit:
			return err
		case s := <-f.in:
			select {
			case out <- s:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (f *fakeScans) Dropped() uint64 { return f.dropped }

type fakePositions struct {
	in   chan float64
	exit chan error
}

func newFakePositions() *fakePositions {
	return &fakePositions{in: make(chan float64), exit: make(chan error, 1)}
}

func (f *fakePositions) Run(ctx context.Context, out chan<- float64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-f.exit:
			return err
		case v := <-f.in:
			select {
			case out <- v:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

type recordingViewer struct {
	renders chan []cloud.Point3D
}

func newRecordingViewer() *recordingViewer {
	return &recordingViewer{renders: make(chan []cloud.Point3D, 64)}
}

func (v *recordingViewer) Render(points []cloud.Point3D) { v.renders <- points }

func (v *recordingViewer) next(t *testing.T) []cloud.Point3D {
	t.Helper()
	select {
	case pts := <-v.renders:
		return pts
	case <-time.After(waitFor):
		t.Fatal("no render")
		return nil
	}
}

func (v *recordingViewer) assertNoRender(t *testing.T) {
	t.Helper()
	select {
	case pts := <-v.renders:
		t.Fatalf("unexpected render of %d points", len(pts))
	default:
	}
}

type harness struct {
	c      *Controller
	scans  *fakeScans
	pos    *fakePositions
	viewer *recordingViewer
}

func startController(t *testing.T, cfg Config, withFeed bool) *harness {
	t.Helper()
	h := &harness{scans: newFakeScans(), viewer: newRecordingViewer()}
	var positions PositionSource
	if withFeed {
		h.pos = newFakePositions()
		positions = h.pos
	}
	h.c = New(cfg, h.viewer, h.scans, positions)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(waitFor):
			t.Error("controller did not stop")
		}
	})
	return h
}

func (h *harness) scan(s cloud.Scan) { h.scans.in <- s }

func (h *harness) position(v float64) { h.pos.in <- v }

func (h *harness) waitSnapshot(t *testing.T, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	var s Snapshot
	require.Eventually(t, func() bool {
		s = h.c.Snapshot()
		return cond(s)
	}, waitFor, time.Millisecond)
	return s
}

func samples(distances ...float64) cloud.Scan {
	scan := make(cloud.Scan, len(distances))
	for i, d := range distances {
		scan[i] = cloud.RangeSample{Quality: 10, Angle: 0, Distance: d}
	}
	return scan
}

func xs(points []cloud.Point3D) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.X
	}
	return out
}

func TestContinuousCommitsEveryScanAtFixedKey(t *testing.T) {
	h := startController(t, Config{}, false)

	h.scan(samples(100, 200, 300))
	assert.Equal(t, []float64{0, 0, 0}, xs(h.viewer.next(t)))

	// same key replaces rather than appends
	h.scan(samples(150))
	pts := h.viewer.next(t)
	assert.Empty(t, cmp.Diff([]cloud.Point3D{{X: 0, Y: 150, Z: 0}}, pts))
}

func TestToggleToContinuousRendersPendingScan(t *testing.T) {
	h := startController(t, Config{StartMode: ModeManual}, false)

	h.scan(samples(100))
	h.waitSnapshot(t, func(s Snapshot) bool { return s.Pending })
	h.viewer.assertNoRender(t)

	h.c.ToggleMode()
	pts := h.viewer.next(t)
	require.NotEmpty(t, pts)
	assert.Empty(t, cmp.Diff([]cloud.Point3D{{X: 0, Y: 100, Z: 0}}, pts))
	assert.Equal(t, ModeContinuous.String(), h.waitSnapshot(t, func(s Snapshot) bool { return s.Renders == 1 }).Mode)
}

func TestToggleToManualDoesNotRender(t *testing.T) {
	h := startController(t, Config{}, false)

	h.c.ToggleMode()
	h.waitSnapshot(t, func(s Snapshot) bool { return s.Mode == "Current Mode" })
	h.viewer.assertNoRender(t)
}

func TestPositionFeedEndToEnd(t *testing.T) {
	h := startController(t, Config{}, true)

	h.position(0)
	h.waitSnapshot(t, func(s Snapshot) bool { return s.Positions == 1 })
	h.scan(cloud.Scan{{Quality: 10, Angle: 0, Distance: 100}})
	assert.Empty(t, cmp.Diff([]cloud.Point3D{{X: 0, Y: 100, Z: 0}}, h.viewer.next(t)))

	h.position(90)
	want := []cloud.Point3D{{X: 0, Y: 100, Z: 0}, {X: 90, Y: 100, Z: 0}}
	assert.Empty(t, cmp.Diff(want, h.viewer.next(t)))

	s := h.waitSnapshot(t, func(s Snapshot) bool { return s.Positions == 2 })
	assert.Equal(t, []float64{0, 90}, s.Keys)
	assert.Equal(t, 90.0, s.Key)
}

func TestPositionBeforeAnyScanDoesNotRender(t *testing.T) {
	h := startController(t, Config{}, true)

	h.position(12)
	h.waitSnapshot(t, func(s Snapshot) bool { return s.Key == 12 })
	h.viewer.assertNoRender(t)
}

func TestManualPositionUpdateIsSilent(t *testing.T) {
	h := startController(t, Config{StartMode: ModeManual}, true)

	h.scan(samples(100))
	h.position(45)
	h.waitSnapshot(t, func(s Snapshot) bool { return s.Key == 45 && s.Pending })
	h.viewer.assertNoRender(t)

	h.c.Advance()
	assert.Equal(t, []float64{45}, xs(h.viewer.next(t)))

	// the key is driven by the feed, so advance does not step it
	s := h.waitSnapshot(t, func(s Snapshot) bool { return s.Renders == 1 })
	assert.Equal(t, 45.0, s.Key)
}

func TestAdvanceStepsKeyWithoutFeed(t *testing.T) {
	h := startController(t, Config{StartMode: ModeManual}, false)

	h.scan(samples(100, 200, 300))
	h.waitSnapshot(t, func(s Snapshot) bool { return s.Pending })

	h.c.Advance()
	assert.Equal(t, []float64{0, 0, 0}, xs(h.viewer.next(t)))
	assert.Equal(t, 5.0, h.waitSnapshot(t, func(s Snapshot) bool { return s.Key == 5 }).Key)

	h.c.Advance()
	assert.Equal(t, []float64{0, 0, 0, 5, 5, 5}, xs(h.viewer.next(t)))
	s := h.waitSnapshot(t, func(s Snapshot) bool { return s.Key == 10 })
	assert.Equal(t, []float64{0, 5}, s.Keys)
}

func TestAdvanceWithCustomStep(t *testing.T) {
	h := startController(t, Config{Step: 2.5, StartMode: ModeManual}, false)

	h.scan(samples(100))
	h.waitSnapshot(t, func(s Snapshot) bool { return s.Pending })
	h.c.Advance()
	h.viewer.next(t)
	h.waitSnapshot(t, func(s Snapshot) bool { return s.Key == 2.5 })
}

func TestAdvanceWithoutScanIsNoop(t *testing.T) {
	h := startController(t, Config{}, false)

	h.c.Advance()
	h.c.Reset() // processed after Advance
	assert.Empty(t, h.viewer.next(t))
	s := h.waitSnapshot(t, func(s Snapshot) bool { return s.Renders == 1 })
	assert.Zero(t, s.Key)
}

func TestLegacyAccumulateIsAdditive(t *testing.T) {
	h := startController(t, Config{LegacyAccumulate: true, StartMode: ModeManual}, false)

	h.scan(samples(100, 200))
	h.waitSnapshot(t, func(s Snapshot) bool { return s.Scans == 1 })
	h.c.Advance()
	assert.Len(t, h.viewer.next(t), 2)

	h.scan(samples(100, 200, 300))
	h.waitSnapshot(t, func(s Snapshot) bool { return s.Scans == 2 })
	h.c.Advance()
	pts := h.viewer.next(t)
	assert.Len(t, pts, 5)
	assert.Equal(t, []float64{0, 0, 5, 5, 5}, xs(pts))

	s := h.waitSnapshot(t, func(s Snapshot) bool { return s.Key == 10 })
	assert.Empty(t, s.Keys)
}

func TestLegacyContinuousPreviewsLiveScan(t *testing.T) {
	h := startController(t, Config{LegacyAccumulate: true}, false)

	h.scan(samples(100))
	assert.Len(t, h.viewer.next(t), 1)
	h.scan(samples(100, 200))
	assert.Len(t, h.viewer.next(t), 2)

	h.c.Advance()
	assert.Len(t, h.viewer.next(t), 4) // committed scan plus its preview
	s := h.waitSnapshot(t, func(s Snapshot) bool { return s.Key == 5 })
	assert.Empty(t, s.Keys)
}

func TestResetClearsCloudAndKey(t *testing.T) {
	h := startController(t, Config{}, true)

	h.position(10)
	h.waitSnapshot(t, func(s Snapshot) bool { return s.Key == 10 })
	h.scan(samples(100))
	require.Len(t, h.viewer.next(t), 1)

	h.c.Reset()
	assert.Empty(t, h.viewer.next(t))
	s := h.waitSnapshot(t, func(s Snapshot) bool { return s.Renders == 2 })
	assert.Zero(t, s.Key)
	assert.Zero(t, s.Points)
	assert.Empty(t, s.Keys)
}

func TestResetWithoutFeedRestartsFixedStep(t *testing.T) {
	h := startController(t, Config{StartMode: ModeManual}, false)

	h.scan(samples(100))
	h.waitSnapshot(t, func(s Snapshot) bool { return s.Pending })
	h.c.Advance()
	h.viewer.next(t)
	h.waitSnapshot(t, func(s Snapshot) bool { return s.Key == 5 })

	h.c.Reset()
	assert.Empty(t, h.viewer.next(t))
	h.waitSnapshot(t, func(s Snapshot) bool { return s.Key == 0 })

	// the pending scan survives a reset
	h.c.Advance()
	assert.Equal(t, []float64{0}, xs(h.viewer.next(t)))
}

func TestSourceExitHaltsCommits(t *testing.T) {
	stopped := make(chan string, 2)
	h := startController(t, Config{
		OnSourceStopped: func(source string, err error) { stopped <- source + ": " + err.Error() },
	}, true)

	h.scan(samples(100))
	require.Len(t, h.viewer.next(t), 1)

	h.pos.exit <- errors.New("unplugged")
	select {
	case msg := <-stopped:
		assert.Equal(t, "position: unplugged", msg)
	case <-time.After(waitFor):
		t.Fatal("OnSourceStopped not called")
	}

	h.scan(samples(100, 200))
	s := h.waitSnapshot(t, func(s Snapshot) bool { return s.Scans == 2 })
	h.viewer.assertNoRender(t)
	assert.True(t, s.Halted)
	assert.Equal(t, map[string]string{SourcePosition: "unplugged"}, s.Stopped)
	assert.Equal(t, 1, s.Points)

	h.c.Advance()
	h.c.ToggleMode()
	s = h.waitSnapshot(t, func(s Snapshot) bool { return s.Mode == ModeManual.String() })
	h.viewer.assertNoRender(t)

	// reset and toggle still work with both sources gone
	h.scans.exit <- errors.New("health")
	h.waitSnapshot(t, func(s Snapshot) bool { return len(s.Stopped) == 2 })
	h.c.ToggleMode()
	h.c.Reset()
	assert.Empty(t, h.viewer.next(t))
	s = h.waitSnapshot(t, func(s Snapshot) bool { return s.Mode == ModeContinuous.String() && s.Renders == 2 })
	assert.Zero(t, s.Points)
}

func TestSnapshotReportsDrops(t *testing.T) {
	scans := newFakeScans()
	scans.dropped = 3
	c := New(Config{}, newRecordingViewer(), scans, nil)

	s := c.Snapshot()
	assert.Equal(t, uint64(3), s.ScansDropped)
	assert.Zero(t, s.ReadingDropped)
	assert.NotEmpty(t, s.Session)
	assert.Equal(t, "Constant Mode", s.Mode)
	assert.NotNil(t, s.Keys)
}

func TestRunOnceAndCommandsAfterExit(t *testing.T) {
	c := New(Config{}, newRecordingViewer(), newFakeScans(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}

	returned := make(chan struct{})
	go func() {
		c.Reset()
		c.ToggleMode()
		c.Advance()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(waitFor):
		t.Fatal("commands blocked after Run exited")
	}

	assert.Error(t, c.Run(context.Background()))
}
