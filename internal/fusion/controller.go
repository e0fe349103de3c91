// Package fusion combines range scans and sweep positions into a point
// cloud. A single loop owns the accumulator; sources and viewers only talk
// to it through channels.
package fusion

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/sweepscan/internal/cloud"
	"github.com/banshee-data/sweepscan/internal/monitoring"
)

// Source names used in logs, snapshots and OnSourceStopped.
const (
	SourceRange    = "range"
	SourcePosition = "position"
)

// DefaultQueueSize is the capacity of each source queue.
const DefaultQueueSize = 8

// Viewer displays the cloud. Render is called from the controller loop with
// a slice the viewer may keep.
type Viewer interface {
	Render(points []cloud.Point3D)
}

// ScanSource produces range scans until ctx is done or it fails.
type ScanSource interface {
	Run(ctx context.Context, out chan<- cloud.Scan) error
}

// PositionSource produces sweep positions until ctx is done or it fails.
type PositionSource interface {
	Run(ctx context.Context, out chan<- float64) error
}

// dropCounter is implemented by sources that count discarded events.
type dropCounter interface {
	Dropped() uint64
}

// Config controls a Controller.
type Config struct {
	// Step is the fixed sweep step used without a position feed.
	Step float64
	// LegacyAccumulate appends manual commits to a single running buffer
	// when there is no position feed.
	LegacyAccumulate bool
	StartMode        Mode
	QueueSize        int
	// OnSourceStopped is called from the controller loop when a source exits
	// while the controller is still running. It must not call back into the
	// controller.
	OnSourceStopped func(source string, err error)
}

// Snapshot is the controller state reported to status pages.
type Snapshot struct {
	Session        string            `json:"session"`
	Mode           string            `json:"mode"`
	Key            float64           `json:"key"`
	Keys           []float64         `json:"keys"`
	Points         int               `json:"points"`
	Pending        bool              `json:"pending"`
	Halted         bool              `json:"halted"`
	Scans          uint64            `json:"scans"`
	Positions      uint64            `json:"positions"`
	Renders        uint64            `json:"renders"`
	ScansDropped   uint64            `json:"scans_dropped"`
	ReadingDropped uint64            `json:"readings_dropped"`
	Stopped        map[string]string `json:"stopped,omitempty"`
}

type command int

const (
	cmdReset command = iota
	cmdToggle
	cmdAdvance
)

type sourceExit struct {
	name string
	err  error
}

// Controller is the FusionController.
type Controller struct {
	cfg       Config
	viewer    Viewer
	scans     ScanSource
	positions PositionSource
	session   string

	commands chan command
	done     chan struct{}
	runOnce  sync.Once

	// owned by the loop
	acc        *cloud.Accumulator
	mode       *ModeController
	pending    cloud.Scan
	hasPending bool
	key        float64
	halted     bool
	counts     loopCounts

	mu   sync.Mutex
	snap Snapshot
}

// loopCounts is written by the loop only and copied into the snapshot.
type loopCounts struct {
	scans     uint64
	positions uint64
	renders   uint64
	points    int
	stopped   map[string]string
}

// New returns a controller. positions may be nil, in which case the sweep
// key is the accumulator's fixed-step counter.
func New(cfg Config, viewer Viewer, scans ScanSource, positions PositionSource) *Controller {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	c := &Controller{
		cfg:       cfg,
		viewer:    viewer,
		scans:     scans,
		positions: positions,
		session:   uuid.New().String(),
		commands:  make(chan command),
		done:      make(chan struct{}),
		acc:       cloud.NewAccumulator(cfg.Step),
		mode:      NewModeController(cfg.StartMode),
	}
	c.snap = Snapshot{Session: c.session, Mode: c.mode.Mode().String(), Keys: []float64{}}
	return c
}

// Reset clears the cloud. It returns once the loop has taken the command or
// has exited.
func (c *Controller) Reset() { c.send(cmdReset) }

// ToggleMode switches between continuous and manual mode.
func (c *Controller) ToggleMode() { c.send(cmdToggle) }

// Advance commits the pending scan at the current key.
func (c *Controller) Advance() { c.send(cmdAdvance) }

func (c *Controller) send(cmd command) {
	select {
	case c.commands <- cmd:
	case <-c.done:
	}
}

// Done is closed once Run has returned and commands are no longer processed.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Snapshot returns a copy of the latest controller state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.snap
	s.Keys = slices.Clone(c.snap.Keys)
	s.Stopped = maps.Clone(c.snap.Stopped)
	if d, ok := c.scans.(dropCounter); ok {
		s.ScansDropped = d.Dropped()
	}
	if d, ok := c.positions.(dropCounter); ok {
		s.ReadingDropped = d.Dropped()
	}
	return s
}

// Run starts the sources and processes events until ctx is done. Sources are
// stopped and waited for before Run returns. Run may only be called once.
func (c *Controller) Run(ctx context.Context) error {
	err := errors.New("fusion: controller already ran")
	c.runOnce.Do(func() { err = c.run(ctx) })
	return err
}

func (c *Controller) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		close(c.done)
	}()

	exits := make(chan sourceExit, 2)
	start := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			exits <- sourceExit{name: name, err: run(ctx)}
		}()
	}

	scanCh := make(chan cloud.Scan, c.cfg.QueueSize)
	start(SourceRange, func(ctx context.Context) error { return c.scans.Run(ctx, scanCh) })

	var posCh chan float64
	if c.positions != nil {
		posCh = make(chan float64, c.cfg.QueueSize)
		start(SourcePosition, func(ctx context.Context) error { return c.positions.Run(ctx, posCh) })
	}

	monitoring.Logf("fusion session %s started in %s, position feed: %v", c.session, c.mode.Mode(), c.positions != nil)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case scan := <-scanCh:
			c.onScan(scan)
		case v := <-posCh:
			c.onPosition(v)
		case cmd := <-c.commands:
			c.onCommand(cmd)
		case ex := <-exits:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.onSourceExit(ex)
		}
		c.publish()
	}
}

// currentKey is the sweep coordinate the next commit lands on.
func (c *Controller) currentKey() float64 {
	if c.positions != nil {
		return c.key
	}
	return c.acc.Offset()
}

func (c *Controller) legacy() bool {
	return c.cfg.LegacyAccumulate && c.positions == nil
}

func (c *Controller) onScan(scan cloud.Scan) {
	c.counts.scans++
	if c.halted {
		return
	}
	c.pending, c.hasPending = scan, true
	if c.mode.Mode() == ModeContinuous {
		c.commitPending()
		c.render()
	}
}

func (c *Controller) onPosition(v float64) {
	c.counts.positions++
	c.key = v
	if c.halted {
		return
	}
	if c.mode.Mode() == ModeContinuous && c.hasPending {
		c.commitPending()
		c.render()
	}
}

func (c *Controller) onCommand(cmd command) {
	switch cmd {
	case cmdReset:
		c.acc.Reset()
		c.key = 0
		monitoring.Logf("fusion: cloud reset")
		c.show(c.acc.Flatten())

	case cmdToggle:
		mode := c.mode.Toggle()
		monitoring.Logf("fusion: switched to %s", mode)
		if mode == ModeContinuous && c.hasPending && !c.halted {
			c.commitPending()
			c.render()
		}

	case cmdAdvance:
		if c.halted {
			monitoring.Logf("fusion: advance ignored, acquisition has stopped")
			return
		}
		if !c.hasPending {
			monitoring.Diagf("fusion: advance with no scan yet")
			return
		}
		if c.legacy() {
			c.acc.CommitAppendingAtFixedOrigin(cloud.Project(c.pending, c.acc.Offset()))
		} else {
			c.commitPending()
		}
		c.render()
		if c.positions == nil {
			next := c.acc.Advance()
			monitoring.Diagf("fusion: sweep key advanced to %g", next)
		}
	}
}

func (c *Controller) onSourceExit(ex sourceExit) {
	monitoring.Logf("fusion: %s source stopped: %v; no further commits this session", ex.name, ex.err)
	c.halted = true
	if c.counts.stopped == nil {
		c.counts.stopped = make(map[string]string)
	}
	msg := "stopped"
	if ex.err != nil {
		msg = ex.err.Error()
	}
	c.counts.stopped[ex.name] = msg
	if c.cfg.OnSourceStopped != nil {
		c.cfg.OnSourceStopped(ex.name, ex.err)
	}
}

// commitPending projects the pending scan at the current key. In legacy
// accumulate mode the live scan is only previewed, never committed.
func (c *Controller) commitPending() {
	if c.legacy() {
		return
	}
	key := c.currentKey()
	if err := c.acc.Commit(key, cloud.Project(c.pending, key)); err != nil {
		monitoring.Logf("fusion: commit at %v: %v", key, err)
	}
}

func (c *Controller) render() {
	points := c.acc.Flatten()
	if c.legacy() && c.hasPending && c.mode.Mode() == ModeContinuous {
		points = append(points, cloud.Project(c.pending, c.acc.Offset())...)
	}
	c.show(points)
}

func (c *Controller) show(points []cloud.Point3D) {
	c.viewer.Render(points)
	c.counts.points = len(points)
	c.counts.renders++
}

// publish refreshes the shared snapshot after each event.
func (c *Controller) publish() {
	keys := c.acc.Keys()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.Mode = c.mode.Mode().String()
	c.snap.Key = c.currentKey()
	c.snap.Keys = keys
	c.snap.Points = c.counts.points
	c.snap.Pending = c.hasPending
	c.snap.Halted = c.halted
	c.snap.Scans = c.counts.scans
	c.snap.Positions = c.counts.positions
	c.snap.Renders = c.counts.renders
	c.snap.Stopped = maps.Clone(c.counts.stopped)
}
