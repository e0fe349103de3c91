// Package position reads the sweep-position feed: one floating-point reading
// per line on a serial port.
package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/sweepscan/internal/monitoring"
	"github.com/banshee-data/sweepscan/internal/serialmux"
)

// DefaultReadTimeout bounds each port read so cancellation is noticed.
const DefaultReadTimeout = time.Second

var (
	// ErrNotConnected is returned by Run before Connect has named a port.
	ErrNotConnected = errors.New("position feed not connected")
	// ErrFeedEnded is returned when the port reaches EOF.
	ErrFeedEnded = errors.New("position feed ended")
)

// Stats counts feed activity.
type Stats struct {
	Lines      uint64 `json:"lines"`
	Parsed     uint64 `json:"parsed"`
	Malformed  uint64 `json:"malformed"`
	Superseded uint64 `json:"superseded"`
}

// ConnectionError reports a port that could not be opened or failed while
// the feed was running. It ends the feed's session only.
type ConnectionError struct {
	Op   string
	Port string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("position feed %s: %s: %v", e.Port, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Feed is a PositionFeedSource over a serial line.
type Feed struct {
	open        serialmux.PortOpener
	readTimeout time.Duration
	path        string
	opts        serialmux.PortOptions

	mux       atomic.Pointer[serialmux.SerialMux[serialmux.SerialPorter]]
	ready     chan struct{}
	readyOnce sync.Once

	lines      atomic.Uint64
	parsed     atomic.Uint64
	malformed  atomic.Uint64
	superseded atomic.Uint64
}

// New returns an unconnected feed. A nil opener uses the real serial port.
// A non-positive readTimeout uses DefaultReadTimeout.
func New(open serialmux.PortOpener, readTimeout time.Duration) *Feed {
	if open == nil {
		open = serialmux.RealPortOpener
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &Feed{open: open, readTimeout: readTimeout, ready: make(chan struct{})}
}

// Connect sets the port and baud rate (8N1) used by Run. It only fails on
// options the port could never accept; the port itself is opened by Run.
func (f *Feed) Connect(port string, baudRate int) error {
	opts, err := serialmux.PortOptions{BaudRate: baudRate, ReadTimeout: f.readTimeout}.Normalise()
	if err != nil {
		return fmt.Errorf("position feed %s: %w", port, err)
	}
	f.path, f.opts = port, opts
	return nil
}

// Ready is closed once Run has opened the port and Mux is available.
func (f *Feed) Ready() <-chan struct{} { return f.ready }

// Mux exposes the line multiplexer so other readers (admin routes) can tail
// the feed. It is nil until Ready is closed.
func (f *Feed) Mux() *serialmux.SerialMux[serialmux.SerialPorter] { return f.mux.Load() }

// Dropped returns how many readings were replaced by a newer one before
// delivery.
func (f *Feed) Dropped() uint64 { return f.superseded.Load() }

// Stats returns a snapshot of the counters.
func (f *Feed) Stats() Stats {
	return Stats{
		Lines:      f.lines.Load(),
		Parsed:     f.parsed.Load(),
		Malformed:  f.malformed.Load(),
		Superseded: f.superseded.Load(),
	}
}

// Run opens the port and reads lines until ctx is cancelled or the port
// fails, delivering each parsed reading to out. A reading that out cannot
// accept yet is held and replaced by any newer one, so the latest value
// always wins and Run never blocks on out. Malformed lines are dropped. An
// open failure is returned as a *ConnectionError. The port is closed before
// Run returns.
func (f *Feed) Run(ctx context.Context, out chan<- float64) error {
	if f.path == "" {
		return ErrNotConnected
	}
	p, err := f.open(f.path, f.opts)
	if err != nil {
		return f.fail("open", err)
	}
	mux := serialmux.NewSerialMux(p)
	f.mux.Store(mux)
	f.readyOnce.Do(func() { close(f.ready) })
	monitoring.Logf("position feed %s open at %d baud", f.path, f.opts.BaudRate)
	defer func() {
		if err := mux.Close(); err != nil {
			monitoring.Logf("position feed %s: close: %v", f.path, err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	_, lines := mux.Subscribe()
	monitorErr := make(chan error, 1)
	go func() { monitorErr <- mux.Monitor(ctx) }()

	var (
		pending float64
		held    bool
	)
	for {
		var send chan<- float64
		if held {
			send = out
		}
		select {
		case <-ctx.Done():
			return ctx.Err()

		case send <- pending:
			held = false

		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if v, ok := f.parse(line); ok {
				if held {
					f.superseded.Add(1)
				}
				pending, held = v, true
			}

		case err := <-monitorErr:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// lines already queued were read before the failure
			for drained := false; !drained && lines != nil; {
				select {
				case line, ok := <-lines:
					if !ok {
						drained = true
					} else if v, ok := f.parse(line); ok {
						if held {
							f.superseded.Add(1)
						}
						pending, held = v, true
					}
				default:
					drained = true
				}
			}
			if held {
				select {
				case out <- pending:
				default:
					f.superseded.Add(1)
				}
			}
			if err == nil {
				err = ErrFeedEnded
			}
			return f.fail("read", err)
		}
	}
}

func (f *Feed) fail(op string, err error) error {
	cerr := &ConnectionError{Op: op, Port: f.path, Err: err}
	monitoring.Logf("%v", cerr)
	return cerr
}

func (f *Feed) parse(line string) (float64, bool) {
	f.lines.Add(1)
	v, err := ParseReading(line)
	if err != nil {
		f.malformed.Add(1)
		monitoring.Diagf("position feed %s: %v", f.path, err)
		return 0, false
	}
	f.parsed.Add(1)
	return v, true
}
