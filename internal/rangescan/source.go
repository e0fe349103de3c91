// Package rangescan runs a range scanner session: connect, health gate,
// motor start, scan streaming into a bounded queue, and release of the
// device on every exit path.
package rangescan

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/sweepscan/internal/cloud"
	"github.com/banshee-data/sweepscan/internal/monitoring"
	"github.com/banshee-data/sweepscan/internal/timeutil"
)

// DefaultSettleDelay is how long Run waits before opening the device.
const DefaultSettleDelay = time.Second

var (
	// ErrUnhealthy is wrapped when the device self-check is not Good.
	ErrUnhealthy = errors.New("range sensor unhealthy")
	// ErrStreamEnded is returned when the transport stops producing scans
	// without error and without being asked to stop.
	ErrStreamEnded = errors.New("range scan stream ended")
)

// Health is the device self-check result.
type Health int

const (
	HealthGood Health = iota
	HealthWarning
	HealthError
)

func (h Health) String() string {
	switch h {
	case HealthGood:
		return "Good"
	case HealthWarning:
		return "Warning"
	case HealthError:
		return "Error"
	}
	return fmt.Sprintf("Health(%d)", int(h))
}

// ConnectionError reports a failure talking to the range sensor. It ends the
// session.
type ConnectionError struct {
	Op   string
	Port string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("range sensor %s %s: %v", e.Op, e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Transport is the device side of a session.
type Transport interface {
	Connect() error
	Disconnect() error
	Health() (Health, error)
	StartMotor() error
	StopMotor() error
	StopScan() error
	// Scans calls fn once per revolution until fn returns false, ctx is
	// cancelled or the device fails.
	Scans(ctx context.Context, fn func(cloud.Scan) bool) error
}

// Config controls a Source.
type Config struct {
	// Port names the device in errors and logs.
	Port string
	// SettleDelay is waited before connecting. Zero connects immediately.
	SettleDelay time.Duration
	Clock       timeutil.Clock
}

// Source produces scans from a Transport.
type Source struct {
	transport Transport
	cfg       Config

	produced atomic.Uint64
	dropped  atomic.Uint64
}

// NewSource returns a Source for transport.
func NewSource(transport Transport, cfg Config) *Source {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Source{transport: transport, cfg: cfg}
}

// Stats returns the number of scans read from the device and the number
// dropped because out was full.
func (s *Source) Stats() (produced, dropped uint64) {
	return s.produced.Load(), s.dropped.Load()
}

// Dropped returns the number of scans dropped because the queue was full.
func (s *Source) Dropped() uint64 { return s.dropped.Load() }

// Run executes one session, sending scans to out without blocking. It
// returns ctx.Err() when cancelled and a *ConnectionError when the device
// fails. Once Connect succeeds, StopScan, StopMotor and Disconnect each run
// exactly once before Run returns.
func (s *Source) Run(ctx context.Context, out chan<- cloud.Scan) error {
	if d := s.cfg.SettleDelay; d > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.cfg.Clock.After(d):
		}
	}

	if err := s.transport.Connect(); err != nil {
		return s.fail("connect", err)
	}
	defer s.release()

	health, err := s.transport.Health()
	if err != nil {
		return s.fail("health", err)
	}
	if health != HealthGood {
		return s.fail("health", fmt.Errorf("%w: status %s", ErrUnhealthy, health))
	}

	if err := s.transport.StartMotor(); err != nil {
		return s.fail("start motor", err)
	}
	monitoring.Logf("range sensor %s scanning", s.cfg.Port)
	return s.stream(ctx, out)
}

// stream runs the transport's scan loop on its own goroutine and forwards
// scans to out. A scan out cannot take yet is held and replaced by the next
// one, so the freshest revolution is delivered first once out has room. It
// returns only after the scan loop has stopped.
func (s *Source) stream(ctx context.Context, out chan<- cloud.Scan) error {
	scans := make(chan cloud.Scan)
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- s.transport.Scans(ctx, func(scan cloud.Scan) bool {
			s.produced.Add(1)
			select {
			case scans <- scan:
			case <-ctx.Done():
				s.dropped.Add(1)
				return false
			}
			return ctx.Err() == nil
		})
	}()

	var (
		pending cloud.Scan
		held    bool
	)
	for {
		var send chan<- cloud.Scan
		if held {
			send = out
		}
		select {
		case send <- pending:
			pending, held = nil, false

		case scan := <-scans:
			if held {
				s.dropped.Add(1)
				monitoring.Diagf("range sensor queue full; replaced scan of %d samples", len(pending))
			}
			pending, held = scan, true

		case <-ctx.Done():
			<-scanErr
			return ctx.Err()

		case err := <-scanErr:
			if held {
				select {
				case out <- pending:
				default:
					s.dropped.Add(1)
				}
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				return s.fail("scan", err)
			}
			return s.fail("scan", ErrStreamEnded)
		}
	}
}

func (s *Source) fail(op string, err error) error {
	cerr := &ConnectionError{Op: op, Port: s.cfg.Port, Err: err}
	monitoring.Logf("%v", cerr)
	return cerr
}

func (s *Source) release() {
	if err := s.transport.StopScan(); err != nil {
		monitoring.Logf("range sensor %s: stop scan: %v", s.cfg.Port, err)
	}
	if err := s.transport.StopMotor(); err != nil {
		monitoring.Logf("range sensor %s: stop motor: %v", s.cfg.Port, err)
	}
	if err := s.transport.Disconnect(); err != nil {
		monitoring.Logf("range sensor %s: disconnect: %v", s.cfg.Port, err)
	}
}
