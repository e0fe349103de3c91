package rplidar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/banshee-data/sweepscan/internal/monitoring"
	"github.com/banshee-data/sweepscan/internal/serialmux"
	"github.com/banshee-data/sweepscan/internal/timeutil"
)

var (
	ErrNotConnected = errors.New("rplidar: not connected")
	ErrTimeout      = errors.New("rplidar: read timed out")
)

// DefaultMinScanLen is the number of samples a revolution must exceed
// before it is handed to the caller.
const DefaultMinScanLen = 5

// Port is the subset of go.bug.st/serial.Port the driver uses.
type Port interface {
	io.ReadWriteCloser
	SetDTR(dtr bool) error
	ResetInputBuffer() error
}

// Opener opens the device port. RealOpener is used unless a test substitutes
// an in-memory port.
type Opener func(path string, opts serialmux.PortOptions) (Port, error)

// RealOpener opens the device through go.bug.st/serial.
func RealOpener(path string, opts serialmux.PortOptions) (Port, error) {
	return serialmux.OpenPort(path, opts)
}

// ScanType selects the scan command used by IterScans.
type ScanType int

const (
	ScanExpress ScanType = iota
	ScanNormal
)

func (t ScanType) String() string {
	if t == ScanNormal {
		return "normal"
	}
	return "express"
}

// ParseScanType accepts "express" or "normal" (case-insensitive).
func ParseScanType(s string) (ScanType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "express":
		return ScanExpress, nil
	case "normal":
		return ScanNormal, nil
	}
	return ScanExpress, fmt.Errorf("unknown scan type %q", s)
}

// Config describes how to reach and drive the device.
type Config struct {
	Path       string
	Port       serialmux.PortOptions
	MotorPWM   int
	ScanType   ScanType
	MinScanLen int
	Clock      timeutil.Clock
	Open       Opener
}

func (c Config) withDefaults() Config {
	if c.Port.BaudRate == 0 {
		c.Port.BaudRate = 115200
	}
	if c.Port.ReadTimeout == 0 {
		c.Port.ReadTimeout = time.Second
	}
	if c.MotorPWM <= 0 || c.MotorPWM > MaxMotorPWM {
		c.MotorPWM = DefaultMotorPWM
	}
	if c.MinScanLen <= 0 {
		c.MinScanLen = DefaultMinScanLen
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
	if c.Open == nil {
		c.Open = RealOpener
	}
	return c
}

// Device is a connection to one RPLidar. It is not safe for concurrent use;
// the range scan worker owns it for the whole session.
type Device struct {
	cfg      Config
	port     Port
	scanning bool
}

// New returns an unconnected device.
func New(cfg Config) *Device {
	return &Device{cfg: cfg.withDefaults()}
}

// Path returns the configured port path.
func (d *Device) Path() string { return d.cfg.Path }

// Connect opens the serial port. Connecting twice is a no-op.
func (d *Device) Connect() error {
	if d.port != nil {
		return nil
	}
	port, err := d.cfg.Open(d.cfg.Path, d.cfg.Port)
	if err != nil {
		return err
	}
	d.port = port
	return nil
}

// Disconnect closes the serial port.
func (d *Device) Disconnect() error {
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	d.scanning = false
	return err
}

func (d *Device) send(cmd byte, payload []byte) error {
	if d.port == nil {
		return ErrNotConnected
	}
	frame := encodeCommand(cmd, payload)
	n, err := d.port.Write(frame)
	if err != nil {
		return fmt.Errorf("rplidar: write command %#x: %w", cmd, err)
	}
	if n != len(frame) {
		return fmt.Errorf("rplidar: short write for command %#x", cmd)
	}
	monitoring.Diagf("rplidar: sent % x", frame)
	return nil
}

// readFull fills buf. A zero-byte read means the port read timeout expired
// without data.
func (d *Device) readFull(ctx context.Context, buf []byte) error {
	if d.port == nil {
		return ErrNotConnected
	}
	n := 0
	for n < len(buf) {
		m, err := d.port.Read(buf[n:])
		n += m
		if err != nil {
			return err
		}
		if m == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			return ErrTimeout
		}
	}
	return nil
}

func (d *Device) readDescriptor(ctx context.Context) (descriptor, error) {
	raw := make([]byte, descriptorLen)
	if err := d.readFull(ctx, raw); err != nil {
		return descriptor{}, fmt.Errorf("rplidar: read descriptor: %w", err)
	}
	return decodeDescriptor(raw)
}

func (d *Device) query(cmd byte, length uint32, dtype byte) ([]byte, error) {
	if d.scanning {
		return nil, errors.New("rplidar: device is scanning")
	}
	if err := d.send(cmd, nil); err != nil {
		return nil, err
	}
	ctx := context.Background()
	desc, err := d.readDescriptor(ctx)
	if err != nil {
		return nil, err
	}
	if err := desc.expect(length, true, dtype); err != nil {
		return nil, err
	}
	raw := make([]byte, length)
	if err := d.readFull(ctx, raw); err != nil {
		return nil, fmt.Errorf("rplidar: read response %#x: %w", cmd, err)
	}
	return raw, nil
}

// Health returns the device self-check status and error code.
func (d *Device) Health() (HealthStatus, uint16, error) {
	raw, err := d.query(cmdGetHealth, healthLen, healthType)
	if err != nil {
		return StatusError, 0, err
	}
	status, code := decodeHealth(raw)
	return status, code, nil
}

// Info returns the device model, firmware, hardware revision and serial number.
func (d *Device) Info() (Info, error) {
	raw, err := d.query(cmdGetInfo, infoLen, infoType)
	if err != nil {
		return Info{}, err
	}
	return decodeInfo(raw), nil
}

func (d *Device) setPWM(pwm int) error {
	return d.send(cmdSetPWM, []byte{byte(pwm), byte(pwm >> 8)})
}

// StartMotor spins up the scanner motor.
func (d *Device) StartMotor() error {
	if d.port == nil {
		return ErrNotConnected
	}
	if err := d.port.SetDTR(false); err != nil {
		return fmt.Errorf("rplidar: clear DTR: %w", err)
	}
	return d.setPWM(d.cfg.MotorPWM)
}

// StopMotor spins the motor down.
func (d *Device) StopMotor() error {
	if d.port == nil {
		return ErrNotConnected
	}
	if err := d.setPWM(0); err != nil {
		return err
	}
	d.cfg.Clock.Sleep(time.Millisecond)
	if err := d.port.SetDTR(true); err != nil {
		return fmt.Errorf("rplidar: set DTR: %w", err)
	}
	return nil
}

// Stop ends a running scan and discards whatever the device had already sent.
func (d *Device) Stop() error {
	if err := d.send(cmdStop, nil); err != nil {
		return err
	}
	d.cfg.Clock.Sleep(100 * time.Millisecond)
	d.scanning = false
	if err := d.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("rplidar: reset input: %w", err)
	}
	return nil
}

func (d *Device) startScan(ctx context.Context) error {
	var (
		err    error
		length uint32
		dtype  byte
	)
	switch d.cfg.ScanType {
	case ScanNormal:
		err = d.send(cmdScan, nil)
		length, dtype = scanSampleLen, scanType
	default:
		err = d.send(cmdExpressScan, []byte{0, 0, 0, 0, 0})
		length, dtype = capsuleLen, expressType
	}
	if err != nil {
		return err
	}
	desc, err := d.readDescriptor(ctx)
	if err != nil {
		return err
	}
	if err := desc.expect(length, false, dtype); err != nil {
		return err
	}
	d.scanning = true
	return nil
}

// measurementReader yields decoded measurements one at a time.
type measurementReader func() (Measurement, error)

func (d *Device) normalReader(ctx context.Context) measurementReader {
	raw := make([]byte, scanSampleLen)
	return func() (Measurement, error) {
		if err := d.readFull(ctx, raw); err != nil {
			return Measurement{}, err
		}
		return decodeSample(raw)
	}
}

func (d *Device) expressReader(ctx context.Context) measurementReader {
	raw := make([]byte, capsuleLen)
	var (
		prev, cur capsule
		primed    bool
		n         = capsuleSamples
	)
	readCapsule := func() (capsule, error) {
		if err := d.readFull(ctx, raw); err != nil {
			return capsule{}, err
		}
		return decodeCapsule(raw)
	}
	return func() (Measurement, error) {
		if n == capsuleSamples {
			n = 0
			if !primed {
				c, err := readCapsule()
				if err != nil {
					return Measurement{}, err
				}
				cur, primed = c, true
			}
			prev = cur
			c, err := readCapsule()
			if err != nil {
				return Measurement{}, err
			}
			cur = c
		}
		n++
		return expressMeasurement(prev, cur.startAngle, n), nil
	}
}

// IterScans starts scanning and calls fn once per complete revolution until
// fn returns false, ctx is cancelled, or the transport fails. Returns with
// no error (fn stopped) are the only clean exits; cancellation returns
// ctx.Err(). Zero-distance returns are invalid and never part of a scan.
// The scan is left running; callers end it with Stop.
func (d *Device) IterScans(ctx context.Context, fn func([]Measurement) bool) error {
	if err := d.startScan(ctx); err != nil {
		return err
	}

	var next measurementReader
	if d.cfg.ScanType == ScanNormal {
		next = d.normalReader(ctx)
	} else {
		next = d.expressReader(ctx)
	}

	var scan []Measurement
	for {
		m, err := next()
		if err != nil {
			return err
		}
		if m.NewScan {
			if len(scan) > d.cfg.MinScanLen {
				if !fn(scan) {
					return nil
				}
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			scan = nil
		}
		if m.Distance > 0 {
			scan = append(scan, m)
		}
	}
}
