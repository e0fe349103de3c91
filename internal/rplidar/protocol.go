// Package rplidar speaks the binary serial protocol of Slamtec RPLidar
// A-series range scanners: health and info queries, motor PWM control, and
// decoding of normal and legacy express scan responses.
package rplidar

import (
	"errors"
	"fmt"
	"math"
)

// Request/response framing.
const (
	syncByte  = 0xA5
	syncByte2 = 0x5A

	cmdStop        = 0x25
	cmdScan        = 0x20
	cmdExpressScan = 0x82
	cmdGetInfo     = 0x50
	cmdGetHealth   = 0x52
	cmdSetPWM      = 0xF0

	descriptorLen = 7
	infoLen       = 20
	healthLen     = 3
	scanSampleLen = 5
	capsuleLen    = 84

	infoType    = 0x04
	healthType  = 0x06
	scanType    = 0x81
	expressType = 0x82

	// capsuleSamples is the number of samples encoded in one express capsule
	// (16 cabins of two samples).
	capsuleSamples = 32
)

// Motor PWM limits.
const (
	MaxMotorPWM     = 1023
	DefaultMotorPWM = 660
)

var (
	ErrBadDescriptor = errors.New("rplidar: bad response descriptor")
	ErrBadSample     = errors.New("rplidar: corrupt scan sample")
	ErrBadCapsule    = errors.New("rplidar: corrupt express capsule")
)

// HealthStatus is the device self-check result.
type HealthStatus uint8

const (
	StatusGood HealthStatus = iota
	StatusWarning
	StatusError
)

func (s HealthStatus) String() string {
	switch s {
	case StatusGood:
		return "Good"
	case StatusWarning:
		return "Warning"
	case StatusError:
		return "Error"
	}
	return fmt.Sprintf("HealthStatus(%d)", uint8(s))
}

// Info is the device identification returned by GET_INFO.
type Info struct {
	Model        uint8
	Firmware     string
	Hardware     uint8
	SerialNumber string
}

// Measurement is one decoded return. NewScan is set on the first sample of
// a revolution. Express samples carry no quality and report zero.
type Measurement struct {
	NewScan  bool
	Quality  int
	Angle    float64 // degrees
	Distance float64 // millimetres
}

// encodeCommand builds a request frame. Commands with a payload carry a
// length byte and a trailing XOR checksum over the whole frame.
func encodeCommand(cmd byte, payload []byte) []byte {
	if len(payload) == 0 {
		return []byte{syncByte, cmd}
	}
	frame := make([]byte, 0, len(payload)+4)
	frame = append(frame, syncByte, cmd, byte(len(payload)))
	frame = append(frame, payload...)
	var checksum byte
	for _, b := range frame {
		checksum ^= b
	}
	return append(frame, checksum)
}

// descriptor is the 7-byte header preceding every response.
type descriptor struct {
	length uint32
	single bool
	dtype  byte
}

func decodeDescriptor(raw []byte) (descriptor, error) {
	if len(raw) != descriptorLen || raw[0] != syncByte || raw[1] != syncByte2 {
		return descriptor{}, fmt.Errorf("%w: % x", ErrBadDescriptor, raw)
	}
	length := uint32(raw[2]) | uint32(raw[3])<<8 | uint32(raw[4])<<16 | uint32(raw[5]&0x3F)<<24
	return descriptor{
		length: length,
		single: raw[5]>>6 == 0,
		dtype:  raw[6],
	}, nil
}

func (d descriptor) expect(length uint32, single bool, dtype byte) error {
	if d.length != length || d.single != single || d.dtype != dtype {
		return fmt.Errorf("%w: got len=%d single=%v type=%#x, want len=%d single=%v type=%#x",
			ErrBadDescriptor, d.length, d.single, d.dtype, length, single, dtype)
	}
	return nil
}

func decodeHealth(raw []byte) (HealthStatus, uint16) {
	return HealthStatus(raw[0]), uint16(raw[1]) | uint16(raw[2])<<8
}

func decodeInfo(raw []byte) Info {
	return Info{
		Model:        raw[0],
		Firmware:     fmt.Sprintf("%d.%02d", raw[2], raw[1]),
		Hardware:     raw[3],
		SerialNumber: fmt.Sprintf("%X", raw[4:20]),
	}
}

// decodeSample decodes one 5-byte normal-mode sample.
func decodeSample(raw []byte) (Measurement, error) {
	newScan := raw[0]&0x01 == 1
	inversed := (raw[0]>>1)&0x01 == 1
	if newScan == inversed {
		return Measurement{}, fmt.Errorf("%w: new scan flags mismatch", ErrBadSample)
	}
	if raw[1]&0x01 != 1 {
		return Measurement{}, fmt.Errorf("%w: check bit not set", ErrBadSample)
	}
	return Measurement{
		NewScan:  newScan,
		Quality:  int(raw[0] >> 2),
		Angle:    float64(uint16(raw[1]>>1)|uint16(raw[2])<<7) / 64.0,
		Distance: float64(uint16(raw[3])|uint16(raw[4])<<8) / 4.0,
	}, nil
}

// capsule is one decoded legacy express scan response.
type capsule struct {
	startAngle float64
	newScan    bool
	distance   [capsuleSamples]float64
	deltaAngle [capsuleSamples]float64
}

func cabinSign(b byte) float64 {
	if b&0x02 != 0 {
		return -1
	}
	return 1
}

func decodeCapsule(raw []byte) (capsule, error) {
	var c capsule
	if len(raw) != capsuleLen || raw[0]>>4 != 0xA || raw[1]>>4 != 0x5 {
		return c, fmt.Errorf("%w: bad sync", ErrBadCapsule)
	}
	var checksum byte
	for _, b := range raw[2:] {
		checksum ^= b
	}
	if checksum != (raw[0]&0x0F)|(raw[1]&0x0F)<<4 {
		return c, fmt.Errorf("%w: checksum mismatch", ErrBadCapsule)
	}

	c.newScan = raw[3]>>7 == 1
	c.startAngle = float64(uint16(raw[2])|uint16(raw[3]&0x7F)<<8) / 64.0

	for cabin := 0; cabin < 16; cabin++ {
		i := 4 + cabin*5
		j := cabin * 2
		c.distance[j] = float64(uint16(raw[i]>>2) | uint16(raw[i+1])<<6)
		c.deltaAngle[j] = float64(raw[i+4]&0x0F|(raw[i]&0x01)<<4) / 8.0 * cabinSign(raw[i])
		c.distance[j+1] = float64(uint16(raw[i+2]>>2) | uint16(raw[i+3])<<6)
		c.deltaAngle[j+1] = float64(raw[i+4]>>4|(raw[i+2]&0x01)<<4) / 8.0 * cabinSign(raw[i+2])
	}
	return c, nil
}

// expressMeasurement interpolates sample n (1-based) of capsule c using the
// start angle of the capsule that followed it.
func expressMeasurement(c capsule, nextStart float64, n int) Measurement {
	diff := mod360(nextStart - c.startAngle)
	angle := mod360(c.startAngle + diff/capsuleSamples*float64(n) - c.deltaAngle[n-1])
	return Measurement{
		NewScan:  nextStart < c.startAngle && n == 1,
		Angle:    angle,
		Distance: c.distance[n-1],
	}
}

// mod360 wraps an angle into [0, 360).
func mod360(a float64) float64 {
	m := math.Mod(a, 360)
	if m < 0 {
		m += 360
	}
	return m
}
