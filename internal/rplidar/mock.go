package rplidar

import (
	"sync"

	"github.com/banshee-data/sweepscan/internal/serialmux"
)

// MockPort is an in-memory Port. Reads and writes go through the embedded
// TestableSerialPort; DTR changes and input resets are recorded.
type MockPort struct {
	*serialmux.TestableSerialPort

	mu          sync.Mutex
	dtr         []bool
	resetCalls  int
	KeepOnReset bool
}

// NewMockPort returns an empty MockPort.
func NewMockPort() *MockPort {
	return &MockPort{TestableSerialPort: serialmux.NewTestableSerialPort()}
}

// SetDTR records the requested DTR level.
func (m *MockPort) SetDTR(dtr bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dtr = append(m.dtr, dtr)
	return nil
}

// ResetInputBuffer discards pending read data unless KeepOnReset is set.
func (m *MockPort) ResetInputBuffer() error {
	m.mu.Lock()
	m.resetCalls++
	keep := m.KeepOnReset
	m.mu.Unlock()
	if !keep {
		m.DiscardReadData()
	}
	return nil
}

// DTR returns every DTR level set so far.
func (m *MockPort) DTR() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.dtr...)
}

// ResetCalls returns how many times the input buffer was reset.
func (m *MockPort) ResetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetCalls
}

// Opener returns an Opener that hands out this port and applies the read
// timeout from the options.
func (m *MockPort) Opener() Opener {
	return func(path string, opts serialmux.PortOptions) (Port, error) {
		if err := m.SetReadTimeout(opts.ReadTimeout); err != nil {
			return nil, err
		}
		return m, nil
	}
}

// Frame helpers for feeding a MockPort with device responses.

// DescriptorBytes encodes a response descriptor.
func DescriptorBytes(length uint32, single bool, dtype byte) []byte {
	mode := byte(0x40)
	if single {
		mode = 0
	}
	return []byte{syncByte, syncByte2,
		byte(length), byte(length >> 8), byte(length >> 16),
		byte(length>>24)&0x3F | mode, dtype}
}

// ScanDescriptor is the descriptor a device sends after SCAN.
func ScanDescriptor() []byte { return DescriptorBytes(scanSampleLen, false, scanType) }

// ExpressDescriptor is the descriptor a device sends after EXPRESS_SCAN.
func ExpressDescriptor() []byte { return DescriptorBytes(capsuleLen, false, expressType) }

// SampleBytes encodes one normal-mode sample.
func SampleBytes(newScan bool, quality int, angle, distance float64) []byte {
	var flags byte
	if newScan {
		flags = 0x01
	} else {
		flags = 0x02
	}
	a := uint16(angle * 64)
	d := uint16(distance * 4)
	return []byte{
		byte(quality)<<2 | flags,
		byte(a&0x7F)<<1 | 0x01,
		byte(a >> 7),
		byte(d), byte(d >> 8),
	}
}

// CapsuleBytes encodes one legacy express capsule with zero angle
// compensation.
func CapsuleBytes(startAngle float64, newScan bool, distances [capsuleSamples]uint16) []byte {
	raw := make([]byte, capsuleLen)
	a := uint16(startAngle * 64)
	raw[2] = byte(a)
	raw[3] = byte(a>>8) & 0x7F
	if newScan {
		raw[3] |= 0x80
	}
	for cabin := 0; cabin < 16; cabin++ {
		i := 4 + cabin*5
		d0, d1 := distances[cabin*2], distances[cabin*2+1]
		raw[i] = byte(d0 << 2)
		raw[i+1] = byte(d0 >> 6)
		raw[i+2] = byte(d1 << 2)
		raw[i+3] = byte(d1 >> 6)
	}
	var checksum byte
	for _, b := range raw[2:] {
		checksum ^= b
	}
	raw[0] = 0xA0 | checksum&0x0F
	raw[1] = 0x50 | checksum>>4
	return raw
}
