package rangescan

import (
	"context"
	"sync"

	"github.com/banshee-data/sweepscan/internal/cloud"
)

// MockTransport is a scripted Transport that counts every call.
type MockTransport struct {
	mu sync.Mutex

	// Errors returned by the matching call, if set.
	ConnectErr    error
	HealthErr     error
	StartMotorErr error
	StopScanErr   error
	ScanErr       error

	// Status is returned by Health.
	Status Health

	// Script is delivered in order by Scans.
	Script []cloud.Scan

	// Block keeps Scans running after the scripted scans until ctx is done.
	Block bool

	calls    map[string]int
	scanning chan struct{}
}

// NewMockTransport returns a healthy transport that delivers scans.
func NewMockTransport(scans ...cloud.Scan) *MockTransport {
	return &MockTransport{
		Script:   scans,
		calls:    make(map[string]int),
		scanning: make(chan struct{}),
	}
}

func (m *MockTransport) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[name]++
}

// Calls returns how many times the named method ran.
func (m *MockTransport) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

// Scanning is closed when Scans is first called.
func (m *MockTransport) Scanning() <-chan struct{} { return m.scanning }

func (m *MockTransport) Connect() error {
	m.record("Connect")
	return m.ConnectErr
}

func (m *MockTransport) Disconnect() error {
	m.record("Disconnect")
	return nil
}

func (m *MockTransport) Health() (Health, error) {
	m.record("Health")
	return m.Status, m.HealthErr
}

func (m *MockTransport) StartMotor() error {
	m.record("StartMotor")
	return m.StartMotorErr
}

func (m *MockTransport) StopMotor() error {
	m.record("StopMotor")
	return nil
}

func (m *MockTransport) StopScan() error {
	m.record("StopScan")
	return m.StopScanErr
}

func (m *MockTransport) Scans(ctx context.Context, fn func(cloud.Scan) bool) error {
	m.mu.Lock()
	m.calls["Scans"]++
	first := m.calls["Scans"] == 1
	m.mu.Unlock()
	if first {
		close(m.scanning)
	}

	for _, scan := range m.Script {
		if !fn(scan) {
			return nil
		}
	}
	if m.ScanErr != nil {
		return m.ScanErr
	}
	if m.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}
