package rangescan

import (
	"context"

	"github.com/banshee-data/sweepscan/internal/cloud"
	"github.com/banshee-data/sweepscan/internal/monitoring"
	"github.com/banshee-data/sweepscan/internal/rplidar"
)

// RPLidar adapts an rplidar.Device to Transport.
type RPLidar struct {
	dev *rplidar.Device
}

// NewRPLidar wraps dev.
func NewRPLidar(dev *rplidar.Device) *RPLidar {
	return &RPLidar{dev: dev}
}

// Connect opens the device port and logs its identification. A failed info
// query is logged and otherwise ignored.
func (r *RPLidar) Connect() error {
	if err := r.dev.Connect(); err != nil {
		return err
	}
	info, err := r.dev.Info()
	if err != nil {
		monitoring.Logf("rplidar %s: info: %v", r.dev.Path(), err)
		return nil
	}
	monitoring.Logf("rplidar %s: model %d firmware %s hardware %d serial %s",
		r.dev.Path(), info.Model, info.Firmware, info.Hardware, info.SerialNumber)
	return nil
}

func (r *RPLidar) Disconnect() error { return r.dev.Disconnect() }
func (r *RPLidar) StartMotor() error { return r.dev.StartMotor() }
func (r *RPLidar) StopMotor() error  { return r.dev.StopMotor() }
func (r *RPLidar) StopScan() error   { return r.dev.Stop() }

// Health maps the device status onto Health.
func (r *RPLidar) Health() (Health, error) {
	status, code, err := r.dev.Health()
	if err != nil {
		return HealthError, err
	}
	if code != 0 {
		monitoring.Logf("rplidar %s: health %s, error code %#04x", r.dev.Path(), status, code)
	}
	switch status {
	case rplidar.StatusGood:
		return HealthGood, nil
	case rplidar.StatusWarning:
		return HealthWarning, nil
	}
	return HealthError, nil
}

// Scans converts each device revolution into a cloud.Scan.
func (r *RPLidar) Scans(ctx context.Context, fn func(cloud.Scan) bool) error {
	return r.dev.IterScans(ctx, func(ms []rplidar.Measurement) bool {
		scan := make(cloud.Scan, len(ms))
		for i, m := range ms {
			scan[i] = cloud.RangeSample{Quality: m.Quality, Angle: m.Angle, Distance: m.Distance}
		}
		return fn(scan)
	})
}
