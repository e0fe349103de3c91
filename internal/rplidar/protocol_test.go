package rplidar

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		cmd     byte
		payload []byte
		want    []byte
	}{
		{"stop", cmdStop, nil, []byte{0xA5, 0x25}},
		{"health", cmdGetHealth, nil, []byte{0xA5, 0x52}},
		{"pwm 660", cmdSetPWM, []byte{0x94, 0x02}, []byte{0xA5, 0xF0, 0x02, 0x94, 0x02, 0xC1}},
		{"pwm 0", cmdSetPWM, []byte{0x00, 0x00}, []byte{0xA5, 0xF0, 0x02, 0x00, 0x00, 0x57}},
		{"express", cmdExpressScan, []byte{0, 0, 0, 0, 0}, []byte{0xA5, 0x82, 0x05, 0, 0, 0, 0, 0, 0x22}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, encodeCommand(tt.cmd, tt.payload))
		})
	}
}

func TestDecodeDescriptor(t *testing.T) {
	d, err := decodeDescriptor([]byte{0xA5, 0x5A, 0x03, 0x00, 0x00, 0x00, 0x06})
	require.NoError(t, err)
	assert.NoError(t, d.expect(healthLen, true, healthType))

	d, err = decodeDescriptor(ExpressDescriptor())
	require.NoError(t, err)
	assert.NoError(t, d.expect(capsuleLen, false, expressType))
	assert.ErrorIs(t, d.expect(scanSampleLen, false, scanType), ErrBadDescriptor)

	_, err = decodeDescriptor([]byte{0xA5, 0x00, 0x03, 0x00, 0x00, 0x00, 0x06})
	assert.ErrorIs(t, err, ErrBadDescriptor)

	_, err = decodeDescriptor([]byte{0xA5, 0x5A})
	assert.ErrorIs(t, err, ErrBadDescriptor)
}

func TestDecodeHealthAndInfo(t *testing.T) {
	status, code := decodeHealth([]byte{0x02, 0x34, 0x12})
	assert.Equal(t, StatusError, status)
	assert.Equal(t, uint16(0x1234), code)
	assert.Equal(t, "Error", status.String())
	assert.Equal(t, "Good", StatusGood.String())
	assert.Equal(t, "HealthStatus(7)", HealthStatus(7).String())

	raw := []byte{0x18, 0x1D, 0x01, 0x07}
	for i := byte(1); i <= 16; i++ {
		raw = append(raw, i)
	}
	info := decodeInfo(raw)
	assert.Equal(t, Info{
		Model:        0x18,
		Firmware:     "1.29",
		Hardware:     7,
		SerialNumber: "0102030405060708090A0B0C0D0E0F10",
	}, info)
}

func TestDecodeSample(t *testing.T) {
	m, err := decodeSample(SampleBytes(true, 15, 90, 1000))
	require.NoError(t, err)
	assert.Equal(t, Measurement{NewScan: true, Quality: 15, Angle: 90, Distance: 1000}, m)

	m, err = decodeSample(SampleBytes(false, 47, 359.5, 0.25))
	require.NoError(t, err)
	assert.False(t, m.NewScan)
	assert.Equal(t, 47, m.Quality)
	assert.InDelta(t, 359.5, m.Angle, 1e-9)
	assert.InDelta(t, 0.25, m.Distance, 1e-9)

	bad := SampleBytes(true, 15, 90, 1000)
	bad[0] |= 0x02 // both flags set
	_, err = decodeSample(bad)
	assert.ErrorIs(t, err, ErrBadSample)

	bad = SampleBytes(true, 15, 90, 1000)
	bad[1] &^= 0x01
	_, err = decodeSample(bad)
	assert.True(t, errors.Is(err, ErrBadSample))
}

func TestDecodeCapsule(t *testing.T) {
	var dist [capsuleSamples]uint16
	for i := range dist {
		dist[i] = uint16(100*i + 1)
	}
	dist[31] = 16383

	c, err := decodeCapsule(CapsuleBytes(123.5, true, dist))
	require.NoError(t, err)
	assert.True(t, c.newScan)
	assert.InDelta(t, 123.5, c.startAngle, 1e-9)
	for i := range dist {
		assert.Equal(t, float64(dist[i]), c.distance[i], "sample %d", i)
		assert.Zero(t, c.deltaAngle[i])
	}

	raw := CapsuleBytes(10, false, dist)
	raw[10] ^= 0xFF
	_, err = decodeCapsule(raw)
	assert.ErrorIs(t, err, ErrBadCapsule)

	raw = CapsuleBytes(10, false, dist)
	raw[0] = 0x00
	_, err = decodeCapsule(raw)
	assert.ErrorIs(t, err, ErrBadCapsule)
}

func TestCapsuleAngleCompensation(t *testing.T) {
	var dist [capsuleSamples]uint16
	raw := CapsuleBytes(0, false, dist)
	// first cabin: negative sign bit, 1.0 degree (8/8) compensation on sample 0
	raw[4] = 0x02
	raw[8] = 0x08
	var checksum byte
	for _, b := range raw[2:] {
		checksum ^= b
	}
	raw[0] = 0xA0 | checksum&0x0F
	raw[1] = 0x50 | checksum>>4

	c, err := decodeCapsule(raw)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, c.deltaAngle[0], 1e-9)
	assert.Zero(t, c.deltaAngle[1])
}

func TestExpressMeasurement(t *testing.T) {
	var c capsule
	c.startAngle = 10
	c.distance[0] = 500
	c.distance[31] = 700

	m := expressMeasurement(c, 20, 1)
	assert.False(t, m.NewScan)
	assert.InDelta(t, 10.3125, m.Angle, 1e-9)
	assert.Equal(t, 500.0, m.Distance)
	assert.Zero(t, m.Quality)

	m = expressMeasurement(c, 20, 32)
	assert.InDelta(t, 20.0, m.Angle, 1e-9)
	assert.Equal(t, 700.0, m.Distance)

	c.startAngle = 355
	m = expressMeasurement(c, 3, 1)
	assert.True(t, m.NewScan)
	assert.InDelta(t, 355.25, m.Angle, 1e-9)

	m = expressMeasurement(c, 3, 2)
	assert.False(t, m.NewScan)

	m = expressMeasurement(c, 3, 32)
	assert.InDelta(t, 3.0, m.Angle, 1e-9)
}

func TestMod360(t *testing.T) {
	assert.Equal(t, 0.0, mod360(360))
	assert.Equal(t, 10.0, mod360(370))
	assert.Equal(t, 350.0, mod360(-10))
	assert.Equal(t, 8.0, mod360(-352))
}
