// Package config loads the sweepscan configuration file. Every field is
// optional; the Get* accessors supply defaults for anything left unset.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by the Get* accessors.
const (
	DefaultRangePort           = "/dev/ttyUSB0"
	DefaultRangeBaudRate       = 115200
	DefaultScanType            = "express"
	DefaultMinScanLen          = 5
	DefaultMotorPWM            = 660
	DefaultSettleDelay         = time.Second
	DefaultPositionBaudRate    = 9600
	DefaultPositionReadTimeout = time.Second
	DefaultSweepStep           = 5.0
	DefaultStartMode           = "continuous"
	DefaultQueueSize           = 8
	DefaultListen              = "localhost:8080"
	DefaultMQTTTopicPrefix     = "sweepscan"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the file schema. JSON and YAML share the same keys.
type Config struct {
	// Range scanner
	RangePort     *string `json:"range_port,omitempty" yaml:"range_port,omitempty"`
	RangeBaudRate *int    `json:"range_baud_rate,omitempty" yaml:"range_baud_rate,omitempty"`
	ScanType      *string `json:"scan_type,omitempty" yaml:"scan_type,omitempty"` // "express" or "normal"
	MinScanLen    *int    `json:"min_scan_len,omitempty" yaml:"min_scan_len,omitempty"`
	MotorPWM      *int    `json:"motor_pwm,omitempty" yaml:"motor_pwm,omitempty"`
	SettleDelay   *string `json:"settle_delay,omitempty" yaml:"settle_delay,omitempty"` // duration string like "1s"

	// Position feed; no port means no feed
	PositionPort        *string `json:"position_port,omitempty" yaml:"position_port,omitempty"`
	PositionBaudRate    *int    `json:"position_baud_rate,omitempty" yaml:"position_baud_rate,omitempty"`
	PositionReadTimeout *string `json:"position_read_timeout,omitempty" yaml:"position_read_timeout,omitempty"`

	// Fusion
	SweepStep        *float64 `json:"sweep_step,omitempty" yaml:"sweep_step,omitempty"`
	LegacyAccumulate *bool    `json:"legacy_accumulate,omitempty" yaml:"legacy_accumulate,omitempty"`
	StartMode        *string  `json:"start_mode,omitempty" yaml:"start_mode,omitempty"` // "continuous" or "manual"
	QueueSize        *int     `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`

	// Servers
	Listen          *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	GRPCListen      *string `json:"grpc_listen,omitempty" yaml:"grpc_listen,omitempty"`
	MQTTBroker      *string `json:"mqtt_broker,omitempty" yaml:"mqtt_broker,omitempty"`
	MQTTTopicPrefix *string `json:"mqtt_topic_prefix,omitempty" yaml:"mqtt_topic_prefix,omitempty"`
	MQTTClientID    *string `json:"mqtt_client_id,omitempty" yaml:"mqtt_client_id,omitempty"`
}

// Load reads a .json, .yaml or .yml file. Fields omitted from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *Config) Validate() error {
	if c.RangePort != nil && strings.TrimSpace(*c.RangePort) == "" {
		return fmt.Errorf("range_port must not be empty")
	}
	if c.ScanType != nil {
		switch strings.ToLower(*c.ScanType) {
		case "express", "normal":
		default:
			return fmt.Errorf("scan_type must be express or normal, got %q", *c.ScanType)
		}
	}
	if c.MinScanLen != nil && *c.MinScanLen < 0 {
		return fmt.Errorf("min_scan_len must be non-negative, got %d", *c.MinScanLen)
	}
	if c.MotorPWM != nil && (*c.MotorPWM < 1 || *c.MotorPWM > 1023) {
		return fmt.Errorf("motor_pwm must be between 1 and 1023, got %d", *c.MotorPWM)
	}
	for name, v := range map[string]*int{
		"range_baud_rate":    c.RangeBaudRate,
		"position_baud_rate": c.PositionBaudRate,
		"queue_size":         c.QueueSize,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}
	for name, v := range map[string]*string{
		"settle_delay":          c.SettleDelay,
		"position_read_timeout": c.PositionReadTimeout,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}
	if c.SweepStep != nil && !(*c.SweepStep > 0) {
		return fmt.Errorf("sweep_step must be positive, got %v", *c.SweepStep)
	}
	if c.StartMode != nil {
		switch strings.ToLower(*c.StartMode) {
		case "continuous", "constant", "manual", "current":
		default:
			return fmt.Errorf("start_mode must be continuous or manual, got %q", *c.StartMode)
		}
	}
	return nil
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

func stringOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// GetRangePort returns the range scanner port or the default.
func (c *Config) GetRangePort() string { return stringOr(c.RangePort, DefaultRangePort) }

// GetRangeBaudRate returns the range scanner baud rate or the default.
func (c *Config) GetRangeBaudRate() int { return intOr(c.RangeBaudRate, DefaultRangeBaudRate) }

// GetScanType returns the scan type or the default.
func (c *Config) GetScanType() string { return stringOr(c.ScanType, DefaultScanType) }

// GetMinScanLen returns the minimum revolution length or the default.
func (c *Config) GetMinScanLen() int { return intOr(c.MinScanLen, DefaultMinScanLen) }

// GetMotorPWM returns the motor PWM duty or the default.
func (c *Config) GetMotorPWM() int { return intOr(c.MotorPWM, DefaultMotorPWM) }

// GetSettleDelay parses SettleDelay, falling back to the default.
func (c *Config) GetSettleDelay() time.Duration {
	return durationOr(c.SettleDelay, DefaultSettleDelay)
}

// GetPositionPort returns the position feed port. Empty means no feed.
func (c *Config) GetPositionPort() string { return stringOr(c.PositionPort, "") }

// HasPositionFeed reports whether a position feed port is configured.
func (c *Config) HasPositionFeed() bool { return strings.TrimSpace(c.GetPositionPort()) != "" }

// GetPositionBaudRate returns the position feed baud rate or the default.
func (c *Config) GetPositionBaudRate() int {
	return intOr(c.PositionBaudRate, DefaultPositionBaudRate)
}

// GetPositionReadTimeout parses PositionReadTimeout, falling back to the
// default.
func (c *Config) GetPositionReadTimeout() time.Duration {
	return durationOr(c.PositionReadTimeout, DefaultPositionReadTimeout)
}

// GetSweepStep returns the fixed sweep step or the default.
func (c *Config) GetSweepStep() float64 {
	if c.SweepStep == nil {
		return DefaultSweepStep
	}
	return *c.SweepStep
}

// GetLegacyAccumulate returns the legacy_accumulate value or the default.
func (c *Config) GetLegacyAccumulate() bool {
	if c.LegacyAccumulate == nil {
		return false
	}
	return *c.LegacyAccumulate
}

// GetStartMode returns the start mode or the default.
func (c *Config) GetStartMode() string { return stringOr(c.StartMode, DefaultStartMode) }

// GetQueueSize returns the source queue capacity or the default.
func (c *Config) GetQueueSize() int { return intOr(c.QueueSize, DefaultQueueSize) }

// GetListen returns the HTTP listen address or the default.
func (c *Config) GetListen() string { return stringOr(c.Listen, DefaultListen) }

// GetGRPCListen returns the gRPC health listen address. Empty disables it.
func (c *Config) GetGRPCListen() string { return stringOr(c.GRPCListen, "") }

// GetMQTTBroker returns the MQTT broker URL. Empty disables publishing.
func (c *Config) GetMQTTBroker() string { return stringOr(c.MQTTBroker, "") }

// GetMQTTTopicPrefix returns the MQTT topic prefix or the default.
func (c *Config) GetMQTTTopicPrefix() string {
	return stringOr(c.MQTTTopicPrefix, DefaultMQTTTopicPrefix)
}

// GetMQTTClientID returns the MQTT client id. Empty means a generated one.
func (c *Config) GetMQTTClientID() string { return stringOr(c.MQTTClientID, "") }
