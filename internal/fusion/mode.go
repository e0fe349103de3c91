package fusion

import (
	"fmt"
	"strings"
)

// Mode decides whether scans are committed as they arrive or only on an
// explicit advance.
type Mode int

const (
	// ModeContinuous commits every scan immediately.
	ModeContinuous Mode = iota
	// ModeManual caches scans until Advance.
	ModeManual
)

// String returns the label shown on the mode button.
func (m Mode) String() string {
	switch m {
	case ModeContinuous:
		return "Constant Mode"
	case ModeManual:
		return "Current Mode"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts "continuous" (or "constant") and "manual" (or
// "current"), case-insensitive. An empty string is continuous.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continuous", "constant":
		return ModeContinuous, nil
	case "manual", "current":
		return ModeManual, nil
	}
	return ModeContinuous, fmt.Errorf("unknown mode %q", s)
}

// ModeController holds the current mode. It is owned by the controller loop.
type ModeController struct {
	mode Mode
}

// NewModeController starts in mode.
func NewModeController(mode Mode) *ModeController {
	return &ModeController{mode: mode}
}

func (c *ModeController) Mode() Mode { return c.mode }

// Toggle flips the mode and returns the new one.
func (c *ModeController) Toggle() Mode {
	if c.mode == ModeContinuous {
		c.mode = ModeManual
	} else {
		c.mode = ModeContinuous
	}
	return c.mode
}
