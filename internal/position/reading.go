package position

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedReading is returned for a line that is not a single finite
// number.
var ErrMalformedReading = errors.New("malformed position reading")

// ParseReading parses one line of the position feed.
func ParseReading(line string) (float64, error) {
	s := strings.TrimSpace(line)
	if s == "" {
		return 0, fmt.Errorf("%w: empty line", ErrMalformedReading)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedReading, s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: non-finite %q", ErrMalformedReading, s)
	}
	return v, nil
}
