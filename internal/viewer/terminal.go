package viewer

import (
	"bufio"
	"io"
	"strings"

	"github.com/banshee-data/sweepscan/internal/monitoring"
)

// ReadCommands reads one command per line from r until EOF: an empty line
// or "a" advances, "r" resets, "t" or "m" toggles the mode. Full command
// names are accepted too.
func ReadCommands(r io.Reader, cmd Commander) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		switch line {
		case "", "a":
			line = CommandAdvance
		case "r":
			line = CommandReset
		case "t", "m":
			line = CommandToggle
		}
		if !dispatch(cmd, line) {
			monitoring.Logf("unknown command %q: enter advances, r resets, t toggles mode", line)
		}
	}
	return scanner.Err()
}
