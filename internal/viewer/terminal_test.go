package viewer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCommands(t *testing.T) {
	ctrl := NewMockController()
	input := "\n\na\nr\nt\nM\nreset\nadvance\nbogus\n"
	require.NoError(t, ReadCommands(strings.NewReader(input), ctrl))

	assert.Equal(t, 4, ctrl.Count(CommandAdvance))
	assert.Equal(t, 2, ctrl.Count(CommandReset))
	assert.Equal(t, 2, ctrl.Count(CommandToggle))
}
