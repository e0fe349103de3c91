package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseReading(t *testing.T) {
	tests := []struct {
		line    string
		want    float64
		wantErr bool
	}{
		{line: "12.5", want: 12.5},
		{line: " -3\r\n", want: -3},
		{line: "0", want: 0},
		{line: "1e3", want: 1000},
		{line: "", wantErr: true},
		{line: "   ", wantErr: true},
		{line: "abc", wantErr: true},
		{line: "1,5", wantErr: true},
		{line: "12.5 13.0", wantErr: true},
		{line: "NaN", wantErr: true},
		{line: "inf", wantErr: true},
		{line: "-Infinity", wantErr: true},
		{line: "1e400", wantErr: true},
		{line: "\xff\xfe", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseReading(tt.line)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedReading)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
