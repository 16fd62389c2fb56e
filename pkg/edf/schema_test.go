package edf

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NWU-FAE/analogRead-SEK/pkg/sample"
)

func TestNewSchema(t *testing.T) {
	s := NewSchema(testChannels, 0)

	assert.Equal(t, []string{
		"Epoch_UTC",
		"Port1Sen66_111voltage",
		"Port1Sen66_111calculatedvalue",
		"Port2Sen66_2222voltage",
		"Port2Sen66_2222calculatedvalue",
	}, s.Names())
	assert.Equal(t, testChannels, s.Channels())
	assert.True(t, s.Has("Port2"))
	assert.False(t, s.Has("Port3"))

	for _, c := range s.Columns[1:] {
		assert.Equal(t, ".3f", c.Format)
	}
}

func TestSchema_Row(t *testing.T) {
	ts := time.Unix(1700000000, 123_000_000)

	tests := []struct {
		name      string
		precision int
		readings  []sample.Reading
		want      string
	}{
		{
			name:      "all channels",
			precision: 3,
			readings: []sample.Reading{
				{Channel: "Port1", Voltage: 1.5, Value: 3.0, Valid: true},
				{Channel: "Port2", Voltage: 2.0, Value: 4.0, Valid: true},
			},
			want: "1700000000.123\t1.500\t3.000\t2.000\t4.000\n",
		},
		{
			name:      "invalid value keeps voltage",
			precision: 3,
			readings: []sample.Reading{
				{Channel: "Port1", Voltage: 1.5, Value: math.NaN(), Valid: false},
			},
			want: "1700000000.123\t1.500\tNaN\t\t\n",
		},
		{
			name:      "precision",
			precision: 1,
			readings: []sample.Reading{
				{Channel: "Port2", Voltage: 2.04, Value: 4.08, Valid: true},
			},
			want: "1700000000.123\t\t\t2.0\t4.1\n",
		},
		{
			name: "no readings",
			want: "1700000000.123\t\t\t\t\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSchema(testChannels, tt.precision)
			row, err := s.Row(sample.Sample{Time: ts, Readings: tt.readings})
			require.NoError(t, err)
			assert.Equal(t, tt.want, row)
		})
	}
}

func TestSchema_Row_UnknownChannel(t *testing.T) {
	s := NewSchema(testChannels, 3)
	_, err := s.Row(sample.Sample{
		Time:     time.Now(),
		Readings: []sample.Reading{{Channel: "Port9", Voltage: 1}},
	})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}
