package sample

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecimate_NoDecimation(t *testing.T) {
	now := time.Now()
	samples := []Sample{
		{Time: now, Readings: []Reading{{Channel: "Port1", Voltage: 1.0}}},
		{Time: now.Add(100 * time.Millisecond), Readings: []Reading{{Channel: "Port1", Voltage: 1.1}}},
		{Time: now.Add(200 * time.Millisecond), Readings: []Reading{{Channel: "Port1", Voltage: 1.2}}},
	}

	result := Decimate(nil, samples, 10)
	require.Len(t, result, 3)
	assert.Equal(t, samples, result)

	dst := make([]Sample, 0, 10)
	result = Decimate(dst, samples, 10)
	require.Len(t, result, 3)
	assert.Equal(t, samples, result)
	// Should reuse dst
	assert.Equal(t, cap(dst), cap(result))
}

func TestDecimate_WithDecimation(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i)
	}

	dst := make([]float64, 0, 20)
	result := Decimate(dst, values, 10)
	require.Len(t, result, 10)
	assert.Equal(t, 20, cap(result))

	// Should always include first value
	assert.Equal(t, 0.0, result[0])
	assert.GreaterOrEqual(t, result[len(result)-1], 80.0)

	for i := 1; i < len(result); i++ {
		assert.Greater(t, result[i], result[i-1])
	}
}

func TestDecimate_SmallDst(t *testing.T) {
	values := make([]float64, 50)
	dst := make([]float64, 0, 2)

	result := Decimate(dst, values, 5)
	assert.Len(t, result, 5)
	assert.GreaterOrEqual(t, cap(result), 5)
}

func TestDecimate_ZeroPoints(t *testing.T) {
	assert.Empty(t, Decimate[float64](nil, []float64{1, 2, 3}, 0))
}
