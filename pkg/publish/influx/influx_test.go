package influx

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NWU-FAE/analogRead-SEK/pkg/sample"
)

type fakeWriter struct {
	err    error
	points []*write.Point
}

func (w *fakeWriter) WritePoint(ctx context.Context, point ...*write.Point) error {
	w.points = append(w.points, point...)
	return w.err
}

func fields(p *write.Point) map[string]interface{} {
	result := make(map[string]interface{})
	for _, f := range p.FieldList() {
		result[f.Key] = f.Value
	}
	return result
}

func tags(p *write.Point) map[string]string {
	result := make(map[string]string)
	for _, t := range p.TagList() {
		result[t.Key] = t.Value
	}
	return result
}

func TestPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := New(w, "")
	ts := time.Unix(1700000000, 0)

	err := p.Publish(context.Background(), sample.Sample{
		Time: ts,
		Readings: []sample.Reading{
			{Channel: "Port1", Voltage: 1.5, Value: 3.0, Valid: true},
			{Channel: "Port2", Voltage: 2.0, Value: math.NaN(), Valid: false},
		},
	})
	require.NoError(t, err)
	require.Len(t, w.points, 2)

	first := w.points[0]
	assert.Equal(t, "bridge", first.Name())
	assert.Equal(t, ts, first.Time())
	assert.Equal(t, map[string]string{"channel": "Port1"}, tags(first))
	assert.Equal(t, map[string]interface{}{"voltage": 1.5, "value": 3.0}, fields(first))

	second := fields(w.points[1])
	assert.Equal(t, 2.0, second["voltage"])
	assert.NotContains(t, second, "value")
}

func TestPublisher_EmptySample(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, New(w, "m").Publish(context.Background(), sample.Sample{Time: time.Now()}))
	assert.Empty(t, w.points)
}

func TestPublisher_Error(t *testing.T) {
	p := New(&fakeWriter{err: errors.New("unauthorized")}, "m")

	err := p.Publish(context.Background(), sample.Sample{
		Time:     time.Now(),
		Readings: []sample.Reading{{Channel: "Port1", Voltage: 1}},
	})
	assert.ErrorContains(t, err, "unauthorized")
	assert.Equal(t, "influx", p.Name())
	assert.NoError(t, p.Close())
}
