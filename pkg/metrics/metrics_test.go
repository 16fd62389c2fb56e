package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NWU-FAE/analogRead-SEK/pkg/logging"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveTick(10 * time.Millisecond)
	m.ObserveTick(20 * time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Ticks))
	assert.Equal(t, 1, testutil.CollectAndCount(m.TickDuration))

	m.MeasureError("Port1")
	m.MeasureError("Port1")
	m.MeasureError("Port2")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MeasureErrors.WithLabelValues("Port1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MeasureErrors.WithLabelValues("Port2")))

	m.InvalidValue("Port2")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InvalidValues.WithLabelValues("Port2")))

	m.WriteError()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WriteErrors))

	m.PublishError("mqtt")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishErrors.WithLabelValues("mqtt")))

	m.Dropped()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishDropped))

	m.SetRunning(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Running))
	m.SetRunning(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Running))
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTick(time.Millisecond)
		m.MeasureError("Port1")
		m.InvalidValue("Port1")
		m.WriteError()
		m.PublishError("redis")
		m.Dropped()
		m.SetRunning(true)
	})
}

func TestServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Ticks.Inc()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, reg, logging.Discard()) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + addr + "/metrics")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "analogread_ticks_total 1")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
