package sampler

import (
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NWU-FAE/analogRead-SEK/pkg/bridge"
	"github.com/NWU-FAE/analogRead-SEK/pkg/channel"
	"github.com/NWU-FAE/analogRead-SEK/pkg/config"
	"github.com/NWU-FAE/analogRead-SEK/pkg/edf"
	"github.com/NWU-FAE/analogRead-SEK/pkg/formula"
	"github.com/NWU-FAE/analogRead-SEK/pkg/metadata"
	"github.com/NWU-FAE/analogRead-SEK/pkg/metrics"
	"github.com/NWU-FAE/analogRead-SEK/pkg/sample"
	"github.com/NWU-FAE/analogRead-SEK/pkg/session"
)

type fixture struct {
	s       *Sampler
	dev     *bridge.Mock
	reg     *channel.Registry
	metrics *metrics.Metrics
	ticks   atomic.Int64
}

func newFixture(t *testing.T, expr string) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Formula = expr
	cfg.Output.Dir = t.TempDir()
	cfg.Sampling.RateHz = 200

	reg, err := channel.NewRegistry(
		channel.Definition{Name: "Port1", Index: 0, Active: true},
		channel.Definition{Name: "Port2", Index: 1, Active: true},
	)
	require.NoError(t, err)

	dev := bridge.NewMock(nil)
	dev.Hold(0, 1.5)
	dev.Hold(1, 2.0)
	sess := session.New(func(string, int) (bridge.Device, error) { return dev, nil }, nil)

	m := metrics.New(prometheus.NewRegistry())
	s, err := New(cfg, reg, sess, edf.NewWriter(cfg.Output, nil), nil, m)
	require.NoError(t, err)

	f := &fixture{s: s, dev: dev, reg: reg, metrics: m}
	s.OnUpdate(func(sample.Sample) { f.ticks.Add(1) })
	t.Cleanup(func() { s.Disconnect() })
	return f
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, f.s.Connect("COM3", bridge.DefaultBaudRate, 3.3))
}

func (f *fixture) waitTicks(t *testing.T, n int64) {
	t.Helper()
	start := f.ticks.Load()
	require.Eventually(t, func() bool {
		return f.ticks.Load()-start >= n
	}, 5*time.Second, 5*time.Millisecond)
}

// dataRows returns the data lines of a file split into fields.
func dataRows(t *testing.T, path string) [][]string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var rows [][]string
	for _, line := range strings.Split(strings.TrimSuffix(string(data), "\n"), "\n") {
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, edf.TimeColumn) {
			continue
		}
		rows = append(rows, strings.Split(line, "\t"))
	}
	return rows
}

func columnLine(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, edf.TimeColumn) {
			return line
		}
	}
	t.Fatalf("no column line in %s", path)
	return ""
}

func TestClampRate(t *testing.T) {
	tests := []struct {
		hz           float64
		wantHz       float64
		wantInterval time.Duration
	}{
		{1, 1, time.Second},
		{10, 10, 100 * time.Millisecond},
		{3, 3, 333 * time.Millisecond},
		{1000, 1000, time.Millisecond},
		{5000, 1000, time.Millisecond},
		{0.001, 0.01, 100 * time.Second},
		{0, 0.01, 100 * time.Second},
		{-5, 0.01, 100 * time.Second},
	}

	for _, tt := range tests {
		hz, interval := clampRate(tt.hz)
		assert.Equal(t, tt.wantHz, hz, "hz=%v", tt.hz)
		assert.Equal(t, tt.wantInterval, interval, "hz=%v", tt.hz)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Formula = "x +"
	_, err := New(cfg, nil, nil, nil, nil, nil)
	assert.ErrorIs(t, err, formula.ErrInvalidFormula)

	cfg = config.Default()
	cfg.Metadata = "[1, 2]"
	_, err = New(cfg, nil, nil, nil, nil, nil)
	assert.ErrorIs(t, err, metadata.ErrInvalidMetadata)
}

func TestStart_NotConnected(t *testing.T) {
	f := newFixture(t, "x")

	err := f.s.Start()
	assert.ErrorIs(t, err, session.ErrNotConnected)
	assert.Equal(t, Idle, f.s.State())
	assert.False(t, f.reg.Frozen())
}

func TestConnect_NoChannels(t *testing.T) {
	f := newFixture(t, "x")
	require.NoError(t, f.s.SetActive("Port1", false))
	require.NoError(t, f.s.SetActive("Port2", false))

	err := f.s.Connect("COM3", bridge.DefaultBaudRate, 3.3)
	assert.ErrorIs(t, err, channel.ErrNoChannelsSelected)
	assert.False(t, f.s.Connected())
}

func TestSampling_WritesRows(t *testing.T) {
	f := newFixture(t, "x")
	f.connect(t)
	require.NoError(t, f.s.SetFormula("x*2"))

	require.NoError(t, f.s.Start())
	assert.Equal(t, Running, f.s.State())
	assert.True(t, f.reg.Frozen())
	path := f.s.File()
	require.NotEmpty(t, path)

	f.waitTicks(t, 3)
	require.NoError(t, f.s.Stop())
	assert.Equal(t, Idle, f.s.State())
	assert.False(t, f.reg.Frozen())
	assert.Empty(t, f.s.File())

	assert.Equal(t,
		"Epoch_UTC\tPort1Sen66_111voltage\tPort1Sen66_111calculatedvalue\tPort2Sen66_2222voltage\tPort2Sen66_2222calculatedvalue",
		columnLine(t, path))

	rows := dataRows(t, path)
	require.GreaterOrEqual(t, len(rows), 3)
	for _, row := range rows {
		assert.Equal(t, []string{"1.500", "3.000", "2.000", "4.000"}, row[1:])
	}

	last, ok := f.s.LastSample()
	require.True(t, ok)
	r, ok := last.Reading("Port2")
	require.True(t, ok)
	assert.Equal(t, 4.0, r.Value)

	ring := f.s.Series().Ring("Port1")
	require.NotNil(t, ring)
	assert.GreaterOrEqual(t, ring.Len(), 3)
	assert.GreaterOrEqual(t, testutil.ToFloat64(f.metrics.Ticks), 3.0)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.Running))
}

func TestSampling_HeaderRecordsSettings(t *testing.T) {
	f := newFixture(t, "x/2")
	f.connect(t)
	require.NoError(t, f.s.Start())
	path := f.s.File()
	require.NoError(t, f.s.Stop())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# SupplyVoltage=3.3\n")
	assert.Contains(t, string(data), "# Formula=x/2\n")
	assert.Contains(t, string(data), "# SamplingRateHz=200\n")
	assert.Contains(t, string(data), "# TestName=Logi\n")
}

func TestSampling_MeasureFailureOmitsChannel(t *testing.T) {
	f := newFixture(t, "x")
	f.connect(t)
	f.dev.FailMeasure(0, errors.New("crc mismatch"))

	require.NoError(t, f.s.Start())
	f.waitTicks(t, 2)
	assert.Equal(t, Running, f.s.State())

	path := f.s.File()
	require.NoError(t, f.s.Stop())

	rows := dataRows(t, path)
	require.NotEmpty(t, rows)
	for _, row := range rows {
		assert.Equal(t, []string{"", "", "2.000", "2.000"}, row[1:])
	}
	assert.GreaterOrEqual(t, testutil.ToFloat64(f.metrics.MeasureErrors.WithLabelValues("Port1")), 2.0)
}

func TestSampling_InvalidFormulaResult(t *testing.T) {
	f := newFixture(t, "1/(x-x)")
	f.connect(t)

	require.NoError(t, f.s.Start())
	f.waitTicks(t, 1)
	path := f.s.File()
	require.NoError(t, f.s.Stop())

	rows := dataRows(t, path)
	require.NotEmpty(t, rows)
	assert.Equal(t, []string{"1.500", "NaN", "2.000", "NaN"}, rows[0][1:])
	assert.GreaterOrEqual(t, testutil.ToFloat64(f.metrics.InvalidValues.WithLabelValues("Port1")), 1.0)
}

func TestSampling_ConfigurationLockedWhileRunning(t *testing.T) {
	f := newFixture(t, "x")
	f.connect(t)
	require.NoError(t, f.s.Start())

	assert.ErrorIs(t, f.s.SetActive("Port2", false), channel.ErrInvalidState)
	assert.ErrorIs(t, f.s.SetFormula("x*3"), channel.ErrInvalidState)
	assert.ErrorIs(t, f.s.SetMetadata("{TestName: other}"), channel.ErrInvalidState)
	assert.ErrorIs(t, f.s.Connect("COM4", bridge.DefaultBaudRate, 3.3), channel.ErrInvalidState)
	assert.ErrorIs(t, f.s.Start(), channel.ErrInvalidState)
	assert.Equal(t, "x", f.s.Formula())

	require.NoError(t, f.s.Stop())
	require.NoError(t, f.s.SetActive("Port2", false))

	// Next session, one hour later so it gets its own file.
	f.s.now = func() time.Time { return time.Now().Add(time.Hour) }
	require.NoError(t, f.s.Start())
	path := f.s.File()
	f.waitTicks(t, 1)
	require.NoError(t, f.s.Stop())

	assert.Equal(t, "Epoch_UTC\tPort1Sen66_111voltage\tPort1Sen66_111calculatedvalue", columnLine(t, path))
	for _, row := range dataRows(t, path) {
		assert.Len(t, row, 3)
	}
}

func TestStart_ActiveSetLockedWhileArmed(t *testing.T) {
	f := newFixture(t, "x")
	f.connect(t)

	// now is first called by Start while armed; later calls come from ticks.
	var (
		once     sync.Once
		armedErr error
	)
	f.s.now = func() time.Time {
		once.Do(func() { armedErr = f.reg.SetActive("Port2", false) })
		return time.Now()
	}
	require.NoError(t, f.s.Start())
	schema := f.s.file.Schema().Names()
	require.NoError(t, f.s.Stop())

	assert.ErrorIs(t, armedErr, channel.ErrInvalidState)
	assert.Len(t, f.reg.Active(), 2)
	assert.Contains(t, schema, "Port2Sen66_2222voltage")
	assert.NoError(t, f.s.SetActive("Port2", false))
}

func TestSampling_WriteFailureKeepsRunning(t *testing.T) {
	f := newFixture(t, "x")
	f.connect(t)
	require.NoError(t, f.s.Start())
	f.waitTicks(t, 1)

	f.s.mu.Lock()
	require.NoError(t, f.s.file.Close())
	f.s.mu.Unlock()

	ring := f.s.Series().Ring("Port1")
	require.NotNil(t, ring)
	before := ring.Len()

	f.waitTicks(t, 3)
	assert.Equal(t, Running, f.s.State())
	assert.Greater(t, ring.Len(), before)
	assert.GreaterOrEqual(t, testutil.ToFloat64(f.metrics.WriteErrors), 2.0)

	require.NoError(t, f.s.Stop())
	assert.Equal(t, Idle, f.s.State())
}

func TestStart_ActivatedChannelIsPowered(t *testing.T) {
	f := newFixture(t, "x")
	require.NoError(t, f.s.SetActive("Port2", false))
	f.connect(t)

	_, powered := f.dev.Supply(1)
	assert.False(t, powered)

	require.NoError(t, f.s.SetActive("Port2", true))
	require.NoError(t, f.s.Start())
	defer f.s.Stop()

	volts, powered := f.dev.Supply(1)
	assert.True(t, powered)
	assert.Equal(t, 3.3, volts)
}

func TestStart_MissingMetadata(t *testing.T) {
	f := newFixture(t, "x")
	f.connect(t)
	require.NoError(t, f.s.SetMetadata("{TestName: bench, Port1: {SensorName: S1, SensorId: '1'}}"))

	err := f.s.Start()
	assert.ErrorIs(t, err, channel.ErrMissingChannelMetadata)
	assert.Equal(t, Idle, f.s.State())
	assert.False(t, f.reg.Frozen())
}

func TestSetRate(t *testing.T) {
	f := newFixture(t, "x")
	assert.Equal(t, 5*time.Millisecond, f.s.Interval())

	assert.Equal(t, 100*time.Millisecond, f.s.SetRate(10))
	assert.Equal(t, 10.0, f.s.Rate())

	f.connect(t)
	require.NoError(t, f.s.Start())

	assert.Equal(t, 2*time.Millisecond, f.s.SetRate(500))
	assert.Equal(t, 2*time.Millisecond, f.s.SetRate(500))
	assert.Equal(t, 2*time.Millisecond, f.s.Interval())
	f.waitTicks(t, 5)

	assert.Equal(t, time.Millisecond, f.s.SetRate(1e6))
	require.NoError(t, f.s.Stop())
}

func TestSampling_MonotonicTimestamps(t *testing.T) {
	f := newFixture(t, "x")
	f.connect(t)

	// A clock that steps backwards on every read.
	base := time.Now()
	var calls atomic.Int64
	f.s.now = func() time.Time {
		return base.Add(-time.Duration(calls.Add(1)) * time.Second)
	}

	var mu sync.Mutex
	var times []time.Time
	f.s.OnUpdate(func(smp sample.Sample) {
		mu.Lock()
		times = append(times, smp.Time)
		mu.Unlock()
	})

	require.NoError(t, f.s.Start())
	f.waitTicks(t, 4)
	require.NoError(t, f.s.Stop())

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(times); i++ {
		assert.False(t, times[i].Before(times[i-1]), "tick %d went backwards", i)
	}
}

func TestDisconnect_WhileRunning(t *testing.T) {
	f := newFixture(t, "x")
	f.connect(t)
	require.NoError(t, f.s.Start())
	f.waitTicks(t, 1)

	require.NoError(t, f.s.Disconnect())
	assert.Equal(t, Idle, f.s.State())
	assert.False(t, f.s.Connected())
	assert.False(t, f.reg.Frozen())
	assert.True(t, f.dev.Closed())

	// Idempotent teardown.
	assert.NoError(t, f.s.Stop())
	assert.NoError(t, f.s.Disconnect())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "armed", Armed.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "unknown", State(42).String())
}
