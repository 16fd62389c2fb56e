package sampler

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NWU-FAE/analogRead-SEK/pkg/channel"
	"github.com/NWU-FAE/analogRead-SEK/pkg/config"
	"github.com/NWU-FAE/analogRead-SEK/pkg/edf"
	"github.com/NWU-FAE/analogRead-SEK/pkg/formula"
	"github.com/NWU-FAE/analogRead-SEK/pkg/logging"
	"github.com/NWU-FAE/analogRead-SEK/pkg/metadata"
	"github.com/NWU-FAE/analogRead-SEK/pkg/metrics"
	"github.com/NWU-FAE/analogRead-SEK/pkg/sample"
	"github.com/NWU-FAE/analogRead-SEK/pkg/series"
	"github.com/NWU-FAE/analogRead-SEK/pkg/session"
)

// State of the scheduler.
type State int

const (
	Idle State = iota
	Armed
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Header fields describing the acquisition settings of a data file.
const (
	FieldSupply  = "SupplyVoltage"
	FieldFormula = "Formula"
	FieldRate    = "SamplingRateHz"
)

// Sampler drives periodic acquisition: every tick it measures the active
// channels, evaluates the formula, appends a row to the data file and updates
// the display series.
//
// Configuration calls and ticks are serialized on one mutex, so a tick always
// sees a consistent formula, channel set and file.
type Sampler struct {
	registry *channel.Registry
	session  *session.Session
	writer   *edf.Writer
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu       sync.Mutex
	state    State
	formula  *formula.Expr
	header   *metadata.Header
	rate     float64
	interval time.Duration
	file     *edf.File
	series   *series.Set
	last     sample.Sample
	hasLast  bool
	lastTime time.Time

	stop   chan struct{}
	done   chan struct{}
	rateCh chan time.Duration

	cbMu      sync.RWMutex
	callbacks []func(s sample.Sample)
}

// New creates an idle sampler with formula, metadata and rate taken from cfg.
func New(cfg *config.Config, registry *channel.Registry, sess *session.Session, writer *edf.Writer, log logrus.FieldLogger, m *metrics.Metrics) (*Sampler, error) {
	expr, err := formula.Compile(cfg.Formula)
	if err != nil {
		return nil, err
	}
	header, err := metadata.Parse(cfg.Metadata)
	if err != nil {
		return nil, err
	}

	s := &Sampler{
		registry: registry,
		session:  sess,
		writer:   writer,
		log:      logging.OrDiscard(log),
		metrics:  m,
		now:      time.Now,
		formula:  expr,
		header:   header,
		series:   series.NewSet(cfg.Sampling.DisplayPoints),
	}
	s.rate, s.interval = clampRate(cfg.Sampling.RateHz)

	return s, nil
}

// Connect opens the device session for the active channels.
func (s *Sampler) Connect(port string, baudRate int, supply float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle {
		return fmt.Errorf("%w: cannot connect while %s", channel.ErrInvalidState, s.state)
	}
	active, err := s.registry.RequireActive()
	if err != nil {
		return err
	}
	return s.session.Open(port, baudRate, supply, active)
}

// Disconnect stops sampling if needed and closes the device session.
func (s *Sampler) Disconnect() error {
	if err := s.Stop(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Close()
}

// SetActive toggles a channel. Rejected from Start until Stop.
func (s *Sampler) SetActive(name string, active bool) error {
	return s.registry.SetActive(name, active)
}

// SetFormula compiles expr and uses it for the next session.
func (s *Sampler) SetFormula(expr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle {
		return fmt.Errorf("%w: cannot change formula while %s", channel.ErrInvalidState, s.state)
	}
	compiled, err := formula.Compile(expr)
	if err != nil {
		return err
	}
	s.formula = compiled
	return nil
}

// SetMetadata parses text and uses it as the header of the next data file.
func (s *Sampler) SetMetadata(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle {
		return fmt.Errorf("%w: cannot change metadata while %s", channel.ErrInvalidState, s.state)
	}
	header, err := metadata.Parse(text)
	if err != nil {
		return err
	}
	s.header = header
	return nil
}

// SetRate sets the sampling frequency, clamped to [config.MinRateHz,
// config.MaxRateHz], and returns the resulting tick interval. A running
// session picks it up from the next tick on.
func (s *Sampler) SetRate(hz float64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rate, s.interval = clampRate(hz)
	if s.rateCh != nil {
		// Keep only the latest pending change.
		select {
		case <-s.rateCh:
		default:
		}
		s.rateCh <- s.interval
	}
	return s.interval
}

// Start begins a sampling session. The device session must be open and every
// active channel must have sensor metadata.
func (s *Sampler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle {
		return fmt.Errorf("%w: sampler is %s", channel.ErrInvalidState, s.state)
	}
	if !s.session.IsOpen() {
		return session.ErrNotConnected
	}

	s.state = Armed
	// Active set stays locked until Stop.
	s.registry.Freeze()
	abort := func(err error) error {
		s.registry.Thaw()
		s.state = Idle
		return err
	}

	channels, err := s.registry.Bind(s.header)
	if err != nil {
		return abort(err)
	}
	if err := s.session.Extend(channels); err != nil {
		return abort(err)
	}

	file, err := s.writer.Begin(s.header, channels, s.now(),
		metadata.Field{Key: FieldSupply, Value: strconv.FormatFloat(s.session.Supply(), 'f', 1, 64)},
		metadata.Field{Key: FieldFormula, Value: s.formula.String()},
		metadata.Field{Key: FieldRate, Value: strconv.FormatFloat(s.rate, 'g', -1, 64)},
	)
	if err != nil {
		return abort(err)
	}

	s.file = file
	s.series.Reset()
	s.hasLast = false
	s.lastTime = time.Time{}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.rateCh = make(chan time.Duration, 1)
	s.state = Running
	s.metrics.SetRunning(true)

	s.log.WithFields(logrus.Fields{
		"file":     file.Path(),
		"channels": len(channels),
		"interval": s.interval,
	}).Info("sampling started")

	go s.run(s.stop, s.done, s.rateCh, s.interval)
	return nil
}

// Stop ends the sampling session after the tick in progress, if any, and
// closes the data file. Stopping an idle sampler is a no-op.
func (s *Sampler) Stop() error {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return nil
	}
	done := s.done
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.mu.Unlock()

	<-done

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Running {
		// Finished by a concurrent Stop.
		return nil
	}

	var err error
	if s.file != nil {
		err = s.file.Close()
		s.log.WithField("file", s.file.Path()).Info("sampling stopped")
		s.file = nil
	}
	s.rateCh = nil
	s.registry.Thaw()
	s.state = Idle
	s.metrics.SetRunning(false)
	return err
}

func (s *Sampler) run(stop <-chan struct{}, done chan<- struct{}, rate <-chan time.Duration, interval time.Duration) {
	defer close(done)

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case interval = <-rate:
			timer.Reset(interval)
		case <-timer.C:
			s.tick(stop)
			// The next tick is scheduled from the end of this one, so a slow
			// tick delays the schedule instead of queuing catch-up ticks.
			timer.Reset(interval)
		}
	}
}

func (s *Sampler) tick(stop <-chan struct{}) {
	s.mu.Lock()

	select {
	case <-stop:
		s.mu.Unlock()
		return
	default:
	}

	started := time.Now()
	ts := s.now()
	if ts.Before(s.lastTime) {
		ts = s.lastTime
	}
	s.lastTime = ts

	channels := s.file.Schema().Channels()
	readings := make([]sample.Reading, 0, len(channels))
	for _, ch := range channels {
		volts, err := s.session.Measure(ch)
		if err != nil {
			s.metrics.MeasureError(ch.Name)
			s.log.WithError(err).WithField("channel", ch.Name).Warn("measurement failed")
			continue
		}

		r := sample.NewReading(ch, volts, s.formula)
		if !r.Valid {
			s.metrics.InvalidValue(ch.Name)
			s.log.WithFields(logrus.Fields{
				"channel": ch.Name,
				"voltage": volts,
				"formula": s.formula.String(),
			}).Debug("formula has no finite result")
		}
		readings = append(readings, r)
	}

	smp := sample.Sample{Time: ts, Readings: readings}
	if err := s.file.Append(smp); err != nil {
		s.metrics.WriteError()
		s.log.WithError(err).WithField("file", s.file.Path()).Error("failed to append row")
	}
	s.series.Push(smp)
	s.last = smp
	s.hasLast = true
	s.metrics.ObserveTick(time.Since(started))

	s.mu.Unlock()

	s.notify(smp)
}

// OnUpdate registers a callback invoked after every tick with the tick's
// sample. Callbacks run on the sampling goroutine, must return quickly and
// must not call Stop or Disconnect.
func (s *Sampler) OnUpdate(callback func(s sample.Sample)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.callbacks = append(s.callbacks, callback)
}

func (s *Sampler) notify(smp sample.Sample) {
	s.cbMu.RLock()
	callbacks := make([]func(sample.Sample), len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(smp.Clone())
		}
	}
}

// State returns the scheduler state.
func (s *Sampler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Interval returns the current tick interval.
func (s *Sampler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Rate returns the current sampling frequency in Hz.
func (s *Sampler) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// Formula returns the current formula text.
func (s *Sampler) Formula() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.formula.String()
}

// File returns the path of the data file of the running session, or "".
func (s *Sampler) File() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ""
	}
	return s.file.Path()
}

// LastSample returns the sample of the most recent tick of the current or
// last session.
func (s *Sampler) LastSample() (sample.Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last.Clone(), s.hasLast
}

// Series returns the display buffers.
func (s *Sampler) Series() *series.Set {
	return s.series
}

// Connected reports whether the device session is open.
func (s *Sampler) Connected() bool {
	return s.session.IsOpen()
}

// clampRate bounds hz and derives the tick interval in whole milliseconds.
func clampRate(hz float64) (float64, time.Duration) {
	if hz < config.MinRateHz || math.IsNaN(hz) {
		hz = config.MinRateHz
	}
	if hz > config.MaxRateHz {
		hz = config.MaxRateHz
	}
	interval := time.Duration(int64(1000/hz)) * time.Millisecond
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	return hz, interval
}
