// Package publish mirrors samples to live sinks outside the data file.
//
// Mirrors are best effort: a slow or failing sink never delays sampling.
package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NWU-FAE/analogRead-SEK/pkg/logging"
	"github.com/NWU-FAE/analogRead-SEK/pkg/metrics"
	"github.com/NWU-FAE/analogRead-SEK/pkg/sample"
)

// DefaultQueueSize is the Fanout buffer used when none is given.
const DefaultQueueSize = 64

// Publisher sends samples to one sink.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, s sample.Sample) error
	Close() error
}

// Reading is the JSON form of one channel reading. Value is null when the
// formula had no finite result.
type Reading struct {
	Time    float64  `json:"time"`
	Channel string   `json:"channel"`
	Voltage float64  `json:"voltage"`
	Value   *float64 `json:"value"`
}

// Message is the JSON form of a sample.
type Message struct {
	Time     float64   `json:"time"`
	Readings []Reading `json:"readings"`
}

// NewReading converts r taken at t.
func NewReading(t time.Time, r sample.Reading) Reading {
	out := Reading{
		Time:    float64(t.UnixNano()) / 1e9,
		Channel: r.Channel,
		Voltage: r.Voltage,
	}
	if r.Valid {
		v := r.Value
		out.Value = &v
	}
	return out
}

// NewMessage converts s.
func NewMessage(s sample.Sample) Message {
	m := Message{
		Time:     s.Epoch(),
		Readings: make([]Reading, len(s.Readings)),
	}
	for i, r := range s.Readings {
		m.Readings[i] = NewReading(s.Time, r)
	}
	return m
}

// Fanout hands samples from the sampling loop to a worker that publishes them
// to every Publisher in turn. Send never blocks: when the queue is full the
// sample is dropped and counted.
type Fanout struct {
	publishers []Publisher
	queue      chan sample.Sample
	timeout    time.Duration

	log     logrus.FieldLogger
	metrics *metrics.Metrics

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewFanout creates a fanout with a queue of size samples.
func NewFanout(log logrus.FieldLogger, m *metrics.Metrics, size int, publishers ...Publisher) *Fanout {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Fanout{
		publishers: publishers,
		queue:      make(chan sample.Sample, size),
		timeout:    2 * time.Second,
		log:        logging.OrDiscard(log),
		metrics:    m,
	}
}

// Start runs the worker until Close.
func (f *Fanout) Start(ctx context.Context) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for s := range f.queue {
			f.publish(ctx, s)
		}
	}()
}

// Send queues s for publishing. It reports false when s was dropped.
func (f *Fanout) Send(s sample.Sample) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	select {
	case f.queue <- s.Clone():
		return true
	default:
		f.metrics.Dropped()
		f.log.Debug("publish queue full, dropping sample")
		return false
	}
}

// Len returns the number of publishers.
func (f *Fanout) Len() int {
	return len(f.publishers)
}

// Close drains the queue, stops the worker and closes every publisher.
func (f *Fanout) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	f.wg.Wait()

	var errs []error
	for _, p := range f.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) publish(ctx context.Context, s sample.Sample) {
	for _, p := range f.publishers {
		pctx, cancel := context.WithTimeout(ctx, f.timeout)
		err := p.Publish(pctx, s)
		cancel()
		if err != nil {
			f.metrics.PublishError(p.Name())
			f.log.WithError(err).WithField("sink", p.Name()).Warn("failed to publish sample")
		}
	}
}
