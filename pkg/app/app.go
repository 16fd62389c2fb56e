// Package app wires configuration, device session, scheduler, data file,
// metrics and live mirrors into one acquisition engine.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/NWU-FAE/analogRead-SEK/pkg/bridge"
	"github.com/NWU-FAE/analogRead-SEK/pkg/channel"
	"github.com/NWU-FAE/analogRead-SEK/pkg/config"
	"github.com/NWU-FAE/analogRead-SEK/pkg/edf"
	"github.com/NWU-FAE/analogRead-SEK/pkg/metrics"
	"github.com/NWU-FAE/analogRead-SEK/pkg/publish"
	"github.com/NWU-FAE/analogRead-SEK/pkg/publish/influx"
	"github.com/NWU-FAE/analogRead-SEK/pkg/publish/mqtt"
	"github.com/NWU-FAE/analogRead-SEK/pkg/publish/redis"
	"github.com/NWU-FAE/analogRead-SEK/pkg/sample"
	"github.com/NWU-FAE/analogRead-SEK/pkg/sampler"
	"github.com/NWU-FAE/analogRead-SEK/pkg/session"
)

// App is the assembled acquisition engine.
type App struct {
	Config   *config.Config
	Log      *logrus.Logger
	Registry *channel.Registry
	Session  *session.Session
	Sampler  *sampler.Sampler
	Metrics  *metrics.Metrics
	Gatherer *prometheus.Registry

	fanout *publish.Fanout
	cancel context.CancelFunc
}

// New builds the engine from cfg. With mock set the bridge is simulated.
// Mirrors that cannot connect are skipped with a warning.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger, mock bool) (*App, error) {
	defs := make([]channel.Definition, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		defs[i] = channel.Definition{Name: ch.Name, Index: ch.Index, Active: ch.Active}
	}
	registry, err := channel.NewRegistry(defs...)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sess := session.New(Dialer(cfg, mock), log.WithField("component", "session"))
	writer := edf.NewWriter(cfg.Output, log.WithField("component", "edf"))

	s, err := sampler.New(cfg, registry, sess, writer, log.WithField("component", "sampler"), m)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	a := &App{
		Config:   cfg,
		Log:      log,
		Registry: registry,
		Session:  sess,
		Sampler:  s,
		Metrics:  m,
		Gatherer: reg,
		cancel:   cancel,
	}

	if pubs := Publishers(ctx, cfg, log); len(pubs) > 0 {
		a.fanout = publish.NewFanout(log.WithField("component", "publish"), m, publish.DefaultQueueSize, pubs...)
		a.fanout.Start(ctx)
		s.OnUpdate(func(smp sample.Sample) { a.fanout.Send(smp) })
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg, log); err != nil {
				log.WithError(err).Error("metrics server failed")
			}
		}()
	}

	return a, nil
}

// Dialer returns the session dialer for cfg.
func Dialer(cfg *config.Config, mock bool) session.Dialer {
	if mock {
		return func(string, int) (bridge.Device, error) {
			return bridge.NewMock(&cfg.Mock), nil
		}
	}
	return func(port string, baudRate int) (bridge.Device, error) {
		return bridge.Dial(port, baudRate, cfg.Serial.Timeout)
	}
}

// Publishers connects the mirrors enabled in cfg.
func Publishers(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) []publish.Publisher {
	var pubs []publish.Publisher

	if cfg.MQTT.Enabled {
		if p, err := mqtt.Dial(cfg.MQTT); err != nil {
			log.WithError(err).Warn("mqtt mirror disabled")
		} else {
			pubs = append(pubs, p)
		}
	}
	if cfg.Redis.Enabled {
		if p, err := redis.Dial(ctx, cfg.Redis); err != nil {
			log.WithError(err).Warn("redis mirror disabled")
		} else {
			pubs = append(pubs, p)
		}
	}
	if cfg.Influx.Enabled {
		pubs = append(pubs, influx.Dial(cfg.Influx))
	}

	for _, p := range pubs {
		log.WithField("sink", p.Name()).Info("live mirror enabled")
	}
	return pubs
}

// Connect opens the device session with the configured port and supply.
func (a *App) Connect() error {
	return a.Sampler.Connect(a.Config.Serial.Port, a.Config.Serial.BaudRate, a.Config.Supply.Voltage)
}

// Run connects, samples until ctx is done, then shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Connect(); err != nil {
		return fmt.Errorf("connect %s: %w", a.Config.Serial.Port, err)
	}
	if err := a.Sampler.Start(); err != nil {
		return errors.Join(fmt.Errorf("start sampling: %w", err), a.Sampler.Disconnect())
	}
	a.Log.WithField("file", a.Sampler.File()).Info("sampling, interrupt to stop")

	<-ctx.Done()
	return a.Sampler.Disconnect()
}

// Close stops sampling, closes the device and the mirrors.
func (a *App) Close() error {
	errs := []error{a.Sampler.Disconnect()}
	if a.fanout != nil {
		errs = append(errs, a.fanout.Close())
	}
	a.cancel()
	return errors.Join(errs...)
}
