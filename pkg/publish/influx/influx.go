package influx

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/NWU-FAE/analogRead-SEK/pkg/config"
	"github.com/NWU-FAE/analogRead-SEK/pkg/publish"
	"github.com/NWU-FAE/analogRead-SEK/pkg/sample"
)

// Name identifies the sink in logs and metrics.
const Name = "influx"

var _ publish.Publisher = (*Publisher)(nil)

// Writer is the part of api.WriteAPIBlocking used by Publisher.
type Writer interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Publisher writes one point per reading, tagged with the channel name.
type Publisher struct {
	writer      Writer
	measurement string
	close       func()
}

// Dial creates a client for the server in cfg.
func Dial(cfg config.InfluxConfig) *Publisher {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	p := New(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg.Measurement)
	p.close = client.Close
	return p
}

// New wraps a write API.
func New(writer Writer, measurement string) *Publisher {
	if measurement == "" {
		measurement = "bridge"
	}
	return &Publisher{writer: writer, measurement: measurement}
}

func (p *Publisher) Name() string {
	return Name
}

// Points converts s. The value field is left out when the formula failed.
func (p *Publisher) Points(s sample.Sample) []*write.Point {
	points := make([]*write.Point, 0, len(s.Readings))
	for _, r := range s.Readings {
		fields := map[string]interface{}{"voltage": r.Voltage}
		if r.Valid {
			fields["value"] = r.Value
		}
		points = append(points, influxdb2.NewPoint(
			p.measurement,
			map[string]string{"channel": r.Channel},
			fields,
			s.Time,
		))
	}
	return points
}

func (p *Publisher) Publish(ctx context.Context, s sample.Sample) error {
	if len(s.Readings) == 0 {
		return nil
	}
	if err := p.writer.WritePoint(ctx, p.Points(s)...); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.close != nil {
		p.close()
	}
	return nil
}
