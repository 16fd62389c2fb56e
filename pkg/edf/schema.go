package edf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NWU-FAE/analogRead-SEK/pkg/channel"
	"github.com/NWU-FAE/analogRead-SEK/pkg/sample"
)

const (
	// TimeColumn is the name of the leading timestamp column.
	TimeColumn = "Epoch_UTC"

	voltageSuffix = "voltage"
	valueSuffix   = "calculatedvalue"

	// DefaultPrecision is the number of decimals written for voltages and values.
	DefaultPrecision = 3
	timePrecision    = 3

	invalidValue = "NaN"
)

// Column describes one output column.
type Column struct {
	Name   string
	Type   string
	Unit   string
	Format string
}

// Schema is the ordered column list of a data file: the timestamp followed by
// a voltage and a calculated value column per channel, in channel order.
type Schema struct {
	Columns   []Column
	channels  []channel.Channel
	index     map[string]int // channel name -> position in channels
	precision int
}

// NewSchema builds the schema for channels. Channels must carry sensor metadata.
func NewSchema(channels []channel.Channel, precision int) Schema {
	if precision <= 0 {
		precision = DefaultPrecision
	}

	s := Schema{
		Columns:   make([]Column, 0, 1+2*len(channels)),
		channels:  make([]channel.Channel, len(channels)),
		index:     make(map[string]int, len(channels)),
		precision: precision,
	}
	copy(s.channels, channels)

	valueFormat := fmt.Sprintf(".%df", precision)
	s.Columns = append(s.Columns, Column{
		Name:   TimeColumn,
		Type:   "float64",
		Unit:   "s",
		Format: fmt.Sprintf(".%df", timePrecision),
	})
	for i, ch := range channels {
		s.index[ch.Name] = i
		s.Columns = append(s.Columns,
			Column{Name: ch.Prefix() + voltageSuffix, Type: "float", Unit: "V", Format: valueFormat},
			Column{Name: ch.Prefix() + valueSuffix, Type: "float", Unit: "U", Format: valueFormat},
		)
	}

	return s
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Channels returns the channels covered by the schema.
func (s Schema) Channels() []channel.Channel {
	result := make([]channel.Channel, len(s.channels))
	copy(result, s.channels)
	return result
}

// Has reports whether the named channel has columns in the schema.
func (s Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Row formats smp as one tab-separated line terminated by '\n'. A channel
// missing from smp leaves its fields empty; an invalid value is written as NaN.
func (s Schema) Row(smp sample.Sample) (string, error) {
	fields := make([]string, len(s.Columns))
	fields[0] = strconv.FormatFloat(smp.Epoch(), 'f', timePrecision, 64)

	for _, r := range smp.Readings {
		i, ok := s.index[r.Channel]
		if !ok {
			return "", fmt.Errorf("%w: channel %q has no columns", ErrSchemaMismatch, r.Channel)
		}
		fields[1+2*i] = strconv.FormatFloat(r.Voltage, 'f', s.precision, 64)
		if r.Valid {
			fields[2+2*i] = strconv.FormatFloat(r.Value, 'f', s.precision, 64)
		} else {
			fields[2+2*i] = invalidValue
		}
	}

	return strings.Join(fields, "\t") + "\n", nil
}

// header returns the column metadata lines followed by the column-name line.
func (s Schema) header() string {
	var b strings.Builder
	meta := []struct {
		key string
		get func(Column) string
	}{
		{"Type", func(c Column) string { return c.Type }},
		{"Unit", func(c Column) string { return c.Unit }},
		{"Format", func(c Column) string { return c.Format }},
	}
	for _, m := range meta {
		values := make([]string, len(s.Columns))
		for i, c := range s.Columns {
			values[i] = m.get(c)
		}
		fmt.Fprintf(&b, "# %s=%s\n", m.key, strings.Join(values, "\t"))
	}
	b.WriteString(strings.Join(s.Names(), "\t"))
	b.WriteByte('\n')
	return b.String()
}
