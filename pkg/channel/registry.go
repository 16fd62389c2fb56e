package channel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/NWU-FAE/analogRead-SEK/pkg/metadata"
)

var (
	// ErrInvalidState is returned for operations not permitted in the current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrNoChannelsSelected is returned when an operation needs at least one active channel.
	ErrNoChannelsSelected = errors.New("no channels selected")
	// ErrMissingChannelMetadata is returned when an active channel has no sensor metadata.
	ErrMissingChannelMetadata = errors.New("missing channel metadata")
	// ErrUnknownChannel is returned for names that were never declared.
	ErrUnknownChannel = errors.New("unknown channel")
)

// Definition declares a channel.
type Definition struct {
	Name   string
	Index  int // Physical bridge port
	Active bool
}

// Channel is a logical bridge channel with its sensor identity.
type Channel struct {
	Name       string
	Index      int
	Active     bool
	SensorName string
	SensorID   string
	SampleRate string // Nominal, informational only
}

// Prefix is the column-name prefix for the channel: name + sensor name + sensor id.
func (c Channel) Prefix() string {
	return c.Name + c.SensorName + c.SensorID
}

// Registry tracks the declared channels in declaration order.
// While frozen (a sampling session is running) the active set cannot change.
type Registry struct {
	mu       sync.RWMutex
	channels []Channel
	frozen   bool
}

// NewRegistry creates a registry from defs. Names and indices must be unique.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{channels: make([]Channel, 0, len(defs))}
	names := make(map[string]bool, len(defs))
	indices := make(map[int]bool, len(defs))

	for _, d := range defs {
		if d.Name == "" {
			return nil, errors.New("channel name is empty")
		}
		if names[d.Name] {
			return nil, fmt.Errorf("duplicate channel name %q", d.Name)
		}
		if indices[d.Index] {
			return nil, fmt.Errorf("duplicate channel index %d", d.Index)
		}
		names[d.Name] = true
		indices[d.Index] = true
		r.channels = append(r.channels, Channel{Name: d.Name, Index: d.Index, Active: d.Active})
	}

	return r, nil
}

// SetActive toggles a channel. Fails with ErrInvalidState while frozen.
func (r *Registry) SetActive(name string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: cannot change channel %s while sampling", ErrInvalidState, name)
	}
	for i := range r.channels {
		if r.channels[i].Name == name {
			r.channels[i].Active = active
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownChannel, name)
}

// All returns every declared channel in declaration order.
func (r *Registry) All() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Channel, len(r.channels))
	copy(result, r.channels)
	return result
}

// Active returns the active channels in declaration order.
func (r *Registry) Active() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		if ch.Active {
			result = append(result, ch)
		}
	}
	return result
}

// RequireActive returns the active channels or ErrNoChannelsSelected.
func (r *Registry) RequireActive() ([]Channel, error) {
	active := r.Active()
	if len(active) == 0 {
		return nil, ErrNoChannelsSelected
	}
	return active, nil
}

// Bind returns the active channels with sensor identity taken from the
// header section named after each channel.
func (r *Registry) Bind(h *metadata.Header) ([]Channel, error) {
	active, err := r.RequireActive()
	if err != nil {
		return nil, err
	}
	if h == nil {
		h = &metadata.Header{}
	}

	for i, ch := range active {
		section, ok := h.Section(ch.Name)
		if !ok {
			return nil, fmt.Errorf("%w: no section for %s", ErrMissingChannelMetadata, ch.Name)
		}
		name, ok := section.Get(metadata.KeySensorName)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrMissingChannelMetadata, ch.Name, metadata.KeySensorName)
		}
		id, ok := section.Get(metadata.KeySensorID)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrMissingChannelMetadata, ch.Name, metadata.KeySensorID)
		}
		rate, _ := section.Get(metadata.KeySampleRate)

		active[i].SensorName = name
		active[i].SensorID = id
		active[i].SampleRate = rate
	}

	return active, nil
}

// Freeze blocks SetActive until Thaw.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Thaw re-enables SetActive.
func (r *Registry) Thaw() {
	r.mu.Lock()
	r.frozen = false
	r.mu.Unlock()
}

// Frozen reports whether the active set is currently locked.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}
