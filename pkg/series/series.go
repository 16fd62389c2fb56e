// Package series keeps bounded per-channel histories for display.
//
// Rings hold the most recent points only; the data file remains the durable
// record of a session.
package series

import (
	"sync"
	"time"

	"github.com/NWU-FAE/analogRead-SEK/pkg/sample"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 3600

// Point is one displayed value of a channel.
type Point struct {
	Time    time.Time
	Voltage float64
	Value   float64
	Valid   bool
}

// Ring is a fixed-capacity buffer that evicts the oldest point when full.
type Ring struct {
	mu     sync.RWMutex
	points []Point
	start  int // index of the oldest point
	count  int
}

// NewRing creates a ring holding at most capacity points.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{points: make([]Point, capacity)}
}

// Push appends p, evicting the oldest point if the ring is full.
func (r *Ring) Push(p Point) {
	r.mu.Lock()
	defer r.mu.Unlock()

	end := (r.start + r.count) % len(r.points)
	r.points[end] = p
	if r.count < len(r.points) {
		r.count++
	} else {
		r.start = (r.start + 1) % len(r.points)
	}
}

// Len returns the number of stored points.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.points)
}

// Snapshot copies the points, oldest first, into dst and returns it.
// dst is reused if it has sufficient capacity.
func (r *Ring) Snapshot(dst []Point) []Point {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cap(dst) >= r.count {
		dst = dst[:r.count]
	} else {
		dst = make([]Point, r.count)
	}

	n := copy(dst, r.points[r.start:min(r.start+r.count, len(r.points))])
	copy(dst[n:], r.points[:r.count-n])
	return dst
}

// Last returns the newest point.
func (r *Ring) Last() (Point, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return Point{}, false
	}
	return r.points[(r.start+r.count-1)%len(r.points)], true
}

// Reset drops all points.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start, r.count = 0, 0
}

// Set holds one ring per channel name.
type Set struct {
	mu       sync.RWMutex
	capacity int
	rings    map[string]*Ring
	order    []string
}

// NewSet creates an empty set whose rings hold capacity points each.
func NewSet(capacity int) *Set {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Set{
		capacity: capacity,
		rings:    make(map[string]*Ring),
	}
}

// Push records every reading of s in the ring of its channel.
func (s *Set) Push(smp sample.Sample) {
	for _, r := range smp.Readings {
		s.ring(r.Channel).Push(Point{
			Time:    smp.Time,
			Voltage: r.Voltage,
			Value:   r.Value,
			Valid:   r.Valid,
		})
	}
}

// Ring returns the ring of the named channel, or nil.
func (s *Set) Ring(name string) *Ring {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rings[name]
}

// Names returns channel names in the order they were first seen.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]string, len(s.order))
	copy(result, s.order)
	return result
}

// Reset drops every ring.
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rings = make(map[string]*Ring)
	s.order = nil
}

func (s *Set) ring(name string) *Ring {
	s.mu.RLock()
	r, ok := s.rings[name]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rings[name]; ok {
		return r
	}
	r = NewRing(s.capacity)
	s.rings[name] = r
	s.order = append(s.order, name)
	return r
}
