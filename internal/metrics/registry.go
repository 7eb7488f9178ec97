// Package metrics provides a small label-aware counter/gauge registry.
// Emission is fire-and-forget: nothing in here can fail in a way that
// affects scheduling.
package metrics

import (
	"sort"
	"strings"
	"sync"
)

// Point is one named metric value with its labels.
type Point struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Snapshot is a point-in-time copy of every counter and gauge.
type Snapshot struct {
	Counters []Point `json:"counters"`
	Gauges   []Point `json:"gauges"`
}

type entry struct {
	name   string
	labels map[string]string
	value  float64
}

// Registry accumulates counters and gauges keyed by name + label set.
type Registry struct {
	mu       sync.Mutex
	counters map[string]entry
	gauges   map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]entry),
		gauges:   make(map[string]entry),
	}
}

// IncCounter adds delta to the counter identified by name and labels.
func (r *Registry) IncCounter(name string, labels map[string]string, delta float64) {
	if r == nil || delta == 0 {
		return
	}
	k, lcopy := metricKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.counters[k]
	if e.name == "" {
		e = entry{name: name, labels: lcopy}
	}
	e.value += delta
	r.counters[k] = e
}

// SetGauge sets the gauge identified by name and labels to value.
func (r *Registry) SetGauge(name string, labels map[string]string, value float64) {
	if r == nil {
		return
	}
	k, lcopy := metricKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[k] = entry{name: name, labels: lcopy, value: value}
}

// Snapshot returns a stable-sorted copy of all current values.
func (r *Registry) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Counters: make([]Point, 0, len(r.counters)),
		Gauges:   make([]Point, 0, len(r.gauges)),
	}
	for _, e := range r.counters {
		snap.Counters = append(snap.Counters, pointOf(e))
	}
	for _, e := range r.gauges {
		snap.Gauges = append(snap.Gauges, pointOf(e))
	}
	sortPoints(snap.Counters)
	sortPoints(snap.Gauges)
	return snap
}

func pointOf(e entry) Point {
	labels := make(map[string]string, len(e.labels))
	for k, v := range e.labels {
		labels[k] = v
	}
	if len(labels) == 0 {
		labels = nil
	}
	return Point{Name: e.name, Labels: labels, Value: e.value}
}

func sortPoints(points []Point) {
	sort.Slice(points, func(i, j int) bool {
		if points[i].Name != points[j].Name {
			return points[i].Name < points[j].Name
		}
		return labelString(points[i].Labels) < labelString(points[j].Labels)
	})
}

func metricKey(name string, labels map[string]string) (string, map[string]string) {
	lcopy := make(map[string]string, len(labels))
	for k, v := range labels {
		lcopy[k] = v
	}
	return name + "{" + labelString(lcopy) + "}", lcopy
}

func labelString(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
	}
	return sb.String()
}
