// File: control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Named monotonic counters. Workers increment them on their hot path, so
// lookups happen once at setup and increments are single atomic adds.

package control

import (
	"sort"
	"sync"

	"code.hybscloud.com/atomix"
)

// Counter is a monotonic uint64.
type Counter struct {
	v atomix.Uint64
}

func (c *Counter) Inc()          { c.v.Add(1) }
func (c *Counter) Add(n uint64)  { c.v.Add(n) }
func (c *Counter) Value() uint64 { return c.v.Load() }

// MetricsRegistry owns every counter by name.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{counters: make(map[string]*Counter)}
}

// Counter returns the counter for name, creating it on first use.
func (mr *MetricsRegistry) Counter(name string) *Counter {
	mr.mu.RLock()
	c, ok := mr.counters[name]
	mr.mu.RUnlock()
	if ok {
		return c
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if c, ok = mr.counters[name]; !ok {
		c = &Counter{}
		mr.counters[name] = c
	}
	return c
}

// Snapshot returns the current value of every counter.
func (mr *MetricsRegistry) Snapshot() map[string]uint64 {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]uint64, len(mr.counters))
	for k, c := range mr.counters {
		out[k] = c.Value()
	}
	return out
}

// Names lists the registered counters in order.
func (mr *MetricsRegistry) Names() []string {
	mr.mu.RLock()
	names := make([]string, 0, len(mr.counters))
	for k := range mr.counters {
		names = append(names, k)
	}
	mr.mu.RUnlock()
	sort.Strings(names)
	return names
}
