// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Metrics collector for client connections.
// Counters from the connection and the event dispatcher are folded into one
// thread-safe map keyed "<source>.<counter>".

package control

import (
	"sync"
	"time"
)

// MetricsRegistry holds the latest value of every published counter.
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]int64
	updated time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics: make(map[string]int64),
	}
}

// Set sets or updates a single metric.
func (mr *MetricsRegistry) Set(key string, value int64) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Record publishes a counter snapshot under source.
func (mr *MetricsRegistry) Record(source string, counters map[string]int64) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	for k, v := range counters {
		mr.metrics[source+"."+k] = v
	}
	mr.updated = time.Now()
}

// GetSnapshot returns a copy of the latest metrics.
func (mr *MetricsRegistry) GetSnapshot() map[string]int64 {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]int64, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out
}

// Updated returns the time of the last write; zero if never written.
func (mr *MetricsRegistry) Updated() time.Time {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.updated
}
