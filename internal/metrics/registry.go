package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// NewRegistry creates a new Prometheus registry with metrics
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	return reg, m
}

// WriteTextfile writes the gathered metrics in the text exposition format
// for the node exporter textfile collector. The file is replaced atomically.
func WriteTextfile(path string, gatherer prometheus.Gatherer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create textfile directory: %w", err)
	}
	return prometheus.WriteToTextfile(path, gatherer)
}

// Replay rebuilds session counters from the persisted log so that a fresh
// process can export them.
func (m *Metrics) Replay(entries []Entry) {
	for _, e := range entries {
		m.ObserveSession(e.Outcome, time.Duration(e.ElapsedSeconds*float64(time.Second)), e.Timestamp)
		if e.ErrorKind != "" {
			m.ObserveError(e.ErrorKind)
		}
	}
}
