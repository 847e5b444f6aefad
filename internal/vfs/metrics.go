package vfs

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	ops          *prometheus.CounterVec
	bridgedBytes prometheus.Counter
	mounts       prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xenvfs",
			Name:      "operations_total",
			Help:      "VFS operations by name and result.",
		}, []string{"op", "result"}),
		bridgedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xenvfs",
			Name:      "bridged_bytes_total",
			Help:      "Bytes copied through read and write by copy and move.",
		}),
		mounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xenvfs",
			Name:      "mounts",
			Help:      "Number of mounted backends, the root included.",
		}),
	}
	reg.MustRegister(m.ops, m.bridgedBytes, m.mounts)
	return m
}

func (m *metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, result(err)).Inc()
}

func (m *metrics) bridged(n int) {
	if m == nil {
		return
	}
	m.bridgedBytes.Add(float64(n))
}

func (m *metrics) setMounts(n int) {
	if m == nil {
		return
	}
	m.mounts.Set(float64(n))
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCrossBackendBridge):
		return "bridge_failed"
	default:
		return "error"
	}
}
