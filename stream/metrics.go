package stream

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the per-stream counters a host can register with its own
// prometheus registry.
type Metrics struct {
	FramesAcquired prometheus.Counter
	FramesDropped  prometheus.Counter
	BytesAppended  prometheus.Counter
}

// NewMetrics creates the counters for one stream and registers them if
// a registerer is given.
func NewMetrics(reg prometheus.Registerer, streamID uint32) *Metrics {
	labels := prometheus.Labels{
		"stream": strconv.FormatUint(uint64(streamID), 10),
	}

	m := &Metrics{
		FramesAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "acquire_frames_acquired_total",
			Help:        "Number of frames pulled from the camera",
			ConstLabels: labels,
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "acquire_frames_dropped_total",
			Help:        "Number of frames dropped because the ring was full",
			ConstLabels: labels,
		}),
		BytesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "acquire_bytes_appended_total",
			Help:        "Number of bytes handed to the storage sink",
			ConstLabels: labels,
		}),
	}

	if reg != nil {
		reg.MustRegister(m.FramesAcquired, m.FramesDropped, m.BytesAppended)
	}

	return m
}
