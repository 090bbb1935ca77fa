package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"classroll/internal/attendance"
)

// Collectors groups the service's Prometheus instruments.
type Collectors struct {
	Marks        *prometheus.CounterVec
	CoreErrors   *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	CacheLookups *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		Marks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classroll",
			Name:      "attendance_marks_total",
			Help:      "Attendance records written, by entry path and status.",
		}, []string{"path", "status"}),
		CoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classroll",
			Name:      "core_errors_total",
			Help:      "Errors returned by core operations, by kind.",
		}, []string{"kind"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "classroll",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classroll",
			Name:      "snapshot_cache_lookups_total",
			Help:      "Snapshot cache lookups, by view and result.",
		}, []string{"view", "result"}),
	}
	if reg != nil {
		reg.MustRegister(c.Marks, c.CoreErrors, c.HTTPDuration, c.CacheLookups)
	}
	return c
}

// Marked implements attendance.Observer.
func (c *Collectors) Marked(path string, status attendance.Status) {
	c.Marks.WithLabelValues(path, string(status)).Inc()
}

// CoreError counts an error returned by the core.
func (c *Collectors) CoreError(kind attendance.Kind) {
	c.CoreErrors.WithLabelValues(string(kind)).Inc()
}

// CacheLookup counts a snapshot cache hit or miss.
func (c *Collectors) CacheLookup(view string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.CacheLookups.WithLabelValues(view, result).Inc()
}

var _ attendance.Observer = (*Collectors)(nil)
