package metrics

import (
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	StorageOps        *prometheus.CounterVec
	StorageDuration   *prometheus.HistogramVec
	UploadedBytes     *prometheus.CounterVec
	UploadLogAppends  *prometheus.CounterVec
	LockWaits         *prometheus.HistogramVec
	HTTPRequestsTotal *prometheus.CounterVec
	RosterEmployees   prometheus.Gauge
	HostInfo          *prometheus.GaugeVec
}

// New creates and registers all collectors under namespace
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		StorageOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Per-location outcomes of store, archive and remove operations",
		}, []string{"operation", "location", "status"}),

		StorageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Duration of file store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		UploadedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes written to the primary location",
		}, []string{"category"}),

		UploadLogAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_log_appends_total",
			Help:      "Upload log append attempts",
		}, []string{"backend", "status"}),

		LockWaits: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "artifact_lock_wait_seconds",
			Help:      "Time spent waiting for a per-artifact lock",
			Buckets:   []float64{.001, .01, .05, .1, .5, 1, 5, 10},
		}, []string{"result"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status_code"}),

		RosterEmployees: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "roster_employees",
			Help:      "Number of employees in the loaded roster",
		}),

		HostInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_info",
			Help:      "Static information about the host running the service",
		}, []string{"hostname", "os", "arch", "go_version", "container"}),
	}

	reg.MustRegister(
		m.StorageOps,
		m.StorageDuration,
		m.UploadedBytes,
		m.UploadLogAppends,
		m.LockWaits,
		m.HTTPRequestsTotal,
		m.RosterEmployees,
		m.HostInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m.HostInfo.WithLabelValues(hostname(), runtime.GOOS, runtime.GOARCH, runtime.Version(), detectContainer()).Set(1)

	return m
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler exposing the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStorage records the duration of one storage operation
func (m *Metrics) ObserveStorage(operation string, start time.Time) {
	m.StorageDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordLocation counts one per-location outcome
func (m *Metrics) RecordLocation(operation, location, status string) {
	m.StorageOps.WithLabelValues(operation, location, status).Inc()
}

// RecordHTTPRequest counts one served request
func (m *Metrics) RecordHTTPRequest(method, path string, status int) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}

// detectContainer checks if running in a container
func detectContainer() string {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "docker"
	}

	if _, err := os.Stat("/var/run/secrets/kubernetes.io"); err == nil {
		return "kubernetes"
	}

	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		content := string(data)
		switch {
		case strings.Contains(content, "kubepods"):
			return "kubernetes"
		case strings.Contains(content, "docker"):
			return "docker"
		case strings.Contains(content, "containerd"):
			return "containerd"
		}
	}

	return "none"
}
