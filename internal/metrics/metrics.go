// Package metrics provides Prometheus metrics for monitoring the theming
// service.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts control API commands by command and status.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "darkmode_requests_total",
			Help: "Total number of control commands processed",
		},
		[]string{"command", "status"},
	)

	// RequestDuration tracks command duration.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "darkmode_request_duration_seconds",
			Help:    "Control command duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"command"},
	)

	// ActiveSessions shows current sessions.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "darkmode_active_sessions",
			Help: "Number of themed pages being managed",
		},
	)

	// OpenPages shows browser tabs held by sessions.
	OpenPages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "darkmode_browser_open_pages",
			Help: "Browser pages currently open",
		},
	)

	// Navigations counts controller rebuilds after main-frame navigations.
	Navigations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "darkmode_navigations_total",
			Help: "Main-frame navigations that rebuilt a controller",
		},
	)

	// DarkModeChanges counts dark-mode switches by resulting state.
	DarkModeChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "darkmode_state_changes_total",
			Help: "Dark mode switches by resulting state",
		},
		[]string{"state"},
	)

	// SiteFixReloads counts hot reloads of the site-fix table.
	SiteFixReloads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "darkmode_sitefix_reloads_total",
			Help: "Successful reloads of the site fix table",
		},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "darkmode_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "darkmode_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "darkmode_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ActiveSessions,
		OpenPages,
		Navigations,
		DarkModeChanges,
		SiteFixReloads,
		MemoryUsageBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector updates the runtime gauges every interval until
// stopCh is closed.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RecordRequest records metrics for a completed command.
func RecordRequest(command, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(command, status).Inc()
	RequestDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordDarkMode records a dark-mode switch.
func RecordDarkMode(on bool) {
	state := "off"
	if on {
		state = "on"
	}
	DarkModeChanges.WithLabelValues(state).Inc()
}

// RecordNavigation records a controller rebuild.
func RecordNavigation() {
	Navigations.Inc()
}

// RecordSiteFixReload records a site-fix table reload.
func RecordSiteFixReload() {
	SiteFixReloads.Inc()
}

// UpdateSessionMetrics updates the session and page gauges.
func UpdateSessionMetrics(sessions, pages int) {
	ActiveSessions.Set(float64(sessions))
	OpenPages.Set(float64(pages))
}
