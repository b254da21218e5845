package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	DevicesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "foreman_devices_total",
			Help: "Total number of edge devices by status",
		},
		[]string{"status"},
	)

	MinersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "foreman_miners_total",
			Help: "Total number of registered miners by capability level",
		},
		[]string{"capability"},
	)

	MinersOnline = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "foreman_miners_online",
			Help: "Miners currently online by site",
		},
		[]string{"site"},
	)

	SiteHashrateTHS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "foreman_site_hashrate_ths",
			Help: "Aggregate online hashrate per site in TH/s",
		},
		[]string{"site"},
	)

	// Secret distribution metrics
	SecretPullsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_secret_pulls_total",
			Help: "Total secret pull attempts by outcome",
		},
		[]string{"outcome"},
	)

	SecretUploadsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_secret_uploads_rejected_total",
			Help: "Secret uploads rejected by cause",
		},
		[]string{"cause"},
	)

	// Command queue metrics
	CommandsQueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_commands_queued_total",
			Help: "Total commands enqueued",
		},
	)

	CommandsAcked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_commands_acked_total",
			Help: "Total command acknowledgements by terminal status",
		},
		[]string{"status"},
	)

	// Telemetry metrics
	TelemetryRowsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_telemetry_rows_ingested_total",
			Help: "Raw telemetry rows accepted from edges",
		},
	)

	TelemetryRowsPruned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_telemetry_rows_pruned_total",
			Help: "Telemetry rows removed by retention, per layer",
		},
		[]string{"layer"},
	)

	// Scan metrics
	ScanJobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "foreman_scan_jobs_total",
			Help: "Scan jobs by status",
		},
		[]string{"status"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foreman_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(DevicesTotal)
	prometheus.MustRegister(MinersTotal)
	prometheus.MustRegister(MinersOnline)
	prometheus.MustRegister(SiteHashrateTHS)
	prometheus.MustRegister(SecretPullsTotal)
	prometheus.MustRegister(SecretUploadsRejected)
	prometheus.MustRegister(CommandsQueued)
	prometheus.MustRegister(CommandsAcked)
	prometheus.MustRegister(TelemetryRowsIngested)
	prometheus.MustRegister(TelemetryRowsPruned)
	prometheus.MustRegister(ScanJobsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
