// Package metrics holds the Prometheus collectors of the material-service.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Resolver outcome labels.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"

	DegradeOracle   = "oracle"
	DegradeRemote   = "remote"
	DegradeLibrary  = "library"
	DegradeDownload = "download"
)

var (
	// ResolveRequestsTotal counts resolve calls by whether hybrid search ran.
	ResolveRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "material",
			Name:      "resolve_requests_total",
			Help:      "Total number of material resolve requests",
		},
		[]string{"mode"},
	)

	// ResolvedMaterialsTotal counts returned materials by source.
	ResolvedMaterialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "material",
			Name:      "resolved_materials_total",
			Help:      "Total number of materials returned, by source",
		},
		[]string{"source"},
	)

	// DegradationsTotal counts non-fatal failures that reduced result quality.
	DegradationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "material",
			Name:      "degradations_total",
			Help:      "Total number of degraded resolve steps",
		},
		[]string{"step"},
	)

	// CollectedClipsTotal counts clips handed out by material collection.
	CollectedClipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "material",
			Name:      "collected_clips_total",
			Help:      "Total number of clips collected for videos, by source",
		},
		[]string{"source"},
	)

	// LibraryScanDuration observes how long a library scan takes.
	LibraryScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "material",
			Name:      "library_scan_duration_seconds",
			Help:      "Local library scan duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	// StockRequestsTotal counts remote stock API calls.
	StockRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "material",
			Name:      "stock_requests_total",
			Help:      "Total number of stock API requests",
		},
		[]string{"provider", "status"},
	)

	// OracleRequestsTotal counts relevance oracle calls.
	OracleRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "material",
			Name:      "oracle_requests_total",
			Help:      "Total number of relevance oracle requests",
		},
		[]string{"model", "status"},
	)

	// SpeechRequestsTotal counts synthesis attempts.
	SpeechRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "speech",
			Name:      "requests_total",
			Help:      "Total number of speech synthesis attempts",
		},
		[]string{"model", "status"},
	)
)

func init() {
	prometheus.MustRegister(ResolveRequestsTotal)
	prometheus.MustRegister(ResolvedMaterialsTotal)
	prometheus.MustRegister(DegradationsTotal)
	prometheus.MustRegister(CollectedClipsTotal)
	prometheus.MustRegister(LibraryScanDuration)
	prometheus.MustRegister(StockRequestsTotal)
	prometheus.MustRegister(OracleRequestsTotal)
	prometheus.MustRegister(SpeechRequestsTotal)
}
