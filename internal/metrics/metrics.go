package metrics

import (
    "net/http"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
    conversions = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "pocketmod",
            Name:      "conversions_total",
            Help:      "Total conversions by result (success, error)",
        },
        []string{"result"},
    )

    conversionLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Namespace: "pocketmod",
            Name:      "conversion_duration_seconds",
            Help:      "Duration of successful conversions by source orientation",
            Buckets:   prometheus.DefBuckets,
        },
        []string{"orientation"},
    )

    sheetsEmitted = prometheus.NewCounter(
        prometheus.CounterOpts{
            Namespace: "pocketmod",
            Name:      "sheets_emitted_total",
            Help:      "Total output sheets written across all conversions",
        },
    )

    batchFiles = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "pocketmod",
            Name:      "batch_files_total",
            Help:      "Folder-mode entries by outcome (converted, skipped, failed)",
        },
        []string{"status"},
    )

    jobsProcessed = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "pocketmod",
            Name:      "jobs_processed_total",
            Help:      "Queue jobs by result (success, retried, dlq, cancelled, duplicate)",
        },
        []string{"result"},
    )

    retriesTotal = prometheus.NewCounter(
        prometheus.CounterOpts{
            Namespace: "pocketmod",
            Name:      "job_retries_total",
            Help:      "Total number of job retries",
        },
    )

    queueDepth = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{
            Namespace: "pocketmod",
            Name:      "queue_depth",
            Help:      "Queue depth gauges for stream, delayed and dlq",
        },
        []string{"type"},
    )
)

// Init registers collectors.
func Init() {
    prometheus.MustRegister(conversions, conversionLatency, sheetsEmitted, batchFiles, jobsProcessed, retriesTotal, queueDepth)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncConversion(result string) { conversions.WithLabelValues(result).Inc() }

func ObserveConversion(orientation string, seconds float64) {
    conversionLatency.WithLabelValues(orientation).Observe(seconds)
}

func AddSheets(n int) { sheetsEmitted.Add(float64(n)) }

func IncBatchFile(status string) { batchFiles.WithLabelValues(status).Inc() }

func IncJob(result string) { jobsProcessed.WithLabelValues(result).Inc() }
func IncRetry()            { retriesTotal.Inc() }

func SetQueueDepth(kind string, v int64) { queueDepth.WithLabelValues(kind).Set(float64(v)) }
