package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	arbiterRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camarbiter",
			Subsystem: "arbiter",
			Name:      "requests_total",
			Help:      "Camera requests by priority and outcome.",
		},
		[]string{"priority", "result"},
	)
	arbiterPreemptions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "camarbiter",
			Subsystem: "arbiter",
			Name:      "preemptions_total",
			Help:      "Owners evicted by a critical request.",
		},
	)
	arbiterEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "camarbiter",
			Subsystem: "arbiter",
			Name:      "evictions_total",
			Help:      "Owners evicted by the health monitor.",
		},
	)
	arbiterForceReleases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camarbiter",
			Subsystem: "arbiter",
			Name:      "force_releases_total",
			Help:      "Forced device releases by outcome.",
		},
		[]string{"success"},
	)
	arbiterQueueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "camarbiter",
			Subsystem: "arbiter",
			Name:      "queue_length",
			Help:      "Pending camera requests.",
		},
	)
	arbiterOwned = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "camarbiter",
			Subsystem: "arbiter",
			Name:      "owned_cameras",
			Help:      "Camera indices with an owner in the ledger.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camarbiter",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "camarbiter",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// RegisterMetrics はメトリクスをデフォルトレジストリへ一度だけ登録する
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			arbiterRequests, arbiterPreemptions, arbiterEvictions, arbiterForceReleases,
			arbiterQueueLength, arbiterOwned, httpRequests, httpDuration,
		)
	})
}

// RecordRequest は優先度と結果ごとに要求数を数える
func RecordRequest(priority, result string) {
	RegisterMetrics()
	arbiterRequests.WithLabelValues(priority, result).Inc()
}

// RecordPreemption は横取りの発生を数える
func RecordPreemption() {
	RegisterMetrics()
	arbiterPreemptions.Inc()
}

// RecordEviction はヘルスチェックによる剥奪を数える
func RecordEviction() {
	RegisterMetrics()
	arbiterEvictions.Inc()
}

// RecordForceRelease は強制解放の成否を数える
func RecordForceRelease(success bool) {
	RegisterMetrics()
	arbiterForceReleases.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// SetLedgerSize は所有数と保留数のゲージを更新する
func SetLedgerSize(owned, pending int) {
	RegisterMetrics()
	arbiterOwned.Set(float64(owned))
	arbiterQueueLength.Set(float64(pending))
}

// RecordHTTPRequest はHTTPリクエストの件数と処理時間を記録する
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
