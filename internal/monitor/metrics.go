package monitor

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streetdice_rolls_total",
		Help: "Completed rolls by outcome kind.",
	}, []string{"outcome"})

	rejectedPresses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streetdice_rejected_presses_total",
		Help: "Roll gestures refused locally, by reason.",
	}, []string{"reason"})

	blobWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streetdice_blob_writes_total",
		Help: "Game blob writes to the shared store, by result.",
	}, []string{"result"})

	decodeFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streetdice_blob_decode_fallbacks_total",
		Help: "Game blobs that failed validation and were replaced by the default state.",
	})

	hubSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streetdice_hub_subscribers",
		Help: "Open websocket subscriptions on the hub.",
	})

	matchesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streetdice_matches_finished_total",
		Help: "Matches recorded as finished, by winning role.",
	}, []string{"winner"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streetdice_http_request_duration_seconds",
		Help:    "Hub API latency by route template, method and status code.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "code"})
)

// RecordRoll 记录一次完成的掷骰
func RecordRoll(outcome string) {
	rollsTotal.WithLabelValues(outcome).Inc()
}

// RecordRejectedPress 记录被拒绝的按下操作
func RecordRejectedPress(reason string) {
	rejectedPresses.WithLabelValues(reason).Inc()
}

// RecordWrite 记录一次写入共享存储的结果
func RecordWrite(err error) {
	if err != nil {
		blobWrites.WithLabelValues("error").Inc()
		return
	}
	blobWrites.WithLabelValues("ok").Inc()
}

func RecordDecodeFallback() {
	decodeFallbacks.Inc()
}

func SubscriberAdded() {
	hubSubscribers.Inc()
}

func SubscriberRemoved() {
	hubSubscribers.Dec()
}

func RecordMatchFinished(winner string) {
	matchesFinished.WithLabelValues(winner).Inc()
}

// RecordRequest 记录一次 hub API 请求的耗时
func RecordRequest(route, method string, code int, d time.Duration) {
	requestDuration.WithLabelValues(route, method, strconv.Itoa(code)).Observe(d.Seconds())
}
