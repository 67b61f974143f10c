// Package metrics はキャプチャ処理のPrometheusメトリクスを定義する
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "passcam"

var (
	// acquisitionsTotal はキャプチャ取得の結果ごとの回数
	acquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisitions_total",
			Help:      "Total number of capture acquisitions by result",
		},
		[]string{"eye", "result"}, // result: live, capability_unavailable, retries_exhausted
	)

	// resolveRetriesTotal はデバイス解決に失敗して再試行した回数
	resolveRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_retries_total",
			Help:      "Total number of failed device resolution attempts",
		},
		[]string{"eye"},
	)

	// teardownsTotal はセッションを破棄した回数
	teardownsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_teardowns_total",
			Help:      "Total number of capture session teardowns",
		},
		[]string{"reason"}, // reason: stop, resolution_change
	)

	// mismatchesTotal は要求と異なる解像度が割り当てられた回数
	mismatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolution_mismatches_total",
			Help:      "Total number of sessions granted a size different from the request",
		},
	)

	// sessionLive はセッションが配信中なら1
	sessionLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_live",
			Help:      "1 if a capture session is live",
		},
	)

	// framesCopiedTotal は表示先へコピーしたフレーム数
	framesCopiedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "display_frames_copied_total",
			Help:      "Total number of frames copied into the display target",
		},
	)

	allMetrics = []prometheus.Collector{
		acquisitionsTotal,
		resolveRetriesTotal,
		teardownsTotal,
		mismatchesTotal,
		sessionLive,
		framesCopiedTotal,
	}
)

// NewRegistry はパッケージのメトリクスとランタイムメトリクスを登録したレジストリを作成する
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// RecordAcquisition はキャプチャ取得の結果を記録する
func RecordAcquisition(eye, result string) {
	acquisitionsTotal.WithLabelValues(eye, result).Inc()
}

// RecordResolveRetry はデバイス解決の失敗を記録する
func RecordResolveRetry(eye string) {
	resolveRetriesTotal.WithLabelValues(eye).Inc()
}

// RecordTeardown はセッション破棄を記録する
func RecordTeardown(reason string) {
	teardownsTotal.WithLabelValues(reason).Inc()
}

// RecordMismatch は解像度の不一致を記録する
func RecordMismatch() {
	mismatchesTotal.Inc()
}

// SetSessionLive はセッションの配信状態を記録する
func SetSessionLive(live bool) {
	if live {
		sessionLive.Set(1)
		return
	}
	sessionLive.Set(0)
}

// RecordFrameCopied は表示先へのフレームコピーを記録する
func RecordFrameCopied() {
	framesCopiedTotal.Inc()
}
