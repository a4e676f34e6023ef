// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ゲート、ミドルウェア、リポジトリ層から利用する。
type MetricsCollector interface {
	RecordGateDecision(route string, outcome string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordConfigWrite(result string)
	RecordBestEffortFailure(op string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	gateDecisions      *prometheus.CounterVec
	httpStatus         *prometheus.CounterVec
	requestLatency     prometheus.Histogram
	configWrites       *prometheus.CounterVec
	bestEffortFailures *prometheus.CounterVec
	upstreamRequests   *prometheus.CounterVec
	upstreamLatency    *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navgate_gate_decisions_total",
			Help: "ゲートのルート分類と判定結果ごとのリクエスト数",
		}, []string{"route", "outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navgate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "navgate_request_duration_seconds",
			Help:    "リクエスト処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		configWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navgate_config_writes_total",
			Help: "設定ドキュメントの保存結果ごとの件数",
		}, []string{"result"}),
		bestEffortFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navgate_best_effort_failures_total",
			Help: "失敗しても処理を継続した付随操作の失敗数",
		}, []string{"op"}),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navgate_upstream_requests_total",
			Help: "上流サービスへのリクエスト数",
		}, []string{"upstream", "code", "method"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "navgate_upstream_request_duration_seconds",
			Help:    "上流サービスへのリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"upstream", "method"}),
	}

	reg.MustRegister(
		c.gateDecisions,
		c.httpStatus,
		c.requestLatency,
		c.configWrites,
		c.bestEffortFailures,
		c.upstreamRequests,
		c.upstreamLatency,
	)

	return c
}

// RecordGateDecision はゲートの判定結果を記録する。
func (c *Collector) RecordGateDecision(route string, outcome string) {
	c.gateDecisions.WithLabelValues(route, outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理のレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordConfigWrite は設定ドキュメントの保存結果を記録する。
func (c *Collector) RecordConfigWrite(result string) {
	c.configWrites.WithLabelValues(result).Inc()
}

// RecordBestEffortFailure は付随操作の失敗を記録する。
func (c *Collector) RecordBestEffortFailure(op string) {
	c.bestEffortFailures.WithLabelValues(op).Inc()
}

// InstrumentTransport は上流への送信をupstreamラベル付きで計測するRoundTripperを返す。
// nextがnilの場合はhttp.DefaultTransportを使う。
func (c *Collector) InstrumentTransport(upstream string, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	labels := prometheus.Labels{"upstream": upstream}
	return promhttp.InstrumentRoundTripperCounter(
		c.upstreamRequests.MustCurryWith(labels),
		promhttp.InstrumentRoundTripperDuration(
			c.upstreamLatency.MustCurryWith(labels),
			next,
		),
	)
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
