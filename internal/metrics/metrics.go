// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// リフレッシュ結果のラベル値
const (
	RefreshOutcomeSuccess         = "success"
	RefreshOutcomeProviderError   = "provider_error"
	RefreshOutcomeRepositoryError = "repository_error"
	RefreshOutcomeSessionError    = "session_error"
)

// ログイン結果のラベル値
const (
	LoginOutcomeSuccess         = "success"
	LoginOutcomeProviderError   = "provider_error"
	LoginOutcomeRepositoryError = "repository_error"
	LoginOutcomeSessionError    = "session_error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービスやミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin(outcome string)
	RecordRefresh(outcome string)
	RecordRefreshLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins         *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	refreshLatency prometheus.Histogram
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokengate_logins_total",
			Help: "OAuthコールバックによるログインの結果別件数",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokengate_token_refreshes_total",
			Help: "アクセストークンのリフレッシュ結果別件数",
		}, []string{"outcome"}),
		refreshLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tokengate_token_refresh_duration_seconds",
			Help:    "リフレッシュ処理（プロバイダー呼び出しから永続化まで）のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokengate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.logins,
		c.refreshes,
		c.refreshLatency,
		c.httpStatus,
	)

	return c
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordRefresh はリフレッシュ結果を記録する。
func (c *Collector) RecordRefresh(outcome string) {
	c.refreshes.WithLabelValues(outcome).Inc()
}

// RecordRefreshLatency はリフレッシュのレイテンシを記録する。
func (c *Collector) RecordRefreshLatency(duration time.Duration) {
	c.refreshLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordLogin(string)                 {}
func (Nop) RecordRefresh(string)               {}
func (Nop) RecordRefreshLatency(time.Duration) {}
func (Nop) RecordHTTPStatus(int)               {}

// SetupMetricsRoute は/metricsで公開するPrometheusスクレイプ用ハンドラーを返す。
// 収集に失敗したメトリクスがあっても残りは返す。
// スクレイプ自体の件数もpromhttp_metric_handler_*としてregに登録する。
func SetupMetricsRoute(reg *prometheus.Registry) http.Handler {
	return promhttp.InstrumentMetricHandler(reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
		Registry:          reg,
	}))
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
