// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// auth.Metrics、middleware.RateLimitRecorder、cleanup.SweepRecorderを満たす。
type Collector struct {
	loginStarted   prometheus.Counter
	loginCompleted *prometheus.CounterVec
	loginFailed    *prometheus.CounterVec
	authentication *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
	sweepDeleted   *prometheus.CounterVec
	sweepErrors    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fedlogin_login_started_total",
			Help: "開始されたログインの合計数",
		}),
		loginCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fedlogin_login_completed_total",
			Help: "完了したログインのプロバイダー別合計数",
		}, []string{"provider"}),
		loginFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fedlogin_login_failed_total",
			Help: "失敗したログインの理由別合計数",
		}, []string{"reason"}),
		authentication: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fedlogin_authentication_total",
			Help: "bearerトークン検証の結果別合計数",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fedlogin_rate_limited_total",
			Help: "レート制限で拒否したリクエストの合計数",
		}, []string{"limit_type"}),
		sweepDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fedlogin_sweep_deleted_total",
			Help: "期限切れとして削除したレコードのストア別合計数",
		}, []string{"store"}),
		sweepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fedlogin_sweep_errors_total",
			Help: "期限切れレコード削除の失敗数",
		}, []string{"store"}),
	}

	reg.MustRegister(
		c.loginStarted,
		c.loginCompleted,
		c.loginFailed,
		c.authentication,
		c.rateLimited,
		c.sweepDeleted,
		c.sweepErrors,
	)

	return c
}

// RecordLoginStarted はログイン開始を記録する。
func (c *Collector) RecordLoginStarted() {
	c.loginStarted.Inc()
}

// RecordLoginCompleted はログイン完了を記録する。
func (c *Collector) RecordLoginCompleted(provider string) {
	c.loginCompleted.WithLabelValues(provider).Inc()
}

// RecordLoginFailed はログイン失敗をエラーコード別に記録する。
func (c *Collector) RecordLoginFailed(reason string) {
	c.loginFailed.WithLabelValues(reason).Inc()
}

// RecordAuthentication はトークン検証の結果を記録する。
func (c *Collector) RecordAuthentication(result string) {
	c.authentication.WithLabelValues(result).Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(limitType string) {
	c.rateLimited.WithLabelValues(limitType).Inc()
}

// RecordSweep はクリーンアップで削除した件数を記録する。
func (c *Collector) RecordSweep(store string, deleted int) {
	c.sweepDeleted.WithLabelValues(store).Add(float64(deleted))
}

// RecordSweepError はクリーンアップの失敗を記録する。
func (c *Collector) RecordSweepError(store string) {
	c.sweepErrors.WithLabelValues(store).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
