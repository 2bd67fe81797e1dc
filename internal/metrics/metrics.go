// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とミドルウェアから利用する。
type MetricsCollector interface {
	RecordLoginSuccess()
	RecordLoginFailure(reason string)
	RecordLockout()
	RecordRegistration()
	RecordRateLimited(scope string)
	RecordMagicCodeIssued()
	RecordMagicLogin(success bool)
	RecordMailSent(kind string, success bool)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginSuccess  prometheus.Counter
	loginFailure  *prometheus.CounterVec
	lockouts      prometheus.Counter
	registrations prometheus.Counter
	rateLimited   *prometheus.CounterVec
	magicIssued   prometheus.Counter
	magicLogin    *prometheus.CounterVec
	mailSent      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "identity_login_success_total",
			Help: "ログイン成功の合計数",
		}),
		loginFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_login_failure_total",
			Help: "理由別のログイン失敗の合計数",
		}, []string{"reason"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "identity_lockouts_total",
			Help: "アカウントロックアウト発生の合計数",
		}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "identity_registrations_total",
			Help: "ユーザー登録の合計数",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_rate_limited_total",
			Help: "スコープ別のレート制限拒否の合計数",
		}, []string{"scope"}),
		magicIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "identity_magic_code_issued_total",
			Help: "マジックコード発行の合計数",
		}),
		magicLogin: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_magic_login_total",
			Help: "結果別のマジックコードログイン試行の合計数",
		}, []string{"result"}),
		mailSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_mail_sent_total",
			Help: "種別・結果別のメール送信の合計数",
		}, []string{"kind", "result"}),
	}

	reg.MustRegister(
		c.loginSuccess,
		c.loginFailure,
		c.lockouts,
		c.registrations,
		c.rateLimited,
		c.magicIssued,
		c.magicLogin,
		c.mailSent,
	)

	return c
}

// RecordLoginSuccess はログイン成功を記録する。
func (c *Collector) RecordLoginSuccess() {
	c.loginSuccess.Inc()
}

// RecordLoginFailure は理由付きでログイン失敗を記録する。
func (c *Collector) RecordLoginFailure(reason string) {
	c.loginFailure.WithLabelValues(reason).Inc()
}

// RecordLockout はロックアウト発生を記録する。
func (c *Collector) RecordLockout() {
	c.lockouts.Inc()
}

// RecordRegistration はユーザー登録を記録する。
func (c *Collector) RecordRegistration() {
	c.registrations.Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(scope string) {
	c.rateLimited.WithLabelValues(scope).Inc()
}

// RecordMagicCodeIssued はマジックコード発行を記録する。
func (c *Collector) RecordMagicCodeIssued() {
	c.magicIssued.Inc()
}

// RecordMagicLogin はマジックコードログイン試行の結果を記録する。
func (c *Collector) RecordMagicLogin(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.magicLogin.WithLabelValues(result).Inc()
}

// RecordMailSent はメール送信の結果を記録する。
func (c *Collector) RecordMailSent(kind string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.mailSent.WithLabelValues(kind, result).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector実装。テスト用。
type NopCollector struct{}

// RecordLoginSuccess は何もしない。
func (NopCollector) RecordLoginSuccess() {}

// RecordLoginFailure は何もしない。
func (NopCollector) RecordLoginFailure(string) {}

// RecordLockout は何もしない。
func (NopCollector) RecordLockout() {}

// RecordRegistration は何もしない。
func (NopCollector) RecordRegistration() {}

// RecordRateLimited は何もしない。
func (NopCollector) RecordRateLimited(string) {}

// RecordMagicCodeIssued は何もしない。
func (NopCollector) RecordMagicCodeIssued() {}

// RecordMagicLogin は何もしない。
func (NopCollector) RecordMagicLogin(bool) {}

// RecordMailSent は何もしない。
func (NopCollector) RecordMailSent(string, bool) {}

// compile-time interface checks
var _ MetricsCollector = (*Collector)(nil)
var _ MetricsCollector = NopCollector{}
