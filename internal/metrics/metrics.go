// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// OTPマネージャーやスイープジョブから利用する。
type MetricsCollector interface {
	RecordOTPIssued()
	RecordOTPRateLimited()
	RecordOTPDeliveryFailure()
	RecordNotifyLatency(duration time.Duration)
	RecordOTPVerification(result string)
	RecordOTPSwept(count int64)
	RecordTokensIssued(entry string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	otpIssued        prometheus.Counter
	otpRateLimited   prometheus.Counter
	otpDeliveryFail  prometheus.Counter
	notifyLatency    prometheus.Histogram
	otpVerifications *prometheus.CounterVec
	otpSwept         prometheus.Counter
	tokensIssued     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		otpIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "winnersop_otp_issued_total",
			Help: "発行したOTPの合計数",
		}),
		otpRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "winnersop_otp_rate_limited_total",
			Help: "再送クールダウンで拒否したOTP発行要求の合計数",
		}),
		otpDeliveryFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "winnersop_otp_delivery_failures_total",
			Help: "OTPメール送信失敗の合計数",
		}),
		notifyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "winnersop_notify_latency_seconds",
			Help:    "OTPメール送信のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		otpVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "winnersop_otp_verifications_total",
			Help: "OTP検証結果別の件数",
		}, []string{"result"}),
		otpSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "winnersop_otp_swept_total",
			Help: "スイープで削除したOTPの合計数",
		}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "winnersop_token_pairs_issued_total",
			Help: "ログイン経路別のトークンペア発行数",
		}, []string{"entry"}),
	}

	reg.MustRegister(
		c.otpIssued,
		c.otpRateLimited,
		c.otpDeliveryFail,
		c.notifyLatency,
		c.otpVerifications,
		c.otpSwept,
		c.tokensIssued,
	)

	return c
}

// RecordOTPIssued はOTP発行を記録する。
func (c *Collector) RecordOTPIssued() {
	c.otpIssued.Inc()
}

// RecordOTPRateLimited はクールダウンによる拒否を記録する。
func (c *Collector) RecordOTPRateLimited() {
	c.otpRateLimited.Inc()
}

// RecordOTPDeliveryFailure はOTPメール送信失敗を記録する。
func (c *Collector) RecordOTPDeliveryFailure() {
	c.otpDeliveryFail.Inc()
}

// RecordNotifyLatency はメール送信のレイテンシを記録する。
func (c *Collector) RecordNotifyLatency(duration time.Duration) {
	c.notifyLatency.Observe(duration.Seconds())
}

// RecordOTPVerification はOTP検証の結果（successまたは失敗理由）を記録する。
func (c *Collector) RecordOTPVerification(result string) {
	c.otpVerifications.WithLabelValues(result).Inc()
}

// RecordOTPSwept はスイープで削除した件数を記録する。
func (c *Collector) RecordOTPSwept(count int64) {
	c.otpSwept.Add(float64(count))
}

// RecordTokensIssued はトークンペアの発行をログイン経路（otp, social）別に記録する。
func (c *Collector) RecordTokensIssued(entry string) {
	c.tokensIssued.WithLabelValues(entry).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)

// NopCollector は何も記録しないMetricsCollector実装。メトリクス未設定時に使う。
type NopCollector struct{}

func (NopCollector) RecordOTPIssued()                  {}
func (NopCollector) RecordOTPRateLimited()             {}
func (NopCollector) RecordOTPDeliveryFailure()         {}
func (NopCollector) RecordNotifyLatency(time.Duration) {}
func (NopCollector) RecordOTPVerification(string)      {}
func (NopCollector) RecordOTPSwept(int64)              {}
func (NopCollector) RecordTokensIssued(string)         {}

// compile-time interface check
var _ MetricsCollector = NopCollector{}
