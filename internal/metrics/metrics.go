// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 外部依存の名前。collaborator_failuresのラベル値に使う。
const (
	CollaboratorIdentityProvider = "identity_provider"
	CollaboratorProfileStore     = "profile_store"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービスやミドルウェアから利用する。
type MetricsCollector interface {
	RecordFlowOutcome(flow string, statusCode int)
	RecordFlowLatency(flow string, duration time.Duration)
	RecordCollaboratorFailure(collaborator string)
	RecordRateLimited(tier string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	flowOutcome          *prometheus.CounterVec
	flowLatency          *prometheus.HistogramVec
	collaboratorFailures *prometheus.CounterVec
	rateLimited          *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		flowOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "staysafe_auth_flow_total",
			Help: "認証フロー別・ステータスコード別の処理数",
		}, []string{"flow", "status_code"}),
		flowLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "staysafe_auth_flow_latency_seconds",
			Help:    "認証フローの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"flow"}),
		collaboratorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "staysafe_collaborator_failures_total",
			Help: "外部依存（IdP、プロフィールストア）の予期しない失敗数",
		}, []string{"collaborator"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "staysafe_rate_limited_total",
			Help: "レート制限により拒否されたリクエスト数",
		}, []string{"tier"}),
	}

	reg.MustRegister(
		c.flowOutcome,
		c.flowLatency,
		c.collaboratorFailures,
		c.rateLimited,
	)

	return c
}

// RecordFlowOutcome はフローの結果ステータスを記録する。
func (c *Collector) RecordFlowOutcome(flow string, statusCode int) {
	c.flowOutcome.WithLabelValues(flow, strconv.Itoa(statusCode)).Inc()
}

// RecordFlowLatency はフローの処理時間を記録する。
func (c *Collector) RecordFlowLatency(flow string, duration time.Duration) {
	c.flowLatency.WithLabelValues(flow).Observe(duration.Seconds())
}

// RecordCollaboratorFailure は外部依存の失敗を記録する。
func (c *Collector) RecordCollaboratorFailure(collaborator string) {
	c.collaboratorFailures.WithLabelValues(collaborator).Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(tier string) {
	c.rateLimited.WithLabelValues(tier).Inc()
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)

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
