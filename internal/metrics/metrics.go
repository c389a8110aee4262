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
// キャッシュストア、ゲートウェイ、アクションパイプラインから利用する。
type MetricsCollector interface {
	RecordCacheHit(key string)
	RecordCacheMiss(key string)
	RecordCacheWriteFailure(key string)
	RecordGatewayRequest(route string, status int)
	RecordCoalescedRead(route string)
	RecordMutation(action string, outcome string)
	RecordMutationLatency(action string, duration time.Duration)
	RecordLockBusyRejection()
}

// ミューテーション結果ラベル。
const (
	OutcomeSuccess  = "success"
	OutcomeNoop     = "noop"
	OutcomeRejected = "rejected"
	OutcomeFailure  = "failure"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cacheHit         prometheus.Counter
	cacheMiss        prometheus.Counter
	cacheWriteFail   prometheus.Counter
	gatewayRequests  *prometheus.CounterVec
	coalescedReads   *prometheus.CounterVec
	mutations        *prometheus.CounterVec
	mutationLatency  *prometheus.HistogramVec
	lockBusyRejected prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheHit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subportal_cache_hit_total",
			Help: "キャッシュヒットの合計数",
		}),
		cacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subportal_cache_miss_total",
			Help: "キャッシュミスの合計数",
		}),
		cacheWriteFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subportal_cache_write_fail_total",
			Help: "キャッシュ書き込み失敗の合計数",
		}),
		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subportal_gateway_requests_total",
			Help: "上流サービスへのリクエスト数（ルート・ステータス別）",
		}, []string{"route", "status_code"}),
		coalescedReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subportal_coalesced_reads_total",
			Help: "合流により省略された読み取りリクエスト数（ルート別）",
		}, []string{"route"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subportal_mutations_total",
			Help: "ミューテーション実行数（アクション・結果別）",
		}, []string{"action", "outcome"}),
		mutationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "subportal_mutation_latency_seconds",
			Help:    "ミューテーションのレイテンシ（秒、アクション別）",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		lockBusyRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subportal_lock_busy_rejected_total",
			Help: "ミューテーションロック競合による即時拒否の合計数",
		}),
	}

	reg.MustRegister(
		c.cacheHit,
		c.cacheMiss,
		c.cacheWriteFail,
		c.gatewayRequests,
		c.coalescedReads,
		c.mutations,
		c.mutationLatency,
		c.lockBusyRejected,
	)

	return c
}

// RecordCacheHit はキャッシュヒットを記録する。
func (c *Collector) RecordCacheHit(key string) {
	c.cacheHit.Inc()
}

// RecordCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss(key string) {
	c.cacheMiss.Inc()
}

// RecordCacheWriteFailure はキャッシュ書き込み失敗を記録する。
func (c *Collector) RecordCacheWriteFailure(key string) {
	c.cacheWriteFail.Inc()
}

// RecordGatewayRequest は上流リクエストをルート・ステータス別に記録する。
// ネットワークエラーで応答がない場合はstatus=0で記録される。
func (c *Collector) RecordGatewayRequest(route string, status int) {
	c.gatewayRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// RecordCoalescedRead は合流により省略された読み取りを記録する。
func (c *Collector) RecordCoalescedRead(route string) {
	c.coalescedReads.WithLabelValues(route).Inc()
}

// RecordMutation はミューテーションの実行結果を記録する。
func (c *Collector) RecordMutation(action string, outcome string) {
	c.mutations.WithLabelValues(action, outcome).Inc()
}

// RecordMutationLatency はミューテーションのレイテンシを記録する。
func (c *Collector) RecordMutationLatency(action string, duration time.Duration) {
	c.mutationLatency.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordLockBusyRejection はロック競合による即時拒否を記録する。
func (c *Collector) RecordLockBusyRejection() {
	c.lockBusyRejected.Inc()
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
