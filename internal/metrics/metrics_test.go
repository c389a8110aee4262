package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollector_RegistersAndExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	// 各メトリクスを1回ずつ記録する
	c.RecordCacheHit("portal:cust-1:subscriptions")
	c.RecordCacheMiss("portal:cust-1:home")
	c.RecordCacheWriteFailure("portal:cust-1:subscriptions")
	c.RecordGatewayRequest("subscriptions", 200)
	c.RecordGatewayRequest("pause", 0)
	c.RecordCoalescedRead("subscriptions")
	c.RecordMutation("pause", OutcomeSuccess)
	c.RecordMutation("coupon_apply", OutcomeRejected)
	c.RecordMutationLatency("pause", 120*time.Millisecond)
	c.RecordLockBusyRejection()

	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("スクレイプに失敗: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ボディ読み取りに失敗: %v", err)
	}
	output := string(body)

	wantMetrics := []string{
		"subportal_cache_hit_total 1",
		"subportal_cache_miss_total 1",
		"subportal_cache_write_fail_total 1",
		`subportal_gateway_requests_total{route="subscriptions",status_code="200"} 1`,
		`subportal_gateway_requests_total{route="pause",status_code="0"} 1`,
		`subportal_coalesced_reads_total{route="subscriptions"} 1`,
		`subportal_mutations_total{action="pause",outcome="success"} 1`,
		`subportal_mutations_total{action="coupon_apply",outcome="rejected"} 1`,
		"subportal_lock_busy_rejected_total 1",
		`subportal_mutation_latency_seconds_count{action="pause"} 1`,
	}
	for _, want := range wantMetrics {
		if !strings.Contains(output, want) {
			t.Errorf("スクレイプ出力に %q が含まれるべき", want)
		}
	}
}

func TestSetupMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	server := httptest.NewServer(SetupMetricsRoute(reg))
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("/metrics の取得に失敗: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("ステータス = %d, want 200", resp.StatusCode)
	}
}
