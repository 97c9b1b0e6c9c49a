package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sample returns the value of the metric family name whose labels match.
func sample(t *testing.T, m *Metrics, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, metric := range f.GetMetric() {
			got := map[string]string{}
			for _, lp := range metric.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue next
				}
			}
			return metric
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func TestMetrics_Gauges(t *testing.T) {
	m := New()
	m.SetBlocklistDomains(1234)
	m.SetAllowlistDomains(3)

	assert.Equal(t, 1234.0, sample(t, m, "sinkhole_blocklist_domains", nil).GetGauge().GetValue())
	assert.Equal(t, 3.0, sample(t, m, "sinkhole_allowlist_domains", nil).GetGauge().GetValue())
}

func TestMetrics_SourceFetched(t *testing.T) {
	m := New()
	m.SourceFetched("hosts:https://a", true, 10)
	m.SourceFetched("hosts:https://a", true, 12)
	m.SourceFetched("adblock:https://b", false, 99)

	ok := sample(t, m, "sinkhole_source_fetch_total", map[string]string{"source": "hosts:https://a", "result": "success"})
	assert.Equal(t, 2.0, ok.GetCounter().GetValue())
	fail := sample(t, m, "sinkhole_source_fetch_total", map[string]string{"source": "adblock:https://b", "result": "failure"})
	assert.Equal(t, 1.0, fail.GetCounter().GetValue())

	entries := sample(t, m, "sinkhole_source_entries", map[string]string{"source": "hosts:https://a"})
	assert.Equal(t, 12.0, entries.GetGauge().GetValue())
}

func TestMetrics_QueriesAndUpstream(t *testing.T) {
	m := New()
	m.Query("block")
	m.Query("block")
	m.Query("allow")
	m.UpstreamFailure("timeout")
	m.ObserveUpstream(15 * time.Millisecond)
	m.ObserveRefresh(2 * time.Second)

	assert.Equal(t, 2.0, sample(t, m, "sinkhole_queries_total", map[string]string{"decision": "block"}).GetCounter().GetValue())
	assert.Equal(t, 1.0, sample(t, m, "sinkhole_upstream_failures_total", map[string]string{"reason": "timeout"}).GetCounter().GetValue())
	assert.Equal(t, uint64(1), sample(t, m, "sinkhole_upstream_duration_seconds", nil).GetHistogram().GetSampleCount())
	assert.InDelta(t, 2.0, sample(t, m, "sinkhole_refresh_duration_seconds", nil).GetHistogram().GetSampleSum(), 1e-9)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Query("allow")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `sinkhole_queries_total{decision="allow"} 1`))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.SetBlocklistDomains(1)
	m.SetAllowlistDomains(1)
	m.SourceFetched("x", true, 1)
	m.ObserveRefresh(time.Second)
	m.Query("block")
	m.UpstreamFailure("error")
	m.ObserveUpstream(time.Second)
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
