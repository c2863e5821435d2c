package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/zenithlabs/authcore"
	"github.com/zenithlabs/authcore/metrics/export/internaldefs"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func sampleSource() fakeSource {
	return fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess:  7,
				authcore.MetricAccountLocked: 2,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	}
}

func scrape(t testing.TB, source metricsSource) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	NewHandler(source).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	return rec
}

func TestHandlerEmptyWhenMetricsDisabled(t *testing.T) {
	rec := scrape(t, fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters:   map[authcore.MetricID]uint64{},
			Histograms: map[authcore.MetricID][]uint64{},
		},
	})

	if got := strings.TrimSpace(rec.Body.String()); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestHandlerIncludesCounterAndHistogram(t *testing.T) {
	out := scrape(t, sampleSource()).Body.String()
	for _, want := range []string{
		"authcore_login_success_total 7",
		"authcore_account_locked_total 2",
		"authcore_validate_latency_seconds_bucket{le=\"0.005\"} 1",
		"authcore_validate_latency_seconds_bucket{le=\"+Inf\"} 36",
		"authcore_login_latency_seconds_count 0",
		"authcore_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if out != scrape(t, sampleSource()).Body.String() {
		t.Fatal("scrape output should be deterministic")
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	rec := scrape(t, fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters:   map[authcore.MetricID]uint64{authcore.MetricLoginSuccess: 1},
			Histograms: map[authcore.MetricID][]uint64{},
		},
	})

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
}

func TestCollectorGather(t *testing.T) {
	reg := promclient.NewPedanticRegistry()
	if err := reg.Register(NewCollectorFromSource(sampleSource())); err != nil {
		t.Fatalf("register: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	want := len(internaldefs.CounterDefs) + len(internaldefs.HistogramDefs) + 1
	if len(families) != want {
		t.Fatalf("expected %d families, got %d", want, len(families))
	}

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}

	if v := byName["authcore_login_success_total"].GetMetric()[0].GetCounter().GetValue(); v != 7 {
		t.Fatalf("login success = %v", v)
	}
	h := byName["authcore_validate_latency_seconds"].GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 36 {
		t.Fatalf("histogram count = %d", h.GetSampleCount())
	}
	if got := h.GetBucket()[0].GetCumulativeCount(); got != 1 {
		t.Fatalf("first bucket = %d", got)
	}
}

func TestCollectorLint(t *testing.T) {
	problems, err := testutil.CollectAndLint(NewCollectorFromSource(sampleSource()))
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if len(problems) != 0 {
		t.Fatalf("lint problems: %+v", problems)
	}
}

func BenchmarkScrape(b *testing.B) {
	h := NewHandler(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess:       1000,
				authcore.MetricLoginFailure:       40,
				authcore.MetricSessionCreated:     1000,
				authcore.MetricSessionInvalidated: 20,
				authcore.MetricRegisterSuccess:    15,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
}
