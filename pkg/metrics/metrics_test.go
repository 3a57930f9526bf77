package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounter(t *testing.T) {
	r := New()
	c := r.Counter("test_total", "A test counter", "result")
	c.WithLabelValues("ok").Inc()
	c.WithLabelValues("ok").Add(4)
	c.WithLabelValues("error").Inc()

	if got := testutil.ToFloat64(c.WithLabelValues("ok")); got != 5 {
		t.Fatalf("expected 5, got %v", got)
	}
	if c2 := r.Counter("test_total", ""); c2 != c {
		t.Fatal("expected same counter instance")
	}
}

func TestGauge(t *testing.T) {
	r := New()
	g := r.Gauge("test_gauge", "A test gauge")
	g.WithLabelValues().Set(42)
	g.WithLabelValues().Inc()
	g.WithLabelValues().Dec()
	g.WithLabelValues().Dec()
	if got := testutil.ToFloat64(g.WithLabelValues()); got != 41 {
		t.Fatalf("expected 41, got %v", got)
	}
}

func TestHistogram(t *testing.T) {
	r := New()
	h := r.Histogram("test_duration_seconds", "A test histogram", []float64{0.1, 0.5, 1.0}, "op")
	h.WithLabelValues("export").Observe(0.05)
	h.WithLabelValues("export").Observe(0.3)
	h.WithLabelValues("export").Observe(2)

	if n := testutil.CollectAndCount(h); n != 1 {
		t.Fatalf("expected one series, got %d", n)
	}
	if h2 := r.Histogram("test_duration_seconds", "", nil); h2 != h {
		t.Fatal("expected same histogram instance")
	}
}

func TestHandler(t *testing.T) {
	r := New()
	r.Counter("requests_total", "Total requests", "code").WithLabelValues("200").Add(3)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		"# HELP safety_requests_total Total requests",
		`safety_requests_total{code="200"} 3`,
		"go_goroutines",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in output", want)
		}
	}
}
