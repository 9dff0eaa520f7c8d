package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New(nil)
	m.ObserveRatingSaved()
	m.ObserveRatingSaved()
	m.ObserveMerge("imported_current")
	m.ObserveMerge("skipped")
	m.ObserveMerge("skipped")
	m.ObserveImport(200*time.Millisecond, nil)
	m.ObserveImport(time.Second, errors.New("boom"))

	if got := testutil.ToFloat64(m.ratingsSaved); got != 2 {
		t.Errorf("ratings saved = %v", got)
	}
	if got := testutil.ToFloat64(m.merges.WithLabelValues("skipped")); got != 2 {
		t.Errorf("skipped merges = %v", got)
	}
	if got := testutil.ToFloat64(m.imports.WithLabelValues("error")); got != 1 {
		t.Errorf("failed imports = %v", got)
	}
	if got := testutil.CollectAndCount(m.importDuration); got != 1 {
		t.Errorf("histogram series = %d", got)
	}
}

func TestHandler(t *testing.T) {
	m := New(func() int { return 3 })
	m.ObserveMerge("error")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`mitasat_merge_results_total{disposition="error"} 1`,
		"mitasat_sse_clients 3",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
