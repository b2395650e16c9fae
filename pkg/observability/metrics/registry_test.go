package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegistry_MergesDefaultAndCustomCollectors(t *testing.T) {
	registry := NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "queuevisor_test_tubes", Help: "test"})
	gauge.Set(2)
	if err := registry.Register(gauge); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := registry.Register(gauge); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}

	families, err := registry.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := map[string]bool{}
	for _, family := range families {
		found[family.GetName()] = true
	}
	if !found["queuevisor_test_tubes"] || !found["go_goroutines"] {
		t.Fatalf("missing families in %v", found)
	}

	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "queuevisor_test_tubes 2") {
		t.Fatalf("unexpected response %d", rec.Code)
	}
}
