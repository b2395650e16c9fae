package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nimburion/queuevisor/pkg/health"
	"github.com/nimburion/queuevisor/pkg/observability/logger"
	"github.com/nimburion/queuevisor/pkg/observability/metrics"
)

type staticCheck struct{ err error }

func (c staticCheck) HealthCheck(context.Context) error { return c.err }

func newTestServer(t *testing.T, checkErr error) *ManagementServer {
	t.Helper()
	registry := metrics.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "queuevisor_test_events_total", Help: "test"})
	counter.Add(3)
	if err := registry.Register(counter); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	checks := health.NewRegistry()
	checks.Register(health.NewStoreChecker(staticCheck{err: checkErr}))

	srv, err := NewManagementServer(Config{MetricsPath: "metrics"}, registry, checks, logger.Nop())
	if err != nil {
		t.Fatalf("NewManagementServer() error = %v", err)
	}
	return srv
}

func TestManagementServer_Metrics(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "queuevisor_test_events_total 3") {
		t.Fatalf("custom collector missing from output")
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("default collectors missing from output")
	}
}

func TestManagementServer_Health(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "healthy", want: http.StatusOK},
		{name: "unhealthy", err: errors.New("redis down"), want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.err)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, HealthPath, nil))
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestManagementServer_RejectsOtherMethods(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestNewManagementServer_RequiresRegistry(t *testing.T) {
	if _, err := NewManagementServer(Config{}, nil, nil, nil); err == nil {
		t.Fatal("expected error without metrics registry")
	}
}

func TestManagementServer_ServeAndShutdown(t *testing.T) {
	srv := newTestServer(t, nil)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()

	url := "http://" + listener.Addr().String() + HealthPath
	var resp *http.Response
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err = http.Get(url)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "coordination") {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
