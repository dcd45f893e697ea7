package httpserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/meshkv/internal/storage"
	"github.com/yndnr/meshkv/internal/storage/backend"
	"github.com/yndnr/meshkv/internal/storage/memory"
	"github.com/yndnr/meshkv/internal/telemetry/metric"
)

func newCoordinator(t *testing.T, reg *metric.Registry) *storage.Coordinator {
	t.Helper()
	be, err := backend.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	coord, err := storage.New(memory.New(memory.WithShards(2)), be, storage.Config{
		NamePattern: "dump",
		Format:      "rdb",
		Metrics:     reg,
	})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	return coord
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	reg := metric.NewRegistry()
	coord := newCoordinator(t, reg)
	srv := httptest.NewServer(NewRouter(&RouterConfig{Coordinator: coord, Metrics: reg}))
	defer srv.Close()

	resp, _ := get(t, srv.URL+"/health")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health = %d", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("X-Request-ID"), "req-") {
		t.Errorf("X-Request-ID = %q", resp.Header.Get("X-Request-ID"))
	}

	if _, err := coord.Save(context.Background(), storage.SaveRequest{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	resp, body := get(t, srv.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics = %d", resp.StatusCode)
	}
	for _, want := range []string{"meshkv_persistence_loading 0", `meshkv_persistence_saves_total{format="rdb",result="ok"} 1`} {
		if !strings.Contains(body, want) {
			t.Errorf("/metrics lacks %q", want)
		}
	}

	resp, body = get(t, srv.URL+"/v1/persistence")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"last_save_name":"dump.rdb"`) {
		t.Errorf("/v1/persistence = %d %s", resp.StatusCode, body)
	}
}

func TestRouter_AllowList(t *testing.T) {
	coord := newCoordinator(t, metric.NewRegistry())
	srv := httptest.NewServer(NewRouter(&RouterConfig{
		Coordinator:    coord,
		Metrics:        metric.NewRegistry(),
		AdminAllowList: []string{"10.1.2.0/24"},
	}))
	defer srv.Close()

	resp, body := get(t, srv.URL+"/v1/persistence")
	if resp.StatusCode != http.StatusForbidden || !strings.Contains(body, CodeForbidden) {
		t.Errorf("/v1 from loopback = %d %s", resp.StatusCode, body)
	}
	if resp, _ := get(t, srv.URL+"/health"); resp.StatusCode != http.StatusOK {
		t.Errorf("/health behind allow list = %d", resp.StatusCode)
	}
}

func TestRouter_RateLimit(t *testing.T) {
	coord := newCoordinator(t, metric.NewRegistry())
	srv := httptest.NewServer(NewRouter(&RouterConfig{
		Coordinator: coord,
		Metrics:     metric.NewRegistry(),
		RateLimit:   1,
	}))
	defer srv.Close()

	if resp, _ := get(t, srv.URL+"/v1/persistence"); resp.StatusCode != http.StatusOK {
		t.Fatalf("first request = %d", resp.StatusCode)
	}
	resp, _ := get(t, srv.URL+"/v1/persistence")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second request = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestServer_StartShutdown(t *testing.T) {
	coord := newCoordinator(t, metric.NewRegistry())
	s := New("127.0.0.1:0", NewRouter(&RouterConfig{Coordinator: coord, Metrics: metric.NewRegistry()}), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	url := "http://" + s.Addr().String()
	if resp, _ := get(t, url+"/health"); resp.StatusCode != http.StatusOK {
		t.Errorf("/health = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := http.Get(url + "/health"); err == nil {
		t.Error("server still serving after Shutdown")
	}
}

func TestServer_TLS(t *testing.T) {
	// Borrow httptest's certificate and a client that trusts it.
	ts := httptest.NewUnstartedServer(http.NotFoundHandler())
	ts.StartTLS()
	defer ts.Close()
	client := ts.Client()

	coord := newCoordinator(t, metric.NewRegistry())
	s := New("127.0.0.1:0", NewRouter(&RouterConfig{Coordinator: coord, Metrics: metric.NewRegistry()}), nil)
	s.UseTLS(ts.TLS.Clone())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	}()

	resp, err := client.Get("https://" + s.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET over TLS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health = %d", resp.StatusCode)
	}

	if resp, err := http.Get("http://" + s.Addr().String() + "/health"); err == nil {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			t.Error("plain HTTP accepted on a TLS listener")
		}
	}
}
