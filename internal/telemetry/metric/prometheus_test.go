package metric

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func scrape(t *testing.T, r *Registry) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil || r.registry == nil {
		t.Fatal("NewRegistry() returned an empty registry")
	}
	body := scrape(t, r)
	if !strings.Contains(body, "go_goroutines") {
		t.Error("expected go_goroutines metric")
	}
	if !strings.Contains(body, "process_") {
		t.Error("expected process metrics")
	}
}

func TestGlobal(t *testing.T) {
	if Global() != Global() {
		t.Error("Global() should return the same instance")
	}
	if Handler() == nil {
		t.Error("Handler() returned nil")
	}
}

func TestSaveMetrics(t *testing.T) {
	r := NewRegistry()

	r.ObserveSave("df", 1500*time.Millisecond, 4096, 12, nil)
	r.ObserveSave("df", time.Second, 0, 0, errors.New("boom"))
	r.ObserveSave("rdb", time.Second, 100, 3, nil)

	if got := testutil.ToFloat64(r.SavesTotal.WithLabelValues("df", "ok")); got != 1 {
		t.Errorf("saves ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.SavesTotal.WithLabelValues("df", "error")); got != 1 {
		t.Errorf("saves error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.SaveBytes.WithLabelValues("df")); got != 4096 {
		t.Errorf("save bytes = %v, want 4096", got)
	}
	if got := testutil.ToFloat64(r.LastSaveRecords); got != 3 {
		t.Errorf("last save records = %v, want 3", got)
	}

	body := scrape(t, r)
	if !strings.Contains(body, `meshkv_persistence_save_duration_seconds_count{format="df"} 1`) {
		t.Error("expected one df save duration sample")
	}
}

func TestLoadMetrics(t *testing.T) {
	r := NewRegistry()

	r.SetLoading(true)
	if got := testutil.ToFloat64(r.Loading); got != 1 {
		t.Errorf("loading = %v, want 1", got)
	}
	r.ObserveLoad(time.Second, 42, nil)
	r.SetLoading(false)

	if got := testutil.ToFloat64(r.Loading); got != 0 {
		t.Errorf("loading = %v, want 0", got)
	}
	if got := testutil.ToFloat64(r.Keys); got != 42 {
		t.Errorf("keys = %v, want 42", got)
	}
	if got := testutil.ToFloat64(r.LoadsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("loads ok = %v, want 1", got)
	}
}

func TestTriggerAndCommandMetrics(t *testing.T) {
	r := NewRegistry()
	r.RecordTrigger("fired")
	r.RecordTrigger("skipped")
	r.RecordTrigger("skipped")
	r.RecordCommand("SAVE", "ok")

	if got := testutil.ToFloat64(r.ScheduleTriggers.WithLabelValues("skipped")); got != 2 {
		t.Errorf("skipped = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.CommandsTotal.WithLabelValues("SAVE", "ok")); got != 1 {
		t.Errorf("SAVE ok = %v, want 1", got)
	}
}

func TestNilRegistry(t *testing.T) {
	var r *Registry
	r.ObserveSave("df", time.Second, 1, 1, nil)
	r.ObserveLoad(time.Second, 1, nil)
	r.SetLoading(true)
	r.RecordTrigger("fired")
	r.RecordCommand("GET", "ok")
	if err := r.Register(); err != nil {
		t.Errorf("Register on nil registry = %v", err)
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.ObserveSave("df", time.Millisecond, 1, 1, nil)
				r.RecordCommand("GET", "ok")
			}
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(r.CommandsTotal.WithLabelValues("GET", "ok")); got != 1000 {
		t.Errorf("GET ok = %v, want 1000", got)
	}
}
