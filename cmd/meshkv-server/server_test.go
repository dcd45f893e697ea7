package main

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yndnr/meshkv/internal/core/domain"
	"github.com/yndnr/meshkv/internal/server/config"
	"github.com/yndnr/meshkv/internal/storage"
	"github.com/yndnr/meshkv/internal/storage/backend"
	"github.com/yndnr/meshkv/internal/telemetry/logger"
	"github.com/yndnr/meshkv/internal/telemetry/metric"
)

// recordingBackend records completed writes and whether Close was called.
type recordingBackend struct {
	backend.Backend

	beforeWrite func(name string)

	mu          sync.Mutex
	writes      []string
	afterClose  []string
	closeCalled atomic.Bool
}

func (r *recordingBackend) Write(ctx context.Context, name string, data []byte) error {
	if r.beforeWrite != nil {
		r.beforeWrite(name)
	}
	if err := r.Backend.Write(ctx, name, data); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, name)
	if r.closeCalled.Load() {
		r.afterClose = append(r.afterClose, name)
	}
	return nil
}

func (r *recordingBackend) Close() error {
	r.closeCalled.Store(true)
	return r.Backend.Close()
}

func (r *recordingBackend) written() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.writes...)
}

func testConfig(dir, format string) *config.ServerConfig {
	cfg := config.Default()
	cfg.Server.Redis.Addr = "127.0.0.1:0"
	cfg.Server.HTTP.Addr = "127.0.0.1:0"
	cfg.Store.Shards = 4
	cfg.Persistence.Dir = dir
	cfg.Persistence.DBFilename = "dump"
	cfg.Persistence.Format = format
	cfg.ShutdownTimeout = 5 * time.Second
	return cfg
}

func openTestServer(t *testing.T, cfg *config.ServerConfig) (*server, *recordingBackend) {
	t.Helper()
	local, err := backend.NewLocal(cfg.Persistence.Dir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	rb := &recordingBackend{Backend: local}
	srv, err := newServer(context.Background(), cfg, rb, logger.Discard(), metric.NewRegistry())
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	return srv, rb
}

func startTestServer(t *testing.T, cfg *config.ServerConfig) (*server, *recordingBackend) {
	t.Helper()
	srv, rb := openTestServer(t, cfg)
	if err := srv.start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	return srv, rb
}

func respClient(t *testing.T, srv *server) *redis.Client {
	t.Helper()
	c := redis.NewClient(&redis.Options{
		Addr:            srv.redisAddr.String(),
		Protocol:        2,
		DisableIdentity: true,
		MaxRetries:      -1,
	})
	t.Cleanup(func() { c.Close() })
	return c
}

func TestServer_AutoloadFailureAbortsStartup(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "dump.rdb"), []byte("not a snapshot"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	local, err := backend.NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	rb := &recordingBackend{Backend: local}

	srv, err := newServer(context.Background(), testConfig(dir, "rdb"), rb, logger.Discard(), metric.NewRegistry())
	if err == nil {
		srv.stop()
		t.Fatal("newServer succeeded over a corrupt snapshot")
	}
	if !errors.Is(err, domain.ErrFormat) {
		t.Errorf("err = %v, want ErrFormat", err)
	}
	if !rb.closeCalled.Load() {
		t.Error("backend not closed after failed startup")
	}
	if len(rb.written()) != 0 {
		t.Errorf("writes = %v, want none", rb.written())
	}
}

func TestServer_EmptyLocationStarts(t *testing.T) {
	srv, _ := startTestServer(t, testConfig(t.TempDir(), "df"))
	if srv.store.Len() != 0 {
		t.Errorf("Len = %d, want 0", srv.store.Len())
	}
	if srv.httpAddr == nil || srv.redisAddr == nil {
		t.Errorf("listeners not started: resp=%v http=%v", srv.redisAddr, srv.httpAddr)
	}
	if err := srv.stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestServer_ShutdownOrder(t *testing.T) {
	srv, rb := startTestServer(t, testConfig(t.TempDir(), "rdb"))
	if !srv.sched.Running() {
		t.Fatal("scheduler not started")
	}

	var (
		schedRunning atomic.Bool
		listening    atomic.Bool
		finalSeen    atomic.Bool
	)
	addr := srv.redisAddr.String()
	rb.beforeWrite = func(name string) {
		if name != "dump.rdb" {
			return
		}
		finalSeen.Store(true)
		schedRunning.Store(srv.sched.Running())
		if c, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
			c.Close()
			listening.Store(true)
		}
	}

	if err := srv.stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !finalSeen.Load() {
		t.Fatal("no final save on shutdown")
	}
	if schedRunning.Load() {
		t.Error("final save ran while the scheduler was running")
	}
	if listening.Load() {
		t.Error("final save ran while the RESP listener accepted connections")
	}
	if !rb.closeCalled.Load() {
		t.Error("backend not closed")
	}
	if len(rb.afterClose) != 0 {
		t.Errorf("writes after backend close: %v", rb.afterClose)
	}
}

func TestServer_FinalSaveWaitsForBackgroundSave(t *testing.T) {
	srv, rb := startTestServer(t, testConfig(t.TempDir(), "rdb"))

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	rb.beforeWrite = func(name string) {
		if name == "bg.rdb" {
			once.Do(func() { close(entered) })
			<-release
		}
	}
	if _, err := srv.coord.BackgroundSave(storage.SaveRequest{Name: "bg"}); err != nil {
		t.Fatalf("BackgroundSave: %v", err)
	}
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- srv.stop() }()

	select {
	case err := <-stopped:
		t.Fatalf("stop returned %v while a background save was running", err)
	case <-time.After(100 * time.Millisecond):
	}
	close(release)

	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not finish")
	}

	want := []string{"bg.rdb", "dump.rdb"}
	if got := rb.written(); !slices.Equal(got, want) {
		t.Errorf("writes = %v, want %v", got, want)
	}
}

func TestServer_RestartKeepsData(t *testing.T) {
	for _, format := range []string{"rdb", "df"} {
		t.Run(format, func(t *testing.T) {
			dir := t.TempDir()
			ctx := context.Background()

			first, _ := startTestServer(t, testConfig(dir, format))
			c := respClient(t, first)
			if err := c.Set(ctx, "greeting", "hello", 0).Err(); err != nil {
				t.Fatalf("SET: %v", err)
			}
			if err := c.Set(ctx, "session", "x", time.Hour).Err(); err != nil {
				t.Fatalf("SET EX: %v", err)
			}
			if err := c.HSet(ctx, "user:1", "name", "ada", "lang", "go").Err(); err != nil {
				t.Fatalf("HSET: %v", err)
			}
			if err := c.RPush(ctx, "queue", "a", "b", "c").Err(); err != nil {
				t.Fatalf("RPUSH: %v", err)
			}
			c.Close()
			if err := first.stop(); err != nil {
				t.Fatalf("stop: %v", err)
			}

			second, _ := startTestServer(t, testConfig(dir, format))
			defer second.stop()
			c = respClient(t, second)

			if got, err := c.Get(ctx, "greeting").Result(); err != nil || got != "hello" {
				t.Errorf("GET greeting = %q, %v", got, err)
			}
			if ttl, err := c.TTL(ctx, "session").Result(); err != nil || ttl <= 0 || ttl > time.Hour {
				t.Errorf("TTL session = %v, %v", ttl, err)
			}
			if got, err := c.HGetAll(ctx, "user:1").Result(); err != nil || got["name"] != "ada" || got["lang"] != "go" {
				t.Errorf("HGETALL = %v, %v", got, err)
			}
			if got, err := c.LRange(ctx, "queue", 0, -1).Result(); err != nil || !slices.Equal(got, []string{"a", "b", "c"}) {
				t.Errorf("LRANGE = %v, %v", got, err)
			}
			if n, err := c.DBSize(ctx).Result(); err != nil || n != 4 {
				t.Errorf("DBSIZE = %d, %v", n, err)
			}
		})
	}
}
