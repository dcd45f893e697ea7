package shutdown

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"
)

func recorder() (func(int) func(context.Context) error, func() []int) {
	var mu sync.Mutex
	var order []int
	hook := func(id int) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return nil
		}
	}
	return hook, func() []int {
		mu.Lock()
		defer mu.Unlock()
		return append([]int(nil), order...)
	}
}

func TestHandler_ReverseOrder(t *testing.T) {
	h := NewHandler(time.Second, nil)
	hook, order := recorder()
	h.OnShutdown("one", hook(1))
	h.OnShutdown("two", hook(2))
	h.OnShutdown("three", hook(3))

	go h.Trigger()
	if err := h.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	got := order()
	if len(got) != 3 || got[0] != 3 || got[1] != 2 || got[2] != 1 {
		t.Errorf("order = %v, want [3 2 1]", got)
	}
	select {
	case <-h.Done():
	default:
		t.Error("Done should be closed after Wait")
	}
}

func TestHandler_FailureDoesNotStopLaterHooks(t *testing.T) {
	h := NewHandler(time.Second, nil)
	hook, order := recorder()
	errSave := errors.New("disk full")

	h.OnShutdown("close backend", hook(1))
	h.OnShutdown("final save", func(context.Context) error { return errSave })
	h.OnShutdown("stop listeners", hook(3))

	err := h.Run()
	if !errors.Is(err, errSave) {
		t.Fatalf("Run() = %v, want %v", err, errSave)
	}
	if got := order(); len(got) != 2 || got[0] != 3 || got[1] != 1 {
		t.Errorf("order = %v, want [3 1]", got)
	}
}

func TestHandler_TimeoutReachesHooks(t *testing.T) {
	h := NewHandler(20*time.Millisecond, nil)
	h.OnShutdown("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	err := h.Run()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout not applied")
	}
}

func TestHandler_ContextCancel(t *testing.T) {
	h := NewHandler(time.Second, nil)
	hook, order := recorder()
	h.OnShutdown("one", hook(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if len(order()) != 1 {
		t.Error("hook did not run")
	}
}

func TestHandler_Signal(t *testing.T) {
	h := NewHandler(time.Second, nil)
	hook, order := recorder()
	h.OnShutdown("one", hook(1))

	errCh := make(chan error, 1)
	go func() { errCh <- h.Wait(context.Background()) }()

	// Give Wait time to install the signal handler.
	time.Sleep(50 * time.Millisecond)
	syscall.Kill(syscall.Getpid(), syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Wait() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not return after SIGTERM")
	}
	if len(order()) != 1 {
		t.Error("hook did not run")
	}
}

func TestHandler_TriggerTwice(t *testing.T) {
	h := NewHandler(time.Second, nil)
	h.Trigger()
	h.Trigger()
	if err := h.Wait(context.Background()); err != nil {
		t.Errorf("Wait() = %v", err)
	}
}
