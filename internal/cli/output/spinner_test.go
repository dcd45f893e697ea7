package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

// lockedBuffer is written by the spinner goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinner_Success(t *testing.T) {
	var buf lockedBuffer
	s := NewSpinner(&buf, "saving")
	s.Start()
	time.Sleep(150 * time.Millisecond)
	s.SetMessage("saving (2 files)")
	time.Sleep(150 * time.Millisecond)
	s.Success("saved")

	out := buf.String()
	if !strings.Contains(out, "saving") || !strings.Contains(out, "saving (2 files)") {
		t.Errorf("animation missing messages: %q", out)
	}
	if !strings.HasSuffix(out, "✓ saved\n") {
		t.Errorf("final line = %q", out)
	}

	s.Stop()
	s.Fail("ignored")
	if buf.String() != out {
		t.Error("spinner wrote after it was stopped")
	}
}

func TestSpinner_FailWithoutStart(t *testing.T) {
	var buf lockedBuffer
	s := NewSpinner(&buf, "x")

	start := time.Now()
	s.Fail("boom")
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Fail blocked on a spinner that never started")
	}
	if !strings.HasSuffix(buf.String(), "✗ boom\n") {
		t.Errorf("output = %q", buf.String())
	}
}
