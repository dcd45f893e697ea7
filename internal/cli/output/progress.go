package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Unit selects how a ProgressBar prints its counters.
type Unit int

const (
	// UnitBytes prints human readable sizes.
	UnitBytes Unit = iota
	// UnitFiles prints plain counts.
	UnitFiles
)

// ProgressBar displays progress of a transfer or a multi-file operation.
type ProgressBar struct {
	w       io.Writer
	title   string
	unit    Unit
	total   int64
	current int64
	width   int
	mu      sync.Mutex
}

// NewProgressBar creates a progress bar counting bytes.
func NewProgressBar(w io.Writer, title string) *ProgressBar {
	return &ProgressBar{
		w:     w,
		title: title,
		width: 40,
	}
}

// NewFileProgress creates a progress bar counting files.
func NewFileProgress(w io.Writer, title string, total int) *ProgressBar {
	p := NewProgressBar(w, title)
	p.unit = UnitFiles
	p.total = int64(total)
	return p
}

// SetTotal sets the total.
func (p *ProgressBar) SetTotal(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
}

// Update sets both counters and redraws.
func (p *ProgressBar) Update(current, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = current
	p.total = total
	p.render()
}

// Increment adds to current progress.
func (p *ProgressBar) Increment(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current += n
	p.render()
}

// Finish completes the progress bar.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = p.total
	p.render()
	fmt.Fprintln(p.w)
}

func (p *ProgressBar) render() {
	if p.total <= 0 {
		fmt.Fprintf(p.w, "\r%s %s", p.title, p.count(p.current))
		return
	}

	percent := min(float64(p.current)/float64(p.total), 1)
	filled := int(float64(p.width) * percent)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", p.width-filled)

	fmt.Fprintf(p.w, "\r%s [%s] %3.0f%% (%s/%s)",
		p.title,
		bar,
		percent*100,
		p.count(p.current),
		p.count(p.total),
	)
}

func (p *ProgressBar) count(n int64) string {
	if p.unit == UnitFiles {
		return fmt.Sprintf("%d", n)
	}
	return formatBytes(n)
}

// formatBytes formats bytes to human readable string.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
