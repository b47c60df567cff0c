package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ProgressReporter reports progress for batch operations such as issuing
// certificates for many domains.
type ProgressReporter interface {
	Start(total int)
	Step(item string, err error)
	Finish()
}

// SimpleProgress prints one line per item and a summary.
type SimpleProgress struct {
	mu      sync.Mutex
	total   int
	done    int
	failed  int
	started time.Time
	writer  io.Writer
}

// NewProgressReporter creates a new progress reporter that writes to w.
// If w is nil, it defaults to os.Stderr.
func NewProgressReporter(w io.Writer) ProgressReporter {
	if w == nil {
		w = os.Stderr
	}
	return &SimpleProgress{writer: w}
}

// Start resets the reporter for total items.
func (p *SimpleProgress) Start(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
	p.done = 0
	p.failed = 0
	p.started = time.Now()
}

// Step records one finished item.
func (p *SimpleProgress) Step(item string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	if err != nil {
		p.failed++
		fmt.Fprintf(p.writer, "[%d/%d] ✗ %s: %v\n", p.done, p.total, item, err)
		return
	}
	fmt.Fprintf(p.writer, "[%d/%d] ✓ %s\n", p.done, p.total, item)
}

// Finish prints the summary line.
func (p *SimpleProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.writer, "%d succeeded, %d failed in %s\n",
		p.done-p.failed, p.failed, time.Since(p.started).Round(time.Millisecond))
}

// Failed returns the number of failed items so far.
func (p *SimpleProgress) Failed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}
