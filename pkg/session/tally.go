package session

import (
	"sync"

	"github.com/tarang-care/tarang-live/pkg/metrics"
	"github.com/tarang-care/tarang-live/pkg/sampling"
)

// Tally is a sampling.Publisher that keeps the running session summary and
// forwards every snapshot to the next publisher.
type Tally struct {
	mu   sync.Mutex
	sum  metrics.Summary
	next sampling.Publisher
}

// NewTally creates a tally. next may be nil.
func NewTally(next sampling.Publisher) *Tally {
	return &Tally{next: next}
}

// Publish records snap and forwards it.
func (t *Tally) Publish(snap metrics.Snapshot) {
	t.mu.Lock()
	t.sum.Observe(snap)
	t.mu.Unlock()

	if t.next != nil {
		t.next.Publish(snap)
	}
}

// Summary returns the summary so far.
func (t *Tally) Summary() metrics.Summary {
	if t == nil {
		return metrics.Summary{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sum
}
