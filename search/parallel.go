package search

import (
	"context"
	"sort"
	"time"

	"gitlab.com/tozd/go/errors"
)

// ErrExtractionTimeout is returned when a plugin extraction exceeds its time budget
var ErrExtractionTimeout = errors.Base("extraction timed out")

// ConcurrencyManager handles bounded concurrency for heavy operations
type ConcurrencyManager struct {
	sem chan struct{}
}

func NewConcurrencyManager(slots int) *ConcurrencyManager {
	if slots <= 0 {
		slots = 1
	}
	return &ConcurrencyManager{sem: make(chan struct{}, slots)}
}

// Acquire takes a slot, giving up when ctx ends
func (cm *ConcurrencyManager) Acquire(ctx context.Context) error {
	select {
	case cm.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cm *ConcurrencyManager) Release() {
	<-cm.sem
}

// ExecuteWithTimeout runs fn in a slot. The slot stays taken until fn returns even
// when the caller stops waiting, so abandoned extractions still count against the bound.
// A zero timeout waits for fn or ctx only.
func (cm *ConcurrencyManager) ExecuteWithTimeout(ctx context.Context, fn func() error, timeout time.Duration) error {
	if err := cm.Acquire(ctx); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		defer cm.Release()
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Errorf("panic: %v", r)
			}
		}()
		done <- fn()
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case err := <-done:
		return err
	case <-expired:
		return errors.Errorf("after %s: %w", timeout, ErrExtractionTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// report is a worker's outcome for one candidate: zero results when the file was
// filtered out, several for an archive
type report struct {
	seq     int
	path    string
	results []*GrepSearchResult
}

// reorderBuffer releases reports in walk order regardless of completion order
type reorderBuffer struct {
	next    int
	pending map[int]report
}

func newReorderBuffer() *reorderBuffer {
	return &reorderBuffer{pending: make(map[int]report)}
}

// add stores r and returns every report now releasable in sequence
func (b *reorderBuffer) add(r report) []report {
	b.pending[r.seq] = r
	var ready []report
	for {
		next, ok := b.pending[b.next]
		if !ok {
			return ready
		}
		delete(b.pending, b.next)
		ready = append(ready, next)
		b.next++
	}
}

// drain returns what is left, in order, skipping sequence numbers that never completed
func (b *reorderBuffer) drain() []report {
	rest := make([]report, 0, len(b.pending))
	for _, r := range b.pending {
		rest = append(rest, r)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].seq < rest[j].seq })
	b.pending = make(map[int]report)
	return rest
}
