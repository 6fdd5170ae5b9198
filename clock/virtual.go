package clock

import (
	"container/heap"
	"sync"
	"time"
)

// Virtual is a deterministic Clock for tests: time only advances when
// Advance is called, and AfterFunc callbacks fire synchronously, in
// scheduled order, as Advance crosses their deadline.
type Virtual struct {
	mu  sync.Mutex
	now time.Time
	pq  timerHeap
	seq uint64
}

// NewVirtual creates a Virtual clock starting at the given instant.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

// Now returns the clock's current virtual instant.
func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// AfterFunc schedules f to run once the virtual clock reaches now+d.
// d <= 0 fires on the next Advance call (including Advance(0)).
func (v *Virtual) AfterFunc(d time.Duration, f func()) Timer {
	v.mu.Lock()
	defer v.mu.Unlock()

	t := &virtualTimer{
		deadline: v.now.Add(d),
		f:        f,
		seq:      v.seq,
	}
	v.seq++
	heap.Push(&v.pq, t)
	return t
}

// Advance moves virtual time forward by d, firing every timer whose
// deadline has been reached, in deadline order (ties broken by schedule
// order). Callbacks run synchronously on the calling goroutine.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	v.now = target

	var due []*virtualTimer
	for v.pq.Len() > 0 && !v.pq[0].deadline.After(target) {
		t := heap.Pop(&v.pq).(*virtualTimer)
		if t.stopped {
			continue
		}
		due = append(due, t)
	}
	v.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

type virtualTimer struct {
	deadline time.Time
	f        func()
	seq      uint64
	stopped  bool
	index    int
}

func (t *virtualTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type timerHeap []*virtualTimer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	t := x.(*virtualTimer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
