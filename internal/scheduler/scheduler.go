//nolint:forcetypeassert
package scheduler

import (
	"container/heap"
	"context"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/taskhive/realtime/internal/log"
)

// KeyedScheduler manages delayed one-shot firings for string keys, backed by
// a single timer over a min-heap of deadlines. Re-enqueueing a key replaces
// its deadline. Fired keys are delivered on Chan.
//
// Keys are commonly namespaced ("<scope>/<id>") so a whole scope can be
// dropped at once with CancelScope.
type KeyedScheduler struct {
	entries  map[string]*entry
	heap     deadlineHeap
	chFired  chan string
	chOps    chan func()
	timer    clockwork.Timer
	timerDue time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	clock    clockwork.Clock
	logger   *log.Logger
}

type entry struct {
	key   string
	due   time.Time
	index int
}

func New(logger *log.Logger) *KeyedScheduler {
	return NewWithClock(logger, clockwork.NewRealClock())
}

func NewWithClock(logger *log.Logger, clock clockwork.Clock) *KeyedScheduler {
	if logger == nil {
		panic("logger is required")
	}
	if clock == nil {
		panic("clock is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	ks := &KeyedScheduler{
		entries: make(map[string]*entry),
		heap:    make(deadlineHeap, 0),
		chFired: make(chan string),
		chOps:   make(chan func(), 100),
		timer:   clock.NewTimer(time.Second),
		ctx:     ctx,
		cancel:  cancel,
		clock:   clock,
		logger:  logger,
	}
	heap.Init(&ks.heap)

	go ks.loop()
	return ks
}

// Chan delivers fired keys. Closed on Shutdown.
func (ks *KeyedScheduler) Chan() <-chan string {
	return ks.chFired
}

// Enqueue schedules key to fire after delay, replacing any pending deadline.
func (ks *KeyedScheduler) Enqueue(key string, delay time.Duration) {
	due := ks.clock.Now().Add(delay)
	ks.chOps <- func() {
		ks.doEnqueue(&entry{key: key, due: due})
	}
}

func (ks *KeyedScheduler) Cancel(key string) {
	ks.chOps <- func() {
		ks.doCancel(key)
	}
}

// CancelScope cancels every pending key with the given prefix.
func (ks *KeyedScheduler) CancelScope(prefix string) {
	ks.chOps <- func() {
		for key := range ks.entries {
			if strings.HasPrefix(key, prefix) {
				ks.doCancel(key)
			}
		}
	}
}

func (ks *KeyedScheduler) Shutdown() {
	ks.cancel()
	ks.clearTimer()
}

func (ks *KeyedScheduler) doEnqueue(e *entry) {
	if cur, ok := ks.entries[e.key]; ok {
		heap.Remove(&ks.heap, cur.index)
	}
	ks.entries[e.key] = e
	heap.Push(&ks.heap, e)
	ks.rescheduleTimer()
}

func (ks *KeyedScheduler) doCancel(key string) {
	e, ok := ks.entries[key]
	if !ok {
		return
	}
	delete(ks.entries, key)
	heap.Remove(&ks.heap, e.index)
	ks.rescheduleTimer()
}

func (ks *KeyedScheduler) clearTimer() {
	ks.timer.Stop()
	ks.timerDue = time.Time{}
}

func (ks *KeyedScheduler) rescheduleTimer() {
	if len(ks.entries) == 0 {
		ks.clearTimer()
		return
	}

	top := ks.heap[0]
	if ks.timerDue.Equal(top.due) {
		return
	}

	delay := top.due.Sub(ks.clock.Now())
	if delay < 0 {
		delay = 0
	}

	ks.timerDue = top.due
	ks.timer.Stop()
	ks.timer.Reset(delay)
}

func (ks *KeyedScheduler) loop() {
	for {
		select {
		case <-ks.ctx.Done():
			close(ks.chFired)
			return
		case op, ok := <-ks.chOps:
			if !ok {
				return
			}
			op()
		case <-ks.timer.Chan():
			ks.clearTimer()
			ks.fireDue()
		}
	}
}

func (ks *KeyedScheduler) fireDue() {
	now := ks.clock.Now()

	for len(ks.entries) > 0 {
		select {
		case <-ks.ctx.Done():
			return
		default:
		}

		if ks.heap[0].due.After(now) {
			break
		}

		top := heap.Pop(&ks.heap).(*entry)
		delete(ks.entries, top.key)
		ks.chFired <- top.key
	}

	ks.rescheduleTimer()
}

// min-heap on due time

type deadlineHeap []*entry

func (h deadlineHeap) Len() int { return len(h) }

func (h deadlineHeap) Less(i, j int) bool { return h[i].due.Before(h[j].due) }

func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
