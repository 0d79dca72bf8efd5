package limiter

import (
	"hash/fnv"
	"sync"
	"time"
)

const windowShards = 32

type windowState struct {
	start time.Time
	count int
}

type windowShard struct {
	mu    sync.Mutex
	items map[string]*windowState
}

// Window is a fixed-window counter per identity. A window opens on the
// identity's first call and lasts for the configured period.
type Window struct {
	limit  int
	period time.Duration
	shards [windowShards]*windowShard
	now    func() time.Time
}

var _ RequestLimiter = (*Window)(nil)

// NewWindow allows limit calls per period per identity.
func NewWindow(limit int, period time.Duration) *Window {
	w := &Window{limit: limit, period: period, now: time.Now}
	for i := range w.shards {
		w.shards[i] = &windowShard{items: make(map[string]*windowState)}
	}
	return w
}

// WithClock returns w using clock; intended for tests.
func (w *Window) WithClock(clock func() time.Time) *Window {
	w.now = clock
	return w
}

func (w *Window) shardFor(identity string) *windowShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identity))
	return w.shards[h.Sum32()%windowShards]
}

// Allow implements RequestLimiter.
func (w *Window) Allow(identity string) (bool, time.Duration) {
	now := w.now()
	sh := w.shardFor(identity)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.items[identity]
	if !ok || now.Sub(st.start) >= w.period {
		sh.items[identity] = &windowState{start: now, count: 1}
		return true, 0
	}
	if st.count >= w.limit {
		return false, st.start.Add(w.period).Sub(now)
	}
	st.count++
	return true, 0
}

// Sweep drops windows that have closed by now.
func (w *Window) Sweep(now time.Time) int {
	n := 0
	for _, sh := range w.shards {
		sh.mu.Lock()
		for id, st := range sh.items {
			if now.Sub(st.start) >= w.period {
				delete(sh.items, id)
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}
