package ratelimit

import (
	"sync"
	"time"
)

// Window 是按 key 记录时间戳的滑动窗口限流器。
// 每次检查先惰性剪掉窗口外的时间戳，再比较数量；拒绝时不记录本次请求。
type Window struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	window time.Duration
	max    int
	now    func() time.Time
	stop   chan struct{}
}

func NewWindow(window time.Duration, max int) *Window {
	return &Window{
		hits:   make(map[string][]time.Time),
		window: window,
		max:    max,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
}

// Allow 判断 key 在当前窗口内是否还有配额，有则记录本次并放行。
func (w *Window) Allow(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	cutoff := now.Add(-w.window)

	ts := w.hits[key]
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= w.max {
		w.hits[key] = kept
		return false
	}
	w.hits[key] = append(kept, now)
	return true
}

// Remaining 返回 key 当前窗口内的剩余配额，仅用于统计，不做记录。
func (w *Window) Remaining(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := w.now().Add(-w.window)
	n := 0
	for _, t := range w.hits[key] {
		if t.After(cutoff) {
			n++
		}
	}
	if n > w.max {
		n = w.max
	}
	return w.max - n
}

// GC 周期清理整个窗口已滑出的 key，防止长时间运行后 map 无限增长。
func (w *Window) GC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			cutoff := w.now().Add(-w.window)
			w.mu.Lock()
			for k, ts := range w.hits {
				if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
					delete(w.hits, k)
				}
			}
			w.mu.Unlock()
		}
	}
}

// Stop 停止 GC goroutine，用于优雅停服。
func (w *Window) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}
