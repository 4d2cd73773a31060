package poller

import (
	"container/heap"
	"time"
)

// timerHeap 是按 deadline 排序的最小堆，元素即超时 watch。
type timerHeap []*Watch

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	w := x.(*Watch)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}

// timers 管理一次性超时：arm 入堆，disarm 出堆，expired 取出所有已到期项。
type timers struct {
	h timerHeap
}

func (t *timers) arm(w *Watch, now time.Time, d time.Duration) {
	w.deadline = now.Add(d)
	w.live = true
	w.pending = false
	if w.index >= 0 {
		heap.Fix(&t.h, w.index)
		return
	}
	heap.Push(&t.h, w)
}

// disarm 取消定时器；已到期但尚未回调的项同样视为可取消。
func (t *timers) disarm(w *Watch) bool {
	if w.pending {
		w.pending = false
		return true
	}
	if w.index < 0 {
		return false
	}
	heap.Remove(&t.h, w.index)
	w.live = false
	return true
}

func (t *timers) len() int { return len(t.h) }

// next 返回距最近 deadline 的等待时长；没有定时器时返回 -1。
func (t *timers) next(now time.Time) time.Duration {
	if len(t.h) == 0 {
		return -1
	}
	d := t.h[0].deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// expired 弹出 deadline <= now 的全部定时器并标记为已消费。
// 先整体取出再回调，回调中新挂的零时长定时器留到下一轮。
func (t *timers) expired(now time.Time, dst []*Watch) []*Watch {
	for len(t.h) > 0 && !t.h[0].deadline.After(now) {
		w := heap.Pop(&t.h).(*Watch)
		w.live = false
		w.pending = true
		dst = append(dst, w)
	}
	return dst
}

// fire 依次回调已到期的定时器；前面的回调可能重新挂载或取消后面的项。
func fire(batch []*Watch) {
	for i, w := range batch {
		batch[i] = nil
		if !w.pending {
			// 本批次内已被取消或重新挂载
			continue
		}
		w.pending = false
		if w.fn != nil {
			w.fn()
		}
	}
}

// waitMillis 把超时换算为毫秒并向上取整，避免亚毫秒的剩余时间变成忙等。
func waitMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d / time.Millisecond
	if d%time.Millisecond != 0 {
		ms++
	}
	return int(ms)
}
