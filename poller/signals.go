package poller

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/eapache/queue"
)

// signalRelay 把 Go runtime 投递的信号转交给事件循环。
// 每个被监听的信号一个 Notify 通道和一个转发 goroutine；投递排入 FIFO 后唤醒 poller，
// 由循环所在 goroutine 取出并回调，保证回调与其它事件串行。
type signalRelay struct {
	mu      sync.Mutex
	pending *queue.Queue // *sigSub
	wake    func()
	wg      sync.WaitGroup

	watches map[syscall.Signal]*sigSub
}

type sigSub struct {
	w    *Watch
	ch   chan os.Signal
	done chan struct{}
}

func newSignalRelay(wake func()) *signalRelay {
	return &signalRelay{
		pending: queue.New(),
		wake:    wake,
		watches: make(map[syscall.Signal]*sigSub),
	}
}

func (r *signalRelay) watch(sig syscall.Signal, fn func()) (*Watch, error) {
	if _, ok := r.watches[sig]; ok {
		return nil, ErrSignalBusy
	}
	w := newWatch(KindSignal, fn)
	w.sig = sig
	w.live = true
	sub := &sigSub{w: w, ch: make(chan os.Signal, 8), done: make(chan struct{})}
	signal.Notify(sub.ch, sig)
	r.watches[sig] = sub
	r.wg.Add(1)
	go r.forward(sub)
	return w, nil
}

func (r *signalRelay) forward(sub *sigSub) {
	defer r.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case <-sub.ch:
			// 排队的是订阅本身，取消后重新监听同一信号不会收到旧的投递
			r.mu.Lock()
			r.pending.Add(sub)
			r.mu.Unlock()
			r.wake()
		}
	}
}

func (r *signalRelay) cancel(w *Watch) bool {
	sub, ok := r.watches[w.sig]
	if !ok || sub.w != w {
		return false
	}
	signal.Stop(sub.ch)
	close(sub.done)
	delete(r.watches, w.sig)
	w.live = false
	return true
}

func (r *signalRelay) len() int { return len(r.watches) }

// dispatch 回调所有已排队的信号。属于已取消订阅的投递直接丢弃。
func (r *signalRelay) dispatch() {
	for {
		r.mu.Lock()
		if r.pending.Length() == 0 {
			r.mu.Unlock()
			return
		}
		sub := r.pending.Remove().(*sigSub)
		r.mu.Unlock()

		if !sub.w.live || sub.w.fn == nil {
			continue
		}
		sub.w.fn()
	}
}

// close 取消全部订阅，并等待所有转发 goroutine 退出后返回。
func (r *signalRelay) close() {
	for sig, sub := range r.watches {
		signal.Stop(sub.ch)
		close(sub.done)
		sub.w.live = false
		delete(r.watches, sig)
	}
	r.wg.Wait()
}
