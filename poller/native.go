//go:build linux || darwin

package poller

import (
	"fmt"
	"sync"
	"syscall"
	"time"
)

type interest uint8

const (
	wantRead interest = 1 << iota
	wantWrite
)

// readyEvent 是 demux 返回的一条就绪通知。
type readyEvent struct {
	fd       int
	readable bool
	writable bool
}

// demux 是平台多路复用器的最小封装（epoll / kqueue）。
type demux interface {
	// control 把 fd 的关注集合从 old 改为 next；next 为 0 表示移除。
	control(fd int, old, next interest) error
	// wait 阻塞至有事件、被唤醒或超时；timeout < 0 表示无限等待。
	// 被信号打断时返回 0, nil；唤醒事件在内部消化，不出现在结果中。
	wait(events []readyEvent, timeout time.Duration) (int, error)
	wake() error
	close() error
}

type fdWatches struct {
	r *Watch
	w *Watch
}

func (f *fdWatches) interest() interest {
	var i interest
	if f.r != nil {
		i |= wantRead
	}
	if f.w != nil {
		i |= wantWrite
	}
	return i
}

// nativePoller 在 demux 之上实现 Backend：fd 监听为持久的水平触发，
// 超时由最小堆驱动 wait 的超时参数，信号经 signalRelay 转入循环。
// 当没有任何存活的 watch 时 Run 返回（与 libevent 的 event_base_loop 一致）。
type nativePoller struct {
	d       demux
	fds     map[int]*fdWatches
	timers  timers
	signals *signalRelay

	events []readyEvent
	batch  []*Watch

	// mu 使跨 goroutine 的 Wake 与 Close 互斥，关闭后不再写唤醒 fd
	mu     sync.Mutex
	closed bool
}

// New 创建当前平台的原生后端。
func New(opts Options) (Backend, error) {
	opts = opts.normalize()
	d, err := newDemux()
	if err != nil {
		return nil, err
	}
	p := &nativePoller{
		d:      d,
		fds:    make(map[int]*fdWatches),
		events: make([]readyEvent, opts.EventBatch),
	}
	p.signals = newSignalRelay(p.Wake)
	return p, nil
}

func (p *nativePoller) WatchReadable(fd int, fn func()) (*Watch, error) {
	return p.watchFD(KindReadable, fd, fn)
}

func (p *nativePoller) WatchWritable(fd int, fn func()) (*Watch, error) {
	return p.watchFD(KindWritable, fd, fn)
}

func (p *nativePoller) watchFD(kind Kind, fd int, fn func()) (*Watch, error) {
	if p.closed {
		return nil, ErrClosed
	}
	if fd < 0 {
		return nil, syscall.EBADF
	}
	fw := p.fds[fd]
	if fw == nil {
		fw = &fdWatches{}
	}
	slot := &fw.r
	if kind == KindWritable {
		slot = &fw.w
	}
	if *slot != nil {
		return nil, ErrFDBusy
	}
	old := fw.interest()
	w := newWatch(kind, fn)
	w.fd = fd
	*slot = w
	if err := p.d.control(fd, old, fw.interest()); err != nil {
		*slot = nil
		return nil, err
	}
	w.live = true
	p.fds[fd] = fw
	return w, nil
}

func (p *nativePoller) WatchSignal(sig syscall.Signal, fn func()) (*Watch, error) {
	if p.closed {
		return nil, ErrClosed
	}
	if sig <= 0 {
		return nil, syscall.EINVAL
	}
	return p.signals.watch(sig, fn)
}

func (p *nativePoller) WatchTimeout(d time.Duration, fn func()) (*Watch, error) {
	if p.closed {
		return nil, ErrClosed
	}
	if d < 0 {
		return nil, ErrInvalidDuration
	}
	w := newWatch(KindTimeout, fn)
	p.timers.arm(w, time.Now(), d)
	return w, nil
}

func (p *nativePoller) Rearm(w *Watch, d time.Duration) error {
	if w == nil || w.kind != KindTimeout {
		return ErrInvalidWatch
	}
	if p.closed {
		return ErrClosed
	}
	if d < 0 {
		return ErrInvalidDuration
	}
	p.timers.arm(w, time.Now(), d)
	return nil
}

func (p *nativePoller) Cancel(w *Watch) bool {
	if w == nil || p.closed {
		return false
	}
	switch w.kind {
	case KindReadable, KindWritable:
		return p.cancelFD(w)
	case KindSignal:
		return p.signals.cancel(w)
	case KindTimeout:
		return p.timers.disarm(w)
	}
	return false
}

func (p *nativePoller) cancelFD(w *Watch) bool {
	fw := p.fds[w.fd]
	if fw == nil {
		return false
	}
	slot := &fw.r
	if w.kind == KindWritable {
		slot = &fw.w
	}
	if *slot != w {
		return false
	}
	old := fw.interest()
	*slot = nil
	next := fw.interest()
	// fd 可能已被调用方关闭，内核侧注册随之消失；这里只保证簿记一致
	_ = p.d.control(w.fd, old, next)
	if next == 0 {
		delete(p.fds, w.fd)
	}
	w.live = false
	return true
}

func (p *nativePoller) live() int {
	return len(p.fds) + p.timers.len() + p.signals.len()
}

func (p *nativePoller) Run(done func() bool) error {
	if p.closed {
		return ErrClosed
	}
	for !stopRequested(done) {
		if p.live() == 0 {
			return nil
		}
		n, err := p.d.wait(p.events, p.timers.next(time.Now()))
		if err != nil {
			return fmt.Errorf("poller: wait: %w", err)
		}
		for i := 0; i < n; i++ {
			p.dispatchFD(p.events[i])
		}
		p.signals.dispatch()
		p.batch = p.timers.expired(time.Now(), p.batch[:0])
		fire(p.batch)
	}
	return nil
}

// dispatchFD 每个方向回调前都重新查表，前一个回调可能已取消另一方向。
func (p *nativePoller) dispatchFD(ev readyEvent) {
	if ev.readable {
		if fw := p.fds[ev.fd]; fw != nil && fw.r != nil && fw.r.fn != nil {
			fw.r.fn()
		}
	}
	if ev.writable {
		if fw := p.fds[ev.fd]; fw != nil && fw.w != nil && fw.w.fn != nil {
			fw.w.fn()
		}
	}
}

func (p *nativePoller) Wake() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		_ = p.d.wake()
	}
}

func (p *nativePoller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	// 等转发 goroutine 全部退出后才能关闭唤醒 fd
	p.signals.close()
	for fd, fw := range p.fds {
		_ = p.d.control(fd, fw.interest(), 0)
		if fw.r != nil {
			fw.r.live = false
		}
		if fw.w != nil {
			fw.w.live = false
		}
		delete(p.fds, fd)
	}
	for p.timers.len() > 0 {
		p.timers.disarm(p.timers.h[0])
	}
	return p.d.close()
}
