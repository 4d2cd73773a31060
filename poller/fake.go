package poller

import (
	"syscall"
	"time"

	"github.com/eapache/queue"
)

// Fake 是确定性的内存后端，供测试和没有原生多路复用器的平台使用。
// 时间是虚拟的（Advance 推进），就绪由 Readable/Writable/Deliver 手动触发，
// Run 依次执行 Then 排入的步骤，步骤耗尽或 done 返回 true 后返回。
type Fake struct {
	now    time.Time
	fds    map[Kind]map[int]*Watch
	sigs   map[syscall.Signal]*Watch
	timers timers
	steps  *queue.Queue // func()
	closed bool

	// FailNext 非空时，下一次 Watch* 调用返回该错误
	FailNext error

	Cancels int // 成功取消次数
	Rearms  int
}

// NewFake 创建虚拟时钟从 Unix 纪元开始的 Fake。
func NewFake() *Fake {
	return &Fake{
		now: time.Unix(0, 0),
		fds: map[Kind]map[int]*Watch{
			KindReadable: make(map[int]*Watch),
			KindWritable: make(map[int]*Watch),
		},
		sigs:  make(map[syscall.Signal]*Watch),
		steps: queue.New(),
	}
}

func (f *Fake) fail() error {
	if f.closed {
		return ErrClosed
	}
	err := f.FailNext
	f.FailNext = nil
	return err
}

func (f *Fake) WatchReadable(fd int, fn func()) (*Watch, error) {
	return f.watchFD(KindReadable, fd, fn)
}

func (f *Fake) WatchWritable(fd int, fn func()) (*Watch, error) {
	return f.watchFD(KindWritable, fd, fn)
}

func (f *Fake) watchFD(kind Kind, fd int, fn func()) (*Watch, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	if fd < 0 {
		return nil, syscall.EBADF
	}
	if _, ok := f.fds[kind][fd]; ok {
		return nil, ErrFDBusy
	}
	w := newWatch(kind, fn)
	w.fd = fd
	w.live = true
	f.fds[kind][fd] = w
	return w, nil
}

func (f *Fake) WatchSignal(sig syscall.Signal, fn func()) (*Watch, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	if sig <= 0 {
		return nil, syscall.EINVAL
	}
	if _, ok := f.sigs[sig]; ok {
		return nil, ErrSignalBusy
	}
	w := newWatch(KindSignal, fn)
	w.sig = sig
	w.live = true
	f.sigs[sig] = w
	return w, nil
}

func (f *Fake) WatchTimeout(d time.Duration, fn func()) (*Watch, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	if d < 0 {
		return nil, ErrInvalidDuration
	}
	w := newWatch(KindTimeout, fn)
	f.timers.arm(w, f.now, d)
	return w, nil
}

func (f *Fake) Rearm(w *Watch, d time.Duration) error {
	if w == nil || w.kind != KindTimeout {
		return ErrInvalidWatch
	}
	if err := f.fail(); err != nil {
		return err
	}
	if d < 0 {
		return ErrInvalidDuration
	}
	f.Rearms++
	f.timers.arm(w, f.now, d)
	return nil
}

func (f *Fake) Cancel(w *Watch) bool {
	if w == nil || f.closed {
		return false
	}
	ok := false
	switch w.kind {
	case KindReadable, KindWritable:
		if cur, found := f.fds[w.kind][w.fd]; found && cur == w {
			delete(f.fds[w.kind], w.fd)
			w.live = false
			ok = true
		}
	case KindSignal:
		if cur, found := f.sigs[w.sig]; found && cur == w {
			delete(f.sigs, w.sig)
			w.live = false
			ok = true
		}
	case KindTimeout:
		ok = f.timers.disarm(w)
	}
	if ok {
		f.Cancels++
	}
	return ok
}

// Live 返回存活的 watch 总数。
func (f *Fake) Live() int {
	return len(f.fds[KindReadable]) + len(f.fds[KindWritable]) + len(f.sigs) + f.timers.len()
}

// Now 返回虚拟时钟。
func (f *Fake) Now() time.Time { return f.now }

// Readable 模拟 fd 可读；没有监听时返回 false。
func (f *Fake) Readable(fd int) bool { return f.ready(KindReadable, fd) }

// Writable 模拟 fd 可写。
func (f *Fake) Writable(fd int) bool { return f.ready(KindWritable, fd) }

func (f *Fake) ready(kind Kind, fd int) bool {
	w, ok := f.fds[kind][fd]
	if !ok {
		return false
	}
	if w.fn != nil {
		w.fn()
	}
	return true
}

// Deliver 模拟信号投递。
func (f *Fake) Deliver(sig syscall.Signal) bool {
	w, ok := f.sigs[sig]
	if !ok {
		return false
	}
	if w.fn != nil {
		w.fn()
	}
	return true
}

// Advance 推进虚拟时钟 d，按 deadline 顺序触发途经的定时器；
// 每次触发前时钟先停在该定时器的 deadline 上，因此 Rearm 以触发时刻为起点。
func (f *Fake) Advance(d time.Duration) {
	target := f.now.Add(d)
	var batch []*Watch
	for f.timers.len() > 0 && !f.timers.h[0].deadline.After(target) {
		at := f.timers.h[0].deadline
		if at.After(f.now) {
			f.now = at
		}
		batch = f.timers.expired(f.now, batch[:0])
		fire(batch)
	}
	f.now = target
}

// Then 排入一个在 Run 中执行的步骤。
func (f *Fake) Then(step func()) *Fake {
	f.steps.Add(step)
	return f
}

// Pending 返回尚未执行的步骤数。
func (f *Fake) Pending() int { return f.steps.Length() }

func (f *Fake) Run(done func() bool) error {
	if f.closed {
		return ErrClosed
	}
	for !stopRequested(done) && f.steps.Length() > 0 {
		step := f.steps.Remove().(func())
		step()
	}
	return nil
}

// Wake 对 Fake 无意义：Run 从不阻塞。
func (f *Fake) Wake() {}

func (f *Fake) Close() error {
	if f.closed {
		return nil
	}
	for _, m := range f.fds {
		for fd, w := range m {
			w.live = false
			delete(m, fd)
		}
	}
	for sig, w := range f.sigs {
		w.live = false
		delete(f.sigs, sig)
	}
	for f.timers.len() > 0 {
		f.timers.disarm(f.timers.h[0])
	}
	f.closed = true
	return nil
}

var _ Backend = (*Fake)(nil)
