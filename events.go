package reactor

import (
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/legamerdc/reactor/poller"
)

// AddRead 注册持久的可读事件，每次就绪回调 cb(fd)，直到删除。
func (r *Reactor) AddRead(fd int, cb func(fd int)) error {
	if cb == nil {
		return ErrNilCallback
	}
	return r.add(Read, fd, nil, 0, func() (*poller.Watch, error) {
		return r.backend.WatchReadable(fd, func() { r.invoke(Read, fd, func() { cb(fd) }) })
	})
}

// AddWrite 注册持久的可写事件。
func (r *Reactor) AddWrite(fd int, cb func(fd int)) error {
	if cb == nil {
		return ErrNilCallback
	}
	return r.add(Write, fd, nil, 0, func() (*poller.Watch, error) {
		return r.backend.WatchWritable(fd, func() { r.invoke(Write, fd, func() { cb(fd) }) })
	})
}

// AddSignal 注册持久的信号事件，每次投递回调一次。
func (r *Reactor) AddSignal(sig syscall.Signal, cb func(sig syscall.Signal)) error {
	if cb == nil {
		return ErrNilCallback
	}
	key := int(sig)
	return r.add(Signal, key, nil, 0, func() (*poller.Watch, error) {
		return r.backend.WatchSignal(sig, func() { r.invoke(Signal, key, func() { cb(sig) }) })
	})
}

// AddInterval 注册周期定时器，每隔 every 回调 cb(id)，直到删除。
// every 按微秒截断，截断后必须大于 0。
func (r *Reactor) AddInterval(id int, every time.Duration, cb func(id int)) error {
	if cb == nil {
		return ErrNilCallback
	}
	us := micros(every)
	if us <= 0 {
		return ErrInvalidDuration
	}
	return r.add(Interval, id, cb, us, func() (*poller.Watch, error) {
		return r.backend.WatchTimeout(fromMicros(us), func() { r.onTimer(Interval, id) })
	})
}

// AddTimeout 注册一次性超时，after 后回调 cb(id) 一次；after 为 0 时在下一轮循环触发。
func (r *Reactor) AddTimeout(id int, after time.Duration, cb func(id int)) error {
	if cb == nil {
		return ErrNilCallback
	}
	if after < 0 {
		return ErrInvalidDuration
	}
	us := micros(after)
	return r.add(Timeout, id, cb, 0, func() (*poller.Watch, error) {
		return r.backend.WatchTimeout(fromMicros(us), func() { r.onTimer(Timeout, id) })
	})
}

func (r *Reactor) add(kind Kind, key int, fn func(id int), interval int64, mk func() (*poller.Watch, error)) error {
	r.owner.check()
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.events[kind][key]; ok {
		return ErrEventExists
	}
	w, err := mk()
	if err != nil {
		r.log.Debug("reactor: registration rejected",
			zap.Stringer("kind", kind), zap.Int("key", key), zap.Error(err))
		return &RegistrationError{Kind: kind, Key: key, Err: err}
	}
	r.events[kind][key] = &record{watch: w, fn: fn, interval: interval}
	return nil
}

// Remove 删除 (kind, key)。未注册时返回 false；否则取消后端 watch、删除表项，
// 返回后端的取消结果。可在任意回调中调用，包括该事件自己的回调。
func (r *Reactor) Remove(kind Kind, key int) bool {
	r.owner.check()
	if !kind.valid() {
		return false
	}
	rec, ok := r.events[kind][key]
	if !ok {
		return false
	}
	delete(r.events[kind], key)
	return r.backend.Cancel(rec.watch)
}

func (r *Reactor) DelRead(fd int) bool { return r.Remove(Read, fd) }

func (r *Reactor) DelWrite(fd int) bool { return r.Remove(Write, fd) }

func (r *Reactor) DelSignal(sig syscall.Signal) bool { return r.Remove(Signal, int(sig)) }

func (r *Reactor) DelInterval(id int) bool { return r.Remove(Interval, id) }

func (r *Reactor) DelTimeout(id int) bool { return r.Remove(Timeout, id) }
