package poller

import (
	"errors"
	"syscall"
	"time"
)

var (
	// ErrPlatformNotSupported 当前平台没有可用的原生多路复用器
	ErrPlatformNotSupported = errors.New("poller: platform not supported (requires epoll or kqueue)")

	// ErrClosed 后端已关闭
	ErrClosed = errors.New("poller: closed")

	// ErrFDBusy 同一 fd 的同一方向已存在监听
	ErrFDBusy = errors.New("poller: fd already watched for this direction")

	// ErrSignalBusy 同一信号已存在监听
	ErrSignalBusy = errors.New("poller: signal already watched")

	// ErrInvalidWatch watch 为空或类型不匹配
	ErrInvalidWatch = errors.New("poller: invalid watch")

	// ErrInvalidDuration 超时时长为负
	ErrInvalidDuration = errors.New("poller: negative duration")
)

// Backend 是 reactor 依赖的原生事件通知能力。
// 所有方法（Stop 除外）只能在拥有该后端的 goroutine 上调用；回调也在 Run 所在 goroutine 上执行。
type Backend interface {
	// WatchReadable 注册持久的可读监听，每次就绪都会回调，直到 Cancel。
	WatchReadable(fd int, fn func()) (*Watch, error)
	// WatchWritable 注册持久的可写监听。
	WatchWritable(fd int, fn func()) (*Watch, error)
	// WatchSignal 注册持久的信号监听，每次投递回调一次。
	WatchSignal(sig syscall.Signal, fn func()) (*Watch, error)
	// WatchTimeout 注册一次性超时；触发后 watch 即被消费。
	WatchTimeout(d time.Duration, fn func()) (*Watch, error)
	// Rearm 以新的时长重新挂载同一个超时 watch（无论其是否已触发）。
	Rearm(w *Watch, d time.Duration) error
	// Cancel 取消 watch；watch 已不存活时返回 false。
	Cancel(w *Watch) bool
	// Run 阻塞分发事件，直到 done 返回 true 或不再有任何存活的 watch。
	// done 在每次 wait 之前和每批分发之后检查，为 nil 时只在 watch 集合为空时返回。
	// 后端不保存停止状态，是否停止完全由调用方的 done 决定。
	Run(done func() bool) error
	// Wake 打断正在阻塞的 wait，使 Run 尽快重新检查 done；可跨 goroutine 调用。
	Wake()
	// Close 释放原生资源。
	Close() error
}

// Kind 区分 watch 的原生注册类型。
type Kind uint8

const (
	KindReadable Kind = iota + 1
	KindWritable
	KindSignal
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindReadable:
		return "readable"
	case KindWritable:
		return "writable"
	case KindSignal:
		return "signal"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Watch 是一次后端注册的不透明句柄，由创建它的后端独占解释。
type Watch struct {
	kind Kind
	fd   int
	sig  syscall.Signal
	fn   func()

	live    bool
	pending bool // 已到期，回调尚未执行

	// 定时器状态
	deadline time.Time
	index    int // 在定时器堆中的位置，-1 表示不在堆中
}

func newWatch(kind Kind, fn func()) *Watch {
	return &Watch{kind: kind, fn: fn, index: -1}
}

// Kind 返回 watch 的注册类型。
func (w *Watch) Kind() Kind { return w.kind }

// Live 报告 watch 是否仍在后端中生效。一次性超时触发后为 false，直到 Rearm。
func (w *Watch) Live() bool { return w != nil && w.live }

// Options 为原生后端的构造参数。
type Options struct {
	EventBatch int // 单次 wait 最多取回的事件数
}

// DefaultOptions 返回一组可用的默认值。
func DefaultOptions() Options {
	return Options{EventBatch: 1024}
}

func (o Options) normalize() Options {
	if o.EventBatch <= 0 {
		o.EventBatch = DefaultOptions().EventBatch
	}
	return o
}

func stopRequested(done func() bool) bool { return done != nil && done() }
