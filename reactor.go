// Package reactor 是单线程的事件反应器：把 fd 可读/可写、信号、周期定时与一次性超时
// 五类事件统一注册到一个 poller.Backend 上，并在 Run 所在 goroutine 上串行回调。
//
// 事件表按 (Kind, key) 记录每个存活的后端 watch：表中存在当且仅当 watch 存活。
// 周期定时器由一次性超时在蹦床中先重挂、后回调合成；一次性超时先出表、后回调。
//
// Reactor 不是并发安全的，除 Stop 外的方法都必须在拥有循环的 goroutine 上调用。
package reactor

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/legamerdc/reactor/poller"
)

// record 是一条事件表项。fd 与信号只持有 watch，回调由后端注册持有；
// 定时器额外持有用户回调与重挂间隔（Timeout 为 0）。
type record struct {
	watch    *poller.Watch
	fn       func(id int)
	interval int64 // 微秒，后端原生单位
}

// Reactor 是事件反应器实例，显式构造、显式传递。
type Reactor struct {
	backend poller.Backend
	events  [numKinds]map[int]*record

	state  atomic.Int32
	closed bool
	failed atomic.Bool

	log      *zap.Logger
	policy   FailurePolicy
	exitCode int
	exit     func(code int)

	owner ownerCheck
}

// Option 定制 Reactor。
type Option func(*Reactor)

// WithLogger 设置日志；默认不输出。
func WithLogger(l *zap.Logger) Option {
	return func(r *Reactor) {
		if l != nil {
			r.log = l
		}
	}
}

// WithFailurePolicy 设置回调 panic 时的处理策略，默认 FailFast。
func WithFailurePolicy(p FailurePolicy) Option {
	return func(r *Reactor) { r.policy = p }
}

// WithExitCode 设置 FailFast 时的进程退出码，默认 DefaultExitCode。
func WithExitCode(code int) Option {
	return func(r *Reactor) { r.exitCode = code }
}

// WithExitFunc 替换 FailFast 使用的退出函数（测试用）。
// 若该函数返回，循环会被停止且之后不再执行任何回调。
func WithExitFunc(fn func(code int)) Option {
	return func(r *Reactor) {
		if fn != nil {
			r.exit = fn
		}
	}
}

// WithOwnerCheck 开启属主 goroutine 检查：注册、删除与 Run 只允许在调用 New 的 goroutine 上进行。
func WithOwnerCheck() Option {
	return func(r *Reactor) { r.owner.bind() }
}

// New 基于给定后端构造 Reactor。后端由 Reactor 独占，Close 时一并关闭。
func New(b poller.Backend, opts ...Option) *Reactor {
	r := &Reactor{
		backend:  b,
		log:      zap.NewNop(),
		policy:   FailFast,
		exitCode: DefaultExitCode,
		exit:     os.Exit,
	}
	for i := range r.events {
		r.events[i] = make(map[int]*record)
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// State 返回当前生命周期状态。
func (r *Reactor) State() State { return State(r.state.Load()) }

// Has 报告 (kind, key) 是否已注册。
func (r *Reactor) Has(kind Kind, key int) bool {
	if !kind.valid() {
		return false
	}
	_, ok := r.events[kind][key]
	return ok
}

// Len 返回某类事件的注册数。
func (r *Reactor) Len(kind Kind) int {
	if !kind.valid() {
		return 0
	}
	return len(r.events[kind])
}

// Run 阻塞分发事件，直到 Stop 被调用或后端不再有任何 watch。
// 原生后端在 watch 集合为空时返回；Fake 后端在步骤耗尽时返回。
func (r *Reactor) Run() error {
	r.owner.check()
	if r.closed {
		return ErrClosed
	}
	if !r.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return ErrAlreadyRunning
	}
	defer r.state.Store(int32(Idle))
	if r.failed.Load() {
		return nil
	}
	r.log.Debug("reactor: loop start", r.sizeFields()...)
	err := r.backend.Run(r.stopping)
	if err != nil {
		r.log.Error("reactor: loop exited with error", zap.Error(err))
		return err
	}
	r.log.Debug("reactor: loop stop", r.sizeFields()...)
	return nil
}

// Stop 请求循环在下一个安全点返回；幂等，可在回调内或其它 goroutine 调用。
// 不会打断正在执行的回调。停止请求只记录在本次 Run 的状态里，
// Run 返回后到达的 Stop 不会影响下一次 Run。
func (r *Reactor) Stop() {
	if r.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		r.backend.Wake()
	}
}

// stopping 是交给后端的停止条件。
func (r *Reactor) stopping() bool { return r.State() == Stopping }

// Close 取消所有仍在表中的 watch（每个恰好一次）并关闭后端；幂等。
func (r *Reactor) Close() error {
	if r.closed {
		return nil
	}
	if r.State() != Idle {
		return ErrRunning
	}
	for k := range r.events {
		for key, rec := range r.events[k] {
			if !r.backend.Cancel(rec.watch) {
				r.log.Warn("reactor: teardown cancel failed",
					zap.Stringer("kind", Kind(k)), zap.Int("key", key))
			}
			delete(r.events[k], key)
		}
	}
	r.closed = true
	return r.backend.Close()
}

func (r *Reactor) sizeFields() []zap.Field {
	fields := make([]zap.Field, 0, numKinds)
	for k := range r.events {
		fields = append(fields, zap.Int(Kind(k).String(), len(r.events[k])))
	}
	return fields
}
