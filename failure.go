package reactor

import (
	"fmt"

	"go.uber.org/zap"
)

// DefaultExitCode 是回调失败时进程的退出码。
const DefaultExitCode = 250

// FailurePolicy 决定回调 panic 后的处理方式。
type FailurePolicy uint8

const (
	// FailFast 记录错误后立即以 exitCode 终止进程（默认）。
	FailFast FailurePolicy = iota
	// Supervise 记录错误后继续循环。
	Supervise
)

func (p FailurePolicy) String() string {
	switch p {
	case FailFast:
		return "exit"
	case Supervise:
		return "supervise"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", uint8(p))
	}
}

// ParseFailurePolicy 解析配置中的策略名。
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "", "exit", "fail-fast":
		return FailFast, nil
	case "supervise", "continue":
		return Supervise, nil
	}
	return FailFast, fmt.Errorf("%w: unknown failure policy %q", ErrInvalidConfig, s)
}

// invoke 执行用户回调。调用前事件表必须已处于一致状态。
func (r *Reactor) invoke(kind Kind, key int, fn func()) {
	if r.failed.Load() {
		return
	}
	defer func() {
		if v := recover(); v != nil {
			r.fail(kind, key, v)
		}
	}()
	fn()
}

func (r *Reactor) fail(kind Kind, key int, v any) {
	fields := []zap.Field{
		zap.Stringer("kind", kind),
		zap.Int("key", key),
		zap.Any("panic", v),
		zap.StackSkip("stack", 2),
	}
	if r.policy == Supervise {
		r.log.Error("reactor: callback failed, continuing", fields...)
		return
	}
	r.log.Error("reactor: callback failed, terminating", append(fields, zap.Int("exit_code", r.exitCode))...)
	_ = r.log.Sync()
	r.failed.Store(true)
	r.exit(r.exitCode)
	// 仅当 exit 被替换且返回时才会走到这里
	r.Stop()
}
