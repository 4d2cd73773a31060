package reactor

import (
	"errors"
	"fmt"
)

var (
	// ErrRegistration 后端拒绝创建 watch（fd/信号非法、资源耗尽等）
	ErrRegistration = errors.New("reactor: registration failed")

	// ErrEventExists 同一 (kind, key) 已注册，需先删除
	ErrEventExists = errors.New("reactor: event already registered")

	// ErrNilCallback 回调为空
	ErrNilCallback = errors.New("reactor: nil callback")

	// ErrInvalidDuration 间隔必须至少 1µs，超时不能为负
	ErrInvalidDuration = errors.New("reactor: invalid duration")

	// ErrAlreadyRunning Run 重入或并发调用
	ErrAlreadyRunning = errors.New("reactor: loop is already running")

	// ErrRunning 循环运行中不能 Close
	ErrRunning = errors.New("reactor: loop is running")

	// ErrClosed reactor 已关闭
	ErrClosed = errors.New("reactor: closed")

	// ErrForeignGoroutine 开启属主检查时，从非属主 goroutine 调用
	ErrForeignGoroutine = errors.New("reactor: called from a goroutine that does not own the loop")

	// ErrInvalidConfig 配置非法
	ErrInvalidConfig = errors.New("reactor: invalid config")
)

// RegistrationError 描述一次失败的注册；事件表保持不变。
type RegistrationError struct {
	Kind Kind
	Key  int
	Err  error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("reactor: add %s %d: %v", e.Kind, e.Key, e.Err)
}

func (e *RegistrationError) Unwrap() []error { return []error{ErrRegistration, e.Err} }
