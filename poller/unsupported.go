//go:build !linux && !darwin

package poller

// New 在没有 epoll/kqueue 的平台上返回占位错误，Fake 后端仍可使用。
func New(opts Options) (Backend, error) {
	_ = opts
	return nil, ErrPlatformNotSupported
}
