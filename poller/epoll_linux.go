//go:build linux

package poller

import (
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

// epollDemux 使用水平触发的 epoll，唤醒用 eventfd。
type epollDemux struct {
	efd int
	wfd int // eventfd for wakeup
	raw []unix.EpollEvent
}

func newDemux() (demux, error) {
	efd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("poller: epoll create: %w", err)
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(efd)
		return nil, fmt.Errorf("poller: eventfd: %w", err)
	}
	// 注册 wakeup fd
	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wfd)}
	if err := unix.EpollCtl(efd, unix.EPOLL_CTL_ADD, wfd, ev); err != nil {
		unix.Close(wfd)
		unix.Close(efd)
		return nil, fmt.Errorf("poller: epoll ctl add eventfd: %w", err)
	}
	return &epollDemux{efd: efd, wfd: wfd}, nil
}

func epollFlags(i interest) uint32 {
	var flag uint32
	if i&wantRead != 0 {
		flag |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if i&wantWrite != 0 {
		flag |= unix.EPOLLOUT
	}
	return flag
}

func (e *epollDemux) control(fd int, old, next interest) error {
	switch {
	case next == 0:
		if old == 0 {
			return nil
		}
		return unix.EpollCtl(e.efd, unix.EPOLL_CTL_DEL, fd, nil)
	case old == 0:
		ev := &unix.EpollEvent{Events: epollFlags(next), Fd: int32(fd)}
		return unix.EpollCtl(e.efd, unix.EPOLL_CTL_ADD, fd, ev)
	default:
		ev := &unix.EpollEvent{Events: epollFlags(next), Fd: int32(fd)}
		return unix.EpollCtl(e.efd, unix.EPOLL_CTL_MOD, fd, ev)
	}
}

func (e *epollDemux) wait(events []readyEvent, timeout time.Duration) (int, error) {
	defer runtime.KeepAlive(e)
	if cap(e.raw) < len(events) {
		e.raw = make([]unix.EpollEvent, len(events))
	}
	raw := e.raw[:len(events)]
	n, err := unix.EpollWait(e.efd, raw, waitMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	out := 0
	for i := 0; i < n; i++ {
		ev := raw[i]
		fd := int(ev.Fd)
		if fd == e.wfd {
			e.drain()
			continue
		}
		re := readyEvent{fd: fd}
		if ev.Events&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP) != 0 {
			re.readable = true
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			re.writable = true
		}
		// 错误与挂断同时通知两个方向，由回调在读写时拿到具体错误
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			re.readable = true
			re.writable = true
		}
		events[out] = re
		out++
	}
	return out, nil
}

// drain 清空 eventfd
func (e *epollDemux) drain() {
	var buf [8]byte
	for {
		_, err := unix.Read(e.wfd, buf[:])
		if err != nil {
			return
		}
	}
}

func (e *epollDemux) wake() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(e.wfd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (e *epollDemux) close() error {
	unix.Close(e.wfd)
	return unix.Close(e.efd)
}
