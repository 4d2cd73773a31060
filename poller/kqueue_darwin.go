//go:build darwin

package poller

import (
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

// kqueueDemux 对读写两个方向分别注册过滤器，唤醒用管道。
type kqueueDemux struct {
	kq  int
	rfd int // 读端，注册到 kqueue
	wfd int // 写端，用于唤醒
	raw []unix.Kevent_t
}

func newDemux() (demux, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("poller: kqueue: %w", err)
	}
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		unix.Close(kq)
		return nil, fmt.Errorf("poller: pipe: %w", err)
	}
	rfd, wfd := p[0], p[1]
	_ = unix.SetNonblock(rfd, true)
	_ = unix.SetNonblock(wfd, true)
	unix.CloseOnExec(rfd)
	unix.CloseOnExec(wfd)
	kev := unix.Kevent_t{
		Ident:  uint64(rfd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD,
	}
	if _, err := unix.Kevent(kq, []unix.Kevent_t{kev}, nil, nil); err != nil {
		unix.Close(rfd)
		unix.Close(wfd)
		unix.Close(kq)
		return nil, fmt.Errorf("poller: kevent add pipe: %w", err)
	}
	return &kqueueDemux{kq: kq, rfd: rfd, wfd: wfd}, nil
}

func (k *kqueueDemux) control(fd int, old, next interest) error {
	var changes []unix.Kevent_t
	diff := func(bit interest, filter int16) {
		switch {
		case old&bit == 0 && next&bit != 0:
			changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: unix.EV_ADD})
		case old&bit != 0 && next&bit == 0:
			changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: unix.EV_DELETE})
		}
	}
	diff(wantRead, unix.EVFILT_READ)
	diff(wantWrite, unix.EVFILT_WRITE)
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(k.kq, changes, nil, nil)
	return err
}

func (k *kqueueDemux) wait(events []readyEvent, timeout time.Duration) (int, error) {
	defer runtime.KeepAlive(k)
	if cap(k.raw) < len(events) {
		k.raw = make([]unix.Kevent_t, len(events))
	}
	raw := k.raw[:len(events)]
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}
	n, err := unix.Kevent(k.kq, nil, raw, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	out := 0
	for i := 0; i < n; i++ {
		ev := raw[i]
		fd := int(ev.Ident)
		if fd == k.rfd {
			k.drain()
			continue
		}
		re := readyEvent{fd: fd}
		switch ev.Filter {
		case unix.EVFILT_READ:
			re.readable = true
		case unix.EVFILT_WRITE:
			re.writable = true
		}
		events[out] = re
		out++
	}
	return out, nil
}

func (k *kqueueDemux) drain() {
	buf := make([]byte, 16)
	for {
		_, err := unix.Read(k.rfd, buf)
		if err != nil {
			return
		}
	}
}

func (k *kqueueDemux) wake() error {
	var b [1]byte
	b[0] = 1
	_, err := unix.Write(k.wfd, b[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (k *kqueueDemux) close() error {
	unix.Close(k.rfd)
	unix.Close(k.wfd)
	return unix.Close(k.kq)
}
