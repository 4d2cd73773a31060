//go:build linux

package server

import (
	"golang.org/x/sys/unix"
)

// accept 取出一条已完成握手的连接，返回的 fd 已是非阻塞的。
func accept(lfd int) (int, unix.Sockaddr, error) {
	return unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}
