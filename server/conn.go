//go:build linux || darwin

package server

import (
	"net"
)

// Conn 是交给 Handler 的连接句柄。只能在回调所在 goroutine 上使用。
type Conn struct {
	ID   uint64
	Data any // 业务自定义状态

	runtime *connection
}

func (c *Conn) RemoteAddr() *net.TCPAddr { return c.runtime.remote }

// Write 编码一帧并放入发送缓冲，尽量立即写出；剩余部分等 fd 可写后继续。
// 达到 compress_min 的消息按配置压缩。
func (c *Conn) Write(msg []byte, api uint16) error {
	return c.runtime.write(api, msg)
}

// Buffered 返回尚未写出的字节数。
func (c *Conn) Buffered() int { return c.runtime.out.Len() }

// Close 尝试写出剩余数据后关闭连接，OnClose 收到 nil。
func (c *Conn) Close() error {
	rt := c.runtime
	if rt.closed {
		return ErrConnClosed
	}
	_ = rt.flush()
	rt.close(nil)
	return nil
}
