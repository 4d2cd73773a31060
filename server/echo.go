//go:build linux || darwin

package server

import "go.uber.org/zap"

// Echo 把每条消息按原 api 回写给发送方。
type Echo struct {
	Log *zap.Logger
}

func (e Echo) OnOpen(c *Conn) {
	if e.Log != nil {
		e.Log.Info("echo: open", zap.Uint64("id", c.ID), zap.Stringer("remote", c.RemoteAddr()))
	}
}

func (e Echo) OnMessage(c *Conn, api uint16, msg []byte) {
	if err := c.Write(msg, api); err != nil && e.Log != nil {
		e.Log.Warn("echo: write failed", zap.Uint64("id", c.ID), zap.Error(err))
	}
}

func (e Echo) OnClose(c *Conn, err error) {
	if e.Log != nil {
		e.Log.Info("echo: close", zap.Uint64("id", c.ID), zap.Error(err))
	}
}
