//go:build linux || darwin

package server

import (
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/legamerdc/reactor/internal/ring"
	"github.com/legamerdc/reactor/protocol"
)

type connection struct {
	fd      int
	srv     *Server
	api     Conn
	remote  *net.TCPAddr
	dec     *protocol.Decoder
	out     *ring.Buffer
	writing bool // 已注册可写事件
	closed  bool

	lastActive time.Time
}

func newConnection(fd int, id uint64, remote *net.TCPAddr, s *Server) *connection {
	c := &connection{
		fd:         fd,
		srv:        s,
		remote:     remote,
		dec:        protocol.NewDecoder(s.cfg.MaxPayload),
		out:        ring.New(s.cfg.OutBuffer, s.cfg.OutLimit),
		lastActive: time.Now(),
	}
	c.api = Conn{ID: id, runtime: c}
	return c
}

func (c *connection) onReadable() {
	s := c.srv
	for !c.closed {
		n, err := unix.Read(c.fd, s.readBuf)
		if n > 0 {
			s.stats.BytesIn += uint64(n)
			c.lastActive = time.Now()
			c.dec.Feed(s.readBuf[:n])
			if err := c.dispatch(); err != nil {
				c.close(err)
				return
			}
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				return
			}
			c.close(err)
			return
		}
		if n == 0 {
			c.close(nil)
			return
		}
	}
}

func (c *connection) dispatch() error {
	for !c.closed {
		m, ok, err := c.dec.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		c.srv.stats.MessagesIn++
		c.srv.h.OnMessage(&c.api, m.API, m.Payload)
	}
	return nil
}

func (c *connection) write(api uint16, msg []byte) error {
	if c.closed {
		return ErrConnClosed
	}
	s := c.srv
	frame, err := s.enc.Append(s.scratch[:0], api, msg, s.cfg.CompressMin > 0)
	s.scratch = frame[:0]
	if err != nil {
		return err
	}
	if _, err := c.out.Write(frame); err != nil {
		if errors.Is(err, ring.ErrTooLarge) {
			err = ErrSlowConsumer
		}
		c.close(err)
		return err
	}
	s.stats.MessagesOut++
	if err := c.flush(); err != nil {
		c.close(err)
		return err
	}
	return nil
}

// flush 写出尽可能多的数据，并按剩余量开关可写事件。
func (c *connection) flush() error {
	for c.out.Len() > 0 {
		n, err := unix.Write(c.fd, c.out.Head())
		if n > 0 {
			c.out.Discard(n)
			c.srv.stats.BytesOut += uint64(n)
		}
		if err == unix.EAGAIN {
			break
		}
		if err != nil {
			return err
		}
	}
	switch {
	case c.out.Len() > 0 && !c.writing:
		if err := c.srv.r.AddWrite(c.fd, c.srv.onWritable); err != nil {
			return err
		}
		c.writing = true
	case c.out.Len() == 0 && c.writing:
		c.srv.r.DelWrite(c.fd)
		c.writing = false
	}
	return nil
}

func (c *connection) onWritable() {
	if err := c.flush(); err != nil {
		c.close(err)
	}
}

// onIdle 在空闲定时器到期时检查活跃时间，未到期则按剩余时长重新挂载。
func (c *connection) onIdle() {
	idle := c.srv.cfg.IdleTimeout.Std()
	elapsed := time.Since(c.lastActive)
	if elapsed >= idle {
		c.close(ErrIdleTimeout)
		return
	}
	if err := c.srv.r.AddTimeout(c.fd, idle-elapsed, c.srv.onIdle); err != nil {
		c.srv.log.Warn("server: rearm idle timer failed", zap.Int("fd", c.fd), zap.Error(err))
	}
}

func (c *connection) close(err error) {
	if c.closed {
		return
	}
	c.closed = true
	s := c.srv
	s.r.DelRead(c.fd)
	if c.writing {
		s.r.DelWrite(c.fd)
		c.writing = false
	}
	s.r.DelTimeout(c.fd)
	delete(s.conns, c.fd)
	if cerr := unix.Close(c.fd); cerr != nil {
		s.log.Debug("server: close fd", zap.Int("fd", c.fd), zap.Error(cerr))
	}
	s.stats.Closed++
	s.log.Debug("server: conn closed", zap.Uint64("id", c.api.ID), zap.Error(err))
	s.h.OnClose(&c.api, err)
}
