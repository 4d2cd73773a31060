//go:build linux || darwin

// Package server 是跑在单个 reactor 上的分帧 TCP 服务：
// 监听与连接用可读/可写事件驱动，空闲检测用一次性超时，统计用周期定时器，
// 退出信号通过信号事件停止循环。
package server

import (
	"net"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/legamerdc/reactor"
	"github.com/legamerdc/reactor/internal/netutil"
	"github.com/legamerdc/reactor/protocol"
)

// statsTimer 是统计定时器在 Interval 表中的 id
const statsTimer = 0

// Stats 是服务的累计计数。
type Stats struct {
	Accepted    uint64
	Closed      uint64
	BytesIn     uint64
	BytesOut    uint64
	MessagesIn  uint64
	MessagesOut uint64
}

type Server struct {
	cfg Config
	h   Handler
	r   *reactor.Reactor
	log *zap.Logger

	lfd   int
	addr  *net.TCPAddr
	conns map[int]*connection
	sigs  []syscall.Signal

	nextID  uint64
	enc     *protocol.Encoder
	readBuf []byte
	scratch []byte
	stats   Stats
	closed  bool
}

// New 构造未监听的 Server；所有方法都必须在 r 的属主 goroutine 上调用。
func New(r *reactor.Reactor, cfg Config, h Handler, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		h:       h,
		r:       r,
		log:     logger.Named("server"),
		lfd:     -1,
		conns:   make(map[int]*connection),
		enc:     protocol.NewEncoder(cfg.CompressMin),
		readBuf: make([]byte, cfg.ReadBuffer),
	}, nil
}

// Listen 打开监听 fd 并注册到 reactor；开启统计时同时挂上周期定时器。
func (s *Server) Listen() error {
	if s.closed {
		return ErrServerClosed
	}
	if s.lfd >= 0 {
		return ErrListening
	}
	lfd, err := netutil.Listen(s.cfg.Network, s.cfg.Address, s.cfg.ReusePort, s.cfg.Backlog)
	if err != nil {
		return err
	}
	if err := s.r.AddRead(lfd, s.onAccept); err != nil {
		unix.Close(lfd)
		return err
	}
	if every := s.cfg.StatsInterval.Std(); every > 0 {
		if err := s.r.AddInterval(statsTimer, every, s.onStats); err != nil {
			s.r.DelRead(lfd)
			unix.Close(lfd)
			return err
		}
	}
	s.lfd = lfd
	s.addr, _ = netutil.LocalAddr(lfd)
	s.log.Info("listening", zap.Stringer("addr", s.addr))
	return nil
}

// Addr 返回实际监听地址（端口为 0 时由内核分配）。
func (s *Server) Addr() *net.TCPAddr { return s.addr }

// Len 返回当前连接数。
func (s *Server) Len() int { return len(s.conns) }

func (s *Server) Stats() Stats { return s.stats }

// StopOn 在收到任一信号时关闭服务并停止 reactor。
func (s *Server) StopOn(sigs ...syscall.Signal) error {
	for _, sig := range sigs {
		if err := s.r.AddSignal(sig, s.onSignal); err != nil {
			return err
		}
		s.sigs = append(s.sigs, sig)
	}
	return nil
}

// Shutdown 关闭监听与全部连接并撤销本服务注册的所有事件；幂等。
func (s *Server) Shutdown() {
	if s.closed {
		return
	}
	s.closed = true
	if s.lfd >= 0 {
		s.r.DelRead(s.lfd)
		unix.Close(s.lfd)
		s.lfd = -1
	}
	s.r.DelInterval(statsTimer)
	for _, c := range s.conns {
		c.close(ErrServerClosed)
	}
	for _, sig := range s.sigs {
		s.r.DelSignal(sig)
	}
	s.sigs = nil
	s.log.Info("shutdown", s.statFields()...)
}

func (s *Server) onAccept(lfd int) {
	for {
		fd, sa, err := accept(lfd)
		if err != nil {
			switch err {
			case unix.EAGAIN, unix.EINTR, unix.ECONNABORTED:
			default:
				s.log.Warn("accept failed", zap.Error(err))
			}
			return
		}
		s.open(fd, netutil.SockaddrToTCPAddr(sa))
	}
}

func (s *Server) open(fd int, remote *net.TCPAddr) {
	_ = netutil.SetNoDelay(fd, true)
	s.nextID++
	c := newConnection(fd, s.nextID, remote, s)
	if err := s.r.AddRead(fd, s.onReadable); err != nil {
		s.log.Warn("register conn failed", zap.Int("fd", fd), zap.Error(err))
		unix.Close(fd)
		return
	}
	if idle := s.cfg.IdleTimeout.Std(); idle > 0 {
		if err := s.r.AddTimeout(fd, idle, s.onIdle); err != nil {
			s.r.DelRead(fd)
			unix.Close(fd)
			s.log.Warn("register idle timer failed", zap.Int("fd", fd), zap.Error(err))
			return
		}
	}
	s.conns[fd] = c
	s.stats.Accepted++
	s.log.Debug("conn open", zap.Uint64("id", c.api.ID), zap.Stringer("remote", remote))
	s.h.OnOpen(&c.api)
}

// 以下回调按 fd 查连接；连接已关闭时 fd 可能被复用，查不到即忽略。

func (s *Server) onReadable(fd int) {
	if c, ok := s.conns[fd]; ok {
		c.onReadable()
	}
}

func (s *Server) onWritable(fd int) {
	if c, ok := s.conns[fd]; ok {
		c.onWritable()
	}
}

func (s *Server) onIdle(fd int) {
	if c, ok := s.conns[fd]; ok {
		c.onIdle()
	}
}

func (s *Server) onStats(int) {
	s.log.Info("stats", s.statFields()...)
}

func (s *Server) onSignal(sig syscall.Signal) {
	s.log.Info("signal received, stopping", zap.Stringer("signal", sig))
	s.Shutdown()
	s.r.Stop()
}

func (s *Server) statFields() []zap.Field {
	return []zap.Field{
		zap.Int("conns", len(s.conns)),
		zap.Uint64("accepted", s.stats.Accepted),
		zap.Uint64("closed", s.stats.Closed),
		zap.Uint64("bytes_in", s.stats.BytesIn),
		zap.Uint64("bytes_out", s.stats.BytesOut),
		zap.Uint64("msgs_in", s.stats.MessagesIn),
		zap.Uint64("msgs_out", s.stats.MessagesOut),
	}
}
