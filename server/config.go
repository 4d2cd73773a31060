package server

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidConfig = errors.New("server: invalid config")
	ErrServerClosed  = errors.New("server: closed")
	ErrListening     = errors.New("server: already listening")
	ErrConnClosed    = errors.New("server: connection closed")
	ErrIdleTimeout   = errors.New("server: idle timeout")
	ErrSlowConsumer  = errors.New("server: outbound buffer limit exceeded")
)

// Handler 为业务回调，全部在 reactor 所在 goroutine 上执行。
type Handler interface {
	OnOpen(c *Conn)
	// OnMessage 的 msg 只在本次回调内有效
	OnMessage(c *Conn, api uint16, msg []byte)
	OnClose(c *Conn, err error)
}

// Duration 是可从 TOML 字符串（"30s"）解析的时长。
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Network   string `toml:"network"`
	Address   string `toml:"address"`
	ReusePort bool   `toml:"reuse_port"`
	Backlog   int    `toml:"backlog"`

	MaxPayload  int `toml:"max_payload"`  // 单帧 body 上限
	ReadBuffer  int `toml:"read_buffer"`  // 单次 read 的缓冲大小
	OutBuffer   int `toml:"out_buffer"`   // 发送缓冲初始容量
	OutLimit    int `toml:"out_limit"`    // 发送缓冲上限，超过即断开
	CompressMin int `toml:"compress_min"` // 不短于该长度的回包压缩，0 关闭

	IdleTimeout   Duration `toml:"idle_timeout"`   // 0 关闭
	StatsInterval Duration `toml:"stats_interval"` // 0 关闭
}

func DefaultConfig() Config {
	return Config{
		Network:       "tcp",
		Address:       ":18888",
		Backlog:       1024,
		MaxPayload:    1 << 20,
		ReadBuffer:    64 << 10,
		OutBuffer:     4 << 10,
		OutLimit:      4 << 20,
		IdleTimeout:   Duration(time.Minute),
		StatsInterval: Duration(10 * time.Second),
	}
}

func (c Config) Validate() error {
	switch c.Network {
	case "tcp", "tcp4", "tcp6":
	default:
		return fmt.Errorf("%w: unsupported network %q", ErrInvalidConfig, c.Network)
	}
	switch {
	case c.Backlog <= 0:
		return fmt.Errorf("%w: backlog must be positive", ErrInvalidConfig)
	case c.MaxPayload <= 0:
		return fmt.Errorf("%w: max_payload must be positive", ErrInvalidConfig)
	case c.ReadBuffer <= 0:
		return fmt.Errorf("%w: read_buffer must be positive", ErrInvalidConfig)
	case c.OutBuffer <= 0 || c.OutLimit < c.OutBuffer:
		return fmt.Errorf("%w: need 0 < out_buffer <= out_limit", ErrInvalidConfig)
	case c.CompressMin < 0:
		return fmt.Errorf("%w: compress_min must not be negative", ErrInvalidConfig)
	case c.IdleTimeout < 0 || c.StatsInterval < 0:
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	case c.IdleTimeout > 0 && c.IdleTimeout.Std() < time.Microsecond,
		c.StatsInterval > 0 && c.StatsInterval.Std() < time.Microsecond:
		return fmt.Errorf("%w: duration below timer resolution", ErrInvalidConfig)
	}
	return nil
}
