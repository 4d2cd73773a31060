// Package client 是分帧协议的阻塞式客户端。
package client

import (
	"net"
	"sync"
	"time"

	"github.com/legamerdc/reactor/protocol"
)

type options struct {
	dialTimeout time.Duration
	compressMin int
	maxPayload  int
	readBuffer  int
}

type Option func(*options)

// WithDialTimeout 设置建连超时，默认 5s。
func WithDialTimeout(d time.Duration) Option { return func(o *options) { o.dialTimeout = d } }

// WithCompression 对不短于 min 字节的消息启用 zstd 压缩。
func WithCompression(min int) Option { return func(o *options) { o.compressMin = min } }

// WithMaxPayload 限制接收帧大小。
func WithMaxPayload(n int) Option { return func(o *options) { o.maxPayload = n } }

type Client struct {
	conn net.Conn
	enc  *protocol.Encoder
	dec  *protocol.Decoder
	comp bool

	wmu  sync.Mutex
	wbuf []byte

	rmu sync.Mutex
	rb  []byte
}

func Dial(network, address string, opts ...Option) (*Client, error) {
	o := options{dialTimeout: 5 * time.Second, readBuffer: 64 << 10}
	for _, fn := range opts {
		fn(&o)
	}
	nc, err := net.DialTimeout(network, address, o.dialTimeout)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn: nc,
		enc:  protocol.NewEncoder(o.compressMin),
		dec:  protocol.NewDecoder(o.maxPayload),
		comp: o.compressMin > 0,
		rb:   make([]byte, o.readBuffer),
	}, nil
}

// Send 发送一条消息；可并发调用。
func (c *Client) Send(api uint16, msg []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	frame, err := c.enc.Append(c.wbuf[:0], api, msg, c.comp)
	c.wbuf = frame[:0]
	if err != nil {
		return err
	}
	_, err = c.conn.Write(frame)
	return err
}

// Recv 阻塞直到收到完整一帧。返回的 payload 归调用方所有。
func (c *Client) Recv() (protocol.Message, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	for {
		m, ok, err := c.dec.Next()
		if err != nil {
			return protocol.Message{}, err
		}
		if ok {
			m.Payload = append([]byte(nil), m.Payload...)
			return m, nil
		}
		n, err := c.conn.Read(c.rb)
		if n > 0 {
			c.dec.Feed(c.rb[:n])
			continue
		}
		if err != nil {
			return protocol.Message{}, err
		}
	}
}

// SetDeadline 设置后续 Send/Recv 的截止时间。
func (c *Client) SetDeadline(t time.Time) error { return c.conn.SetDeadline(t) }

func (c *Client) LocalAddr() net.Addr { return c.conn.LocalAddr() }

func (c *Client) Close() error { return c.conn.Close() }
