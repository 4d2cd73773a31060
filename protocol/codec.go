package protocol

import (
	"fmt"
)

// Message 是一条解码后的消息。
type Message struct {
	API     uint16
	Payload []byte
}

// Encoder 编码单帧。compress 为真且 payload 不短于 MinCompress 时压缩 body。
type Encoder struct {
	MinCompress int
}

func NewEncoder(minCompress int) *Encoder { return &Encoder{MinCompress: minCompress} }

// Append 把一帧追加到 dst 并返回新切片。
func (e *Encoder) Append(dst []byte, api uint16, payload []byte, compress bool) ([]byte, error) {
	if len(payload) > MaxLength {
		return dst, ErrFrameTooLarge
	}
	compress = compress && len(payload) >= e.MinCompress
	body := payload
	if compress {
		zw := getEncoder()
		body = zw.EncodeAll(payload, nil)
		putEncoder(zw)
		if len(body) > MaxLength {
			return dst, ErrFrameTooLarge
		}
	}
	start := len(dst)
	dst = append(dst, make([]byte, HeaderSize)...)
	_ = PutHeader(dst[start:], len(body), compress)
	dst = AppendAPI(dst, api)
	return append(dst, body...), nil
}

// Encode 返回新分配的一帧。
func (e *Encoder) Encode(api uint16, payload []byte, compress bool) ([]byte, error) {
	return e.Append(make([]byte, 0, FrameOverhead+len(payload)), api, payload, compress)
}

// Decoder 是流式解码器：Feed 追加读到的字节，Next 逐帧取出。
// 未压缩消息的 Payload 引用内部缓冲，下一次 Feed 之前有效。
type Decoder struct {
	buf []byte
	off int
	max int
}

// NewDecoder 创建解码器；maxPayload <= 0 时使用 MaxLength。
func NewDecoder(maxPayload int) *Decoder {
	if maxPayload <= 0 || maxPayload > MaxLength {
		maxPayload = MaxLength
	}
	return &Decoder{max: maxPayload}
}

// Feed 追加数据。
func (d *Decoder) Feed(p []byte) {
	if d.off > 0 && d.off == len(d.buf) {
		d.buf = d.buf[:0]
		d.off = 0
	} else if d.off > cap(d.buf)/2 {
		// 已消费部分过半时整体前移
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, p...)
}

// Buffered 返回尚未解码的字节数。
func (d *Decoder) Buffered() int { return len(d.buf) - d.off }

// Next 解出下一帧；数据不足时返回 ok=false。
// 返回错误后流已不可恢复，调用方应断开连接。
func (d *Decoder) Next() (msg Message, ok bool, err error) {
	b := d.buf[d.off:]
	if len(b) < FrameOverhead {
		return Message{}, false, nil
	}
	length, compressed, err := ParseHeader(b)
	if err != nil {
		return Message{}, false, err
	}
	if length > d.max {
		return Message{}, false, fmt.Errorf("%w: body %d > %d", ErrFrameTooLarge, length, d.max)
	}
	if len(b) < FrameOverhead+length {
		return Message{}, false, nil
	}
	api, _ := ReadAPI(b[HeaderSize:])
	body := b[FrameOverhead : FrameOverhead+length : FrameOverhead+length]
	d.off += FrameOverhead + length
	if !compressed {
		return Message{API: api, Payload: body}, true, nil
	}
	dz := getDecoder()
	out, err := dz.DecodeAll(body, nil)
	putDecoder(dz)
	if err != nil {
		return Message{}, false, fmt.Errorf("protocol: decompress api %d: %w", api, err)
	}
	if len(out) > d.max {
		return Message{}, false, fmt.Errorf("%w: payload %d > %d", ErrFrameTooLarge, len(out), d.max)
	}
	return Message{API: api, Payload: out}, true, nil
}

// Reset 丢弃缓冲数据。
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.off = 0
}
