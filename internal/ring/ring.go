package ring

import (
	"errors"
)

var ErrTooLarge = errors.New("ring: buffer limit exceeded")

// Buffer 是按 2 的幂扩容的环形字节缓冲，用作连接的待发送队列。
// 不做同步，只在 reactor 所在 goroutine 上使用。
type Buffer struct {
	buf      []byte
	mask     int
	readPos  int
	writePos int
	limit    int
}

// New 返回初始容量为 capacity、最多扩容到 limit 的缓冲，两者都向上取整到 2 的幂。
// limit 小于 capacity 时不扩容。
func New(capacity, limit int) *Buffer {
	c := pow2(capacity)
	l := pow2(limit)
	if l < c {
		l = c
	}
	return &Buffer{buf: make([]byte, c), mask: c - 1, limit: l}
}

func pow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (b *Buffer) Cap() int { return len(b.buf) }

func (b *Buffer) Len() int { return b.writePos - b.readPos }

func (b *Buffer) Free() int { return b.Cap() - b.Len() }

// Write 追加数据，空间不足时扩容；超过上限返回 ErrTooLarge 且不写入任何字节。
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) > b.Free() {
		if err := b.grow(b.Len() + len(p)); err != nil {
			return 0, err
		}
	}
	n := len(p)
	start := b.writePos & b.mask
	end := start + n
	if end <= len(b.buf) {
		copy(b.buf[start:end], p)
	} else {
		l := len(b.buf) - start
		copy(b.buf[start:], p[:l])
		copy(b.buf[:end-l], p[l:])
	}
	b.writePos += n
	return n, nil
}

func (b *Buffer) grow(need int) error {
	if need > b.limit {
		return ErrTooLarge
	}
	nb := make([]byte, pow2(need))
	n := b.copyTo(nb)
	b.buf = nb
	b.mask = len(nb) - 1
	b.readPos = 0
	b.writePos = n
	return nil
}

func (b *Buffer) copyTo(dst []byte) int {
	first := b.Head()
	n := copy(dst, first)
	if n < b.Len() {
		n += copy(dst[n:], b.buf[:b.Len()-n])
	}
	return n
}

// Head 返回从读指针开始的第一段连续数据，不拷贝；回绕时只含尾部一段。
func (b *Buffer) Head() []byte {
	ln := b.Len()
	if ln == 0 {
		return nil
	}
	start := b.readPos & b.mask
	end := start + ln
	if end > len(b.buf) {
		end = len(b.buf)
	}
	return b.buf[start:end]
}

// Peek 读取最多 n 字节但不前进读指针。
func (b *Buffer) Peek(n int) []byte {
	if n <= 0 {
		return nil
	}
	if ln := b.Len(); n > ln {
		n = ln
	}
	if head := b.Head(); len(head) >= n {
		return head[:n]
	}
	// 分段视图需要拷贝为连续切片
	out := make([]byte, b.Len())
	b.copyTo(out)
	return out[:n]
}

// Discard 前进读指针；读空后复位到起点。
func (b *Buffer) Discard(n int) int {
	if ln := b.Len(); n > ln {
		n = ln
	}
	b.readPos += n
	if b.readPos == b.writePos {
		b.Reset()
	}
	return n
}

func (b *Buffer) Reset() {
	b.readPos = 0
	b.writePos = 0
}
