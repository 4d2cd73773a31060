package protocol

import (
	"encoding/binary"
	"errors"
)

// 帧头（4B，BE）：
//   bit31:     Compressed（body 为 zstd 帧）
//   bit30..29: 保留，必须为 0
//   bit28..0:  Len29，body 长度（不含 api）
// 帧 = 帧头 + Api(uint16, BE) + body

const (
	HeaderSize = 4
	APISize    = 2
	// FrameOverhead 是每帧固定开销
	FrameOverhead = HeaderSize + APISize

	MaxLength = (1 << 29) - 1

	flagCompressed = 1 << 31
	reservedMask   = 3 << 29
	lengthMask     = MaxLength
)

var (
	// ErrFrameTooLarge body 或解压后的 payload 超过上限
	ErrFrameTooLarge = errors.New("protocol: frame too large")
	// ErrCorruptHeader 保留位非零
	ErrCorruptHeader = errors.New("protocol: corrupt header")

	errHeaderTooShort = errors.New("protocol: header too short")
)

// PutHeader 把帧头写入 dst 前 4 字节。
func PutHeader(dst []byte, length int, compressed bool) error {
	if len(dst) < HeaderSize {
		return errHeaderTooShort
	}
	if length < 0 || length > MaxLength {
		return ErrFrameTooLarge
	}
	v := uint32(length)
	if compressed {
		v |= flagCompressed
	}
	binary.BigEndian.PutUint32(dst, v)
	return nil
}

// ParseHeader 解码帧头，返回 body 长度与压缩标志。
func ParseHeader(b []byte) (length int, compressed bool, _ error) {
	if len(b) < HeaderSize {
		return 0, false, errHeaderTooShort
	}
	v := binary.BigEndian.Uint32(b)
	if v&reservedMask != 0 {
		return 0, false, ErrCorruptHeader
	}
	return int(v & lengthMask), v&flagCompressed != 0, nil
}

// AppendAPI 将 api(uint16, BE) 追加到切片末尾。
func AppendAPI(dst []byte, api uint16) []byte {
	return binary.BigEndian.AppendUint16(dst, api)
}

// ReadAPI 从 b 前两个字节解析 api。
func ReadAPI(b []byte) (api uint16, _ error) {
	if len(b) < APISize {
		return 0, errHeaderTooShort
	}
	return binary.BigEndian.Uint16(b), nil
}
