package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

const (
	// HeaderSize 长度前缀字节数（大端无符号 32 位）
	HeaderSize = 4
	// MaxFrameSize 单帧上限，超过即拒绝且不分配内存
	MaxFrameSize = 10 * 1024 * 1024
)

var (
	ErrNoMessage     = errors.New("protocol: no message ready")
	ErrIncomplete    = errors.New("protocol: incomplete frame")
	ErrFrameTooLarge = errors.New("protocol: frame exceeds size limit")
	ErrEmptyFrame    = errors.New("protocol: zero-length frame")
	ErrConnClosed    = errors.New("protocol: connection closed")
)

// Recoverable 判断读循环是否可以继续：只有“暂无消息”可以
func Recoverable(err error) bool {
	return errors.Is(err, ErrNoMessage)
}

// Droppable 长度非法的单条消息：读取器已越过该帧，流仍同步，可丢弃后继续
func Droppable(err error) bool {
	return errors.Is(err, ErrEmptyFrame) || errors.Is(err, ErrFrameTooLarge)
}

func checkLength(n uint32) error {
	if n == 0 {
		return ErrEmptyFrame
	}
	if n > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	return nil
}

// EncodeFrame 生成 长度前缀 + 消息体 的完整帧
func EncodeFrame(body []byte) ([]byte, error) {
	if len(body) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	if err := checkLength(uint32(len(body))); err != nil {
		return nil, err
	}
	buf := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[HeaderSize:], body)
	return buf, nil
}

// WriteFrame 一次 Write 写出整帧，避免并发写交错
func WriteFrame(w io.Writer, body []byte) error {
	frame, err := EncodeFrame(body)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ParseFrame 从缓冲区解析一帧。数据不足时返回 ErrIncomplete
func ParseFrame(buf []byte) (body []byte, consumed int, err error) {
	if len(buf) < HeaderSize {
		return nil, 0, ErrIncomplete
	}
	n := binary.BigEndian.Uint32(buf)
	if err := checkLength(n); err != nil {
		return nil, 0, err
	}
	total := HeaderSize + int(n)
	if len(buf) < total {
		return nil, 0, ErrIncomplete
	}
	return buf[HeaderSize:total], total, nil
}

// FrameReader 在读超时之间保留半帧状态，短超时不会让流失去同步
type FrameReader struct {
	r    io.Reader
	hdr  [HeaderSize]byte
	hn   int
	body []byte
	bn   int
	skip int64 // 超长帧尚未丢弃的字节数
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// ReadFrame 读取下一帧消息体。
// 超时返回 ErrNoMessage（已读部分保留）；长度为 0 或超限返回 ErrEmptyFrame / ErrFrameTooLarge，
// 该帧被越过（超长帧的消息体在后续调用中丢弃，不分配内存）；其余错误表示连接不可再用。
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	for fr.skip > 0 {
		n, err := io.CopyN(io.Discard, fr.r, fr.skip)
		fr.skip -= n
		if err != nil && fr.skip > 0 {
			return nil, classify(err)
		}
	}
	for fr.hn < HeaderSize {
		n, err := fr.r.Read(fr.hdr[fr.hn:])
		fr.hn += n
		if err != nil && fr.hn < HeaderSize {
			return nil, classify(err)
		}
	}
	if fr.body == nil {
		n := binary.BigEndian.Uint32(fr.hdr[:])
		if err := checkLength(n); err != nil {
			fr.hn = 0
			if n > MaxFrameSize {
				fr.skip = int64(n)
			}
			return nil, err
		}
		fr.body = make([]byte, n)
		fr.bn = 0
	}
	for fr.bn < len(fr.body) {
		n, err := fr.r.Read(fr.body[fr.bn:])
		fr.bn += n
		if err != nil && fr.bn < len(fr.body) {
			return nil, classify(err)
		}
	}
	body := fr.body
	fr.hn, fr.body, fr.bn = 0, nil, 0
	return body, nil
}

func classify(err error) error {
	if isTimeout(err) {
		return ErrNoMessage
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrConnClosed
	}
	return fmt.Errorf("%w: %v", ErrConnClosed, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
