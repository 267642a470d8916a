package transport

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"squarestorm/protocol"
)

// WriteTimeout 单个数据包的写超时，防止卡住的对端阻塞广播
const WriteTimeout = 5 * time.Second

// Transport 以"完整数据包"为单位收发的连接。
// ReadPacket 只允许单个协程调用；WritePacket 需由调用方串行化。
type Transport interface {
	ReadPacket() ([]byte, error)
	WritePacket(b []byte) error
	Close() error
	RemoteAddr() string
}

// TCP 长度前缀帧：每次读取一个 6 字节帧头 + 载荷
type TCP struct {
	conn net.Conn
	r    *bufio.Reader

	closeOnce sync.Once
	closeErr  error
}

func NewTCP(conn net.Conn) *TCP {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &TCP{conn: conn, r: bufio.NewReaderSize(conn, 8192)}
}

// DialTCP 在 timeout 内建立 TCP 连接
func DialTCP(ctx context.Context, addr string, timeout time.Duration) (*TCP, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewTCP(conn), nil
}

func (t *TCP) ReadPacket() ([]byte, error) {
	return protocol.ReadOne(t.r)
}

// WritePacket 一次性写出整个数据包
func (t *TCP) WritePacket(b []byte) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	_, err := t.conn.Write(b)
	return err
}

// Close 关闭底层连接，可重复调用
func (t *TCP) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

func (t *TCP) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
