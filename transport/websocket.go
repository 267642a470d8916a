package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"squarestorm/protocol"
)

// WebSocket 每条二进制消息恰好承载一个完整数据包（帧头格式与 TCP 相同）
type WebSocket struct {
	ws *websocket.Conn

	closeOnce sync.Once
	closeErr  error
}

func NewWebSocket(ws *websocket.Conn) *WebSocket {
	ws.SetReadLimit(protocol.MaxPacketSize)
	return &WebSocket{ws: ws}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 局域网对战：允许所有来源
		return true
	},
}

// Upgrade 将 HTTP 请求升级为 WebSocket 传输
func Upgrade(w http.ResponseWriter, r *http.Request) (*WebSocket, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(ws), nil
}

// DialWebSocket 连接 ws:// 地址，timeout 作用于握手
func DialWebSocket(ctx context.Context, url string, timeout time.Duration) (*WebSocket, error) {
	d := websocket.Dialer{HandshakeTimeout: timeout}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ws, _, err := d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(ws), nil
}

// ReadPacket 读取下一条二进制消息，文本消息直接跳过
func (c *WebSocket) ReadPacket() ([]byte, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (c *WebSocket) WritePacket(b []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(WriteTimeout))
	return c.ws.WriteMessage(websocket.BinaryMessage, b)
}

// Close 尽力发送关闭帧后断开
func (c *WebSocket) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *WebSocket) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}
