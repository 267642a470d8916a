package transport

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"squarestorm/protocol"
)

func TestTCPFramesPackets(t *testing.T) {
	a, b := net.Pipe()
	left, right := NewTCP(a), NewTCP(b)
	defer left.Close()
	defer right.Close()

	p1, _ := protocol.Default.Connect("Alice")
	p2, _ := protocol.Default.Ping(1.5)

	go func() {
		_ = left.WritePacket(p1)
		_ = left.WritePacket(p2)
	}()

	for _, want := range [][]byte{p1, p2} {
		got, err := right.ReadPacket()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestTCPCloseUnblocksRead(t *testing.T) {
	a, b := net.Pipe()
	left, right := NewTCP(a), NewTCP(b)

	done := make(chan error, 1)
	go func() {
		_, err := right.ReadPacket()
		done <- err
	}()
	_ = left.Close()
	if err := left.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected error after peer close")
		}
	case <-time.After(time.Second):
		t.Fatalf("read did not unblock")
	}
	_ = right.Close()
}

func TestDialTCPTimeout(t *testing.T) {
	// 10.255.255.1 在绝大多数环境下不可达，用极短超时验证错误返回
	_, err := DialTCP(context.Background(), "10.255.255.1:5555", 50*time.Millisecond)
	if err == nil {
		t.Skip("address unexpectedly reachable")
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(w, r)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			b, err := c.ReadPacket()
			if err != nil {
				return
			}
			if err := c.WritePacket(b); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, err := DialWebSocket(context.Background(), url, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	// 文本消息会被跳过
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("write text: %v", err)
	}
	p, _ := protocol.Default.TeamSelect(1, protocol.TeamT, "Alice")
	if err := c.WritePacket(p); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := c.ReadPacket()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, p) {
		t.Fatalf("echo mismatch: %q", got)
	}
}
