package server

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"squarestorm/protocol"
	"squarestorm/transport"
)

// StartingHealth 新玩家的初始血量
const StartingHealth = 5

var errPeerClosed = errors.New("peer connection closed")

// Connection 服务端的玩家连接记录，由注册表独占持有。
// 位置、血量、输入等字段受注册表锁保护；写出由 writeMu 串行化。
type Connection struct {
	ID   uint32
	Name string
	Addr string

	X      float64
	Y      float64
	Health int
	Alive  bool
	Score  int

	LastInput  Input
	LastPingAt time.Time

	transport transport.Transport
	writeMu   sync.Mutex
	connected atomic.Bool
}

func newConnection(id uint32, name string, t transport.Transport) *Connection {
	c := &Connection{
		ID:        id,
		Name:      name,
		Addr:      t.RemoteAddr(),
		Health:    StartingHealth,
		Alive:     true,
		LastInput: Input{Keys: map[string]bool{}},
		transport: t,
	}
	c.connected.Store(true)
	return c
}

// Connected 连接是否仍可写
func (c *Connection) Connected() bool {
	return c.connected.Load()
}

func (c *Connection) write(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(b)
}

// writeLocked 调用方需持有 writeMu；写失败即视为连接失效并关闭传输，
// 对端的接收协程随之退出并完成移除。
func (c *Connection) writeLocked(b []byte) error {
	if !c.connected.Load() {
		return errPeerClosed
	}
	if err := c.transport.WritePacket(b); err != nil {
		c.connected.Store(false)
		_ = c.transport.Close()
		return err
	}
	return nil
}

// close 先关闭传输以唤醒阻塞中的读写，再标记断开
func (c *Connection) close() error {
	err := c.transport.Close()
	c.connected.Store(false)
	return err
}

// 调用方需持有注册表锁
func (c *Connection) state() protocol.PlayerState {
	return protocol.PlayerState{ID: c.ID, X: c.X, Y: c.Y, Health: c.Health, Alive: c.Alive}
}

// 调用方需持有注册表锁
func (c *Connection) info() protocol.PlayerInfo {
	return protocol.PlayerInfo{ID: c.ID, Name: c.Name, X: c.X, Y: c.Y, Health: c.Health, Alive: c.Alive}
}

// PlayerSnapshot 对外暴露的只读玩家信息
type PlayerSnapshot struct {
	ID        uint32    `json:"id"`
	Name      string    `json:"name"`
	Addr      string    `json:"addr"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Health    int       `json:"health"`
	Alive     bool      `json:"alive"`
	Score     int       `json:"score"`
	Shooting  bool      `json:"shooting"`
	LastPing  time.Time `json:"last_ping"`
	Connected bool      `json:"connected"`
}

func (c *Connection) snapshot() PlayerSnapshot {
	return PlayerSnapshot{
		ID:        c.ID,
		Name:      c.Name,
		Addr:      c.Addr,
		X:         c.X,
		Y:         c.Y,
		Health:    c.Health,
		Alive:     c.Alive,
		Score:     c.Score,
		Shooting:  c.LastInput.Shooting,
		LastPing:  c.LastPingAt,
		Connected: c.connected.Load(),
	}
}
