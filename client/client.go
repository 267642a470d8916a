package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"squarestorm/config"
	"squarestorm/logger"
	"squarestorm/protocol"
	"squarestorm/transport"
)

var (
	ErrConnectTimeout   = errors.New("connect timed out")
	ErrNotConnected     = errors.New("not connected")
	ErrNoPlayerID       = errors.New("player id not assigned yet")
	ErrAlreadyConnected = errors.New("client already used")
)

// RemotePlayer 其他玩家在本地的镜像：X/Y 为渲染位置，TargetX/TargetY 为最近一次服务器位置
type RemotePlayer struct {
	ID                uint32
	Name              string
	X                 float64
	Y                 float64
	TargetX           float64
	TargetY           float64
	Health            int
	Score             int
	Alive             bool
	InterpolationRate float64
}

type Position struct {
	X float64
	Y float64
}

// Client 会话客户端。一个 Client 只对应一次连接，断开后重新 New 即可重连。
//
// 锁：mu 保护玩家表、本地 id/位置、队伍表和延迟；stateMu 保护游戏状态；
// actionsMu 保护小游戏动作队列。同时持有时顺序为 mu → stateMu，actionsMu 不与其它锁嵌套。
type Client struct {
	cfg    config.Client
	framer protocol.Framer
	interp Interpolator
	log    *zap.SugaredLogger

	connMu    sync.Mutex // 保护 t 与 closed
	t         transport.Transport
	closed    bool
	writeMu   sync.Mutex
	started   atomic.Bool
	connected atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	mu         sync.Mutex
	localID    uint32
	hasLocalID bool
	localPos   Position
	remotes    map[uint32]*RemotePlayer
	teams      map[uint32]protocol.TeamEntry
	latencyMs  float64
	lastPingAt time.Time

	stateMu sync.Mutex
	state   protocol.WorldState

	actionsMu sync.Mutex
	actions   []protocol.Action

	events *eventQueue
}

// New 创建客户端（尚未连接）
func New(cfg config.Client) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := protocol.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:     cfg,
		framer:  protocol.Framer{Codec: codec},
		interp:  Interpolator{Rate: cfg.InterpolationRate, FrameRateHint: cfg.FrameRateHint},
		log:     logger.Named("client"),
		done:    make(chan struct{}),
		remotes: make(map[uint32]*RemotePlayer),
		teams:   make(map[uint32]protocol.TeamEntry),
		events:  newEventQueue(cfg.EventBuffer),
	}, nil
}

// Connect 在 ConnectTimeout 内连接服务器并发送 CONNECT；成功后启动接收协程。
// 配置了 WebSocketURL 时改走 WebSocket，host/port 被忽略。
func (c *Client) Connect(ctx context.Context, host string, port int, name string) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var (
		t   transport.Transport
		err error
	)
	if c.cfg.WebSocketURL != "" {
		addr = c.cfg.WebSocketURL
		t, err = transport.DialWebSocket(ctx, addr, c.cfg.ConnectTimeout)
	} else {
		t, err = transport.DialTCP(ctx, addr, c.cfg.ConnectTimeout)
	}
	if err != nil {
		c.markClosed()
		if isTimeout(err) {
			c.log.Warnw("connection timed out: check that the server is running and the firewall allows the port",
				"addr", addr, "timeout", c.cfg.ConnectTimeout)
			return fmt.Errorf("%w: %s", ErrConnectTimeout, addr)
		}
		c.log.Warnw("connect failed", "addr", addr, "err", err)
		return fmt.Errorf("connect %s: %w", addr, err)
	}

	hello, err := c.framer.Connect(name)
	if err == nil {
		err = t.WritePacket(hello)
	}
	if err != nil {
		_ = t.Close()
		c.markClosed()
		return fmt.Errorf("send connect: %w", err)
	}

	// 拨号期间已调用 Disconnect：丢弃新连接
	c.connMu.Lock()
	if c.closed {
		c.connMu.Unlock()
		_ = t.Close()
		c.log.Infow("connect abandoned after disconnect", "addr", addr)
		return ErrNotConnected
	}
	c.t = t
	c.connected.Store(true)
	c.connMu.Unlock()

	c.log.Infow("connected", "addr", addr, "name", name, "codec", c.framer.Codec.Name())
	c.events.push(Event{Type: EventConnected})
	go c.recvLoop(t)
	return nil
}

// markClosed 连接从未建立时结束事件流
func (c *Client) markClosed() {
	c.closeOnce.Do(func() {
		c.connMu.Lock()
		c.closed = true
		c.connMu.Unlock()
		close(c.done)
		c.events.closeWith(Event{Type: EventDisconnected})
	})
}

// Disconnect 已知本地 id 时先尽力发送 DISCONNECT，再关闭连接；可重复调用
func (c *Client) Disconnect() error {
	if !c.started.Load() {
		return nil
	}
	return c.shutdown(true, "local disconnect")
}

func (c *Client) shutdown(goodbye bool, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.connMu.Lock()
		c.closed = true
		t := c.t
		c.connected.Store(false)
		c.connMu.Unlock()

		if goodbye && t != nil {
			c.mu.Lock()
			id, ok := c.localID, c.hasLocalID
			c.mu.Unlock()
			if ok {
				if b, e := c.framer.Disconnect(id); e == nil {
					c.writeMu.Lock()
					if e := t.WritePacket(b); e != nil {
						c.log.Debugw("goodbye not delivered", "err", e)
					}
					c.writeMu.Unlock()
				}
			}
		}
		if t != nil {
			if e := t.Close(); e != nil && !errors.Is(e, net.ErrClosed) {
				err = e
			}
		}
		close(c.done)
		c.log.Infow("disconnected", "reason", reason)
		c.events.closeWith(Event{Type: EventDisconnected})
	})
	return err
}

// Done 连接结束后关闭
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Events 事件通道；断开事件之后通道关闭
func (c *Client) Events() <-chan Event {
	return c.events.ch
}

// DroppedEvents 因消费过慢被丢弃的事件数
func (c *Client) DroppedEvents() int {
	return c.events.droppedCount()
}

func (c *Client) recvLoop(t transport.Transport) {
	for {
		raw, err := t.ReadPacket()
		if err != nil {
			reason := "server closed connection"
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				reason = err.Error()
			}
			_ = c.shutdown(false, reason)
			return
		}
		p, err := c.framer.Decode(raw)
		if err != nil {
			c.log.Debugw("dropping packet", "err", err)
			continue
		}
		c.dispatch(p)
	}
}

func (c *Client) send(b []byte) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	err := c.t.WritePacket(b)
	c.writeMu.Unlock()
	if err != nil {
		c.log.Warnw("send failed", "err", err)
		_ = c.shutdown(false, "send failed")
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

func (c *Client) requireID() (uint32, error) {
	if !c.connected.Load() {
		return 0, ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasLocalID {
		return 0, ErrNoPlayerID
	}
	return c.localID, nil
}

// SendPlayerInput 发送本帧输入
func (c *Client) SendPlayerInput(keys map[string]bool, mouseX, mouseY int32, shooting bool) error {
	id, err := c.requireID()
	if err != nil {
		return err
	}
	b, err := c.framer.PlayerInput(protocol.InputPayload{
		PlayerID: id,
		Keys:     keys,
		MouseX:   mouseX,
		MouseY:   mouseY,
		Shooting: shooting,
	})
	if err != nil {
		return err
	}
	return c.send(b)
}

// SendPing 携带当前时间戳，收到 PONG 后更新延迟
func (c *Client) SendPing() error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	b, err := c.framer.Ping(protocol.Now())
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.lastPingAt = time.Now()
	c.mu.Unlock()
	return c.send(b)
}

func (c *Client) SendTeamSelection(team, name string) error {
	id, err := c.requireID()
	if err != nil {
		return err
	}
	b, err := c.framer.TeamSelect(id, team, name)
	if err != nil {
		return err
	}
	return c.send(b)
}

// SendMinigameAction 未携带 player_id 时自动补上本地 id
func (c *Client) SendMinigameAction(action protocol.Action) error {
	id, err := c.requireID()
	if err != nil {
		return err
	}
	b, err := c.framer.MinigameAction(id, action)
	if err != nil {
		return err
	}
	return c.send(b)
}

// SendGameStart 开局数据原样转发给其他玩家
func (c *Client) SendGameStart(data protocol.Action) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	b, err := c.framer.GameStart(data)
	if err != nil {
		return err
	}
	return c.send(b)
}

// UpdateInterpolation 每个渲染帧调用一次，让远程玩家向目标位置平滑移动
func (c *Client) UpdateInterpolation(dt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rp := range c.remotes {
		c.interp.Step(rp, dt)
	}
}

// RemotePlayers 远程玩家副本（按 id 排序），不含本地玩家
func (c *Client) RemotePlayers() []RemotePlayer {
	c.mu.Lock()
	out := make([]RemotePlayer, 0, len(c.remotes))
	for _, rp := range c.remotes {
		out = append(out, *rp)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Client) RemotePlayer(id uint32) (RemotePlayer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rp, ok := c.remotes[id]
	if !ok {
		return RemotePlayer{}, false
	}
	return *rp, true
}

// GameState 最近一次同步的游戏状态副本
func (c *Client) GameState() protocol.WorldState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return cloneWorld(c.state)
}

// MinigameActions 取出并清空已收到的小游戏动作，按到达顺序
func (c *Client) MinigameActions() []protocol.Action {
	c.actionsMu.Lock()
	out := c.actions
	c.actions = nil
	c.actionsMu.Unlock()
	if out == nil {
		return []protocol.Action{}
	}
	return out
}

// Latency 最近一次 PING 往返时间（毫秒）
func (c *Client) Latency() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latencyMs
}

// LastPingAt 最近一次发送 PING 的时间
func (c *Client) LastPingAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPingAt
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// LocalPlayerID 第一次 FULL_SYNC 之前返回 false
func (c *Client) LocalPlayerID() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localID, c.hasLocalID
}

// LocalPosition 服务器确认的本地玩家位置
func (c *Client) LocalPosition() Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localPos
}

func (c *Client) TeamStatus() map[uint32]protocol.TeamEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyTeams(c.teams)
}

func copyTeams(in map[uint32]protocol.TeamEntry) map[uint32]protocol.TeamEntry {
	out := make(map[uint32]protocol.TeamEntry, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneWorld(w protocol.WorldState) protocol.WorldState {
	return protocol.WorldState{
		Phase:   w.Phase,
		Wave:    w.Wave,
		Enemies: cloneEntities(w.Enemies),
		Bullets: cloneEntities(w.Bullets),
		Items:   cloneEntities(w.Items),
	}
}

func cloneEntities(in []protocol.Entity) []protocol.Entity {
	if in == nil {
		return nil
	}
	out := make([]protocol.Entity, len(in))
	for i, e := range in {
		cp := make(protocol.Entity, len(e))
		for k, v := range e {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
