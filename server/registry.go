package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"squarestorm/config"
	"squarestorm/logger"
	"squarestorm/protocol"
	"squarestorm/transport"
)

var (
	ErrRegistryFull          = errors.New("registry full")
	ErrUnexpectedFirstPacket = errors.New("first packet is not CONNECT")
	ErrNotRunning            = errors.New("server not running")
	ErrUnknownPlayer         = errors.New("unknown player")
)

// StepFunc 模拟扩展点：每个 Tick 在广播前调用一次，调用时已持有注册表锁和游戏状态锁。
// 移动积分、碰撞、复活、波次推进都在这里接入；实现中不能再调用 Server 的方法。
type StepFunc func(tick uint64, players map[uint32]*Connection, state *GameState)

// Server 权威会话服务器：注册表 + Tick 循环 + 数据包分发
type Server struct {
	cfg       config.Server
	framer    protocol.Framer
	sessionID string
	log       *zap.SugaredLogger

	// 注册表锁，保护 players / nextID / teams / pending
	mu       sync.Mutex
	players  map[uint32]*Connection
	nextID   uint32
	teams    map[uint32]protocol.TeamEntry
	readySig string
	ready    bool // 最近一次检查时所有玩家都已选队
	pending  map[transport.Transport]struct{}

	// 游戏状态锁；加锁顺序：先注册表锁，再游戏状态锁
	stateMu sync.Mutex
	state   GameState

	// Step 为 nil 时 Tick 只广播玩家位置，不做模拟
	Step StepFunc

	running   atomic.Bool
	listener  net.Listener
	httpLn    net.Listener
	httpSrv   *http.Server
	quit      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	startedAt time.Time
	tickSeq   atomic.Uint64
	metrics   *Metrics
}

// New 创建服务器（尚未监听）
func New(cfg config.Server) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := protocol.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	return &Server{
		cfg:       cfg,
		framer:    protocol.Framer{Codec: codec},
		sessionID: id,
		log:       logger.Named("server").With("session", id),
		players:   make(map[uint32]*Connection),
		nextID:    1,
		teams:     make(map[uint32]protocol.TeamEntry),
		pending:   make(map[transport.Transport]struct{}),
		state:     newGameState(),
		quit:      make(chan struct{}),
		metrics:   &Metrics{},
	}, nil
}

// Start 绑定端口并启动 accept 与 Tick 协程；绑定失败返回错误
func (s *Server) Start() error {
	select {
	case <-s.quit:
		return ErrNotRunning
	default:
	}
	if s.running.Load() {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		s.log.Errorw("listen failed", "addr", s.cfg.Addr(), "err", err)
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	}
	if s.cfg.HTTPAddr != "" {
		hl, err := net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			_ = ln.Close()
			s.log.Errorw("http listen failed", "addr", s.cfg.HTTPAddr, "err", err)
			return fmt.Errorf("listen %s: %w", s.cfg.HTTPAddr, err)
		}
		s.httpLn = hl
		s.httpSrv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	}

	s.listener = ln
	s.startedAt = time.Now()
	s.running.Store(true)

	s.wg.Add(2)
	go s.acceptLoop()
	go s.tickLoop()

	if s.httpSrv != nil {
		go func() {
			if err := s.httpSrv.Serve(s.httpLn); err != nil && err != http.ErrServerClosed {
				s.log.Errorw("http serve", "err", err)
			}
		}()
		s.log.Infof("http surface on %s (/ws /info /metrics /healthz)", s.httpLn.Addr())
	}
	s.log.Infow("server listening", "addr", ln.Addr().String(), "max_players", s.cfg.MaxPlayers,
		"tick_rate_hz", s.cfg.TickRateHz, "codec", s.framer.Codec.Name())
	return nil
}

// Stop 关闭监听与所有对端连接并等待后台协程退出；可重复调用
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.running.Store(false)
		close(s.quit)
		conns := make([]*Connection, 0, len(s.players))
		for _, c := range s.players {
			conns = append(conns, c)
		}
		pending := make([]transport.Transport, 0, len(s.pending))
		for t := range s.pending {
			pending = append(pending, t)
		}
		s.mu.Unlock()

		if s.listener != nil {
			err = multierr.Append(err, ignoreClosed(s.listener.Close()))
		}
		if s.httpSrv != nil {
			err = multierr.Append(err, s.httpSrv.Close())
		}
		for _, c := range conns {
			err = multierr.Append(err, ignoreClosed(c.close()))
		}
		for _, t := range pending {
			err = multierr.Append(err, ignoreClosed(t.Close()))
		}
		s.wg.Wait()
		s.log.Infow("server stopped", "uptime", time.Since(s.startedAt).Round(time.Second))
	})
	return err
}

// Addr 实际监听地址（端口配置为 0 时可用它拿到真实端口）
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HTTPAddr HTTP 监听地址，未开启时为 nil
func (s *Server) HTTPAddr() net.Addr {
	if s.httpLn == nil {
		return nil
	}
	return s.httpLn.Addr()
}

func (s *Server) Running() bool {
	return s.running.Load()
}

// Metrics 运行指标
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warnw("accept failed", "err", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		s.admit(transport.NewTCP(conn))
	}
}

// admit 人数已满时直接关闭新连接（不分配 id），否则启动对端协程
func (s *Server) admit(t transport.Transport) {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		_ = t.Close()
		return
	}
	if len(s.players) >= s.cfg.MaxPlayers {
		s.mu.Unlock()
		s.metrics.IncRegistryFull()
		s.log.Warnw("registry full, refusing connection", "remote", t.RemoteAddr(), "max_players", s.cfg.MaxPlayers)
		_ = t.Close()
		return
	}
	s.pending[t] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.servePeer(t)
}

func (s *Server) servePeer(t transport.Transport) {
	defer s.wg.Done()

	c, err := s.handshake(t)

	s.mu.Lock()
	delete(s.pending, t)
	s.mu.Unlock()

	if err != nil {
		switch {
		case errors.Is(err, ErrRegistryFull):
			s.metrics.IncRegistryFull()
			s.log.Warnw("registry full at handshake, refusing", "remote", t.RemoteAddr())
		case errors.Is(err, ErrUnexpectedFirstPacket):
			s.metrics.IncUnexpectedFirst()
			s.log.Warnw("dropping peer", "remote", t.RemoteAddr(), "err", err)
		default:
			s.log.Debugw("handshake aborted", "remote", t.RemoteAddr(), "err", err)
		}
		_ = t.Close()
		return
	}

	s.recvLoop(c)
	s.dropPlayer(c.ID, "connection closed")
}

// handshake 第一个包必须是 CONNECT；在锁内分配 id 并入表，随后发送 FULL_SYNC，
// 再向其他玩家广播 PLAYER_UPDATE
func (s *Server) handshake(t transport.Transport) (*Connection, error) {
	raw, err := t.ReadPacket()
	if err != nil {
		return nil, err
	}
	p, err := s.framer.Decode(raw)
	if err != nil {
		s.metrics.IncDropped(err)
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedFirstPacket, err)
	}
	if p.Kind != protocol.KindConnect {
		return nil, fmt.Errorf("%w: got %s", ErrUnexpectedFirstPacket, p.Kind)
	}
	hello, err := protocol.DecodePayload[protocol.ConnectPayload](p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedFirstPacket, err)
	}
	s.metrics.IncPacketsIn()

	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return nil, ErrNotRunning
	}
	if len(s.players) >= s.cfg.MaxPlayers {
		s.mu.Unlock()
		return nil, ErrRegistryFull
	}
	id := s.nextID
	s.nextID++
	c := newConnection(id, s.cleanName(hello.PlayerName, id), t)
	// FULL_SYNC 写完之前其他协程的广播都会在 writeMu 上等待，保证它是对端收到的第一个包
	c.writeMu.Lock()
	s.players[id] = c
	s.ready = false
	infos := s.playerInfosLocked()
	self := c.info()
	s.mu.Unlock()

	s.stateMu.Lock()
	world := s.state.world()
	s.stateMu.Unlock()

	b, err := s.framer.FullSync(id, infos, world)
	if err == nil {
		err = c.writeLocked(b)
	}
	c.writeMu.Unlock()
	if err != nil {
		s.dropPlayer(id, "full sync failed")
		return nil, fmt.Errorf("send full sync: %w", err)
	}
	s.metrics.AddSent(1, len(b))
	s.metrics.IncJoins()
	s.log.Infow("player joined", "player", id, "name", c.Name, "remote", c.Addr)

	if b, err := s.framer.PlayerUpdate(self); err == nil {
		s.Broadcast(b, id)
	}
	return c, nil
}

// cleanName 按字节上限截断（不截断半个 UTF-8 字符），空名使用 Player{id}
func (s *Server) cleanName(name string, id uint32) string {
	limit := s.cfg.NameLengthLimit
	if len(name) > limit {
		name = name[:limit]
		for len(name) > 0 && !utf8.ValidString(name) {
			name = name[:len(name)-1]
		}
	}
	if name == "" {
		name = fmt.Sprintf("Player%d", id)
	}
	return name
}

// Send 向单个玩家发送；写失败时连接被标记断开，不会重试
func (s *Server) Send(id uint32, b []byte) error {
	s.mu.Lock()
	c, ok := s.players[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPlayer, id)
	}
	return s.sendTo(c, b)
}

func (s *Server) sendTo(c *Connection, b []byte) error {
	if err := c.write(b); err != nil {
		if !errors.Is(err, errPeerClosed) {
			s.log.Debugw("send failed", "player", c.ID, "err", err)
		}
		return err
	}
	s.metrics.AddSent(1, len(b))
	return nil
}

// Broadcast 发送给所有在线玩家，exclude 为 0 表示不排除任何人；返回成功发送的数量。
// 不同对端之间不保证顺序，单个对端内按发送顺序到达。
func (s *Server) Broadcast(b []byte, exclude uint32) int {
	n := 0
	for _, c := range s.connectedPeers(exclude) {
		if s.sendTo(c, b) == nil {
			n++
		}
	}
	return n
}

func (s *Server) connectedPeers(exclude uint32) []*Connection {
	s.mu.Lock()
	out := make([]*Connection, 0, len(s.players))
	for id, c := range s.players {
		if id != exclude && c.Connected() {
			out = append(out, c)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// dropPlayer 从注册表移除并广播 DISCONNECT；重复调用无副作用
func (s *Server) dropPlayer(id uint32, reason string) {
	s.mu.Lock()
	c, ok := s.players[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.players, id)
	_, hadTeam := s.teams[id]
	delete(s.teams, id)
	s.ready = false
	teams := copyTeams(s.teams)
	remaining := len(s.players)
	s.mu.Unlock()

	_ = c.close()
	s.metrics.IncLeaves()
	s.log.Infow("player left", "player", id, "name", c.Name, "reason", reason, "remaining", remaining)

	if b, err := s.framer.Disconnect(id); err == nil {
		s.Broadcast(b, 0)
	}
	if hadTeam {
		if b, err := s.framer.TeamStatus(teams); err == nil {
			s.Broadcast(b, 0)
		}
	}
}

// 调用方需持有注册表锁
func (s *Server) playerInfosLocked() []protocol.PlayerInfo {
	out := make([]protocol.PlayerInfo, 0, len(s.players))
	for _, c := range s.players {
		out = append(out, c.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// 调用方需持有注册表锁
func (s *Server) playerStatesLocked() []protocol.PlayerState {
	out := make([]protocol.PlayerState, 0, len(s.players))
	for _, c := range s.players {
		if c.Connected() {
			out = append(out, c.state())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Players 当前注册表中的玩家（按 id 排序）
func (s *Server) Players() []PlayerSnapshot {
	s.mu.Lock()
	out := make([]PlayerSnapshot, 0, len(s.players))
	for _, c := range s.players {
		out = append(out, c.snapshot())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ServerInfo 服务器概况
type ServerInfo struct {
	SessionID        string  `json:"session_id"`
	Address          string  `json:"address"`
	PlayersConnected int     `json:"players_connected"`
	MaxPlayers       int     `json:"max_players"`
	TickRateHz       int     `json:"tick_rate_hz"`
	Tick             uint64  `json:"tick"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	Running          bool    `json:"running"`
	Codec            string  `json:"codec"`
}

// Info 对应 get_server_info
func (s *Server) Info() ServerInfo {
	s.mu.Lock()
	n := len(s.players)
	s.mu.Unlock()
	info := ServerInfo{
		SessionID:        s.sessionID,
		PlayersConnected: n,
		MaxPlayers:       s.cfg.MaxPlayers,
		TickRateHz:       s.cfg.TickRateHz,
		Tick:             s.tickSeq.Load(),
		Running:          s.running.Load(),
		Codec:            s.framer.Codec.Name(),
	}
	if addr := s.Addr(); addr != nil {
		info.Address = addr.String()
	}
	if !s.startedAt.IsZero() {
		info.UptimeSeconds = time.Since(s.startedAt).Seconds()
	}
	return info
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
