package server

import (
	"time"

	"squarestorm/protocol"
)

// GameState 服务端持有的游戏状态，只在 Tick 协程中修改
type GameState struct {
	Phase   string
	Wave    int
	Enemies []protocol.Entity
	Bullets []protocol.Entity
	Items   []protocol.Entity
}

func newGameState() GameState {
	return GameState{
		Phase:   "lobby",
		Enemies: []protocol.Entity{},
		Bullets: []protocol.Entity{},
		Items:   []protocol.Entity{},
	}
}

// world 调用方需持有游戏状态锁
func (g *GameState) world() protocol.WorldState {
	return protocol.WorldState{
		Phase:   g.Phase,
		Wave:    g.Wave,
		Enemies: cloneEntities(g.Enemies),
		Bullets: cloneEntities(g.Bullets),
		Items:   cloneEntities(g.Items),
	}
}

func cloneEntities(in []protocol.Entity) []protocol.Entity {
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

// TickInterval 每个 Tick 的时长（默认 20 TPS → 50ms）
func (s *Server) TickInterval() time.Duration {
	return time.Second / time.Duration(s.cfg.TickRateHz)
}

// tickLoop 单协程驱动，Tick 之间不会重叠
func (s *Server) tickLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.TickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			// 核心循环：模拟 → 快照 → 广播
			start := time.Now()
			s.tick()
			s.metrics.AddTick(time.Since(start).Nanoseconds())
		}
	}
}

// tick 每次完成的 Tick 恰好产生一次 GAME_STATE 广播
func (s *Server) tick() {
	seq := s.tickSeq.Add(1)

	s.mu.Lock()
	if s.Step != nil {
		s.stateMu.Lock()
		s.Step(seq, s.players, &s.state)
		s.stateMu.Unlock()
	}
	players := s.playerStatesLocked()
	s.mu.Unlock()

	s.stateMu.Lock()
	enemies := cloneEntities(s.state.Enemies)
	bullets := cloneEntities(s.state.Bullets)
	s.stateMu.Unlock()

	b, err := s.framer.GameState(players, enemies, bullets)
	if err != nil {
		s.log.Errorw("encode game state", "tick", seq, "err", err)
		return
	}
	s.Broadcast(b, 0)
	s.metrics.IncSnapshots()
}
