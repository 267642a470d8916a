package client

import (
	"time"

	"squarestorm/protocol"
)

// dispatch 在接收协程中执行；未知或保留类型静默忽略
func (c *Client) dispatch(p protocol.Packet) {
	switch p.Kind {
	case protocol.KindFullSync:
		fs, err := protocol.DecodePayload[protocol.FullSyncPayload](p)
		if err != nil {
			c.log.Debugw("bad full sync", "err", err)
			return
		}
		c.applyFullSync(fs)

	case protocol.KindGameState:
		gs, err := protocol.DecodePayload[protocol.GameStatePayload](p)
		if err != nil {
			c.log.Debugw("bad game state", "err", err)
			return
		}
		c.applyGameState(gs)
		c.events.push(Event{Type: EventGameState, Snapshot: &gs})

	case protocol.KindPlayerUpdate:
		pi, err := protocol.DecodePayload[protocol.PlayerInfo](p)
		if err != nil {
			c.log.Debugw("bad player update", "err", err)
			return
		}
		if rp, joined := c.applyPlayerUpdate(pi); joined {
			c.log.Infow("player joined", "player", rp.ID, "name", rp.Name)
			c.events.push(Event{Type: EventPlayerJoined, Player: &rp})
		}

	case protocol.KindDisconnect:
		d, err := protocol.DecodePayload[protocol.DisconnectPayload](p)
		if err != nil {
			c.log.Debugw("bad disconnect", "err", err)
			return
		}
		c.mu.Lock()
		rp, ok := c.remotes[d.PlayerID]
		delete(c.remotes, d.PlayerID)
		c.mu.Unlock()
		if ok {
			left := *rp
			c.log.Infow("player left", "player", left.ID, "name", left.Name)
			c.events.push(Event{Type: EventPlayerLeft, Player: &left})
		}

	case protocol.KindPong:
		pong, err := protocol.DecodePayload[protocol.PingPayload](p)
		if err != nil {
			c.log.Debugw("bad pong", "err", err)
			return
		}
		ms := float64(protocol.Since(pong.Timestamp)) / float64(time.Millisecond)
		if ms < 0 {
			ms = 0
		}
		c.mu.Lock()
		c.latencyMs = ms
		c.mu.Unlock()

	case protocol.KindGameStart:
		data, err := protocol.DecodePayload[protocol.Action](p)
		if err != nil {
			c.log.Debugw("bad game start", "err", err)
			return
		}
		c.events.push(Event{Type: EventGameStart, Data: data})

	case protocol.KindTeamStatus:
		ts, err := protocol.DecodePayload[protocol.TeamStatusPayload](p)
		if err != nil {
			c.log.Debugw("bad team status", "err", err)
			return
		}
		if ts.Teams == nil {
			ts.Teams = map[uint32]protocol.TeamEntry{}
		}
		c.mu.Lock()
		c.teams = ts.Teams
		c.mu.Unlock()
		c.events.push(Event{Type: EventTeamStatus, Teams: copyTeams(ts.Teams)})

	case protocol.KindAllReady:
		ar, err := protocol.DecodePayload[protocol.AllReadyPayload](p)
		if err != nil {
			c.log.Debugw("bad all ready", "err", err)
			return
		}
		c.events.push(Event{Type: EventAllReady, Teams: ar.Teams})

	case protocol.KindMinigameAction:
		action, err := protocol.DecodePayload[protocol.Action](p)
		if err != nil {
			c.log.Debugw("bad minigame action", "err", err)
			return
		}
		c.actionsMu.Lock()
		c.actions = append(c.actions, action)
		c.actionsMu.Unlock()
		c.events.push(Event{Type: EventMinigameAction, Data: action.Clone()})
	}
}

// applyFullSync 本地 id 只在第一次 FULL_SYNC 时设置
func (c *Client) applyFullSync(fs protocol.FullSyncPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasLocalID {
		c.localID = fs.PlayerID
		c.hasLocalID = true
		c.log.Infow("assigned player id", "player", fs.PlayerID, "players", len(fs.Players))
	}
	remotes := make(map[uint32]*RemotePlayer, len(fs.Players))
	for _, pi := range fs.Players {
		if pi.ID == c.localID {
			c.localPos = Position{X: pi.X, Y: pi.Y}
			continue
		}
		remotes[pi.ID] = c.newRemote(pi)
	}
	c.remotes = remotes

	c.stateMu.Lock()
	c.state = cloneWorld(fs.GameState)
	c.stateMu.Unlock()
}

func (c *Client) applyGameState(gs protocol.GameStatePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ps := range gs.Players {
		if c.hasLocalID && ps.ID == c.localID {
			c.localPos = Position{X: ps.X, Y: ps.Y}
			continue
		}
		if rp, ok := c.remotes[ps.ID]; ok {
			rp.TargetX = ps.X
			rp.TargetY = ps.Y
			rp.Health = ps.Health
			rp.Alive = ps.Alive
		}
	}

	c.stateMu.Lock()
	if gs.Enemies != nil {
		c.state.Enemies = gs.Enemies
	}
	if gs.Bullets != nil {
		c.state.Bullets = gs.Bullets
	}
	c.stateMu.Unlock()
}

// applyPlayerUpdate 返回玩家副本以及是否为新加入
func (c *Client) applyPlayerUpdate(pi protocol.PlayerInfo) (RemotePlayer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasLocalID && pi.ID == c.localID {
		c.localPos = Position{X: pi.X, Y: pi.Y}
		return RemotePlayer{}, false
	}
	rp, ok := c.remotes[pi.ID]
	if !ok {
		rp = c.newRemote(pi)
		c.remotes[pi.ID] = rp
		return *rp, true
	}
	rp.Name = pi.Name
	rp.TargetX = pi.X
	rp.TargetY = pi.Y
	rp.Health = pi.Health
	rp.Alive = pi.Alive
	return *rp, false
}

func (c *Client) newRemote(pi protocol.PlayerInfo) *RemotePlayer {
	return &RemotePlayer{
		ID:                pi.ID,
		Name:              pi.Name,
		X:                 pi.X,
		Y:                 pi.Y,
		TargetX:           pi.X,
		TargetY:           pi.Y,
		Health:            pi.Health,
		Alive:             pi.Alive,
		InterpolationRate: c.interp.Rate,
	}
}
