package server

import (
	"sort"
	"strings"

	"squarestorm/protocol"
)

// selectTeam 更新队伍表并广播 TEAM_STATUS；所有在线玩家从"有人未选队"变为"全部选好"时广播 ALL_READY。
// 已就绪后换队不会再次触发；与上一次宣布的阵容相同（例如断线后以同名重连并选回原队）也不再重复发送。
func (s *Server) selectTeam(c *Connection, sel protocol.TeamSelectPayload) {
	if !protocol.ValidTeam(sel.Team) {
		s.log.Warnw("ignoring invalid team", "player", c.ID, "team", sel.Team)
		return
	}
	name := sel.Name
	if name == "" {
		name = c.Name
	}

	s.mu.Lock()
	if _, ok := s.players[c.ID]; !ok {
		s.mu.Unlock()
		return
	}
	s.teams[c.ID] = protocol.TeamEntry{Team: sel.Team, Name: name}
	teams := copyTeams(s.teams)
	fire := false
	if !s.allSelectedLocked() {
		s.ready = false
	} else if !s.ready {
		s.ready = true
		if sig := rosterSignature(teams); sig != s.readySig {
			s.readySig = sig
			fire = true
		}
	}
	s.mu.Unlock()

	s.log.Infow("team selected", "player", c.ID, "team", sel.Team, "name", name)
	if b, err := s.framer.TeamStatus(teams); err == nil {
		s.Broadcast(b, 0)
	}
	if fire {
		s.log.Infow("all players ready", "players", len(teams))
		if b, err := s.framer.AllReady(teams); err == nil {
			s.Broadcast(b, 0)
		}
	}
}

// 调用方需持有注册表锁
func (s *Server) allSelectedLocked() bool {
	if len(s.players) == 0 {
		return false
	}
	for id := range s.players {
		if _, ok := s.teams[id]; !ok {
			return false
		}
	}
	return true
}

// Teams 当前队伍表副本
func (s *Server) Teams() map[uint32]protocol.TeamEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyTeams(s.teams)
}

func copyTeams(in map[uint32]protocol.TeamEntry) map[uint32]protocol.TeamEntry {
	out := make(map[uint32]protocol.TeamEntry, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func rosterSignature(teams map[uint32]protocol.TeamEntry) string {
	parts := make([]string, 0, len(teams))
	for _, e := range teams {
		parts = append(parts, e.Name+"\x00"+e.Team)
	}
	sort.Strings(parts)
	return strings.Join(parts, "\x01")
}
