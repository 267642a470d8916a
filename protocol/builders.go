package protocol

// Default 默认使用 JSON 载荷的 Framer
var Default = Framer{}

func (f Framer) Connect(name string) ([]byte, error) {
	return f.Encode(KindConnect, ConnectPayload{PlayerName: name})
}

func (f Framer) Disconnect(playerID uint32) ([]byte, error) {
	return f.Encode(KindDisconnect, DisconnectPayload{PlayerID: playerID})
}

func (f Framer) Ping(ts float64) ([]byte, error) {
	return f.Encode(KindPing, PingPayload{Timestamp: ts})
}

// Pong 回显 PING 中的时间戳
func (f Framer) Pong(ts float64) ([]byte, error) {
	return f.Encode(KindPong, PingPayload{Timestamp: ts})
}

func (f Framer) PlayerInput(in InputPayload) ([]byte, error) {
	if in.Keys == nil {
		in.Keys = map[string]bool{}
	}
	return f.Encode(KindPlayerInput, in)
}

func (f Framer) GameState(players []PlayerState, enemies, bullets []Entity) ([]byte, error) {
	return f.Encode(KindGameState, GameStatePayload{
		Players: nonNilStates(players),
		Enemies: nonNilEntities(enemies),
		Bullets: nonNilEntities(bullets),
	})
}

func (f Framer) PlayerUpdate(p PlayerInfo) ([]byte, error) {
	return f.Encode(KindPlayerUpdate, p)
}

// FullSync receiverID 为接收方自己的玩家 id
func (f Framer) FullSync(receiverID uint32, players []PlayerInfo, state WorldState) ([]byte, error) {
	if players == nil {
		players = []PlayerInfo{}
	}
	state.Enemies = nonNilEntities(state.Enemies)
	state.Bullets = nonNilEntities(state.Bullets)
	state.Items = nonNilEntities(state.Items)
	return f.Encode(KindFullSync, FullSyncPayload{PlayerID: receiverID, Players: players, GameState: state})
}

func (f Framer) TeamSelect(playerID uint32, team, name string) ([]byte, error) {
	return f.Encode(KindTeamSelect, TeamSelectPayload{PlayerID: playerID, Team: team, Name: name})
}

func (f Framer) TeamStatus(teams map[uint32]TeamEntry) ([]byte, error) {
	if teams == nil {
		teams = map[uint32]TeamEntry{}
	}
	return f.Encode(KindTeamStatus, TeamStatusPayload{Teams: teams})
}

func (f Framer) AllReady(teams map[uint32]TeamEntry) ([]byte, error) {
	return f.Encode(KindAllReady, AllReadyPayload{Teams: teams, Players: len(teams)})
}

func (f Framer) GameStart(data Action) ([]byte, error) {
	if data == nil {
		data = Action{}
	}
	return f.Encode(KindGameStart, data)
}

// MinigameAction 未携带 player_id 时补上发送者 id
func (f Framer) MinigameAction(playerID uint32, action Action) ([]byte, error) {
	out := action.Clone()
	if _, ok := out["player_id"]; !ok {
		out["player_id"] = playerID
	}
	return f.Encode(KindMinigameAction, out)
}

func nonNilStates(s []PlayerState) []PlayerState {
	if s == nil {
		return []PlayerState{}
	}
	return s
}

func nonNilEntities(s []Entity) []Entity {
	if s == nil {
		return []Entity{}
	}
	return s
}
