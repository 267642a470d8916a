package protocol

// 各类数据包的载荷结构，字段名即线上 JSON 键名

type ConnectPayload struct {
	PlayerName string `json:"player_name"`
}

type DisconnectPayload struct {
	PlayerID uint32 `json:"player_id"`
}

// PingPayload 同时用于 PING 与 PONG（PONG 原样回显时间戳）
type PingPayload struct {
	Timestamp float64 `json:"timestamp"`
}

type InputPayload struct {
	PlayerID uint32          `json:"player_id"`
	Keys     map[string]bool `json:"keys"`
	MouseX   int32           `json:"mouse_x"`
	MouseY   int32           `json:"mouse_y"`
	Shooting bool            `json:"shooting"`
}

// PlayerState GAME_STATE 中每个玩家的精简记录
type PlayerState struct {
	ID     uint32  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Health int     `json:"health"`
	Alive  bool    `json:"alive"`
}

// PlayerInfo 完整玩家记录（PLAYER_UPDATE / FULL_SYNC），比 PlayerState 多 name
type PlayerInfo struct {
	ID     uint32  `json:"id"`
	Name   string  `json:"name"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Health int     `json:"health"`
	Alive  bool    `json:"alive"`
}

// Entity 敌人、子弹、道具等游戏实体，协议层不关心其结构
type Entity map[string]any

type GameStatePayload struct {
	Players []PlayerState `json:"players"`
	Enemies []Entity      `json:"enemies"`
	Bullets []Entity      `json:"bullets"`
}

// WorldState 服务端持有的游戏状态，FULL_SYNC 时整体下发
type WorldState struct {
	Phase   string   `json:"phase"`
	Wave    int      `json:"wave"`
	Enemies []Entity `json:"enemies"`
	Bullets []Entity `json:"bullets"`
	Items   []Entity `json:"items"`
}

type FullSyncPayload struct {
	PlayerID  uint32       `json:"player_id"`
	Players   []PlayerInfo `json:"players"`
	GameState WorldState   `json:"game_state"`
}

type TeamSelectPayload struct {
	PlayerID uint32 `json:"player_id"`
	Team     string `json:"team"`
	Name     string `json:"name"`
}

type TeamEntry struct {
	Team string `json:"team"`
	Name string `json:"name"`
}

type TeamStatusPayload struct {
	Teams map[uint32]TeamEntry `json:"teams"`
}

type AllReadyPayload struct {
	Teams   map[uint32]TeamEntry `json:"teams"`
	Players int                  `json:"players"`
}

// Action 小游戏动作 / 开局数据等不透明载荷，服务端只做转发
type Action map[string]any

// PlayerID 读取 player_id 字段；JSON 解码为 float64，msgpack 解码为各种整数类型
func (a Action) PlayerID() (uint32, bool) {
	switch v := a["player_id"].(type) {
	case float64:
		if v < 0 {
			return 0, false
		}
		return uint32(v), true
	case int:
		return uint32(v), v >= 0
	case int8:
		return uint32(v), v >= 0
	case int16:
		return uint32(v), v >= 0
	case int32:
		return uint32(v), v >= 0
	case int64:
		return uint32(v), v >= 0
	case uint8:
		return uint32(v), true
	case uint16:
		return uint32(v), true
	case uint32:
		return v, true
	case uint64:
		return uint32(v), true
	}
	return 0, false
}

// Clone 浅拷贝
func (a Action) Clone() Action {
	out := make(Action, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}
