package protocol

import (
	"fmt"
	"time"
)

// 帧格式：[version u8][kind u8][payload_len u32 大端][payload]
const (
	Version        = 1
	HeaderSize     = 6
	MaxPacketSize  = 65536
	MaxPayloadSize = MaxPacketSize - HeaderSize // 65530
)

// Kind 数据包类型，数值需与线上协议保持一致
type Kind uint8

const (
	KindConnect    Kind = 0
	KindDisconnect Kind = 1
	KindPing       Kind = 2
	KindPong       Kind = 3

	KindGameState    Kind = 10
	KindPlayerInput  Kind = 11
	KindPlayerUpdate Kind = 12

	KindEnemyUpdate Kind = 20
	KindBulletFired Kind = 21
	KindBulletHit   Kind = 22

	KindPlayerDied    Kind = 30
	KindPlayerRespawn Kind = 31
	KindWaveStart     Kind = 32
	KindWaveEnd       Kind = 33
	KindPhaseComplete Kind = 34
	KindGameStart     Kind = 35

	KindFullSync    Kind = 40
	KindPartialSync Kind = 41

	KindTeamSelect Kind = 50
	KindTeamStatus Kind = 51
	KindAllReady   Kind = 52

	KindMinigameAction Kind = 60
)

var kindNames = map[Kind]string{
	KindConnect:        "CONNECT",
	KindDisconnect:     "DISCONNECT",
	KindPing:           "PING",
	KindPong:           "PONG",
	KindGameState:      "GAME_STATE",
	KindPlayerInput:    "PLAYER_INPUT",
	KindPlayerUpdate:   "PLAYER_UPDATE",
	KindEnemyUpdate:    "ENEMY_UPDATE",
	KindBulletFired:    "BULLET_FIRED",
	KindBulletHit:      "BULLET_HIT",
	KindPlayerDied:     "PLAYER_DIED",
	KindPlayerRespawn:  "PLAYER_RESPAWN",
	KindWaveStart:      "WAVE_START",
	KindWaveEnd:        "WAVE_END",
	KindPhaseComplete:  "PHASE_COMPLETE",
	KindGameStart:      "GAME_START",
	KindFullSync:       "FULL_SYNC",
	KindPartialSync:    "PARTIAL_SYNC",
	KindTeamSelect:     "TEAM_SELECT",
	KindTeamStatus:     "TEAM_STATUS",
	KindAllReady:       "ALL_READY",
	KindMinigameAction: "MINIGAME_ACTION",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("KIND(%d)", uint8(k))
}

// Known 是否为协议内定义的类型（包括保留类型）
func (k Kind) Known() bool {
	_, ok := kindNames[k]
	return ok
}

// Reserved 保留类型：协议中定义但当前不会发送，收到时忽略
func (k Kind) Reserved() bool {
	switch k {
	case KindEnemyUpdate, KindBulletFired, KindBulletHit,
		KindPlayerDied, KindPlayerRespawn, KindWaveStart, KindWaveEnd, KindPhaseComplete,
		KindPartialSync:
		return true
	}
	return false
}

// 队伍标识
const (
	TeamT = "T"
	TeamQ = "Q"
)

// ValidTeam 校验队伍取值
func ValidTeam(team string) bool {
	return team == TeamT || team == TeamQ
}

// Now 返回自 Unix 纪元以来的秒数（浮点），用于 PING/PONG 时间戳
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Since 计算某个时间戳到当前时刻的间隔
func Since(ts float64) time.Duration {
	return time.Duration((Now() - ts) * float64(time.Second))
}
