package client

import (
	"sync"

	"squarestorm/protocol"
)

// EventType 客户端事件类型
type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventPlayerJoined
	EventPlayerLeft
	EventGameState
	EventGameStart
	EventTeamStatus
	EventAllReady
	EventMinigameAction
)

var eventNames = [...]string{
	EventConnected:      "connected",
	EventDisconnected:   "disconnected",
	EventPlayerJoined:   "player_joined",
	EventPlayerLeft:     "player_left",
	EventGameState:      "game_state",
	EventGameStart:      "game_start",
	EventTeamStatus:     "team_status",
	EventAllReady:       "all_ready",
	EventMinigameAction: "minigame_action",
}

func (t EventType) String() string {
	if int(t) >= 0 && int(t) < len(eventNames) {
		return eventNames[t]
	}
	return "unknown"
}

// Event 由接收协程产生，调用方在自己的协程中从 Client.Events() 读取。
// 只有与 Type 对应的字段有值。
type Event struct {
	Type EventType

	Player   *RemotePlayer                 // PlayerJoined / PlayerLeft
	Snapshot *protocol.GameStatePayload    // GameState
	Teams    map[uint32]protocol.TeamEntry // TeamStatus / AllReady
	Data     protocol.Action               // GameStart / MinigameAction
}

// eventQueue 有界事件通道：写入永不阻塞接收协程，满时丢弃最旧的事件。
// 断开事件写入后通道关闭，此后不再产生任何事件。
type eventQueue struct {
	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped int
}

func newEventQueue(size int) *eventQueue {
	return &eventQueue{ch: make(chan Event, size)}
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pushLocked(ev)
}

func (q *eventQueue) pushLocked(ev Event) {
	for {
		select {
		case q.ch <- ev:
			return
		default:
		}
		select {
		case <-q.ch:
			q.dropped++
		default:
		}
	}
}

// closeWith 写入最后一个事件并关闭通道
func (q *eventQueue) closeWith(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pushLocked(ev)
	q.closed = true
	close(q.ch)
}

func (q *eventQueue) droppedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
