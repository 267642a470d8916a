package client

import (
	"math"
	"testing"
	"time"

	"squarestorm/config"
	"squarestorm/protocol"
)

func offlineClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(config.DefaultClient())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func mustPacket(t *testing.T, kind protocol.Kind, payload any) protocol.Packet {
	t.Helper()
	b, err := protocol.Encode(kind, payload)
	if err != nil {
		t.Fatal(err)
	}
	p, err := protocol.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestFullSyncExcludesLocalPlayer(t *testing.T) {
	c := offlineClient(t)
	b, _ := protocol.Default.FullSync(5, []protocol.PlayerInfo{
		{ID: 5, Name: "me", X: 1, Y: 2, Health: 5, Alive: true},
		{ID: 6, Name: "other", X: 10, Y: 20, Health: 5, Alive: true},
	}, protocol.WorldState{Phase: "lobby", Enemies: []protocol.Entity{{"id": 1}}})
	p, _ := protocol.Decode(b)
	c.dispatch(p)

	if id, ok := c.LocalPlayerID(); !ok || id != 5 {
		t.Fatalf("local id = %d %v", id, ok)
	}
	if pos := c.LocalPosition(); pos.X != 1 || pos.Y != 2 {
		t.Fatalf("local position = %+v", pos)
	}
	remotes := c.RemotePlayers()
	if len(remotes) != 1 || remotes[0].ID != 6 || remotes[0].X != 10 || remotes[0].TargetX != 10 || remotes[0].Score != 0 {
		t.Fatalf("remotes = %+v", remotes)
	}
	if len(c.GameState().Enemies) != 1 {
		t.Fatalf("state = %+v", c.GameState())
	}

	// 后续 FULL_SYNC 不会改变本地 id
	b, _ = protocol.Default.FullSync(9, nil, protocol.WorldState{})
	p, _ = protocol.Decode(b)
	c.dispatch(p)
	if id, _ := c.LocalPlayerID(); id != 5 {
		t.Fatalf("local id changed to %d", id)
	}
}

func TestGameStateLeavesMissingFieldsUnchanged(t *testing.T) {
	c := offlineClient(t)
	b, _ := protocol.Default.FullSync(1, []protocol.PlayerInfo{{ID: 1}, {ID: 2, Name: "b"}},
		protocol.WorldState{Enemies: []protocol.Entity{{"id": 1}}, Bullets: []protocol.Entity{{"id": 2}}})
	p, _ := protocol.Decode(b)
	c.dispatch(p)

	c.dispatch(mustPacket(t, protocol.KindGameState, map[string]any{
		"players": []protocol.PlayerState{
			{ID: 1, X: 3, Y: 4, Health: 5, Alive: true},
			{ID: 2, X: 50, Y: 60, Health: 2, Alive: true},
			{ID: 7, X: 1, Y: 1},
		},
		"bullets": []protocol.Entity{},
	}))

	st := c.GameState()
	if len(st.Enemies) != 1 || len(st.Bullets) != 0 {
		t.Fatalf("state = %+v", st)
	}
	rp, _ := c.RemotePlayer(2)
	if rp.TargetX != 50 || rp.TargetY != 60 || rp.X != 0 || rp.Health != 2 {
		t.Fatalf("remote = %+v", rp)
	}
	if _, ok := c.RemotePlayer(7); ok {
		t.Fatal("unknown id from GAME_STATE should not create a remote player")
	}
	if pos := c.LocalPosition(); pos.X != 3 {
		t.Fatalf("local position = %+v", pos)
	}
}

func TestPlayerUpdateAndDisconnectEvents(t *testing.T) {
	c := offlineClient(t)
	b, _ := protocol.Default.FullSync(1, []protocol.PlayerInfo{{ID: 1}}, protocol.WorldState{})
	p, _ := protocol.Decode(b)
	c.dispatch(p)

	b, _ = protocol.Default.PlayerUpdate(protocol.PlayerInfo{ID: 3, Name: "c", X: 7})
	p, _ = protocol.Decode(b)
	c.dispatch(p)
	c.dispatch(p)

	ev := <-c.Events()
	if ev.Type != EventPlayerJoined || ev.Player.ID != 3 {
		t.Fatalf("event = %+v", ev)
	}

	b, _ = protocol.Default.Disconnect(3)
	p, _ = protocol.Decode(b)
	c.dispatch(p)
	c.dispatch(p)

	ev = <-c.Events()
	if ev.Type != EventPlayerLeft || ev.Player.ID != 3 {
		t.Fatalf("event = %+v", ev)
	}
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func TestReservedKindsIgnored(t *testing.T) {
	c := offlineClient(t)
	for _, k := range []protocol.Kind{protocol.KindEnemyUpdate, protocol.KindBulletFired, protocol.KindPartialSync} {
		c.dispatch(mustPacket(t, k, map[string]any{"x": 1}))
	}
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func TestEventQueueDropsOldest(t *testing.T) {
	q := newEventQueue(2)
	q.push(Event{Type: EventGameState})
	q.push(Event{Type: EventTeamStatus})
	q.push(Event{Type: EventAllReady})
	if q.droppedCount() != 1 {
		t.Fatalf("dropped = %d", q.droppedCount())
	}

	q.closeWith(Event{Type: EventDisconnected})
	q.push(Event{Type: EventGameStart})

	var got []EventType
	for ev := range q.ch {
		got = append(got, ev.Type)
	}
	want := []EventType{EventAllReady, EventDisconnected}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-3
}

func TestInterpolatorPerCall(t *testing.T) {
	ip := Interpolator{Rate: 0.3}
	rp := &RemotePlayer{TargetX: 100, TargetY: -100}
	ip.Step(rp, time.Second)
	if !approx(rp.X, 30) || !approx(rp.Y, -30) {
		t.Fatalf("after one step = %v,%v", rp.X, rp.Y)
	}
	ip.Step(rp, time.Millisecond)
	if !approx(rp.X, 51) {
		t.Fatalf("after two steps = %v", rp.X)
	}
	for i := 0; i < 200; i++ {
		ip.Step(rp, 0)
	}
	if rp.X > 100 || 100-rp.X > 1e-6 {
		t.Fatalf("did not converge: %v", rp.X)
	}
}

func TestInterpolatorFrameRateHint(t *testing.T) {
	ip := Interpolator{Rate: 0.3, FrameRateHint: 60}

	rp := &RemotePlayer{TargetX: 100}
	ip.Step(rp, time.Second/60)
	if !approx(rp.X, 30) {
		t.Fatalf("one frame at 60fps = %v", rp.X)
	}

	rp = &RemotePlayer{TargetX: 100}
	ip.Step(rp, time.Second)
	if !approx(rp.X, 100) {
		t.Fatalf("long frame should land on target, got %v", rp.X)
	}

	// 单个玩家的速率覆盖默认值
	rp = &RemotePlayer{TargetX: 100, InterpolationRate: 0.5}
	Interpolator{Rate: 0.3}.Step(rp, 0)
	if !approx(rp.X, 50) {
		t.Fatalf("per-player rate = %v", rp.X)
	}
}
