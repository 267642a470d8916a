package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"testing/iotest"
	"time"
)

func TestEncodeHeaderLayout(t *testing.T) {
	b, err := Default.PlayerInput(InputPayload{
		PlayerID: 3,
		Keys:     map[string]bool{"w": false, "a": false, "s": false, "d": false},
		MouseX:   400,
		MouseY:   300,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if b[0] != 0x01 || b[1] != 0x0B {
		t.Fatalf("header = % x, want 01 0b ...", b[:2])
	}
	n := binary.BigEndian.Uint32(b[2:6])
	if int(n) != len(b)-HeaderSize {
		t.Fatalf("declared length %d, payload has %d bytes", n, len(b)-HeaderSize)
	}
	var m map[string]any
	if err := json.Unmarshal(b[HeaderSize:], &m); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	for _, k := range []string{"player_id", "keys", "mouse_x", "mouse_y", "shooting"} {
		if _, ok := m[k]; !ok {
			t.Fatalf("payload missing key %q: %s", k, b[HeaderSize:])
		}
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		kind    Kind
		payload any
		out     func() any
	}{
		{"connect", KindConnect, ConnectPayload{PlayerName: "Alice"}, func() any { return &ConnectPayload{} }},
		{"disconnect", KindDisconnect, DisconnectPayload{PlayerID: 7}, func() any { return &DisconnectPayload{} }},
		{"ping", KindPing, PingPayload{Timestamp: 1700000000.25}, func() any { return &PingPayload{} }},
		{"input", KindPlayerInput, InputPayload{PlayerID: 2, Keys: map[string]bool{"w": true}, MouseX: -4, MouseY: 9, Shooting: true}, func() any { return &InputPayload{} }},
		{"update", KindPlayerUpdate, PlayerInfo{ID: 2, Name: "Bob", X: 1.5, Y: -2, Health: 5, Alive: true}, func() any { return &PlayerInfo{} }},
		{"team", KindTeamSelect, TeamSelectPayload{PlayerID: 1, Team: TeamQ, Name: "Alice"}, func() any { return &TeamSelectPayload{} }},
		{"status", KindTeamStatus, TeamStatusPayload{Teams: map[uint32]TeamEntry{1: {Team: TeamT, Name: "a"}, 4: {Team: TeamQ, Name: "b"}}}, func() any { return &TeamStatusPayload{} }},
	}
	for _, codec := range []Codec{JSON, MsgPack} {
		f := Framer{Codec: codec}
		for _, tc := range cases {
			t.Run(codec.Name()+"/"+tc.name, func(t *testing.T) {
				b, err := f.Encode(tc.kind, tc.payload)
				if err != nil {
					t.Fatalf("encode: %v", err)
				}
				p, err := f.Decode(b)
				if err != nil {
					t.Fatalf("decode: %v", err)
				}
				if p.Kind != tc.kind {
					t.Fatalf("kind = %s, want %s", p.Kind, tc.kind)
				}
				out := tc.out()
				if err := p.Unmarshal(out); err != nil {
					t.Fatalf("unmarshal: %v", err)
				}
				got := reflect.ValueOf(out).Elem().Interface()
				if !reflect.DeepEqual(got, tc.payload) {
					t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", got, tc.payload)
				}
			})
		}
	}
}

func TestDecodeReencodeEquivalent(t *testing.T) {
	raw := []byte(`{"player_id":1,"action":"aim_shot","mx":100,"my":200}`)
	buf := frame(Version, byte(KindMinigameAction), raw)
	p, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	a, err := DecodePayload[Action](p)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	again, err := Encode(p.Kind, a)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var want, got map[string]any
	_ = json.Unmarshal(raw, &want)
	_ = json.Unmarshal(again[HeaderSize:], &got)
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("re-encoded payload differs: %v vs %v", got, want)
	}
	if id, ok := a.PlayerID(); !ok || id != 1 {
		t.Fatalf("PlayerID() = %d,%v", id, ok)
	}
}

func TestDecodeRejects(t *testing.T) {
	good := []byte(`{"player_id":1}`)
	cases := []struct {
		name string
		buf  []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"short header", []byte{1, 0, 0}, ErrTruncated},
		{"version 2", frame(2, byte(KindDisconnect), good), ErrBadVersion},
		{"version 0", frame(0, byte(KindDisconnect), good), ErrBadVersion},
		{"unknown kind", frame(Version, 99, good), ErrUnknownKind},
		{"payload shorter than declared", frame(Version, byte(KindDisconnect), good)[:HeaderSize+4], ErrTruncated},
		{"payload longer than declared", append(frame(Version, byte(KindDisconnect), good), '}'), ErrTruncated},
		{"bad utf8", frame(Version, byte(KindConnect), []byte("{\"player_name\":\"\xff\xfe\"}")), ErrMalformed},
		{"bad json", frame(Version, byte(KindConnect), []byte(`{"player_name":`)), ErrMalformed},
		{"array payload", frame(Version, byte(KindConnect), []byte(`[1,2]`)), ErrMalformed},
		{"empty payload", frame(Version, byte(KindConnect), nil), ErrMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.buf)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Decode err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestMsgpackDecodeRejects(t *testing.T) {
	good, err := MsgPack.Marshal(map[string]any{"player_id": 1})
	if err != nil {
		t.Fatal(err)
	}
	second, _ := MsgPack.Marshal(map[string]any{"x": 2})
	arr, _ := MsgPack.Marshal([]int{1, 2})
	f := Framer{Codec: MsgPack}
	if _, err := f.Decode(frame(Version, byte(KindDisconnect), good)); err != nil {
		t.Fatalf("valid payload: %v", err)
	}
	cases := map[string][]byte{
		"trailing byte": append(append([]byte{}, good...), 0xc0),
		"two maps":      append(append([]byte{}, good...), second...),
		"array payload": arr,
		"truncated map": good[:len(good)-1],
		"empty payload": nil,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.Decode(frame(Version, byte(KindDisconnect), payload))
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("Decode err = %v, want %v", err, ErrMalformed)
			}
		})
	}
}

func TestSince(t *testing.T) {
	d := Since(Now() - 0.25)
	if d < 250*time.Millisecond || d > 2*time.Second {
		t.Fatalf("Since = %v", d)
	}
}

func TestReservedKindsDecode(t *testing.T) {
	for _, k := range []Kind{KindEnemyUpdate, KindBulletFired, KindBulletHit, KindPlayerDied,
		KindPlayerRespawn, KindWaveStart, KindWaveEnd, KindPhaseComplete, KindPartialSync} {
		b, err := Encode(k, Action{"x": 1})
		if err != nil {
			t.Fatalf("encode %s: %v", k, err)
		}
		p, err := Decode(b)
		if err != nil {
			t.Fatalf("decode %s: %v", k, err)
		}
		if !p.Kind.Reserved() {
			t.Fatalf("%s should be reserved", k)
		}
	}
}

func TestPayloadSizeLimit(t *testing.T) {
	// {"d":"..."} 共 8 字节外壳
	fill := func(n int) map[string]string { return map[string]string{"d": strings.Repeat("x", n-8)} }

	b, err := Encode(KindMinigameAction, fill(MaxPayloadSize))
	if err != nil {
		t.Fatalf("65530-byte payload refused: %v", err)
	}
	if len(b) != MaxPacketSize {
		t.Fatalf("packet length = %d, want %d", len(b), MaxPacketSize)
	}
	if _, err := Decode(b); err != nil {
		t.Fatalf("decode max packet: %v", err)
	}
	if _, err := ReadOne(bytes.NewReader(b)); err != nil {
		t.Fatalf("read max packet: %v", err)
	}

	_, err = Encode(KindMinigameAction, fill(MaxPayloadSize+1))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("65531-byte payload err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestReadOneShortReads(t *testing.T) {
	a, _ := Default.Connect("Alice")
	b, _ := Default.Ping(12.5)
	stream := iotest.OneByteReader(bytes.NewReader(append(append([]byte{}, a...), b...)))

	got1, err := ReadOne(stream)
	if err != nil || !bytes.Equal(got1, a) {
		t.Fatalf("first packet = %q, %v", got1, err)
	}
	got2, err := ReadOne(stream)
	if err != nil || !bytes.Equal(got2, b) {
		t.Fatalf("second packet = %q, %v", got2, err)
	}
	if _, err := ReadOne(stream); err != io.EOF {
		t.Fatalf("after last packet err = %v, want EOF", err)
	}
}

func TestReadOneClosedMidPacket(t *testing.T) {
	a, _ := Default.Connect("Alice")
	for _, cut := range []int{3, HeaderSize, len(a) - 1} {
		_, err := ReadOne(bytes.NewReader(a[:cut]))
		if err == nil {
			t.Fatalf("cut at %d: expected error", cut)
		}
	}
}

func TestReadOneOversizedHeader(t *testing.T) {
	hdr := []byte{Version, byte(KindConnect), 0, 0, 0, 0}
	binary.BigEndian.PutUint32(hdr[2:], MaxPayloadSize+1)
	if _, err := ReadOne(bytes.NewReader(hdr)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestDecodeRandomBytesNeverPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	buf := make([]byte, 512)
	for i := 0; i < 2000; i++ {
		n := rng.Intn(len(buf))
		rng.Read(buf[:n])
		if i%3 == 0 && n > 0 {
			buf[0] = Version
		}
		_, _ = Decode(buf[:n])
		_, _ = Framer{Codec: MsgPack}.Decode(buf[:n])
	}
}

func TestMinigameActionFillsPlayerID(t *testing.T) {
	b, err := Default.MinigameAction(4, Action{"action": "aim_shot"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p, _ := Decode(b)
	a, _ := DecodePayload[Action](p)
	if id, ok := a.PlayerID(); !ok || id != 4 {
		t.Fatalf("player_id = %v", a["player_id"])
	}

	b, _ = Default.MinigameAction(4, Action{"player_id": 1})
	p, _ = Decode(b)
	a, _ = DecodePayload[Action](p)
	if id, _ := a.PlayerID(); id != 1 {
		t.Fatalf("explicit player_id overwritten: %v", a["player_id"])
	}
}

func TestCodecByName(t *testing.T) {
	for name, want := range map[string]Codec{"": JSON, "json": JSON, "MsgPack": MsgPack} {
		c, err := CodecByName(name)
		if err != nil || c != want {
			t.Fatalf("CodecByName(%q) = %v, %v", name, c, err)
		}
	}
	if _, err := CodecByName("protobuf"); err == nil {
		t.Fatalf("expected error for unknown codec")
	}
}

func frame(version, kind byte, payload []byte) []byte {
	b := make([]byte, HeaderSize+len(payload))
	b[0] = version
	b[1] = kind
	binary.BigEndian.PutUint32(b[2:], uint32(len(payload)))
	copy(b[HeaderSize:], payload)
	return b
}
