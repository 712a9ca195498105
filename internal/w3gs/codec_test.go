package w3gs

import (
	"net"
	"testing"

	"github.com/w3gshost/w3gshost/internal/wirebuf"
)

func TestSlotEncodeDecodeRoundTrip(t *testing.T) {
	s := Slot{PID: 3, DownloadStatus: 100, Status: SlotOccupied, Computer: 0, Team: 2, Colour: 2, Race: RaceHuman | RaceSelectable, ComputerType: 1, Handicap: 80}
	var buf [SlotSize]byte
	EncodeSlot(buf[:], s)
	got, err := DecodeSlot(buf[:])
	if err != nil {
		t.Fatalf("DecodeSlot: %v", err)
	}
	if got != s {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, s)
	}
}

func TestReqJoinFrameRoundTrip(t *testing.T) {
	b := NewBuilder()
	b.WriteUint32(1)
	b.WriteUint32(0xDEAD)
	b.WriteUint32(0)
	b.WriteUint16(6112)
	b.WriteUint32(0)
	b.WriteCString("alice")
	b.WriteCString("")
	b.WriteSockaddr(net.IPv4(127, 0, 0, 1), 0)
	frame := b.Frame(PidReqJoin)

	typ, payload, consumed, ok, err := TryExtractFrame(frame)
	if err != nil || !ok {
		t.Fatalf("TryExtractFrame: ok=%v err=%v", ok, err)
	}
	if consumed != len(frame) {
		t.Fatalf("consumed = %d, want %d", consumed, len(frame))
	}
	if typ != PidReqJoin {
		t.Fatalf("typ = %#x, want PidReqJoin", typ)
	}

	got, err := DecodeReqJoin(payload)
	if err != nil {
		t.Fatalf("DecodeReqJoin: %v", err)
	}
	if got.HostCounter != 1 || got.EntryKey != 0xDEAD || got.Name != "alice" {
		t.Fatalf("unexpected decode: %+v", got)
	}
	if !got.InternalIP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("InternalIP = %v, want 127.0.0.1", got.InternalIP)
	}
}

func TestTryExtractFrameWaitsForMorebytes(t *testing.T) {
	frame := EncodePingFromHost(42)
	_, _, _, ok, err := TryExtractFrame(frame[:len(frame)-1])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false on a truncated buffer")
	}
}

func TestTryExtractFrameRejectsBadMagic(t *testing.T) {
	frame := EncodePingFromHost(42)
	frame[0] = 0x00
	_, _, _, _, err := TryExtractFrame(frame)
	if err == nil {
		t.Fatalf("expected protocol error on bad magic byte")
	}
}

func TestPlayerLeaveOthersRoundTrip(t *testing.T) {
	frame := EncodePlayerLeaveOthers(5, LeaveDisconnect)
	typ, payload, _, ok, err := TryExtractFrame(frame)
	if err != nil || !ok || typ != PidPlayerLeaveOthers {
		t.Fatalf("extract failed: ok=%v err=%v typ=%#x", ok, err, typ)
	}
	if payload[0] != 5 {
		t.Fatalf("pid = %d, want 5", payload[0])
	}
	reason, err := wirebuf.Uint32LE(payload, 1)
	if err != nil || LeaveReason(reason) != LeaveDisconnect {
		t.Fatalf("reason = %d, err=%v, want LeaveDisconnect", reason, err)
	}
}

func TestStatStringRoundTrip(t *testing.T) {
	fields := StatStringFields{
		GameFlags: GameFlags(GameFlagsParams{Speed: SpeedFast, Visibility: VisibilityDefault, Observers: ObserversAllowed, TeamsTogether: true}),
		MapWidth:  128,
		MapHeight: 128,
		MapCRC:    0xAABBCCDD,
		MapPath:   `Maps\Test.w3x`,
		HostName:  "Host",
	}
	for i := range fields.MapSHA1 {
		fields.MapSHA1[i] = byte(i + 1)
	}

	raw := BuildStatString(fields)
	encoded := EncodeStatString(raw)
	for _, b := range encoded {
		if b == 0x00 {
			t.Fatalf("encoded stat string must never contain a NUL byte")
		}
	}
	decoded := DecodeStatString(encoded)
	got, err := ParseStatString(decoded)
	if err != nil {
		t.Fatalf("ParseStatString: %v", err)
	}
	if got != fields {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, fields)
	}
}

func TestGameInfoRoundTrip(t *testing.T) {
	params := GameInfoParams{
		Version:      29,
		HostCounter:  1,
		EntryKey:     0xDEAD,
		GameName:     "Test Game",
		StatString:   StatStringFields{MapPath: `Maps\Test.w3x`, HostName: "Host"},
		PlayersTotal: 2,
		GameType:     GameTypeCustom,
		PlayersFree:  1,
		UptimeSec:    10,
		Port:         6112,
	}
	frame := EncodeGameInfo(params)
	_, payload, _, ok, err := TryExtractFrame(frame)
	if err != nil || !ok {
		t.Fatalf("extract failed: ok=%v err=%v", ok, err)
	}
	got, err := DecodeGameInfo(payload)
	if err != nil {
		t.Fatalf("DecodeGameInfo: %v", err)
	}
	if got.GameName != params.GameName || got.HostCounter != params.HostCounter || got.Port != params.Port {
		t.Fatalf("unexpected decode: %+v", got)
	}
}

func TestBuildActionBatchSplitsOnPayloadLimit(t *testing.T) {
	var actions []PackedAction
	for i := 0; i < 200; i++ {
		actions = append(actions, PackedAction{PID: 2, Action: make([]byte, 8)})
	}
	frames, err := BuildActionBatch(actions, 100)
	if err != nil {
		t.Fatalf("BuildActionBatch: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("len(frames) = %d, want 2", len(frames))
	}
	if frames[0][1] != PidIncomingAction2 {
		t.Fatalf("first frame type = %#x, want INCOMING_ACTION2", frames[0][1])
	}
	if frames[1][1] != PidIncomingAction {
		t.Fatalf("last frame type = %#x, want INCOMING_ACTION", frames[1][1])
	}

	// No split packet may contain a partial action: every packed action is
	// (pid u8, len u16, action bytes), so each packed entry is exactly
	// 3+8=11 bytes; the first frame's packed-action region length must be
	// a multiple of 11.
	firstPayload := frames[0][HeaderSize:]
	packedLen := len(firstPayload) - 1 // minus the leading 0x00
	if packedLen%11 != 0 {
		t.Fatalf("first frame packed region length %d not a multiple of 11", packedLen)
	}
}

func TestBuildActionBatchEmptyStillEmitsOneFrame(t *testing.T) {
	frames, err := BuildActionBatch(nil, 100)
	if err != nil {
		t.Fatalf("BuildActionBatch: %v", err)
	}
	if len(frames) != 1 || frames[0][1] != PidIncomingAction {
		t.Fatalf("expected a single empty INCOMING_ACTION frame, got %v", frames)
	}
}

func TestDeriveLayoutStyle(t *testing.T) {
	cases := []struct {
		options uint32
		want    byte
	}{
		{0, LayoutMelee},
		{MapOptCustomForces, LayoutCustomForces},
		{MapOptCustomForces | MapOptFixedPlayerSettings, LayoutCustomForcesFixed},
	}
	for _, c := range cases {
		if got := DeriveLayoutStyle(c.options); got != c.want {
			t.Fatalf("DeriveLayoutStyle(%#x) = %d, want %d", c.options, got, c.want)
		}
	}
}
