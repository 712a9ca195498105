package session

import (
	"net"
	"testing"

	"github.com/w3gshost/w3gshost/internal/mapdata"
	"github.com/w3gshost/w3gshost/internal/w3gs"
)

type fakeConn struct {
	addr    net.Addr
	writes  [][]byte
	closed  bool
}

func newFakeConn(ip string) *fakeConn {
	return &fakeConn{addr: &net.TCPAddr{IP: net.ParseIP(ip), Port: 6112}}
}

func (f *fakeConn) Write(b []byte) error {
	cp := append([]byte(nil), b...)
	f.writes = append(f.writes, cp)
	return nil
}
func (f *fakeConn) Close() error       { f.closed = true; return nil }
func (f *fakeConn) RemoteAddr() net.Addr { return f.addr }

func (f *fakeConn) lastType() byte {
	if len(f.writes) == 0 {
		return 0
	}
	return f.writes[len(f.writes)-1][1]
}

func testMap(t *testing.T) *mapdata.Map {
	t.Helper()
	m := mapdata.Load(mapdata.Params{
		Path:       `Maps\Test.w3x`,
		Options:    mapdata.OptMelee,
		NumPlayers: 2,
		Slots: []w3gs.Slot{
			{Status: w3gs.SlotOpen, Colour: 0},
			{Status: w3gs.SlotOpen, Colour: 1},
		},
	})
	return m
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(Config{
		HostCounter: 1,
		EntryKey:    0xDEAD,
		SyncLimit:   32,
		LatencyMS:   100,
		HostPort:    6112,
		GameName:    "Test Game",
		Map:         testMap(t),
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func reqJoinFrame(t *testing.T, hostCounter, entryKey uint32, name string) (byte, []byte) {
	t.Helper()
	b := w3gs.NewBuilder()
	b.WriteUint32(hostCounter)
	b.WriteUint32(entryKey)
	b.WriteUint32(0) // unknown
	b.WriteUint16(6112)
	b.WriteUint32(0) // peer key
	b.WriteCString(name)
	b.WriteCString("")
	b.WriteSockaddr(net.IPv4(127, 0, 0, 1), 0)
	return w3gs.PidReqJoin, b.Frame(w3gs.PidReqJoin)
}

// scenario 3: join flow.
func TestJoinFlowAssignsPIDAndSendsSlotInfoJoinAndMapCheck(t *testing.T) {
	s := newTestSession(t)
	conn := newFakeConn("10.0.0.5")
	s.Accept(conn)

	_, frame := reqJoinFrame(t, 1, 0xDEAD, "alice")
	s.Potentials[0].Feed(frame)

	s.Update(0)
	s.UpdatePost()

	if len(s.Players) != 1 {
		t.Fatalf("len(Players) = %d, want 1", len(s.Players))
	}
	alice := s.Players[0]
	if alice.PID != 2 {
		t.Fatalf("alice.PID = %d, want 2 (virtual host holds 1)", alice.PID)
	}
	if len(conn.writes) < 2 {
		t.Fatalf("expected at least SLOTINFOJOIN + MAPCHECK, got %d frames", len(conn.writes))
	}
	if conn.writes[0][1] != w3gs.PidSlotInfoJoin {
		t.Fatalf("first frame type = %#x, want SLOTINFOJOIN", conn.writes[0][1])
	}
	if conn.writes[1][1] != w3gs.PidMapCheck {
		t.Fatalf("second frame type = %#x, want MAPCHECK", conn.writes[1][1])
	}

	idx := s.slotIndexForPID(2)
	if idx < 0 || s.Slots[idx].Status != w3gs.SlotOccupied {
		t.Fatalf("alice's slot not marked occupied")
	}
}

// scenario 4: reject wrong key.
func TestJoinRejectsWrongEntryKey(t *testing.T) {
	s := newTestSession(t)
	s.cfg.EntryKey = 0x0001
	conn := newFakeConn("10.0.0.5")
	s.Accept(conn)

	_, frame := reqJoinFrame(t, 1, 0xDEAD, "alice")
	s.Potentials[0].Feed(frame)

	s.Update(0)
	s.UpdatePost()

	if len(s.Players) != 0 {
		t.Fatalf("expected no player admitted, got %d", len(s.Players))
	}
	if len(conn.writes) != 1 || conn.writes[0][1] != w3gs.PidRejectJoin {
		t.Fatalf("expected a single REJECTJOIN frame, got %v", conn.writes)
	}
	if !conn.closed {
		t.Fatalf("expected connection closed after reject")
	}
}

func admitPlayer(t *testing.T, s *Session, name string, ip string) (*GamePlayer, *fakeConn) {
	t.Helper()
	conn := newFakeConn(ip)
	s.Accept(conn)
	_, frame := reqJoinFrame(t, s.cfg.HostCounter, s.cfg.EntryKey, name)
	s.Potentials[len(s.Potentials)-1].Feed(frame)
	s.Update(0)
	s.UpdatePost()
	return s.Players[len(s.Players)-1], conn
}

// scenario 6: lag trigger.
func TestLagTriggerEmitsStartLagAndHaltsBroadcast(t *testing.T) {
	s := newTestSession(t)
	p, conn := admitPlayer(t, s, "p", "10.0.0.9")

	s.State = Loaded
	s.SyncCounter = 50
	p.SyncCounter = 10

	s.checkLaggers()

	if !s.lagActive {
		t.Fatalf("expected lag screen active")
	}
	if conn.lastType() != w3gs.PidStartLag {
		t.Fatalf("last frame type = %#x, want START_LAG", conn.lastType())
	}

	before := len(conn.writes)
	s.actionAccum = uint32(s.cfg.LatencyMS)
	s.updateActionTick(0)
	if len(conn.writes) != before {
		t.Fatalf("expected no further broadcast while lag screen is active")
	}

	p.SyncCounter = 50 - s.cfg.SyncLimit
	s.updateLagScreen(0)
	if s.lagActive {
		t.Fatalf("expected lag screen cleared once player caught up")
	}
}

func TestPIDAllocationSkipsVirtualHostAndReserved(t *testing.T) {
	s := newTestSession(t)
	pid, ok := s.allocatePID()
	if !ok || pid != 2 {
		t.Fatalf("allocatePID() = (%d, %v), want (2, true)", pid, ok)
	}

	// A slot already holding PID 2 reserves it.
	s.Slots[1].PID = 2
	pid, ok = s.allocatePID()
	if !ok || pid != 3 {
		t.Fatalf("allocatePID() with PID 2 reserved = (%d, %v), want (3, true)", pid, ok)
	}
}

func TestDrainOutboundReturnsAndClearsLog(t *testing.T) {
	s := newTestSession(t)
	_, _ = admitPlayer(t, s, "p", "10.0.0.9")

	if len(s.Outbound) == 0 {
		t.Fatalf("expected join flow to record at least one outbound packet")
	}

	first := s.DrainOutbound()
	if len(first) == 0 {
		t.Fatalf("DrainOutbound returned nothing, want the join flow's packets")
	}
	if len(s.Outbound) != 0 {
		t.Fatalf("Outbound not cleared after drain, len=%d", len(s.Outbound))
	}

	second := s.DrainOutbound()
	if len(second) != 0 {
		t.Fatalf("expected empty drain with nothing new recorded, got %d", len(second))
	}
}
