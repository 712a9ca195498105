package hostloop

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/w3gshost/w3gshost/internal/events"
	"github.com/w3gshost/w3gshost/internal/mapdata"
	"github.com/w3gshost/w3gshost/internal/session"
	"github.com/w3gshost/w3gshost/internal/w3gs"
)

func testMap(t *testing.T) *mapdata.Map {
	t.Helper()
	return mapdata.Load(mapdata.Params{
		Path:       `Maps\Test.w3x`,
		Options:    mapdata.OptMelee,
		NumPlayers: 2,
		Slots: []w3gs.Slot{
			{Status: w3gs.SlotOpen, Colour: 0},
			{Status: w3gs.SlotOpen, Colour: 1},
		},
	})
}

func testSession(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.NewSession(session.Config{
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

// eventRecorder records the type of every event delivered to its record
// handler; tests call bus.Stop before checking, so delivery has finished.
type eventRecorder struct {
	mu   sync.Mutex
	seen []events.EventType
}

func (r *eventRecorder) record(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, e.Type)
	return nil
}

func (r *eventRecorder) has(want events.EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.seen {
		if t == want {
			return true
		}
	}
	return false
}

func TestApplyAutoStartBeginsCountDownOncePlayerThresholdMet(t *testing.T) {
	sess := testSession(t)
	l := &Loop{sess: sess, opts: Options{AutoStartPlayers: 1}, lastPhase: sess.State, knownPlayers: make(map[byte]string)}

	l.applyAutoStart()
	if sess.State != session.Waiting {
		t.Fatalf("countdown started with zero players present")
	}

	conn := newRecordingConn()
	sess.Accept(conn)
	_, frame := reqJoinFrame(t, sess)
	sess.Potentials[0].Feed(frame)
	sess.Update(0)
	sess.UpdatePost()

	// Report the map as present so StartCountDown's map check passes.
	ms := w3gs.NewBuilder()
	ms.WriteUint32(0)
	ms.WriteByte8(1)
	ms.WriteUint32(sess.Map().Size)
	sess.Players[0].Feed(ms.Frame(w3gs.PidMapSize))
	sess.Update(0)
	sess.UpdatePost()

	l.applyAutoStart()
	if sess.State != session.CountDown {
		t.Fatalf("state = %v, want CountDown after threshold met", sess.State)
	}
	if !l.autoStarted {
		t.Fatalf("autoStarted flag not set")
	}
}

func TestApplyAutoStartDisabledWhenThresholdIsZero(t *testing.T) {
	sess := testSession(t)
	l := &Loop{sess: sess, opts: Options{AutoStartPlayers: 0}, lastPhase: sess.State, knownPlayers: make(map[byte]string)}
	l.applyAutoStart()
	if sess.State != session.Waiting {
		t.Fatalf("countdown started despite AutoStartPlayers=0")
	}
}

func TestPublishEventsEmitsPlayerJoinedAndSessionStatus(t *testing.T) {
	sess := testSession(t)
	bus := events.NewEventBus()
	rec := &eventRecorder{}
	bus.Subscribe(events.EventPlayerJoined, "test", rec.record)
	bus.Subscribe(events.EventSessionStatus, "test", rec.record)

	l := &Loop{sess: sess, bus: bus, lastPhase: sess.State, knownPlayers: make(map[byte]string)}

	conn := newRecordingConn()
	sess.Accept(conn)
	_, frame := reqJoinFrame(t, sess)
	sess.Potentials[0].Feed(frame)
	sess.Update(0)
	outbound := sess.DrainOutbound()
	sess.UpdatePost()

	snap := sess.Snapshot()
	l.publishEvents(outbound, snap)
	bus.Stop()

	if !rec.has(events.EventPlayerJoined) {
		t.Fatalf("expected EventPlayerJoined, got %v", rec.seen)
	}
	if !rec.has(events.EventSessionStatus) {
		t.Fatalf("expected EventSessionStatus, got %v", rec.seen)
	}
}

func TestPublishEventsEmitsCountDownStartedOnPhaseTransition(t *testing.T) {
	sess := testSession(t)
	bus := events.NewEventBus()
	rec := &eventRecorder{}
	bus.Subscribe(events.EventCountDownStarted, "test", rec.record)

	l := &Loop{sess: sess, bus: bus, lastPhase: sess.State, knownPlayers: make(map[byte]string)}

	if err := sess.StartCountDown(); err != nil {
		t.Fatalf("StartCountDown: %v", err)
	}
	l.publishEvents(nil, sess.Snapshot())
	bus.Stop()

	if !rec.has(events.EventCountDownStarted) {
		t.Fatalf("expected EventCountDownStarted, got %v", rec.seen)
	}
}

// recordingConn is a minimal session.Conn fake, mirroring the session
// package's own fakeConn test double.
type recordingConn struct {
	addr net.Addr
}

func newRecordingConn() *recordingConn {
	return &recordingConn{addr: &net.TCPAddr{IP: net.ParseIP("10.0.0.9"), Port: 6112}}
}

func (c *recordingConn) Write(b []byte) error     { return nil }
func (c *recordingConn) Close() error             { return nil }
func (c *recordingConn) RemoteAddr() net.Addr     { return c.addr }

func reqJoinFrame(t *testing.T, sess *session.Session) (byte, []byte) {
	t.Helper()
	b := w3gs.NewBuilder()
	b.WriteUint32(1)
	b.WriteUint32(0xDEAD)
	b.WriteUint32(0)
	b.WriteUint16(6112)
	b.WriteUint32(0)
	b.WriteCString("alice")
	b.WriteCString("")
	b.WriteSockaddr(net.IPv4(127, 0, 0, 1), 0)
	return w3gs.PidReqJoin, b.Frame(w3gs.PidReqJoin)
}
