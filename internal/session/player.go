package session

import (
	"net"

	"github.com/w3gshost/w3gshost/internal/w3gs"
)

// rttRingSize bounds the round-trip sample ring per spec §3 ("a bounded
// ring of <=10").
const rttRingSize = 10

// rttRing is a fixed-capacity ring buffer of ping round-trip samples.
type rttRing struct {
	samples [rttRingSize]uint32
	count   int
	next    int
}

func (r *rttRing) push(v uint32) {
	r.samples[r.next] = v
	r.next = (r.next + 1) % rttRingSize
	if r.count < rttRingSize {
		r.count++
	}
}

// Mean returns the average of the stored samples, or 0 if empty.
func (r *rttRing) Mean() uint32 {
	if r.count == 0 {
		return 0
	}
	var sum uint32
	for i := 0; i < r.count; i++ {
		sum += r.samples[i]
	}
	return sum / uint32(r.count)
}

// GamePlayer is a fully joined player: identity, socket, per-tick
// counters, chat/keepalive queues, lag state (spec §4.5 / §3).
type GamePlayer struct {
	conn Conn
	buf  []byte

	PID        byte
	Name       string
	InternalIP net.IP
	ExternalIP net.IP

	Reserved bool

	Loaded             bool
	FinishedLoading    bool
	FinishedLoadingTick uint32

	Left       bool
	LeaveCode  w3gs.LeaveReason

	LastMessageTick uint32
	LastPingTick    uint32
	rtt             rttRing
	PingsOutstanding int

	KeepalivesPending int

	// SyncCounter is the player's own acknowledged tick, advanced by one
	// per OUTGOING_KEEPALIVE received. The session compares
	// Session.SyncCounter - SyncCounter against SyncLimit to detect lag.
	SyncCounter uint32

	// ActionQueue holds raw OUTGOING_ACTION payloads received since the
	// last action-tick drain, in arrival order.
	ActionQueue [][]byte

	Lagging            bool
	StartedLaggingTick uint32
	LastLagScreenTick  uint32

	MapCheckSent bool
	MapOK        bool

	DeleteMe     bool
	DeleteReason w3gs.LeaveReason
}

func newGamePlayer(conn Conn, pid byte, name string, internalIP, externalIP net.IP, sessionSync uint32) *GamePlayer {
	return &GamePlayer{
		conn:        conn,
		PID:         pid,
		Name:        name,
		InternalIP:  internalIP,
		ExternalIP:  externalIP,
		SyncCounter: sessionSync,
	}
}

// Feed appends newly read bytes to the player's receive buffer.
func (p *GamePlayer) Feed(data []byte) {
	p.buf = append(p.buf, data...)
}

// Conn returns the socket backing this player, so the host loop can match
// an arriving chunk to the entity that owns it.
func (p *GamePlayer) Conn() Conn { return p.conn }

// RTTMean returns the mean of the player's stored round-trip samples.
func (p *GamePlayer) RTTMean() uint32 { return p.rtt.Mean() }

func (p *GamePlayer) markDelete(reason w3gs.LeaveReason) {
	if p.DeleteMe {
		return
	}
	p.DeleteMe = true
	p.Left = true
	p.LeaveCode = reason
	p.DeleteReason = reason
}

func (p *GamePlayer) send(frame []byte) error {
	if err := p.conn.Write(frame); err != nil {
		return &IOError{PID: p.PID, Err: err}
	}
	return nil
}
