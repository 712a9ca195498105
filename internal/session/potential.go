package session

import "net"

// Conn is the minimal socket contract the session needs: an owned byte
// stream it can write framed packets to and eventually close. internal/netio's
// *Conn satisfies this; tests use an in-memory fake.
type Conn interface {
	Write([]byte) error
	Close() error
	RemoteAddr() net.Addr
}

// PotentialPlayer holds a just-accepted socket's buffer until REQJOIN
// arrives, per spec §4.4. It is not a game player: only one frame type
// (REQJOIN) is accepted from it.
type PotentialPlayer struct {
	conn Conn
	buf  []byte

	// Reserved carries a team hint the session may consult when assigning
	// a slot (spec §4.6's "picks an empty slot, or the reserved one for
	// the player's team if set"). Unset by the bare TCP accept path; left
	// for a future reservation mechanism (spec has no way to populate it
	// today), so it is always false here.
	Reserved bool

	DeleteMe     bool
	DeleteReason string
}

// newPotentialPlayer wraps an accepted connection.
func newPotentialPlayer(conn Conn) *PotentialPlayer {
	return &PotentialPlayer{conn: conn}
}

// Feed appends newly read bytes to the potential player's receive buffer.
func (p *PotentialPlayer) Feed(data []byte) {
	p.buf = append(p.buf, data...)
}

// Conn returns the socket backing this potential player, so the host loop
// can match an arriving chunk to the entity that owns it.
func (p *PotentialPlayer) Conn() Conn { return p.conn }

// markDelete flags the potential player for removal by the session's sweep
// phase; callers must not remove it from any slice directly.
func (p *PotentialPlayer) markDelete(reason string) {
	p.DeleteMe = true
	p.DeleteReason = reason
}
