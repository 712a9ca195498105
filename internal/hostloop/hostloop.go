// Package hostloop drives the single-threaded readiness loop described in
// spec §4.8/§5: one select across the UDP socket, the TCP listener, the
// command channel and a ticker; on each wake, accept new connections,
// drain the potential and game player connections without blocking,
// advance the session, then sweep. A fixed
// 50 ms maximum wake interval guarantees timers still fire when the
// sockets are idle.
package hostloop

import (
	"context"
	"time"

	"github.com/w3gshost/w3gshost/internal/announcer"
	"github.com/w3gshost/w3gshost/internal/events"
	"github.com/w3gshost/w3gshost/internal/netio"
	"github.com/w3gshost/w3gshost/internal/session"
	"github.com/w3gshost/w3gshost/internal/util"
	"github.com/w3gshost/w3gshost/internal/w3gs"
)

var log = util.ComponentLogger("hostloop")

// MaxWakeInterval is the upper bound spec §4.8 puts on how long the loop
// may sleep before it must re-check timers even with no socket activity.
const MaxWakeInterval = 50 * time.Millisecond

// Command is a request submitted from an ambient side-service (the
// operator console, the status API) to be applied on the loop goroutine
// at the start of the next tick, preserving spec §5's single-writer
// ordering guarantee.
type Command func(*session.Session)

// Options configures the ambient policy knobs the loop applies on top of
// the core session state machine: automatic countdown start and the
// lag-kick timeout, both sourced from the config file (spec §6/§4.6).
type Options struct {
	AutoStartPlayers int
	LagKickTimeoutMS uint32
}

// Loop owns every socket and the session they feed.
type Loop struct {
	listener  *netio.Listener
	udp       *netio.UDPSocket
	sess      *session.Session
	announce  *announcer.Announcer
	commands  chan Command
	snapshots *session.SnapshotStore
	opts      Options
	bus       *events.EventBus

	lastPhase    session.State
	knownPlayers map[byte]string
	autoStarted  bool
}

// New assembles a Loop from an already-bound listener, an already-bound
// UDP socket, the session they serve, and the announcer riding the same
// UDP socket.
func New(listener *netio.Listener, udp *netio.UDPSocket, sess *session.Session, ann *announcer.Announcer, opts Options) *Loop {
	return &Loop{
		listener:     listener,
		udp:          udp,
		sess:         sess,
		announce:     ann,
		commands:     make(chan Command, 32),
		snapshots:    session.NewSnapshotStore(),
		opts:         opts,
		lastPhase:    sess.State,
		knownPlayers: make(map[byte]string),
	}
}

// Snapshots returns the read-only snapshot store the loop publishes to
// once per tick. Ambient side-services read from this, never from the
// session directly.
func (l *Loop) Snapshots() *session.SnapshotStore { return l.snapshots }

// SetEventBus attaches the event bus the loop publishes lifecycle events
// to (lobby/player/countdown/lag transitions), translated from the
// session's outbound packet log and snapshot diffs so the core session
// package never has to import anything ambient. A nil bus (the default)
// disables publishing.
func (l *Loop) SetEventBus(bus *events.EventBus) { l.bus = bus }

// Submit enqueues a command to run on the loop goroutine at the start of
// the next tick. Safe to call from any goroutine.
func (l *Loop) Submit(cmd Command) {
	select {
	case l.commands <- cmd:
	default:
		log.Warn().Msg("command queue full, dropping command")
	}
}

// SubmitStartCountDown requests a countdown start, the way a manual
// operator action from the CLI or status API does, and emits the
// corresponding command event for telemetry's audit trail.
func (l *Loop) SubmitStartCountDown() {
	if l.bus != nil {
		l.bus.Emit(context.Background(), events.Event{Type: events.EventCmdStartCountDown, Source: "operator"})
	}
	l.Submit(func(sess *session.Session) {
		if err := sess.StartCountDown(); err != nil {
			log.Warn().Err(err).Msg("start countdown rejected")
		}
	})
}

// SubmitKickPlayer requests pid's removal and emits the command event.
func (l *Loop) SubmitKickPlayer(pid byte, reason string) {
	if l.bus != nil {
		l.bus.Emit(context.Background(), events.Event{
			Type:    events.EventCmdKickPlayer,
			Source:  "operator",
			Payload: events.KickPlayerPayload{PID: pid, Reason: reason},
		})
	}
	l.Submit(func(sess *session.Session) {
		if err := sess.KickPlayer(pid); err != nil {
			log.Warn().Err(err).Uint8("pid", pid).Msg("kick rejected")
		}
	})
}

// SubmitShutdown requests the lobby close and emits the command event.
func (l *Loop) SubmitShutdown(reason string) {
	if l.bus != nil {
		l.bus.Emit(context.Background(), events.Event{
			Type:    events.EventCmdShutdownLobby,
			Source:  "operator",
			Payload: events.ShutdownReasonPayload{Reason: reason},
		})
	}
	l.Submit(func(sess *session.Session) { sess.Exit() })
}

// Run blocks, driving the loop until the session exits or the listener
// closes. Connection byte delivery comes in off the netio reader
// goroutines' channels; Run's select is the one suspension point spec §5
// allows — every state mutation below it happens on this goroutine.
func (l *Loop) Run() {
	l.announce.Announce()
	defer l.announce.Shutdown()

	ticker := time.NewTicker(MaxWakeInterval)
	defer ticker.Stop()
	lastTick := time.Now()

	conns := make(map[*netio.Conn]bool)

	for {
		if l.sess.Exiting() && len(l.sess.Players) == 0 && len(l.sess.Potentials) == 0 {
			return
		}

		select {
		case conn, ok := <-l.listener.Accepted():
			if !ok {
				log.Warn().Msg("listener closed")
				return
			}
			conns[conn] = true
			l.sess.Accept(conn)

		case pkt, ok := <-l.udp.Packets():
			if !ok {
				log.Warn().Msg("UDP socket closed")
				return
			}
			l.announce.HandlePacket(pkt)

		case cmd := <-l.commands:
			cmd(l.sess)

		case <-ticker.C:
			// fall through to the tick below; reading from every
			// connection's chunk channel happens there via a
			// zero-timeout drain so a quiet socket never blocks a tick.
		}

		l.drainConns(conns)

		now := time.Now()
		elapsed := now.Sub(lastTick)
		lastTick = now

		l.sess.Update(uint32(elapsed.Milliseconds()))
		l.applyAutoStart()
		if l.opts.LagKickTimeoutMS > 0 {
			l.sess.StopLaggers(l.opts.LagKickTimeoutMS)
		}
		outbound := l.sess.DrainOutbound()
		l.sess.UpdatePost()
		l.announce.Update(uint32(elapsed.Milliseconds()))
		l.announce.PruneLimiters()

		snap := l.sess.Snapshot()
		l.publishEvents(outbound, snap)
		l.snapshots.Publish(snap)
	}
}

// applyAutoStart starts the countdown once enough players have joined, if
// the operator configured a nonzero threshold (spec §6's "autostart —
// minimum players to start automatically, 0=manual").
func (l *Loop) applyAutoStart() {
	if l.opts.AutoStartPlayers <= 0 || l.autoStarted {
		return
	}
	if l.sess.State != session.Waiting {
		return
	}
	if l.sess.PlayerCount() < l.opts.AutoStartPlayers {
		return
	}
	if err := l.sess.StartCountDown(); err != nil {
		log.Debug().Err(err).Msg("autostart countdown not ready yet")
		return
	}
	l.autoStarted = true
}

// publishEvents translates this tick's outbound packet log and the phase
// transition visible in snap into lifecycle events, and emits them on the
// event bus if one is attached. This is the only place the loop reaches
// into the w3gs packet-type vocabulary for anything beyond routing.
func (l *Loop) publishEvents(outbound []session.OutboundPacket, snap session.Snapshot) {
	if l.bus == nil {
		return
	}
	ctx := context.Background()

	if snap.Phase != l.lastPhase {
		switch snap.Phase {
		case session.CountDown:
			l.bus.Emit(ctx, events.Event{Type: events.EventCountDownStarted, Source: "hostloop"})
		case session.Loading:
			l.bus.Emit(ctx, events.Event{Type: events.EventLoadingStarted, Source: "hostloop"})
		case session.Loaded:
			l.bus.Emit(ctx, events.Event{Type: events.EventGameStarted, Source: "hostloop"})
		case session.Waiting:
			if l.lastPhase == session.CountDown {
				l.bus.Emit(ctx, events.Event{Type: events.EventCountDownAborted, Source: "hostloop"})
			}
		}
		l.lastPhase = snap.Phase
	}

	seen := make(map[byte]bool, len(snap.Players))
	for _, p := range snap.Players {
		seen[p.PID] = true
		if _, ok := l.knownPlayers[p.PID]; !ok {
			l.knownPlayers[p.PID] = p.Name
			l.bus.Emit(ctx, events.Event{
				Type:   events.EventPlayerJoined,
				Source: "hostloop",
				Payload: events.PlayerJoinedPayload{PID: p.PID, Name: p.Name},
			})
		}
	}
	for pid, name := range l.knownPlayers {
		if !seen[pid] {
			delete(l.knownPlayers, pid)
			l.bus.Emit(ctx, events.Event{
				Type:   events.EventPlayerLeft,
				Source: "hostloop",
				Payload: events.PlayerLeftPayload{PID: pid, Name: name},
			})
		}
	}

	for _, pkt := range outbound {
		switch pkt.Type {
		case w3gs.PidStartLag:
			l.bus.Emit(ctx, events.Event{Type: events.EventLagStarted, Source: "hostloop", Payload: events.LagPayload{PID: pkt.PID}})
		case w3gs.PidStopLag:
			l.bus.Emit(ctx, events.Event{Type: events.EventLagStopped, Source: "hostloop", Payload: events.LagPayload{PID: pkt.PID}})
		}
	}

	l.bus.Emit(ctx, events.Event{
		Type:   events.EventSessionStatus,
		Source: "hostloop",
		Payload: events.SessionStatusPayload{
			HostCounter:  snap.HostCounter,
			GameName:     snap.GameName,
			Phase:        events.LobbyPhase(snap.Phase),
			PlayersTotal: snap.PlayersTotal,
			SlotsFree:    snap.SlotsFree,
			SyncCounter:  snap.SyncCounter,
		},
	})
}

// drainConns feeds every ready chunk from every tracked connection into
// the session before Update runs, so draining respects spec §5's ordering
// rule "(accept new TCP) -> (each player's frames in socket order) ->
// (each potential player's frames) -> (timers)".
func (l *Loop) drainConns(conns map[*netio.Conn]bool) {
	for conn := range conns {
		for {
			select {
			case chunk, ok := <-conn.Chunks():
				if !ok {
					delete(conns, conn)
					break
				}
				l.feed(conn, chunk)
				continue
			default:
			}
			break
		}
	}
}

// feed finds which potential player or game player owns conn and appends
// chunk to its buffer. Ownership lookup is linear, which is fine at the
// lobby sizes spec §3 bounds (<=12 slots).
func (l *Loop) feed(conn *netio.Conn, chunk []byte) {
	for _, pp := range l.sess.Potentials {
		if pp.Conn() == session.Conn(conn) {
			pp.Feed(chunk)
			return
		}
	}
	for _, p := range l.sess.Players {
		if p.Conn() == session.Conn(conn) {
			p.Feed(chunk)
			return
		}
	}
}
