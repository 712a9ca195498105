// Package announcer periodically broadcasts GAMEINFO over UDP while the
// lobby is open and answers SEARCHGAME with a unicast reply (spec §4.7).
// Rate limiting per source address is grounded on
// S4NDM4NN-q3master's master.go, which keys a golang.org/x/time/rate
// limiter by source IP to bound how fast one host can make it answer.
package announcer

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/w3gshost/w3gshost/internal/netio"
	"github.com/w3gshost/w3gshost/internal/session"
	"github.com/w3gshost/w3gshost/internal/util"
	"github.com/w3gshost/w3gshost/internal/w3gs"
)

var log = util.ComponentLogger("announcer")

// broadcastIntervalMS is the GAMEINFO broadcast cadence while the lobby is
// open (spec §4.7).
const broadcastIntervalMS = 5000

// searchGameRate and searchGameBurst bound replies per source address: 1/s with a burst
// of 3, the same shape q3master's getRateLimiter uses.
const (
	searchGameRate  = 1
	searchGameBurst = 3
)

const limiterIdleTimeout = 5 * time.Minute

// Announcer owns the UDP socket used for LAN discovery and drives the
// GAMEINFO/CREATEGAME/DECREATEGAME lifecycle around one session.
type Announcer struct {
	sock    *netio.UDPSocket
	sess    *session.Session
	startedAt time.Time

	accum uint32

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	seen     map[string]time.Time
}

// New wires an Announcer to an already-open UDP socket and the session it
// advertises.
func New(sock *netio.UDPSocket, sess *session.Session) *Announcer {
	return &Announcer{
		sock:      sock,
		sess:      sess,
		startedAt: time.Now(),
		limiters:  make(map[string]*rate.Limiter),
		seen:      make(map[string]time.Time),
	}
}

// Update advances the broadcast timer and should be called once per host
// loop wake with the elapsed milliseconds since the last call. It does not
// send CREATEGAME; Announce does. Once the session leaves Waiting or is
// exiting, Update stops broadcasting GAMEINFO without sending DECREATEGAME.
func (a *Announcer) Update(elapsedMS uint32) {
	if a.sess.Exiting() {
		return
	}
	if a.sess.State != session.Waiting {
		return
	}
	a.accum += elapsedMS
	if a.accum < broadcastIntervalMS {
		return
	}
	a.accum = 0
	a.broadcastGameInfo()
}

// HandlePacket dispatches one received UDP datagram: SEARCHGAME gets a
// rate-limited GAMEINFO unicast reply; anything else is ignored.
func (a *Announcer) HandlePacket(pkt netio.Packet) {
	typ, payload, _, ok, err := w3gs.TryExtractFrame(pkt.Data)
	if err != nil || !ok {
		return
	}
	if typ != w3gs.PidSearchGame {
		return
	}
	_ = payload

	if !a.allow(pkt.From.IP) {
		log.Debug().Str("ip", pkt.From.IP.String()).Msg("SEARCHGAME rate-limited")
		return
	}

	if err := a.sock.SendTo(a.gameInfoFrame(), pkt.From); err != nil {
		log.Warn().Err(err).Msg("failed to reply to SEARCHGAME")
	}
}

func (a *Announcer) allow(ip net.IP) bool {
	key := ip.String()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.seen[key] = time.Now()
	limiter, ok := a.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(searchGameRate, searchGameBurst)
		a.limiters[key] = limiter
	}
	return limiter.Allow()
}

// PruneLimiters drops rate limiters for source addresses that have been
// idle past limiterIdleTimeout, the same idle-eviction shape
// q3master's cleanupRateLimiters uses for its client map.
func (a *Announcer) PruneLimiters() {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	for ip, last := range a.seen {
		if now.Sub(last) > limiterIdleTimeout {
			delete(a.seen, ip)
			delete(a.limiters, ip)
		}
	}
}

func (a *Announcer) broadcastGameInfo() {
	if err := a.sock.Broadcast(a.gameInfoFrame()); err != nil {
		log.Warn().Err(err).Msg("GAMEINFO broadcast failed")
	}
}

func (a *Announcer) gameInfoFrame() []byte {
	m := a.sess.Map()
	stat := w3gs.StatStringFields{
		GameFlags: m.GameFlags(),
		MapWidth:  m.Width,
		MapHeight: m.Height,
		MapCRC:    m.CRC,
		MapPath:   m.Path,
		HostName:  a.sess.GameName(),
		MapSHA1:   m.SHA1,
	}
	return w3gs.EncodeGameInfo(w3gs.GameInfoParams{
		Version:      29,
		HostCounter:  a.sess.HostCounter(),
		EntryKey:     a.sess.EntryKey(),
		GameName:     a.sess.GameName(),
		StatString:   stat,
		PlayersTotal: uint32(a.sess.PlayerCount()),
		GameType:     w3gs.GameTypeCustom,
		PlayersFree:  uint32(a.sess.SlotsFree()),
		UptimeSec:    uint32(time.Since(a.startedAt).Seconds()),
		Port:         6112,
	})
}

// Announce sends the initial CREATEGAME broadcast when the lobby opens.
func (a *Announcer) Announce() {
	if err := a.sock.Broadcast(w3gs.EncodeCreateGame(29, a.sess.HostCounter())); err != nil {
		log.Warn().Err(err).Msg("CREATEGAME broadcast failed")
	}
}

// Shutdown sends DECREATEGAME. It is the only place DECREATEGAME is sent;
// a session leaving Waiting does not trigger it.
func (a *Announcer) Shutdown() {
	if err := a.sock.Broadcast(w3gs.EncodeDeCreateGame(a.sess.HostCounter())); err != nil {
		log.Warn().Err(err).Msg("DECREATEGAME broadcast failed")
	}
}
