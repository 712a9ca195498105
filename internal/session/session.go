// Package session implements the game session state machine: the
// potential player, the game player, and the game session itself (spec
// §4.4-§4.6). It is single-threaded and cooperative per spec §5 — every
// exported method here is meant to be called from one goroutine (the
// host loop), and handlers never remove a player or potential directly;
// they flag it for deletion and UpdatePost sweeps it.
package session

import (
	"fmt"
	"net"

	"github.com/w3gshost/w3gshost/internal/mapdata"
	"github.com/w3gshost/w3gshost/internal/util"
	"github.com/w3gshost/w3gshost/internal/w3gs"
)

var log = util.ComponentLogger("session")

// State is the session's lobby/countdown/loading/loaded phase (spec §3).
type State int

const (
	Waiting State = iota
	CountDown
	Loading
	Loaded
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case CountDown:
		return "countdown"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// Defaults named in spec §3/§4.
const (
	DefaultSyncLimit   = 32
	virtualHostPID     = 1
	pingIntervalMS     = 5000
	countdownStepMS    = 1000
	lagRefreshMS       = 10000
	countdownStartTick = 5
)

// Config bundles the values NewSession needs to bring up a lobby. Map must
// already have passed mapdata.Map.Validate.
type Config struct {
	HostCounter     uint32
	EntryKey        uint32
	RandomSeed      uint32
	SyncLimit       uint32
	LatencyMS       uint16
	HostPort        uint16
	GameName        string
	VirtualHostName string
	War3Version     byte
	Map             *mapdata.Map
}

// Session owns slots, potential players, game players, and every timer
// driving the lobby -> countdown -> loading -> loaded state machine (spec
// §4.6, the heart of the system).
type Session struct {
	cfg Config

	State State
	Tick  uint32 // monotonic ms accumulator advanced by Update's elapsedMS

	Slots      []w3gs.Slot
	Players    []*GamePlayer
	Potentials []*PotentialPlayer

	SyncCounter      uint32
	CountDownCounter int
	joinCounter      uint32

	VirtualHostActive bool
	virtualHostSlot   int

	slotInfoChanged bool
	exiting         bool

	pingAccum     uint32
	countdownAccum uint32
	actionAccum   uint32

	lagActive  bool
	laggers    map[byte]bool
	startedLaggingTick uint32
	lastLagScreenTick  uint32

	// Outbound is appended to by the broadcast helpers below so callers
	// (tests, the host loop's event translation) can inspect what the tick
	// produced without needing a live socket; writes already happened
	// synchronously on each player's Conn. DrainOutbound clears it once per
	// tick.
	Outbound []OutboundPacket
}

// OutboundPacket records one frame sent to one player, drained once per
// tick by the host loop to translate wire activity into lifecycle events.
type OutboundPacket struct {
	PID  byte
	Type byte
}

// NewSession builds a session from cfg: loads the map's slots (already
// padded/derived by mapdata.Load), then creates the virtual host so
// clients always see a non-empty host entry (spec §4.6 lifecycle, §9
// design note: the virtual host is a slot+pid, not a pseudo-player).
func NewSession(cfg Config) (*Session, error) {
	if cfg.Map == nil {
		return nil, fmt.Errorf("nil map")
	}
	if err := cfg.Map.Validate(); err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	if cfg.SyncLimit == 0 {
		cfg.SyncLimit = DefaultSyncLimit
	}

	s := &Session{
		cfg:     cfg,
		State:   Waiting,
		Slots:   append([]w3gs.Slot(nil), cfg.Map.Slots...),
		laggers: make(map[byte]bool),
	}
	s.createVirtualHost()
	return s, nil
}

func (s *Session) createVirtualHost() {
	for i := range s.Slots {
		if s.Slots[i].Status == w3gs.SlotOpen && !s.Slots[i].IsObserver() {
			s.Slots[i].PID = virtualHostPID
			s.Slots[i].Status = w3gs.SlotOccupied
			s.Slots[i].Computer = 0
			s.virtualHostSlot = i
			s.VirtualHostActive = true
			return
		}
	}
	log.Warn().Msg("no free slot for virtual host")
}

func (s *Session) deleteVirtualHost() {
	if !s.VirtualHostActive {
		return
	}
	s.Slots[s.virtualHostSlot].PID = 0
	s.Slots[s.virtualHostSlot].Status = w3gs.SlotOpen
	s.VirtualHostActive = false
	s.slotInfoChanged = true
}

// Accept admits a newly connected TCP socket as a potential player (spec
// §4.6: "accepts TCP connections as potential players as long as
// state=Waiting and a slot is free").
func (s *Session) Accept(conn Conn) {
	if s.State != Waiting || !s.hasFreeSlot() {
		conn.Close()
		return
	}
	s.Potentials = append(s.Potentials, newPotentialPlayer(conn))
}

func (s *Session) hasFreeSlot() bool {
	for _, sl := range s.Slots {
		if sl.Status == w3gs.SlotOpen && !sl.IsObserver() {
			return true
		}
	}
	return false
}

// allocatePID scans 1..15 skipping PIDs held by any player, the virtual
// host, or any reserved slot (spec §4.6.4).
func (s *Session) allocatePID() (byte, bool) {
	used := make(map[byte]bool, 16)
	if s.VirtualHostActive {
		used[virtualHostPID] = true
	}
	for _, p := range s.Players {
		used[p.PID] = true
	}
	for _, sl := range s.Slots {
		if sl.PID != 0 {
			used[sl.PID] = true
		}
	}
	for pid := byte(1); pid <= 15; pid++ {
		if !used[pid] {
			return pid, true
		}
	}
	return 0, false
}

// Update advances the session by elapsedMS milliseconds: drains frames
// from every player, then from every potential, then fires whichever
// timers have come due. Call UpdatePost afterward to flush slot info and
// sweep deleted entities (spec §4.8's two-phase tick).
func (s *Session) Update(elapsedMS uint32) {
	s.Tick += elapsedMS

	for _, p := range s.Players {
		s.drainPlayer(p)
	}
	for _, pp := range s.Potentials {
		s.drainPotential(pp)
	}

	s.updateTimers(elapsedMS)
}

// UpdatePost flushes one SLOTINFO broadcast if a mutation is pending, then
// sweeps every delete-me-flagged potential and player. This is the only
// point where entries are removed, preserving iteration safety for the
// handlers Update just ran (spec §5).
func (s *Session) UpdatePost() {
	if s.slotInfoChanged {
		s.broadcastSlotInfo()
		s.slotInfoChanged = false
	}

	kept := s.Potentials[:0]
	for _, pp := range s.Potentials {
		if pp.DeleteMe {
			pp.conn.Close()
			continue
		}
		kept = append(kept, pp)
	}
	s.Potentials = kept

	keptPlayers := s.Players[:0]
	for _, p := range s.Players {
		if p.DeleteMe {
			s.freeSlotFor(p.PID)
			p.conn.Close()
			continue
		}
		keptPlayers = append(keptPlayers, p)
	}
	s.Players = keptPlayers
}

func (s *Session) freeSlotFor(pid byte) {
	for i := range s.Slots {
		if s.Slots[i].PID == pid {
			s.Slots[i].PID = 0
			s.Slots[i].Status = w3gs.SlotOpen
			s.Slots[i].Computer = 0
			s.slotInfoChanged = true
			return
		}
	}
}

func (s *Session) drainPotential(pp *PotentialPlayer) {
	for {
		typ, payload, consumed, ok, err := w3gs.TryExtractFrame(pp.buf)
		if err != nil {
			log.Warn().Err(err).Msg("malformed frame from potential player")
			pp.markDelete("protocol error")
			return
		}
		if !ok {
			return
		}
		pp.buf = pp.buf[consumed:]

		if typ != w3gs.PidReqJoin {
			pp.markDelete("unexpected packet before REQJOIN")
			return
		}
		req, err := w3gs.DecodeReqJoin(payload)
		if err != nil {
			log.Warn().Err(err).Msg("malformed REQJOIN")
			pp.markDelete("protocol error")
			return
		}
		s.handleReqJoin(pp, req)
		return
	}
}

// handleReqJoin validates and (on success) promotes pp to a GamePlayer,
// per spec §4.4/§4.6's join flow and §8's seed scenarios 3/4.
func (s *Session) handleReqJoin(pp *PotentialPlayer, req w3gs.ReqJoin) {
	reject := func(reason uint32) {
		pp.conn.Write(w3gs.EncodeRejectJoin(reason))
		pp.markDelete("rejected")
	}

	if req.EntryKey != s.cfg.EntryKey {
		reject(w3gs.RejectJoinWrongPassword)
		return
	}
	if s.State != Waiting {
		reject(w3gs.RejectJoinStarted)
		return
	}
	slotIdx := s.findOpenSlot()
	if slotIdx < 0 {
		reject(w3gs.RejectJoinFull)
		return
	}
	pid, ok := s.allocatePID()
	if !ok {
		reject(w3gs.RejectJoinFull)
		return
	}

	name := req.Name
	if len(name) > 15 {
		name = name[:15]
	}

	externalIP := remoteIP(pp.conn.RemoteAddr())

	s.Slots[slotIdx].PID = pid
	s.Slots[slotIdx].Status = w3gs.SlotOccupied
	s.Slots[slotIdx].Computer = 0

	player := newGamePlayer(pp.conn, pid, name, req.InternalIP, externalIP, s.SyncCounter)
	s.joinCounter++

	// PLAYERINFO to every existing player (spec §4.6; empty on the first
	// join, per seed scenario 3's "sends PLAYERINFO to no-one").
	info := w3gs.EncodePlayerInfo(s.joinCounter, pid, name, externalIP, req.ListenPort, req.InternalIP, req.ListenPort)
	s.broadcastToExistingPlayers(info)

	s.Players = append(s.Players, player)

	join := w3gs.EncodeSlotInfoJoin(s.Slots, s.cfg.RandomSeed, s.cfg.Map.LayoutStyle(), byte(s.cfg.Map.NumPlayers), pid, externalIP, req.ListenPort)
	player.send(join)
	s.record(pid, w3gs.PidSlotInfoJoin)

	check := w3gs.EncodeMapCheck(s.cfg.Map.Path, s.cfg.Map.Size, s.cfg.Map.Info, s.cfg.Map.CRC, s.cfg.Map.SHA1)
	player.send(check)
	s.record(pid, w3gs.PidMapCheck)
	player.MapCheckSent = true

	// SLOTINFO to everyone who was already in the lobby.
	s.broadcastExceptPID(pid, w3gs.EncodeSlotInfo(s.Slots, s.cfg.RandomSeed, s.cfg.Map.LayoutStyle(), byte(s.cfg.Map.NumPlayers)))

	pp.markDelete("promoted")
}

func (s *Session) findOpenSlot() int {
	for i, sl := range s.Slots {
		if sl.Status == w3gs.SlotOpen && !sl.IsObserver() {
			return i
		}
	}
	return -1
}

func remoteIP(addr net.Addr) net.IP {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP
	}
	return net.IPv4zero
}

func (s *Session) drainPlayer(p *GamePlayer) {
	for {
		typ, payload, consumed, ok, err := w3gs.TryExtractFrame(p.buf)
		if err != nil {
			log.Warn().Err(err).Uint8("pid", p.PID).Msg("malformed frame from player")
			p.markDelete(w3gs.LeaveDisconnect)
			s.broadcastLeave(p, w3gs.LeaveDisconnect)
			return
		}
		if !ok {
			return
		}
		p.buf = p.buf[consumed:]
		p.LastMessageTick = s.Tick

		if s.dispatchPlayerFrame(p, typ, payload) {
			return
		}
	}
}

// dispatchPlayerFrame handles one player frame; it returns true if the
// player was deleted and the caller must stop draining its buffer.
func (s *Session) dispatchPlayerFrame(p *GamePlayer, typ byte, payload []byte) bool {
	switch typ {
	case w3gs.PidLeaveGame:
		reason, err := w3gs.DecodeLeaveGame(payload)
		if err != nil {
			reason = w3gs.LeaveDisconnect
		}
		p.markDelete(reason)
		s.broadcastLeave(p, reason)
		return true

	case w3gs.PidGameLoadedSelf:
		s.handlePlayerLoaded(p)

	case w3gs.PidOutgoingAction:
		action, err := w3gs.DecodeOutgoingAction(payload)
		if err != nil {
			log.Warn().Err(err).Msg("malformed OUTGOING_ACTION")
			return false
		}
		p.ActionQueue = append(p.ActionQueue, action.Action)

	case w3gs.PidOutgoingKeepAlive:
		_, _, err := w3gs.DecodeOutgoingKeepAlive(payload)
		if err == nil {
			p.SyncCounter++
			if p.KeepalivesPending > 0 {
				p.KeepalivesPending--
			}
		}

	case w3gs.PidChatToHost:
		chat, err := w3gs.DecodeChatToHost(payload)
		if err != nil {
			log.Warn().Err(err).Msg("malformed CHAT_TO_HOST")
			return false
		}
		s.handleChatToHost(p, chat)

	case w3gs.PidMapSize:
		ms, err := w3gs.DecodeMapSize(payload)
		if err == nil {
			p.MapOK = ms.MapSize == s.cfg.Map.Size
		}

	case w3gs.PidPongToHost:
		ping, err := w3gs.DecodePongToHost(payload)
		if err == nil && s.Tick >= ping {
			p.rtt.push(s.Tick - ping)
			p.PingsOutstanding = 0
		}

	default:
		log.Debug().Uint8("type", typ).Msg("unhandled player frame type")
	}
	return false
}

func (s *Session) handlePlayerLoaded(p *GamePlayer) {
	if p.FinishedLoading {
		return
	}
	p.FinishedLoading = true
	p.FinishedLoadingTick = s.Tick
	s.broadcastExceptPID(p.PID, w3gs.EncodeGameLoadedOthers(p.PID))

	if s.State == Loading && s.allPlayersLoaded() {
		s.State = Loaded
		s.actionAccum = 0
		log.Info().Msg("all players loaded, game started")
	}
}

func (s *Session) allPlayersLoaded() bool {
	for _, p := range s.Players {
		if !p.FinishedLoading {
			return false
		}
	}
	return true
}

func (s *Session) handleChatToHost(p *GamePlayer, c w3gs.ChatToHost) {
	switch c.Flag {
	case w3gs.ChatFlagMessage, w3gs.ChatFlagMessageExtra:
		targets := c.ToPIDs
		frame := w3gs.EncodeChatFromHost(p.PID, targets, w3gs.ChatScopeAll, c.Flag == w3gs.ChatFlagMessageExtra, c.Message)
		s.broadcastToPIDs(targets, frame)

	case w3gs.ChatFlagTeamChange:
		if err := s.changeTeam(p, c.NewValue); err != nil {
			log.Debug().Err(err).Msg("team change rejected")
		}
	case w3gs.ChatFlagColourChange:
		if err := s.changeColour(p, c.NewValue); err != nil {
			log.Debug().Err(err).Msg("colour change rejected")
		}
	case w3gs.ChatFlagRaceChange:
		if err := s.changeRace(p, c.NewValue); err != nil {
			log.Debug().Err(err).Msg("race change rejected")
		}
	case w3gs.ChatFlagHandicapChange:
		if err := s.changeHandicap(p, c.NewValue); err != nil {
			log.Debug().Err(err).Msg("handicap change rejected")
		}
	}
}

func (s *Session) slotIndexForPID(pid byte) int {
	for i, sl := range s.Slots {
		if sl.PID == pid {
			return i
		}
	}
	return -1
}

// changeTeam applies spec §4.6's team-mutation rule: forbidden on a melee
// map (layout style 0); on custom forces, allowed only if the target team
// has a free slot.
func (s *Session) changeTeam(p *GamePlayer, newTeam byte) error {
	if s.cfg.Map.LayoutStyle() == w3gs.LayoutMelee {
		return &SlotError{Op: "team_change", Reason: "melee map has fixed teams"}
	}
	idx := s.slotIndexForPID(p.PID)
	if idx < 0 {
		return &SlotError{Op: "team_change", Reason: "player has no slot"}
	}
	hasFree := false
	for i, sl := range s.Slots {
		if i != idx && sl.Team == newTeam && sl.Status == w3gs.SlotOpen {
			hasFree = true
			break
		}
	}
	if !hasFree && newTeam != s.Slots[idx].Team {
		return &SlotError{Op: "team_change", Reason: "target team has no free slot"}
	}
	s.Slots[idx].Team = newTeam
	s.slotInfoChanged = true
	return nil
}

// changeColour applies spec §4.6's colour rule: only in Waiting, colour
// not already in use, and the slot is not an observer.
func (s *Session) changeColour(p *GamePlayer, newColour byte) error {
	if s.State != Waiting {
		return &SlotError{Op: "colour_change", Reason: "not in lobby"}
	}
	idx := s.slotIndexForPID(p.PID)
	if idx < 0 || s.Slots[idx].IsObserver() {
		return &SlotError{Op: "colour_change", Reason: "no slot or observer"}
	}
	for i, sl := range s.Slots {
		if i != idx && sl.Status == w3gs.SlotOccupied && sl.Colour == newColour {
			return &SlotError{Op: "colour_change", Reason: "colour in use"}
		}
	}
	s.Slots[idx].Colour = newColour
	s.slotInfoChanged = true
	return nil
}

// changeRace applies spec §4.6's race rule: only if SELECTABLE is set.
func (s *Session) changeRace(p *GamePlayer, newRace byte) error {
	idx := s.slotIndexForPID(p.PID)
	if idx < 0 {
		return &SlotError{Op: "race_change", Reason: "no slot"}
	}
	if s.Slots[idx].Race&w3gs.RaceSelectable == 0 {
		return &SlotError{Op: "race_change", Reason: "race not selectable"}
	}
	s.Slots[idx].Race = newRace | w3gs.RaceSelectable
	s.slotInfoChanged = true
	return nil
}

// changeHandicap applies spec §4.6's handicap rule: one of
// w3gs.ValidHandicaps.
func (s *Session) changeHandicap(p *GamePlayer, newHandicap byte) error {
	if !w3gs.ValidHandicap(newHandicap) {
		return &SlotError{Op: "handicap_change", Reason: "not one of 50/60/70/80/90/100"}
	}
	idx := s.slotIndexForPID(p.PID)
	if idx < 0 {
		return &SlotError{Op: "handicap_change", Reason: "no slot"}
	}
	s.Slots[idx].Handicap = newHandicap
	s.slotInfoChanged = true
	return nil
}

// StartCountDown requires every occupied, human slot's player to have
// reported a matching MAPSIZE (spec §4.6's countdown precondition).
func (s *Session) StartCountDown() error {
	if s.State != Waiting {
		return &SlotError{Op: "start_countdown", Reason: "not in lobby"}
	}
	for _, sl := range s.Slots {
		if sl.Status != w3gs.SlotOccupied || sl.Computer != 0 || sl.PID == virtualHostPID {
			continue
		}
		p := s.playerByPID(sl.PID)
		if p == nil || !p.MapOK {
			return &SlotError{Op: "start_countdown", Reason: "not every player has a verified map"}
		}
	}
	s.State = CountDown
	s.CountDownCounter = countdownStartTick
	s.countdownAccum = 0
	return nil
}

// KickPlayer marks the player identified by pid for removal with
// LeaveDisconnect and broadcasts PLAYERLEAVE_OTHERS, mirroring what a
// normal LEAVE_GAME frame does. It is the one mutation ambient
// side-services (the operator CLI, the status API) are allowed to
// request, and only ever runs on the host loop goroutine via a
// submitted command.
func (s *Session) KickPlayer(pid byte) error {
	p := s.playerByPID(pid)
	if p == nil {
		return &SlotError{Op: "kick", Reason: "no such player"}
	}
	p.markDelete(w3gs.LeaveDisconnect)
	s.broadcastLeave(p, w3gs.LeaveDisconnect)
	return nil
}

func (s *Session) playerByPID(pid byte) *GamePlayer {
	for _, p := range s.Players {
		if p.PID == pid {
			return p
		}
	}
	return nil
}

func (s *Session) updateTimers(elapsedMS uint32) {
	switch s.State {
	case Waiting:
		s.updatePingTimer(elapsedMS)
	case CountDown:
		s.updateCountdown(elapsedMS)
	case Loading:
		// waiting on GAMELOADED_SELF from every player; no timer work.
	case Loaded:
		s.updatePingTimer(elapsedMS)
		s.updateActionTick(elapsedMS)
	}
}

func (s *Session) updatePingTimer(elapsedMS uint32) {
	s.pingAccum += elapsedMS
	if s.pingAccum < pingIntervalMS {
		return
	}
	s.pingAccum = 0
	frame := w3gs.EncodePingFromHost(s.Tick)
	for _, p := range s.Players {
		if p.Left {
			continue
		}
		p.PingsOutstanding++
		if p.send(frame) == nil {
			s.record(p.PID, w3gs.PidPingFromHost)
		}
		if s.State == Waiting && p.PingsOutstanding >= 3 {
			p.markDelete(w3gs.LeaveTimedOut)
			s.broadcastLeave(p, w3gs.LeaveTimedOut)
		}
	}
}

func (s *Session) updateCountdown(elapsedMS uint32) {
	s.countdownAccum += elapsedMS
	if s.countdownAccum < countdownStepMS {
		return
	}
	s.countdownAccum = 0

	if s.CountDownCounter > 0 {
		msg := fmt.Sprintf("Countdown: %d...", s.CountDownCounter)
		s.broadcastAll(w3gs.EncodeChatFromHost(virtualHostPID, nil, w3gs.ChatScopeAll, false, msg))
		s.CountDownCounter--
		return
	}

	s.deleteVirtualHost()
	s.broadcastAll(w3gs.EncodeCountDownStart())
	s.broadcastAll(w3gs.EncodeCountDownEnd())
	s.State = Loading
	for _, p := range s.Players {
		p.FinishedLoading = false
	}
}

func (s *Session) updateActionTick(elapsedMS uint32) {
	if s.lagActive {
		s.updateLagScreen(elapsedMS)
		return
	}

	s.actionAccum += elapsedMS
	if s.actionAccum < uint32(s.cfg.LatencyMS) {
		return
	}
	s.actionAccum = 0
	s.SyncCounter++

	packed := s.drainActions()
	frames, err := w3gs.BuildActionBatch(packed, s.cfg.LatencyMS)
	if err != nil {
		log.Error().Err(err).Msg("failed to build action batch")
		return
	}
	for _, f := range frames {
		s.broadcastAll(f)
	}
	for _, p := range s.Players {
		p.KeepalivesPending++
	}

	s.checkLaggers()
}

func (s *Session) drainActions() []w3gs.PackedAction {
	var packed []w3gs.PackedAction
	for _, p := range s.Players {
		for _, a := range p.ActionQueue {
			packed = append(packed, w3gs.PackedAction{PID: p.PID, Action: a})
		}
		p.ActionQueue = nil
	}
	return packed
}

// checkLaggers implements spec §4.6's lag screen: any player behind the
// session's sync counter by more than SyncLimit triggers START_LAG and
// halts further action broadcasts until they catch up.
func (s *Session) checkLaggers() {
	var entries []w3gs.LagEntry
	for _, p := range s.Players {
		if p.Left {
			continue
		}
		behind := s.SyncCounter - p.SyncCounter
		if behind > s.cfg.SyncLimit {
			entries = append(entries, w3gs.LagEntry{PID: p.PID, TicksBehind: behind})
		}
	}
	if len(entries) == 0 {
		return
	}

	s.lagActive = true
	s.startedLaggingTick = s.Tick
	s.lastLagScreenTick = s.Tick
	for _, e := range entries {
		s.laggers[e.PID] = true
	}
	s.broadcastAll(w3gs.EncodeStartLag(entries))
}

func (s *Session) updateLagScreen(elapsedMS uint32) {
	threshold := s.SyncCounter - s.cfg.SyncLimit

	for pid := range s.laggers {
		p := s.playerByPID(pid)
		if p == nil {
			delete(s.laggers, pid)
			continue
		}
		if p.SyncCounter >= threshold {
			s.broadcastAll(w3gs.EncodeStopLag(pid, s.Tick-s.startedLaggingTick))
			delete(s.laggers, pid)
		}
	}

	if len(s.laggers) == 0 {
		s.lagActive = false
		return
	}

	if s.Tick-s.lastLagScreenTick < lagRefreshMS {
		return
	}
	s.lastLagScreenTick = s.Tick

	var entries []w3gs.LagEntry
	for pid := range s.laggers {
		p := s.playerByPID(pid)
		if p == nil {
			continue
		}
		behind := s.SyncCounter - p.SyncCounter
		s.broadcastAll(w3gs.EncodeStopLag(pid, s.Tick-s.startedLaggingTick))
		entries = append(entries, w3gs.LagEntry{PID: pid, TicksBehind: behind})
	}
	s.broadcastAll(w3gs.EncodeStartLag(entries))
}

// StopLaggers kicks any player still lagging after timeoutMS has elapsed
// since the lag screen started, per spec §4.6's operator-configured
// auto-kick timeout.
func (s *Session) StopLaggers(timeoutMS uint32) {
	if !s.lagActive || s.Tick-s.startedLaggingTick < timeoutMS {
		return
	}
	for pid := range s.laggers {
		p := s.playerByPID(pid)
		if p == nil {
			continue
		}
		p.markDelete(w3gs.LeaveDisconnect)
		s.broadcastLeave(p, w3gs.LeaveDisconnect)
		delete(s.laggers, pid)
	}
	s.lagActive = false
}

func (s *Session) broadcastLeave(p *GamePlayer, reason w3gs.LeaveReason) {
	s.broadcastExceptPID(p.PID, w3gs.EncodePlayerLeaveOthers(p.PID, reason))
}

func (s *Session) broadcastSlotInfo() {
	frame := w3gs.EncodeSlotInfo(s.Slots, s.cfg.RandomSeed, s.cfg.Map.LayoutStyle(), byte(s.cfg.Map.NumPlayers))
	s.broadcastAll(frame)
}

func (s *Session) broadcastAll(frame []byte) {
	for _, p := range s.Players {
		if p.Left {
			continue
		}
		if p.send(frame) == nil {
			s.record(p.PID, frameType(frame))
		}
	}
}

func (s *Session) broadcastExceptPID(exclude byte, frame []byte) {
	for _, p := range s.Players {
		if p.Left || p.PID == exclude {
			continue
		}
		if p.send(frame) == nil {
			s.record(p.PID, frameType(frame))
		}
	}
}

// broadcastToExistingPlayers is used by the join flow before the new
// player is appended to s.Players, so it is identical to broadcastAll at
// the call site but named for that intent.
func (s *Session) broadcastToExistingPlayers(frame []byte) {
	for _, p := range s.Players {
		if p.Left {
			continue
		}
		if p.send(frame) == nil {
			s.record(p.PID, frameType(frame))
		}
	}
}

func (s *Session) broadcastToPIDs(pids []byte, frame []byte) {
	if len(pids) == 0 {
		s.broadcastAll(frame)
		return
	}
	want := make(map[byte]bool, len(pids))
	for _, pid := range pids {
		want[pid] = true
	}
	for _, p := range s.Players {
		if p.Left || !want[p.PID] {
			continue
		}
		if p.send(frame) == nil {
			s.record(p.PID, frameType(frame))
		}
	}
}

func (s *Session) record(pid byte, typ byte) {
	s.Outbound = append(s.Outbound, OutboundPacket{PID: pid, Type: typ})
}

// DrainOutbound returns every packet recorded since the last drain and
// clears the buffer. The host loop calls this once per tick to translate
// wire activity into lifecycle events for telemetry and the status API,
// without the session importing anything ambient itself.
func (s *Session) DrainOutbound() []OutboundPacket {
	out := s.Outbound
	s.Outbound = nil
	return out
}

func frameType(frame []byte) byte {
	if len(frame) < 2 {
		return 0
	}
	return frame[1]
}

// Exit sets the exiting flag, immediately sends every player a
// PLAYERLEAVE_OTHERS carrying its own PID with reason LeaveLobby, and
// marks every player and potential for deletion; the next UpdatePost
// sweep closes their sockets (spec §5's cancellation rule).
func (s *Session) Exit() {
	if s.exiting {
		return
	}
	s.exiting = true
	for _, p := range s.Players {
		p.send(w3gs.EncodePlayerLeaveOthers(p.PID, w3gs.LeaveLobby))
		p.markDelete(w3gs.LeaveLobby)
	}
	for _, pp := range s.Potentials {
		pp.markDelete("session exiting")
	}
}

// Exiting reports whether Exit has been called.
func (s *Session) Exiting() bool { return s.exiting }

// PlayerCount returns the number of joined (non-left) players. The
// announcer fills GAMEINFO's free-slot field from SlotsFree, not from this.
func (s *Session) PlayerCount() int {
	n := 0
	for _, p := range s.Players {
		if !p.Left {
			n++
		}
	}
	return n
}

// SlotsFree returns the number of open, non-observer slots.
func (s *Session) SlotsFree() int {
	n := 0
	for _, sl := range s.Slots {
		if sl.Status == w3gs.SlotOpen && !sl.IsObserver() {
			n++
		}
	}
	return n
}

// HostCounter, EntryKey, and GameName expose the identifying fields the
// announcer needs without reaching into Config directly.
func (s *Session) HostCounter() uint32    { return s.cfg.HostCounter }
func (s *Session) EntryKey() uint32       { return s.cfg.EntryKey }
func (s *Session) GameName() string       { return s.cfg.GameName }
func (s *Session) Map() *mapdata.Map      { return s.cfg.Map }
