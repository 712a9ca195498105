// Package events defines event types and enumerations used by the lobby
// host and its ambient side-services.
package events

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Lobby lifecycle
	EventLobbyCreated     EventType = "lobby_created"
	EventLobbyClosed      EventType = "lobby_closed"
	EventPlayerJoined     EventType = "player_joined"
	EventPlayerLeft       EventType = "player_left"
	EventCountDownStarted EventType = "countdown_started"
	EventCountDownAborted EventType = "countdown_aborted"
	EventLoadingStarted   EventType = "loading_started"
	EventGameStarted      EventType = "game_started"
	EventLagStarted       EventType = "lag_started"
	EventLagStopped       EventType = "lag_stopped"

	// Operator commands, submitted from the CLI or status API and
	// forwarded to the host loop.
	EventCmdStartCountDown EventType = "cmd_start_countdown"
	EventCmdKickPlayer     EventType = "cmd_kick_player"
	EventCmdShutdownLobby  EventType = "cmd_shutdown_lobby"

	// Ambient
	EventSessionStatus EventType = "session_status"
)

// LobbyPhase mirrors session.State as a value safe to expose outside the
// session package (JSON, MQTT, the status API) without importing it.
type LobbyPhase int

const (
	PhaseWaiting LobbyPhase = iota
	PhaseCountDown
	PhaseLoading
	PhaseLoaded
)

var lobbyPhaseStrings = map[LobbyPhase]string{
	PhaseWaiting:   "waiting",
	PhaseCountDown: "countdown",
	PhaseLoading:   "loading",
	PhaseLoaded:    "loaded",
}

// String returns the lowercase phase name.
func (p LobbyPhase) String() string {
	if s, ok := lobbyPhaseStrings[p]; ok {
		return s
	}
	return "unknown"
}

// MarshalJSON serializes LobbyPhase as a JSON string (e.g. "waiting").
func (p LobbyPhase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// LobbyCreatedPayload announces a new lobby opening for discovery.
type LobbyCreatedPayload struct {
	HostCounter uint32
	GameName    string
	MapPath     string
	HostPort    uint16
}

// LobbyClosedPayload announces a lobby tearing down.
type LobbyClosedPayload struct {
	HostCounter uint32
	Reason      string
}

// PlayerJoinedPayload announces a successful REQJOIN.
type PlayerJoinedPayload struct {
	PID  byte
	Name string
}

// PlayerLeftPayload announces a player departure. Reason carries the
// wire LEAVE_GAME code as a plain uint32 so this package need not import
// internal/w3gs.
type PlayerLeftPayload struct {
	PID    byte
	Name   string
	Reason uint32
}

// LagPayload announces a lag-screen transition for one player.
type LagPayload struct {
	PID         byte
	TicksBehind uint32
}

// KickPlayerPayload requests a player be removed from the lobby.
type KickPlayerPayload struct {
	PID    byte
	Reason string
}

// SessionStatusPayload is the periodic snapshot the host loop publishes
// once per tick for telemetry and the status API to read without
// touching session state directly.
type SessionStatusPayload struct {
	HostCounter  uint32
	GameName     string
	Phase        LobbyPhase
	PlayersTotal int
	SlotsFree    int
	SyncCounter  uint32
}

// ShutdownReasonPayload announces the lobby operator requested a clean
// shutdown, carrying a free-form reason for the telemetry log.
type ShutdownReasonPayload struct {
	Reason string
}
