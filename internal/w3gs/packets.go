package w3gs

// FrameMagic is the first byte of every TCP frame header.
const FrameMagic byte = 0xF7

// HeaderSize is the size of the frame header ([magic][type][length:2]).
const HeaderSize = 4

// MaxActionPayload is the maximum payload size (bytes after the header)
// for an action-broadcast frame, per spec §4.6.
const MaxActionPayload = 1452

// TCP packet type bytes, receive side (client -> host).
const (
	PidReqJoin           byte = 0x1E
	PidLeaveGame         byte = 0x21
	PidGameLoadedSelf    byte = 0x23
	PidOutgoingAction    byte = 0x26
	PidOutgoingKeepAlive byte = 0x27
	PidChatToHost        byte = 0x28
	PidMapSize           byte = 0x42
	PidPongToHost        byte = 0x46
)

// TCP packet type bytes, send side (host -> client).
const (
	PidPingFromHost       byte = 0x01
	PidSlotInfoJoin       byte = 0x04
	PidRejectJoin         byte = 0x05
	PidPlayerInfo         byte = 0x06
	PidPlayerLeaveOthers  byte = 0x07
	PidGameLoadedOthers   byte = 0x08
	PidSlotInfo           byte = 0x09
	PidCountDownStart     byte = 0x0A
	PidCountDownEnd       byte = 0x0B
	PidIncomingAction     byte = 0x0C
	PidChatFromHost       byte = 0x0F
	PidStartLag           byte = 0x10
	PidStopLag            byte = 0x11
	PidMapCheck           byte = 0x3D
	PidIncomingAction2    byte = 0x48
)

// UDP packet type bytes.
const (
	PidGameInfo     byte = 0x30
	PidCreateGame   byte = 0x31
	PidRefreshGame  byte = 0x32
	PidDeCreateGame byte = 0x33
	PidSearchGame   byte = 0x2F
)

// REJECTJOIN reason codes, restored from original_source/gameprotocol.h
// (the distilled spec left these as bare integers 9/10/27).
const (
	RejectJoinFull          uint32 = 9
	RejectJoinStarted       uint32 = 10
	RejectJoinWrongPassword uint32 = 27
)

// LeaveReason is the reason code carried by LEAVEGAME and
// PLAYERLEAVE_OTHERS, restored from original_source/gameprotocol.h.
type LeaveReason uint32

const (
	LeaveDisconnect    LeaveReason = 1
	LeaveLost          LeaveReason = 7
	LeaveLostBuildings LeaveReason = 8
	LeaveWon           LeaveReason = 9
	LeaveDraw          LeaveReason = 10
	LeaveObserver      LeaveReason = 11
	LeaveLobby         LeaveReason = 13
	// LeaveTimedOut is not a wire value from the original protocol; the
	// host uses it internally (mapped onto LeaveDisconnect on the wire)
	// to record a ping timeout as a player's leave code, distinct from an
	// explicit socket close. See game.h's EventPlayerDisconnectTimedOut.
	LeaveTimedOut LeaveReason = 0xFFFFFFFF
)

// CHAT_TO_HOST / CHAT_FROM_HOST flag values.
const (
	ChatFlagMessage          byte = 0x10
	ChatFlagMessageExtra     byte = 0x11
	ChatFlagTeamChange       byte = 0x12
	ChatFlagColourChange     byte = 0x13
	ChatFlagRaceChange       byte = 0x14
	ChatFlagHandicapChange   byte = 0x15
	ChatFlagExtraFlags       byte = 0x20
)

// ChatScope describes the audience of a CHAT_FROM_HOST message when the
// extra-flags word (flag 0x20) is present. Restored from
// original_source/gameprotocol.h, which the distillation dropped.
type ChatScope uint32

const (
	ChatScopeAll       ChatScope = 0
	ChatScopeAllies    ChatScope = 1
	ChatScopeObservers ChatScope = 2
)

// GameInfo product identifiers.
var ProductTFT = [4]byte{'P', 'X', '3', 'W'}

// Game type flavour, used in GAMEINFO.
const (
	GameTypeCustom   uint32 = 1
	GameTypeBlizzard uint32 = 9
)
