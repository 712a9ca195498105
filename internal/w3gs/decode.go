package w3gs

import (
	"fmt"
	"net"

	"github.com/w3gshost/w3gshost/internal/wirebuf"
)

// ProtocolError wraps a malformed-frame or malformed-payload condition:
// length mismatch, missing NUL terminator, or an out-of-range field. Per
// spec §7, the response to a ProtocolError is to close the offending
// connection and log; it never aborts the session.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("w3gs: protocol error in %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protoErr(op string, err error) error {
	return &ProtocolError{Op: op, Err: err}
}

// TryExtractFrame attempts to pull one complete [0xF7][type][len:2][payload]
// frame off the front of buf. It returns ok=false (with a nil error) when
// buf does not yet contain a complete frame, so the caller can wait for
// more bytes on the next readiness tick. consumed is the number of bytes to
// remove from the front of buf on success.
func TryExtractFrame(buf []byte) (typ byte, payload []byte, consumed int, ok bool, err error) {
	if len(buf) < HeaderSize {
		return 0, nil, 0, false, nil
	}
	if buf[0] != FrameMagic {
		return 0, nil, 0, false, protoErr("frame", fmt.Errorf("bad magic byte %#x", buf[0]))
	}
	length, _ := wirebuf.Uint16LE(buf, 2)
	if int(length) < HeaderSize {
		return 0, nil, 0, false, protoErr("frame", fmt.Errorf("length %d shorter than header", length))
	}
	if len(buf) < int(length) {
		return 0, nil, 0, false, nil
	}
	return buf[1], buf[HeaderSize:length], int(length), true, nil
}

// ReqJoin is the decoded REQJOIN (0x1E) payload.
type ReqJoin struct {
	HostCounter uint32
	EntryKey    uint32
	ListenPort  uint16
	PeerKey     uint32
	Name        string
	InternalIP  net.IP
}

// DecodeReqJoin decodes a REQJOIN payload:
// host_counter u32, entry_key u32, unknown u32, listen_port u16, peer_key
// u32, name (cstr), unknown (cstr), internal_sockaddr (16 bytes).
func DecodeReqJoin(payload []byte) (ReqJoin, error) {
	var r ReqJoin
	hostCounter, err := wirebuf.Uint32LE(payload, 0)
	if err != nil {
		return r, protoErr("REQJOIN.host_counter", err)
	}
	entryKey, err := wirebuf.Uint32LE(payload, 4)
	if err != nil {
		return r, protoErr("REQJOIN.entry_key", err)
	}
	// bytes 8:12 unknown
	listenPort, err := wirebuf.Uint16LE(payload, 12)
	if err != nil {
		return r, protoErr("REQJOIN.listen_port", err)
	}
	peerKey, err := wirebuf.Uint32LE(payload, 14)
	if err != nil {
		return r, protoErr("REQJOIN.peer_key", err)
	}

	nameBytes, off, err := wirebuf.ExtractCString(payload, 18)
	if err != nil {
		return r, protoErr("REQJOIN.name", err)
	}
	_, off, err = wirebuf.ExtractCString(payload, off) // unknown cstr
	if err != nil {
		return r, protoErr("REQJOIN.unknown_cstr", err)
	}

	if off+16 > len(payload) {
		return r, protoErr("REQJOIN.internal_sockaddr", wirebuf.ErrTruncated)
	}
	sockaddr := payload[off : off+16]
	// Sockaddr layout: family u16, port u16, ipv4 4 bytes, padding.
	ip := net.IPv4(sockaddr[4], sockaddr[5], sockaddr[6], sockaddr[7])

	r.HostCounter = hostCounter
	r.EntryKey = entryKey
	r.ListenPort = listenPort
	r.PeerKey = peerKey
	r.Name = string(nameBytes)
	r.InternalIP = ip
	return r, nil
}

// DecodeLeaveGame decodes a LEAVEGAME (0x21) payload: reason u32.
func DecodeLeaveGame(payload []byte) (LeaveReason, error) {
	reason, err := wirebuf.Uint32LE(payload, 0)
	if err != nil {
		return 0, protoErr("LEAVEGAME.reason", err)
	}
	return LeaveReason(reason), nil
}

// DecodeGameLoadedSelf decodes a GAMELOADED_SELF (0x23) payload, which
// carries no fields; its mere presence signals true.
func DecodeGameLoadedSelf(payload []byte) (bool, error) {
	return true, nil
}

// OutgoingAction is the decoded OUTGOING_ACTION (0x26) payload. PID is not
// on the wire — the caller fills it in from the socket's already-known
// player identity.
type OutgoingAction struct {
	CRC    uint32
	Action []byte
}

// DecodeOutgoingAction decodes an OUTGOING_ACTION payload: crc u32, action
// bytes.
func DecodeOutgoingAction(payload []byte) (OutgoingAction, error) {
	crc, err := wirebuf.Uint32LE(payload, 0)
	if err != nil {
		return OutgoingAction{}, protoErr("OUTGOING_ACTION.crc", err)
	}
	return OutgoingAction{CRC: crc, Action: payload[4:]}, nil
}

// DecodeOutgoingKeepAlive decodes an OUTGOING_KEEPALIVE (0x27) payload:
// pid u8, checksum u32. The session does not check the checksum; it counts
// each keepalive as one acknowledged tick.
func DecodeOutgoingKeepAlive(payload []byte) (pid byte, checksum uint32, err error) {
	if len(payload) < 1 {
		return 0, 0, protoErr("OUTGOING_KEEPALIVE.pid", wirebuf.ErrTruncated)
	}
	pid = payload[0]
	checksum, err = wirebuf.Uint32LE(payload, 1)
	if err != nil {
		return 0, 0, protoErr("OUTGOING_KEEPALIVE.checksum", err)
	}
	return pid, checksum, nil
}

// ChatToHost is the decoded CHAT_TO_HOST (0x28) payload.
type ChatToHost struct {
	FromPID    byte
	ToPIDs     []byte
	Flag       byte
	Message    string // set when Flag == ChatFlagMessage or ChatFlagMessageExtra
	ExtraFlags uint32 // set when Flag == ChatFlagMessageExtra
	NewValue   byte   // set when Flag is one of the slot-mutation flags (0x12-0x15)
}

// DecodeChatToHost decodes a CHAT_TO_HOST payload: from_pid u8, to_count
// u8, to_pids bytes, flag u8, tail (discriminated on flag per spec §4.3).
func DecodeChatToHost(payload []byte) (ChatToHost, error) {
	var c ChatToHost
	if len(payload) < 2 {
		return c, protoErr("CHAT_TO_HOST.header", wirebuf.ErrTruncated)
	}
	c.FromPID = payload[0]
	toCount := int(payload[1])
	off := 2
	if off+toCount > len(payload) {
		return c, protoErr("CHAT_TO_HOST.to_pids", wirebuf.ErrTruncated)
	}
	c.ToPIDs = payload[off : off+toCount]
	off += toCount

	if off >= len(payload) {
		return c, protoErr("CHAT_TO_HOST.flag", wirebuf.ErrTruncated)
	}
	c.Flag = payload[off]
	off++

	switch c.Flag {
	case ChatFlagMessage:
		msg, _, err := wirebuf.ExtractCString(payload, off)
		if err != nil {
			return c, protoErr("CHAT_TO_HOST.message", err)
		}
		c.Message = string(msg)
	case ChatFlagMessageExtra:
		extra, err := wirebuf.Uint32LE(payload, off)
		if err != nil {
			return c, protoErr("CHAT_TO_HOST.extra_flags", err)
		}
		c.ExtraFlags = extra
		msg, _, err := wirebuf.ExtractCString(payload, off+4)
		if err != nil {
			return c, protoErr("CHAT_TO_HOST.message", err)
		}
		c.Message = string(msg)
	case ChatFlagTeamChange, ChatFlagColourChange, ChatFlagRaceChange, ChatFlagHandicapChange:
		if off >= len(payload) {
			return c, protoErr("CHAT_TO_HOST.new_value", wirebuf.ErrTruncated)
		}
		c.NewValue = payload[off]
	default:
		return c, protoErr("CHAT_TO_HOST.flag", fmt.Errorf("unknown flag %#x", c.Flag))
	}

	return c, nil
}

// MapSize is the decoded MAPSIZE (0x42) payload.
type MapSize struct {
	SizeFlag byte
	MapSize  uint32
}

// DecodeMapSize decodes a MAPSIZE payload: unknown 4 bytes, size_flag u8,
// map_size u32.
func DecodeMapSize(payload []byte) (MapSize, error) {
	if len(payload) < 5 {
		return MapSize{}, protoErr("MAPSIZE.header", wirebuf.ErrTruncated)
	}
	sizeFlag := payload[4]
	mapSize, err := wirebuf.Uint32LE(payload, 5)
	if err != nil {
		return MapSize{}, protoErr("MAPSIZE.map_size", err)
	}
	return MapSize{SizeFlag: sizeFlag, MapSize: mapSize}, nil
}

// DecodePongToHost decodes a PONG_TO_HOST (0x46) payload: ping u32, the
// echoed tick the session sent in PING_FROM_HOST.
func DecodePongToHost(payload []byte) (uint32, error) {
	ping, err := wirebuf.Uint32LE(payload, 0)
	if err != nil {
		return 0, protoErr("PONG_TO_HOST.ping", err)
	}
	return ping, nil
}
