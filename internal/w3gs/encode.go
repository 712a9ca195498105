package w3gs

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"net"

	"github.com/w3gshost/w3gshost/internal/wirebuf"
)

// Builder accumulates a packet payload with little-endian primitives, the
// way the teacher's PacketBuilder does, then wraps it with the
// [0xF7][type][length:2] frame header on Frame().
type Builder struct {
	buf bytes.Buffer
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) WriteByte8(v byte) *Builder {
	b.buf.WriteByte(v)
	return b
}

func (b *Builder) WriteUint16(v uint16) *Builder {
	var tmp [2]byte
	wirebuf.PutUint16LE(tmp[:], 0, v)
	b.buf.Write(tmp[:])
	return b
}

func (b *Builder) WriteUint32(v uint32) *Builder {
	var tmp [4]byte
	wirebuf.PutUint32LE(tmp[:], 0, v)
	b.buf.Write(tmp[:])
	return b
}

func (b *Builder) WriteBytes(data []byte) *Builder {
	b.buf.Write(data)
	return b
}

func (b *Builder) WriteCString(s string) *Builder {
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
	return b
}

// WriteSockaddr writes the 16-byte sockaddr_in-shaped block used by
// REQJOIN, SLOTINFOJOIN and PLAYERINFO: family u16, port u16 (big-endian),
// ipv4 4 bytes, 8 bytes of zero padding.
func (b *Builder) WriteSockaddr(ip net.IP, port uint16) *Builder {
	var tmp [16]byte
	tmp[0] = 2 // AF_INET
	tmp[2] = byte(port >> 8)
	tmp[3] = byte(port)
	ip4 := ip.To4()
	if ip4 == nil {
		ip4 = net.IPv4zero.To4()
	}
	copy(tmp[4:8], ip4)
	b.buf.Write(tmp[:])
	return b
}

// Bytes returns the accumulated payload bytes.
func (b *Builder) Bytes() []byte { return b.buf.Bytes() }

// Frame wraps the accumulated payload with the TCP frame header.
func (b *Builder) Frame(typ byte) []byte {
	return Frame(typ, b.buf.Bytes())
}

// Frame builds a complete [0xF7][type][length:2][payload] frame.
func Frame(typ byte, payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	out[0] = FrameMagic
	out[1] = typ
	wirebuf.PutUint16LE(out, 2, uint16(HeaderSize+len(payload)))
	copy(out[HeaderSize:], payload)
	return out
}

// EncodeSlotInfoBlock builds the slot-info block shared by SLOTINFOJOIN and
// SLOTINFO: num_slots u8 | slots 9*n | random_seed u32 | layout_style u8 |
// player_slots_total u8.
func EncodeSlotInfoBlock(slots []Slot, randomSeed uint32, layoutStyle byte, playerSlotsTotal byte) []byte {
	b := NewBuilder()
	b.WriteByte8(byte(len(slots)))
	for _, s := range slots {
		var enc [SlotSize]byte
		EncodeSlot(enc[:], s)
		b.WriteBytes(enc[:])
	}
	b.WriteUint32(randomSeed)
	b.WriteByte8(layoutStyle)
	b.WriteByte8(playerSlotsTotal)
	return b.Bytes()
}

// SlotInfoBlock is the decoded form of EncodeSlotInfoBlock's output.
type SlotInfoBlock struct {
	Slots            []Slot
	RandomSeed       uint32
	LayoutStyle      byte
	PlayerSlotsTotal byte
}

// DecodeSlotInfoBlock reverses EncodeSlotInfoBlock.
func DecodeSlotInfoBlock(payload []byte) (SlotInfoBlock, int, error) {
	if len(payload) < 1 {
		return SlotInfoBlock{}, 0, protoErr("slot_info.num_slots", wirebuf.ErrTruncated)
	}
	n := int(payload[0])
	off := 1
	slots := make([]Slot, 0, n)
	for i := 0; i < n; i++ {
		if off+SlotSize > len(payload) {
			return SlotInfoBlock{}, 0, protoErr("slot_info.slots", wirebuf.ErrTruncated)
		}
		s, err := DecodeSlot(payload[off : off+SlotSize])
		if err != nil {
			return SlotInfoBlock{}, 0, protoErr("slot_info.slots", err)
		}
		slots = append(slots, s)
		off += SlotSize
	}
	seed, err := wirebuf.Uint32LE(payload, off)
	if err != nil {
		return SlotInfoBlock{}, 0, protoErr("slot_info.random_seed", err)
	}
	off += 4
	if off+2 > len(payload) {
		return SlotInfoBlock{}, 0, protoErr("slot_info.layout", wirebuf.ErrTruncated)
	}
	block := SlotInfoBlock{
		Slots:            slots,
		RandomSeed:       seed,
		LayoutStyle:      payload[off],
		PlayerSlotsTotal: payload[off+1],
	}
	return block, off + 2, nil
}

// EncodePingFromHost builds a PING_FROM_HOST (0x01) frame: ticks u32.
func EncodePingFromHost(ticks uint32) []byte {
	return NewBuilder().WriteUint32(ticks).Frame(PidPingFromHost)
}

// EncodeSlotInfoJoin builds a SLOTINFOJOIN (0x04) frame.
func EncodeSlotInfoJoin(slots []Slot, randomSeed uint32, layoutStyle byte, playerSlotsTotal byte, joinPID byte, externalIP net.IP, externalPort uint16) []byte {
	b := NewBuilder()
	b.WriteBytes(EncodeSlotInfoBlock(slots, randomSeed, layoutStyle, playerSlotsTotal))
	b.WriteByte8(joinPID)
	b.WriteSockaddr(externalIP, externalPort)
	return b.Frame(PidSlotInfoJoin)
}

// EncodeRejectJoin builds a REJECTJOIN (0x05) frame: reason u32, one of the
// RejectJoin* constants.
func EncodeRejectJoin(reason uint32) []byte {
	return NewBuilder().WriteUint32(reason).Frame(PidRejectJoin)
}

// EncodePlayerInfo builds a PLAYERINFO (0x06) frame: join_counter u32, pid
// u8, name (cstr), 0x01, external_sockaddr 16, internal_sockaddr 16.
func EncodePlayerInfo(joinCounter uint32, pid byte, name string, externalIP net.IP, externalPort uint16, internalIP net.IP, internalPort uint16) []byte {
	b := NewBuilder()
	b.WriteUint32(joinCounter)
	b.WriteByte8(pid)
	b.WriteCString(name)
	b.WriteByte8(0x01)
	b.WriteSockaddr(externalIP, externalPort)
	b.WriteSockaddr(internalIP, internalPort)
	return b.Frame(PidPlayerInfo)
}

// EncodePlayerLeaveOthers builds a PLAYERLEAVE_OTHERS (0x07) frame: pid u8,
// reason u32. LeaveTimedOut is written as LeaveDisconnect.
func EncodePlayerLeaveOthers(pid byte, reason LeaveReason) []byte {
	if reason == LeaveTimedOut {
		reason = LeaveDisconnect
	}
	return NewBuilder().WriteByte8(pid).WriteUint32(uint32(reason)).Frame(PidPlayerLeaveOthers)
}

// EncodeGameLoadedOthers builds a GAMELOADED_OTHERS (0x08) frame: pid u8.
func EncodeGameLoadedOthers(pid byte) []byte {
	return NewBuilder().WriteByte8(pid).Frame(PidGameLoadedOthers)
}

// EncodeSlotInfo builds a SLOTINFO (0x09) frame: the slot-info block alone.
func EncodeSlotInfo(slots []Slot, randomSeed uint32, layoutStyle byte, playerSlotsTotal byte) []byte {
	return Frame(PidSlotInfo, EncodeSlotInfoBlock(slots, randomSeed, layoutStyle, playerSlotsTotal))
}

// EncodeCountDownStart builds a COUNTDOWN_START (0x0A) frame, no payload.
func EncodeCountDownStart() []byte { return Frame(PidCountDownStart, nil) }

// EncodeCountDownEnd builds a COUNTDOWN_END (0x0B) frame, no payload.
func EncodeCountDownEnd() []byte { return Frame(PidCountDownEnd, nil) }

// PackedAction is one player's queued action, ready to be packed into an
// INCOMING_ACTION or INCOMING_ACTION2 frame.
type PackedAction struct {
	PID    byte
	Action []byte
}

// ActionBatchOverhead is the per-frame capacity reservation spec §8's
// testable property uses for split-boundary math: "INCOMING_ACTION payload
// size for k actions equals 6 + Σ(len_i + 3)". The wire header is smaller
// (4 bytes for INCOMING_ACTION, 1 for INCOMING_ACTION2) — this constant is
// a uniform, slightly conservative margin applied to both subtypes when
// deciding how many whole actions fit in a frame, matching the original
// engine's capacity check rather than the literal header size.
const ActionBatchOverhead = 6

func encodePackedActions(actions []PackedAction) []byte {
	b := NewBuilder()
	for _, a := range actions {
		b.WriteByte8(a.PID)
		b.WriteUint16(uint16(len(a.Action)))
		b.WriteBytes(a.Action)
	}
	return b.Bytes()
}

// packedActionsCRC computes the 16-bit checksum carried by INCOMING_ACTION:
// the low 16 bits of the standard CRC32 (IEEE) of the packed actions.
func packedActionsCRC(packed []byte) uint16 {
	return uint16(crc32.ChecksumIEEE(packed))
}

// EncodeIncomingAction builds an INCOMING_ACTION (0x0C) frame: send_interval
// u16, crc u16 of the packed actions, then the packed actions themselves.
func EncodeIncomingAction(actions []PackedAction, sendInterval uint16) []byte {
	packed := encodePackedActions(actions)
	b := NewBuilder()
	b.WriteUint16(sendInterval)
	b.WriteUint16(packedActionsCRC(packed))
	b.WriteBytes(packed)
	return b.Frame(PidIncomingAction)
}

// EncodeIncomingAction2 builds an INCOMING_ACTION2 (0x48) frame: a leading
// 0x00 byte, then the packed actions.
func EncodeIncomingAction2(actions []PackedAction) []byte {
	b := NewBuilder()
	b.WriteByte8(0x00)
	b.WriteBytes(encodePackedActions(actions))
	return b.Frame(PidIncomingAction2)
}

// BuildActionBatch splits actions into one or more send-ready frames: every
// frame but the last is an INCOMING_ACTION2 carrying as many whole actions
// as fit; the final frame is always an INCOMING_ACTION carrying the
// remainder plus sendInterval. No frame splits a single action, and if
// there are no pending actions at all a single empty INCOMING_ACTION is
// still emitted (the session ticks sync_counter every Latency ms
// regardless of traffic).
func BuildActionBatch(actions []PackedAction, sendInterval uint16) ([][]byte, error) {
	if len(actions) == 0 {
		return [][]byte{EncodeIncomingAction(nil, sendInterval)}, nil
	}

	var frames [][]byte
	i := 0
	for i < len(actions) {
		if fitsAsFinal(actions[i:]) {
			frames = append(frames, EncodeIncomingAction(actions[i:], sendInterval))
			break
		}

		j := i
		size := ActionBatchOverhead
		for j < len(actions) {
			add := 3 + len(actions[j].Action)
			if size+add > MaxActionPayload {
				break
			}
			size += add
			j++
		}
		if j == i {
			return nil, fmt.Errorf("w3gs: action at index %d (%d bytes) exceeds max batch payload", i, len(actions[i].Action))
		}
		frames = append(frames, EncodeIncomingAction2(actions[i:j]))
		i = j
	}
	return frames, nil
}

func fitsAsFinal(actions []PackedAction) bool {
	size := ActionBatchOverhead
	for _, a := range actions {
		size += 3 + len(a.Action)
		if size > MaxActionPayload {
			return false
		}
	}
	return true
}

// EncodeChatFromHost builds a CHAT_FROM_HOST (0x0F) frame: from_pid u8,
// to_count u8, to_pids, flag u8, [extra u32 if flag has ChatFlagExtraFlags
// set], message (cstr).
func EncodeChatFromHost(fromPID byte, toPIDs []byte, scope ChatScope, broadcastScoped bool, message string) []byte {
	b := NewBuilder()
	b.WriteByte8(fromPID)
	b.WriteByte8(byte(len(toPIDs)))
	b.WriteBytes(toPIDs)
	if broadcastScoped {
		b.WriteByte8(ChatFlagExtraFlags)
		b.WriteUint32(uint32(scope))
	} else {
		b.WriteByte8(ChatFlagMessage)
	}
	b.WriteCString(message)
	return b.Frame(PidChatFromHost)
}

// LagEntry is one offender entry in a START_LAG frame.
type LagEntry struct {
	PID         byte
	TicksBehind uint32
}

// EncodeStartLag builds a START_LAG (0x10) frame: n u8, then (pid u8,
// ticks_behind u32) per offender.
func EncodeStartLag(entries []LagEntry) []byte {
	b := NewBuilder()
	b.WriteByte8(byte(len(entries)))
	for _, e := range entries {
		b.WriteByte8(e.PID)
		b.WriteUint32(e.TicksBehind)
	}
	return b.Frame(PidStartLag)
}

// EncodeStopLag builds a STOP_LAG (0x11) frame: pid u8, time_behind u32.
func EncodeStopLag(pid byte, timeBehind uint32) []byte {
	return NewBuilder().WriteByte8(pid).WriteUint32(timeBehind).Frame(PidStopLag)
}

// GameInfoParams bundles the fields of a GAMEINFO (0x30) UDP broadcast.
type GameInfoParams struct {
	Version      uint32
	HostCounter  uint32
	EntryKey     uint32
	GameName     string
	StatString   StatStringFields
	PlayersTotal uint32
	GameType     uint32
	PlayersFree  uint32
	UptimeSec    uint32
	Port         uint16
}

// EncodeGameInfo builds a GAMEINFO (0x30) UDP packet.
func EncodeGameInfo(p GameInfoParams) []byte {
	b := NewBuilder()
	b.WriteBytes(ProductTFT[:])
	b.WriteUint32(p.Version)
	b.WriteUint32(p.HostCounter)
	b.WriteUint32(p.EntryKey)
	b.WriteCString(p.GameName)
	b.WriteByte8(0x00) // empty password
	b.WriteBytes(EncodeStatString(BuildStatString(p.StatString)))
	b.WriteByte8(0x00) // stat string NUL terminator
	b.WriteUint32(p.PlayersTotal)
	b.WriteUint32(p.GameType)
	b.WriteUint32(0x01000000)
	b.WriteUint32(p.PlayersFree)
	b.WriteUint32(p.UptimeSec)
	b.WriteUint16(p.Port)
	return b.Frame(PidGameInfo)
}

// DecodeGameInfo reverses EncodeGameInfo, used by tests asserting the
// stat-string round-trip property from spec §8.
func DecodeGameInfo(payload []byte) (GameInfoParams, error) {
	var p GameInfoParams
	if len(payload) < 4 || !bytes.Equal(payload[0:4], ProductTFT[:]) {
		return p, protoErr("GAMEINFO.product", fmt.Errorf("unexpected product magic"))
	}
	off := 4
	version, err := wirebuf.Uint32LE(payload, off)
	if err != nil {
		return p, protoErr("GAMEINFO.version", err)
	}
	off += 4
	hostCounter, err := wirebuf.Uint32LE(payload, off)
	if err != nil {
		return p, protoErr("GAMEINFO.host_counter", err)
	}
	off += 4
	entryKey, err := wirebuf.Uint32LE(payload, off)
	if err != nil {
		return p, protoErr("GAMEINFO.entry_key", err)
	}
	off += 4
	nameBytes, off2, err := wirebuf.ExtractCString(payload, off)
	if err != nil {
		return p, protoErr("GAMEINFO.game_name", err)
	}
	off = off2
	off++ // skip empty password byte

	statBytes, off3, err := wirebuf.ExtractCString(payload, off)
	if err != nil {
		return p, protoErr("GAMEINFO.stat_string", err)
	}
	off = off3
	stat, err := ParseStatString(DecodeStatString(statBytes))
	if err != nil {
		return p, protoErr("GAMEINFO.stat_string", err)
	}

	playersTotal, err := wirebuf.Uint32LE(payload, off)
	if err != nil {
		return p, protoErr("GAMEINFO.players_total", err)
	}
	off += 4
	gameType, err := wirebuf.Uint32LE(payload, off)
	if err != nil {
		return p, protoErr("GAMEINFO.game_type", err)
	}
	off += 8 // game_type + unknown 0x01000000
	playersFree, err := wirebuf.Uint32LE(payload, off)
	if err != nil {
		return p, protoErr("GAMEINFO.players_free", err)
	}
	off += 4
	uptime, err := wirebuf.Uint32LE(payload, off)
	if err != nil {
		return p, protoErr("GAMEINFO.uptime", err)
	}
	off += 4
	port, err := wirebuf.Uint16LE(payload, off)
	if err != nil {
		return p, protoErr("GAMEINFO.port", err)
	}

	p.Version = version
	p.HostCounter = hostCounter
	p.EntryKey = entryKey
	p.GameName = string(nameBytes)
	p.StatString = stat
	p.PlayersTotal = playersTotal
	p.GameType = gameType
	p.PlayersFree = playersFree
	p.UptimeSec = uptime
	p.Port = port
	return p, nil
}

// EncodeCreateGame builds a CREATEGAME (0x31) UDP packet: product, version
// u32, host_counter u32.
func EncodeCreateGame(version, hostCounter uint32) []byte {
	b := NewBuilder()
	b.WriteBytes(ProductTFT[:])
	b.WriteUint32(version)
	b.WriteUint32(hostCounter)
	return b.Frame(PidCreateGame)
}

// EncodeRefreshGame builds a REFRESHGAME (0x32) UDP packet: host_counter
// u32, players u32, slots u32.
func EncodeRefreshGame(hostCounter, players, slots uint32) []byte {
	b := NewBuilder()
	b.WriteUint32(hostCounter)
	b.WriteUint32(players)
	b.WriteUint32(slots)
	return b.Frame(PidRefreshGame)
}

// EncodeDeCreateGame builds a DECREATEGAME (0x33) UDP packet: host_counter
// u32.
func EncodeDeCreateGame(hostCounter uint32) []byte {
	return NewBuilder().WriteUint32(hostCounter).Frame(PidDeCreateGame)
}

// EncodeMapCheck builds a MAPCHECK (0x3D) frame: map_path (cstr), map_size
// u32, map_info u32, map_crc u32, map_sha1 20 bytes.
func EncodeMapCheck(mapPath string, mapSize, mapInfo, mapCRC uint32, mapSHA1 [20]byte) []byte {
	b := NewBuilder()
	b.WriteCString(mapPath)
	b.WriteUint32(mapSize)
	b.WriteUint32(mapInfo)
	b.WriteUint32(mapCRC)
	b.WriteBytes(mapSHA1[:])
	return b.Frame(PidMapCheck)
}
