// Package w3gs implements the W3GS wire codec: packet framing, the
// per-packet encode/decode contracts of spec §6, the slot record, the
// GAMEINFO stat-string encoding, and the game-flags/layout-style derivation
// rules. All multi-byte integers are little-endian, except the port inside
// a sockaddr block, which is big-endian (network order).
package w3gs

import "fmt"

// SlotSize is the fixed on-wire size of a Slot record.
const SlotSize = 9

// Slot status values.
const (
	SlotOpen     byte = 0
	SlotClosed   byte = 1
	SlotOccupied byte = 2
)

// Slot computer type (AI difficulty).
const (
	ComputerEasy   byte = 0
	ComputerNormal byte = 1
	ComputerInsane byte = 2
)

// Race bitmask values.
const (
	RaceHuman      byte = 1 << 0
	RaceOrc        byte = 1 << 1
	RaceNightElf   byte = 1 << 2
	RaceUndead     byte = 1 << 3
	RaceRandom     byte = 1 << 5
	RaceSelectable byte = 1 << 6
)

// ObserverTeam and ObserverColour are the sentinel team/colour values used
// by observer slots.
const (
	ObserverTeam   byte = 12
	ObserverColour byte = 12
)

// Valid handicap values, per spec §4.6 slot mutation rules.
var ValidHandicaps = [6]byte{50, 60, 70, 80, 90, 100}

// Slot is the 9-byte lobby slot record described in spec §3. It is a value
// type: callers copy it around freely and the session holds a slice of
// them.
type Slot struct {
	PID             byte // 0 = empty/open/closed; else the player's assigned PID
	DownloadStatus  byte // 0-100, or 255 = unknown
	Status          byte // SlotOpen / SlotClosed / SlotOccupied
	Computer        byte // 0 = human, 1 = AI
	Team            byte // 0-11 for players, ObserverTeam for observers
	Colour          byte // 0-11 unique among human/AI slots, ObserverColour for observers
	Race            byte // bitmask over Race* constants
	ComputerType    byte // AI difficulty, 0-2
	Handicap        byte // one of ValidHandicaps
}

// IsObserver reports whether the slot is configured as an observer slot.
func (s Slot) IsObserver() bool {
	return s.Team == ObserverTeam
}

// EncodeSlot writes the slot's 9 bytes in wire order into dst, which must
// be at least SlotSize bytes long.
func EncodeSlot(dst []byte, s Slot) {
	dst[0] = s.PID
	dst[1] = s.DownloadStatus
	dst[2] = s.Status
	dst[3] = s.Computer
	dst[4] = s.Team
	dst[5] = s.Colour
	dst[6] = s.Race
	dst[7] = s.ComputerType
	dst[8] = s.Handicap
}

// DecodeSlot reads a 9-byte slot record from src. Fails if src is shorter
// than SlotSize.
func DecodeSlot(src []byte) (Slot, error) {
	if len(src) < SlotSize {
		return Slot{}, fmt.Errorf("w3gs: short slot record: %d bytes", len(src))
	}
	return Slot{
		PID:            src[0],
		DownloadStatus: src[1],
		Status:         src[2],
		Computer:       src[3],
		Team:           src[4],
		Colour:         src[5],
		Race:           src[6],
		ComputerType:   src[7],
		Handicap:       src[8],
	}, nil
}

// ValidHandicap reports whether h is one of the six accepted handicap
// percentages.
func ValidHandicap(h byte) bool {
	for _, v := range ValidHandicaps {
		if v == h {
			return true
		}
	}
	return false
}
