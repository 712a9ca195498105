// Package mapdata implements the map descriptor: an immutable record of
// map metadata (size, CRC, SHA1, dimensions, options, initial slot layout)
// loaded from the configuration file and consumed by the game session for
// map-check packets and the GAMEINFO stat string. It is a passive record —
// this package never reads an actual map file, matching the host's "map
// transfer is not implemented" stance (spec §9 / §4 non-goals).
//
// Grounded on original_source/map.cpp's CMap::Load and CMap::CheckValid.
package mapdata

import (
	"fmt"
	"strings"

	"github.com/w3gshost/w3gshost/internal/w3gs"
)

// Map option bits, mirrored from the original CMap MAPOPT enum.
const (
	OptMelee              uint32 = 0x01
	OptFixedPlayerSettings uint32 = 0x02
	OptCustomForces       uint32 = 0x04
)

// Observer modes, mirrored from CMap MAPOBS.
type ObserverMode byte

const (
	ObserversNone     ObserverMode = 0
	ObserversOnDefeat ObserverMode = 1
	ObserversAllowed  ObserverMode = 2
	ObserversReferees ObserverMode = 3
)

// Speed settings, mirrored from CMap MAPSPEED.
type Speed byte

const (
	SpeedSlow   Speed = 0
	SpeedNormal Speed = 1
	SpeedFast   Speed = 2
)

// Visibility settings, mirrored from CMap MAPVIS.
type Visibility byte

const (
	VisibilityHideTerrain   Visibility = 0
	VisibilityExplored      Visibility = 1
	VisibilityAlwaysVisible Visibility = 2
	VisibilityDefault       Visibility = 3
)

// Map is the immutable map descriptor, populated once at load from
// configuration and never mutated afterward. The zero Speed/Visibility
// selection and TeamsTogether/FixedTeams defaults mirror CMap::Load's
// hard-coded defaults (fast speed, default visibility, teams together +
// fixed teams) since the configuration file format this host reads has no
// per-map override for them.
type Map struct {
	Path   string // backslash-separated, <=53 bytes
	Size   uint32
	Info   uint32
	CRC    uint32
	SHA1   [20]byte
	Width  uint16
	Height uint16
	Options uint32

	Speed      Speed
	Visibility Visibility
	Observers  ObserverMode

	TeamsTogether bool
	FixedTeams    bool
	UnitShare     bool
	RandomHero    bool
	RandomRaces   bool

	// NumPlayers is recomputed after slot loading, per spec §9's open
	// question resolution: it equals the number of non-observer slots,
	// not the configured map_numplayers value.
	NumPlayers int

	// Slots is the initial slot layout, 1-12 entries before observer-slot
	// padding, exactly as found in map_slot1..map_slot12.
	Slots []w3gs.Slot
}

// Params bundles the configuration-sourced fields passed to Load. Byte-array
// fields (SHA1, CRC, Size, Info, Width, Height, each slot) are already
// decoded by the config loader's ParseDecimalBytes step.
type Params struct {
	Path       string
	Size       uint32
	Info       uint32
	CRC        uint32
	SHA1       [20]byte
	Width      uint16
	Height     uint16
	Options    uint32
	Slots      []w3gs.Slot
	NumPlayers int // configured map_numplayers; overwritten after load per spec §9
}

// Load builds a Map from Params, applying the same derivation rules
// CMap::Load applies: melee slot team/race assignment, SELECTABLE race bit
// when FIXEDPLAYERSETTINGS is absent, forced-random races, and padding to
// 12 slots with standard observer slots when observers are allowed.
// Load never fails on its own; call Validate on the result to enforce
// spec §7's MapInvalid checks before handing the map to a session.
func Load(p Params) *Map {
	m := &Map{
		Path:    p.Path,
		Size:    p.Size,
		Info:    p.Info,
		CRC:     p.CRC,
		SHA1:    p.SHA1,
		Width:   p.Width,
		Height:  p.Height,
		Options: p.Options,

		Speed:         SpeedFast,
		Visibility:    VisibilityDefault,
		Observers:     ObserversNone,
		TeamsTogether: true,
		FixedTeams:    true,
	}

	slots := make([]w3gs.Slot, len(p.Slots))
	copy(slots, p.Slots)

	if m.Options&OptMelee != 0 {
		for i := range slots {
			slots[i].Team = byte(i)
			slots[i].Race = w3gs.RaceRandom
		}
		if m.Observers == ObserversNone {
			m.Observers = ObserversAllowed
		}
	}

	if m.Options&OptFixedPlayerSettings == 0 {
		for i := range slots {
			slots[i].Race |= w3gs.RaceSelectable
		}
	}

	if m.RandomRaces {
		for i := range slots {
			slots[i].Race = w3gs.RaceRandom
		}
	}

	if m.Observers == ObserversAllowed || m.Observers == ObserversReferees {
		for len(slots) < 12 {
			slots = append(slots, w3gs.Slot{
				PID:            0,
				DownloadStatus: 255,
				Status:         w3gs.SlotOpen,
				Computer:       0,
				Team:           w3gs.ObserverTeam,
				Colour:         w3gs.ObserverColour,
				Race:           w3gs.RaceRandom,
			})
		}
	}

	m.Slots = slots
	m.NumPlayers = countNonObserverSlots(slots)
	return m
}

func countNonObserverSlots(slots []w3gs.Slot) int {
	n := 0
	for _, s := range slots {
		if !s.IsObserver() {
			n++
		}
	}
	return n
}

// ValidationError is returned by Validate on an invalid map descriptor,
// satisfying spec §7's MapInvalid error kind.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mapdata: invalid %s: %s", e.Field, e.Message)
}

// MaxPathLength is the client-side map_path limit preserved from
// CMap::CheckValid.
const MaxPathLength = 53

// Validate enforces the checks CMap::CheckValid performs: path length and
// backslash convention, slot count, and num_players range. Layout style 2
// (CUSTOMFORCES without requesting FIXEDPLAYERSETTINGS, yet requiring it)
// is unreachable by construction since DeriveLayoutStyle never returns it;
// no separate check is needed here (spec §9).
func (m *Map) Validate() error {
	if m.Path == "" || len(m.Path) > MaxPathLength {
		return &ValidationError{Field: "map_path", Message: fmt.Sprintf("must be 1-%d bytes, got %d", MaxPathLength, len(m.Path))}
	}
	if strings.Contains(m.Path, "/") {
		return &ValidationError{Field: "map_path", Message: "must use backslash path separators, not forward slashes"}
	}
	if m.NumPlayers == 0 || m.NumPlayers > 12 {
		return &ValidationError{Field: "map_numplayers", Message: fmt.Sprintf("must be 1-12 after slot load, got %d", m.NumPlayers)}
	}
	if len(m.Slots) == 0 || len(m.Slots) > 12 {
		return &ValidationError{Field: "map_slots", Message: fmt.Sprintf("must have 1-12 slots, got %d", len(m.Slots))}
	}
	return nil
}

// LayoutStyle derives the slot-info layout style byte for this map's
// options, delegating to the w3gs codec's shared derivation rule.
func (m *Map) LayoutStyle() byte {
	return w3gs.DeriveLayoutStyle(m.Options)
}

// GameFlags combines this map's settings into the GAMEINFO stat string's
// 32-bit flags mask.
func (m *Map) GameFlags() uint32 {
	var speed, visibility, observers uint32
	switch m.Speed {
	case SpeedSlow:
		speed = w3gs.SpeedSlow
	case SpeedNormal:
		speed = w3gs.SpeedNormal
	default:
		speed = w3gs.SpeedFast
	}
	switch m.Visibility {
	case VisibilityHideTerrain:
		visibility = w3gs.VisibilityHideTerrain
	case VisibilityExplored:
		visibility = w3gs.VisibilityExplored
	case VisibilityAlwaysVisible:
		visibility = w3gs.VisibilityAlwaysVisible
	default:
		visibility = w3gs.VisibilityDefault
	}
	switch m.Observers {
	case ObserversOnDefeat:
		observers = w3gs.ObserversOnDefeat
	case ObserversAllowed:
		observers = w3gs.ObserversAllowed
	case ObserversReferees:
		observers = w3gs.ObserversReferees
	}
	return w3gs.GameFlags(w3gs.GameFlagsParams{
		Speed:         speed,
		Visibility:    visibility,
		Observers:     observers,
		TeamsTogether: m.TeamsTogether,
		FixedTeams:    m.FixedTeams,
		UnitShare:     m.UnitShare,
		RandomHero:    m.RandomHero,
		RandomRaces:   m.RandomRaces,
	})
}
