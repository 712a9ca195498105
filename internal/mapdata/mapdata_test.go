package mapdata

import (
	"testing"

	"github.com/w3gshost/w3gshost/internal/w3gs"
)

func TestLoadPadsToTwelveSlotsWhenObserversAllowed(t *testing.T) {
	m := Load(Params{
		Path:    `Maps\Test.w3x`,
		Options: OptMelee,
		Slots: []w3gs.Slot{
			{Status: w3gs.SlotOpen},
			{Status: w3gs.SlotOpen},
		},
	})

	if len(m.Slots) != 12 {
		t.Fatalf("len(Slots) = %d, want 12", len(m.Slots))
	}
	for i, s := range m.Slots[2:] {
		if !s.IsObserver() {
			t.Fatalf("padded slot %d is not an observer slot: %+v", i, s)
		}
	}
}

func TestLoadMeleeAssignsSequentialTeamsAndRandomRace(t *testing.T) {
	m := Load(Params{
		Path:    `Maps\Test.w3x`,
		Options: OptMelee,
		Slots: []w3gs.Slot{
			{Status: w3gs.SlotOccupied},
			{Status: w3gs.SlotOccupied},
		},
	})

	if m.Slots[0].Team != 0 || m.Slots[1].Team != 1 {
		t.Fatalf("melee teams not sequential: %+v", m.Slots[:2])
	}
	if m.Slots[0].Race != w3gs.RaceRandom|w3gs.RaceSelectable {
		t.Fatalf("melee race = %#x, want RaceRandom|RaceSelectable", m.Slots[0].Race)
	}
}

func TestNumPlayersCountsNonObserverSlotsAfterPadding(t *testing.T) {
	m := Load(Params{
		Path:    `Maps\Test.w3x`,
		Options: OptMelee | OptCustomForces,
		Slots: []w3gs.Slot{
			{Status: w3gs.SlotOccupied},
			{Status: w3gs.SlotOccupied},
		},
	})
	if m.NumPlayers != 2 {
		t.Fatalf("NumPlayers = %d, want 2", m.NumPlayers)
	}
}

func TestValidateRejectsForwardSlashPath(t *testing.T) {
	m := Load(Params{Path: "Maps/Test.w3x", Slots: []w3gs.Slot{{Status: w3gs.SlotOccupied}}})
	if err := m.Validate(); err == nil {
		t.Fatalf("expected validation error for forward-slash path")
	}
}

func TestValidateRejectsOverlongPath(t *testing.T) {
	long := make([]byte, MaxPathLength+1)
	for i := range long {
		long[i] = 'a'
	}
	m := Load(Params{Path: string(long), Slots: []w3gs.Slot{{Status: w3gs.SlotOccupied}}})
	if err := m.Validate(); err == nil {
		t.Fatalf("expected validation error for overlong path")
	}
}

func TestLayoutStyleUnreachableLayoutTwo(t *testing.T) {
	if got := w3gs.DeriveLayoutStyle(OptCustomForces); got == 2 {
		t.Fatalf("layout style 2 must be unreachable")
	}
	if got := w3gs.DeriveLayoutStyle(OptCustomForces | OptFixedPlayerSettings); got != w3gs.LayoutCustomForcesFixed {
		t.Fatalf("got %d, want LayoutCustomForcesFixed", got)
	}
}
