package session

import (
	"sync"

	"github.com/w3gshost/w3gshost/internal/w3gs"
)

// PlayerSnapshot is the read-only view of one player exposed to ambient
// side-services.
type PlayerSnapshot struct {
	PID     byte
	Name    string
	Loaded  bool
	Lagging bool
	RTTMean uint32
}

// Snapshot is the immutable state the session publishes once per tick
// for the status API, the operator CLI, and telemetry to read without
// touching session internals (spec §5: side-services never mutate
// session state directly).
type Snapshot struct {
	HostCounter  uint32
	GameName     string
	Phase        State
	Tick         uint32
	PlayersTotal int
	SlotsFree    int
	SyncCounter  uint32
	Players      []PlayerSnapshot
	Slots        []w3gs.Slot
}

// Snapshot builds a point-in-time copy of the session's externally
// relevant state.
func (s *Session) Snapshot() Snapshot {
	players := make([]PlayerSnapshot, 0, len(s.Players))
	for _, p := range s.Players {
		players = append(players, PlayerSnapshot{
			PID:     p.PID,
			Name:    p.Name,
			Loaded:  p.Loaded,
			Lagging: p.Lagging,
			RTTMean: p.RTTMean(),
		})
	}
	slots := make([]w3gs.Slot, len(s.Slots))
	copy(slots, s.Slots)

	return Snapshot{
		HostCounter:  s.cfg.HostCounter,
		GameName:     s.cfg.GameName,
		Phase:        s.State,
		Tick:         s.Tick,
		PlayersTotal: s.PlayerCount(),
		SlotsFree:    s.SlotsFree(),
		SyncCounter:  s.SyncCounter,
		Players:      players,
		Slots:        slots,
	}
}

// SnapshotStore holds the most recently published Snapshot behind a
// mutex, the single point of contact between the host loop goroutine and
// every ambient side-service goroutine.
type SnapshotStore struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewSnapshotStore returns an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Publish replaces the stored snapshot. Called once per tick from the
// host loop goroutine.
func (s *SnapshotStore) Publish(snap Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

// Load returns the most recently published snapshot.
func (s *SnapshotStore) Load() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}
