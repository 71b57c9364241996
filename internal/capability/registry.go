// Package capability defines the collaborator-facing interfaces the core
// consumes (spec §6) that operate on *player.Player, and a default
// in-memory implementation of the player registry so the transport is
// runnable and testable without a full external player-management
// collaborator wired in.
package capability

import (
	"fmt"
	"sync"

	"github.com/gigamon-dev/zoneserver/internal/player"
)

// PlayerRegistry is the collaborator interface of spec §6: allocate and
// free players, force a kick, count and iterate live players. Per-player
// extra-data slots are not allocated through it; they come from
// player.AllocateSlot.
type PlayerRegistry interface {
	NewPlayer(kind player.ClientKind) *player.Player
	FreePlayer(p *player.Player)
	KickPlayer(p *player.Player)
	Count() int
	ForEach(fn func(*player.Player))
}

// InMemoryRegistry is the default PlayerRegistry: a map of live players
// guarded by a single RWMutex, matching spec §6's "iteration with
// read/write locks".
type InMemoryRegistry struct {
	mu      sync.RWMutex
	players map[int]*player.Player
	nextID  int

	machine *player.Machine
}

// NewInMemoryRegistry constructs an empty registry bound to a lifecycle
// machine, used to drive Kick.
func NewInMemoryRegistry(machine *player.Machine) *InMemoryRegistry {
	return &InMemoryRegistry{
		players: make(map[int]*player.Player),
		machine: machine,
	}
}

func (r *InMemoryRegistry) NewPlayer(kind player.ClientKind) *player.Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	p := player.New(r.nextID, kind, nil, "")
	r.players[p.ID] = p
	return p
}

func (r *InMemoryRegistry) FreePlayer(p *player.Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.players, p.ID)
}

func (r *InMemoryRegistry) KickPlayer(p *player.Player) {
	r.machine.Kick(p, "kicked by collaborator")
}

func (r *InMemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

func (r *InMemoryRegistry) ForEach(fn func(*player.Player)) {
	r.mu.RLock()
	snapshot := make([]*player.Player, 0, len(r.players))
	for _, p := range r.players {
		snapshot = append(snapshot, p)
	}
	r.mu.RUnlock()

	for _, p := range snapshot {
		fn(p)
	}
}

// Get looks up a live player by id, for handlers that only have the id
// (e.g. decoded from a wire packet) and need the record.
func (r *InMemoryRegistry) Get(id int) (*player.Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[id]
	return p, ok
}

// ErrPlayerNotFound is returned by lookups against an id with no live
// player, e.g. a stale reference after disposal.
var ErrPlayerNotFound = fmt.Errorf("capability: player not found")
