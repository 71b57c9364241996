// Package player implements the per-player data model (spec §3) and the
// login/arena lifecycle state machine (spec §4.5). The core has no
// teacher analogue for most of this — the teacher's source/server.Player
// is a flat game-state struct with no lifecycle — so this is built fresh
// from spec.md, following the teacher's general shape of small exported
// structs with thread-safe accessor methods (source/protocol/raknet.go's
// Session.Get*/Set* pattern) rather than one giant locked struct.
package player

import (
	"fmt"
	"net"
	"sync"

	"github.com/gigamon-dev/zoneserver/internal/broker"
)

// ClientKind is one of the client families named in spec §3.
type ClientKind int

const (
	KindUnknown ClientKind = iota
	KindVIE
	KindContinuum
	KindChatProtocol
	KindFake
)

func (k ClientKind) String() string {
	switch k {
	case KindVIE:
		return "vie"
	case KindContinuum:
		return "continuum"
	case KindChatProtocol:
		return "chat"
	case KindFake:
		return "fake"
	default:
		return "unknown"
	}
}

// IsStandard reports whether k is a UDP game-protocol client (spec
// Glossary: "Standard client"), as opposed to chat-protocol or fake.
func (k ClientKind) IsStandard() bool {
	return k == KindVIE || k == KindContinuum
}

// State is a node in the lifecycle state machine of spec §4.5.
type State int

const (
	StateUninitialized State = iota
	StateConnected
	StateNeedAuth
	StateWaitAuth
	StateNeedGlobalSync
	StateWaitGlobalSync1
	StateDoGlobalCallbacks
	StateSendLoginResponse
	StateLoggedIn
	StateDoFreqAndArenaSync
	StateWaitArenaSync1
	StateArenaRespAndCbs
	StatePlaying
	StateLeavingArena
	StateDoArenaSync2
	StateWaitArenaSync2
	StateLeavingZone
	StateWaitGlobalSync2
	StateTimeWait
)

var stateNames = map[State]string{
	StateUninitialized:     "uninitialized",
	StateConnected:         "connected",
	StateNeedAuth:          "need-auth",
	StateWaitAuth:          "wait-auth",
	StateNeedGlobalSync:    "need-global-sync",
	StateWaitGlobalSync1:   "wait-global-sync-1",
	StateDoGlobalCallbacks: "do-global-callbacks",
	StateSendLoginResponse: "send-login-response",
	StateLoggedIn:          "logged-in",
	StateDoFreqAndArenaSync: "do-freq-and-arena-sync",
	StateWaitArenaSync1:    "wait-arena-sync-1",
	StateArenaRespAndCbs:   "arena-resp-and-cbs",
	StatePlaying:           "playing",
	StateLeavingArena:      "leaving-arena",
	StateDoArenaSync2:      "do-arena-sync-2",
	StateWaitArenaSync2:    "wait-arena-sync-2",
	StateLeavingZone:       "leaving-zone",
	StateWaitGlobalSync2:   "wait-global-sync-2",
	StateTimeWait:          "time-wait",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// hasArenaHandle mirrors spec §3's invariant: "Arena handle is valid only
// while state is in the range {entering arena ... leaving arena}".
func (s State) hasArenaHandle() bool {
	return s >= StateDoFreqAndArenaSync && s <= StateDoArenaSync2
}

// Arena is the minimal handle the core needs: a name and the child broker
// scoped to it (spec §4.7, Glossary).
type Arena struct {
	Name   string
	Broker *broker.Broker
}

// Position is the last observed position summary (spec §3); units and
// precision are a collaborator concern, the core only forwards it.
type Position struct {
	X, Y int32
	Rotation uint16
}

// Flags is the boolean flag set of spec §3.
type Flags struct {
	Authenticated       bool
	DuringChange        bool
	WantAllOverlays     bool
	DuringQuery         bool
	NoShip              bool
	NoFlagsBalls        bool
	SentPosition        bool
	SentWeapon          bool
	SeeAllPositions     bool
	SeeOwnPosition      bool
	LeaveArenaWhenReady bool
	ObscenityFilter     bool
	IsDead              bool
}

// SlotKey identifies one allocated extra-data slot (spec §3: "a mapping
// from small integer keys to opaque extra data objects"; spec §9:
// "per-player slot, registered once, each access lock-free except a single
// reader-writer lock protecting registration").
type SlotKey struct{ id int32 }

var (
	slotMu     sync.RWMutex
	nextSlotID int32
)

// AllocateSlot mints a new, process-wide unique extra-data key. The rw
// lock here only protects the counter; per-player slot reads/writes below
// never take it.
func AllocateSlot() SlotKey {
	slotMu.Lock()
	defer slotMu.Unlock()
	nextSlotID++
	return SlotKey{id: nextSlotID}
}

// Player is the per-connection logical record of spec §3.
type Player struct {
	ID   int
	Kind ClientKind

	RemoteAddr *net.UDPAddr
	ConnectAs  string

	Name, Squad          string
	MachineID, PermanentID uint32

	Flags Flags

	mu            sync.RWMutex
	state         State
	enteringArena *Arena
	currentArena  *Arena
	lastPosition  Position

	extra sync.Map // SlotKey -> interface{}
}

// New constructs a player in StateConnected, the state the connection-init
// handler creates it in (spec §4.5).
func New(id int, kind ClientKind, addr *net.UDPAddr, connectAs string) *Player {
	return &Player{
		ID:         id,
		Kind:       kind,
		RemoteAddr: addr,
		ConnectAs:  connectAs,
		state:      StateConnected,
	}
}

// State returns the current lifecycle state.
func (p *Player) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// setState overwrites the lifecycle state unconditionally, without the
// transition-table validation that Machine applies.
func (p *Player) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// EnteringArena returns the arena handle being entered, or nil.
func (p *Player) EnteringArena() *Arena {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.state.hasArenaHandle() {
		return nil
	}
	return p.enteringArena
}

// CurrentArena returns the arena the player currently occupies, or nil.
func (p *Player) CurrentArena() *Arena {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentArena
}

func (p *Player) setEnteringArena(a *Arena) {
	p.mu.Lock()
	p.enteringArena = a
	p.mu.Unlock()
}

func (p *Player) promoteArena() {
	p.mu.Lock()
	p.currentArena = p.enteringArena
	p.enteringArena = nil
	p.mu.Unlock()
}

func (p *Player) clearArena() {
	p.mu.Lock()
	p.currentArena = nil
	p.enteringArena = nil
	p.mu.Unlock()
}

// LastPosition returns the last observed position summary.
func (p *Player) LastPosition() Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastPosition
}

// SetLastPosition records a new position summary, called by the game-layer
// position-sync handler (outside the core's scope).
func (p *Player) SetLastPosition(pos Position) {
	p.mu.Lock()
	p.lastPosition = pos
	p.mu.Unlock()
}

// ExtraData loads the value stored in slot k, if any.
func ExtraData[T any](p *Player, k SlotKey) (T, bool) {
	var zero T
	v, ok := p.extra.Load(k)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// SetExtraData stores a value in slot k.
func SetExtraData[T any](p *Player, k SlotKey, v T) {
	p.extra.Store(k, v)
}

// ClearExtraData removes slot k's value, called when a per-player-slot key
// is freed (spec §6: free-per-player-slot).
func (p *Player) ClearExtraData(k SlotKey) {
	p.extra.Delete(k)
}

// ValidName reports spec §3's invariant: non-empty, <=20 single-byte
// characters, enforced once the player has passed login.
func ValidName(name string) bool {
	return len(name) > 0 && len(name) <= 20
}
