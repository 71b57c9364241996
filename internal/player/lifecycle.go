package player

import (
	"fmt"
	"sync"

	"github.com/gigamon-dev/zoneserver/internal/broker"
)

// AuthCode is one of the authentication result codes named in spec §6.
type AuthCode int

const (
	AuthOK AuthCode = iota
	AuthNewName
	AuthBadPassword
	AuthArenaFull
	AuthLockedOut
	AuthNoPermission
	AuthSpecOnly
	AuthTooManyPoints
	AuthTooSlow
	AuthNoScores
	AuthCustomText
)

// AuthResult is what the authentication collaborator's done-cb carries
// (spec §6). CustomText's exact framing is left to the collaborator per
// spec §9's open question; the core forwards it verbatim.
type AuthResult struct {
	Code       AuthCode
	Name       string
	Squad      string
	CustomText string
}

// Succeeded reports whether the result should advance the state machine
// past wait-auth, per the success codes named in spec §6 (OK/SpecOnly/NoScores).
func (r AuthResult) Succeeded() bool {
	return r.Code == AuthOK || r.Code == AuthSpecOnly || r.Code == AuthNoScores
}

// Authenticator is the authentication collaborator's interface (spec §6).
type Authenticator interface {
	Authenticate(p *Player, loginPayload []byte, done func(AuthResult))
}

// transition describes one legal edge of the lifecycle graph (spec §4.5).
type transition struct{ from, to State }

var legalTransitions = map[transition]bool{}

func allow(from, to State) { legalTransitions[transition{from, to}] = true }

func init() {
	allow(StateUninitialized, StateConnected)
	allow(StateConnected, StateNeedAuth)
	allow(StateNeedAuth, StateWaitAuth)
	allow(StateWaitAuth, StateConnected) // auth failed
	allow(StateWaitAuth, StateNeedGlobalSync)
	allow(StateNeedGlobalSync, StateWaitGlobalSync1)
	allow(StateWaitGlobalSync1, StateDoGlobalCallbacks)
	allow(StateDoGlobalCallbacks, StateSendLoginResponse)
	allow(StateSendLoginResponse, StateLoggedIn)

	allow(StateLoggedIn, StateDoFreqAndArenaSync)
	allow(StateDoFreqAndArenaSync, StateWaitArenaSync1)
	allow(StateWaitArenaSync1, StateArenaRespAndCbs)
	allow(StateArenaRespAndCbs, StatePlaying)
	allow(StatePlaying, StateLeavingArena)
	allow(StateLeavingArena, StateDoArenaSync2)
	allow(StateDoArenaSync2, StateWaitArenaSync2)
	allow(StateWaitArenaSync2, StateLoggedIn)

	allow(StateLoggedIn, StateLeavingZone)
	allow(StateLeavingZone, StateWaitGlobalSync2)
	allow(StateWaitGlobalSync2, StateTimeWait)

	// A connection can be kicked mid-arena; LeaveArena/LeaveZone below
	// drive it back through the normal edges above, so no extra edges
	// are required here.
}

// CallbackPlayerStateChanged is the broker type-key fired on every legal
// transition, carrying (player, from, to).
const CallbackPlayerStateChanged = "player.state-changed"

// Machine drives the per-player lifecycle state machine of spec §4.5,
// firing broker callbacks to the collaborators that need to observe the
// progression (component #6 in spec §2's overview).
type Machine struct {
	root *broker.Broker

	mu      sync.Mutex
	pending map[int]bool // players currently mid-authenticate, for idempotency
}

// NewMachine binds a lifecycle machine to the zone-wide root broker.
func NewMachine(root *broker.Broker) *Machine {
	return &Machine{root: root, pending: make(map[int]bool)}
}

func (m *Machine) transition(p *Player, to State) error {
	p.mu.Lock()
	from := p.state
	if !legalTransitions[transition{from, to}] {
		p.mu.Unlock()
		return fmt.Errorf("player %d: illegal transition %s -> %s", p.ID, from, to)
	}
	p.state = to
	p.mu.Unlock()

	m.root.FireCallback(CallbackPlayerStateChanged, p, from, to)
	return nil
}

// ReceivedLogin moves a connected player to need-auth once its login
// sub-packet is fully received and length-validated (spec §4.5); the
// caller (transport's login handler) is responsible for the validation
// itself, this only records the transition.
func (m *Machine) ReceivedLogin(p *Player) error {
	return m.transition(p, StateNeedAuth)
}

// Authenticate hands the login payload to the authentication collaborator
// and advances the state machine when it calls back (spec §4.5, §6).
func (m *Machine) Authenticate(p *Player, auth Authenticator, payload []byte) error {
	if err := m.transition(p, StateWaitAuth); err != nil {
		return err
	}

	m.mu.Lock()
	m.pending[p.ID] = true
	m.mu.Unlock()

	auth.Authenticate(p, payload, func(result AuthResult) {
		m.mu.Lock()
		delete(m.pending, p.ID)
		m.mu.Unlock()
		m.onAuthResult(p, result)
	})
	return nil
}

func (m *Machine) onAuthResult(p *Player, result AuthResult) {
	if !result.Succeeded() {
		_ = m.transition(p, StateConnected)
		return
	}

	p.mu.Lock()
	p.Name = result.Name
	p.Squad = result.Squad
	p.Flags.Authenticated = true
	p.mu.Unlock()

	// spec §4.5's need-global-sync -> ... -> logged-in chain is a fixed
	// sequence of collaborator callback points with no branching of its
	// own; each step fires the matching callback so collaborators that
	// care (billing, persistent stats) can hook in without the core
	// knowing about them.
	for _, to := range []State{
		StateNeedGlobalSync, StateWaitGlobalSync1, StateDoGlobalCallbacks,
		StateSendLoginResponse, StateLoggedIn,
	} {
		if err := m.transition(p, to); err != nil {
			return
		}
	}
}

// EnterArena begins arena entry from logged-in, carrying the player through
// to playing (spec §4.5).
func (m *Machine) EnterArena(p *Player, arena *Arena) error {
	if err := m.transition(p, StateDoFreqAndArenaSync); err != nil {
		return err
	}
	p.setEnteringArena(arena)
	if err := m.transition(p, StateWaitArenaSync1); err != nil {
		return err
	}
	if err := m.transition(p, StateArenaRespAndCbs); err != nil {
		return err
	}
	if err := m.transition(p, StatePlaying); err != nil {
		return err
	}
	p.promoteArena()
	return nil
}

// LeaveArena is entered on client request, kick, or lagout (spec §4.5),
// carrying the player back to logged-in.
func (m *Machine) LeaveArena(p *Player) error {
	if err := m.transition(p, StateLeavingArena); err != nil {
		return err
	}
	if err := m.transition(p, StateDoArenaSync2); err != nil {
		return err
	}
	if err := m.transition(p, StateWaitArenaSync2); err != nil {
		return err
	}
	if err := m.transition(p, StateLoggedIn); err != nil {
		return err
	}
	p.clearArena()
	return nil
}

// LeaveZone begins final teardown from logged-in, ending in time-wait
// (spec §4.5). If the player is currently in an arena, the transport
// should call LeaveArena first.
func (m *Machine) LeaveZone(p *Player) error {
	if err := m.transition(p, StateLeavingZone); err != nil {
		return err
	}
	if err := m.transition(p, StateWaitGlobalSync2); err != nil {
		return err
	}
	return m.transition(p, StateTimeWait)
}

// Kick drives a player toward disposal: from playing it leaves the arena
// first, and from logged-in (including after that arena leave) it leaves the
// zone, ending in time-wait. A player in any other state is left where it
// is. This is what the lagout detection and the retry/out-list overload
// conditions of spec §4.5/§7 call, via Transport.Drop.
func (m *Machine) Kick(p *Player, reason string) {
	if p.State() == StatePlaying {
		_ = m.LeaveArena(p)
	}
	if p.State() == StateLoggedIn {
		_ = m.LeaveZone(p)
	}
}

// Dispose reports whether p has reached the terminal time-wait state and is
// therefore eligible for the connection record to be freed once no thread
// holds a reference to it (spec §3's lifecycle invariant).
func (m *Machine) Dispose(p *Player) bool {
	return p.State() == StateTimeWait
}
