package player

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gigamon-dev/zoneserver/internal/broker"
)

type fakeAuthenticator struct {
	result AuthResult
}

func (f fakeAuthenticator) Authenticate(p *Player, payload []byte, done func(AuthResult)) {
	done(f.result)
}

func newTestPlayer() *Player {
	return New(1, KindContinuum, &net.UDPAddr{}, "")
}

func TestReceivedLoginMovesToNeedAuth(t *testing.T) {
	m := NewMachine(broker.New())
	p := newTestPlayer()

	require.NoError(t, m.ReceivedLogin(p))
	require.Equal(t, StateNeedAuth, p.State())
}

func TestIllegalTransitionIsRejected(t *testing.T) {
	m := NewMachine(broker.New())
	p := newTestPlayer()

	err := m.EnterArena(p, &Arena{Name: "arena1"})
	require.Error(t, err)
	require.Equal(t, StateConnected, p.State())
}

func TestAuthenticateSuccessChainReachesLoggedIn(t *testing.T) {
	root := broker.New()
	m := NewMachine(root)
	p := newTestPlayer()

	var transitions []State
	root.RegisterCallback(CallbackPlayerStateChanged, func(args ...interface{}) {
		transitions = append(transitions, args[2].(State))
	})

	require.NoError(t, m.ReceivedLogin(p))
	auth := fakeAuthenticator{result: AuthResult{Code: AuthOK, Name: "fred"}}
	require.NoError(t, m.Authenticate(p, auth, []byte("login-payload")))

	require.Equal(t, StateLoggedIn, p.State())
	require.Equal(t, "fred", p.Name)
	require.True(t, p.Flags.Authenticated)
	require.Equal(t, []State{
		StateNeedAuth, StateWaitAuth, StateNeedGlobalSync, StateWaitGlobalSync1,
		StateDoGlobalCallbacks, StateSendLoginResponse, StateLoggedIn,
	}, transitions)
}

func TestAuthenticateFailureReturnsToConnected(t *testing.T) {
	m := NewMachine(broker.New())
	p := newTestPlayer()

	require.NoError(t, m.ReceivedLogin(p))
	auth := fakeAuthenticator{result: AuthResult{Code: AuthBadPassword}}
	require.NoError(t, m.Authenticate(p, auth, nil))

	require.Equal(t, StateConnected, p.State())
	require.False(t, p.Flags.Authenticated)
}

func loggedInPlayer(t *testing.T, m *Machine) *Player {
	t.Helper()
	p := newTestPlayer()
	require.NoError(t, m.ReceivedLogin(p))
	auth := fakeAuthenticator{result: AuthResult{Code: AuthOK, Name: "fred"}}
	require.NoError(t, m.Authenticate(p, auth, nil))
	require.Equal(t, StateLoggedIn, p.State())
	return p
}

func TestEnterAndLeaveArenaRoundTrips(t *testing.T) {
	m := NewMachine(broker.New())
	p := loggedInPlayer(t, m)
	arena := &Arena{Name: "arena1"}

	require.NoError(t, m.EnterArena(p, arena))
	require.Equal(t, StatePlaying, p.State())
	require.Equal(t, arena, p.CurrentArena())

	require.NoError(t, m.LeaveArena(p))
	require.Equal(t, StateLoggedIn, p.State())
	require.Nil(t, p.CurrentArena())
}

func TestLeaveZoneReachesTimeWait(t *testing.T) {
	m := NewMachine(broker.New())
	p := loggedInPlayer(t, m)

	require.NoError(t, m.LeaveZone(p))
	require.Equal(t, StateTimeWait, p.State())
	require.True(t, m.Dispose(p))
}

func TestKickFromPlayingLeavesArenaThenZone(t *testing.T) {
	m := NewMachine(broker.New())
	p := loggedInPlayer(t, m)
	require.NoError(t, m.EnterArena(p, &Arena{Name: "arena1"}))

	m.Kick(p, "test kick")
	require.Equal(t, StateTimeWait, p.State())
}

func TestExtraDataSlots(t *testing.T) {
	p := newTestPlayer()
	slot := AllocateSlot()

	_, ok := ExtraData[int](p, slot)
	require.False(t, ok)

	SetExtraData(p, slot, 42)
	v, ok := ExtraData[int](p, slot)
	require.True(t, ok)
	require.Equal(t, 42, v)

	p.ClearExtraData(slot)
	_, ok = ExtraData[int](p, slot)
	require.False(t, ok)
}

func TestValidName(t *testing.T) {
	require.True(t, ValidName("short"))
	require.False(t, ValidName(""))
	require.False(t, ValidName("this-name-is-way-too-long-for-the-limit"))
}
