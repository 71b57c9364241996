package capability

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gigamon-dev/zoneserver/internal/broker"
	"github.com/gigamon-dev/zoneserver/internal/player"
)

func TestInMemoryRegistryNewAndFreePlayer(t *testing.T) {
	machine := player.NewMachine(broker.New())
	reg := NewInMemoryRegistry(machine)

	p := reg.NewPlayer(player.KindContinuum)
	require.Equal(t, 1, reg.Count())

	got, ok := reg.Get(p.ID)
	require.True(t, ok)
	require.Same(t, p, got)

	reg.FreePlayer(p)
	require.Equal(t, 0, reg.Count())
	_, ok = reg.Get(p.ID)
	require.False(t, ok)
}

func TestInMemoryRegistryAssignsIncreasingIDs(t *testing.T) {
	machine := player.NewMachine(broker.New())
	reg := NewInMemoryRegistry(machine)

	a := reg.NewPlayer(player.KindVIE)
	b := reg.NewPlayer(player.KindVIE)
	require.Less(t, a.ID, b.ID)
}

func TestInMemoryRegistryForEachVisitsAllPlayers(t *testing.T) {
	machine := player.NewMachine(broker.New())
	reg := NewInMemoryRegistry(machine)
	reg.NewPlayer(player.KindVIE)
	reg.NewPlayer(player.KindContinuum)

	seen := 0
	reg.ForEach(func(p *player.Player) { seen++ })
	require.Equal(t, 2, seen)
}

func TestInMemoryRegistryKickPlayerLeavesConnectedPlayerInPlace(t *testing.T) {
	machine := player.NewMachine(broker.New())
	reg := NewInMemoryRegistry(machine)
	p := reg.NewPlayer(player.KindVIE)

	reg.KickPlayer(p)
	require.Equal(t, player.StateConnected, p.State())
}
