package broker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterInterfaceLIFOOverride(t *testing.T) {
	b := New()
	b.RegisterInterface("Stats", "", "v1")
	b.RegisterInterface("Stats", "", "v2")

	got, release, ok := b.GetInterface("Stats", "")
	require.True(t, ok)
	require.Equal(t, "v2", got)
	release()
}

func TestUnregisterInterfaceFailsWhileHeld(t *testing.T) {
	b := New()
	b.RegisterInterface("Stats", "", "v1")

	_, release, ok := b.GetInterface("Stats", "")
	require.True(t, ok)

	unregistered, held := b.UnregisterInterface("Stats", "", "v1")
	require.False(t, unregistered)
	require.Equal(t, 1, held)

	release()
	unregistered, _ = b.UnregisterInterface("Stats", "", "v1")
	require.True(t, unregistered)
}

func TestChildFallsBackToParentInterface(t *testing.T) {
	root := New()
	root.RegisterInterface("Auth", "", "root-impl")

	child := root.NewChild()
	got, release, ok := child.GetInterface("Auth", "")
	require.True(t, ok)
	require.Equal(t, "root-impl", got)
	release()
}

func TestChildOverridesParentInterface(t *testing.T) {
	root := New()
	root.RegisterInterface("Auth", "", "root-impl")
	child := root.NewChild()
	child.RegisterInterface("Auth", "", "child-impl")

	got, release, ok := child.GetInterface("Auth", "")
	require.True(t, ok)
	require.Equal(t, "child-impl", got)
	release()
}

func TestFireCallbackOrderThenParent(t *testing.T) {
	root := New()
	child := root.NewChild()

	var order []string
	child.RegisterCallback("event", func(args ...interface{}) { order = append(order, "child-1") })
	child.RegisterCallback("event", func(args ...interface{}) { order = append(order, "child-2") })
	root.RegisterCallback("event", func(args ...interface{}) { order = append(order, "root") })

	child.FireCallback("event")
	require.Equal(t, []string{"child-1", "child-2", "root"}, order)
}

func TestAdvisorTokenIsSingleUse(t *testing.T) {
	b := New()
	unregister := b.RegisterAdvisor("Killer", "advisor-1")
	require.Len(t, b.GetAdvisors("Killer"), 1)

	unregister()
	require.Empty(t, b.GetAdvisors("Killer"))

	// second call is a no-op, not a panic or double-removal of something else
	unregister()
}

func TestGetAdvisorsUnionsParentChain(t *testing.T) {
	root := New()
	root.RegisterAdvisor("Killer", "root-advisor")
	child := root.NewChild()
	child.RegisterAdvisor("Killer", "child-advisor")

	advisors := child.GetAdvisors("Killer")
	require.ElementsMatch(t, []interface{}{"root-advisor", "child-advisor"}, advisors)
}
