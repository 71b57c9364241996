package transport

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gigamon-dev/zoneserver/internal/bandwidth"
	"github.com/gigamon-dev/zoneserver/internal/broker"
	"github.com/gigamon-dev/zoneserver/internal/capability"
	"github.com/gigamon-dev/zoneserver/internal/player"
	"github.com/gigamon-dev/zoneserver/internal/wire"
	"github.com/gigamon-dev/zoneserver/internal/zoneconfig"
)

func testTransport(t *testing.T) (*Transport, *net.UDPAddr) {
	t.Helper()
	cfg := zoneconfig.Defaults()
	cfg.Net.MaxRetries = 5

	root := broker.New()
	machine := player.NewMachine(root)
	registry := capability.NewInMemoryRegistry(machine)

	tr := New(cfg, root, machine, registry, func() bandwidth.Limiter { return bandwidth.NewNoLimit() })

	require.NoError(t, tr.Listen(zoneconfig.ListenBucket{
		Port: 0, BindAddress: "127.0.0.1", AllowVIE: true, AllowCont: true,
	}))

	addr := tr.buckets[0].socket.LocalAddr().(*net.UDPAddr)

	go func() { _ = tr.Run() }()
	t.Cleanup(tr.Stop)

	return tr, addr
}

func dialClient(t *testing.T, serverAddr *net.UDPAddr) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, serverAddr)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHandshakeGrantsKeyResponse(t *testing.T) {
	_, addr := testTransport(t)
	client := dialClient(t, addr)

	_, err := client.Write(wire.EncodeKeyInit(0x1234, wire.ClientKindContinuum))
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := client.Read(buf)
	require.NoError(t, err)

	key, ok := func() (uint32, bool) {
		if n != 6 || buf[0] != wire.ProtocolType || buf[1] != wire.SubKeyResponse {
			return 0, false
		}
		return (uint32(buf[2]) | uint32(buf[3])<<8 | uint32(buf[4])<<16 | uint32(buf[5])<<24), true
	}()
	require.True(t, ok)
	require.Equal(t, uint32(0x1234), key)
}

func TestReliablePayloadDispatchedAndAcked(t *testing.T) {
	tr, addr := testTransport(t)

	var mu sync.Mutex
	var got []byte
	received := make(chan struct{}, 1)
	tr.RegisterTypeHandler(0x50, func(conn *Connection, payload []byte) {
		mu.Lock()
		got = append([]byte(nil), payload...)
		mu.Unlock()
		received <- struct{}{}
	})

	client := dialClient(t, addr)
	_, err := client.Write(wire.EncodeKeyInit(0x1, wire.ClientKindContinuum))
	require.NoError(t, err)
	buf := make([]byte, 64)
	_, err = client.Read(buf) // KeyResponse
	require.NoError(t, err)

	payload := []byte{0x50, 'h', 'i'}
	_, err = client.Write(wire.EncodeReliable(0, payload))
	require.NoError(t, err)

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}

	mu.Lock()
	require.Equal(t, payload, got)
	mu.Unlock()

	n, err := client.Read(buf)
	require.NoError(t, err)
	seq, ok := wire.DecodeAck(buf[:n])
	require.True(t, ok)
	require.Equal(t, uint32(0), seq)
}

func TestGroupedPacketDispatchesEachItem(t *testing.T) {
	tr, addr := testTransport(t)

	count := make(chan byte, 2)
	tr.RegisterTypeHandler(0x60, func(conn *Connection, payload []byte) { count <- payload[0] })
	tr.RegisterTypeHandler(0x61, func(conn *Connection, payload []byte) { count <- payload[0] })

	client := dialClient(t, addr)
	_, err := client.Write(wire.EncodeKeyInit(0x2, wire.ClientKindContinuum))
	require.NoError(t, err)
	buf := make([]byte, 64)
	_, err = client.Read(buf)
	require.NoError(t, err)

	env, err := wire.EncodeGrouped([]wire.GroupedItem{
		{0x60, 'a'},
		{0x61, 'b'},
	})
	require.NoError(t, err)
	_, err = client.Write(env)
	require.NoError(t, err)

	seen := map[byte]bool{}
	for i := 0; i < 2; i++ {
		select {
		case b := <-count:
			seen[b] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for grouped item %d", i)
		}
	}
	require.True(t, seen[0x60])
	require.True(t, seen[0x61])
}

func TestNestedGroupedPacketIsRejected(t *testing.T) {
	tr, addr := testTransport(t)

	called := false
	tr.RegisterTypeHandler(0x70, func(conn *Connection, payload []byte) { called = true })

	client := dialClient(t, addr)
	_, err := client.Write(wire.EncodeKeyInit(0x3, wire.ClientKindContinuum))
	require.NoError(t, err)
	buf := make([]byte, 64)
	_, err = client.Read(buf)
	require.NoError(t, err)

	inner, err := wire.EncodeGrouped([]wire.GroupedItem{{0x70}})
	require.NoError(t, err)
	outer, err := wire.EncodeGrouped([]wire.GroupedItem{wire.GroupedItem(inner)})
	require.NoError(t, err)
	_, err = client.Write(outer)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.False(t, called)
}
