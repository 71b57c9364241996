package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gigamon-dev/zoneserver/internal/bandwidth"
	"github.com/gigamon-dev/zoneserver/internal/broker"
	"github.com/gigamon-dev/zoneserver/internal/capability"
	"github.com/gigamon-dev/zoneserver/internal/crypto"
	"github.com/gigamon-dev/zoneserver/internal/metrics"
	"github.com/gigamon-dev/zoneserver/internal/player"
	"github.com/gigamon-dev/zoneserver/internal/reliable"
	"github.com/gigamon-dev/zoneserver/internal/wire"
	"github.com/gigamon-dev/zoneserver/internal/zlog"
	"github.com/gigamon-dev/zoneserver/internal/zoneconfig"
	"golang.org/x/sync/errgroup"
)

// TypeHandler handles one decoded game-layer payload (first byte != 0x00).
type TypeHandler func(conn *Connection, payload []byte)

// SizedSink receives a completed or in-progress sized transfer's chunks,
// bound to a type byte via RegisterSizedTypeHandler.
type SizedSink func(conn *Connection, offset, total uint32, payload []byte)

// NewLimiter builds the bandwidth.Limiter a new connection should start
// with, from the zone's Bandwidth config (spec §4.4, §6).
type NewLimiter func() bandwidth.Limiter

// ErrOutOfSlots names the out-of-slots condition (spec §6). acceptNew does
// not return it: when the registry already holds MaxPlayers players it
// answers the peer with the 00 07 reply and creates no connection.
var ErrOutOfSlots = errors.New("transport: out of slots")

// Bucket is one bound listening bucket: the game socket plus acceptance
// policy (spec §3, §6). The ping socket one port above is bound separately
// by internal/pingsvc.
type Bucket struct {
	cfg    zoneconfig.ListenBucket
	socket *net.UDPConn
	maxSlots int
}

// Transport owns the game UDP sockets, the connection table, and the
// per-connection send scheduler goroutines (spec §4.1, §4.3). Grounded on
// the teacher's source/server.Server, which owns the single listening
// socket and the session map; generalized here to many listening buckets
// and a connection record with five priority queues instead of one.
type Transport struct {
	cfg     zoneconfig.Net
	bwcfg   zoneconfig.Bandwidth
	broker  *broker.Broker
	machine *player.Machine
	players capability.PlayerRegistry
	newLimiter NewLimiter

	mu      sync.RWMutex
	conns   map[string]*Connection // remote addr string -> connection
	buckets []*Bucket

	typeHandlers      map[byte]TypeHandler
	sizedTypeHandlers map[byte]SizedSink

	keySeq uint32

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a transport bound to the collaborators that own
// lifecycle, registry, and bandwidth policy (spec §2's wiring diagram).
func New(cfg zoneconfig.Config, b *broker.Broker, machine *player.Machine, players capability.PlayerRegistry, newLimiter NewLimiter) *Transport {
	return &Transport{
		cfg:               cfg.Net,
		bwcfg:             cfg.Bandwidth,
		broker:            b,
		machine:           machine,
		players:           players,
		newLimiter:        newLimiter,
		conns:             make(map[string]*Connection),
		typeHandlers:      make(map[byte]TypeHandler),
		sizedTypeHandlers: make(map[byte]SizedSink),
	}
}

// RegisterTypeHandler binds a game-layer type byte to a handler (spec
// §4.1's "register type handler" operation). Re-registering the same byte
// replaces the previous handler.
func (t *Transport) RegisterTypeHandler(typeByte byte, h TypeHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.typeHandlers[typeByte] = h
}

// RegisterSizedTypeHandler binds a type byte to a sink for incoming
// presized transfers (spec §4.1's "register sized-type handler").
func (t *Transport) RegisterSizedTypeHandler(typeByte byte, sink SizedSink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sizedTypeHandlers[typeByte] = sink
}

// Listen binds one listening bucket's game socket (spec §3, §4.1, §6); its
// receive loop is started by Run, so Listen must be called before Run.
func (t *Transport) Listen(lb zoneconfig.ListenBucket) error {
	addr := fmt.Sprintf("%s:%d", lb.BindAddress, lb.Port)
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("transport: resolving %s: %w", addr, err)
	}
	sock, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("transport: listening on %s: %w", addr, err)
	}

	t.mu.Lock()
	t.buckets = append(t.buckets, &Bucket{cfg: lb, socket: sock, maxSlots: t.cfg.MaxPlayers})
	t.mu.Unlock()
	return nil
}

// Run starts the receive, send-scheduler, and reliable-sweep threads for
// every bound bucket (spec §4.1, §4.3, §5's threading model), returning
// once ctx is cancelled and every goroutine has exited.
func (t *Transport) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	t.ctx = ctx
	t.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)

	t.mu.RLock()
	buckets := append([]*Bucket{}, t.buckets...)
	t.mu.RUnlock()

	for _, b := range buckets {
		bucket := b
		g.Go(func() error { return t.receiveLoop(bucket) })
	}
	g.Go(func() error { return t.sendLoop(gctx) })
	g.Go(func() error { return t.sweepLoop(gctx) })

	return g.Wait()
}

// Stop signals every transport goroutine to exit and closes the bound
// sockets (spec §5's graceful-shutdown expectation).
func (t *Transport) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, b := range t.buckets {
		_ = b.socket.Close()
	}
}

func (t *Transport) receiveLoop(b *Bucket) error {
	buf := make([]byte, wire.MaxPacketSize+64)
	for {
		n, addr, err := b.socket.ReadFromUDP(buf)
		if err != nil {
			if isClosedErr(err) {
				return nil
			}
			zlog.Warnf("transport: read from %s: %v", b.socket.LocalAddr(), err)
			continue
		}
		t.dispatch(b, addr, append([]byte(nil), buf[:n]...))
	}
}

// dispatch implements spec §4.1 step 1-4: find-or-create connection,
// decrypt, classify by first byte, and route to the core sub-type table or
// a registered game-layer handler.
func (t *Transport) dispatch(b *Bucket, addr *net.UDPAddr, buf []byte) {
	conn, known := t.lookupConn(addr)

	if !known {
		t.acceptNew(b, addr, buf)
		return
	}

	conn.TouchReceived(len(buf))

	n, err := conn.Encryptor.Decrypt(crypto.ConnID(conn.Player.ID), buf, len(buf))
	if err != nil {
		zlog.Malicious("transport: decrypt failed for %s: %v", addr, err)
		metrics.MalformedDatagrams.WithLabelValues("decrypt").Inc()
		return
	}
	buf = buf[:n]

	t.handlePayload(conn, buf, 0)
}

// handlePayload dispatches one decoded payload, recursing for Grouped
// sub-items with a depth guard (spec §4.1's nested-grouped rejection).
func (t *Transport) handlePayload(conn *Connection, buf []byte, depth int) {
	if len(buf) == 0 {
		return
	}
	if buf[0] != wire.ProtocolType {
		t.mu.RLock()
		h, ok := t.typeHandlers[buf[0]]
		t.mu.RUnlock()
		if !ok {
			zlog.Malicious("transport: no handler for game-layer type 0x%02x from player %d", buf[0], conn.Player.ID)
			metrics.MalformedDatagrams.WithLabelValues("unknown-type").Inc()
			return
		}
		h(conn, buf)
		return
	}
	if len(buf) < 2 {
		metrics.MalformedDatagrams.WithLabelValues("short-core").Inc()
		return
	}
	t.handleCore(conn, buf[1], buf[2:], depth)
}

func (t *Transport) handleCore(conn *Connection, sub byte, rest []byte, depth int) {
	switch sub {
	case wire.SubReliable:
		t.handleReliable(conn, rest)
	case wire.SubAck:
		t.handleAck(conn, rest)
	case wire.SubBigChunk, wire.SubBigFinal:
		t.handleBig(conn, sub, rest, depth)
	case wire.SubPresizedData:
		t.handlePresized(conn, rest, depth)
	case wire.SubCancelRequest:
		t.Submit(conn, wire.EncodeCancelAck(), false, false, false, bandwidth.Ack)
		conn.reassemblyMu.Lock()
		conn.presized.Cancel()
		conn.reassemblyMu.Unlock()
	case wire.SubCancelAck:
		conn.reassemblyMu.Lock()
		conn.presized.Cancel()
		conn.reassemblyMu.Unlock()
	case wire.SubGrouped:
		if depth >= wire.MaxGroupedDepth {
			zlog.Malicious("transport: nested grouped packet from player %d rejected", conn.Player.ID)
			metrics.MalformedDatagrams.WithLabelValues("nested-grouped").Inc()
			return
		}
		items, err := wire.DecodeGrouped(rest)
		if err != nil {
			zlog.Malicious("transport: malformed grouped packet from player %d: %v", conn.Player.ID, err)
			metrics.MalformedDatagrams.WithLabelValues("grouped-overflow").Inc()
			return
		}
		for _, item := range items {
			t.handlePayload(conn, item, depth+1)
		}
	case wire.SubDisconnect:
		t.Drop(conn, "client disconnect")
	default:
		zlog.Malicious("transport: unknown core sub-type 0x%02x from player %d", sub, conn.Player.ID)
		metrics.MalformedDatagrams.WithLabelValues("unknown-subtype").Inc()
	}
}

func (t *Transport) handleReliable(conn *Connection, rest []byte) {
	if len(rest) < 4 {
		metrics.MalformedDatagrams.WithLabelValues("reliable-short").Inc()
		return
	}
	seq := binary.LittleEndian.Uint32(rest[:4])
	payload := rest[4:]

	conn.windowMu.Lock()
	outcome, deliverable := conn.window.Accept(seq, payload)
	conn.windowMu.Unlock()

	// An ack is owed for Accepted and Duplicate alike (spec §4.1 step 3);
	// only OutOfWindow is dropped silently.
	switch outcome {
	case reliable.Accepted, reliable.Duplicate:
		t.Submit(conn, wire.EncodeAck(seq), false, false, true, bandwidth.Ack)
	case reliable.OutOfWindow:
		return
	}
	if outcome == reliable.Duplicate {
		metrics.DuplicateReliable.Inc()
	}

	for _, item := range deliverable {
		t.handlePayload(conn, item, 0)
	}
}

func (t *Transport) handleAck(conn *Connection, rest []byte) {
	if len(rest) < 4 {
		metrics.MalformedDatagrams.WithLabelValues("ack-short").Inc()
		return
	}
	seq := binary.LittleEndian.Uint32(rest[:4])
	now := time.Now()

	conn.outListMu.Lock()
	pending, rtt, found := conn.outgoing.Ack(seq, now)
	conn.outListMu.Unlock()

	if !found {
		return
	}
	_ = pending
	conn.outgoing.RTT.Sample(rtt)
	conn.Limiter.AdjustForAck()
}

func (t *Transport) handleBig(conn *Connection, sub byte, payload []byte, depth int) {
	conn.reassemblyMu.Lock()
	var (
		assembled []byte
		err       error
		final     = sub == wire.SubBigFinal
	)
	if final {
		assembled, err = conn.big.Finish(payload)
	} else {
		err = conn.big.AppendChunk(payload)
	}
	conn.reassemblyMu.Unlock()

	if err != nil {
		zlog.Malicious("transport: big-packet reassembly for player %d: %v", conn.Player.ID, err)
		metrics.MalformedDatagrams.WithLabelValues("big-overflow").Inc()
		return
	}
	if final {
		t.handlePayload(conn, assembled, depth+1)
	}
}

func (t *Transport) handlePresized(conn *Connection, raw []byte, depth int) {
	conn.reassemblyMu.Lock()
	typeByte := conn.incomingSizedType
	has := conn.hasIncomingSized
	conn.reassemblyMu.Unlock()
	if !has {
		zlog.Malicious("transport: presized data from player %d with no bound sink", conn.Player.ID)
		metrics.MalformedDatagrams.WithLabelValues("presized-unbound").Inc()
		return
	}

	t.mu.RLock()
	sink, ok := t.sizedTypeHandlers[typeByte]
	t.mu.RUnlock()
	if !ok {
		return
	}

	conn.reassemblyMu.Lock()
	err := conn.presized.Feed(raw, func(offset, total uint32, payload []byte) {
		conn.reassemblyMu.Unlock()
		sink(conn, offset, total, payload)
		conn.reassemblyMu.Lock()
	})
	done := conn.presized.Done()
	conn.reassemblyMu.Unlock()

	if err != nil {
		zlog.Malicious("transport: presized reassembly for player %d: %v", conn.Player.ID, err)
		metrics.MalformedDatagrams.WithLabelValues("presized-malformed").Inc()
		return
	}
	if done {
		conn.reassemblyMu.Lock()
		conn.hasIncomingSized = false
		conn.reassemblyMu.Unlock()
	}
}

// BeginIncomingSized arms a connection to accept a presized transfer of the
// given type, the out-of-band step a game-layer handler takes before the
// client starts sending 0x00 0x0A frames (spec §4.1's presized section
// names no negotiation mechanism; this mirrors how the big-packet sink is
// selected by the first reassembled byte, applied up front since presized
// payloads carry no type discriminant of their own).
func (t *Transport) BeginIncomingSized(conn *Connection, typeByte byte) {
	conn.reassemblyMu.Lock()
	conn.incomingSizedType = int(typeByte)
	conn.hasIncomingSized = true
	conn.presized = wire.PresizedAssembler{}
	conn.reassemblyMu.Unlock()
}

func (t *Transport) lookupConn(addr *net.UDPAddr) (*Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[addr.String()]
	return c, ok
}

// acceptNew handles a connection-init from an unknown endpoint (spec §3's
// lifecycle start, §6's KeyInit/KeyResponse/out-of-slots handshake).
func (t *Transport) acceptNew(b *Bucket, addr *net.UDPAddr, buf []byte) {
	key, kind, ok := wire.DecodeKeyInit(buf)
	if !ok {
		metrics.MalformedDatagrams.WithLabelValues("bad-keyinit").Inc()
		return
	}

	clientKind := player.KindFake
	switch kind {
	case wire.ClientKindVIE:
		if !b.cfg.AllowVIE {
			return
		}
		clientKind = player.KindVIE
	case wire.ClientKindContinuum:
		if !b.cfg.AllowCont {
			return
		}
		clientKind = player.KindContinuum
	}

	if b.maxSlots > 0 && t.players.Count() >= b.maxSlots {
		_, _ = b.socket.WriteToUDP(wire.EncodeOutOfSlots(), addr)
		return
	}

	p := t.players.NewPlayer(clientKind)
	p.RemoteAddr = addr
	p.ConnectAs = b.cfg.ConnectAs

	conn := NewConnection(p, addr, b.socket, crypto.Nop(), t.newLimiter(), reliable.DefaultWindowSize)

	t.mu.Lock()
	t.conns[addr.String()] = conn
	t.mu.Unlock()

	metrics.Connections.Inc()
	zlog.For(p.ID, addr.String()).Infof("transport: accepted connection, kind=%s key=0x%x", clientKind, key)

	t.Submit(conn, wire.EncodeKeyResponse(key), false, false, true, bandwidth.Ack)
}

// Submit queues an outbound payload for conn in the scheduler of spec §4.3.
// Reliable packets are assigned the next sequence and tracked solely in the
// out-list (its Pending.Attempts/LastAttempt drive both the first send and
// every retransmit, so there is no separate one-shot queue entry for them);
// everything else is a one-shot send from its priority class's queue.
func (t *Transport) Submit(conn *Connection, payload []byte, reliableFlag, droppable, urgent bool, pri bandwidth.Priority) {
	if reliableFlag {
		conn.outListMu.Lock()
		seq := conn.outgoing.NextSeq()
		wrapped := wire.EncodeReliable(seq, payload)
		conn.outgoing.Enqueue(seq, wrapped)
		conn.outListMu.Unlock()
		return
	}
	conn.Enqueue(&Outbound{Bytes: payload, Droppable: droppable, Urgent: urgent, Priority: pri})
}

// SubmitSized queues a large transfer for reliable, ordered delivery in
// chunkSize pieces, gated by the PresizedQueueThreshold/PresizedQueuePackets
// admission policy of spec §4.1 (its exact gating logic lives in the send
// scheduler's refillSizedLocked, since it must run on every scheduler tick rather
// than once at submission time).
func (t *Transport) SubmitSized(conn *Connection, total uint32, source func(maxLen int) (chunk []byte, final bool), chunkSize int) {
	conn.outListMu.Lock()
	first := true
	for {
		chunk, final := source(chunkSize)
		if len(chunk) == 0 && !final {
			break
		}
		var wrapped []byte
		if first {
			wrapped = wire.EncodePresizedFirst(total, chunk)
			first = false
		} else {
			wrapped = wire.EncodePresizedChunk(chunk)
		}
		conn.sizedQueue = append(conn.sizedQueue, sizedChunk{bytes: wrapped, first: first})
		if final {
			break
		}
	}
	conn.outListMu.Unlock()
}

// Drop tears down a connection record: disposes the player through the
// lifecycle machine, voids its encryptor state, and removes it from the
// connection table (spec §3's lifecycle end, §4.5's Kick/Dispose).
func (t *Transport) Drop(conn *Connection, reason string) {
	t.mu.Lock()
	if conn.kicked {
		t.mu.Unlock()
		return
	}
	conn.kicked = true
	delete(t.conns, conn.Addr.String())
	t.mu.Unlock()

	zlog.For(conn.Player.ID, conn.Addr.String()).Infof("transport: dropping connection: %s", reason)
	t.machine.Kick(conn.Player, reason)
	conn.Encryptor.Void(crypto.ConnID(conn.Player.ID))
	t.players.FreePlayer(conn.Player)
	metrics.Connections.Dec()
}

func isClosedErr(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return !ne.Timeout() && !ne.Temporary()
	}
	return false
}
