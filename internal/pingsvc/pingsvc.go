// Package pingsvc implements the zone-wide ping responder of spec §6: a
// second UDP listener bound one port above each listening bucket's game
// socket, answering a 4-byte opaque timestamp probe with an 8-byte reply
// carrying the current population. Grounded on the teacher's
// pkg/raknet/protocol.go request/reply shape, rewritten against
// wire.EncodePingReply; rate-limited with golang.org/x/time/rate since this
// is the one place in the core a simple fixed-rate limiter (rather than the
// adaptive per-connection bandwidth.Limiter of spec §4.4) is the right fit,
// an unauthenticated, connectionless responder that must survive being
// flooded without its own congestion state.
package pingsvc

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/gigamon-dev/zoneserver/internal/wire"
	"github.com/gigamon-dev/zoneserver/internal/zlog"
)

// PopulationFunc reports the current population to stamp into replies.
type PopulationFunc func() uint32

// Responder serves one bucket's ping socket.
type Responder struct {
	socket     *net.UDPConn
	population func() uint32
	limiter    *rate.Limiter

	served uint64
	throttled uint64
}

// New binds a ping responder at bindAddr:port, rate-limited to
// ratePerSecond requests/sec with a burst of the same size.
func New(bindAddr string, port int, ratePerSecond int, population PopulationFunc) (*Responder, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(bindAddr, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	sock, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 1000
	}
	return &Responder{
		socket:     sock,
		population: population,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond),
	}, nil
}

// Run services the ping socket until ctx is cancelled.
func (r *Responder) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = r.socket.Close()
	}()

	buf := make([]byte, 64)
	for {
		n, addr, err := r.socket.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			zlog.Warnf("pingsvc: read from %s: %v", r.socket.LocalAddr(), err)
			continue
		}
		if n < wire.PingRequestLen {
			continue
		}
		if !r.limiter.Allow() {
			atomic.AddUint64(&r.throttled, 1)
			continue
		}
		reply := wire.EncodePingReply(r.population(), buf[:wire.PingRequestLen])
		if _, err := r.socket.WriteToUDP(reply, addr); err != nil {
			zlog.Warnf("pingsvc: write to %s: %v", addr, err)
			continue
		}
		atomic.AddUint64(&r.served, 1)
	}
}

// Close stops the responder's socket directly, for callers not using Run's
// context-driven shutdown.
func (r *Responder) Close() error { return r.socket.Close() }

// Served reports how many ping requests have been answered.
func (r *Responder) Served() uint64 { return atomic.LoadUint64(&r.served) }

// Throttled reports how many ping requests were dropped by the rate limiter.
func (r *Responder) Throttled() uint64 { return atomic.LoadUint64(&r.throttled) }

// RefreshInterval is a typed helper for wiring PingDataRefreshMS into a
// time.Duration at the call site (spec §6).
func RefreshInterval(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
