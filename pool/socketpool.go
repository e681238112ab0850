package pool

import (
	"net"
	"sync"
	"time"

	"github.com/henrikschroder/beitmemcached/mcerr"
)

// Counters tallies the lifetime events of a SocketPool. All fields are
// snapshotted together under the pool's lock by Stats, so a caller never
// sees a torn read across fields, matching a preference for
// named per-pool counters over a single opaque "errors" tally.
type Counters struct {
	NewSockets      uint64
	FailedNewSocket uint64
	Reused          uint64
	DiedInPool      uint64
	DiedOnReturn    uint64
	DirtyOnReturn   uint64
}

// livenessState is the server-level state machine a SocketPool drives: a
// server starts Alive, and a failed dial moves it to Dead until a deadline,
// after which the next Acquire is allowed one retry attempt.
type livenessState int

const (
	alive livenessState = iota
	dead
)

// SocketPool bounds and reuses the connections to a single server address.
// Its locking discipline -- one mutex guarding only bookkeeping, never I/O
// -- is grounded on resource_pool.SimpleResourcePool; the Dead/backoff state
// machine and the named counters above it are additions the pool
// does not have.
type SocketPool struct {
	addr string
	opts Options

	mu         sync.Mutex
	idle       []*PooledConnection // LIFO: idle[len-1] is the most recently returned
	numActive  int
	state      livenessState
	deadUntil  time.Time
	counters   Counters
}

// NewSocketPool constructs a pool for one server address. The pool starts
// Alive and empty; connections are dialed lazily on first Acquire, not
// pre-warmed, matching SimpleResourcePool's lazy-fill behavior.
func NewSocketPool(addr string, opts Options) (*SocketPool, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &SocketPool{
		addr:  addr,
		opts:  opts,
		state: alive,
	}, nil
}

// Addr returns the server address this pool manages.
func (p *SocketPool) Addr() string { return p.addr }

// Stats returns a snapshot of the pool's lifetime counters.
func (p *SocketPool) Stats() Counters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters
}

// Acquire returns a connection to use for exactly one command (or one
// pipelined batch), leased from the idle set if one is available and still
// alive, or freshly dialed otherwise. It fails fast with a Transport error,
// without attempting to dial, while the server is within its dead-backoff
// window.
func (p *SocketPool) Acquire() (*PooledConnection, error) {
	now := p.opts.now()

	p.mu.Lock()
	if p.state == dead {
		if now.Before(p.deadUntil) {
			p.mu.Unlock()
			return nil, mcerr.WrapTransport(
				errDeadServer, "pool: "+p.addr+" is in dead-server backoff")
		}
		// Backoff window elapsed: allow exactly one retry attempt through.
	}
	for len(p.idle) > 0 {
		conn := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		p.mu.Unlock()

		if !conn.IsAlive() {
			p.mu.Lock()
			p.counters.DiedInPool++
			p.mu.Unlock()
			_ = conn.Close()
			p.mu.Lock()
			continue
		}
		p.mu.Lock()
		p.numActive++
		p.counters.Reused++
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	conn, err := p.dial(now)
	if err != nil {
		p.mu.Lock()
		p.counters.FailedNewSocket++
		p.state = dead
		p.deadUntil = now.Add(p.opts.DeadServerRetryInterval)
		p.mu.Unlock()
		return nil, mcerr.WrapTransport(err, "pool: dial "+p.addr+" failed")
	}

	p.mu.Lock()
	p.state = alive
	p.numActive++
	p.counters.NewSockets++
	p.mu.Unlock()
	return conn, nil
}

func (p *SocketPool) dial(now time.Time) (*PooledConnection, error) {
	dialFn := p.opts.Dial
	if dialFn == nil {
		dialFn = func(addr string) (Conn, error) {
			return net.DialTimeout("tcp", addr, p.opts.SendReceiveTimeout)
		}
	}
	raw, err := dialFn(p.addr)
	if err != nil {
		return nil, err
	}
	return newPooledConnection(raw, p.addr, p.opts.SendReceiveTimeout, p.opts.now, p, now), nil
}

// release is invoked by PooledConnection.Release. It decides whether the
// connection goes back into the idle set or is discarded, following -- in
// order -- explicit-close, fault, leftover-bytes, pool-already-full, and
// recycle-age checks; a connection surviving all of them is pushed onto the
// idle LIFO so the most recently used (most likely to still be warm at the
// OS/network level) is handed out first.
func (p *SocketPool) release(conn *PooledConnection) {
	p.mu.Lock()
	p.numActive--
	p.mu.Unlock()

	if conn.explicitlyClosed || conn.faulted {
		p.mu.Lock()
		p.counters.DiedOnReturn++
		p.mu.Unlock()
		_ = conn.Close()
		return
	}

	if conn.HasPendingInput() {
		p.mu.Lock()
		p.counters.DirtyOnReturn++
		p.mu.Unlock()
		_ = conn.Close()
		return
	}

	p.mu.Lock()
	full := len(p.idle) >= p.opts.MaxPoolSize
	overAge := !full && len(p.idle) >= p.opts.MinPoolSize &&
		p.opts.SocketRecycleAge > 0 &&
		p.opts.now().Sub(conn.created) > p.opts.SocketRecycleAge
	if !full && !overAge {
		p.idle = append(p.idle, conn)
	}
	p.mu.Unlock()

	if full || overAge {
		_ = conn.Close()
	}
}

// NumActive returns the number of connections currently leased out.
func (p *SocketPool) NumActive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numActive
}

// NumIdle returns the number of connections currently sitting in the idle
// set.
func (p *SocketPool) NumIdle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// IsDead reports whether the pool is currently within its dead-server
// backoff window.
func (p *SocketPool) IsDead() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == dead && p.opts.now().Before(p.deadUntil)
}

// Close discards every idle connection. Connections currently leased out
// are unaffected; they will be discarded individually as their leases are
// released, since the pool they would otherwise return to has nothing left
// to keep them in.
func (p *SocketPool) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, conn := range idle {
		_ = conn.Close()
	}
}

type deadServerError struct{}

func (deadServerError) Error() string { return "server is in dead-server backoff" }

var errDeadServer = deadServerError{}
